package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openzim/mwoffliner/internal/logger"
	"github.com/openzim/mwoffliner/pkg/config"
	"github.com/openzim/mwoffliner/pkg/dump"
	"github.com/openzim/mwoffliner/pkg/metrics"
)

var (
	flagMwURL       string
	flagAdminEmail  string
	flagArticleList string
	flagOutputDir   string
	flagFormat      []string
	flagSpeed       int
	flagVerbose     bool
	flagResume      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Produce offline archives of a wiki",
	Long: `Run a full archiving pass: enumerate titles, save and rewrite every
article, download and optimize the referenced media, and build one
archive per configured dump variant.

Every option can also be set in the config file or through
MWOFFLINER_* environment variables; flags win.

Examples:
  # Archive a whole wiki
  mwoffliner run --mw-url https://bm.wikipedia.org/ --admin-email you@example.com

  # Archive a title selection, pictureless
  mwoffliner run --mw-url https://en.wikivoyage.org/ --admin-email you@example.com \
    --article-list titles.txt --format nopic`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&flagMwURL, "mw-url", "", "base URL of the wiki to mirror (required unless configured)")
	runCmd.Flags().StringVar(&flagAdminEmail, "admin-email", "", "contact email advertised in the User-Agent (required unless configured)")
	runCmd.Flags().StringVar(&flagArticleList, "article-list", "", "file with one title per line (default: crawl all content namespaces)")
	runCmd.Flags().StringVar(&flagOutputDir, "output-directory", "", "directory receiving the final archives")
	runCmd.Flags().StringSliceVar(&flagFormat, "format", nil, "dump variants to produce (subsets of nopic,nozim joined by +)")
	runCmd.Flags().IntVar(&flagSpeed, "speed", 0, "concurrency multiplier on the CPU count")
	runCmd.Flags().BoolVar(&flagVerbose, "verbose", false, "log at DEBUG level")
	runCmd.Flags().BoolVar(&flagResume, "resume", false, "skip variants whose archive already exists")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadLax(cfgFile)
	if err != nil {
		return err
	}
	applyFlags(cfg)
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Warn("interrupt received, aborting run")
		cancel()
	}()

	if cfg.Metrics.Enabled {
		srv := metrics.Serve(cfg.Metrics.Port)
		defer func() { _ = srv.Close() }()
		logger.Info("metrics listener up", "port", cfg.Metrics.Port)
	}

	runner, err := dump.New(ctx, cfg, Version)
	if err != nil {
		return err
	}
	return runner.Run(ctx)
}

// applyFlags overlays the set CLI flags on the loaded configuration.
func applyFlags(cfg *config.Config) {
	if flagMwURL != "" {
		cfg.MwURL = flagMwURL
	}
	if flagAdminEmail != "" {
		cfg.AdminEmail = flagAdminEmail
	}
	if flagArticleList != "" {
		cfg.ArticleList = flagArticleList
	}
	if flagOutputDir != "" {
		cfg.OutputDirectory = flagOutputDir
	}
	if len(flagFormat) > 0 {
		cfg.Format = flagFormat
	}
	if flagSpeed > 0 {
		cfg.Speed = flagSpeed
	}
	if flagVerbose {
		cfg.Verbose = true
		cfg.Logging.Level = "DEBUG"
	}
	if flagResume {
		cfg.Resume = true
	}
}
