// Package config defines the offliner run configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (MWOFFLINER_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// A Config is read-only once Load returns; every component receives it
// explicitly.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents a full offliner run configuration.
type Config struct {
	// MwURL is the base URL of the wiki to mirror, e.g. https://en.wikipedia.org/
	MwURL string `mapstructure:"mw_url" validate:"required,url" yaml:"mw_url"`

	// AdminEmail is advertised in the User-Agent header so wiki operators
	// can reach whoever runs the scrape. Mandatory and validated.
	AdminEmail string `mapstructure:"admin_email" validate:"required,email" yaml:"admin_email"`

	// MwWikiPath is the article path under MwURL. Default: wiki
	MwWikiPath string `mapstructure:"mw_wiki_path" yaml:"mw_wiki_path"`

	// MwApiPath is the api.php path under MwURL. Default: w/api.php
	MwApiPath string `mapstructure:"mw_api_path" yaml:"mw_api_path"`

	// MwUsername/MwPassword/MwDomain authenticate against private wikis.
	MwUsername string `mapstructure:"mw_username" yaml:"mw_username"`
	MwPassword string `mapstructure:"mw_password" yaml:"mw_password"`
	MwDomain   string `mapstructure:"mw_domain" yaml:"mw_domain"`

	// ParsoidURL overrides the default mobile-sections REST endpoint base.
	ParsoidURL string `mapstructure:"parsoid_url" yaml:"parsoid_url"`

	// ArticleList, when set, switches enumeration to file mode: one title
	// per line, UTF-8.
	ArticleList string `mapstructure:"article_list" yaml:"article_list"`

	// CustomMainPage forces the welcome article instead of siteinfo.mainpage.
	CustomMainPage string `mapstructure:"custom_main_page" yaml:"custom_main_page"`

	// CustomZimFavicon/Title/Description override archive metadata.
	CustomZimFavicon     string `mapstructure:"custom_zim_favicon" yaml:"custom_zim_favicon"`
	CustomZimTitle       string `mapstructure:"custom_zim_title" yaml:"custom_zim_title"`
	CustomZimDescription string `mapstructure:"custom_zim_description" yaml:"custom_zim_description"`

	// Directories. Relative paths are taken from the working directory.
	OutputDirectory string `mapstructure:"output_directory" yaml:"output_directory"`
	TmpDirectory    string `mapstructure:"tmp_directory" yaml:"tmp_directory"`
	CacheDirectory  string `mapstructure:"cache_directory" yaml:"cache_directory"`

	// FilenamePrefix overrides the host-derived creator part of the radical.
	FilenamePrefix string `mapstructure:"filename_prefix" yaml:"filename_prefix"`

	// Format lists the dump variants to produce. Each entry is a
	// comma-free subset of {nopic, nozim} joined by "+"; an empty entry
	// is the plain dump. Default: one plain dump.
	Format []string `mapstructure:"format" yaml:"format"`

	// Publisher is recorded in the archive metadata. Default: Kiwix
	Publisher string `mapstructure:"publisher" yaml:"publisher"`

	// RedisSocket selects the Redis kvstore backend (unix socket path or
	// host:port). Empty means the embedded badger backend.
	RedisSocket string `mapstructure:"redis_socket" yaml:"redis_socket"`

	// RequestTimeout is the base HTTP timeout; attempt N uses N times it.
	// Default: 60s
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// Speed multiplies runtime.NumCPU() to size the article queue; the
	// redirect and media queues derive from it (x3, x5). Default: 1
	Speed int `mapstructure:"speed" yaml:"speed"`

	// Behavior toggles.
	DeflateTmpHtml       bool `mapstructure:"deflate_tmp_html" yaml:"deflate_tmp_html"`
	KeepEmptyParagraphs  bool `mapstructure:"keep_empty_paragraphs" yaml:"keep_empty_paragraphs"`
	KeepHtml             bool `mapstructure:"keep_html" yaml:"keep_html"`
	MinifyHtml           bool `mapstructure:"minify_html" yaml:"minify_html"`
	Resume               bool `mapstructure:"resume" yaml:"resume"`
	SkipHtmlCache        bool `mapstructure:"skip_html_cache" yaml:"skip_html_cache"`
	SkipCacheCleaning    bool `mapstructure:"skip_cache_cleaning" yaml:"skip_cache_cleaning"`
	Verbose              bool `mapstructure:"verbose" yaml:"verbose"`
	WithZimFullTextIndex bool `mapstructure:"with_zim_full_text_index" yaml:"with_zim_full_text_index"`
	WriteHtmlRedirects   bool `mapstructure:"write_html_redirects" yaml:"write_html_redirects"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics controls the optional Prometheus listener.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" yaml:"level"`

	// Format is text or json.
	Format string `mapstructure:"format" yaml:"format"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

// Load reads configuration from the optional file path, the environment
// and defaults, in that precedence order, then validates it.
func Load(path string) (*Config, error) {
	cfg, err := LoadLax(path)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadLax reads configuration like Load but applies neither defaults
// nor validation. The CLI overlays its flags in between.
func LoadLax(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("MWOFFLINER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	cfg := &Config{}
	decode := func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
	if err := v.Unmarshal(cfg, viper.DecoderConfigOption(decode)); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for fatal misconfiguration. Errors
// here abort the process before any directory or network work starts.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("invalid configuration: field %s fails %q", e.Field(), e.Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.ArticleList != "" {
		if _, err := os.Stat(c.ArticleList); err != nil {
			return fmt.Errorf("article list %q not readable: %w", c.ArticleList, err)
		}
	}
	if _, err := c.Variants(); err != nil {
		return err
	}
	if c.Speed < 1 {
		return fmt.Errorf("speed must be >= 1, got %d", c.Speed)
	}
	return nil
}

// BaseURL returns the parsed MwURL. Validate guarantees it parses.
func (c *Config) BaseURL() *url.URL {
	u, _ := url.Parse(c.MwURL)
	return u
}

// APIEndpoint returns the absolute api.php URL.
func (c *Config) APIEndpoint() string {
	return strings.TrimSuffix(c.MwURL, "/") + "/" + c.MwApiPath
}

// WebRoot returns the absolute article path prefix, ending with a slash.
func (c *Config) WebRoot() string {
	return strings.TrimSuffix(c.MwURL, "/") + "/" + c.MwWikiPath + "/"
}

// WebRootPath returns the article path prefix without the host part,
// e.g. "/wiki/". The rewriter strips it from hrefs.
func (c *Config) WebRootPath() string {
	return "/" + c.MwWikiPath + "/"
}

// RestEndpoint returns the mobile-sections REST base. ParsoidURL wins
// when configured.
func (c *Config) RestEndpoint() string {
	if c.ParsoidURL != "" {
		return strings.TrimSuffix(c.ParsoidURL, "/")
	}
	return strings.TrimSuffix(c.MwURL, "/") + "/api/rest_v1/page/mobile-sections"
}

// QueueWidth returns the article queue width: NumCPU x Speed.
func (c *Config) QueueWidth() int {
	return runtime.NumCPU() * c.Speed
}
