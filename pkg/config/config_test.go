package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{
		MwURL:      "https://en.wikipedia.org/",
		AdminEmail: "ops@example.com",
	}
	ApplyDefaults(cfg)
	return cfg
}

// ==== Defaults ====

func TestApplyDefaults(t *testing.T) {
	cfg := validConfig()

	assert.Equal(t, "wiki", cfg.MwWikiPath)
	assert.Equal(t, "w/api.php", cfg.MwApiPath)
	assert.Equal(t, "out", cfg.OutputDirectory)
	assert.Equal(t, "tmp", cfg.TmpDirectory)
	assert.Equal(t, filepath.Join("tmp", "cac"), cfg.CacheDirectory)
	assert.Equal(t, "Kiwix", cfg.Publisher)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 1, cfg.Speed)
	assert.Equal(t, []string{""}, cfg.Format)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, 9666, cfg.Metrics.Port)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		MwURL:      "https://en.wikipedia.org/",
		AdminEmail: "ops@example.com",
		Speed:      4,
		Publisher:  "Someone",
		Verbose:    true,
	}
	ApplyDefaults(cfg)

	assert.Equal(t, 4, cfg.Speed)
	assert.Equal(t, "Someone", cfg.Publisher)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

// ==== Validation ====

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsMissingURL(t *testing.T) {
	cfg := validConfig()
	cfg.MwURL = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MwURL")
}

func TestValidateRejectsBadEmail(t *testing.T) {
	cfg := validConfig()
	cfg.AdminEmail = "not-an-email"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnreadableArticleList(t *testing.T) {
	cfg := validConfig()
	cfg.ArticleList = filepath.Join(t.TempDir(), "missing.txt")
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsReadableArticleList(t *testing.T) {
	cfg := validConfig()
	list := filepath.Join(t.TempDir(), "titles.txt")
	require.NoError(t, os.WriteFile(list, []byte("Paris\n"), 0644))
	cfg.ArticleList = list
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Format = []string{"novideo"}
	assert.Error(t, cfg.Validate())
}

// ==== Derived URLs ====

func TestDerivedEndpoints(t *testing.T) {
	cfg := validConfig()

	assert.Equal(t, "https://en.wikipedia.org/w/api.php", cfg.APIEndpoint())
	assert.Equal(t, "https://en.wikipedia.org/wiki/", cfg.WebRoot())
	assert.Equal(t, "/wiki/", cfg.WebRootPath())
	assert.Equal(t, "https://en.wikipedia.org/api/rest_v1/page/mobile-sections", cfg.RestEndpoint())
}

func TestParsoidURLOverridesRestEndpoint(t *testing.T) {
	cfg := validConfig()
	cfg.ParsoidURL = "https://parsoid.example.org/rest/"
	assert.Equal(t, "https://parsoid.example.org/rest", cfg.RestEndpoint())
}

// ==== Variants ====

func TestParseVariant(t *testing.T) {
	tests := []struct {
		in   string
		want Variant
	}{
		{"", Variant{}},
		{"nopic", Variant{Nopic: true}},
		{"nozim", Variant{Nozim: true}},
		{"nopic+nozim", Variant{Nopic: true, Nozim: true}},
		{" NOPIC ", Variant{Nopic: true}},
	}
	for _, tt := range tests {
		v, err := ParseVariant(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, v, tt.in)
	}

	_, err := ParseVariant("nopic+bogus")
	assert.Error(t, err)
}

func TestVariantsDeduplicates(t *testing.T) {
	cfg := validConfig()
	cfg.Format = []string{"nopic", "", "nopic"}
	vs, err := cfg.Variants()
	require.NoError(t, err)
	assert.Equal(t, []Variant{{Nopic: true}, {}}, vs)
}

func TestVariantSuffix(t *testing.T) {
	assert.Equal(t, "", Variant{}.Suffix())
	assert.Equal(t, "_nopic", Variant{Nopic: true}.Suffix())
	assert.Equal(t, "", Variant{Nozim: true}.Suffix())
}

// ==== Radical naming ====

func TestCreatorFromHostname(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "Wikipedia", cfg.Creator())

	cfg.MwURL = "https://wiktionary.org/"
	assert.Equal(t, "Wiktionary", cfg.Creator())

	cfg.FilenamePrefix = "MyWiki"
	assert.Equal(t, "MyWiki", cfg.Creator())
}

func TestLangSuffix(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "en", cfg.LangSuffix())

	cfg.MwURL = "https://fr.wikipedia.org/"
	assert.Equal(t, "fr", cfg.LangSuffix())

	cfg.MwURL = "https://wikipedia.org/"
	assert.Equal(t, "en", cfg.LangSuffix())
}

func TestSelection(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "all", cfg.Selection())

	cfg.ArticleList = "/data/lists/chemistry.txt"
	assert.Equal(t, "chemistry", cfg.Selection())
}

func TestRadical(t *testing.T) {
	cfg := validConfig()
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "wikipedia_en_all_2024-03", cfg.Radical(Variant{}, true, now))
	assert.Equal(t, "wikipedia_en_all_nopic_2024-03", cfg.Radical(Variant{Nopic: true}, true, now))
	assert.Equal(t, "wikipedia_en_all", cfg.CacheRadical())
}

func TestQueueWidth(t *testing.T) {
	cfg := validConfig()
	cfg.Speed = 3
	assert.Equal(t, runtime.NumCPU()*3, cfg.QueueWidth())
}

// ==== File loading ====

func TestLoadReadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"mw_url: https://de.wikipedia.org/\nadmin_email: ops@example.com\nspeed: 3\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://de.wikipedia.org/", cfg.MwURL)
	assert.Equal(t, 3, cfg.Speed)
	assert.Equal(t, "wiki", cfg.MwWikiPath)
}

func TestLoadDecodeHooks(t *testing.T) {
	// Duration strings and comma-joined lists come through the viper
	// decode hooks.
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"mw_url: https://de.wikipedia.org/\nadmin_email: ops@example.com\n"+
			"request_timeout: 90s\nformat: \",nopic\"\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.RequestTimeout)
	assert.Equal(t, []string{"", "nopic"}, cfg.Format)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadLaxSkipsValidation(t *testing.T) {
	cfg, err := LoadLax("")
	require.NoError(t, err)
	assert.Empty(t, cfg.MwURL)
	assert.Zero(t, cfg.Speed)
}
