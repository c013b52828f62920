package config

import (
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Creator returns the capitalized, host-derived project name used as
// the first radical segment ("Wikipedia", "Wiktionary", ...).
// FilenamePrefix overrides it.
func (c *Config) Creator() string {
	if c.FilenamePrefix != "" {
		return c.FilenamePrefix
	}
	host := c.BaseURL().Hostname()
	labels := strings.Split(host, ".")
	name := labels[0]
	// Language-prefixed hosts keep the project in the second label.
	if len(labels) >= 3 {
		name = labels[len(labels)-2]
	}
	if name == "" {
		return "Other"
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// LangSuffix returns the language segment of the radical: the hostname's
// ISO-639-2 code when the hostname itself carries a three-letter code,
// else the ISO-639-1 code.
func (c *Config) LangSuffix() string {
	host := c.BaseURL().Hostname()
	label := strings.ToLower(strings.Split(host, ".")[0])
	if len(label) != 2 && len(label) != 3 {
		return "en"
	}
	if _, err := language.ParseBase(label); err != nil {
		return "en"
	}
	return label
}

// Selection returns the radical selection segment: "all" for full
// namespace crawls, else the article list's basename.
func (c *Config) Selection() string {
	if c.ArticleList == "" {
		return "all"
	}
	base := filepath.Base(c.ArticleList)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// Radical builds the filename stem for output files and on-disk
// directories: {creator}_{lang}_{selection}[_nopic][_YYYY-MM].
func (c *Config) Radical(v Variant, withDate bool, now time.Time) string {
	parts := []string{
		strings.ToLower(c.Creator()),
		c.LangSuffix(),
		c.Selection(),
	}
	s := strings.Join(parts, "_") + v.Suffix()
	if withDate {
		s += "_" + now.Format("2006-01")
	}
	return s
}

// CacheRadical names the shared cache directory for the run. It is
// variant- and date-independent so warm runs hit the same entries.
func (c *Config) CacheRadical() string {
	return c.Radical(Variant{}, false, time.Time{})
}
