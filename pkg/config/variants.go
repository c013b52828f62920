package config

import (
	"fmt"
	"strings"
)

// Variant is one dump flavor produced by a run: a subset of
// {nopic, nozim}. Filenames of the produced artifacts include the
// selection via Suffix.
type Variant struct {
	Nopic bool
	Nozim bool
}

// ParseVariant parses one format entry: an empty string (plain dump) or
// flags joined by "+", e.g. "nopic", "nopic+nozim".
func ParseVariant(s string) (Variant, error) {
	var v Variant
	s = strings.TrimSpace(s)
	if s == "" {
		return v, nil
	}
	for _, part := range strings.Split(s, "+") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "nopic":
			v.Nopic = true
		case "nozim":
			v.Nozim = true
		default:
			return v, fmt.Errorf("unknown format flag %q (want nopic or nozim)", part)
		}
	}
	return v, nil
}

// Variants parses the configured format list, deduplicating entries.
func (c *Config) Variants() ([]Variant, error) {
	seen := make(map[Variant]bool)
	out := make([]Variant, 0, len(c.Format))
	for _, s := range c.Format {
		v, err := ParseVariant(s)
		if err != nil {
			return nil, err
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out, nil
}

// Suffix returns the filename tag for the variant, e.g. "_nopic".
// Nozim changes the artifact (a directory instead of an archive), not
// its name.
func (v Variant) Suffix() string {
	if v.Nopic {
		return "_nopic"
	}
	return ""
}

func (v Variant) String() string {
	var parts []string
	if v.Nopic {
		parts = append(parts, "nopic")
	}
	if v.Nozim {
		parts = append(parts, "nozim")
	}
	if len(parts) == 0 {
		return "default"
	}
	return strings.Join(parts, "+")
}
