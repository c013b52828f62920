package rewrite

import (
	"encoding/json"
	"fmt"
)

// Article is the mobile-sections payload: a lead block plus the
// remaining sections. Unknown upstream fields are dropped on
// re-serialization; the reader only needs what is declared here.
type Article struct {
	Lead      *Lead      `json:"lead,omitempty"`
	Remaining *Remaining `json:"remaining,omitempty"`
}

// Lead is the first (metadata-bearing) block of an article.
type Lead struct {
	ID              int64          `json:"id,omitempty"`
	Revision        string         `json:"revision,omitempty"`
	DisplayTitle    string         `json:"displaytitle,omitempty"`
	NormalizedTitle string         `json:"normalizedtitle,omitempty"`
	Image           *LeadImage     `json:"image,omitempty"`
	Pronunciation   *Pronunciation `json:"pronunciation,omitempty"`
	Sections        []Section      `json:"sections"`
}

// Remaining carries the non-lead sections.
type Remaining struct {
	Sections []Section `json:"sections"`
}

// Section is one article section; Text is the HTML the rewriter
// cleans.
type Section struct {
	ID       int    `json:"id"`
	TocLevel int    `json:"toclevel,omitempty"`
	Line     string `json:"line,omitempty"`
	Anchor   string `json:"anchor,omitempty"`
	Text     string `json:"text"`
}

// LeadImage is the lead's thumbnail set, keyed by width.
type LeadImage struct {
	File string            `json:"file,omitempty"`
	URLs map[string]string `json:"urls,omitempty"`
}

// Pronunciation points at the spoken-title audio file.
type Pronunciation struct {
	URL string `json:"url,omitempty"`
}

// ParseArticle decodes a mobile-sections response body.
func ParseArticle(raw []byte) (*Article, error) {
	var art Article
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, fmt.Errorf("bad mobile-sections payload: %w", err)
	}
	return &art, nil
}

// Encode serializes the (rewritten) article for the html tree.
func (a *Article) Encode() ([]byte, error) {
	out, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode article: %w", err)
	}
	return out, nil
}

// AllSections returns lead and remaining sections as one slice of
// pointers, in document order.
func (a *Article) AllSections() []*Section {
	var out []*Section
	if a.Lead != nil {
		for i := range a.Lead.Sections {
			out = append(out, &a.Lead.Sections[i])
		}
	}
	if a.Remaining != nil {
		for i := range a.Remaining.Sections {
			out = append(out, &a.Remaining.Sections[i])
		}
	}
	return out
}
