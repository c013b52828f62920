package kvstore

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ArticleDetail is the value schema of the details database: the
// article's revision timestamp and, when the API returned coordinates,
// "lat;lon".
type ArticleDetail struct {
	Timestamp int64  `json:"t"`
	Geo       string `json:"g,omitempty"`
}

// EncodeDetail serializes an ArticleDetail for storage.
func EncodeDetail(d ArticleDetail) (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode article detail: %w", err)
	}
	return string(b), nil
}

// DecodeDetail parses a stored ArticleDetail.
func DecodeDetail(s string) (ArticleDetail, error) {
	var d ArticleDetail
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return d, fmt.Errorf("decode article detail: %w", err)
	}
	return d, nil
}

// EncodeWidth and DecodeWidth convert the media database's width values.
func EncodeWidth(w int) string { return strconv.Itoa(w) }

// DecodeWidth parses a stored width; malformed values count as zero so
// a corrupt entry forces a re-download rather than an abort.
func DecodeWidth(s string) int {
	w, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return w
}
