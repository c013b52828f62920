package kvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetailRoundTrip(t *testing.T) {
	in := ArticleDetail{Timestamp: 1700000000, Geo: "48.85;2.29"}
	s, err := EncodeDetail(in)
	require.NoError(t, err)

	out, err := DecodeDetail(s)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDetailOmitsEmptyGeo(t *testing.T) {
	s, err := EncodeDetail(ArticleDetail{Timestamp: 1})
	require.NoError(t, err)
	assert.NotContains(t, s, `"g"`)
}

func TestDecodeDetailRejectsGarbage(t *testing.T) {
	_, err := DecodeDetail("{nope")
	assert.Error(t, err)
}

func TestWidthCodec(t *testing.T) {
	assert.Equal(t, "300", EncodeWidth(300))
	assert.Equal(t, 300, DecodeWidth("300"))
	// Corrupt entries force a re-download instead of a crash.
	assert.Zero(t, DecodeWidth("wat"))
}
