package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/search-crawler/internal/crawler"
)

func TestObjectKey(t *testing.T) {
	t.Parallel()

	shanghai := time.FixedZone("CST", 8*3600)
	doc := crawler.RawDocument{
		SourcePlatform: "Weibo",
		ContentHash:    "abc123",
		CreatedAt:      time.Date(2025, 10, 24, 2, 0, 0, 0, shanghai),
	}
	key, err := ObjectKey(doc)
	require.NoError(t, err)
	require.Equal(t, "raw/weibo/2025/10/23/abc123.json", key)

	doc.SourcePlatform = ""
	key, err = ObjectKey(doc)
	require.NoError(t, err)
	require.Equal(t, "raw/unknown/2025/10/23/abc123.json", key)

	_, err = ObjectKey(crawler.RawDocument{})
	require.Error(t, err)
}

func TestEncodeKeepsRawContent(t *testing.T) {
	t.Parallel()

	data, err := Encode(crawler.RawDocument{RawContent: "<html/>", Metadata: map[string]any{"page": 3}})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "<html/>", decoded["raw_content"])
	require.Equal(t, float64(3), decoded["metadata"].(map[string]any)["page"])
}
