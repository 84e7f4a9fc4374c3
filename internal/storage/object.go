// Package storage holds helpers shared by the object-store backed raw stores.
package storage

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/search-crawler/internal/crawler"
)

// ContentType is the media type of encoded raw documents.
const ContentType = "application/json"

// ObjectKey returns the object path for doc:
// raw/<platform>/<yyyy>/<mm>/<dd>/<content hash>.json, partitioned by the UTC
// creation date.
func ObjectKey(doc crawler.RawDocument) (string, error) {
	if doc.ContentHash == "" {
		return "", fmt.Errorf("content hash is required")
	}
	platform := strings.ToLower(strings.TrimSpace(doc.SourcePlatform))
	if platform == "" {
		platform = "unknown"
	}
	created := doc.CreatedAt.UTC()
	return path.Join(
		"raw",
		platform,
		created.Format("2006"),
		created.Format("01"),
		created.Format("02"),
		doc.ContentHash+".json",
	), nil
}

// Encode serializes doc for object storage.
func Encode(doc crawler.RawDocument) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode raw document: %w", err)
	}
	return data, nil
}
