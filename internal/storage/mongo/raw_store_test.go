package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/search-crawler/internal/crawler"
)

type fakeCollection struct {
	inserted []any
	err      error
}

func (f *fakeCollection) InsertOne(_ context.Context, document any, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inserted = append(f.inserted, document)
	rec := document.(rawRecord)
	return &mongo.InsertOneResult{InsertedID: rec.ID}, nil
}

func TestRawStoreSave(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{}
	store := &RawStore{coll: coll}
	doc := crawler.RawDocument{
		SourceType:     "search_page",
		SourcePlatform: "weibo",
		RawContent:     "<html/>",
		ContentHash:    "abc",
		CreatedAt:      time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
	}

	id, err := store.Save(context.Background(), doc)
	require.NoError(t, err)
	_, err = primitive.ObjectIDFromHex(id)
	require.NoError(t, err)
	require.Len(t, coll.inserted, 1)

	rec := coll.inserted[0].(rawRecord)
	require.Equal(t, id, rec.ID.Hex())
	require.Equal(t, "abc", rec.ContentHash)
}

func TestRawStoreSaveDefaultsCreatedAt(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{}
	store := &RawStore{coll: coll}
	_, err := store.Save(context.Background(), crawler.RawDocument{ContentHash: "x"})
	require.NoError(t, err)
	require.False(t, coll.inserted[0].(rawRecord).CreatedAt.IsZero())
}

func TestRawStoreSaveError(t *testing.T) {
	t.Parallel()

	store := &RawStore{coll: &fakeCollection{err: errors.New("duplicate key")}}
	_, err := store.Save(context.Background(), crawler.RawDocument{})
	require.ErrorContains(t, err, "duplicate key")
}

func TestConstructorValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRawStore(nil, Config{})
	require.Error(t, err)
	_, err = Connect(context.Background(), Config{})
	require.Error(t, err)
}
