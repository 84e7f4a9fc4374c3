package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/search-crawler/internal/crawler"
	"github.com/JakeFAU/search-crawler/internal/progress"
	"github.com/JakeFAU/search-crawler/internal/store"
)

func TestStoreSinkPersistsRunLifecycle(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	now := time.Now()
	window := crawler.TimeWindow{Start: now.Add(-24 * time.Hour), End: now}

	batch := []progress.Event{
		{RunID: "r1", Stage: progress.StageRunStart, TS: now, Keyword: "k", Window: window},
		{RunID: "r1", Stage: progress.StagePageDone, TS: now.Add(time.Second), Page: 1, Posts: 20},
		{RunID: "r1", Stage: progress.StagePageDone, TS: now.Add(2 * time.Second), Page: 2, Posts: 5},
		{RunID: "r1", Stage: progress.StagePageError, TS: now.Add(3 * time.Second), Page: 3},
		{
			RunID:  "r1",
			Stage:  progress.StageRunDone,
			TS:     now.Add(4 * time.Second),
			Output: &crawler.CrawlRunOutput{Status: crawler.RunStatusSuccess, TotalPostsFound: 25},
		},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []store.RunStart{{RunID: "r1", Keyword: "k", Window: window, StartedAt: now}}, repo.starts)
	require.Len(t, repo.stats, 1)
	require.Equal(t, statsCall{runID: "r1", pages: 2, posts: 25, at: now.Add(2 * time.Second)}, repo.stats[0])
	require.Len(t, repo.completes, 1)
	require.Equal(t, crawler.RunStatusSuccess, repo.completes[0].Status)
}

func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: "r1", Stage: progress.StageRunStart, TS: time.Now(), Keyword: "k"},
	})
	require.Error(t, err)
}

func TestStoreSinkNilRepository(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(nil, nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{RunID: "r1"}}))
	require.NoError(t, sink.Close(context.Background()))
}

type fakeRunRepo struct {
	fail      bool
	starts    []store.RunStart
	stats     []statsCall
	completes []crawler.CrawlRunOutput
}

type statsCall struct {
	runID string
	pages int64
	posts int64
	at    time.Time
}

func (f *fakeRunRepo) StartRun(_ context.Context, run store.RunStart) error {
	if f.fail {
		return assertErr("start")
	}
	f.starts = append(f.starts, run)
	return nil
}

func (f *fakeRunRepo) AddPageStats(_ context.Context, runID string, pages, posts int64, at time.Time) error {
	if f.fail {
		return assertErr("stats")
	}
	f.stats = append(f.stats, statsCall{runID: runID, pages: pages, posts: posts, at: at})
	return nil
}

func (f *fakeRunRepo) CompleteRun(_ context.Context, _ string, _ time.Time, out crawler.CrawlRunOutput) error {
	if f.fail {
		return assertErr("complete")
	}
	f.completes = append(f.completes, out)
	return nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
