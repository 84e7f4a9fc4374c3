package planner

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/search-crawler/internal/crawler"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNextTimeRange(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	target := ts("2025-10-01T00:00:00Z")

	tests := []struct {
		name     string
		last     time.Time
		wantStop bool
		wantEnd  time.Time
	}{
		{"narrows to hour before oldest post", ts("2025-10-20T08:45:10Z"), false, ts("2025-10-20T07:00:00Z")},
		{"exact hour", ts("2025-10-20T08:00:00Z"), false, ts("2025-10-20T07:00:00Z")},
		{"one hour above target", ts("2025-10-01T01:59:00Z"), false, ts("2025-10-01T00:00:00Z")},
		{"same hour as target stops", ts("2025-10-01T00:59:59Z"), true, time.Time{}},
		{"before target stops", ts("2025-09-30T12:00:00Z"), true, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := p.NextTimeRange(tt.last, target)
			require.Equal(t, tt.wantStop, got.ShouldStop)
			if tt.wantStop {
				require.Nil(t, got.Next)
				return
			}
			require.NotNil(t, got.Next)
			require.True(t, got.Next.Start.Equal(target))
			require.True(t, got.Next.End.Equal(tt.wantEnd), "end %v", got.Next.End)
			require.True(t, got.Next.Valid())
		})
	}
}

func TestNextTimeRangeTruncatesTargetStart(t *testing.T) {
	t.Parallel()

	got := New(Config{}).NextTimeRange(ts("2025-10-01T01:10:00Z"), ts("2025-10-01T00:30:00Z"))
	require.False(t, got.ShouldStop)
	require.True(t, got.Next.Start.Equal(ts("2025-10-01T00:00:00Z")))
	require.True(t, got.Next.End.Equal(ts("2025-10-01T00:00:00Z")))
	require.True(t, got.Next.Valid())
}

func TestNextTimeRangeConverges(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	rng := rand.New(rand.NewPCG(7, 11))
	target := ts("2025-10-01T00:00:00Z")
	end := ts("2025-10-23T15:00:00Z")
	bound := int(end.Sub(target) / time.Hour)

	for range 200 {
		window := crawler.TimeWindow{Start: target, End: end}
		iterations := 0
		for {
			// The oldest post on the last page lies anywhere inside the window.
			span := window.End.Sub(window.Start)
			last := window.Start.Add(time.Duration(rng.Int64N(int64(span) + 1)))
			d := p.NextTimeRange(last, target)
			if d.ShouldStop {
				break
			}
			require.True(t, d.Next.End.Before(window.End), "window end must strictly decrease")
			require.False(t, d.Next.End.Before(target), "window end must not pass the target")
			require.True(t, d.Next.Valid())
			window = *d.Next
			iterations++
			require.LessOrEqual(t, iterations, bound)
		}
	}
}

func TestShouldNarrow(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	window := crawler.TimeWindow{Start: ts("2025-10-01T00:00:00Z"), End: ts("2025-10-23T15:00:00Z")}
	late := ts("2025-10-10T00:00:00Z")
	near := ts("2025-10-01T00:30:00Z")

	tests := []struct {
		name    string
		page    int
		hasNext bool
		last    *time.Time
		want    string
	}{
		{"page cap reached", 50, true, &late, ReasonPageCap},
		{"beyond page cap", 51, true, nil, ReasonPageCap},
		{"more pages below cap", 12, true, &late, ""},
		{"ran out with wide gap", 12, false, &late, ReasonGap},
		{"ran out near start", 12, false, &near, ""},
		{"ran out without posts", 3, false, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, p.NarrowReason(tt.page, tt.hasNext, tt.last, window))
			require.Equal(t, tt.want != "", p.ShouldNarrow(tt.page, tt.hasNext, tt.last, window))
		})
	}
}

func TestConfigurableThresholds(t *testing.T) {
	t.Parallel()

	p := New(Config{PageCap: 5, GapThreshold: 24 * time.Hour})
	require.Equal(t, 5, p.PageCap())
	window := crawler.TimeWindow{Start: ts("2025-10-01T00:00:00Z"), End: ts("2025-10-05T00:00:00Z")}
	last := ts("2025-10-01T12:00:00Z")
	require.True(t, p.ShouldNarrow(5, true, nil, window))
	require.False(t, p.ShouldNarrow(4, false, &last, window))
}

func TestTruncateHourKeepsLocation(t *testing.T) {
	t.Parallel()

	shanghai := time.FixedZone("CST", 8*3600)
	got := TruncateHour(time.Date(2025, 10, 23, 15, 42, 7, 99, shanghai))
	require.Equal(t, time.Date(2025, 10, 23, 15, 0, 0, 0, shanghai), got)
	require.Equal(t, shanghai, got.Location())
}
