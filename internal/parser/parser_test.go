package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const resultPage = `<html><body>
<div class="card-top"><span>找到 1,234 条结果</span></div>
<div class="card-wrap" mid="4950000000000001">
  <div class="content"><p class="txt">first</p><p class="from"><a href="#">10月23日 15:04</a></p></div>
</div>
<div class="card-wrap" mid="4950000000000002">
  <div class="content"><p class="from"><a href="#">10月23日 09:30</a></p></div>
</div>
<div class="card-wrap" mid="4950000000000002">
  <div class="content"><p class="from"><a href="#">10月23日 09:30</a></p></div>
</div>
<div class="card-wrap" mid="">
  <div class="content">ad</div>
</div>
<div class="m-page"><a class="next" href="?page=2">下一页</a></div>
</body></html>`

func fixedNow() time.Time {
	return time.Date(2025, 10, 24, 12, 0, 0, 0, DefaultLocation())
}

func TestParseResultPage(t *testing.T) {
	t.Parallel()

	p := New(Config{}, fixedNow)
	res, err := p.Parse(resultPage)
	require.NoError(t, err)
	require.Equal(t, []string{"4950000000000001", "4950000000000002"}, res.PostIDs)
	require.True(t, res.HasNextPage)
	require.Equal(t, 1234, res.TotalCount)
	require.NotNil(t, res.LastPostTime)
	want := time.Date(2025, 10, 23, 9, 30, 0, 0, DefaultLocation())
	require.True(t, res.LastPostTime.Equal(want), "got %s", res.LastPostTime)
}

func TestParseLastPage(t *testing.T) {
	t.Parallel()

	p := New(Config{}, fixedNow)
	res, err := p.Parse(`<div class="card-wrap" mid="1"><p class="from"><a>5分钟前</a></p></div>`)
	require.NoError(t, err)
	require.False(t, res.HasNextPage)
	require.Equal(t, 1, res.TotalCount)
	require.True(t, res.LastPostTime.Equal(fixedNow().Add(-5*time.Minute)))
}

func TestParseEmptyPage(t *testing.T) {
	t.Parallel()

	res, err := New(Config{}, fixedNow).Parse(`<html><body><div class="m-error">抱歉，未找到结果</div></body></html>`)
	require.NoError(t, err)
	require.Empty(t, res.PostIDs)
	require.Nil(t, res.LastPostTime)
	require.False(t, res.HasNextPage)
	require.Zero(t, res.TotalCount)
}

func TestParseCustomSelectors(t *testing.T) {
	t.Parallel()

	p := New(Config{
		PostSelector: "article[mid]",
		TimeSelector: "time",
		NextSelector: "a[rel=next]",
	}, fixedNow)
	res, err := p.Parse(`<article mid="9"><time>今天 08:00</time></article><a rel="next">more</a>`)
	require.NoError(t, err)
	require.Equal(t, []string{"9"}, res.PostIDs)
	require.True(t, res.HasNextPage)
	require.Equal(t, 8, res.LastPostTime.Hour())
}

func TestParsePostTime(t *testing.T) {
	t.Parallel()

	now := fixedNow()
	loc := now.Location()
	cases := []struct {
		raw  string
		want time.Time
		ok   bool
	}{
		{"刚刚", now, true},
		{"30秒前", now.Add(-30 * time.Second), true},
		{"5分钟前", now.Add(-5 * time.Minute), true},
		{"2小时前", now.Add(-2 * time.Hour), true},
		{"今天 08:15", time.Date(2025, 10, 24, 8, 15, 0, 0, loc), true},
		{"昨天 23:59", time.Date(2025, 10, 23, 23, 59, 0, 0, loc), true},
		{"10月23日 15:04", time.Date(2025, 10, 23, 15, 4, 0, 0, loc), true},
		{"12月31日 10:00", time.Date(2024, 12, 31, 10, 0, 0, 0, loc), true},
		{"2025年10月01日 00:00", time.Date(2025, 10, 1, 0, 0, 0, 0, loc), true},
		{"2024-02-29 07:05", time.Date(2024, 2, 29, 7, 5, 0, 0, loc), true},
		{"", time.Time{}, false},
		{"sometime", time.Time{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, ok := ParsePostTime(tc.raw, now)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				require.True(t, got.Equal(tc.want), "got %s want %s", got, tc.want)
			}
		})
	}
}

func TestTotalCount(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1234, totalCount("找到 1,234 条结果", 0))
	require.Equal(t, 7, totalCount("no digits", 7))
	require.Equal(t, 42, totalCount("42", 0))
}
