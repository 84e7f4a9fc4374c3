package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultLocation is the zone the provider renders timestamps in.
func DefaultLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*60*60)
	}
	return loc
}

var (
	secondsAgo = regexp.MustCompile(`^(\d+)\s*秒前`)
	minutesAgo = regexp.MustCompile(`^(\d+)\s*分钟前`)
	hoursAgo   = regexp.MustCompile(`^(\d+)\s*小时前`)
	today      = regexp.MustCompile(`^今天\s*(\d{1,2}):(\d{2})`)
	yesterday  = regexp.MustCompile(`^昨天\s*(\d{1,2}):(\d{2})`)
	monthDay   = regexp.MustCompile(`^(\d{1,2})月(\d{1,2})日\s*(\d{1,2}):(\d{2})`)
	fullDate   = regexp.MustCompile(`^(\d{4})年(\d{1,2})月(\d{1,2})日\s*(\d{1,2}):(\d{2})`)
	isoLike    = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})\s+(\d{1,2}):(\d{2})`)
)

// ParsePostTime converts the provider's localized post time into an absolute
// instant relative to now. now's location is used for calendar forms.
func ParsePostTime(raw string, now time.Time) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	loc := now.Location()

	if raw == "刚刚" {
		return now, true
	}
	if m := secondsAgo.FindStringSubmatch(raw); m != nil {
		return now.Add(-time.Duration(atoi(m[1])) * time.Second), true
	}
	if m := minutesAgo.FindStringSubmatch(raw); m != nil {
		return now.Add(-time.Duration(atoi(m[1])) * time.Minute), true
	}
	if m := hoursAgo.FindStringSubmatch(raw); m != nil {
		return now.Add(-time.Duration(atoi(m[1])) * time.Hour), true
	}
	if m := today.FindStringSubmatch(raw); m != nil {
		y, mo, d := now.Date()
		return time.Date(y, mo, d, atoi(m[1]), atoi(m[2]), 0, 0, loc), true
	}
	if m := yesterday.FindStringSubmatch(raw); m != nil {
		y, mo, d := now.AddDate(0, 0, -1).Date()
		return time.Date(y, mo, d, atoi(m[1]), atoi(m[2]), 0, 0, loc), true
	}
	if m := fullDate.FindStringSubmatch(raw); m != nil {
		return time.Date(atoi(m[1]), time.Month(atoi(m[2])), atoi(m[3]), atoi(m[4]), atoi(m[5]), 0, 0, loc), true
	}
	if m := isoLike.FindStringSubmatch(raw); m != nil {
		return time.Date(atoi(m[1]), time.Month(atoi(m[2])), atoi(m[3]), atoi(m[4]), atoi(m[5]), 0, 0, loc), true
	}
	if m := monthDay.FindStringSubmatch(raw); m != nil {
		ts := time.Date(now.Year(), time.Month(atoi(m[1])), atoi(m[2]), atoi(m[3]), atoi(m[4]), 0, 0, loc)
		// Year-less dates in the future belong to the previous year.
		if ts.After(now) {
			ts = ts.AddDate(-1, 0, 0)
		}
		return ts, true
	}
	return time.Time{}, false
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
