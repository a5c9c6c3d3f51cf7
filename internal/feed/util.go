package feed

import (
	"strings"
	"time"
)

// timeLayouts is the ordered list of timestamp formats encountered in RSS and
// Atom feeds. gofeed already parses most dates; these cover the raw strings it
// gives up on. Publishers are inconsistent about zone names, day-of-week
// prefixes and two-digit days.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses a feed timestamp using a multi-layout fallback. Returns a
// zero time.Time (not an error) on failure so callers can use nil-pointer
// semantics with a simple zero check.
func ParseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// ParseTimePtr is like ParseTime but returns nil for zero/empty input.
func ParseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := ParseTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}

// StripNullBytes removes null bytes (\x00) from a string. Postgres TEXT
// columns reject them.
func StripNullBytes(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}
