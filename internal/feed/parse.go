package feed

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// Entry is one item of a parsed feed, reduced to what becomes a drop.
type Entry struct {
	Title       *string
	Link        *string
	PublishedAt *time.Time
}

// Parse decodes an RSS, Atom or JSON Feed document.
func Parse(data []byte) ([]Entry, error) {
	f, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	entries := make([]Entry, 0, len(f.Items))
	for _, item := range f.Items {
		if item == nil {
			continue
		}
		entries = append(entries, Entry{
			Title:       nonEmpty(StripNullBytes(item.Title)),
			Link:        nonEmpty(itemLink(item)),
			PublishedAt: publishedAt(item),
		})
	}
	return entries, nil
}

func itemLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return StripNullBytes(link)
	}
	for _, l := range item.Links {
		if l = strings.TrimSpace(l); l != "" {
			return StripNullBytes(l)
		}
	}
	return ""
}

// publishedAt prefers the publish date, then the update date, then whatever
// ParseTime can make of the raw strings gofeed could not parse.
func publishedAt(item *gofeed.Item) *time.Time {
	switch {
	case item.PublishedParsed != nil:
		t := item.PublishedParsed.UTC()
		return &t
	case item.UpdatedParsed != nil:
		t := item.UpdatedParsed.UTC()
		return &t
	}
	if t := ParseTimePtr(item.Published); t != nil {
		return t
	}
	return ParseTimePtr(item.Updated)
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// FreshEntries returns the entries worth turning into drops: those with a link
// that were not published strictly before since. Entries without a publish
// date are always kept. A nil since keeps every linked entry.
func FreshEntries(entries []Entry, since *time.Time) []Entry {
	fresh := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Link == nil {
			continue
		}
		if since != nil && e.PublishedAt != nil && e.PublishedAt.Before(*since) {
			continue
		}
		fresh = append(fresh, e)
	}
	return fresh
}
