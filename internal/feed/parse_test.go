package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example</title>
    <link>https://example.com/</link>
    <description>fixture</description>
    <item>
      <title>Old post</title>
      <link>https://example.com/old</link>
      <pubDate>Mon, 01 Jan 2024 10:00:00 +0000</pubDate>
    </item>
    <item>
      <title>New post</title>
      <link>https://example.com/new</link>
      <pubDate>Wed, 01 May 2024 10:00:00 +0000</pubDate>
    </item>
    <item>
      <title>Undated post</title>
      <link>https://example.com/undated</link>
    </item>
    <item>
      <title>No link</title>
      <pubDate>Wed, 01 May 2024 10:00:00 +0000</pubDate>
    </item>
  </channel>
</rss>`

const atomFixture = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Example</title>
  <id>urn:uuid:60a76c80-d399-11d9-b93C-0003939e0af6</id>
  <updated>2024-05-01T10:00:00Z</updated>
  <entry>
    <title>Atom entry</title>
    <link href="https://example.com/atom/1"/>
    <id>urn:uuid:1225c695-cfb8-4ebb-aaaa-80da344efa6a</id>
    <updated>2024-05-02T12:00:00Z</updated>
  </entry>
</feed>`

func TestParseRSS(t *testing.T) {
	t.Parallel()

	entries, err := Parse([]byte(rssFixture))
	require.NoError(t, err)
	require.Len(t, entries, 4)

	require.NotNil(t, entries[0].Title)
	assert.Equal(t, "Old post", *entries[0].Title)
	require.NotNil(t, entries[0].Link)
	assert.Equal(t, "https://example.com/old", *entries[0].Link)
	require.NotNil(t, entries[0].PublishedAt)
	assert.True(t, entries[0].PublishedAt.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))

	assert.Nil(t, entries[2].PublishedAt)
	assert.Nil(t, entries[3].Link)
}

func TestParseAtomFallsBackToUpdated(t *testing.T) {
	t.Parallel()

	entries, err := Parse([]byte(atomFixture))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Link)
	assert.Equal(t, "https://example.com/atom/1", *entries[0].Link)
	require.NotNil(t, entries[0].PublishedAt)
	assert.True(t, entries[0].PublishedAt.Equal(time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)))
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("this is not a feed"))
	assert.Error(t, err)
}

func TestFreshEntries(t *testing.T) {
	t.Parallel()

	entries, err := Parse([]byte(rssFixture))
	require.NoError(t, err)

	// Never fetched: every linked entry is fresh.
	all := FreshEntries(entries, nil)
	assert.Len(t, all, 3)

	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	fresh := FreshEntries(entries, &since)
	require.Len(t, fresh, 2)
	assert.Equal(t, "https://example.com/new", *fresh[0].Link)
	assert.Equal(t, "https://example.com/undated", *fresh[1].Link)
}

func TestFreshEntries_PublishedAtBoundaryIsKept(t *testing.T) {
	t.Parallel()

	link := "https://example.com/x"
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	got := FreshEntries([]Entry{{Link: &link, PublishedAt: &at}}, &at)
	assert.Len(t, got, 1, "only entries strictly before since are dropped")
}
