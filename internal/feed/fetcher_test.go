package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// plainHTTPClient returns a plain HTTP client for tests. The production client
// from BuildSafeClient blocks 127.0.0.1, which is where httptest listens.
func plainHTTPClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}

func TestHTTPFetcher_Success(t *testing.T) {
	t.Parallel()

	uaCh := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uaCh <- r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssFixture))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(plainHTTPClient(), Config{UserAgent: "metagram-test"})
	body, err := f.Fetch(context.Background(), srv.URL+"/feed.xml")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != rssFixture {
		t.Errorf("body mismatch: got %d bytes", len(body))
	}
	if gotUA := <-uaCh; gotUA != "metagram-test" {
		t.Errorf("User-Agent = %q, want %q", gotUA, "metagram-test")
	}
}

func TestHTTPFetcher_Non2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(plainHTTPClient(), Config{})
	_, err := f.Fetch(context.Background(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Errorf("Fetch err = %v, want HTTP 404", err)
	}
}

func TestHTTPFetcher_BodyCap(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(plainHTTPClient(), Config{MaxBytes: 1024})
	_, err := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("Fetch err = %v, want ErrTooLarge", err)
	}
}

func TestHTTPFetcher_RejectsScheme(t *testing.T) {
	t.Parallel()

	f := NewHTTPFetcher(plainHTTPClient(), Config{})
	if _, err := f.Fetch(context.Background(), "file:///etc/passwd"); err == nil {
		t.Error("expected error for file:// URL")
	}
}

func TestSafeClient_BlocksLoopback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(rssFixture))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(BuildSafeClient(2*time.Second), Config{})
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Error("safe client fetched a loopback URL")
	}
}

func TestHTTPFetcher_RateLimitHonorsContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(rssFixture))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(plainHTTPClient(), Config{PerHostInterval: time.Hour})
	if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("first Fetch: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := f.Fetch(ctx, srv.URL); err == nil {
		t.Error("second Fetch to the same host should wait on the limiter and fail on deadline")
	}
}
