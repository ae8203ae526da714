package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cafeofbrokendreams/cafesite/internal/cache"
	"github.com/charmbracelet/log"
	"github.com/google/go-cmp/cmp"
)

func newTestServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/announcements":
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<div class=\"bodytext\">hello</div>")
		case "/agent":
			_, _ = io.WriteString(w, r.UserAgent())
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testClient() *Client {
	return New(Config{Timeout: 5 * time.Second, RequestsPerMinute: 60000})
}

func TestClient_Fetch(t *testing.T) {
	var hits atomic.Int64
	srv := newTestServer(t, &hits)

	url := srv.URL + "/announcements"
	page, err := testClient().Fetch(context.Background(), url)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if page.URL != url {
		t.Errorf("URL = %q, want %q", page.URL, url)
	}
	if page.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", page.StatusCode, http.StatusOK)
	}
	if page.ContentType != "text/html" {
		t.Errorf("ContentType = %q, want %q", page.ContentType, "text/html")
	}
	if diff := cmp.Diff("<div class=\"bodytext\">hello</div>", string(page.Body)); diff != "" {
		t.Errorf("Body mismatch (-want +got):\n%s", diff)
	}
	if page.FetchedAt.IsZero() {
		t.Error("FetchedAt not set")
	}
}

func TestClient_FetchSendsUserAgent(t *testing.T) {
	var hits atomic.Int64
	srv := newTestServer(t, &hits)

	c := New(Config{RequestsPerMinute: 60000, UserAgent: "cafe-test"})
	page, err := c.Fetch(context.Background(), srv.URL+"/agent")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(page.Body) != "cafe-test" {
		t.Errorf("User-Agent = %q, want %q", page.Body, "cafe-test")
	}
}

func TestClient_FetchStatusError(t *testing.T) {
	var hits atomic.Int64
	srv := newTestServer(t, &hits)

	_, err := testClient().Fetch(context.Background(), srv.URL+"/missing")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Fetch returned %v, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, http.StatusNotFound)
	}
}

func TestClient_FetchCanceled(t *testing.T) {
	// One request per minute: the second call has to wait on the limiter.
	c := New(Config{RequestsPerMinute: 1})
	var hits atomic.Int64
	srv := newTestServer(t, &hits)

	if _, err := c.Fetch(context.Background(), srv.URL+"/announcements"); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Fetch(ctx, srv.URL+"/announcements"); err == nil {
		t.Fatal("Fetch succeeded despite rate limit and expired context")
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("Server hit %d times, want 1", n)
	}
}

func TestForURL(t *testing.T) {
	valid := ForURL("https://example.com/a")

	if !valid(Page{URL: "https://example.com/a"}) {
		t.Error("Page for the same URL rejected")
	}
	if valid(Page{URL: "https://example.com/b"}) {
		t.Error("Page for another URL accepted")
	}
}

func TestProducer_ServesThroughCache(t *testing.T) {
	var hits atomic.Int64
	srv := newTestServer(t, &hits)
	url := srv.URL + "/announcements"
	client := testClient()

	c, err := cache.New(
		cache.FileName(t.TempDir(), url),
		time.Hour,
		client.Producer(url),
		ForURL(url),
		cache.WithLogger(log.New(io.Discard)),
		cache.WithCompression(3),
	)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	first, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	second, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Second Get failed: %v", err)
	}

	if diff := cmp.Diff(first.Body, second.Body); diff != "" {
		t.Errorf("Cached body mismatch (-want +got):\n%s", diff)
	}
	if !first.FetchedAt.Equal(second.FetchedAt) {
		t.Errorf("FetchedAt changed: %v != %v", first.FetchedAt, second.FetchedAt)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("Server hit %d times, want 1", n)
	}
}
