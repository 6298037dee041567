package reviewsource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cognicore/revtrend/pkg/revtrend/internalerr"
	"github.com/cognicore/revtrend/pkg/revtrend/review"
)

var day = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

func TestFileSourceRoundTrip(t *testing.T) {
	fs := NewFileSource(t.TempDir())
	in := []review.Review{
		{ID: "r1", Text: "Delivery was late again", Rating: 2},
		{ID: "r2", Text: "Food was stale", Rating: 1, ThumbsUp: 4},
	}
	if err := fs.Save("swiggy", day, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !fs.Has("swiggy", day) {
		t.Fatal("expected file to exist")
	}

	out, err := fs.Reviews(context.Background(), "swiggy", day)
	if err != nil {
		t.Fatalf("reviews: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d reviews, want 2", len(out))
	}
	if out[1].ID != "r2" || out[1].Text != "Food was stale" || out[1].ThumbsUp != 4 {
		t.Fatalf("unexpected review %+v", out[1])
	}
	if out[0].AppID != "swiggy" || !out[0].Day.Equal(day) {
		t.Fatalf("review not stamped: %+v", out[0])
	}
}

func TestFileSourceMissingDay(t *testing.T) {
	fs := NewFileSource(t.TempDir())
	_, err := fs.Reviews(context.Background(), "swiggy", day)
	if !errors.Is(err, internalerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileSourceSkipsMalformedLines(t *testing.T) {
	var logs bytes.Buffer
	fs := NewFileSource(t.TempDir())
	fs.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	if err := fs.Save("swiggy", day, []review.Review{{ID: "r1", Text: "ok review text"}}); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(fs.Path("swiggy", day), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not json\n\n")
	f.Close()

	out, err := fs.Reviews(context.Background(), "swiggy", day)
	if err != nil {
		t.Fatalf("reviews: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d reviews, want 1", len(out))
	}
	if !strings.Contains(logs.String(), "skipping malformed review") || !strings.Contains(logs.String(), "line=2") {
		t.Fatalf("malformed line not logged through the injected logger: %q", logs.String())
	}
}

func TestStripHTML(t *testing.T) {
	cases := map[string]string{
		"plain   text":                     "plain text",
		"<p>Food was <b>cold</b></p>":      "Food was cold",
		"line one<br>line two":             "line one line two",
		"fish &amp; chips":                 "fish & chips",
		"<script>x()</script>visible only": "visible only",
	}
	for in, want := range cases {
		if got := stripHTML(in); got != want {
			t.Errorf("stripHTML(%q) = %q, want %q", in, got, want)
		}
	}
}

func feedServer(t *testing.T, pages map[string]feedPage, status *int32) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if status != nil {
			if s := atomic.LoadInt32(status); s != 0 {
				w.WriteHeader(int(s))
				return
			}
		}
		if r.URL.Path != "/apps/in.swiggy.android/reviews" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("sort") != "newest" {
			t.Errorf("sort = %q", r.URL.Query().Get("sort"))
		}
		page, ok := pages[r.URL.Query().Get("token")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(page)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestHTTPSourcePaginatesUntilOlder(t *testing.T) {
	at := func(d time.Time, h int) time.Time { return d.Add(time.Duration(h) * time.Hour) }
	next := day.AddDate(0, 0, 1)
	prev := day.AddDate(0, 0, -1)
	pages := map[string]feedPage{
		"": {Reviews: []feedReview{
			{ID: "n1", Content: "newer", At: at(next, 3)},
			{ID: "a", Content: "<p>Delivery late</p>", At: at(day, 20)},
		}, NextToken: "p2"},
		"p2": {Reviews: []feedReview{
			{ID: "b", Content: "Food stale", Score: 1, At: at(day, 2)},
			{ID: "o1", Content: "older", At: at(prev, 23)},
		}, NextToken: "p3"},
		"p3": {Reviews: []feedReview{{ID: "o2", Content: "too old", At: at(prev, 1)}}},
	}
	srv, calls := feedServer(t, pages, nil)

	src := NewHTTPSource(HTTPConfig{
		BaseURL:  srv.URL,
		Packages: map[string]string{"swiggy": "in.swiggy.android"},
	})
	got, err := src.Reviews(context.Background(), "swiggy", day)
	if err != nil {
		t.Fatalf("reviews: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("unexpected reviews %+v", got)
	}
	if got[0].Text != "Delivery late" {
		t.Fatalf("html not stripped: %q", got[0].Text)
	}
	if got[1].AppID != "swiggy" || got[1].Rating != 1 {
		t.Fatalf("review not mapped: %+v", got[1])
	}
	if n := atomic.LoadInt32(calls); n != 2 {
		t.Fatalf("expected 2 page requests, got %d", n)
	}
}

func TestHTTPSourceMaxPages(t *testing.T) {
	pages := map[string]feedPage{
		"":   {Reviews: []feedReview{{ID: "a", Content: "x", At: day}}, NextToken: "p2"},
		"p2": {Reviews: []feedReview{{ID: "b", Content: "y", At: day}}, NextToken: "p3"},
		"p3": {Reviews: []feedReview{{ID: "c", Content: "z", At: day}}},
	}
	srv, _ := feedServer(t, pages, nil)
	src := NewHTTPSource(HTTPConfig{BaseURL: srv.URL, MaxPages: 2})
	got, err := src.Reviews(context.Background(), "in.swiggy.android", day)
	if err != nil {
		t.Fatalf("reviews: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d reviews, want 2", len(got))
	}
}

func TestHTTPSourceUnavailable(t *testing.T) {
	for _, code := range []int32{http.StatusTooManyRequests, http.StatusBadGateway} {
		status := code
		srv, _ := feedServer(t, nil, &status)
		src := NewHTTPSource(HTTPConfig{BaseURL: srv.URL})
		_, err := src.Reviews(context.Background(), "in.swiggy.android", day)
		if !errors.Is(err, internalerr.ErrSourceUnavailable) {
			t.Fatalf("HTTP %d: expected ErrSourceUnavailable, got %v", code, err)
		}
	}

	src := NewHTTPSource(HTTPConfig{})
	if _, err := src.Reviews(context.Background(), "x", day); !errors.Is(err, internalerr.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable without base URL, got %v", err)
	}
}

type fetcherFunc func(ctx context.Context, appID string, day time.Time) ([]review.Review, error)

func (f fetcherFunc) Reviews(ctx context.Context, appID string, day time.Time) ([]review.Review, error) {
	return f(ctx, appID, day)
}

func TestCachingSourceFetchesOnce(t *testing.T) {
	var fetches int
	remote := fetcherFunc(func(_ context.Context, appID string, d time.Time) ([]review.Review, error) {
		fetches++
		return []review.Review{{ID: "f1", AppID: appID, Day: d, Text: "fetched review"}}, nil
	})
	cs := &CachingSource{Local: NewFileSource(t.TempDir()), Remote: remote}

	for i := 0; i < 2; i++ {
		got, err := cs.Reviews(context.Background(), "swiggy", day)
		if err != nil {
			t.Fatalf("reviews: %v", err)
		}
		if len(got) != 1 || got[0].ID != "f1" {
			t.Fatalf("unexpected reviews %+v", got)
		}
	}
	if fetches != 1 {
		t.Fatalf("expected one remote fetch, got %d", fetches)
	}
}

func TestCachingSourceWithoutRemote(t *testing.T) {
	cs := &CachingSource{Local: NewFileSource(t.TempDir())}
	if _, err := cs.Reviews(context.Background(), "swiggy", day); !errors.Is(err, internalerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCachingSourceRemoteFailure(t *testing.T) {
	remote := fetcherFunc(func(context.Context, string, time.Time) ([]review.Review, error) {
		return nil, internalerr.ErrSourceUnavailable
	})
	local := NewFileSource(t.TempDir())
	cs := &CachingSource{Local: local, Remote: remote}
	if _, err := cs.Reviews(context.Background(), "swiggy", day); !errors.Is(err, internalerr.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if local.Has("swiggy", day) {
		t.Fatal("failed fetch must not be cached")
	}
}
