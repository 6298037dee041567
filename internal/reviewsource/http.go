package reviewsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/cognicore/revtrend/pkg/revtrend/internalerr"
	"github.com/cognicore/revtrend/pkg/revtrend/review"
)

const (
	defaultPageSize = 200
	defaultMaxPages = 10
)

// HTTPConfig configures an HTTPSource.
type HTTPConfig struct {
	BaseURL    string
	Lang       string
	Country    string
	PageSize   int
	MaxPages   int
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
	// Packages maps app ids to store package ids. Unmapped ids are used as is.
	Packages   map[string]string
	HTTPClient *http.Client
}

// HTTPSource pages through a review feed, newest first, keeping the reviews
// posted on the requested day.
//
// The feed is GET {base}/apps/{package}/reviews with lang, country,
// sort=newest, count and an optional continuation token; it answers
// {"reviews": [...], "next_token": "..."}.
type HTTPSource struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
}

type feedReview struct {
	ID       string    `json:"review_id"`
	Content  string    `json:"content"`
	Score    int       `json:"score"`
	ThumbsUp int       `json:"thumbs_up"`
	At       time.Time `json:"at"`
}

type feedPage struct {
	Reviews   []feedReview `json:"reviews"`
	NextToken string       `json:"next_token"`
}

// NewHTTPSource builds an HTTPSource.
func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	if cfg.Country == "" {
		cfg.Country = "in"
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPSource{cfg: cfg, client: client, limiter: rate.NewLimiter(limit, burst)}
}

// Reviews fetches appID's reviews for day. Transport failures, throttling
// and server errors are ErrSourceUnavailable.
func (h *HTTPSource) Reviews(ctx context.Context, appID string, day time.Time) ([]review.Review, error) {
	if h.cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: no review feed configured", internalerr.ErrSourceUnavailable)
	}
	day = review.Day(day)
	pkg := appID
	if p, ok := h.cfg.Packages[appID]; ok && p != "" {
		pkg = p
	}

	var out []review.Review
	token := ""
	for page := 0; page < h.cfg.MaxPages; page++ {
		fp, err := h.fetchPage(ctx, pkg, token)
		if err != nil {
			return nil, err
		}
		older := false
		for _, fr := range fp.Reviews {
			d := review.Day(fr.At)
			if d.Before(day) {
				older = true
				continue
			}
			if !d.Equal(day) {
				continue
			}
			out = append(out, review.Review{
				ID:       fr.ID,
				AppID:    appID,
				Day:      day,
				Text:     stripHTML(fr.Content),
				Rating:   fr.Score,
				ThumbsUp: fr.ThumbsUp,
				Language: h.cfg.Lang,
			})
		}
		if older || fp.NextToken == "" || len(fp.Reviews) == 0 {
			break
		}
		token = fp.NextToken
	}
	return out, nil
}

func (h *HTTPSource) fetchPage(ctx context.Context, pkg, token string) (*feedPage, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("lang", h.cfg.Lang)
	q.Set("country", h.cfg.Country)
	q.Set("sort", "newest")
	q.Set("count", strconv.Itoa(h.cfg.PageSize))
	if token != "" {
		q.Set("token", token)
	}
	u := fmt.Sprintf("%s/apps/%s/reviews?%s", h.cfg.BaseURL, url.PathEscape(pkg), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", internalerr.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s: HTTP %d", internalerr.ErrSourceUnavailable, pkg, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: app %s", internalerr.ErrNotFound, pkg)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("reviews %s: HTTP %d", pkg, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrSourceUnavailable, err)
	}
	var fp feedPage
	if err := json.Unmarshal(body, &fp); err != nil {
		return nil, fmt.Errorf("%w: decode page: %v", internalerr.ErrSourceUnavailable, err)
	}
	return &fp, nil
}
