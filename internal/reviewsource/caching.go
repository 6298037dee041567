package reviewsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cognicore/revtrend/pkg/revtrend/internalerr"
	"github.com/cognicore/revtrend/pkg/revtrend/review"
)

// Fetcher is a remote review source.
type Fetcher interface {
	Reviews(ctx context.Context, appID string, day time.Time) ([]review.Review, error)
}

// CachingSource reads the local store first. When Remote is set, missing
// days are fetched and saved locally.
type CachingSource struct {
	Local  *FileSource
	Remote Fetcher
	Logger *slog.Logger
}

func (c *CachingSource) Reviews(ctx context.Context, appID string, day time.Time) ([]review.Review, error) {
	reviews, err := c.Local.Reviews(ctx, appID, day)
	if err == nil || !errors.Is(err, internalerr.ErrNotFound) || c.Remote == nil {
		return reviews, err
	}

	fetched, err := c.Remote.Reviews(ctx, appID, day)
	if err != nil {
		return nil, err
	}
	if err := c.Local.Save(appID, day, fetched); err != nil {
		return nil, fmt.Errorf("cache reviews: %w", err)
	}
	c.logger().Info("fetched reviews", "app", appID, "day", review.FormatDay(day), "count", len(fetched))
	return fetched, nil
}

func (c *CachingSource) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
