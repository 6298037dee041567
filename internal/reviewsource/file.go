// Package reviewsource supplies daily review batches: a local JSONL cache,
// a paginated HTTP fetcher, and a source that combines the two.
package reviewsource

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cognicore/revtrend/pkg/revtrend/internalerr"
	"github.com/cognicore/revtrend/pkg/revtrend/review"
)

// record is the on-disk form of a review, one JSON object per line.
type record struct {
	ID         string    `json:"review_id"`
	Content    string    `json:"content"`
	Score      int       `json:"score,omitempty"`
	ThumbsUp   int       `json:"thumbs_up,omitempty"`
	Language   string    `json:"language,omitempty"`
	Date       time.Time `json:"date"`
	ReviewDate string    `json:"review_date"`
}

// FileSource reads and writes reviews_YYYY-MM-DD.jsonl files under one
// directory per app.
type FileSource struct {
	Dir    string
	Logger *slog.Logger // slog.Default() when nil
}

// NewFileSource returns a FileSource rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

// Path returns the file holding appID's reviews for day.
func (f *FileSource) Path(appID string, day time.Time) string {
	return filepath.Join(f.Dir, appID, "reviews_"+review.FormatDay(day)+".jsonl")
}

// Has reports whether a file exists for (appID, day).
func (f *FileSource) Has(appID string, day time.Time) bool {
	_, err := os.Stat(f.Path(appID, day))
	return err == nil
}

// Reviews loads the stored batch. A missing file is ErrNotFound.
func (f *FileSource) Reviews(ctx context.Context, appID string, day time.Time) ([]review.Review, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := f.Path(appID, day)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no reviews for %s on %s", internalerr.ErrNotFound, appID, review.FormatDay(day))
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	day = review.Day(day)
	var out []review.Review
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			f.logger().Warn("skipping malformed review", "file", path, "line", line, "err", err)
			continue
		}
		out = append(out, review.Review{
			ID:       rec.ID,
			AppID:    appID,
			Day:      day,
			Text:     rec.Content,
			Rating:   rec.Score,
			ThumbsUp: rec.ThumbsUp,
			Language: rec.Language,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// Save writes reviews for (appID, day), replacing any existing file.
func (f *FileSource) Save(appID string, day time.Time, reviews []review.Review) error {
	path := f.Path(appID, day)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	day = review.Day(day)
	for _, r := range reviews {
		rec := record{
			ID:         r.ID,
			Content:    r.Text,
			Score:      r.Rating,
			ThumbsUp:   r.ThumbsUp,
			Language:   r.Language,
			Date:       day,
			ReviewDate: review.FormatDay(day),
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (f *FileSource) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}
