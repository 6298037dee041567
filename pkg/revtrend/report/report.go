// Package report builds rolling topic × date frequency matrices from
// persisted daily counts.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cognicore/revtrend/pkg/revtrend/internalerr"
	"github.com/cognicore/revtrend/pkg/revtrend/review"
	"github.com/cognicore/revtrend/pkg/revtrend/store"
)

// DefaultWindow is the number of days in a report.
const DefaultWindow = 30

// Row is one topic's counts across the window.
type Row struct {
	TopicID int64
	Label   string
	Counts  []int // aligned with Matrix.Dates
	Total   int
}

// Matrix is a topic × date frequency table.
type Matrix struct {
	AppID     string
	Target    time.Time
	Dates     []time.Time // ascending
	Processed []bool      // aligned with Dates
	Rows      []Row       // total desc, then topic id asc
}

// ProcessedDays returns how many dates in the window have been processed.
func (m *Matrix) ProcessedDays() int {
	n := 0
	for _, p := range m.Processed {
		if p {
			n++
		}
	}
	return n
}

// Top returns at most n rows from the head of the matrix.
func (m *Matrix) Top(n int) []Row {
	if n <= 0 || n > len(m.Rows) {
		n = len(m.Rows)
	}
	return m.Rows[:n]
}

// Generator reads counts and labels from a store. It never writes.
type Generator struct {
	store store.Store
}

// NewGenerator creates a Generator over st.
func NewGenerator(st store.Store) *Generator {
	return &Generator{store: st}
}

// Build assembles the window of the given size ending at target, inclusive
// on both ends. Days never processed show zero. If no day in the window has
// been processed the result is ErrEmptyWindow.
func (g *Generator) Build(ctx context.Context, appID string, target time.Time, window int) (*Matrix, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: window %d", internalerr.ErrInvalidInput, window)
	}
	dates := review.Window(target, window)
	from, to := dates[0], dates[len(dates)-1]

	days, err := g.store.GetDays(ctx, appID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load days: %w", err)
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("%w: %s %s..%s", internalerr.ErrEmptyWindow, appID, review.FormatDay(from), review.FormatDay(to))
	}

	counts, err := g.store.GetDailyCounts(ctx, appID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load counts: %w", err)
	}
	topics, err := g.store.LoadTopics(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("load topics: %w", err)
	}
	labels := make(map[int64]string, len(topics))
	for _, t := range topics {
		labels[t.ID] = t.Label
	}

	col := make(map[string]int, len(dates))
	for i, d := range dates {
		col[review.FormatDay(d)] = i
	}

	m := &Matrix{
		AppID:     appID,
		Target:    review.Day(target),
		Dates:     dates,
		Processed: make([]bool, len(dates)),
	}
	for _, d := range days {
		if i, ok := col[review.FormatDay(d.Day)]; ok {
			m.Processed[i] = true
		}
	}

	rows := make(map[int64]*Row)
	for _, c := range counts {
		i, ok := col[review.FormatDay(c.Day)]
		if !ok || c.Count == 0 {
			continue
		}
		row := rows[c.TopicID]
		if row == nil {
			label, known := labels[c.TopicID]
			if !known {
				return nil, fmt.Errorf("%w: counts reference unknown topic %d", internalerr.ErrCorruptState, c.TopicID)
			}
			row = &Row{TopicID: c.TopicID, Label: label, Counts: make([]int, len(dates))}
			rows[c.TopicID] = row
		}
		row.Counts[i] += c.Count
		row.Total += c.Count
	}

	m.Rows = make([]Row, 0, len(rows))
	for _, row := range rows {
		m.Rows = append(m.Rows, *row)
	}
	sort.Slice(m.Rows, func(i, j int) bool {
		if m.Rows[i].Total != m.Rows[j].Total {
			return m.Rows[i].Total > m.Rows[j].Total
		}
		return m.Rows[i].TopicID < m.Rows[j].TopicID
	})
	return m, nil
}
