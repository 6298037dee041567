package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/revtrend/pkg/revtrend/internalerr"
	"github.com/cognicore/revtrend/pkg/revtrend/review"
	"github.com/cognicore/revtrend/pkg/revtrend/store"
)

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode enabled.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}

	// Initialize schema
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS topics (
	app_id TEXT NOT NULL,
	id INTEGER NOT NULL,
	label TEXT NOT NULL,
	embedding TEXT,
	created_by TEXT NOT NULL,
	first_seen TEXT NOT NULL,
	PRIMARY KEY(app_id, id)
);

CREATE TABLE IF NOT EXISTS topic_aliases (
	app_id TEXT NOT NULL,
	topic_id INTEGER NOT NULL,
	alias TEXT NOT NULL,
	PRIMARY KEY(app_id, topic_id, alias),
	FOREIGN KEY(app_id, topic_id) REFERENCES topics(app_id, id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS daily_counts (
	app_id TEXT NOT NULL,
	day TEXT NOT NULL,
	topic_id INTEGER NOT NULL,
	count INTEGER NOT NULL CHECK(count >= 0),
	PRIMARY KEY(app_id, day, topic_id),
	FOREIGN KEY(app_id, topic_id) REFERENCES topics(app_id, id)
);

CREATE TABLE IF NOT EXISTS days (
	app_id TEXT NOT NULL,
	day TEXT NOT NULL,
	reviews INTEGER NOT NULL,
	topicless INTEGER NOT NULL,
	run_id TEXT NOT NULL,
	processed_at TEXT NOT NULL,
	PRIMARY KEY(app_id, day)
);

CREATE INDEX IF NOT EXISTS idx_daily_counts_app_day ON daily_counts(app_id, day);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// LoadTopics returns every topic of an app in id order.
func (s *sqliteStore) LoadTopics(ctx context.Context, appID string) ([]store.Topic, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, label, embedding, created_by, first_seen
FROM topics
WHERE app_id = ?
ORDER BY id`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []store.Topic
	for rows.Next() {
		var (
			t         store.Topic
			embedding sql.NullString
			firstSeen string
		)
		if err := rows.Scan(&t.ID, &t.Label, &embedding, &t.CreatedBy, &firstSeen); err != nil {
			return nil, err
		}
		if embedding.Valid && embedding.String != "" {
			if err := json.Unmarshal([]byte(embedding.String), &t.Embedding); err != nil {
				return nil, fmt.Errorf("%w: topic %d embedding: %v", internalerr.ErrCorruptState, t.ID, err)
			}
		}
		if t.FirstSeen, err = parseDay(firstSeen); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	aliases, err := s.loadAliases(ctx, appID)
	if err != nil {
		return nil, err
	}
	for i := range topics {
		topics[i].Aliases = aliases[topics[i].ID]
	}
	return topics, nil
}

func (s *sqliteStore) loadAliases(ctx context.Context, appID string) (map[int64][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT topic_id, alias FROM topic_aliases
WHERE app_id = ?
ORDER BY topic_id, alias`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]string)
	for rows.Next() {
		var (
			id    int64
			alias string
		)
		if err := rows.Scan(&id, &alias); err != nil {
			return nil, err
		}
		out[id] = append(out[id], alias)
	}
	return out, rows.Err()
}

// CommitDay writes one processed day in a single transaction.
func (s *sqliteStore) CommitDay(ctx context.Context, c store.DayCommit) error {
	if c.Day.AppID == "" {
		return fmt.Errorf("%w: commit without app id", internalerr.ErrInvalidInput)
	}
	if err := store.ValidateCounts(c.Counts); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	appID := c.Day.AppID
	day := review.FormatDay(c.Day.Day)

	if err := upsertTopics(ctx, tx, appID, c.Topics); err != nil {
		return err
	}
	if err := replaceDailyCounts(ctx, tx, appID, day, c.Counts); err != nil {
		return err
	}

	const stmt = `
INSERT INTO days (app_id, day, reviews, topicless, run_id, processed_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(app_id, day) DO UPDATE SET
	reviews=excluded.reviews,
	topicless=excluded.topicless,
	run_id=excluded.run_id,
	processed_at=excluded.processed_at;
`
	if _, err := tx.ExecContext(ctx, stmt,
		appID,
		day,
		c.Day.Reviews,
		c.Day.Topicless,
		c.Day.RunID,
		c.Day.ProcessedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return err
	}

	return tx.Commit()
}

func upsertTopics(ctx context.Context, tx *sql.Tx, appID string, topics []store.Topic) error {
	if len(topics) == 0 {
		return nil
	}
	topicStmt, err := tx.PrepareContext(ctx, `
INSERT INTO topics (app_id, id, label, embedding, created_by, first_seen)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(app_id, id) DO UPDATE SET
	label=excluded.label`)
	if err != nil {
		return err
	}
	defer topicStmt.Close()

	aliasStmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO topic_aliases (app_id, topic_id, alias) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer aliasStmt.Close()

	for _, t := range topics {
		var embedding sql.NullString
		if len(t.Embedding) > 0 {
			raw, err := json.Marshal(t.Embedding)
			if err != nil {
				return err
			}
			embedding = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err := topicStmt.ExecContext(ctx,
			appID, t.ID, t.Label, embedding, t.CreatedBy, review.FormatDay(t.FirstSeen),
		); err != nil {
			return fmt.Errorf("upsert topic %d: %w", t.ID, err)
		}
		for _, alias := range t.Aliases {
			if alias == "" {
				continue
			}
			if _, err := aliasStmt.ExecContext(ctx, appID, t.ID, alias); err != nil {
				return fmt.Errorf("alias %q for topic %d: %w", alias, t.ID, err)
			}
		}
	}
	return nil
}

func replaceDailyCounts(ctx context.Context, tx *sql.Tx, appID, day string, counts []store.DailyCount) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_counts WHERE app_id=? AND day=?`, appID, day); err != nil {
		return err
	}
	if len(counts) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO daily_counts (app_id, day, topic_id, count) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range counts {
		if c.Count == 0 {
			continue
		}
		if _, err := stmt.ExecContext(ctx, appID, day, c.TopicID, c.Count); err != nil {
			return fmt.Errorf("count for topic %d: %w", c.TopicID, err)
		}
	}
	return nil
}

// GetDailyCounts returns counts for days in [from, to], ordered by day then
// topic id.
func (s *sqliteStore) GetDailyCounts(ctx context.Context, appID string, from, to time.Time) ([]store.DailyCount, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT day, topic_id, count
FROM daily_counts
WHERE app_id = ? AND day >= ? AND day <= ?
ORDER BY day, topic_id`, appID, review.FormatDay(from), review.FormatDay(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.DailyCount
	for rows.Next() {
		var (
			c   store.DailyCount
			day string
		)
		if err := rows.Scan(&day, &c.TopicID, &c.Count); err != nil {
			return nil, err
		}
		if c.Day, err = parseDay(day); err != nil {
			return nil, err
		}
		c.AppID = appID
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := store.ValidateCounts(out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetDays returns processed-day records in [from, to], ordered by day.
func (s *sqliteStore) GetDays(ctx context.Context, appID string, from, to time.Time) ([]store.DayRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT day, reviews, topicless, run_id, processed_at
FROM days
WHERE app_id = ? AND day >= ? AND day <= ?
ORDER BY day`, appID, review.FormatDay(from), review.FormatDay(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.DayRecord
	for rows.Next() {
		var (
			d                 store.DayRecord
			day, processedAt string
		)
		if err := rows.Scan(&day, &d.Reviews, &d.Topicless, &d.RunID, &processedAt); err != nil {
			return nil, err
		}
		if d.Day, err = parseDay(day); err != nil {
			return nil, err
		}
		if parsed, perr := time.Parse(time.RFC3339, processedAt); perr == nil {
			d.ProcessedAt = parsed
		}
		d.AppID = appID
		out = append(out, d)
	}
	return out, rows.Err()
}

// Apps lists every app with persisted topics or days.
func (s *sqliteStore) Apps(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT app_id FROM topics
UNION
SELECT app_id FROM days`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var app string
		if err := rows.Scan(&app); err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	sort.Strings(out)
	return out, rows.Err()
}

func parseDay(s string) (time.Time, error) {
	d, err := review.ParseDay(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad day %q", internalerr.ErrCorruptState, s)
	}
	return d, nil
}
