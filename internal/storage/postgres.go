package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/deusflow/newsgraph/internal/logger"
	"github.com/deusflow/newsgraph/internal/news"
)

const mirrorSchema = `
	CREATE TABLE IF NOT EXISTS gdelt_articles (
		id             CHAR(40) PRIMARY KEY,
		url            TEXT NOT NULL,
		title          TEXT,
		published_at   TIMESTAMPTZ,
		domain         TEXT,
		language       TEXT,
		source_country TEXT,
		social_image   TEXT,
		day            DATE NOT NULL,
		ingested_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_gdelt_articles_day ON gdelt_articles(day);
	CREATE INDEX IF NOT EXISTS idx_gdelt_articles_domain ON gdelt_articles(domain);
`

const mirrorInsert = `
	INSERT INTO gdelt_articles (id, url, title, published_at, domain, language, source_country, social_image, day)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO NOTHING
`

// PostgresMirror copies newly partitioned articles into a queryable table.
// Parquet files stay the source of truth; the table only ever grows.
type PostgresMirror struct {
	db *sql.DB
}

// NewPostgresMirror connects and makes sure the table exists.
func NewPostgresMirror(ctx context.Context, connectionString string) (*PostgresMirror, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, mirrorSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Debug("postgres mirror connected")
	return &PostgresMirror{db: db}, nil
}

// Insert stores articles, skipping ids already present, and returns how many
// rows were actually inserted.
func (pm *PostgresMirror) Insert(ctx context.Context, articles []news.Article, now time.Time) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}

	tx, err := pm.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin mirror tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, mirrorInsert)
	if err != nil {
		return 0, fmt.Errorf("prepare mirror insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, a := range articles {
		res, err := stmt.ExecContext(ctx, mirrorArgs(a, now)...)
		if err != nil {
			return 0, fmt.Errorf("mirroring article %s: %w", a.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit mirror tx: %w", err)
	}
	return inserted, nil
}

func mirrorArgs(a news.Article, now time.Time) []any {
	var published sql.NullTime
	if a.PublishedAt != nil {
		published = sql.NullTime{Time: *a.PublishedAt, Valid: true}
	}
	return []any{
		a.ID,
		a.URL,
		nullString(a.Title),
		published,
		nullString(a.Domain),
		nullString(a.Language),
		nullString(a.SourceCountry),
		nullString(a.SocialImage),
		a.Day(now),
	}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// Close closes the database connection
func (pm *PostgresMirror) Close() error {
	if pm.db != nil {
		return pm.db.Close()
	}
	return nil
}
