package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/your-org/mediascribe/internal/resolver"
)

// SQLite keeps cache entries on disk so restarts begin warm. Entries still
// honor the TTL: this is a cache with memory, not a durable store.
type SQLite struct {
	db     *sql.DB
	ttl    time.Duration
	logger *zap.Logger
}

// NewSQLite opens (creating if necessary) the cache database at path.
func NewSQLite(path string, ttl time.Duration, logger *zap.Logger) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db, ttl: ttl, logger: logger}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS resolved_media (
		url        TEXT PRIMARY KEY,
		payload    TEXT NOT NULL,
		expires_at DATETIME NOT NULL
	);`); err != nil {
		return fmt.Errorf("create resolved_media table: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get implements resolver.MetadataCache. Stale rows are filtered in SQL;
// read errors degrade to a miss.
func (s *SQLite) Get(ctx context.Context, key string) (resolver.ResolvedMedia, bool) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM resolved_media WHERE url = ? AND expires_at > ?`,
		key, time.Now().UTC(),
	)

	var payload string
	if err := row.Scan(&payload); err != nil {
		if err != sql.ErrNoRows {
			s.logger.Warn("cache read failed", zap.String("url", key), zap.Error(err))
		}
		return resolver.ResolvedMedia{}, false
	}

	var media resolver.ResolvedMedia
	if err := json.Unmarshal([]byte(payload), &media); err != nil {
		s.logger.Warn("cache payload corrupt", zap.String("url", key), zap.Error(err))
		return resolver.ResolvedMedia{}, false
	}
	return media, true
}

// Put implements resolver.MetadataCache. Rows whose TTL already lapsed are
// cleared opportunistically on the same connection.
func (s *SQLite) Put(ctx context.Context, key string, media resolver.ResolvedMedia) {
	payload, err := json.Marshal(media)
	if err != nil {
		s.logger.Warn("cache payload marshal failed", zap.String("url", key), zap.Error(err))
		return
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO resolved_media (url, payload, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET payload=excluded.payload, expires_at=excluded.expires_at`,
		key, string(payload), now.Add(s.ttl),
	); err != nil {
		s.logger.Warn("cache write failed", zap.String("url", key), zap.Error(err))
		return
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM resolved_media WHERE expires_at <= ?`, now,
	); err != nil {
		s.logger.Warn("cache cleanup failed", zap.Error(err))
	}
}
