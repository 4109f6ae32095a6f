// Package memory is the personal memory store behind the memory tools. Entries
// live in SQLite with an FTS5 index for keyword recall and a hashed embedding
// per row for similarity search.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound     = errors.New("memory not found")
	ErrEmptyContent = errors.New("memory content is empty")
)

const (
	DefaultType   = "general"
	DefaultSource = "user"
)

// Memory is one stored item.
type Memory struct {
	ID         string    `json:"id"`
	Type       string    `json:"memory_type"`
	Content    string    `json:"content"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"timestamp"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Config controls the store.
type Config struct {
	// DBPath is the SQLite file. ":memory:" works for throwaway stores.
	DBPath string
	// Embedder defaults to a HashEmbedder of EmbeddingDims width.
	Embedder      Embedder
	EmbeddingDims int
	VectorWeight  float64
	KeywordWeight float64
	CacheSize     int
}

func (c *Config) validate() {
	if c.VectorWeight == 0 && c.KeywordWeight == 0 {
		c.VectorWeight = 0.7
		c.KeywordWeight = 0.3
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 128
	}
	if c.Embedder == nil {
		c.Embedder = NewHashEmbedder(c.EmbeddingDims)
	}
}

// Store is safe for concurrent use.
type Store struct {
	db       *sql.DB
	cfg      Config
	embedder Embedder
	cache    *embeddingCache
	logger   *slog.Logger
	now      func() time.Time
}

// Open opens (creating if needed) the store at cfg.DBPath.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	cfg.validate()

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("memory: open db: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: wal mode: %w", err)
	}

	s := &Store{
		db:       db,
		cfg:      cfg,
		embedder: cfg.Embedder,
		cache:    newEmbeddingCache(cfg.CacheSize),
		logger:   logger.With("component", "memory"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: migrate: %w", err)
	}
	s.logger.Info("memory store opened", "path", cfg.DBPath, "dims", s.embedder.Dims())
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id         TEXT PRIMARY KEY,
			type       TEXT NOT NULL,
			content    TEXT NOT NULL,
			source     TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 1.0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			embedding  BLOB
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(id UNINDEXED, content)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Add stores m and returns it with ID and timestamps filled in. Empty type
// and source get defaults; a confidence outside (0, 1] becomes 1.
func (s *Store) Add(ctx context.Context, m Memory) (Memory, error) {
	if m.Content == "" {
		return Memory{}, ErrEmptyContent
	}
	if m.Type == "" {
		m.Type = DefaultType
	}
	if m.Source == "" {
		m.Source = DefaultSource
	}
	if m.Confidence <= 0 || m.Confidence > 1 {
		m.Confidence = 1
	}
	m.ID = uuid.NewString()
	m.CreatedAt = s.now()
	m.UpdatedAt = m.CreatedAt

	vec, err := s.embed(m.Content)
	if err != nil {
		return Memory{}, fmt.Errorf("memory: embed: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Memory{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memories(id, type, content, source, confidence, created_at, updated_at, embedding)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Type, m.Content, m.Source, m.Confidence,
		m.CreatedAt.UnixNano(), m.UpdatedAt.UnixNano(), encodeVector(vec),
	); err != nil {
		return Memory{}, fmt.Errorf("memory: insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memories_fts(id, content) VALUES(?, ?)`, m.ID, m.Content,
	); err != nil {
		return Memory{}, fmt.Errorf("memory: index: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Memory{}, err
	}
	s.logger.Debug("memory stored", "id", m.ID, "type", m.Type)
	return m, nil
}

// Get returns the memory with id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, content, source, confidence, created_at, updated_at
		 FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Memory{}, ErrNotFound
	}
	return m, err
}

// List returns memories newest first. An empty memType lists every type and
// limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, memType string, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT id, type, content, source, confidence, created_at, updated_at FROM memories`
	args := []any{}
	if memType != "" {
		query += ` WHERE type = ?`
		args = append(args, memType)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: list: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Types returns the distinct memory types in use, sorted.
func (s *Store) Types(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT type FROM memories ORDER BY type`)
	if err != nil {
		return nil, fmt.Errorf("memory: types: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Update replaces the content of id and re-indexes it.
func (s *Store) Update(ctx context.Context, id, content string) (Memory, error) {
	if content == "" {
		return Memory{}, ErrEmptyContent
	}
	vec, err := s.embed(content)
	if err != nil {
		return Memory{}, fmt.Errorf("memory: embed: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Memory{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE memories SET content = ?, updated_at = ?, embedding = ? WHERE id = ?`,
		content, s.now().UnixNano(), encodeVector(vec), id)
	if err != nil {
		return Memory{}, fmt.Errorf("memory: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Memory{}, ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories_fts WHERE id = ?`, id); err != nil {
		return Memory{}, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO memories_fts(id, content) VALUES(?, ?)`, id, content); err != nil {
		return Memory{}, err
	}
	if err := tx.Commit(); err != nil {
		return Memory{}, err
	}
	return s.Get(ctx, id)
}

// Delete removes id. It returns ErrNotFound when nothing was deleted.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("memory: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories_fts WHERE id = ?`, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Debug("memory deleted", "id", id)
	return nil
}

// Count returns the number of stored memories.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n)
	return n, err
}

// Embedder returns the embedder used for stored rows.
func (s *Store) Embedder() Embedder { return s.embedder }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// embed returns a cached embedding for text.
func (s *Store) embed(text string) ([]float64, error) {
	if v := s.cache.get(text); v != nil {
		return v, nil
	}
	v, err := s.embedder.Embed(text)
	if err != nil {
		return nil, err
	}
	s.cache.put(text, v)
	return v, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(sc scanner) (Memory, error) {
	var (
		m                Memory
		created, updated int64
	)
	if err := sc.Scan(&m.ID, &m.Type, &m.Content, &m.Source, &m.Confidence, &created, &updated); err != nil {
		return Memory{}, err
	}
	m.CreatedAt, m.UpdatedAt = unixTime(created), unixTime(updated)
	return m, nil
}

func unixTime(ns int64) time.Time { return time.Unix(0, ns).UTC() }
