package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"redline/internal/contentlog"
)

const snapshotAuthor = "redline"

// SQLLog is a contentlog.Log backed by the snapshots table.
type SQLLog struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

var _ contentlog.Log = (*SQLLog)(nil)

func NewSQLLog(db *sql.DB, driver string) *SQLLog {
	return &SQLLog{db: db, driver: driver, now: time.Now}
}

func (s *SQLLog) DB() *sql.DB {
	return s.db
}

// Append compares against the head and inserts in one transaction. Postgres
// serializes appends per slot with a transaction-scoped advisory lock; on
// sqlite the database write lock does, and the (slot, seq) key rejects any
// racing insert.
func (s *SQLLog) Append(ctx context.Context, slot string, content []byte, message string) (contentlog.Entry, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return contentlog.Entry{}, false, fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.driver == DriverPostgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, slot); err != nil {
			return contentlog.Entry{}, false, fmt.Errorf("lock slot: %w", err)
		}
	}

	hash := contentlog.ContentHash(content)
	var head contentlog.Entry
	err = tx.QueryRowContext(ctx, s.q(`
		SELECT ref, seq, content_hash, message, author, created_at
		FROM snapshots
		WHERE slot=?
		ORDER BY seq DESC
		LIMIT 1
	`), slot).Scan(&head.Ref, &head.Seq, &head.ContentHash, &head.Message, &head.Author, &head.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return contentlog.Entry{}, false, fmt.Errorf("read head: %w", err)
	case head.ContentHash == hash:
		return head, false, nil
	}

	entry := contentlog.Entry{
		Ref:         uuid.NewString(),
		Seq:         head.Seq + 1,
		ContentHash: hash,
		Message:     message,
		Author:      snapshotAuthor,
		CreatedAt:   s.now().UTC().Truncate(time.Microsecond),
	}
	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO snapshots (slot, seq, ref, content_hash, message, author, created_at, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), slot, entry.Seq, entry.Ref, entry.ContentHash, entry.Message, entry.Author, entry.CreatedAt, content)
	if err != nil {
		return contentlog.Entry{}, false, fmt.Errorf("insert snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return contentlog.Entry{}, false, fmt.Errorf("commit snapshot: %w", err)
	}
	return entry, true, nil
}

func (s *SQLLog) Entries(ctx context.Context, slot string) ([]contentlog.Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT ref, seq, content_hash, message, author, created_at
		FROM snapshots
		WHERE slot=?
		ORDER BY seq ASC
	`), slot)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	items := []contentlog.Entry{}
	for rows.Next() {
		var entry contentlog.Entry
		if err := rows.Scan(&entry.Ref, &entry.Seq, &entry.ContentHash, &entry.Message, &entry.Author, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return items, nil
}

func (s *SQLLog) Content(ctx context.Context, slot, ref string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, s.q(`SELECT content FROM snapshots WHERE slot=? AND ref=?`), slot, ref).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("slot %s ref %s: %w", slot, ref, contentlog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot content: %w", err)
	}
	return content, nil
}

func (s *SQLLog) Reset(ctx context.Context, slot string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM snapshots WHERE slot=?`), slot); err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	return nil
}

func (s *SQLLog) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return nil
}

func (s *SQLLog) q(query string) string {
	return rebind(s.driver, query)
}
