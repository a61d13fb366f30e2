// Package sqlite implements the link store on top of an SQLite database.
// Timestamps are stored as Unix nanoseconds so that ordering and MAX work on integers.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/vadimbarashkov/tinylink/internal/entity"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

func isUniqueViolationError(err error) bool {
	var sqliteErr *moderncsqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(sqliteErr.Error(), "UNIQUE")
	default:
		return false
	}
}

const linkColumns = `code, url, clicks, last_clicked, created_at`

type linkDB struct {
	Code        string        `db:"code"`
	URL         string        `db:"url"`
	Clicks      int64         `db:"clicks"`
	LastClicked sql.NullInt64 `db:"last_clicked"`
	CreatedAt   int64         `db:"created_at"`
}

func (l *linkDB) toEntity() *entity.Link {
	link := &entity.Link{
		Code: l.Code,
		URL:  l.URL,
		LinkStats: entity.LinkStats{
			Clicks: l.Clicks,
		},
		CreatedAt: time.Unix(0, l.CreatedAt).UTC(),
	}

	if l.LastClicked.Valid {
		lastClicked := time.Unix(0, l.LastClicked.Int64).UTC()
		link.LastClicked = &lastClicked
	}

	return link
}

type LinkRepository struct {
	db      *sqlx.DB
	nowFunc func() time.Time
}

func NewLinkRepository(db *sqlx.DB) *LinkRepository {
	return &LinkRepository{
		db:      db,
		nowFunc: time.Now,
	}
}

func (r *LinkRepository) Save(ctx context.Context, code, url string) (*entity.Link, error) {
	const op = "adapter.repository.sqlite.LinkRepository.Save"
	const query = `INSERT INTO links(code, url, created_at) VALUES (?, ?, ?) RETURNING ` + linkColumns

	var link linkDB

	if err := r.db.GetContext(ctx, &link, query, code, url, r.nowFunc().UnixNano()); err != nil {
		if isUniqueViolationError(err) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrCodeExists)
		}

		return nil, fmt.Errorf("%s: failed to insert into links table: %w", op, err)
	}

	return link.toEntity(), nil
}

func (r *LinkRepository) FindByCode(ctx context.Context, code string) (*entity.Link, error) {
	const op = "adapter.repository.sqlite.LinkRepository.FindByCode"
	const query = `SELECT ` + linkColumns + ` FROM links WHERE code = ?`

	var link linkDB

	if err := r.db.GetContext(ctx, &link, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get row from links table: %w", op, err)
	}

	return link.toEntity(), nil
}

func (r *LinkRepository) RecordClick(ctx context.Context, code string, now time.Time) error {
	const op = "adapter.repository.sqlite.LinkRepository.RecordClick"
	const query = `UPDATE links SET clicks = clicks + 1, last_clicked = MAX(COALESCE(last_clicked, 0), ?) WHERE code = ?`

	res, err := r.db.ExecContext(ctx, query, now.UnixNano(), code)
	if err != nil {
		return fmt.Errorf("%s: failed to update links table row: %w", op, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: failed to get number of affected rows: %w", op, err)
	}

	if rowsAffected != 1 {
		return fmt.Errorf("%s: %w", op, entity.ErrLinkNotFound)
	}

	return nil
}

func (r *LinkRepository) Remove(ctx context.Context, code string) error {
	const op = "adapter.repository.sqlite.LinkRepository.Remove"
	const query = `DELETE FROM links WHERE code = ?`

	res, err := r.db.ExecContext(ctx, query, code)
	if err != nil {
		return fmt.Errorf("%s: failed to delete from links table: %w", op, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: failed to get number of affected rows: %w", op, err)
	}

	if rowsAffected != 1 {
		return fmt.Errorf("%s: %w", op, entity.ErrLinkNotFound)
	}

	return nil
}

func (r *LinkRepository) List(ctx context.Context) ([]*entity.Link, error) {
	const op = "adapter.repository.sqlite.LinkRepository.List"
	const query = `SELECT ` + linkColumns + ` FROM links ORDER BY created_at DESC`

	var rows []linkDB

	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("%s: failed to select from links table: %w", op, err)
	}

	links := make([]*entity.Link, 0, len(rows))
	for i := range rows {
		links = append(links, rows[i].toEntity())
	}

	return links, nil
}

func (r *LinkRepository) Ping(ctx context.Context) error {
	const op = "adapter.repository.sqlite.LinkRepository.Ping"

	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s: failed to ping database: %w", op, err)
	}

	return nil
}
