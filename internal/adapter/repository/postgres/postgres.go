package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/vadimbarashkov/tinylink/internal/entity"
)

const (
	uniqueViolationErrCode      = "23505"
	characterNotInRepertoireErr = "22021"
)

func isUniqueViolationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.SQLState() == uniqueViolationErrCode
}

// isUnstorableCodeError reports whether Postgres rejected the code itself,
// e.g. invalid UTF-8 or a NUL byte. No row can carry such a code.
func isUnstorableCodeError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.SQLState() == characterNotInRepertoireErr
}

const linkColumns = `code, url, clicks, last_clicked, created_at`

type linkDB struct {
	Code        string       `db:"code"`
	URL         string       `db:"url"`
	Clicks      int64        `db:"clicks"`
	LastClicked sql.NullTime `db:"last_clicked"`
	CreatedAt   time.Time    `db:"created_at"`
}

func (l *linkDB) toEntity() *entity.Link {
	link := &entity.Link{
		Code: l.Code,
		URL:  l.URL,
		LinkStats: entity.LinkStats{
			Clicks: l.Clicks,
		},
		CreatedAt: l.CreatedAt,
	}

	if l.LastClicked.Valid {
		lastClicked := l.LastClicked.Time
		link.LastClicked = &lastClicked
	}

	return link
}

type LinkRepository struct {
	db *sqlx.DB
}

func NewLinkRepository(db *sqlx.DB) *LinkRepository {
	return &LinkRepository{db: db}
}

func (r *LinkRepository) Save(ctx context.Context, code, url string) (*entity.Link, error) {
	const op = "adapter.repository.postgres.LinkRepository.Save"
	const query = `INSERT INTO links(code, url) VALUES ($1, $2) RETURNING ` + linkColumns

	var link linkDB

	if err := r.db.GetContext(ctx, &link, query, code, url); err != nil {
		if isUniqueViolationError(err) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrCodeExists)
		}

		return nil, fmt.Errorf("%s: failed to insert into links table: %w", op, err)
	}

	return link.toEntity(), nil
}

func (r *LinkRepository) FindByCode(ctx context.Context, code string) (*entity.Link, error) {
	const op = "adapter.repository.postgres.LinkRepository.FindByCode"
	const query = `SELECT ` + linkColumns + ` FROM links WHERE code = $1`

	var link linkDB

	if err := r.db.GetContext(ctx, &link, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUnstorableCodeError(err) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get row from links table: %w", op, err)
	}

	return link.toEntity(), nil
}

// RecordClick increments the click counter of the link in a single statement.
// GREATEST skips NULL, so the first click stamps now and later ones never move last_clicked back.
func (r *LinkRepository) RecordClick(ctx context.Context, code string, now time.Time) error {
	const op = "adapter.repository.postgres.LinkRepository.RecordClick"
	const query = `UPDATE links SET clicks = clicks + 1, last_clicked = GREATEST(last_clicked, $2) WHERE code = $1`

	res, err := r.db.ExecContext(ctx, query, code, now)
	if err != nil {
		if isUnstorableCodeError(err) {
			return fmt.Errorf("%s: %w", op, entity.ErrLinkNotFound)
		}

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
	const op = "adapter.repository.postgres.LinkRepository.Remove"
	const query = `DELETE FROM links WHERE code = $1`

	res, err := r.db.ExecContext(ctx, query, code)
	if err != nil {
		if isUnstorableCodeError(err) {
			return fmt.Errorf("%s: %w", op, entity.ErrLinkNotFound)
		}

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
	const op = "adapter.repository.postgres.LinkRepository.List"
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
	const op = "adapter.repository.postgres.LinkRepository.Ping"

	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s: failed to ping database: %w", op, err)
	}

	return nil
}
