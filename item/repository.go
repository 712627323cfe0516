package item

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("item: not found")
)

type Repository interface {
	Create(ctx context.Context, it SubmissionItem) (SubmissionItem, error)
	GetByID(ctx context.Context, id string) (SubmissionItem, error)
	List(ctx context.Context, filters Filters) ([]SubmissionItem, int, error)
	SetActive(ctx context.Context, id string, active bool) (SubmissionItem, error)
	SetTurnaround(ctx context.Context, id string, days int) (SubmissionItem, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, it SubmissionItem) (SubmissionItem, error) {
	const query = `
        INSERT INTO submission_items (id, name, category, turnaround_days, active)
        VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5)
        RETURNING id, name, category, turnaround_days, active, created_at, updated_at
    `

	row := r.pool.QueryRow(ctx, query, it.ID, it.Name, it.Category, it.TurnaroundDays, it.Active)
	return scanItem(row)
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (SubmissionItem, error) {
	const query = `
		SELECT id, name, category, turnaround_days, active, created_at, updated_at
		FROM submission_items
		WHERE id = $1
	`

	it, err := scanItem(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SubmissionItem{}, ErrNotFound
		}
		return SubmissionItem{}, fmt.Errorf("item: query by id: %w", err)
	}
	return it, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]SubmissionItem, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	base := `SELECT id, name, category, turnaround_days, active, created_at, updated_at
             FROM submission_items`
	where := []string{"1=1"}
	args := []any{}

	if filters.Category != "" {
		where = append(where, fmt.Sprintf("category=$%d", len(args)+1))
		args = append(args, filters.Category)
	}
	if filters.ActiveOnly {
		where = append(where, "active")
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")
	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`%s%s ORDER BY name ASC LIMIT %d OFFSET %d`, base, whereClause, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("item: query list: %w", err)
	}
	defer rows.Close()

	list := []SubmissionItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, it)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("item: iterate list: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM submission_items%s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("item: count list: %w", err)
	}

	return list, total, nil
}

func (r *PGRepository) SetActive(ctx context.Context, id string, active bool) (SubmissionItem, error) {
	const query = `
		UPDATE submission_items
		SET active = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING id, name, category, turnaround_days, active, created_at, updated_at
	`

	it, err := scanItem(r.pool.QueryRow(ctx, query, id, active))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SubmissionItem{}, ErrNotFound
		}
		return SubmissionItem{}, fmt.Errorf("item: set active: %w", err)
	}
	return it, nil
}

func (r *PGRepository) SetTurnaround(ctx context.Context, id string, days int) (SubmissionItem, error) {
	const query = `
		UPDATE submission_items
		SET turnaround_days = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING id, name, category, turnaround_days, active, created_at, updated_at
	`

	it, err := scanItem(r.pool.QueryRow(ctx, query, id, days))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SubmissionItem{}, ErrNotFound
		}
		return SubmissionItem{}, fmt.Errorf("item: set turnaround: %w", err)
	}
	return it, nil
}

func scanItem(row pgx.Row) (SubmissionItem, error) {
	var it SubmissionItem
	return it, row.Scan(
		&it.ID,
		&it.Name,
		&it.Category,
		&it.TurnaroundDays,
		&it.Active,
		&it.CreatedAt,
		&it.UpdatedAt,
	)
}
