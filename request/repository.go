package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"reviewflow/review"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store defines the persistence surface the lifecycle service needs.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, r *Request) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Request, error)
	Save(ctx context.Context, tx pgx.Tx, r *Request) error
	AllocateNumber(ctx context.Context, tx pgx.Tx, year int) (string, error)
	AppendEvent(ctx context.Context, tx pgx.Tx, ev Event) error
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, ev Event, intent PermissionIntent) error
}

// Repository persists Request aggregates across the requests, request_reviews
// and review_notes tables. It is stateless; every method runs inside the
// caller's transaction or querier.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const requestColumns = `
id, number, status, audience, submission_item_id, title,
target_return_date, turnaround_days, expected_turnaround_date, is_rush, rush_rationale,
tracking_id_required, tracking_id, total_turnaround_days, approvals,
created_by, created_at, updated_at, version,
submitted_by, submitted_on, attorney_id, attorney_assigned_by, attorney_assigned_on,
sent_to_committee_by, sent_to_committee_on, completed_by, completed_on,
cancelled_by, cancelled_on, cancel_reason, on_hold_by, on_hold_on, hold_reason,
previous_status, resumed_by, resumed_on`

type approvalRow struct {
	ApproverID    string    `json:"approver_id"`
	ApproverName  string    `json:"approver_name"`
	ApproverTitle string    `json:"approver_title"`
	ApprovedOn    time.Time `json:"approved_on"`
}

func marshalApprovals(approvals []Approval) ([]byte, error) {
	rows := make([]approvalRow, 0, len(approvals))
	for _, a := range approvals {
		rows = append(rows, approvalRow(a))
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("request: marshal approvals: %w", err)
	}
	return b, nil
}

func unmarshalApprovals(data []byte) ([]Approval, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var rows []approvalRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("request: unmarshal approvals: %w", err)
	}
	out := make([]Approval, 0, len(rows))
	for _, r := range rows {
		out = append(out, Approval(r))
	}
	return out, nil
}

// Insert writes a freshly created draft.
func (repo *Repository) Insert(ctx context.Context, tx pgx.Tx, r *Request) error {
	approvals, err := marshalApprovals(r.Approvals)
	if err != nil {
		return err
	}

	const insertSQL = `
INSERT INTO requests (
    id, number, status, audience, submission_item_id, title,
    target_return_date, turnaround_days, expected_turnaround_date, is_rush, rush_rationale,
    tracking_id_required, tracking_id, total_turnaround_days, approvals,
    created_by, created_at, updated_at, version
) VALUES ($1, NULLIF($2,''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, 1)`

	if _, err := tx.Exec(ctx, insertSQL,
		r.ID, r.Number, r.Status, r.Audience, r.SubmissionItemID, r.Title,
		r.TargetReturnDate, r.TurnaroundDays, r.ExpectedTurnaroundDate, r.IsRushRequest, r.RushRationale,
		r.TrackingIDRequired, r.TrackingID, r.TotalTurnaroundDays, approvals,
		r.CreatedBy, r.CreatedAt, r.UpdatedAt,
	); err != nil {
		return fmt.Errorf("request: insert: %w", err)
	}
	r.Version = 1

	return repo.saveTracks(ctx, tx, r)
}

// GetForUpdate loads the aggregate with a row lock so the surrounding
// transaction serialises concurrent transitions on the same request.
func (repo *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Request, error) {
	return repo.get(ctx, tx, id, true)
}

// Get loads the aggregate without locking.
func (repo *Repository) Get(ctx context.Context, q Querier, id string) (*Request, error) {
	return repo.get(ctx, q, id, false)
}

func (repo *Repository) get(ctx context.Context, q Querier, id string, forUpdate bool) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	r, err := scanRequest(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("request: get: %w", err)
	}

	if err := repo.loadTracks(ctx, q, r); err != nil {
		return nil, err
	}
	return r, nil
}

func scanRequest(row pgx.Row) (*Request, error) {
	var (
		r         Request
		number    *string
		approvals []byte
		prev      *string
	)
	if err := row.Scan(
		&r.ID, &number, &r.Status, &r.Audience, &r.SubmissionItemID, &r.Title,
		&r.TargetReturnDate, &r.TurnaroundDays, &r.ExpectedTurnaroundDate, &r.IsRushRequest, &r.RushRationale,
		&r.TrackingIDRequired, &r.TrackingID, &r.TotalTurnaroundDays, &approvals,
		&r.CreatedBy, &r.CreatedAt, &r.UpdatedAt, &r.Version,
		&r.SubmittedBy, &r.SubmittedOn, &r.AttorneyID, &r.AttorneyAssignedBy, &r.AttorneyAssignedOn,
		&r.SentToCommitteeBy, &r.SentToCommitteeOn, &r.CompletedBy, &r.CompletedOn,
		&r.CancelledBy, &r.CancelledOn, &r.CancelReason, &r.OnHoldBy, &r.OnHoldOn, &r.HoldReason,
		&prev, &r.ResumedBy, &r.ResumedOn,
	); err != nil {
		return nil, err
	}
	if number != nil {
		r.Number = *number
	}
	if prev != nil {
		s := Status(*prev)
		r.PreviousStatus = &s
	}

	parsed, err := unmarshalApprovals(approvals)
	if err != nil {
		return nil, err
	}
	r.Approvals = parsed
	return &r, nil
}

func (repo *Repository) loadTracks(ctx context.Context, q Querier, r *Request) error {
	const trackSQL = `
SELECT track, status, outcome, reviewer_id, completed_on, foreside_review_required, retail_use
FROM request_reviews
WHERE request_id = $1`

	rows, err := q.Query(ctx, trackSQL, r.ID)
	if err != nil {
		return fmt.Errorf("request: load reviews: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s review.State
		if err := rows.Scan(&s.Track, &s.Status, &s.Outcome, &s.ReviewerID, &s.CompletedOn, &s.Flags.ForesideReviewRequired, &s.Flags.RetailUse); err != nil {
			return fmt.Errorf("request: scan review: %w", err)
		}
		track := s
		switch track.Track {
		case review.TrackLegal:
			r.LegalReview = &track
		case review.TrackCompliance:
			r.ComplianceReview = &track
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("request: iterate reviews: %w", err)
	}

	const notesSQL = `
SELECT id, track, author_id, body, written_at
FROM review_notes
WHERE request_id = $1
ORDER BY written_at, id`

	noteRows, err := q.Query(ctx, notesSQL, r.ID)
	if err != nil {
		return fmt.Errorf("request: load notes: %w", err)
	}
	defer noteRows.Close()

	for noteRows.Next() {
		var (
			n     review.NoteEntry
			track review.Track
		)
		if err := noteRows.Scan(&n.ID, &track, &n.AuthorID, &n.Body, &n.WrittenAt); err != nil {
			return fmt.Errorf("request: scan note: %w", err)
		}
		if state := r.Track(track); state != nil {
			state.Notes = append(state.Notes, n)
		}
	}
	if err := noteRows.Err(); err != nil {
		return fmt.Errorf("request: iterate notes: %w", err)
	}
	return nil
}

// Save writes the mutated aggregate back, bumping the version. A stale
// version surfaces as ErrVersionConflict for the caller to re-fetch and retry.
func (repo *Repository) Save(ctx context.Context, tx pgx.Tx, r *Request) error {
	approvals, err := marshalApprovals(r.Approvals)
	if err != nil {
		return err
	}

	var prev *string
	if r.PreviousStatus != nil {
		s := string(*r.PreviousStatus)
		prev = &s
	}

	const updateSQL = `
UPDATE requests SET
    number = NULLIF($2,''),
    status = $3,
    target_return_date = $4,
    turnaround_days = $5,
    expected_turnaround_date = $6,
    is_rush = $7,
    rush_rationale = $8,
    tracking_id_required = $9,
    tracking_id = $10,
    total_turnaround_days = $11,
    approvals = $12,
    updated_at = $13,
    version = version + 1,
    submitted_by = $14, submitted_on = $15,
    attorney_id = $16, attorney_assigned_by = $17, attorney_assigned_on = $18,
    sent_to_committee_by = $19, sent_to_committee_on = $20,
    completed_by = $21, completed_on = $22,
    cancelled_by = $23, cancelled_on = $24, cancel_reason = $25,
    on_hold_by = $26, on_hold_on = $27, hold_reason = $28,
    previous_status = $29, resumed_by = $30, resumed_on = $31
WHERE id = $1 AND version = $32`

	tag, err := tx.Exec(ctx, updateSQL,
		r.ID, r.Number, r.Status,
		r.TargetReturnDate, r.TurnaroundDays, r.ExpectedTurnaroundDate, r.IsRushRequest, r.RushRationale,
		r.TrackingIDRequired, r.TrackingID, r.TotalTurnaroundDays, approvals, r.UpdatedAt,
		r.SubmittedBy, r.SubmittedOn,
		r.AttorneyID, r.AttorneyAssignedBy, r.AttorneyAssignedOn,
		r.SentToCommitteeBy, r.SentToCommitteeOn,
		r.CompletedBy, r.CompletedOn,
		r.CancelledBy, r.CancelledOn, r.CancelReason,
		r.OnHoldBy, r.OnHoldOn, r.HoldReason,
		prev, r.ResumedBy, r.ResumedOn,
		r.Version,
	)
	if err != nil {
		return fmt.Errorf("request: save: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	r.Version++

	return repo.saveTracks(ctx, tx, r)
}

func (repo *Repository) saveTracks(ctx context.Context, tx pgx.Tx, r *Request) error {
	const upsertSQL = `
INSERT INTO request_reviews (request_id, track, status, outcome, reviewer_id, completed_on, foreside_review_required, retail_use)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (request_id, track) DO UPDATE SET
    status = EXCLUDED.status,
    outcome = EXCLUDED.outcome,
    reviewer_id = EXCLUDED.reviewer_id,
    completed_on = EXCLUDED.completed_on,
    foreside_review_required = EXCLUDED.foreside_review_required,
    retail_use = EXCLUDED.retail_use`

	// Notes are append-only; re-inserting an already persisted note is a no-op.
	const noteSQL = `
INSERT INTO review_notes (id, request_id, track, author_id, body, written_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`

	for _, state := range []*review.State{r.LegalReview, r.ComplianceReview} {
		if state == nil {
			continue
		}
		if _, err := tx.Exec(ctx, upsertSQL,
			r.ID, state.Track, state.Status, state.Outcome, state.ReviewerID, state.CompletedOn,
			state.Flags.ForesideReviewRequired, state.Flags.RetailUse,
		); err != nil {
			return fmt.Errorf("request: save %s review: %w", state.Track, err)
		}
		for _, n := range state.Notes {
			if _, err := tx.Exec(ctx, noteSQL, n.ID, r.ID, state.Track, n.AuthorID, n.Body, n.WrittenAt); err != nil {
				return fmt.Errorf("request: save note: %w", err)
			}
		}
	}
	return nil
}

// AllocateNumber reserves the next CRR sequence value for the year. The
// counter row is upserted inside the caller's transaction, so concurrent
// submissions serialise on it and the sequence stays gapless per year.
func (repo *Repository) AllocateNumber(ctx context.Context, tx pgx.Tx, year int) (string, error) {
	const seqSQL = `
INSERT INTO request_counters (year, seq)
VALUES ($1, 1)
ON CONFLICT (year) DO UPDATE SET seq = request_counters.seq + 1
RETURNING seq`

	var seq int
	if err := tx.QueryRow(ctx, seqSQL, year).Scan(&seq); err != nil {
		return "", fmt.Errorf("request: allocate number: %w", err)
	}
	return FormatNumber(year, seq), nil
}

// FormatNumber renders the human-facing request number.
func FormatNumber(year, seq int) string {
	return fmt.Sprintf("CRR-%d-%04d", year, seq)
}

// AppendEvent writes the transition to the audit trail.
func (repo *Repository) AppendEvent(ctx context.Context, tx pgx.Tx, ev Event) error {
	const insertSQL = `
INSERT INTO request_events (id, request_id, kind, old_status, new_status, actor_id, detail, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if _, err := tx.Exec(ctx, insertSQL, ev.ID, ev.RequestID, ev.Kind, ev.OldStatus, ev.NewStatus, ev.ActorID, ev.Detail, ev.At); err != nil {
		return fmt.Errorf("request: append event: %w", err)
	}
	return nil
}

// EnqueueOutbox stages the domain event (and the permission intent the
// access-control collaborator consumes) for downstream delivery.
func (repo *Repository) EnqueueOutbox(ctx context.Context, tx pgx.Tx, ev Event, intent PermissionIntent) error {
	payload := map[string]any{
		"event_id":       ev.ID,
		"request_id":     ev.RequestID,
		"request_number": ev.RequestNumber,
		"old_status":     ev.OldStatus,
		"new_status":     ev.NewStatus,
		"actor_id":       ev.ActorID,
		"detail":         ev.Detail,
		"occurred_at":    ev.At.UTC(),
		"permission_intent": map[string]any{
			"new_status":  intent.NewStatus,
			"attorney_id": intent.AssignedAttorneyID,
			"audience":    intent.Audience,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("request: marshal outbox payload: %w", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, string(ev.Kind), body); err != nil {
		return fmt.Errorf("request: enqueue outbox: %w", err)
	}
	return nil
}

// ListFilters narrows List output.
type ListFilters struct {
	Status    Status
	CreatedBy string
	Page      int
	PageSize  int
}

// List returns a page of requests, newest first. Review tracks are not
// hydrated; use Get for the full aggregate.
func (repo *Repository) List(ctx context.Context, q Querier, filters ListFilters) ([]Request, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := " WHERE 1=1"
	args := []any{}
	if filters.Status != "" {
		args = append(args, filters.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filters.CreatedBy != "" {
		args = append(args, filters.CreatedBy)
		where += fmt.Sprintf(" AND created_by = $%d", len(args))
	}

	query := `SELECT ` + requestColumns + ` FROM requests` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rows, err := q.Query(ctx, query, append(args, filters.PageSize, (filters.Page-1)*filters.PageSize)...)
	if err != nil {
		return nil, 0, fmt.Errorf("request: list: %w", err)
	}
	defer rows.Close()

	out := make([]Request, 0, filters.PageSize)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("request: scan list row: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("request: iterate list: %w", err)
	}

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("request: count list: %w", err)
	}
	return out, total, nil
}
