package request

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reviewflow/review"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TurnaroundResolver supplies the submission item's SLA at submit time. The
// resolved value is copied onto the request, so later item deactivation does
// not affect it.
type TurnaroundResolver interface {
	TurnaroundDays(ctx context.Context, itemID string) (int, error)
}

// DocumentCounter reports how many committed review documents exist for a
// staging scope. The lifecycle engine only consults the count.
type DocumentCounter interface {
	CommittedCount(ctx context.Context, scopeID string) (int, error)
}

// Service wraps the pure Engine with transactional persistence: every
// transition loads the aggregate under a row lock, applies the engine,
// saves the result, and appends the audit event plus outbox message in the
// same transaction.
type Service struct {
	pool      TxBeginner
	reader    Querier
	store     Store
	reads     *Repository
	engine    *Engine
	items     TurnaroundResolver
	documents DocumentCounter
	now       func() time.Time
}

func NewService(pool *pgxpool.Pool, store Store, items TurnaroundResolver, documents DocumentCounter) *Service {
	if store == nil {
		store = NewRepository()
	}
	return &Service{
		pool:      pool,
		reader:    pool,
		store:     store,
		reads:     NewRepository(),
		engine:    NewEngine(),
		items:     items,
		documents: documents,
		now:       time.Now,
	}
}

// WithClock overrides the service and engine clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.engine.WithClock(now)
	return s
}

// WithPool swaps the transaction source, for tests.
func (s *Service) WithPool(pool TxBeginner) *Service {
	s.pool = pool
	return s
}

// CreateDraft builds and persists a new draft request.
func (s *Service) CreateDraft(ctx context.Context, params DraftParams) (*Request, error) {
	r, applied, err := s.engine.NewDraft(params)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("request: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.store.Insert(ctx, tx, r); err != nil {
		return nil, err
	}
	if err := s.writeEvents(ctx, tx, applied, nil); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("request: commit draft: %w", err)
	}
	return r, nil
}

// UpdateDraftParams carries the draft fields a submitter may edit before
// submission. The audience is immutable once the request leaves Draft.
type UpdateDraftParams struct {
	ActorID          string
	Roles            RoleFacts
	RequestID        string
	Title            string
	Audience         Audience
	TargetReturnDate time.Time
	RushRationale    string
	Approvals        []Approval
}

// UpdateDraft replaces the editable fields of a draft.
func (s *Service) UpdateDraft(ctx context.Context, params UpdateDraftParams) (*Request, error) {
	if !params.Roles.IsSubmitter && !params.Roles.IsAdmin {
		return nil, ErrForbidden
	}
	if !validAudience(params.Audience) {
		return nil, &ValidationError{Field: "audience", Reason: fmt.Sprintf("unknown audience %q", params.Audience)}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("request: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := s.store.GetForUpdate(ctx, tx, params.RequestID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusDraft {
		return nil, guardf("update draft", "request is no longer a draft (status=%s)", r.Status)
	}

	r.Title = params.Title
	r.Audience = params.Audience
	r.TargetReturnDate = params.TargetReturnDate
	r.RushRationale = params.RushRationale
	r.Approvals = params.Approvals
	r.UpdatedAt = s.now()

	if err := s.store.Save(ctx, tx, r); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("request: commit draft update: %w", err)
	}
	return r, nil
}

// SubmitInput identifies the draft to submit and who is submitting.
type SubmitInput struct {
	RequestID string
	ActorID   string
	Roles     RoleFacts
}

// Submit resolves the item SLA and committed document count, allocates the
// CRR number on first submission, and applies the Draft -> LegalIntake
// transition.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (*Request, Applied, error) {
	var zero Applied

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, zero, fmt.Errorf("request: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := s.store.GetForUpdate(ctx, tx, input.RequestID)
	if err != nil {
		return nil, zero, err
	}

	turnaround, err := s.items.TurnaroundDays(ctx, r.SubmissionItemID)
	if err != nil {
		return nil, zero, fmt.Errorf("request: resolve turnaround: %w", err)
	}
	docs, err := s.documents.CommittedCount(ctx, r.ID)
	if err != nil {
		return nil, zero, fmt.Errorf("request: count documents: %w", err)
	}

	number := r.Number
	if number == "" {
		number, err = s.store.AllocateNumber(ctx, tx, s.now().Year())
		if err != nil {
			return nil, zero, err
		}
	}

	applied, err := s.engine.Submit(r, SubmitParams{
		ActorID:        input.ActorID,
		Roles:          input.Roles,
		Number:         number,
		TurnaroundDays: turnaround,
		DocumentCount:  docs,
	})
	if err != nil {
		return nil, zero, err
	}

	if err := s.persist(ctx, tx, r, applied, nil); err != nil {
		return nil, zero, err
	}
	return r, applied, nil
}

// AssignInput names the attorney to assign.
type AssignInput struct {
	RequestID  string
	ActorID    string
	Roles      RoleFacts
	AttorneyID string
}

// AssignAttorney applies the assignment transition and additionally enqueues
// the per-track review-required notifications.
func (s *Service) AssignAttorney(ctx context.Context, input AssignInput) (*Request, Applied, error) {
	return s.transition(ctx, input.RequestID, func(r *Request) (Applied, []Event, error) {
		applied, err := s.engine.AssignAttorney(r, AssignParams{ActorID: input.ActorID, Roles: input.Roles, AttorneyID: input.AttorneyID})
		if err != nil {
			return Applied{}, nil, err
		}
		return applied, ReviewRequiredEvents(r, input.ActorID, applied.Event.At), nil
	})
}

// SendToCommittee routes an intake request to the assignment committee.
func (s *Service) SendToCommittee(ctx context.Context, requestID string, params ActionParams) (*Request, Applied, error) {
	return s.transition(ctx, requestID, func(r *Request) (Applied, []Event, error) {
		applied, err := s.engine.SendToCommittee(r, params)
		return applied, nil, err
	})
}

// ReviewInput carries one reviewer decision, with optional mentions to notify.
type ReviewInput struct {
	RequestID string
	ActorID   string
	Roles     RoleFacts
	Track     review.Track
	Outcome   review.Outcome
	Note      string
	Flags     review.ComplianceFlags
	Mentions  []string
}

// SubmitReview records a track decision and re-aggregates the overall status.
func (s *Service) SubmitReview(ctx context.Context, input ReviewInput) (*Request, Applied, error) {
	return s.transition(ctx, input.RequestID, func(r *Request) (Applied, []Event, error) {
		applied, err := s.engine.SubmitReview(r, ReviewDecisionParams{
			ActorID: input.ActorID,
			Roles:   input.Roles,
			Track:   input.Track,
			Outcome: input.Outcome,
			Note:    input.Note,
			Flags:   input.Flags,
		})
		if err != nil {
			return Applied{}, nil, err
		}
		return applied, MentionEvents(r, input.Track, input.ActorID, input.Mentions, applied.Event.At), nil
	})
}

// ResubmitInput carries the submitter's response on a waiting track.
type ResubmitInput struct {
	RequestID string
	ActorID   string
	Roles     RoleFacts
	Track     review.Track
	Note      string
	Mentions  []string
}

// ResubmitToReviewer hands a waiting track back to its reviewer.
func (s *Service) ResubmitToReviewer(ctx context.Context, input ResubmitInput) (*Request, Applied, error) {
	return s.transition(ctx, input.RequestID, func(r *Request) (Applied, []Event, error) {
		applied, err := s.engine.ResubmitToReviewer(r, ResubmitParams{ActorID: input.ActorID, Roles: input.Roles, Track: input.Track, Note: input.Note})
		if err != nil {
			return Applied{}, nil, err
		}
		return applied, MentionEvents(r, input.Track, input.ActorID, input.Mentions, applied.Event.At), nil
	})
}

// CompleteInput carries the closeout tracking id.
type CompleteInput struct {
	RequestID  string
	ActorID    string
	Roles      RoleFacts
	TrackingID string
}

// CompleteCloseout finishes a request out of Closeout.
func (s *Service) CompleteCloseout(ctx context.Context, input CompleteInput) (*Request, Applied, error) {
	return s.transition(ctx, input.RequestID, func(r *Request) (Applied, []Event, error) {
		applied, err := s.engine.CompleteCloseout(r, CompleteParams{ActorID: input.ActorID, Roles: input.Roles, TrackingID: input.TrackingID})
		return applied, nil, err
	})
}

// Hold parks a request with a reason.
func (s *Service) Hold(ctx context.Context, requestID string, params HoldParams) (*Request, Applied, error) {
	return s.transition(ctx, requestID, func(r *Request) (Applied, []Event, error) {
		applied, err := s.engine.Hold(r, params)
		return applied, nil, err
	})
}

// Resume returns an on-hold request to its interrupted status.
func (s *Service) Resume(ctx context.Context, requestID string, params ActionParams) (*Request, Applied, error) {
	return s.transition(ctx, requestID, func(r *Request) (Applied, []Event, error) {
		applied, err := s.engine.Resume(r, params)
		return applied, nil, err
	})
}

// Cancel terminates a request with a reason.
func (s *Service) Cancel(ctx context.Context, requestID string, params CancelParams) (*Request, Applied, error) {
	return s.transition(ctx, requestID, func(r *Request) (Applied, []Event, error) {
		applied, err := s.engine.Cancel(r, params)
		return applied, nil, err
	})
}

// transition runs one engine mutation inside a transaction: lock, apply,
// save, audit, outbox, commit.
func (s *Service) transition(ctx context.Context, requestID string, apply func(*Request) (Applied, []Event, error)) (*Request, Applied, error) {
	var zero Applied

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, zero, fmt.Errorf("request: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := s.store.GetForUpdate(ctx, tx, requestID)
	if err != nil {
		return nil, zero, err
	}

	applied, extra, err := apply(r)
	if err != nil {
		return nil, zero, err
	}

	if err := s.persist(ctx, tx, r, applied, extra); err != nil {
		return nil, zero, err
	}
	return r, applied, nil
}

func (s *Service) persist(ctx context.Context, tx pgx.Tx, r *Request, applied Applied, extra []Event) error {
	if err := s.store.Save(ctx, tx, r); err != nil {
		return err
	}
	if err := s.writeEvents(ctx, tx, applied, extra); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("request: commit transition: %w", err)
	}
	return nil
}

func (s *Service) writeEvents(ctx context.Context, tx pgx.Tx, applied Applied, extra []Event) error {
	if err := s.store.AppendEvent(ctx, tx, applied.Event); err != nil {
		return err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, applied.Event, applied.Intent); err != nil {
		return err
	}
	for _, ev := range extra {
		if err := s.store.EnqueueOutbox(ctx, tx, ev, applied.Intent); err != nil {
			return err
		}
	}
	return nil
}

// Get loads one request without locking.
func (s *Service) Get(ctx context.Context, id string) (*Request, error) {
	return s.reads.Get(ctx, s.reader, id)
}

// List returns a page of requests.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Request, int, error) {
	return s.reads.List(ctx, s.reader, filters)
}
