package request

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"reviewflow/review"
)

type fakeStore struct {
	request   *Request
	getErr    error
	saveErr   error
	saved     bool
	numberSeq int
	events    []Event
	outbox    []Event
	intents   []PermissionIntent
	inserted  *Request
}

func (f *fakeStore) Insert(_ context.Context, _ pgx.Tx, r *Request) error {
	f.inserted = r
	return nil
}

func (f *fakeStore) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (*Request, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.request == nil || f.request.ID != id {
		return nil, ErrNotFound
	}
	return f.request, nil
}

func (f *fakeStore) Save(_ context.Context, _ pgx.Tx, _ *Request) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = true
	return nil
}

func (f *fakeStore) AllocateNumber(_ context.Context, _ pgx.Tx, year int) (string, error) {
	f.numberSeq++
	return FormatNumber(year, f.numberSeq), nil
}

func (f *fakeStore) AppendEvent(_ context.Context, _ pgx.Tx, ev Event) error {
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeStore) EnqueueOutbox(_ context.Context, _ pgx.Tx, ev Event, intent PermissionIntent) error {
	f.outbox = append(f.outbox, ev)
	f.intents = append(f.intents, intent)
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

type fakeItems struct {
	days int
	err  error
}

func (f *fakeItems) TurnaroundDays(context.Context, string) (int, error) {
	return f.days, f.err
}

type fakeDocuments struct {
	count int
	err   error
}

func (f *fakeDocuments) CommittedCount(context.Context, string) (int, error) {
	return f.count, f.err
}

func newTestService(store *fakeStore, items *fakeItems, docs *fakeDocuments) (*Service, *fakePool) {
	pool := &fakePool{}
	svc := NewService(nil, store, items, docs).WithPool(pool).WithClock(fixedClock())
	return svc, pool
}

func storedDraft(t *testing.T) *Request {
	t.Helper()
	e := newTestEngine()
	return draftRequest(t, e, AudienceBoth)
}

func TestServiceSubmit_Success(t *testing.T) {
	store := &fakeStore{request: storedDraft(t)}
	svc, pool := newTestService(store, &fakeItems{days: 5}, &fakeDocuments{count: 2})

	r, applied, err := svc.Submit(context.Background(), SubmitInput{
		RequestID: store.request.ID,
		ActorID:   "sub-1",
		Roles:     submitterRoles,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if r.Status != StatusLegalIntake {
		t.Fatalf("expected legal intake, got %s", r.Status)
	}
	if r.Number != FormatNumber(2024, 1) {
		t.Errorf("expected first allocated number, got %q", r.Number)
	}
	if !store.saved {
		t.Errorf("expected aggregate saved")
	}
	if len(store.events) != 1 || store.events[0].Kind != EventRequestSubmitted {
		t.Errorf("expected one submitted audit event, got %+v", store.events)
	}
	if len(store.outbox) != 1 {
		t.Errorf("expected one outbox message, got %d", len(store.outbox))
	}
	if !pool.tx.committed {
		t.Errorf("expected commit")
	}
	if applied.Intent.NewStatus != StatusLegalIntake {
		t.Errorf("unexpected intent %+v", applied.Intent)
	}
}

func TestServiceSubmit_GuardFailureRollsBack(t *testing.T) {
	store := &fakeStore{request: storedDraft(t)}
	svc, pool := newTestService(store, &fakeItems{days: 5}, &fakeDocuments{count: 0})

	_, _, err := svc.Submit(context.Background(), SubmitInput{
		RequestID: store.request.ID,
		ActorID:   "sub-1",
		Roles:     submitterRoles,
	})
	if !IsGuardViolation(err) {
		t.Fatalf("expected guard violation, got %v", err)
	}

	if store.saved {
		t.Errorf("guard failure must not save")
	}
	if len(store.events) != 0 || len(store.outbox) != 0 {
		t.Errorf("guard failure must not write events")
	}
	if pool.tx.committed {
		t.Errorf("expected commit to be skipped")
	}
	if !pool.tx.rolled {
		t.Errorf("expected rollback")
	}
}

func TestServiceSubmit_NotFound(t *testing.T) {
	store := &fakeStore{}
	svc, _ := newTestService(store, &fakeItems{days: 5}, &fakeDocuments{count: 1})

	_, _, err := svc.Submit(context.Background(), SubmitInput{RequestID: "missing", ActorID: "sub-1", Roles: submitterRoles})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestServiceSubmit_KeepsExistingNumber(t *testing.T) {
	req := storedDraft(t)
	req.Number = "CRR-2023-0042"
	store := &fakeStore{request: req}
	svc, _ := newTestService(store, &fakeItems{days: 5}, &fakeDocuments{count: 1})

	r, _, err := svc.Submit(context.Background(), SubmitInput{RequestID: req.ID, ActorID: "sub-1", Roles: submitterRoles})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if r.Number != "CRR-2023-0042" {
		t.Fatalf("resubmission must keep the original number, got %q", r.Number)
	}
	if store.numberSeq != 0 {
		t.Fatalf("no new number should be allocated")
	}
}

func TestServiceAssign_EnqueuesReviewRequired(t *testing.T) {
	e := newTestEngine()
	req := draftRequest(t, e, AudienceBoth)
	if _, err := e.Submit(req, SubmitParams{ActorID: "sub-1", Roles: submitterRoles, Number: "CRR-2024-0009", TurnaroundDays: 5, DocumentCount: 1}); err != nil {
		t.Fatalf("seed submit: %v", err)
	}

	store := &fakeStore{request: req}
	svc, _ := newTestService(store, &fakeItems{days: 5}, &fakeDocuments{count: 1})

	_, applied, err := svc.AssignAttorney(context.Background(), AssignInput{
		RequestID:  req.ID,
		ActorID:    "la-1",
		Roles:      legalAdminRoles,
		AttorneyID: "att-1",
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if applied.Event.Kind != EventAttorneyAssigned {
		t.Fatalf("expected assignment event, got %s", applied.Event.Kind)
	}

	// One audit event; assignment outbox message plus a review-required
	// message per track.
	if len(store.events) != 1 {
		t.Fatalf("expected one audit event, got %d", len(store.events))
	}
	if len(store.outbox) != 3 {
		t.Fatalf("expected assignment + 2 review-required outbox messages, got %d", len(store.outbox))
	}
	kinds := map[EventKind]bool{}
	for _, ev := range store.outbox {
		kinds[ev.Kind] = true
	}
	if !kinds[EventLegalReviewRequired] || !kinds[EventComplianceReviewRequired] {
		t.Fatalf("missing review-required kinds: %+v", kinds)
	}
}

func TestServiceSubmitReview_MentionOutbox(t *testing.T) {
	e := newTestEngine()
	req := draftRequest(t, e, AudienceLegal)
	if _, err := e.Submit(req, SubmitParams{ActorID: "sub-1", Roles: submitterRoles, Number: "CRR-2024-0010", TurnaroundDays: 5, DocumentCount: 1}); err != nil {
		t.Fatalf("seed submit: %v", err)
	}
	if _, err := e.AssignAttorney(req, AssignParams{ActorID: "la-1", Roles: legalAdminRoles, AttorneyID: "att-1"}); err != nil {
		t.Fatalf("seed assign: %v", err)
	}

	store := &fakeStore{request: req}
	svc, _ := newTestService(store, &fakeItems{days: 5}, &fakeDocuments{count: 1})

	_, applied, err := svc.SubmitReview(context.Background(), ReviewInput{
		RequestID: req.ID,
		ActorID:   "att-1",
		Roles:     attorneyRoles,
		Track:     review.TrackLegal,
		Outcome:   review.OutcomeRespondAndResubmit,
		Note:      "please revise the performance table",
		Mentions:  []string{"sub-1"},
	})
	if err != nil {
		t.Fatalf("submit review: %v", err)
	}
	if applied.Event.Kind != EventReviewWaitingOnSubmitter {
		t.Fatalf("expected waiting event, got %s", applied.Event.Kind)
	}
	if len(store.outbox) != 2 {
		t.Fatalf("expected decision + mention outbox messages, got %d", len(store.outbox))
	}
	if store.outbox[1].Kind != EventUserMentioned {
		t.Fatalf("expected mention message, got %s", store.outbox[1].Kind)
	}
}

func TestServiceCreateDraft(t *testing.T) {
	store := &fakeStore{}
	svc, pool := newTestService(store, &fakeItems{days: 5}, &fakeDocuments{})

	r, err := svc.CreateDraft(context.Background(), DraftParams{
		CreatorID:        "sub-1",
		Title:            "New ETF one-pager",
		Audience:         AudienceCompliance,
		SubmissionItemID: "item-2",
		TargetReturnDate: time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if store.inserted == nil || store.inserted.ID != r.ID {
		t.Fatalf("expected insert of new draft")
	}
	if len(store.events) != 1 || store.events[0].Kind != EventRequestCreated {
		t.Fatalf("expected created audit event, got %+v", store.events)
	}
	if !pool.tx.committed {
		t.Fatalf("expected commit")
	}
}

func TestServiceCreateDraft_ValidationSkipsTx(t *testing.T) {
	store := &fakeStore{}
	svc, pool := newTestService(store, &fakeItems{}, &fakeDocuments{})

	_, err := svc.CreateDraft(context.Background(), DraftParams{CreatorID: "sub-1", Title: " ", Audience: AudienceLegal, SubmissionItemID: "item-1"})
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if pool.tx != nil {
		t.Fatalf("validation failure must not open a transaction")
	}
}
