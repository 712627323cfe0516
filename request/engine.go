package request

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"reviewflow/calendar"
	"reviewflow/review"
)

const minRushRationaleLen = 10

// Engine applies lifecycle transitions to Request aggregates. It is pure with
// respect to storage: every operation validates its guards against the
// supplied role facts, mutates the aggregate in memory, and returns the single
// domain event plus the permission intent for the caller to act on.
type Engine struct {
	now func() time.Time
}

func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// WithClock overrides the engine clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Applied bundles the outputs of one committed transition.
type Applied struct {
	Event  Event
	Intent PermissionIntent
}

func (e *Engine) applied(kind EventKind, r *Request, old Status, actorID string, at time.Time, detail string) Applied {
	r.UpdatedAt = at
	return Applied{
		Event:  newEvent(kind, r, old, actorID, at, detail),
		Intent: r.permissionIntent(),
	}
}

// DraftParams carries the fields a submitter fills in before submission.
type DraftParams struct {
	CreatorID        string
	Title            string
	Audience         Audience
	SubmissionItemID string
	TargetReturnDate time.Time
	RushRationale    string
}

// NewDraft creates a fresh Draft aggregate. The request number is not
// allocated until first submission.
func (e *Engine) NewDraft(params DraftParams) (*Request, Applied, error) {
	if params.CreatorID == "" {
		return nil, Applied{}, &ValidationError{Field: "creator", Reason: "required"}
	}
	if strings.TrimSpace(params.Title) == "" {
		return nil, Applied{}, &ValidationError{Field: "title", Reason: "required"}
	}
	if !validAudience(params.Audience) {
		return nil, Applied{}, &ValidationError{Field: "audience", Reason: fmt.Sprintf("unknown audience %q", params.Audience)}
	}
	if params.SubmissionItemID == "" {
		return nil, Applied{}, &ValidationError{Field: "submission_item", Reason: "required"}
	}

	at := e.now()
	r := &Request{
		ID:               uuid.NewString(),
		Status:           StatusDraft,
		Audience:         params.Audience,
		SubmissionItemID: params.SubmissionItemID,
		Title:            params.Title,
		TargetReturnDate: params.TargetReturnDate,
		RushRationale:    params.RushRationale,
		CreatedBy:        params.CreatorID,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
	return r, e.applied(EventRequestCreated, r, StatusDraft, params.CreatorID, at, "draft created"), nil
}

// SubmitParams carries everything the Draft -> LegalIntake transition needs.
// Number is the freshly allocated CRR number (used only when the request has
// none yet); TurnaroundDays is resolved from the submission item by the
// caller so the request keeps the value bound at submission time;
// DocumentCount is the committed document count reported by the staging
// engine.
type SubmitParams struct {
	ActorID        string
	Roles          RoleFacts
	Number         string
	TurnaroundDays int
	DocumentCount  int
}

// Submit moves Draft -> LegalIntake. Guards: the actor is the submitter (or
// admin), at least one fully populated approval, at least one committed
// document, a future target return date, and a rush rationale when the
// target beats the SLA projection.
func (e *Engine) Submit(r *Request, params SubmitParams) (Applied, error) {
	const op = "submit"
	if r.Status != StatusDraft {
		return Applied{}, guardf(op, "only drafts can be submitted (status=%s)", r.Status)
	}
	if !params.Roles.IsSubmitter && !params.Roles.IsAdmin {
		return Applied{}, ErrForbidden
	}
	if r.CompleteApprovals() == 0 {
		return Applied{}, guardf(op, "at least one approval with all fields set is required")
	}
	if params.DocumentCount < 1 {
		return Applied{}, guardf(op, "at least one review document is required")
	}
	if params.TurnaroundDays <= 0 {
		return Applied{}, &ValidationError{Field: "turnaround_days", Reason: "must be positive"}
	}

	at := e.now()
	if !r.TargetReturnDate.After(at) {
		return Applied{}, guardf(op, "target return date must be in the future")
	}

	expected := calendar.ExpectedTurnaround(r.CreatedAt, params.TurnaroundDays)
	rush := calendar.IsRush(r.TargetReturnDate, expected)
	if rush && len(strings.TrimSpace(r.RushRationale)) < minRushRationaleLen {
		return Applied{}, guardf(op, "rush requests need a rationale of at least %d characters", minRushRationaleLen)
	}

	old := r.Status
	if r.Number == "" {
		if params.Number == "" {
			return Applied{}, &ValidationError{Field: "number", Reason: "required on first submission"}
		}
		r.Number = params.Number
	}
	r.TurnaroundDays = params.TurnaroundDays
	r.ExpectedTurnaroundDate = &expected
	r.IsRushRequest = rush
	r.Status = StatusLegalIntake
	r.SubmittedBy = &params.ActorID
	r.SubmittedOn = &at

	return e.applied(EventRequestSubmitted, r, old, params.ActorID, at, "submitted for legal intake"), nil
}

// ActionParams is the common actor/roles pair for simple transitions.
type ActionParams struct {
	ActorID string
	Roles   RoleFacts
}

// SendToCommittee moves LegalIntake -> AssignAttorney when intake cannot pick
// an attorney directly.
func (e *Engine) SendToCommittee(r *Request, params ActionParams) (Applied, error) {
	const op = "send to committee"
	if r.Status != StatusLegalIntake {
		return Applied{}, guardf(op, "request is not in legal intake (status=%s)", r.Status)
	}
	if !params.Roles.IsLegalAdmin && !params.Roles.IsAdmin {
		return Applied{}, ErrForbidden
	}

	at := e.now()
	old := r.Status
	r.Status = StatusAssignAttorney
	r.SentToCommitteeBy = &params.ActorID
	r.SentToCommitteeOn = &at

	return e.applied(EventSentToCommittee, r, old, params.ActorID, at, "sent to assignment committee"), nil
}

// AssignParams names the attorney to place on the request.
type AssignParams struct {
	ActorID    string
	Roles      RoleFacts
	AttorneyID string
}

// AssignAttorney moves LegalIntake or AssignAttorney -> InReview. Direct
// assignment out of intake is a legal-admin action; assignment out of the
// committee queue requires the attorney-assigner role. Entering review
// creates the review track state for each audience member.
func (e *Engine) AssignAttorney(r *Request, params AssignParams) (Applied, error) {
	const op = "assign attorney"
	if params.AttorneyID == "" {
		return Applied{}, &ValidationError{Field: "attorney", Reason: "required"}
	}

	var kind EventKind
	switch r.Status {
	case StatusLegalIntake:
		if !params.Roles.IsLegalAdmin && !params.Roles.IsAdmin {
			return Applied{}, ErrForbidden
		}
		kind = EventAttorneyAssigned
	case StatusAssignAttorney:
		if !params.Roles.IsAttorneyAssigner && !params.Roles.IsAdmin {
			return Applied{}, ErrForbidden
		}
		kind = EventAttorneyAssignedByCommittee
	default:
		return Applied{}, guardf(op, "request is not awaiting assignment (status=%s)", r.Status)
	}

	at := e.now()
	old := r.Status
	r.AttorneyID = &params.AttorneyID
	r.AttorneyAssignedBy = &params.ActorID
	r.AttorneyAssignedOn = &at
	r.Status = StatusInReview

	if r.Audience.IncludesLegal() && r.LegalReview == nil {
		r.LegalReview = review.NewState(review.TrackLegal)
	}
	if r.Audience.IncludesCompliance() && r.ComplianceReview == nil {
		r.ComplianceReview = review.NewState(review.TrackCompliance)
	}
	if r.LegalReview != nil {
		r.LegalReview.Start()
	}
	if r.ComplianceReview != nil {
		r.ComplianceReview.Start()
	}

	return e.applied(kind, r, old, params.ActorID, at, "attorney "+params.AttorneyID+" assigned"), nil
}

// ReviewDecisionParams carries one reviewer decision for a track.
type ReviewDecisionParams struct {
	ActorID string
	Roles   RoleFacts
	Track   review.Track
	Outcome review.Outcome
	Note    string
	Flags   review.ComplianceFlags
}

// SubmitReview records a track decision and re-evaluates the overall status
// per the aggregation rule: a NotApproved outcome on any completed track
// short-circuits to Completed; all participating tracks approving moves to
// Closeout; anything else stays InReview. The rule is idempotent, so the
// order in which tracks complete does not matter.
func (e *Engine) SubmitReview(r *Request, params ReviewDecisionParams) (Applied, error) {
	const op = "submit review"
	if r.Status != StatusInReview {
		return Applied{}, guardf(op, "request is not in review (status=%s)", r.Status)
	}
	track := r.Track(params.Track)
	if track == nil {
		return Applied{}, guardf(op, "audience %s has no %s track", r.Audience, params.Track)
	}
	if err := e.checkReviewerRole(params.Track, params.Roles); err != nil {
		return Applied{}, err
	}

	at := e.now()
	if err := track.Submit(review.SubmitParams{
		ReviewerID: params.ActorID,
		Outcome:    params.Outcome,
		Note:       params.Note,
		Flags:      params.Flags,
		At:         at,
	}); err != nil {
		return Applied{}, err
	}

	if r.ComplianceReview.Completed() {
		r.TrackingIDRequired = trackingIDRequired(r.Audience, r.ComplianceReview.Flags)
	}

	old := r.Status
	switch e.decide(r) {
	case StatusCompleted:
		r.Status = StatusCompleted
		r.CompletedBy = &params.ActorID
		r.CompletedOn = &at
		return e.applied(EventRequestRejected, r, old, params.ActorID, at, "review not approved"), nil
	case StatusCloseout:
		r.Status = StatusCloseout
		return e.applied(EventCloseoutReady, r, old, params.ActorID, at, "all required reviews approved"), nil
	}

	if track.Status == review.StatusWaitingOnSubmitter {
		return e.applied(EventReviewWaitingOnSubmitter, r, old, params.ActorID, at, string(params.Track)+" review waiting on submitter"), nil
	}
	kind := EventLegalReviewCompleted
	if params.Track == review.TrackCompliance {
		kind = EventComplianceReviewCompleted
	}
	return e.applied(kind, r, old, params.ActorID, at, string(params.Track)+" review completed"), nil
}

func (e *Engine) checkReviewerRole(track review.Track, roles RoleFacts) error {
	switch track {
	case review.TrackLegal:
		if !roles.IsAttorney && !roles.IsAdmin {
			return ErrForbidden
		}
	case review.TrackCompliance:
		if !roles.IsComplianceUser && !roles.IsAdmin {
			return ErrForbidden
		}
	}
	return nil
}

// decide evaluates the overall status for a request in review. It never
// mutates; callers apply the result.
func (e *Engine) decide(r *Request) Status {
	legal, compliance := r.LegalReview, r.ComplianceReview

	// Reject short-circuits regardless of the other track's progress.
	if legal.Completed() && legal.Outcome == review.OutcomeNotApproved {
		return StatusCompleted
	}
	if compliance.Completed() && compliance.Outcome == review.OutcomeNotApproved {
		return StatusCompleted
	}

	for _, track := range []*review.State{legal, compliance} {
		if track == nil {
			continue
		}
		if !track.Completed() || !track.Outcome.Approving() {
			return StatusInReview
		}
	}
	return StatusCloseout
}

func trackingIDRequired(audience Audience, flags review.ComplianceFlags) bool {
	if audience == AudienceLegal {
		return false
	}
	return flags.ForesideReviewRequired || flags.RetailUse
}

// ResubmitParams carries the submitter response that hands a waiting track
// back to its reviewer.
type ResubmitParams struct {
	ActorID string
	Roles   RoleFacts
	Track   review.Track
	Note    string
}

// ResubmitToReviewer moves a WaitingOnSubmitter track to WaitingOnReviewer,
// appending the submitter note. The overall status stays InReview.
func (e *Engine) ResubmitToReviewer(r *Request, params ResubmitParams) (Applied, error) {
	const op = "resubmit"
	if r.Status != StatusInReview {
		return Applied{}, guardf(op, "request is not in review (status=%s)", r.Status)
	}
	if !params.Roles.IsSubmitter && !params.Roles.IsAdmin {
		return Applied{}, ErrForbidden
	}
	track := r.Track(params.Track)
	if track == nil {
		return Applied{}, guardf(op, "audience %s has no %s track", r.Audience, params.Track)
	}

	at := e.now()
	if err := track.Resubmit(review.ResubmitParams{SubmitterID: params.ActorID, Note: params.Note, At: at}); err != nil {
		return Applied{}, err
	}

	return e.applied(EventReviewResubmitted, r, r.Status, params.ActorID, at, string(params.Track)+" review resubmitted"), nil
}

// CompleteParams carries the closeout inputs.
type CompleteParams struct {
	ActorID    string
	Roles      RoleFacts
	TrackingID string
}

// CompleteCloseout moves Closeout -> Completed. The tracking id must be
// present when the compliance flags made it required. Total turnaround is
// computed here, once, in business days between submission and completion.
func (e *Engine) CompleteCloseout(r *Request, params CompleteParams) (Applied, error) {
	const op = "complete"
	if r.Status != StatusCloseout {
		return Applied{}, guardf(op, "request is not in closeout (status=%s)", r.Status)
	}
	if !params.Roles.IsAttorney && !params.Roles.IsLegalAdmin && !params.Roles.IsAdmin {
		return Applied{}, ErrForbidden
	}

	trackingID := strings.TrimSpace(params.TrackingID)
	if r.TrackingIDRequired && trackingID == "" && r.TrackingID == "" {
		return Applied{}, guardf(op, "tracking id is required for this request")
	}

	at := e.now()
	old := r.Status
	if trackingID != "" {
		r.TrackingID = trackingID
	}
	r.Status = StatusCompleted
	r.CompletedBy = &params.ActorID
	r.CompletedOn = &at
	if r.SubmittedOn != nil {
		days := calendar.BusinessDaysBetween(*r.SubmittedOn, at)
		r.TotalTurnaroundDays = &days
	}

	return e.applied(EventRequestCompleted, r, old, params.ActorID, at, "request completed"), nil
}

// HoldParams carries the hold reason.
type HoldParams struct {
	ActorID string
	Roles   RoleFacts
	Reason  string
}

// Hold parks any non-terminal request OnHold, remembering the interrupted
// status for resume.
func (e *Engine) Hold(r *Request, params HoldParams) (Applied, error) {
	const op = "hold"
	if r.Status.Terminal() {
		return Applied{}, guardf(op, "request is terminal (status=%s)", r.Status)
	}
	if r.Status == StatusOnHold {
		return Applied{}, guardf(op, "request is already on hold")
	}
	if !params.Roles.IsLegalAdmin && !params.Roles.IsAttorney && !params.Roles.IsAdmin {
		return Applied{}, ErrForbidden
	}
	if strings.TrimSpace(params.Reason) == "" {
		return Applied{}, &ValidationError{Field: "hold_reason", Reason: "required"}
	}

	at := e.now()
	old := r.Status
	prev := r.Status
	r.PreviousStatus = &prev
	r.Status = StatusOnHold
	r.OnHoldBy = &params.ActorID
	r.OnHoldOn = &at
	reason := params.Reason
	r.HoldReason = &reason

	return e.applied(EventRequestOnHold, r, old, params.ActorID, at, "on hold: "+params.Reason), nil
}

// Resume returns an OnHold request to the status it interrupted and clears
// the snapshot.
func (e *Engine) Resume(r *Request, params ActionParams) (Applied, error) {
	const op = "resume"
	if r.Status != StatusOnHold {
		return Applied{}, guardf(op, "request is not on hold (status=%s)", r.Status)
	}
	if r.PreviousStatus == nil {
		return Applied{}, guardf(op, "hold snapshot missing")
	}
	if !params.Roles.IsLegalAdmin && !params.Roles.IsAttorney && !params.Roles.IsAdmin {
		return Applied{}, ErrForbidden
	}

	at := e.now()
	old := r.Status
	r.Status = *r.PreviousStatus
	r.PreviousStatus = nil
	r.HoldReason = nil
	r.OnHoldBy = nil
	r.OnHoldOn = nil
	r.ResumedBy = &params.ActorID
	r.ResumedOn = &at

	return e.applied(EventRequestResumed, r, old, params.ActorID, at, "resumed to "+string(r.Status)), nil
}

// CancelParams carries the cancellation reason.
type CancelParams struct {
	ActorID string
	Roles   RoleFacts
	Reason  string
}

// Cancel terminates any non-terminal request with a reason.
func (e *Engine) Cancel(r *Request, params CancelParams) (Applied, error) {
	const op = "cancel"
	if r.Status.Terminal() {
		return Applied{}, guardf(op, "request is terminal (status=%s)", r.Status)
	}
	if !params.Roles.IsSubmitter && !params.Roles.IsLegalAdmin && !params.Roles.IsAdmin {
		return Applied{}, ErrForbidden
	}
	if strings.TrimSpace(params.Reason) == "" {
		return Applied{}, &ValidationError{Field: "cancel_reason", Reason: "required"}
	}

	at := e.now()
	old := r.Status
	r.Status = StatusCancelled
	r.PreviousStatus = nil
	r.CancelledBy = &params.ActorID
	r.CancelledOn = &at
	reason := params.Reason
	r.CancelReason = &reason

	return e.applied(EventRequestCancelled, r, old, params.ActorID, at, "cancelled: "+params.Reason), nil
}
