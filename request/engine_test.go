package request

import (
	"errors"
	"testing"
	"time"

	"reviewflow/review"
)

var (
	submitterRoles  = RoleFacts{IsSubmitter: true}
	legalAdminRoles = RoleFacts{IsLegalAdmin: true}
	assignerRoles   = RoleFacts{IsAttorneyAssigner: true}
	attorneyRoles   = RoleFacts{IsAttorney: true}
	complianceRoles = RoleFacts{IsComplianceUser: true}
)

// fixedClock returns a clock starting Monday 2024-06-03 09:00 UTC that
// advances one minute per call, so stamps stay distinct but deterministic.
func fixedClock() func() time.Time {
	t := time.Date(2024, time.June, 3, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func newTestEngine() *Engine {
	return NewEngine().WithClock(fixedClock())
}

func draftRequest(t *testing.T, e *Engine, audience Audience) *Request {
	t.Helper()
	r, applied, err := e.NewDraft(DraftParams{
		CreatorID:        "sub-1",
		Title:            "Q3 fund fact sheet",
		Audience:         audience,
		SubmissionItemID: "item-9",
		TargetReturnDate: time.Date(2024, time.June, 28, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("new draft: %v", err)
	}
	if applied.Event.Kind != EventRequestCreated {
		t.Fatalf("expected created event, got %s", applied.Event.Kind)
	}
	r.Approvals = append(r.Approvals, Approval{
		ApproverID:    "mgr-1",
		ApproverName:  "Dana Reyes",
		ApproverTitle: "Managing Director",
		ApprovedOn:    r.CreatedAt,
	})
	return r
}

func submit(t *testing.T, e *Engine, r *Request) Applied {
	t.Helper()
	applied, err := e.Submit(r, SubmitParams{
		ActorID:        "sub-1",
		Roles:          submitterRoles,
		Number:         "CRR-2024-0001",
		TurnaroundDays: 5,
		DocumentCount:  1,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return applied
}

func assignDirect(t *testing.T, e *Engine, r *Request) Applied {
	t.Helper()
	applied, err := e.AssignAttorney(r, AssignParams{ActorID: "la-1", Roles: legalAdminRoles, AttorneyID: "att-1"})
	if err != nil {
		t.Fatalf("assign attorney: %v", err)
	}
	return applied
}

func TestSubmit_Guards(t *testing.T) {
	e := newTestEngine()

	t.Run("no approvals", func(t *testing.T) {
		r := draftRequest(t, e, AudienceLegal)
		r.Approvals = nil
		_, err := e.Submit(r, SubmitParams{ActorID: "sub-1", Roles: submitterRoles, Number: "CRR-2024-0001", TurnaroundDays: 5, DocumentCount: 1})
		if !IsGuardViolation(err) {
			t.Fatalf("expected guard violation, got %v", err)
		}
		if r.Status != StatusDraft {
			t.Fatalf("failed guard must not mutate status, got %s", r.Status)
		}
	})

	t.Run("incomplete approval does not count", func(t *testing.T) {
		r := draftRequest(t, e, AudienceLegal)
		r.Approvals = []Approval{{ApproverID: "mgr-1"}}
		_, err := e.Submit(r, SubmitParams{ActorID: "sub-1", Roles: submitterRoles, Number: "CRR-2024-0001", TurnaroundDays: 5, DocumentCount: 1})
		if !IsGuardViolation(err) {
			t.Fatalf("expected guard violation, got %v", err)
		}
	})

	t.Run("no documents", func(t *testing.T) {
		r := draftRequest(t, e, AudienceLegal)
		_, err := e.Submit(r, SubmitParams{ActorID: "sub-1", Roles: submitterRoles, Number: "CRR-2024-0001", TurnaroundDays: 5, DocumentCount: 0})
		if !IsGuardViolation(err) {
			t.Fatalf("expected guard violation, got %v", err)
		}
	})

	t.Run("target date in the past", func(t *testing.T) {
		r := draftRequest(t, e, AudienceLegal)
		r.TargetReturnDate = time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
		r.RushRationale = "board meeting moved up two weeks"
		_, err := e.Submit(r, SubmitParams{ActorID: "sub-1", Roles: submitterRoles, Number: "CRR-2024-0001", TurnaroundDays: 5, DocumentCount: 1})
		if !IsGuardViolation(err) {
			t.Fatalf("expected guard violation, got %v", err)
		}
	})

	t.Run("wrong role", func(t *testing.T) {
		r := draftRequest(t, e, AudienceLegal)
		_, err := e.Submit(r, SubmitParams{ActorID: "att-1", Roles: attorneyRoles, Number: "CRR-2024-0001", TurnaroundDays: 5, DocumentCount: 1})
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})
}

func TestSubmit_DerivedFields(t *testing.T) {
	e := newTestEngine()
	r := draftRequest(t, e, AudienceBoth)

	applied := submit(t, e, r)

	if r.Status != StatusLegalIntake {
		t.Fatalf("expected legal intake, got %s", r.Status)
	}
	if r.Number != "CRR-2024-0001" {
		t.Errorf("expected number stamped, got %q", r.Number)
	}
	if r.SubmittedBy == nil || *r.SubmittedBy != "sub-1" || r.SubmittedOn == nil {
		t.Errorf("expected submission stamps, got %+v", r)
	}
	// Created Monday 2024-06-03, 5 business days -> Monday 2024-06-10.
	want := time.Date(2024, time.June, 10, 9, 1, 0, 0, time.UTC)
	if r.ExpectedTurnaroundDate == nil || !r.ExpectedTurnaroundDate.Equal(want) {
		t.Errorf("expected turnaround %v, got %v", want, r.ExpectedTurnaroundDate)
	}
	if r.IsRushRequest {
		t.Errorf("target 2024-06-28 after turnaround should not be rush")
	}
	if applied.Event.Kind != EventRequestSubmitted || applied.Event.OldStatus != StatusDraft || applied.Event.NewStatus != StatusLegalIntake {
		t.Errorf("unexpected event %+v", applied.Event)
	}
	if applied.Intent.NewStatus != StatusLegalIntake || applied.Intent.Audience != AudienceBoth {
		t.Errorf("unexpected permission intent %+v", applied.Intent)
	}
}

func TestSubmit_RushRationaleGuard(t *testing.T) {
	e := newTestEngine()
	r := draftRequest(t, e, AudienceLegal)
	// Target Wednesday with a 5-business-day SLA from Monday: rush.
	r.TargetReturnDate = time.Date(2024, time.June, 5, 0, 0, 0, 0, time.UTC)

	_, err := e.Submit(r, SubmitParams{ActorID: "sub-1", Roles: submitterRoles, Number: "CRR-2024-0001", TurnaroundDays: 5, DocumentCount: 1})
	if !IsGuardViolation(err) {
		t.Fatalf("expected guard violation for missing rush rationale, got %v", err)
	}
	if r.Status != StatusDraft || r.IsRushRequest {
		t.Fatalf("failed guard must leave draft untouched: %+v", r)
	}

	r.RushRationale = "regulatory filing deadline"
	if _, err := e.Submit(r, SubmitParams{ActorID: "sub-1", Roles: submitterRoles, Number: "CRR-2024-0001", TurnaroundDays: 5, DocumentCount: 1}); err != nil {
		t.Fatalf("submit with rationale: %v", err)
	}
	if !r.IsRushRequest {
		t.Fatalf("expected rush request")
	}
}

func TestAssignAttorney_DirectAndCommittee(t *testing.T) {
	e := newTestEngine()

	t.Run("direct from intake", func(t *testing.T) {
		r := draftRequest(t, e, AudienceBoth)
		submit(t, e, r)
		applied := assignDirect(t, e, r)

		if r.Status != StatusInReview {
			t.Fatalf("expected in review, got %s", r.Status)
		}
		if applied.Event.Kind != EventAttorneyAssigned {
			t.Errorf("expected direct assignment event, got %s", applied.Event.Kind)
		}
		if r.LegalReview == nil || r.ComplianceReview == nil {
			t.Fatalf("both tracks must exist for both audience")
		}
		if r.LegalReview.Status != review.StatusInProgress {
			t.Errorf("legal track should be in progress, got %s", r.LegalReview.Status)
		}
		if applied.Intent.AssignedAttorneyID != "att-1" {
			t.Errorf("intent should carry the attorney, got %+v", applied.Intent)
		}

		required := ReviewRequiredEvents(r, "la-1", applied.Event.At)
		if len(required) != 2 {
			t.Fatalf("expected review-required events for both tracks, got %d", len(required))
		}
	})

	t.Run("via committee", func(t *testing.T) {
		r := draftRequest(t, e, AudienceLegal)
		submit(t, e, r)
		if _, err := e.SendToCommittee(r, ActionParams{ActorID: "la-1", Roles: legalAdminRoles}); err != nil {
			t.Fatalf("send to committee: %v", err)
		}
		if r.Status != StatusAssignAttorney || r.SentToCommitteeBy == nil {
			t.Fatalf("expected committee stamps, got %+v", r)
		}

		// Legal admins may not assign out of the committee queue.
		if _, err := e.AssignAttorney(r, AssignParams{ActorID: "la-1", Roles: legalAdminRoles, AttorneyID: "att-2"}); !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}

		applied, err := e.AssignAttorney(r, AssignParams{ActorID: "asgn-1", Roles: assignerRoles, AttorneyID: "att-2"})
		if err != nil {
			t.Fatalf("assign from committee: %v", err)
		}
		if applied.Event.Kind != EventAttorneyAssignedByCommittee {
			t.Errorf("expected committee assignment event, got %s", applied.Event.Kind)
		}
		if r.LegalReview == nil || r.ComplianceReview != nil {
			t.Fatalf("single-track audience must create only its own track")
		}
	})
}

func inReviewRequest(t *testing.T, e *Engine, audience Audience) *Request {
	t.Helper()
	r := draftRequest(t, e, audience)
	submit(t, e, r)
	assignDirect(t, e, r)
	return r
}

func legalApprove(t *testing.T, e *Engine, r *Request, outcome review.Outcome) Applied {
	t.Helper()
	applied, err := e.SubmitReview(r, ReviewDecisionParams{ActorID: "att-1", Roles: attorneyRoles, Track: review.TrackLegal, Outcome: outcome})
	if err != nil {
		t.Fatalf("legal review: %v", err)
	}
	return applied
}

func complianceApprove(t *testing.T, e *Engine, r *Request, outcome review.Outcome, flags review.ComplianceFlags) Applied {
	t.Helper()
	applied, err := e.SubmitReview(r, ReviewDecisionParams{ActorID: "comp-1", Roles: complianceRoles, Track: review.TrackCompliance, Outcome: outcome, Flags: flags})
	if err != nil {
		t.Fatalf("compliance review: %v", err)
	}
	return applied
}

func TestAggregation_SingleTrack(t *testing.T) {
	e := newTestEngine()

	t.Run("approve moves to closeout", func(t *testing.T) {
		r := inReviewRequest(t, e, AudienceLegal)
		applied := legalApprove(t, e, r, review.OutcomeApproved)
		if r.Status != StatusCloseout {
			t.Fatalf("expected closeout, got %s", r.Status)
		}
		if applied.Event.Kind != EventCloseoutReady {
			t.Errorf("expected closeout-ready event, got %s", applied.Event.Kind)
		}
	})

	t.Run("reject completes", func(t *testing.T) {
		r := inReviewRequest(t, e, AudienceLegal)
		applied := legalApprove(t, e, r, review.OutcomeNotApproved)
		if r.Status != StatusCompleted {
			t.Fatalf("expected completed, got %s", r.Status)
		}
		if applied.Event.Kind != EventRequestRejected {
			t.Errorf("expected rejected event, got %s", applied.Event.Kind)
		}
		if r.CompletedBy == nil || r.CompletedOn == nil {
			t.Errorf("expected completion stamps")
		}
	})

	t.Run("waiting keeps in review", func(t *testing.T) {
		r := inReviewRequest(t, e, AudienceLegal)
		applied := legalApprove(t, e, r, review.OutcomeRespondAndResubmit)
		if r.Status != StatusInReview {
			t.Fatalf("expected in review, got %s", r.Status)
		}
		if applied.Event.Kind != EventReviewWaitingOnSubmitter {
			t.Errorf("expected waiting event, got %s", applied.Event.Kind)
		}
	})
}

func TestAggregation_BothTracksOrderIndependent(t *testing.T) {
	e := newTestEngine()

	t.Run("legal then compliance", func(t *testing.T) {
		r := inReviewRequest(t, e, AudienceBoth)
		applied := legalApprove(t, e, r, review.OutcomeApproved)
		if r.Status != StatusInReview {
			t.Fatalf("one approval should keep request in review, got %s", r.Status)
		}
		if applied.Event.Kind != EventLegalReviewCompleted {
			t.Errorf("expected legal completed event, got %s", applied.Event.Kind)
		}
		complianceApprove(t, e, r, review.OutcomeApprovedWithComments, review.ComplianceFlags{})
		if r.Status != StatusCloseout {
			t.Fatalf("expected closeout, got %s", r.Status)
		}
	})

	t.Run("compliance then legal", func(t *testing.T) {
		r := inReviewRequest(t, e, AudienceBoth)
		complianceApprove(t, e, r, review.OutcomeApprovedWithComments, review.ComplianceFlags{})
		if r.Status != StatusInReview {
			t.Fatalf("one approval should keep request in review, got %s", r.Status)
		}
		legalApprove(t, e, r, review.OutcomeApproved)
		if r.Status != StatusCloseout {
			t.Fatalf("expected closeout, got %s", r.Status)
		}
	})
}

func TestAggregation_RejectShortCircuits(t *testing.T) {
	e := newTestEngine()
	r := inReviewRequest(t, e, AudienceBoth)

	// Compliance still in progress; legal rejection must not wait for it.
	applied := legalApprove(t, e, r, review.OutcomeNotApproved)
	if r.Status != StatusCompleted {
		t.Fatalf("expected immediate completion, got %s", r.Status)
	}
	if applied.Event.Kind != EventRequestRejected {
		t.Fatalf("expected rejected event, got %s", applied.Event.Kind)
	}
	if r.ComplianceReview.Status != review.StatusInProgress {
		t.Fatalf("compliance track should be untouched, got %s", r.ComplianceReview.Status)
	}
}

func TestTrackingIDRequirement(t *testing.T) {
	e := newTestEngine()

	t.Run("retail use on both audience", func(t *testing.T) {
		r := inReviewRequest(t, e, AudienceBoth)
		legalApprove(t, e, r, review.OutcomeApproved)
		complianceApprove(t, e, r, review.OutcomeApprovedWithComments, review.ComplianceFlags{RetailUse: true})
		if !r.TrackingIDRequired {
			t.Fatalf("retail use must require a tracking id")
		}
	})

	t.Run("foreside flag alone suffices", func(t *testing.T) {
		r := inReviewRequest(t, e, AudienceCompliance)
		complianceApprove(t, e, r, review.OutcomeApproved, review.ComplianceFlags{ForesideReviewRequired: true})
		if !r.TrackingIDRequired {
			t.Fatalf("foreside review must require a tracking id")
		}
	})

	t.Run("no flags means not required", func(t *testing.T) {
		r := inReviewRequest(t, e, AudienceBoth)
		legalApprove(t, e, r, review.OutcomeApproved)
		complianceApprove(t, e, r, review.OutcomeApproved, review.ComplianceFlags{})
		if r.TrackingIDRequired {
			t.Fatalf("no compliance flags set, tracking id must not be required")
		}
	})
}

func TestCompleteCloseout(t *testing.T) {
	e := newTestEngine()

	t.Run("tracking id enforced", func(t *testing.T) {
		r := inReviewRequest(t, e, AudienceBoth)
		legalApprove(t, e, r, review.OutcomeApproved)
		complianceApprove(t, e, r, review.OutcomeApprovedWithComments, review.ComplianceFlags{RetailUse: true})

		_, err := e.CompleteCloseout(r, CompleteParams{ActorID: "att-1", Roles: attorneyRoles})
		if !IsGuardViolation(err) {
			t.Fatalf("expected guard violation without tracking id, got %v", err)
		}

		applied, err := e.CompleteCloseout(r, CompleteParams{ActorID: "att-1", Roles: attorneyRoles, TrackingID: "FINRA-88123"})
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		if r.Status != StatusCompleted || r.TrackingID != "FINRA-88123" {
			t.Fatalf("unexpected final state %+v", r)
		}
		if applied.Event.Kind != EventRequestCompleted {
			t.Errorf("expected completed event, got %s", applied.Event.Kind)
		}
		if r.TotalTurnaroundDays == nil || *r.TotalTurnaroundDays < 0 {
			t.Errorf("expected total turnaround computed, got %v", r.TotalTurnaroundDays)
		}
	})

	t.Run("not required completes without id", func(t *testing.T) {
		r := inReviewRequest(t, e, AudienceLegal)
		legalApprove(t, e, r, review.OutcomeApproved)
		if _, err := e.CompleteCloseout(r, CompleteParams{ActorID: "att-1", Roles: attorneyRoles}); err != nil {
			t.Fatalf("complete: %v", err)
		}
	})
}

func TestHoldAndResume(t *testing.T) {
	e := newTestEngine()
	r := inReviewRequest(t, e, AudienceBoth)

	applied, err := e.Hold(r, HoldParams{ActorID: "la-1", Roles: legalAdminRoles, Reason: "awaiting outside counsel"})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if r.Status != StatusOnHold || r.PreviousStatus == nil || *r.PreviousStatus != StatusInReview {
		t.Fatalf("expected hold snapshot of in_review, got %+v", r)
	}
	if applied.Event.Kind != EventRequestOnHold {
		t.Errorf("expected on-hold event, got %s", applied.Event.Kind)
	}

	// Transitions other than resume/cancel are rejected while on hold.
	if _, err := e.SubmitReview(r, ReviewDecisionParams{ActorID: "att-1", Roles: attorneyRoles, Track: review.TrackLegal, Outcome: review.OutcomeApproved}); !IsGuardViolation(err) {
		t.Fatalf("expected guard violation while on hold, got %v", err)
	}

	resumed, err := e.Resume(r, ActionParams{ActorID: "la-1", Roles: legalAdminRoles})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if r.Status != StatusInReview || r.PreviousStatus != nil || r.HoldReason != nil {
		t.Fatalf("expected snapshot cleared on resume, got %+v", r)
	}
	if r.ResumedBy == nil || resumed.Event.Kind != EventRequestResumed {
		t.Errorf("expected resume stamps and event")
	}
}

func TestHold_Validation(t *testing.T) {
	e := newTestEngine()
	r := inReviewRequest(t, e, AudienceLegal)

	if _, err := e.Hold(r, HoldParams{ActorID: "la-1", Roles: legalAdminRoles}); !IsValidationError(err) {
		t.Fatalf("expected validation error for missing reason, got %v", err)
	}
	legalApprove(t, e, r, review.OutcomeNotApproved)
	if _, err := e.Hold(r, HoldParams{ActorID: "la-1", Roles: legalAdminRoles, Reason: "x"}); !IsGuardViolation(err) {
		t.Fatalf("expected guard violation on terminal request, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	e := newTestEngine()

	t.Run("from intake", func(t *testing.T) {
		r := draftRequest(t, e, AudienceLegal)
		submit(t, e, r)
		applied, err := e.Cancel(r, CancelParams{ActorID: "sub-1", Roles: submitterRoles, Reason: "campaign shelved"})
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if r.Status != StatusCancelled || r.CancelReason == nil || *r.CancelReason != "campaign shelved" {
			t.Fatalf("unexpected cancel state %+v", r)
		}
		if applied.Event.Kind != EventRequestCancelled {
			t.Errorf("expected cancelled event, got %s", applied.Event.Kind)
		}
	})

	t.Run("from hold clears snapshot", func(t *testing.T) {
		r := inReviewRequest(t, e, AudienceLegal)
		if _, err := e.Hold(r, HoldParams{ActorID: "la-1", Roles: legalAdminRoles, Reason: "pending restructure"}); err != nil {
			t.Fatalf("hold: %v", err)
		}
		if _, err := e.Cancel(r, CancelParams{ActorID: "la-1", Roles: legalAdminRoles, Reason: "request withdrawn"}); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if r.PreviousStatus != nil {
			t.Fatalf("previous status must be cleared outside of hold")
		}
	})

	t.Run("terminal rejects cancel", func(t *testing.T) {
		r := inReviewRequest(t, e, AudienceLegal)
		legalApprove(t, e, r, review.OutcomeNotApproved)
		if _, err := e.Cancel(r, CancelParams{ActorID: "sub-1", Roles: submitterRoles, Reason: "too late"}); !IsGuardViolation(err) {
			t.Fatalf("expected guard violation, got %v", err)
		}
	})
}

func TestResubmitLoop(t *testing.T) {
	e := newTestEngine()
	r := inReviewRequest(t, e, AudienceBoth)

	legalApprove(t, e, r, review.OutcomeRespondAndResubmit)
	if r.LegalReview.Status != review.StatusWaitingOnSubmitter {
		t.Fatalf("expected waiting on submitter, got %s", r.LegalReview.Status)
	}

	applied, err := e.ResubmitToReviewer(r, ResubmitParams{ActorID: "sub-1", Roles: submitterRoles, Track: review.TrackLegal, Note: "updated disclosures attached"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if applied.Event.Kind != EventReviewResubmitted {
		t.Errorf("expected resubmitted event, got %s", applied.Event.Kind)
	}
	if r.LegalReview.Status != review.StatusWaitingOnReviewer {
		t.Fatalf("expected waiting on reviewer, got %s", r.LegalReview.Status)
	}

	// The loop closes with a decision and the aggregate still reaches closeout.
	legalApprove(t, e, r, review.OutcomeApprovedWithComments)
	complianceApprove(t, e, r, review.OutcomeApproved, review.ComplianceFlags{})
	if r.Status != StatusCloseout {
		t.Fatalf("expected closeout after loop, got %s", r.Status)
	}
}

func TestEndToEndScenario(t *testing.T) {
	e := newTestEngine()
	r := draftRequest(t, e, AudienceBoth)

	submit(t, e, r)
	assignDirect(t, e, r)
	legalApprove(t, e, r, review.OutcomeApproved)
	complianceApprove(t, e, r, review.OutcomeApprovedWithComments, review.ComplianceFlags{RetailUse: true})

	if r.Status != StatusCloseout {
		t.Fatalf("expected closeout, got %s", r.Status)
	}
	if !r.TrackingIDRequired {
		t.Fatalf("expected tracking id requirement")
	}

	if _, err := e.CompleteCloseout(r, CompleteParams{ActorID: "att-1", Roles: attorneyRoles, TrackingID: "FSD-2024-771"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if r.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", r.Status)
	}
	if r.TotalTurnaroundDays == nil || *r.TotalTurnaroundDays < 0 {
		t.Fatalf("expected non-negative total turnaround, got %v", r.TotalTurnaroundDays)
	}
}

func TestMentionEvents(t *testing.T) {
	e := newTestEngine()
	r := inReviewRequest(t, e, AudienceLegal)

	events := MentionEvents(r, review.TrackLegal, "att-1", []string{"sub-1", ""}, time.Now())
	if len(events) != 1 {
		t.Fatalf("expected one mention event, got %d", len(events))
	}
	if events[0].Kind != EventUserMentioned {
		t.Fatalf("expected mention kind, got %s", events[0].Kind)
	}
}
