package request

import (
	"time"

	"reviewflow/review"
)

// Status enumerates the request lifecycle states. Completed and Cancelled are
// terminal; OnHold remembers the state it interrupted.
type Status string

const (
	StatusDraft          Status = "draft"
	StatusLegalIntake    Status = "legal_intake"
	StatusAssignAttorney Status = "assign_attorney"
	StatusInReview       Status = "in_review"
	StatusCloseout       Status = "closeout"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusOnHold         Status = "on_hold"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Audience selects which review tracks must sign off on a request.
type Audience string

const (
	AudienceLegal      Audience = "legal"
	AudienceCompliance Audience = "compliance"
	AudienceBoth       Audience = "both"
)

// IncludesLegal reports whether the legal track participates.
func (a Audience) IncludesLegal() bool { return a == AudienceLegal || a == AudienceBoth }

// IncludesCompliance reports whether the compliance track participates.
func (a Audience) IncludesCompliance() bool { return a == AudienceCompliance || a == AudienceBoth }

func validAudience(a Audience) bool {
	return a == AudienceLegal || a == AudienceCompliance || a == AudienceBoth
}

// Approval is one sign-off collected before first submission. All sub-fields
// must be populated for the approval to count toward the submission guard.
type Approval struct {
	ApproverID    string
	ApproverName  string
	ApproverTitle string
	ApprovedOn    time.Time
}

// Complete reports whether every sub-field of the approval is set.
func (a Approval) Complete() bool {
	return a.ApproverID != "" && a.ApproverName != "" && a.ApproverTitle != "" && !a.ApprovedOn.IsZero()
}

// RoleFacts are the caller-supplied role booleans the engine uses to gate
// transitions. The engine never computes them (see auth.Facts).
type RoleFacts struct {
	IsSubmitter        bool
	IsLegalAdmin       bool
	IsAttorneyAssigner bool
	IsAttorney         bool
	IsComplianceUser   bool
	IsAdmin            bool
}

// Request is the aggregate root for one content-review request. All writes go
// through Engine transitions; concurrent write-back conflicts are the
// caller's concern (optimistic concurrency via Version).
type Request struct {
	ID               string
	Number           string // CRR-{YEAR}-{SEQ}, assigned on first submission
	Status           Status
	Audience         Audience
	SubmissionItemID string
	Title            string

	TargetReturnDate       time.Time
	TurnaroundDays         int // resolved from the submission item at submit time
	ExpectedTurnaroundDate *time.Time
	IsRushRequest          bool
	RushRationale          string

	LegalReview      *review.State
	ComplianceReview *review.State

	TrackingIDRequired  bool
	TrackingID          string
	TotalTurnaroundDays *int

	Approvals []Approval

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int

	SubmittedBy        *string
	SubmittedOn        *time.Time
	AttorneyID         *string
	AttorneyAssignedBy *string
	AttorneyAssignedOn *time.Time
	SentToCommitteeBy  *string
	SentToCommitteeOn  *time.Time
	CompletedBy        *string
	CompletedOn        *time.Time
	CancelledBy        *string
	CancelledOn        *time.Time
	CancelReason       *string
	OnHoldBy           *string
	OnHoldOn           *time.Time
	HoldReason         *string
	PreviousStatus     *Status
	ResumedBy          *string
	ResumedOn          *time.Time
}

// Track returns the review state for the given track, or nil when the
// audience excludes it.
func (r *Request) Track(t review.Track) *review.State {
	switch t {
	case review.TrackLegal:
		return r.LegalReview
	case review.TrackCompliance:
		return r.ComplianceReview
	default:
		return nil
	}
}

// CompleteApprovals counts approvals with every sub-field populated.
func (r *Request) CompleteApprovals() int {
	n := 0
	for _, a := range r.Approvals {
		if a.Complete() {
			n++
		}
	}
	return n
}

// PermissionIntent describes the access-control change an external
// collaborator should apply after a committed transition.
type PermissionIntent struct {
	RequestID          string
	Number             string
	NewStatus          Status
	AssignedAttorneyID string
	Audience           Audience
}

func (r *Request) permissionIntent() PermissionIntent {
	intent := PermissionIntent{
		RequestID: r.ID,
		Number:    r.Number,
		NewStatus: r.Status,
		Audience:  r.Audience,
	}
	if r.AttorneyID != nil {
		intent.AssignedAttorneyID = *r.AttorneyID
	}
	return intent
}
