package request

import (
	"time"

	"github.com/google/uuid"

	"reviewflow/review"
)

// EventKind identifies one of the typed domain events the engine returns.
// The engine never delivers events; the caller hands them to the notifier
// and permission collaborators (and, here, the transactional outbox).
type EventKind string

const (
	EventRequestCreated              EventKind = "request.created"
	EventRequestSubmitted            EventKind = "request.submitted"
	EventSentToCommittee             EventKind = "request.sent_to_committee"
	EventAttorneyAssigned            EventKind = "request.attorney_assigned"
	EventAttorneyAssignedByCommittee EventKind = "request.attorney_assigned_from_committee"
	EventLegalReviewRequired         EventKind = "request.legal_review_required"
	EventComplianceReviewRequired    EventKind = "request.compliance_review_required"
	EventLegalReviewCompleted        EventKind = "request.legal_review_completed"
	EventComplianceReviewCompleted   EventKind = "request.compliance_review_completed"
	EventReviewWaitingOnSubmitter    EventKind = "request.review_waiting_on_submitter"
	EventReviewResubmitted           EventKind = "request.review_resubmitted"
	EventCloseoutReady               EventKind = "request.closeout_ready"
	EventRequestCompleted            EventKind = "request.completed"
	EventRequestRejected             EventKind = "request.rejected"
	EventRequestCancelled            EventKind = "request.cancelled"
	EventRequestOnHold               EventKind = "request.on_hold"
	EventRequestResumed              EventKind = "request.resumed"
	EventUserMentioned               EventKind = "request.mention"
)

// Event carries the audit facts for one committed transition or review
// submission: who, when, and the status movement.
type Event struct {
	ID            string
	Kind          EventKind
	RequestID     string
	RequestNumber string
	OldStatus     Status
	NewStatus     Status
	ActorID       string
	At            time.Time
	Detail        string
}

func newEvent(kind EventKind, r *Request, old Status, actorID string, at time.Time, detail string) Event {
	return Event{
		ID:            uuid.NewString(),
		Kind:          kind,
		RequestID:     r.ID,
		RequestNumber: r.Number,
		OldStatus:     old,
		NewStatus:     r.Status,
		ActorID:       actorID,
		At:            at,
		Detail:        detail,
	}
}

// ReviewRequiredEvents expands a request that just entered review into the
// per-track notifications the notifier delivers to each reviewer audience.
// These supplement the single assignment event of the transition itself.
func ReviewRequiredEvents(r *Request, actorID string, at time.Time) []Event {
	if r.Status != StatusInReview {
		return nil
	}
	var out []Event
	if r.LegalReview != nil {
		out = append(out, newEvent(EventLegalReviewRequired, r, r.Status, actorID, at, "legal review required"))
	}
	if r.ComplianceReview != nil {
		out = append(out, newEvent(EventComplianceReviewRequired, r, r.Status, actorID, at, "compliance review required"))
	}
	return out
}

// MentionEvents builds one mention event per mentioned user id for the
// notifier. Mentions ride alongside the note they appeared in.
func MentionEvents(r *Request, track review.Track, actorID string, mentions []string, at time.Time) []Event {
	out := make([]Event, 0, len(mentions))
	for _, userID := range mentions {
		if userID == "" {
			continue
		}
		ev := newEvent(EventUserMentioned, r, r.Status, actorID, at, "mentioned in "+string(track)+" review note: "+userID)
		out = append(out, ev)
	}
	return out
}
