// Package review models a single review track (legal or compliance) on a
// content-review request. Each track is an independent state machine that the
// request lifecycle engine aggregates into an overall status.
package review

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Track string

const (
	TrackLegal      Track = "legal"
	TrackCompliance Track = "compliance"
)

type Status string

const (
	StatusNotStarted         Status = "not_started"
	StatusInProgress         Status = "in_progress"
	StatusWaitingOnSubmitter Status = "waiting_on_submitter"
	StatusWaitingOnReviewer  Status = "waiting_on_reviewer"
	StatusCompleted          Status = "completed"
)

// Outcome is the reviewer's decision, recorded only once a decision exists.
type Outcome string

const (
	OutcomeApproved             Outcome = "approved"
	OutcomeApprovedWithComments Outcome = "approved_with_comments"
	OutcomeRespondAndResubmit   Outcome = "respond_to_comments_and_resubmit"
	OutcomeNotApproved          Outcome = "not_approved"
)

// Approving reports whether the outcome clears the track for closeout.
func (o Outcome) Approving() bool {
	return o == OutcomeApproved || o == OutcomeApprovedWithComments
}

var (
	ErrNotOpen         = errors.New("review: track is not open for a decision")
	ErrNotWaiting      = errors.New("review: track is not waiting on the submitter")
	ErrInvalidOutcome  = errors.New("review: invalid outcome")
	ErrReviewerMissing = errors.New("review: reviewer id required")
)

// NoteEntry is one entry in the append-only notes log. Notes are never
// overwritten; every submission and resubmission appends.
type NoteEntry struct {
	ID        string
	AuthorID  string
	Body      string
	WrittenAt time.Time
}

// ComplianceFlags carries the compliance-track metadata that feeds the
// tracking-id requirement at closeout. Zero value for the legal track.
type ComplianceFlags struct {
	ForesideReviewRequired bool
	RetailUse              bool
}

// State is the per-track review aggregate. Created in StatusNotStarted when
// the request enters review and retained for audit after terminal states.
type State struct {
	Track       Track
	Status      Status
	Outcome     Outcome
	Notes       []NoteEntry
	ReviewerID  string
	CompletedOn *time.Time
	Flags       ComplianceFlags
}

// NewState builds a fresh track in StatusNotStarted.
func NewState(track Track) *State {
	return &State{Track: track, Status: StatusNotStarted}
}

// Start moves a not-started track into progress. Starting an already open
// track is a no-op so re-entry into review is idempotent.
func (s *State) Start() {
	if s.Status == StatusNotStarted {
		s.Status = StatusInProgress
	}
}

// Open reports whether the track can still accept a reviewer decision.
func (s *State) Open() bool {
	switch s.Status {
	case StatusInProgress, StatusWaitingOnReviewer, StatusNotStarted:
		return true
	default:
		return false
	}
}

// SubmitParams carries one reviewer decision.
type SubmitParams struct {
	ReviewerID string
	Outcome    Outcome
	Note       string
	Flags      ComplianceFlags
	At         time.Time
}

// Submit records a reviewer decision. An approving or rejecting outcome
// completes the track; RespondToCommentsAndResubmit instead parks the track
// waiting on the submitter with no outcome recorded, keeping the review open.
// The note, when present, is appended to the log. State is only mutated once
// every check passes.
func (s *State) Submit(params SubmitParams) error {
	if params.ReviewerID == "" {
		return ErrReviewerMissing
	}
	switch params.Outcome {
	case OutcomeApproved, OutcomeApprovedWithComments, OutcomeRespondAndResubmit, OutcomeNotApproved:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOutcome, params.Outcome)
	}
	if !s.Open() {
		return fmt.Errorf("%w (status=%s)", ErrNotOpen, s.Status)
	}

	s.ReviewerID = params.ReviewerID
	if s.Track == TrackCompliance {
		s.Flags = params.Flags
	}
	s.appendNote(params.ReviewerID, params.Note, params.At)

	if params.Outcome == OutcomeRespondAndResubmit {
		s.Status = StatusWaitingOnSubmitter
		s.Outcome = ""
		return nil
	}

	s.Status = StatusCompleted
	s.Outcome = params.Outcome
	at := params.At
	s.CompletedOn = &at
	return nil
}

// ResubmitParams carries the submitter's response to reviewer comments.
type ResubmitParams struct {
	SubmitterID string
	Note        string
	At          time.Time
}

// Resubmit hands a waiting track back to the reviewer. It appends the
// submitter's note and never records an outcome.
func (s *State) Resubmit(params ResubmitParams) error {
	if s.Status != StatusWaitingOnSubmitter {
		return fmt.Errorf("%w (status=%s)", ErrNotWaiting, s.Status)
	}
	s.appendNote(params.SubmitterID, params.Note, params.At)
	s.Status = StatusWaitingOnReviewer
	return nil
}

func (s *State) appendNote(authorID, body string, at time.Time) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	s.Notes = append(s.Notes, NoteEntry{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Body:      body,
		WrittenAt: at,
	})
}

// Completed reports whether the track holds a final decision.
func (s *State) Completed() bool {
	return s != nil && s.Status == StatusCompleted
}
