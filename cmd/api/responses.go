package main

import (
	"time"

	"reviewflow/attorney"
	"reviewflow/auth"
	"reviewflow/document"
	"reviewflow/item"
	"reviewflow/request"
	"reviewflow/review"
)

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

func userResponseFrom(u *auth.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: string(u.Role)}
}

type noteResponse struct {
	ID        string `json:"id"`
	AuthorID  string `json:"authorId"`
	Body      string `json:"body"`
	WrittenAt string `json:"writtenAt"`
}

type reviewResponse struct {
	Track       string         `json:"track"`
	Status      string         `json:"status"`
	Outcome     string         `json:"outcome,omitempty"`
	ReviewerID  string         `json:"reviewerId,omitempty"`
	CompletedOn string         `json:"completedOn,omitempty"`
	Notes       []noteResponse `json:"notes"`
}

func reviewResponseFrom(st *review.State) *reviewResponse {
	if st == nil {
		return nil
	}
	resp := &reviewResponse{
		Track:      string(st.Track),
		Status:     string(st.Status),
		Outcome:    string(st.Outcome),
		ReviewerID: st.ReviewerID,
		Notes:      make([]noteResponse, 0, len(st.Notes)),
	}
	if st.CompletedOn != nil {
		resp.CompletedOn = st.CompletedOn.Format(time.RFC3339)
	}
	for _, n := range st.Notes {
		resp.Notes = append(resp.Notes, noteResponse{
			ID:        n.ID,
			AuthorID:  n.AuthorID,
			Body:      n.Body,
			WrittenAt: n.WrittenAt.Format(time.RFC3339),
		})
	}
	return resp
}

type approvalResponse struct {
	ApproverID    string `json:"approverId"`
	ApproverName  string `json:"approverName"`
	ApproverTitle string `json:"approverTitle"`
	ApprovedOn    string `json:"approvedOn"`
}

type requestResponse struct {
	ID                     string             `json:"id"`
	Number                 string             `json:"number,omitempty"`
	Status                 string             `json:"status"`
	Audience               string             `json:"audience"`
	Title                  string             `json:"title"`
	SubmissionItemID       string             `json:"submissionItemId"`
	TargetReturnDate       string             `json:"targetReturnDate"`
	TurnaroundDays         int                `json:"turnaroundDays"`
	ExpectedTurnaroundDate string             `json:"expectedTurnaroundDate,omitempty"`
	IsRushRequest          bool               `json:"isRushRequest"`
	RushRationale          string             `json:"rushRationale,omitempty"`
	TrackingIDRequired     bool               `json:"trackingIdRequired"`
	TrackingID             string             `json:"trackingId,omitempty"`
	TotalTurnaroundDays    *int               `json:"totalTurnaroundDays,omitempty"`
	Approvals              []approvalResponse `json:"approvals"`
	LegalReview            *reviewResponse    `json:"legalReview,omitempty"`
	ComplianceReview       *reviewResponse    `json:"complianceReview,omitempty"`
	AttorneyID             *string            `json:"attorneyId,omitempty"`
	CreatedBy              string             `json:"createdBy"`
	CreatedAt              string             `json:"createdAt"`
	UpdatedAt              string             `json:"updatedAt"`
	Version                int                `json:"version"`
}

func requestResponseFrom(r *request.Request) requestResponse {
	resp := requestResponse{
		ID:                  r.ID,
		Number:              r.Number,
		Status:              string(r.Status),
		Audience:            string(r.Audience),
		Title:               r.Title,
		SubmissionItemID:    r.SubmissionItemID,
		TargetReturnDate:    r.TargetReturnDate.Format(time.RFC3339),
		TurnaroundDays:      r.TurnaroundDays,
		IsRushRequest:       r.IsRushRequest,
		RushRationale:       r.RushRationale,
		TrackingIDRequired:  r.TrackingIDRequired,
		TrackingID:          r.TrackingID,
		TotalTurnaroundDays: r.TotalTurnaroundDays,
		Approvals:           make([]approvalResponse, 0, len(r.Approvals)),
		LegalReview:         reviewResponseFrom(r.LegalReview),
		ComplianceReview:    reviewResponseFrom(r.ComplianceReview),
		AttorneyID:          r.AttorneyID,
		CreatedBy:           r.CreatedBy,
		CreatedAt:           r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:           r.UpdatedAt.Format(time.RFC3339),
		Version:             r.Version,
	}
	if r.ExpectedTurnaroundDate != nil {
		resp.ExpectedTurnaroundDate = r.ExpectedTurnaroundDate.Format(time.RFC3339)
	}
	for _, a := range r.Approvals {
		resp.Approvals = append(resp.Approvals, approvalResponse{
			ApproverID:    a.ApproverID,
			ApproverName:  a.ApproverName,
			ApproverTitle: a.ApproverTitle,
			ApprovedOn:    a.ApprovedOn.Format(time.RFC3339),
		})
	}
	return resp
}

type attorneyResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Title      string `json:"title"`
	Email      string `json:"email"`
	Assignable bool   `json:"assignable"`
	CreatedAt  string `json:"createdAt"`
}

func attorneyResponseFrom(p attorney.Profile) attorneyResponse {
	return attorneyResponse{
		ID:         p.ID,
		Name:       p.Name,
		Title:      p.Title,
		Email:      p.Email,
		Assignable: p.Assignable,
		CreatedAt:  p.CreatedAt.Format(time.RFC3339),
	}
}

type itemResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Category       string `json:"category,omitempty"`
	TurnaroundDays int    `json:"turnaroundDays"`
	Active         bool   `json:"active"`
}

func itemResponseFrom(it item.SubmissionItem) itemResponse {
	return itemResponse{
		ID:             it.ID,
		Name:           it.Name,
		Category:       it.Category,
		TurnaroundDays: it.TurnaroundDays,
		Active:         it.Active,
	}
}

type documentResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DocumentType string `json:"documentType"`
	SizeBytes    int64  `json:"sizeBytes"`
	UploadedBy   string `json:"uploadedBy"`
	UploadedAt   string `json:"uploadedAt"`
}

func documentResponseFrom(d document.Document) documentResponse {
	return documentResponse{
		ID:           d.ID,
		Name:         d.Name,
		DocumentType: d.DocumentType,
		SizeBytes:    d.SizeBytes,
		UploadedBy:   d.UploadedBy,
		UploadedAt:   d.UploadedAt.Format(time.RFC3339),
	}
}
