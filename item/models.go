package item

import "time"

// SubmissionItem is a catalog entry for the kind of material a review
// request covers. Each item carries the business-day turnaround used to
// derive expected return dates.
type SubmissionItem struct {
	ID             string
	Name           string
	Category       string
	TurnaroundDays int
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Filters narrows catalog listings.
type Filters struct {
	Category   string
	ActiveOnly bool
	Page       int
	PageSize   int
}
