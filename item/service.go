package item

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrInactive signals the item exists but is retired from the catalog.
	ErrInactive = errors.New("item: inactive")
	// ErrInvalidTurnaround signals a non-positive turnaround.
	ErrInvalidTurnaround = errors.New("item: turnaround days must be positive")
	// ErrNameRequired signals a blank catalog name.
	ErrNameRequired = errors.New("item: name is required")
)

// Service exposes catalog operations and resolves turnarounds for the
// request lifecycle.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create validates and inserts a new catalog entry.
func (s *Service) Create(ctx context.Context, it SubmissionItem) (SubmissionItem, error) {
	if strings.TrimSpace(it.Name) == "" {
		return SubmissionItem{}, ErrNameRequired
	}
	if it.TurnaroundDays <= 0 {
		return SubmissionItem{}, ErrInvalidTurnaround
	}
	it.Active = true
	return s.repo.Create(ctx, it)
}

// GetByID returns the catalog entry for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (SubmissionItem, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns a page of catalog entries plus the unpaged total.
func (s *Service) List(ctx context.Context, filters Filters) ([]SubmissionItem, int, error) {
	return s.repo.List(ctx, filters)
}

// RequireActive returns the entry only when it is still offered. Draft
// creation calls this so retired items cannot anchor new requests.
func (s *Service) RequireActive(ctx context.Context, id string) (SubmissionItem, error) {
	it, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return SubmissionItem{}, err
	}
	if !it.Active {
		return SubmissionItem{}, ErrInactive
	}
	return it, nil
}

// TurnaroundDays resolves the business-day turnaround for a catalog entry.
// The request lifecycle derives expected return dates from this at
// submission time; retired items still resolve so in-flight requests keep
// their original turnaround.
func (s *Service) TurnaroundDays(ctx context.Context, id string) (int, error) {
	it, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return it.TurnaroundDays, nil
}

// SetActive flips catalog availability.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (SubmissionItem, error) {
	return s.repo.SetActive(ctx, id, active)
}

// SetTurnaround updates the turnaround for future submissions.
func (s *Service) SetTurnaround(ctx context.Context, id string, days int) (SubmissionItem, error) {
	if days <= 0 {
		return SubmissionItem{}, ErrInvalidTurnaround
	}
	return s.repo.SetTurnaround(ctx, id, days)
}
