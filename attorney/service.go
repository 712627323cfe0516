package attorney

import (
	"context"
	"errors"
)

// ErrNotAssignable signals the attorney exists but is not accepting
// assignments.
var ErrNotAssignable = errors.New("attorney: not assignable")

// ProfileReader abstracts repository operations for the service.
type ProfileReader interface {
	GetByID(ctx context.Context, id string) (Profile, error)
	ListAssignable(ctx context.Context, limit int) ([]Profile, error)
}

// Service exposes business-level attorney directory operations.
type Service struct {
	repo ProfileReader
}

// NewService builds a Service using the provided repository.
func NewService(repo ProfileReader) *Service {
	return &Service{repo: repo}
}

// GetByID returns the attorney profile for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Profile, error) {
	return s.repo.GetByID(ctx, id)
}

// RequireAssignable returns the profile only when the attorney can take new
// review work. Assignment flows call this before touching the request.
func (s *Service) RequireAssignable(ctx context.Context, id string) (Profile, error) {
	profile, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	if !profile.Assignable {
		return Profile{}, ErrNotAssignable
	}
	return profile, nil
}

// ListAssignable returns up to limit attorneys eligible for assignment.
func (s *Service) ListAssignable(ctx context.Context, limit int) ([]Profile, error) {
	return s.repo.ListAssignable(ctx, limit)
}
