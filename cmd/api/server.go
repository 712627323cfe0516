package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"reviewflow/attorney"
	"reviewflow/auth"
	"reviewflow/document"
	"reviewflow/item"
	"reviewflow/request"
	"reviewflow/review"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "userID"
	ctxKeyRole   ctxKey = "role"
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

type requestService interface {
	CreateDraft(ctx context.Context, params request.DraftParams) (*request.Request, error)
	UpdateDraft(ctx context.Context, params request.UpdateDraftParams) (*request.Request, error)
	Submit(ctx context.Context, input request.SubmitInput) (*request.Request, request.Applied, error)
	SendToCommittee(ctx context.Context, requestID string, params request.ActionParams) (*request.Request, request.Applied, error)
	AssignAttorney(ctx context.Context, input request.AssignInput) (*request.Request, request.Applied, error)
	SubmitReview(ctx context.Context, input request.ReviewInput) (*request.Request, request.Applied, error)
	ResubmitToReviewer(ctx context.Context, input request.ResubmitInput) (*request.Request, request.Applied, error)
	CompleteCloseout(ctx context.Context, input request.CompleteInput) (*request.Request, request.Applied, error)
	Hold(ctx context.Context, requestID string, params request.HoldParams) (*request.Request, request.Applied, error)
	Resume(ctx context.Context, requestID string, params request.ActionParams) (*request.Request, request.Applied, error)
	Cancel(ctx context.Context, requestID string, params request.CancelParams) (*request.Request, request.Applied, error)
	Get(ctx context.Context, id string) (*request.Request, error)
	List(ctx context.Context, filters request.ListFilters) ([]request.Request, int, error)
}

type attorneyService interface {
	GetByID(ctx context.Context, id string) (attorney.Profile, error)
	ListAssignable(ctx context.Context, limit int) ([]attorney.Profile, error)
}

type itemService interface {
	GetByID(ctx context.Context, id string) (item.SubmissionItem, error)
	List(ctx context.Context, filters item.Filters) ([]item.SubmissionItem, int, error)
}

// Server wires HTTP handlers to the domain services.
type Server struct {
	authService     authService
	requestService  requestService
	attorneyService attorneyService
	itemService     itemService
	stager          *document.Stager
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/requests", s.withAuth(s.handleRequests))
	mux.HandleFunc("/api/requests/", s.withAuth(s.handleRequestDetail))
	mux.HandleFunc("/api/attorneys", s.withAuth(s.handleAttorneys))
	mux.HandleFunc("/api/attorneys/", s.withAuth(s.handleAttorney))
	mux.HandleFunc("/api/items", s.withAuth(s.handleItems))
	return mux
}

// withAuth validates the bearer token and stashes the caller identity on the
// request context.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, role, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next(w, r.WithContext(ctx))
	}
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyUserID).(string)
	return id
}

func callerFacts(r *http.Request) request.RoleFacts {
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	return auth.Facts(role)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, userResponseFrom(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user":  userResponseFrom(&result.User),
	})
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filters := request.ListFilters{
			Status:    request.Status(r.URL.Query().Get("status")),
			CreatedBy: r.URL.Query().Get("createdBy"),
		}
		filters.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
		filters.PageSize, _ = strconv.Atoi(r.URL.Query().Get("pageSize"))

		list, total, err := s.requestService.List(r.Context(), filters)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		items := make([]requestResponse, 0, len(list))
		for i := range list {
			items = append(items, requestResponseFrom(&list[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})

	case http.MethodPost:
		var body struct {
			Title            string `json:"title"`
			Audience         string `json:"audience"`
			SubmissionItemID string `json:"submissionItemId"`
			TargetReturnDate string `json:"targetReturnDate"`
			RushRationale    string `json:"rushRationale"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		target, err := time.Parse(time.RFC3339, body.TargetReturnDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "targetReturnDate must be RFC 3339")
			return
		}
		req, err := s.requestService.CreateDraft(r.Context(), request.DraftParams{
			CreatorID:        callerID(r),
			Title:            body.Title,
			Audience:         request.Audience(body.Audience),
			SubmissionItemID: body.SubmissionItemID,
			TargetReturnDate: target,
			RushRationale:    body.RushRationale,
		})
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, requestResponseFrom(req))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleRequestDetail serves /api/requests/{id} and the transition
// sub-resources /api/requests/{id}/{action}.
func (s *Server) handleRequestDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/requests/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "request id required")
		return
	}
	id, action, _ := strings.Cut(rest, "/")

	if action == "" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		req, err := s.requestService.Get(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, requestResponseFrom(req))
		return
	}

	if action == "documents" {
		s.handleRequestDocuments(w, r, id)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.handleTransition(w, r, id, action)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, id, action string) {
	actor := callerID(r)
	facts := callerFacts(r)

	var body struct {
		AttorneyID string   `json:"attorneyId"`
		Track      string   `json:"track"`
		Outcome    string   `json:"outcome"`
		Note       string   `json:"note"`
		Mentions   []string `json:"mentions"`
		Reason     string   `json:"reason"`
		TrackingID string   `json:"trackingId"`
		Foreside   bool     `json:"foresideReviewRequired"`
		RetailUse  bool     `json:"retailUse"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	}

	var (
		req *request.Request
		err error
	)
	switch action {
	case "submit":
		req, _, err = s.requestService.Submit(r.Context(), request.SubmitInput{RequestID: id, ActorID: actor, Roles: facts})
	case "committee":
		req, _, err = s.requestService.SendToCommittee(r.Context(), id, request.ActionParams{ActorID: actor, Roles: facts})
	case "assign":
		req, _, err = s.requestService.AssignAttorney(r.Context(), request.AssignInput{RequestID: id, ActorID: actor, Roles: facts, AttorneyID: body.AttorneyID})
	case "reviews":
		req, _, err = s.requestService.SubmitReview(r.Context(), request.ReviewInput{
			RequestID: id,
			ActorID:   actor,
			Roles:     facts,
			Track:     review.Track(body.Track),
			Outcome:   review.Outcome(body.Outcome),
			Note:      body.Note,
			Flags:     review.ComplianceFlags{ForesideReviewRequired: body.Foreside, RetailUse: body.RetailUse},
			Mentions:  body.Mentions,
		})
	case "resubmit":
		req, _, err = s.requestService.ResubmitToReviewer(r.Context(), request.ResubmitInput{
			RequestID: id,
			ActorID:   actor,
			Roles:     facts,
			Track:     review.Track(body.Track),
			Note:      body.Note,
			Mentions:  body.Mentions,
		})
	case "closeout":
		req, _, err = s.requestService.CompleteCloseout(r.Context(), request.CompleteInput{RequestID: id, ActorID: actor, Roles: facts, TrackingID: body.TrackingID})
	case "hold":
		req, _, err = s.requestService.Hold(r.Context(), id, request.HoldParams{ActorID: actor, Roles: facts, Reason: body.Reason})
	case "resume":
		req, _, err = s.requestService.Resume(r.Context(), id, request.ActionParams{ActorID: actor, Roles: facts})
	case "cancel":
		req, _, err = s.requestService.Cancel(r.Context(), id, request.CancelParams{ActorID: actor, Roles: facts, Reason: body.Reason})
	default:
		writeError(w, http.StatusNotFound, "unknown action "+action)
		return
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestResponseFrom(req))
}

// handleRequestDocuments serves the staged document view for a request:
// GET lists committed documents (?force=true reloads), POST stages the
// supplied files and commits the upload batch.
func (s *Server) handleRequestDocuments(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		force := r.URL.Query().Get("force") == "true"
		docs, err := s.stager.Load(r.Context(), id, force)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		items := make([]documentResponse, 0, len(docs))
		for _, d := range docs {
			items = append(items, documentResponseFrom(d))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})

	case http.MethodPost:
		var body struct {
			DocumentType string `json:"documentType"`
			Files        []struct {
				Name    string `json:"name"`
				Content []byte `json:"content"`
			} `json:"files"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		files := make([]document.FileInput, 0, len(body.Files))
		for _, f := range body.Files {
			files = append(files, document.FileInput{Name: f.Name, Content: f.Content})
		}

		if dups := s.stager.DuplicateNames(id, files, body.DocumentType); len(dups) > 0 && r.URL.Query().Get("overwrite") != "true" {
			writeJSON(w, http.StatusConflict, map[string]any{"duplicates": dups})
			return
		}

		s.stager.Stage(id, files, body.DocumentType, callerID(r))
		if err := s.stager.CommitUploads(r.Context(), id, nil); err != nil {
			s.writeDomainError(w, err)
			return
		}
		staged := s.stager.Staged(id)
		results := make([]map[string]any, 0, len(staged))
		for _, entry := range staged {
			results = append(results, map[string]any{
				"id":       entry.ID,
				"name":     entry.Name,
				"status":   string(entry.Status),
				"attempts": entry.Attempts,
				"error":    entry.LastError,
			})
		}
		s.stager.ClearCompleted(id)
		writeJSON(w, http.StatusOK, map[string]any{"uploads": results})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleAttorneys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	profiles, err := s.attorneyService.ListAssignable(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list attorneys failed")
		return
	}
	items := make([]attorneyResponse, 0, len(profiles))
	for _, p := range profiles {
		items = append(items, attorneyResponseFrom(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handleAttorney(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/attorneys/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "attorney id required")
		return
	}
	profile, err := s.attorneyService.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, attorney.ErrNotFound) {
			writeError(w, http.StatusNotFound, "attorney not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get attorney failed")
		return
	}
	writeJSON(w, http.StatusOK, attorneyResponseFrom(profile))
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	filters := item.Filters{
		Category:   r.URL.Query().Get("category"),
		ActiveOnly: r.URL.Query().Get("active") != "false",
	}
	filters.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filters.PageSize, _ = strconv.Atoi(r.URL.Query().Get("pageSize"))

	list, total, err := s.itemService.List(r.Context(), filters)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list items failed")
		return
	}
	items := make([]itemResponse, 0, len(list))
	for _, it := range list {
		items = append(items, itemResponseFrom(it))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

// writeDomainError maps domain errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var remote *document.RemoteError
	switch {
	case errors.Is(err, request.ErrNotFound), errors.Is(err, item.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, request.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, request.ErrVersionConflict):
		writeError(w, http.StatusConflict, "version conflict, reload and retry")
	case request.IsGuardViolation(err):
		writeError(w, http.StatusConflict, err.Error())
	case request.IsValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, item.ErrInactive):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &remote):
		writeError(w, http.StatusBadGateway, remote.Error())
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
