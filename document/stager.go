package document

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRetryBound        = 2
	defaultRetryBackoff      = 200 * time.Millisecond
	defaultSettleDelay       = 1500 * time.Millisecond
	defaultUploadConcurrency = 4
)

// Stager queues document operations per scope and commits them against the
// remote Store. Mutating commits wait a settle delay before reloading so the
// backend's listing has caught up; uploads run through a bounded worker group
// and keep going past individual failures.
type Stager struct {
	store Store

	mu     sync.Mutex
	loads  singleflight.Group
	scopes map[string]*scopeState

	retryBound        int
	retryBackoff      time.Duration
	settleDelay       time.Duration
	uploadConcurrency int

	sleep func(ctx context.Context, d time.Duration) error
	idGen func() string
}

type scopeState struct {
	loaded    bool
	documents []Document

	staged  []*StagedUpload
	deletes map[string]bool   // document id -> marked
	renames map[string]string // document id -> new name
	retypes map[string]string // document id -> new type
}

func NewStager(store Store) *Stager {
	return &Stager{
		store:             store,
		scopes:            make(map[string]*scopeState),
		retryBound:        defaultRetryBound,
		retryBackoff:      defaultRetryBackoff,
		settleDelay:       defaultSettleDelay,
		uploadConcurrency: defaultUploadConcurrency,
		sleep:             sleepContext,
		idGen:             uuid.NewString,
	}
}

// WithSettleDelay overrides the pause between a mutating commit and the
// forced reload.
func (s *Stager) WithSettleDelay(d time.Duration) *Stager {
	s.settleDelay = d
	return s
}

// WithRetryBackoff overrides the base delay before upload retries.
func (s *Stager) WithRetryBackoff(d time.Duration) *Stager {
	s.retryBackoff = d
	return s
}

// WithSleep overrides the sleep used for settle delays and retry backoff.
// Tests inject a no-op.
func (s *Stager) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Stager {
	s.sleep = fn
	return s
}

// WithIDGenerator overrides staged-entry id generation.
func (s *Stager) WithIDGenerator(fn func() string) *Stager {
	s.idGen = fn
	return s
}

// WithUploadConcurrency bounds the parallel workers used by CommitUploads.
func (s *Stager) WithUploadConcurrency(n int) *Stager {
	if n > 0 {
		s.uploadConcurrency = n
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Stager) scope(scopeID string) *scopeState {
	st, ok := s.scopes[scopeID]
	if !ok {
		st = &scopeState{
			deletes: make(map[string]bool),
			renames: make(map[string]string),
			retypes: make(map[string]string),
		}
		s.scopes[scopeID] = st
	}
	return st
}

// Load returns the committed documents for a scope. Without force a cached
// result is served; concurrent loads for the same scope collapse into one
// remote call and share its result. On remote failure previously loaded
// documents stay available.
func (s *Stager) Load(ctx context.Context, scopeID string, force bool) ([]Document, error) {
	s.mu.Lock()
	st := s.scope(scopeID)
	if st.loaded && !force {
		docs := copyDocs(st.documents)
		s.mu.Unlock()
		return docs, nil
	}
	s.mu.Unlock()

	v, err, _ := s.loads.Do(scopeID, func() (any, error) {
		docs, err := s.store.Load(ctx, scopeID)
		if err != nil {
			return nil, &RemoteError{Op: "load", ScopeID: scopeID, Err: err}
		}
		s.mu.Lock()
		st := s.scope(scopeID)
		st.documents = docs
		st.loaded = true
		s.mu.Unlock()
		return docs, nil
	})
	if err != nil {
		return nil, err
	}
	return copyDocs(v.([]Document)), nil
}

// Documents returns the cached committed set without touching the store.
func (s *Stager) Documents(scopeID string) []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyDocs(s.scope(scopeID).documents)
}

func copyDocs(in []Document) []Document {
	out := make([]Document, len(in))
	copy(out, in)
	return out
}

// Stage queues files for upload and returns the staged entries. Nothing
// reaches the store until CommitUploads.
func (s *Stager) Stage(scopeID string, files []FileInput, documentType, uploadedBy string) []StagedUpload {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.scope(scopeID)
	out := make([]StagedUpload, 0, len(files))
	for _, f := range files {
		entry := &StagedUpload{
			ID:           s.idGen(),
			Name:         f.Name,
			Content:      f.Content,
			DocumentType: documentType,
			UploadedBy:   uploadedBy,
			Status:       UploadPending,
		}
		st.staged = append(st.staged, entry)
		out = append(out, *entry)
	}
	return out
}

// Unstage drops a staged entry that has not succeeded. Together with
// SkipUpload this is the only way to clear an entry whose retries are
// exhausted.
func (s *Stager) Unstage(scopeID, stagedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.scope(scopeID)
	for i, entry := range st.staged {
		if entry.ID == stagedID {
			st.staged = append(st.staged[:i], st.staged[i+1:]...)
			return nil
		}
	}
	return ErrStagedNotFound
}

// Staged returns snapshots of the staged entries for a scope.
func (s *Stager) Staged(scopeID string) []StagedUpload {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.scope(scopeID)
	out := make([]StagedUpload, 0, len(st.staged))
	for _, entry := range st.staged {
		out = append(out, *entry)
	}
	return out
}

// DuplicateNames reports which of the given file names collide,
// case-insensitively, with a committed document of the same type. The caller
// decides whether to proceed.
func (s *Stager) DuplicateNames(scopeID string, files []FileInput, documentType string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.scope(scopeID)
	existing := make(map[string]bool, len(st.documents))
	for _, d := range st.documents {
		if d.DocumentType == documentType {
			existing[strings.ToLower(d.Name)] = true
		}
	}

	var dups []string
	for _, f := range files {
		if existing[strings.ToLower(f.Name)] {
			dups = append(dups, f.Name)
		}
	}
	sort.Strings(dups)
	return dups
}

// MarkForDeletion flags a committed document for removal on the next
// CommitDeletes.
func (s *Stager) MarkForDeletion(scopeID, documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scope(scopeID).deletes[documentID] = true
}

// UndoDelete clears a pending deletion mark.
func (s *Stager) UndoDelete(scopeID, documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scope(scopeID).deletes, documentID)
}

// MarkForRename queues a rename for the next CommitRenames. An empty new
// name cancels the pending rename.
func (s *Stager) MarkForRename(scopeID, documentID, newName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.scope(scopeID)
	if strings.TrimSpace(newName) == "" {
		delete(st.renames, documentID)
		return
	}
	st.renames[documentID] = newName
}

// MarkForTypeChange queues the given documents for a type change on the next
// CommitTypeChanges.
func (s *Stager) MarkForTypeChange(scopeID string, documentIDs []string, newType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.scope(scopeID)
	for _, id := range documentIDs {
		st.retypes[id] = newType
	}
}

// CancelTypeChange clears a pending type change.
func (s *Stager) CancelTypeChange(scopeID, documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scope(scopeID).retypes, documentID)
}

// HasPendingWork reports whether any staged uploads (skipped ones excluded)
// or pending deletes, renames or type changes remain for a scope.
func (s *Stager) HasPendingWork(scopeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.scope(scopeID)
	for _, entry := range st.staged {
		if entry.Status != UploadSkipped && entry.Status != UploadSucceeded {
			return true
		}
	}
	return len(st.deletes) > 0 || len(st.renames) > 0 || len(st.retypes) > 0
}

// CommitUploads uploads every pending staged entry through a bounded worker
// group. Individual failures are recorded on the entry and do not abort the
// batch; onProgress, when non-nil, observes each status change. The staged
// list is snapshotted at call time, so entries staged while a commit runs
// wait for the next one.
func (s *Stager) CommitUploads(ctx context.Context, scopeID string, onProgress func(UploadProgress)) error {
	s.mu.Lock()
	st := s.scope(scopeID)
	batch := make([]*StagedUpload, 0, len(st.staged))
	for _, entry := range st.staged {
		if entry.Status == UploadPending {
			batch = append(batch, entry)
		}
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.uploadConcurrency)
	for _, entry := range batch {
		g.Go(func() error {
			s.attemptUpload(gctx, scopeID, entry, onProgress)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// per-entry failures live on the entries; only caller cancellation
	// surfaces here, never the group's own post-Wait cancellation
	return ctx.Err()
}

func (s *Stager) attemptUpload(ctx context.Context, scopeID string, entry *StagedUpload, onProgress func(UploadProgress)) error {
	s.mu.Lock()
	entry.Status = UploadInFlight
	entry.Attempts++
	snapshot := *entry
	s.mu.Unlock()
	report(onProgress, snapshot)

	doc, err := s.store.Upload(ctx, scopeID, snapshot)

	s.mu.Lock()
	if err != nil {
		entry.Status = UploadFailed
		entry.LastError = err.Error()
	} else {
		entry.Status = UploadSucceeded
		entry.LastError = ""
		entry.Content = nil
		st := s.scope(scopeID)
		st.documents = append(st.documents, doc)
	}
	snapshot = *entry
	s.mu.Unlock()
	report(onProgress, snapshot)
	return err
}

func report(onProgress func(UploadProgress), entry StagedUpload) {
	if onProgress == nil {
		return
	}
	onProgress(UploadProgress{
		StagedID: entry.ID,
		Name:     entry.Name,
		Status:   entry.Status,
		Attempts: entry.Attempts,
		Err:      entry.LastError,
	})
}

// RetryUpload re-attempts a failed staged entry with exponential backoff.
// After the initial attempt plus retryBound retries the entry is terminal
// and ErrRetryExhausted is returned.
func (s *Stager) RetryUpload(ctx context.Context, scopeID, stagedID string, onProgress func(UploadProgress)) error {
	s.mu.Lock()
	st := s.scope(scopeID)
	var entry *StagedUpload
	for _, e := range st.staged {
		if e.ID == stagedID {
			entry = e
			break
		}
	}
	if entry == nil {
		s.mu.Unlock()
		return ErrStagedNotFound
	}
	if entry.Status != UploadFailed {
		s.mu.Unlock()
		return ErrNotRetryable
	}
	if entry.Attempts > s.retryBound {
		s.mu.Unlock()
		return ErrRetryExhausted
	}
	attempts := entry.Attempts
	s.mu.Unlock()

	if err := s.sleep(ctx, s.retryBackoff<<(attempts-1)); err != nil {
		return err
	}
	if err := s.attemptUpload(ctx, scopeID, entry, onProgress); err != nil {
		s.mu.Lock()
		exhausted := entry.Attempts > s.retryBound
		s.mu.Unlock()
		if exhausted {
			return ErrRetryExhausted
		}
		return &RemoteError{Op: "upload", ScopeID: scopeID, Err: err}
	}
	return nil
}

// SkipUpload marks a failed entry as skipped so it no longer counts as
// pending work.
func (s *Stager) SkipUpload(scopeID, stagedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.scope(scopeID)
	for _, entry := range st.staged {
		if entry.ID == stagedID {
			if entry.Status != UploadFailed {
				return ErrNotRetryable
			}
			entry.Status = UploadSkipped
			return nil
		}
	}
	return ErrStagedNotFound
}

// ClearCompleted drops succeeded and skipped entries from the staged list.
func (s *Stager) ClearCompleted(scopeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.scope(scopeID)
	kept := st.staged[:0]
	for _, entry := range st.staged {
		if entry.Status != UploadSucceeded && entry.Status != UploadSkipped {
			kept = append(kept, entry)
		}
	}
	st.staged = kept
}

// CommitDeletes removes every marked document, then settles and reloads.
// The first remote failure aborts and leaves the remaining marks in place.
func (s *Stager) CommitDeletes(ctx context.Context, scopeID string) error {
	s.mu.Lock()
	st := s.scope(scopeID)
	ids := make([]string, 0, len(st.deletes))
	for id := range st.deletes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	s.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if err := s.store.Delete(ctx, scopeID, id); err != nil {
			return &RemoteError{Op: "delete", ScopeID: scopeID, Err: err}
		}
		s.mu.Lock()
		delete(st.deletes, id)
		s.mu.Unlock()
	}
	return s.settleAndReload(ctx, scopeID)
}

// CommitRenames applies every pending rename, then settles and reloads.
func (s *Stager) CommitRenames(ctx context.Context, scopeID string) error {
	s.mu.Lock()
	st := s.scope(scopeID)
	ids := make([]string, 0, len(st.renames))
	for id := range st.renames {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	pending := make(map[string]string, len(ids))
	for id, name := range st.renames {
		pending[id] = name
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if err := s.store.Rename(ctx, scopeID, id, pending[id]); err != nil {
			return &RemoteError{Op: "rename", ScopeID: scopeID, Err: err}
		}
		s.mu.Lock()
		delete(st.renames, id)
		s.mu.Unlock()
	}
	return s.settleAndReload(ctx, scopeID)
}

// CommitTypeChanges applies every pending type change, then settles and
// reloads.
func (s *Stager) CommitTypeChanges(ctx context.Context, scopeID string) error {
	s.mu.Lock()
	st := s.scope(scopeID)
	ids := make([]string, 0, len(st.retypes))
	for id := range st.retypes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	pending := make(map[string]string, len(ids))
	for id, typ := range st.retypes {
		pending[id] = typ
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if err := s.store.Retype(ctx, scopeID, id, pending[id]); err != nil {
			return &RemoteError{Op: "retype", ScopeID: scopeID, Err: err}
		}
		s.mu.Lock()
		delete(st.retypes, id)
		s.mu.Unlock()
	}
	return s.settleAndReload(ctx, scopeID)
}

func (s *Stager) settleAndReload(ctx context.Context, scopeID string) error {
	if err := s.sleep(ctx, s.settleDelay); err != nil {
		return err
	}
	_, err := s.Load(ctx, scopeID, true)
	return err
}
