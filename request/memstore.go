package request

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is a mutex-guarded in-memory Store used by tests and the dev
// profile. The conditional update holds the lock across read-and-write, so
// racing transitions serialize to exactly one winner.
type MemStore struct {
	mu       sync.Mutex
	requests map[string]*QueryRequest
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{requests: make(map[string]*QueryRequest)}
}

func (s *MemStore) Create(ctx context.Context, r *QueryRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[r.ID]; exists {
		return fmt.Errorf("request %s already exists", r.ID)
	}
	cp := *r
	s.requests[r.ID] = &cp
	return nil
}

func (s *MemStore) Get(ctx context.Context, id string) (*QueryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemStore) List(ctx context.Context, f Filter) ([]*QueryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*QueryRequest
	for _, r := range s.requests {
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if len(f.PodIDs) > 0 && !containsString(f.PodIDs, r.PodID) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemStore) UpdateStatus(ctx context.Context, id string, from Status, upd StatusUpdate) (*QueryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != from || !from.CanTransition(upd.Status) {
		return nil, ErrInvalidTransition
	}

	r.Status = upd.Status
	if upd.ApproverEmail != nil {
		r.ApproverEmail = *upd.ApproverEmail
	}
	if upd.RejectionReason != nil {
		r.RejectionReason = *upd.RejectionReason
	}
	if upd.ExecutionResult != nil {
		r.ExecutionResult = *upd.ExecutionResult
	}
	if upd.ExecutionError != nil {
		r.ExecutionError = *upd.ExecutionError
	}
	if upd.IsCompressed != nil {
		r.IsCompressed = *upd.IsCompressed
	}
	if upd.CompressedBlob != nil {
		r.CompressedBlob = upd.CompressedBlob
	}
	if upd.ExecutedAt != nil {
		r.ExecutedAt = upd.ExecutedAt
	}
	r.UpdatedAt = time.Now().UTC()

	cp := *r
	return &cp, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
