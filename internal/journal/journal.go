// Package journal keeps the append-only record of how every action was
// resolved.
package journal

import (
	"context"
	"sync"
	"time"
)

// Outcome is how an action left the pending set.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed" // accepted, but the mutation did not apply
)

// Decision is one resolved action.
type Decision struct {
	ActionID    string    `json:"action_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Outcome     Outcome   `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	Reviewer    string    `json:"reviewer"`
	SubmittedAt time.Time `json:"submitted_at"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// Store persists decisions.
type Store interface {
	Record(ctx context.Context, d Decision) error
	// List returns at most limit decisions, newest first. limit <= 0 means
	// no limit.
	List(ctx context.Context, limit int) ([]Decision, error)
}

// MemoryStore keeps decisions in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	decisions []Decision
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Record(_ context.Context, d Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.decisions)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Decision, 0, n)
	for i := len(s.decisions) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.decisions[i])
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
