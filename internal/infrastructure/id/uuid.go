package id

import (
	"sync"

	"github.com/google/uuid"
)

// UUIDGenerator hands out random (v4) identifiers.
type UUIDGenerator struct{}

func NewUUIDGenerator() UUIDGenerator { return UUIDGenerator{} }

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// Sequence returns fixed ids in order, then falls back to random ones. Intended for tests.
type Sequence struct {
	mu   sync.Mutex
	ids  []string
	next int
}

func NewSequence(ids ...string) *Sequence { return &Sequence{ids: ids} }

func (s *Sequence) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next < len(s.ids) {
		v := s.ids[s.next]
		s.next++
		return v
	}
	return uuid.NewString()
}
