package selfassess

import (
	"context"
	"sync"

	"github.com/mind-engage/peergrade/internal/peer"
)

type memoryStore struct {
	mu          sync.RWMutex
	assessments []peer.Assessment
}

func NewInMemoryStore() Store {
	return &memoryStore{}
}

func (m *memoryStore) Create(_ context.Context, a peer.Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assessments = append(m.assessments, a)
	return nil
}

func (m *memoryStore) Latest(_ context.Context, submissionUUID, scoreType string) (peer.Assessment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best peer.Assessment
	found := false
	for _, a := range m.assessments {
		if a.SubmissionUUID != submissionUUID || a.ScoreType != scoreType {
			continue
		}
		if !found || a.ScoredAt.After(best.ScoredAt) || (a.ScoredAt.Equal(best.ScoredAt) && a.ID > best.ID) {
			best = a
			found = true
		}
	}
	return best, found, nil
}
