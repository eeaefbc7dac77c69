package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/davidmoltin/site-integrations/internal/models"
)

// ExecutionStore retains executions for audit and lookup by id
type ExecutionStore interface {
	SaveExecution(ctx context.Context, exec *models.ActionExecution) error
	GetExecution(ctx context.Context, actionID string) (*models.ActionExecution, error)
	ListExecutions(ctx context.Context, limit int) ([]models.ActionExecution, error)
}

const defaultMemoryStoreCapacity = 1000

// MemoryStore keeps executions in process, evicting the oldest beyond its capacity
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	byID     map[string]*models.ActionExecution
	order    []string
}

// NewMemoryStore creates an in-memory store. capacity <= 0 uses a default of 1000.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryStoreCapacity
	}
	return &MemoryStore{
		capacity: capacity,
		byID:     make(map[string]*models.ActionExecution),
	}
}

func (s *MemoryStore) SaveExecution(ctx context.Context, exec *models.ActionExecution) error {
	cp := cloneExecution(exec)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[exec.ActionID]; !exists {
		s.order = append(s.order, exec.ActionID)
		for len(s.order) > s.capacity {
			delete(s.byID, s.order[0])
			s.order = s.order[1:]
		}
	}
	s.byID[exec.ActionID] = cp
	return nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, actionID string) (*models.ActionExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.byID[actionID]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return cloneExecution(exec), nil
}

// ListExecutions returns the newest executions first
func (s *MemoryStore) ListExecutions(ctx context.Context, limit int) ([]models.ActionExecution, error) {
	s.mu.RLock()
	out := make([]models.ActionExecution, 0, len(s.byID))
	for _, exec := range s.byID {
		out = append(out, *cloneExecution(exec))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneExecution(exec *models.ActionExecution) *models.ActionExecution {
	cp := *exec
	cp.Steps = append([]models.ExecutionStepResult(nil), exec.Steps...)
	cp.Errors = append([]string(nil), exec.Errors...)
	return &cp
}
