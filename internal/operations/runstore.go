package operations

import (
	"errors"
	"sync"

	"econetl/pkg/contracts/domain"
)

// ErrRunInProgress is returned when a run is requested while another is active
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

// RunStore keeps the active run and the reports of recent runs in memory
type RunStore struct {
	mu      sync.RWMutex
	active  string
	reports map[string]*domain.ExecutionReport
	order   []string
	limit   int
}

// NewRunStore creates a store retaining at most limit reports
func NewRunStore(limit int) *RunStore {
	if limit < 1 {
		limit = 20
	}
	return &RunStore{
		reports: make(map[string]*domain.ExecutionReport),
		limit:   limit,
	}
}

// Begin marks runID as the active run
func (s *RunStore) Begin(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != "" {
		return ErrRunInProgress
	}
	s.active = runID
	return nil
}

// Finish stores the report of the active run and clears it
func (s *RunStore) Finish(runID string, report *domain.ExecutionReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == runID {
		s.active = ""
	}
	if report == nil {
		return
	}
	if _, exists := s.reports[runID]; !exists {
		s.order = append(s.order, runID)
	}
	s.reports[runID] = report

	for len(s.order) > s.limit {
		delete(s.reports, s.order[0])
		s.order = s.order[1:]
	}
}

// Active returns the ID of the running pipeline, if any
func (s *RunStore) Active() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, s.active != ""
}

// Get returns the report of a finished run
func (s *RunStore) Get(runID string) (*domain.ExecutionReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[runID]
	return r, ok
}

// Latest returns the most recently finished report
func (s *RunStore) Latest() (*domain.ExecutionReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return nil, false
	}
	return s.reports[s.order[len(s.order)-1]], true
}
