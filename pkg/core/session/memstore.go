package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/vango-go/vai-interview/pkg/core/types"
)

// MemoryStore keeps sessions, jobs and candidates in process memory. It
// implements Store and Directory.
type MemoryStore struct {
	mu         sync.Mutex
	sessions   map[string]*types.InterviewSession
	jobs       map[string]*types.JobPosting
	candidates map[string]*types.Candidate
	closed     bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]*types.InterviewSession),
		jobs:       make(map[string]*types.JobPosting),
		candidates: make(map[string]*types.Candidate),
	}
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	return nil
}

func (s *MemoryStore) CreateSession(_ context.Context, sess *types.InterviewSession) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("session %s: %w", sess.ID, ErrDuplicate)
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// withSession runs fn against the stored session under the lock.
func (s *MemoryStore) withSession(id string, fn func(*types.InterviewSession) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return fn(sess)
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, u StatusUpdate) error {
	return s.withSession(id, func(sess *types.InterviewSession) error {
		return ApplyStatusUpdate(sess, u)
	})
}

func (s *MemoryStore) AppendResponse(_ context.Context, id string, r types.InterviewResponse) error {
	return s.withSession(id, func(sess *types.InterviewSession) error {
		return ApplyResponse(sess, r)
	})
}

func (s *MemoryStore) AppendIncident(_ context.Context, id string, log types.ProctoringLog) error {
	return s.withSession(id, func(sess *types.InterviewSession) error {
		return ApplyIncident(sess, log)
	})
}

func (s *MemoryStore) Finalize(_ context.Context, id string, rec FinalRecord) error {
	return s.withSession(id, func(sess *types.InterviewSession) error {
		return ApplyFinal(sess, rec)
	})
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*types.InterviewSession, error) {
	var out *types.InterviewSession
	err := s.withSession(id, func(sess *types.InterviewSession) error {
		out = sess.Clone()
		return nil
	})
	return out, err
}

func (s *MemoryStore) SaveJob(_ context.Context, job *types.JobPosting) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s: %w", job.ID, ErrDuplicate)
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (*types.JobPosting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) CountJobs(_ context.Context, companyID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, job := range s.jobs {
		if job.CompanyID == companyID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) SaveCandidate(_ context.Context, c *types.Candidate) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("candidate id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	if _, ok := s.jobs[c.JobID]; !ok {
		return fmt.Errorf("job %s: %w", c.JobID, ErrNotFound)
	}
	if _, ok := s.candidates[c.ID]; ok {
		return fmt.Errorf("candidate %s: %w", c.ID, ErrDuplicate)
	}
	cp := *c
	s.candidates[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetCandidate(_ context.Context, id string) (*types.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[id]
	if !ok {
		return nil, fmt.Errorf("candidate %s: %w", id, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) CountCandidates(_ context.Context, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.candidates {
		if c.JobID == jobID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UpdateCandidate(_ context.Context, c *types.Candidate) error {
	if c == nil {
		return fmt.Errorf("candidate is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.candidates[c.ID]
	if !ok {
		return fmt.Errorf("candidate %s: %w", c.ID, ErrNotFound)
	}
	if existing.Status != c.Status && !existing.Status.CanTransition(c.Status) {
		return fmt.Errorf("candidate %s %s -> %s: %w", c.ID, existing.Status, c.Status, ErrInvalidTransition)
	}
	if existing.SessionID != "" && c.SessionID != existing.SessionID {
		return fmt.Errorf("candidate %s already linked to session %s: %w", c.ID, existing.SessionID, ErrDuplicate)
	}
	cp := *c
	s.candidates[c.ID] = &cp
	return nil
}
