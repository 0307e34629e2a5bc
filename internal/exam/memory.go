package exam

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and local development.
// Mutations hold the lock for their whole read-modify-write, mirroring the
// serialization the SQLite write loop provides.
type MemoryStore struct {
	mu    sync.RWMutex
	exams map[string]*Exam
}

// NewMemoryStore creates an empty in-memory exam store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{exams: make(map[string]*Exam)}
}

func (s *MemoryStore) CreateExam(_ context.Context, e *Exam) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.exams[e.ID]; exists {
		return ErrExamExists
	}

	e.Settings.applyDefaults()
	for i := range e.Candidates {
		if e.Candidates[i].Status == "" {
			e.Candidates[i].Status = "pending"
		}
	}
	s.exams[e.ID] = cloneExam(e)
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, examID string) (*Exam, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.exams[examID]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneExam(e), nil
}

func (s *MemoryStore) RecordWarning(_ context.Context, examID, userID, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.candidate(examID, userID)
	if err != nil {
		return 0, err
	}

	c.Warnings++
	c.WarningReasons = append(c.WarningReasons, reason)
	c.VideoMonitoring.WarningCount++
	t := now()
	c.VideoMonitoring.LastWarningTime = &t
	return c.Warnings, nil
}

func (s *MemoryStore) RecordDisconnection(_ context.Context, examID, userID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.candidate(examID, userID)
	if err != nil {
		return err
	}
	c.VideoMonitoring.Disconnections = append(c.VideoMonitoring.Disconnections,
		Disconnection{StartTime: now(), Reason: reason})
	return nil
}

func (s *MemoryStore) RecordReconnection(_ context.Context, examID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.candidate(examID, userID)
	if err != nil {
		return err
	}
	entries := c.VideoMonitoring.Disconnections
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].EndTime == nil {
			t := now()
			entries[i].EndTime = &t
			break
		}
	}
	return nil
}

func (s *MemoryStore) RecordAntiCheatingEvent(_ context.Context, examID, userID string, event ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.candidate(examID, userID)
	if err != nil {
		return err
	}
	c.AntiCheatingEvents = append(c.AntiCheatingEvents, event)
	return nil
}

func (s *MemoryStore) SetCandidateStatus(_ context.Context, examID, userID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.candidate(examID, userID)
	if err != nil {
		return err
	}
	c.Status = status
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// candidate returns the live (non-cloned) candidate; callers hold s.mu.
func (s *MemoryStore) candidate(examID, userID string) (*Candidate, error) {
	e, exists := s.exams[examID]
	if !exists {
		return nil, ErrNotFound
	}
	c := e.Candidate(userID)
	if c == nil {
		return nil, ErrCandidateNotFound
	}
	return c, nil
}

// cloneExam deep-copies the aggregate so callers never share mutable state
// with the store.
func cloneExam(e *Exam) *Exam {
	out := *e
	out.Candidates = make([]Candidate, len(e.Candidates))
	for i, c := range e.Candidates {
		cc := c
		cc.WarningReasons = append([]string(nil), c.WarningReasons...)
		cc.AntiCheatingEvents = append([]ActivityRecord(nil), c.AntiCheatingEvents...)
		cc.VideoMonitoring.Disconnections = make([]Disconnection, len(c.VideoMonitoring.Disconnections))
		for j, d := range c.VideoMonitoring.Disconnections {
			dd := d
			if d.EndTime != nil {
				t := *d.EndTime
				dd.EndTime = &t
			}
			cc.VideoMonitoring.Disconnections[j] = dd
		}
		if c.VideoMonitoring.LastWarningTime != nil {
			t := *c.VideoMonitoring.LastWarningTime
			cc.VideoMonitoring.LastWarningTime = &t
		}
		out.Candidates[i] = cc
	}
	return &out
}
