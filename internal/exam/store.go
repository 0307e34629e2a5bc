package exam

import (
	"context"
	"errors"
	"time"
)

// Store errors.
var (
	ErrNotFound          = errors.New("exam not found")
	ErrCandidateNotFound = errors.New("candidate not registered for exam")
	ErrExamExists        = errors.New("exam already exists")
	ErrStoreClosed       = errors.New("exam store is closed")
)

// Store is the synchronization boundary between ephemeral session state and
// the durable exam aggregate. Every mutator is a targeted monotonic change
// (counter increment, array append, single-field update) so that concurrent
// handlers never clobber each other with whole-document writes.
type Store interface {
	// FindByID loads the full exam aggregate, ErrNotFound when absent.
	FindByID(ctx context.Context, examID string) (*Exam, error)

	// CreateExam persists a new aggregate, normalizing unset settings.
	CreateExam(ctx context.Context, e *Exam) error

	// RecordWarning increments the candidate's durable warning counters,
	// appends the reason, stamps the warning time, and returns the new
	// warning count.
	RecordWarning(ctx context.Context, examID, userID, reason string) (int, error)

	// RecordDisconnection appends an open disconnection entry.
	RecordDisconnection(ctx context.Context, examID, userID, reason string) error

	// RecordReconnection closes the most recent open disconnection entry by
	// setting its end time. It never creates a new entry; with no open entry
	// it is a no-op.
	RecordReconnection(ctx context.Context, examID, userID string) error

	// RecordAntiCheatingEvent appends one event to the candidate's history.
	RecordAntiCheatingEvent(ctx context.Context, examID, userID string, event ActivityRecord) error

	// SetCandidateStatus updates the candidate's exam status.
	SetCandidateStatus(ctx context.Context, examID, userID, status string) error

	// Close releases store resources.
	Close() error
}

// now is stubbed in tests that need deterministic timestamps.
var now = time.Now
