package warning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Nayan-Bera/New-Practo-backend/internal/exam"
	"github.com/Nayan-Bera/New-Practo-backend/internal/metrics"
	"github.com/Nayan-Bera/New-Practo-backend/internal/session"
	"github.com/Nayan-Bera/New-Practo-backend/pkg/types"
)

// DefaultCooldown is the minimum spacing between warnings to one identity.
const DefaultCooldown = 60 * time.Second

// Engine issues cooldown-gated warnings and applies the threshold-based
// auto-disqualification policy. The cooldown is global per identity,
// independent of which exam the warning belongs to.
type Engine struct {
	mu         sync.Mutex
	cooldown   time.Duration
	lastIssued map[string]time.Time

	registry *session.Registry
	store    exam.Store
	log      *zap.Logger
}

// NewEngine creates a warning engine. A non-positive cooldown falls back to
// the 60s default.
func NewEngine(cooldown time.Duration, registry *session.Registry, store exam.Store, log *zap.Logger) *Engine {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Engine{
		cooldown:   cooldown,
		lastIssued: make(map[string]time.Time),
		registry:   registry,
		store:      store,
		log:        log,
	}
}

// CanIssueWarning reports whether the identity is outside its cooldown.
func (e *Engine) CanIssueWarning(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canIssueLocked(userID, time.Now())
}

func (e *Engine) canIssueLocked(userID string, at time.Time) bool {
	last, exists := e.lastIssued[userID]
	return !exists || at.Sub(last) >= e.cooldown
}

// IssueWarning records one warning against the candidate: durable counters
// through the store, ephemeral monitoring state through the registry, then a
// warningIssued broadcast to the session. Inside the cooldown, or for a
// disqualified candidate, it is a no-op with issued=false. The returned
// count is the candidate's durable warning total after the increment.
func (e *Engine) IssueWarning(ctx context.Context, ex *exam.Exam, userID, reason string) (count int, issued bool, err error) {
	candidate := ex.Candidate(userID)
	if candidate == nil {
		return 0, false, exam.ErrCandidateNotFound
	}

	// Disqualification is terminal: no further warnings mutate the record.
	if candidate.Status == types.StatusDisqualified {
		return candidate.Warnings, false, nil
	}

	nowTime := time.Now()
	e.mu.Lock()
	if !e.canIssueLocked(userID, nowTime) {
		e.mu.Unlock()
		return candidate.Warnings, false, nil
	}
	e.lastIssued[userID] = nowTime
	e.mu.Unlock()

	count, err = e.store.RecordWarning(ctx, ex.ID, userID, reason)
	if err != nil {
		e.log.Error("failed to persist warning",
			zap.String("examId", ex.ID),
			zap.String("userId", userID),
			zap.Error(err),
		)
		return 0, false, fmt.Errorf("failed to record warning: %w", err)
	}

	state, _ := e.registry.IncrementWarning(ex.ID, userID, nowTime)
	metrics.WarningsIssued.Inc()

	e.registry.Broadcast(ex.ID, types.EventWarningIssued, types.WarningIssuedPayload{
		UserID:     userID,
		Message:    reason,
		VideoState: state,
	})

	e.log.Info("warning issued",
		zap.String("examId", ex.ID),
		zap.String("userId", userID),
		zap.String("reason", reason),
		zap.Int("warnings", count),
	)
	return count, true, nil
}

// EvaluateDisqualification applies the escalation policy after a warning
// increment: at or past the exam's warning limit with auto-disqualification
// enabled, the candidate's status turns terminal and the session is
// notified.
func (e *Engine) EvaluateDisqualification(ctx context.Context, ex *exam.Exam, userID string, warningCount int) (bool, error) {
	if !ex.Settings.AutoDisqualifyOnMaxWarnings || warningCount < ex.Settings.MaxWarnings {
		return false, nil
	}

	if err := e.store.SetCandidateStatus(ctx, ex.ID, userID, types.StatusDisqualified); err != nil {
		e.log.Error("failed to persist disqualification",
			zap.String("examId", ex.ID),
			zap.String("userId", userID),
			zap.Error(err),
		)
		return false, fmt.Errorf("failed to set candidate status: %w", err)
	}

	metrics.Disqualifications.Inc()
	e.registry.Broadcast(ex.ID, types.EventCandidateDisqualified, types.CandidateDisqualifiedPayload{
		UserID: userID,
	})

	e.log.Info("candidate disqualified",
		zap.String("examId", ex.ID),
		zap.String("userId", userID),
		zap.Int("warnings", warningCount),
	)
	return true, nil
}

// ClearCooldown forgets the identity's cooldown stamp. Used when an exam
// ends so stale entries do not leak across sessions.
func (e *Engine) ClearCooldown(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.lastIssued, userID)
}
