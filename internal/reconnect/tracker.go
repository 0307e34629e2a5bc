package reconnect

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Defaults for bounded reconnection.
const (
	DefaultMaxAttempts = 3
	DefaultTimeout     = 30 * time.Second
)

// Config bounds the retry state machine.
type Config struct {
	MaxAttempts int           `json:"max_attempts" mapstructure:"max_attempts"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// ExhaustedFunc is invoked exactly once per identity when reconnection
// attempts run out, after the entry has been removed.
type ExhaustedFunc func(userID, examID string)

// entry is the PENDING state for one user identity.
type entry struct {
	examID      string
	attempts    int
	lastAttempt time.Time
	timer       *time.Timer
}

// Tracker runs the per-identity bounded-retry state machine:
// NONE -> PENDING(1..n) -> RESOLVED | EXHAUSTED. Only transient transport
// disconnects enter the tracker; explicit leaves bypass it entirely.
type Tracker struct {
	mu          sync.Mutex
	cfg         Config
	entries     map[string]*entry
	onExhausted ExhaustedFunc
	log         *zap.Logger
	stopped     bool
}

// NewTracker creates a tracker. onExhausted may be nil.
func NewTracker(cfg Config, onExhausted ExhaustedFunc, log *zap.Logger) *Tracker {
	cfg.applyDefaults()
	return &Tracker{
		cfg:         cfg,
		entries:     make(map[string]*entry),
		onExhausted: onExhausted,
		log:         log,
	}
}

// TrackDisconnect records a transient disconnect for the identity and
// returns the attempt count now pending. A fresh entry, a stale entry (older
// than twice the reconnection timeout) or an entry bound to a different exam
// resets to attempt 1; otherwise the count increments up to MaxAttempts.
// Each call (re)schedules the expiry timer.
func (t *Tracker) TrackDisconnect(userID, examID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return 0
	}

	e, exists := t.entries[userID]
	nowTime := time.Now()
	if !exists || e.examID != examID || nowTime.Sub(e.lastAttempt) > 2*t.cfg.Timeout {
		if exists {
			e.timer.Stop()
		}
		e = &entry{examID: examID, attempts: 1}
		t.entries[userID] = e
	} else {
		e.timer.Stop()
		if e.attempts < t.cfg.MaxAttempts {
			e.attempts++
		}
	}
	e.lastAttempt = nowTime
	e.timer = time.AfterFunc(t.cfg.Timeout, func() { t.expire(userID) })

	t.log.Debug("tracking transient disconnect",
		zap.String("userId", userID),
		zap.String("examId", examID),
		zap.Int("attempts", e.attempts),
	)
	return e.attempts
}

// Reconnect resolves a pending entry. It succeeds only when an entry exists
// and is bound to the same exam; success cancels the expiry timer and
// removes the entry.
func (t *Tracker) Reconnect(userID, examID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, exists := t.entries[userID]
	if !exists || e.examID != examID {
		return false
	}

	e.timer.Stop()
	delete(t.entries, userID)
	return true
}

// Timeout reports the configured reconnection window.
func (t *Tracker) Timeout() time.Duration {
	return t.cfg.Timeout
}

// Pending reports the exam binding and attempt count of a pending entry.
func (t *Tracker) Pending(userID string) (examID string, attempts int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, exists := t.entries[userID]
	if !exists {
		return "", 0, false
	}
	return e.examID, e.attempts, true
}

// expire fires when the reconnection window closes without a successful
// reconnect. At the attempt cap it transitions to EXHAUSTED and notifies;
// below the cap the entry just ages out.
func (t *Tracker) expire(userID string) {
	t.mu.Lock()
	e, exists := t.entries[userID]
	if !exists || t.stopped {
		t.mu.Unlock()
		return
	}
	delete(t.entries, userID)
	exhausted := e.attempts >= t.cfg.MaxAttempts
	examID := e.examID
	t.mu.Unlock()

	if exhausted {
		t.log.Info("reconnection attempts exhausted",
			zap.String("userId", userID),
			zap.String("examId", examID),
		)
		if t.onExhausted != nil {
			t.onExhausted(userID, examID)
		}
	}
}

// Stop cancels all pending timers and discards tracker state.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	for userID, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, userID)
	}
}
