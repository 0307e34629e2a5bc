package exam

import (
	"time"

	"github.com/Nayan-Bera/New-Practo-backend/pkg/types"
)

// Default escalation settings applied when an exam record leaves them unset.
const (
	DefaultMaxWarnings = 3
)

// Settings holds the per-exam anti-cheating policy knobs.
type Settings struct {
	MaxWarnings                 int  `json:"maxWarnings"`
	AutoDisqualifyOnMaxWarnings bool `json:"autoDisqualifyOnMaxWarnings"`
	RequireVideoMonitoring      bool `json:"requireVideoMonitoring"`
}

// applyDefaults normalizes zero values at creation time so readers never
// have to special-case unset settings.
func (s *Settings) applyDefaults() {
	if s.MaxWarnings <= 0 {
		s.MaxWarnings = DefaultMaxWarnings
	}
}

// Disconnection is one entry in a candidate's disconnection history. EndTime
// stays nil while the disconnection window is open; a reconnection closes the
// most recent open entry rather than creating a new one.
type Disconnection struct {
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// VideoMonitoring is the durable monitoring sub-document on a candidate.
type VideoMonitoring struct {
	IsEnabled       bool            `json:"isEnabled"`
	WarningCount    int             `json:"warningCount"`
	LastWarningTime *time.Time      `json:"lastWarningTime,omitempty"`
	Disconnections  []Disconnection `json:"disconnections,omitempty"`
}

// ActivityRecord is a persisted anti-cheating event.
type ActivityRecord struct {
	EventType string    `json:"eventType"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Candidate is one registered exam taker on the exam aggregate.
type Candidate struct {
	UserID             string           `json:"userId"`
	Status             string           `json:"status"`
	Warnings           int              `json:"warnings"`
	WarningReasons     []string         `json:"warningReasons,omitempty"`
	VideoMonitoring    VideoMonitoring  `json:"videoMonitoring"`
	AntiCheatingEvents []ActivityRecord `json:"antiCheatingEvents,omitempty"`
}

// Exam is the persisted aggregate: the durable truth the session coordinator
// authorizes against and writes warnings, disconnections and
// disqualifications back to.
type Exam struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	HostID     string      `json:"hostId"`
	Settings   Settings    `json:"settings"`
	Candidates []Candidate `json:"candidates"`
}

// Candidate returns the candidate entry for userID, or nil.
func (e *Exam) Candidate(userID string) *Candidate {
	for i := range e.Candidates {
		if e.Candidates[i].UserID == userID {
			return &e.Candidates[i]
		}
	}
	return nil
}

// IsHost reports whether userID is the exam's admin.
func (e *Exam) IsHost(userID string) bool {
	return e.HostID != "" && e.HostID == userID
}

// OpenDisconnections counts disconnection entries for userID that started
// within the given window and have not been closed by a reconnection.
func (e *Exam) OpenDisconnections(userID string, window time.Duration, now time.Time) int {
	c := e.Candidate(userID)
	if c == nil {
		return 0
	}
	count := 0
	for _, d := range c.VideoMonitoring.Disconnections {
		if d.EndTime == nil && now.Sub(d.StartTime) <= window {
			count++
		}
	}
	return count
}

// RiskLevel classifies a candidate's full anti-cheating history into the
// derived low/medium/high level shown on host dashboards. Only dev-tools,
// copy-paste and tab-switch events count toward the level.
func (e *Exam) RiskLevel(userID string) string {
	c := e.Candidate(userID)
	if c == nil {
		return "low"
	}
	count := 0
	for _, ev := range c.AntiCheatingEvents {
		switch ev.EventType {
		case types.ActivityDevTools, types.ActivityCopyPaste, types.ActivityTabSwitch:
			count++
		}
	}
	switch {
	case count == 0:
		return "low"
	case count <= 3:
		return "medium"
	default:
		return "high"
	}
}
