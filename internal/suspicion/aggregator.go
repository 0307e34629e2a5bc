package suspicion

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Nayan-Bera/New-Practo-backend/pkg/types"
)

// Window defaults and classification thresholds.
const (
	DefaultAnalysisWindow = 10 * time.Minute
	DefaultActivityWindow = 5 * time.Minute

	multiFaceFractionThreshold = 0.3
	noFaceFractionThreshold    = 0.5
	movementFractionThreshold  = 0.4

	multiFaceConfidence = 0.4
	noFaceConfidence    = 0.3
	movementConfidence  = 0.3

	// Combined analysis confidence above this issues a warning.
	WarningConfidenceThreshold = 0.6

	tabSwitchLimit  = 3
	copyPasteLimit  = 2
	rightClickLimit = 5
	devToolsLimit   = 1
)

// Config sets the rolling-window lengths.
type Config struct {
	AnalysisWindow time.Duration `json:"analysis_window" mapstructure:"analysis_window"`
	ActivityWindow time.Duration `json:"activity_window" mapstructure:"activity_window"`
}

func (c *Config) applyDefaults() {
	if c.AnalysisWindow <= 0 {
		c.AnalysisWindow = DefaultAnalysisWindow
	}
	if c.ActivityWindow <= 0 {
		c.ActivityWindow = DefaultActivityWindow
	}
}

// Classification is the outcome of evaluating a candidate's analysis window.
type Classification struct {
	Suspicious bool
	Reasons    []string
	Confidence float64
}

// Reason joins the individual reasons for a combined warning message.
func (c Classification) Reason() string {
	return strings.Join(c.Reasons, ", ")
}

type analysisEntry struct {
	outcome   types.AnalysisOutcome
	timestamp time.Time
}

type activityEntry struct {
	eventType string
	timestamp time.Time
}

// Aggregator keeps per-candidate rolling windows of frame-analysis results
// (10 minutes) and discrete anti-cheating events (5 minutes). Entries older
// than the window are pruned on every insert, so no background sweep runs.
type Aggregator struct {
	mu       sync.Mutex
	cfg      Config
	analysis map[string][]analysisEntry
	activity map[string][]activityEntry
}

// NewAggregator creates an aggregator with the given window config.
func NewAggregator(cfg Config) *Aggregator {
	cfg.applyDefaults()
	return &Aggregator{
		cfg:      cfg,
		analysis: make(map[string][]analysisEntry),
		activity: make(map[string][]activityEntry),
	}
}

// AddAnalysis inserts one frame outcome for the candidate and returns the
// fresh classification over the analysis window.
func (a *Aggregator) AddAnalysis(userID string, outcome types.AnalysisOutcome, at time.Time) Classification {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries := pruneAnalysis(a.analysis[userID], at.Add(-a.cfg.AnalysisWindow))
	entries = append(entries, analysisEntry{outcome: outcome, timestamp: at})
	a.analysis[userID] = entries

	return classify(entries)
}

// Classify evaluates the candidate's current analysis window without
// inserting anything. Used by the automated-monitoring poll.
func (a *Aggregator) Classify(userID string, at time.Time) Classification {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries := pruneAnalysis(a.analysis[userID], at.Add(-a.cfg.AnalysisWindow))
	a.analysis[userID] = entries

	return classify(entries)
}

func classify(entries []analysisEntry) Classification {
	var cls Classification
	if len(entries) == 0 {
		return cls
	}

	var multiFace, noFace, movement int
	for _, e := range entries {
		if e.outcome.HasMultipleFaces {
			multiFace++
		}
		if e.outcome.HasNoFace {
			noFace++
		}
		if e.outcome.HasUnusualMovement {
			movement++
		}
	}

	total := float64(len(entries))
	if float64(multiFace)/total > multiFaceFractionThreshold {
		cls.Reasons = append(cls.Reasons, "multiple faces")
		cls.Confidence += multiFaceConfidence
	}
	if float64(noFace)/total > noFaceFractionThreshold {
		cls.Reasons = append(cls.Reasons, "no face for extended period")
		cls.Confidence += noFaceConfidence
	}
	if float64(movement)/total > movementFractionThreshold {
		cls.Reasons = append(cls.Reasons, "unusual movement")
		cls.Confidence += movementConfidence
	}

	if cls.Confidence > 1.0 {
		cls.Confidence = 1.0
	}
	cls.Suspicious = len(cls.Reasons) > 0
	return cls
}

// AddActivities inserts a batch of discrete anti-cheating events and returns
// one warning reason per threshold the 5-minute window now exceeds. The
// thresholds are independent: a single batch can trip several.
func (a *Aggregator) AddActivities(userID string, events []types.ReportedActivity, at time.Time) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries := pruneActivity(a.activity[userID], at.Add(-a.cfg.ActivityWindow))
	for _, ev := range events {
		// Client clocks are untrusted: future-dated or zero timestamps are
		// clamped to the server's receive time so they age out normally.
		ts := ev.Timestamp
		if ts.IsZero() || ts.After(at) {
			ts = at
		}
		entries = append(entries, activityEntry{eventType: ev.EventType, timestamp: ts})
	}
	a.activity[userID] = entries

	counts := make(map[string]int)
	for _, e := range entries {
		counts[e.eventType]++
	}

	var reasons []string
	if n := counts[types.ActivityTabSwitch]; n >= tabSwitchLimit {
		reasons = append(reasons, fmt.Sprintf("tab switch detected %d times in the last 5 minutes", n))
	}
	if n := counts[types.ActivityCopyPaste]; n >= copyPasteLimit {
		reasons = append(reasons, fmt.Sprintf("copy-paste activity detected %d times in the last 5 minutes", n))
	}
	if n := counts[types.ActivityRightClick]; n >= rightClickLimit {
		reasons = append(reasons, fmt.Sprintf("right-click detected %d times in the last 5 minutes", n))
	}
	if n := counts[types.ActivityDevTools]; n >= devToolsLimit {
		reasons = append(reasons, "developer tools opened during exam")
	}
	return reasons
}

// Forget drops the candidate's windows, called when they leave the session.
func (a *Aggregator) Forget(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.analysis, userID)
	delete(a.activity, userID)
}

// The prune helpers scan the whole slice: activity entries carry
// client-reported timestamps, so the window is not append-ordered.

func pruneAnalysis(entries []analysisEntry, cutoff time.Time) []analysisEntry {
	kept := entries[:0]
	for _, e := range entries {
		if e.timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

func pruneActivity(entries []activityEntry, cutoff time.Time) []activityEntry {
	kept := entries[:0]
	for _, e := range entries {
		if e.timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}
