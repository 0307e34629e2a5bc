package suspicion

import (
	"strings"
	"testing"
	"time"

	"github.com/Nayan-Bera/New-Practo-backend/pkg/types"
)

func TestClassifyEmptyWindow(t *testing.T) {
	a := NewAggregator(Config{})
	cls := a.Classify("alice", time.Now())
	if cls.Suspicious || cls.Confidence != 0 {
		t.Errorf("empty window must not be suspicious: %+v", cls)
	}
}

func TestAddAnalysisMultipleFaces(t *testing.T) {
	a := NewAggregator(Config{})
	base := time.Now()

	// 2 of 5 frames with multiple faces: 0.4 > 0.3 threshold.
	var cls Classification
	for i := 0; i < 5; i++ {
		outcome := types.AnalysisOutcome{HasMultipleFaces: i < 2}
		cls = a.AddAnalysis("alice", outcome, base.Add(time.Duration(i)*time.Second))
	}

	if !cls.Suspicious {
		t.Fatal("expected suspicious classification")
	}
	if len(cls.Reasons) != 1 || cls.Reasons[0] != "multiple faces" {
		t.Errorf("reasons = %v", cls.Reasons)
	}
	if cls.Confidence != 0.4 {
		t.Errorf("confidence = %v, want 0.4", cls.Confidence)
	}
}

func TestClassifyFractionBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []types.AnalysisOutcome
		reasons  int
	}{
		{
			// Exactly at the 0.3 multi-face fraction: not over, not flagged.
			name: "at threshold is clean",
			outcomes: []types.AnalysisOutcome{
				{HasMultipleFaces: true},
				{HasMultipleFaces: true},
				{HasMultipleFaces: true},
				{}, {}, {}, {}, {}, {}, {},
			},
			reasons: 0,
		},
		{
			name: "no face over half the window",
			outcomes: []types.AnalysisOutcome{
				{HasNoFace: true},
				{HasNoFace: true},
				{HasNoFace: true},
				{},
			},
			reasons: 1,
		},
		{
			name: "all signals at once",
			outcomes: []types.AnalysisOutcome{
				{HasMultipleFaces: true, HasNoFace: true, HasUnusualMovement: true},
			},
			reasons: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAggregator(Config{})
			base := time.Now()
			var cls Classification
			for i, outcome := range tt.outcomes {
				cls = a.AddAnalysis("u", outcome, base.Add(time.Duration(i)*time.Second))
			}
			if len(cls.Reasons) != tt.reasons {
				t.Errorf("reasons = %v, want %d entries", cls.Reasons, tt.reasons)
			}
		})
	}
}

func TestConfidenceIsClamped(t *testing.T) {
	a := NewAggregator(Config{})
	base := time.Now()

	// All three signals on every frame: 0.4+0.3+0.3 would be exactly 1.0;
	// the clamp keeps any combination at or below 1.0.
	var cls Classification
	for i := 0; i < 4; i++ {
		cls = a.AddAnalysis("alice", types.AnalysisOutcome{
			HasMultipleFaces:   true,
			HasNoFace:          true,
			HasUnusualMovement: true,
		}, base.Add(time.Duration(i)*time.Second))
	}

	if cls.Confidence > 1.0 {
		t.Errorf("confidence = %v, must be clamped to 1.0", cls.Confidence)
	}
	if cls.Confidence <= WarningConfidenceThreshold {
		t.Errorf("confidence = %v, expected above warning threshold", cls.Confidence)
	}
}

func TestAnalysisWindowPruning(t *testing.T) {
	a := NewAggregator(Config{AnalysisWindow: time.Minute})
	base := time.Now()

	// Old suspicious frames age out before the clean recent one arrives.
	a.AddAnalysis("alice", types.AnalysisOutcome{HasMultipleFaces: true}, base.Add(-2*time.Minute))
	a.AddAnalysis("alice", types.AnalysisOutcome{HasMultipleFaces: true}, base.Add(-90*time.Second))

	cls := a.AddAnalysis("alice", types.AnalysisOutcome{}, base)
	if cls.Suspicious {
		t.Errorf("entries outside the window must not count: %+v", cls)
	}
}

func TestAddActivitiesTabSwitchThreshold(t *testing.T) {
	a := NewAggregator(Config{})
	base := time.Now()

	two := []types.ReportedActivity{
		{EventType: types.ActivityTabSwitch},
		{EventType: types.ActivityTabSwitch},
	}
	if reasons := a.AddActivities("alice", two, base); len(reasons) != 0 {
		t.Fatalf("below threshold yielded reasons: %v", reasons)
	}

	one := []types.ReportedActivity{{EventType: types.ActivityTabSwitch}}
	reasons := a.AddActivities("alice", one, base.Add(time.Second))
	if len(reasons) != 1 {
		t.Fatalf("third tab switch should trip the threshold: %v", reasons)
	}
	if !strings.Contains(reasons[0], "tab switch") {
		t.Errorf("reason = %q, want mention of tab switch", reasons[0])
	}
}

func TestAddActivitiesIndependentThresholds(t *testing.T) {
	a := NewAggregator(Config{})

	batch := []types.ReportedActivity{
		{EventType: types.ActivityTabSwitch},
		{EventType: types.ActivityTabSwitch},
		{EventType: types.ActivityTabSwitch},
		{EventType: types.ActivityCopyPaste},
		{EventType: types.ActivityCopyPaste},
		{EventType: types.ActivityDevTools},
		{EventType: types.ActivityRightClick},
	}
	reasons := a.AddActivities("alice", batch, time.Now())

	if len(reasons) != 3 {
		t.Fatalf("reasons = %v, want tab-switch, copy-paste and dev-tools", reasons)
	}
	joined := strings.Join(reasons, "; ")
	for _, want := range []string{"tab switch", "copy-paste", "developer tools"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in %q", want, joined)
		}
	}
	if strings.Contains(joined, "right-click") {
		t.Error("one right click must not trip the threshold of 5")
	}
}

func TestActivityWindowPruning(t *testing.T) {
	a := NewAggregator(Config{ActivityWindow: time.Minute})
	base := time.Now()

	old := []types.ReportedActivity{
		{EventType: types.ActivityTabSwitch, Timestamp: base.Add(-2 * time.Minute)},
		{EventType: types.ActivityTabSwitch, Timestamp: base.Add(-2 * time.Minute)},
	}
	a.AddActivities("alice", old, base.Add(-2*time.Minute))

	fresh := []types.ReportedActivity{{EventType: types.ActivityTabSwitch}}
	if reasons := a.AddActivities("alice", fresh, base); len(reasons) != 0 {
		t.Errorf("aged-out events still counted: %v", reasons)
	}
}

func TestActivityPruningHandlesUnorderedTimestamps(t *testing.T) {
	a := NewAggregator(Config{ActivityWindow: time.Minute})
	base := time.Now()

	// A batch reported out of order: expired events arrive after a fresh
	// one, so the window is not sorted by timestamp.
	unordered := []types.ReportedActivity{
		{EventType: types.ActivityTabSwitch, Timestamp: base},
		{EventType: types.ActivityTabSwitch, Timestamp: base.Add(-2 * time.Minute)},
		{EventType: types.ActivityTabSwitch, Timestamp: base.Add(-2 * time.Minute)},
	}
	a.AddActivities("alice", unordered, base)

	// The expired pair must age out even though a fresh entry precedes it
	// in the slice; two in-window tab switches stay below the threshold.
	fresh := []types.ReportedActivity{{EventType: types.ActivityTabSwitch}}
	if reasons := a.AddActivities("alice", fresh, base.Add(time.Second)); len(reasons) != 0 {
		t.Errorf("expired out-of-order events still counted: %v", reasons)
	}
}

func TestActivityFutureTimestampsAreClamped(t *testing.T) {
	a := NewAggregator(Config{ActivityWindow: time.Minute})
	base := time.Now()

	// Client clocks cannot park events in the future to outlive the window.
	future := []types.ReportedActivity{
		{EventType: types.ActivityTabSwitch, Timestamp: base.Add(time.Hour)},
		{EventType: types.ActivityTabSwitch, Timestamp: base.Add(time.Hour)},
	}
	a.AddActivities("alice", future, base)

	fresh := []types.ReportedActivity{{EventType: types.ActivityTabSwitch}}
	if reasons := a.AddActivities("alice", fresh, base.Add(2*time.Minute)); len(reasons) != 0 {
		t.Errorf("future-dated events survived past the window: %v", reasons)
	}
}

func TestForgetDropsWindows(t *testing.T) {
	a := NewAggregator(Config{})
	base := time.Now()

	a.AddAnalysis("alice", types.AnalysisOutcome{HasNoFace: true}, base)
	a.Forget("alice")

	cls := a.Classify("alice", base)
	if cls.Suspicious {
		t.Error("forgotten candidate should have an empty window")
	}
}
