package session

import (
	"sync"
	"testing"
	"time"

	"github.com/Nayan-Bera/New-Practo-backend/pkg/types"
)

// fakeSender records delivered events for assertions.
type fakeSender struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeSender) SendEvent(event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestJoinCreatesSessionLazily(t *testing.T) {
	r := NewRegistry()

	h := NewHandle("exam-1", "alice", types.RoleCandidate, &fakeSender{})
	r.Join(h)

	if _, ok := r.CandidateHandle("exam-1", "alice"); !ok {
		t.Fatal("expected candidate to be registered")
	}
	if _, ok := r.MonitoringSnapshot("exam-1", "alice"); !ok {
		t.Error("expected monitoring state to be initialized on join")
	}

	stats := r.Stats()
	if stats["active_sessions"] != 1 || stats["total_connections"] != 1 {
		t.Errorf("unexpected stats: %v", stats)
	}
}

func TestCandidateRejoinLatestConnectionWins(t *testing.T) {
	r := NewRegistry()

	first := NewHandle("exam-1", "alice", types.RoleCandidate, &fakeSender{})
	second := NewHandle("exam-1", "alice", types.RoleCandidate, &fakeSender{})
	r.Join(first)
	r.Join(second)

	h, ok := r.CandidateHandle("exam-1", "alice")
	if !ok || h != second {
		t.Fatal("expected the latest handle to win")
	}
	if _, ok := r.HandleByID(first.ID); ok {
		t.Error("stale handle should no longer resolve")
	}
	if _, ok := r.HandleByID(second.ID); !ok {
		t.Error("active handle should resolve by id")
	}

	// The stale connection's cleanup must not evict the replacement, and
	// must report that it removed nothing.
	if r.Leave(first) {
		t.Error("stale leave should not report a removal")
	}
	if _, ok := r.CandidateHandle("exam-1", "alice"); !ok {
		t.Error("stale leave evicted the active handle")
	}
	if !r.Leave(second) {
		t.Error("leaving the active handle should report the removal")
	}
}

func TestRejoinPreservesMonitoringState(t *testing.T) {
	r := NewRegistry()

	first := NewHandle("exam-1", "alice", types.RoleCandidate, &fakeSender{})
	r.Join(first)
	r.SetStreaming("exam-1", "alice", true)
	r.IncrementWarning("exam-1", "alice", time.Now())

	second := NewHandle("exam-1", "alice", types.RoleCandidate, &fakeSender{})
	r.Join(second)

	state, ok := r.MonitoringSnapshot("exam-1", "alice")
	if !ok {
		t.Fatal("expected monitoring state after rejoin")
	}
	if !state.Streaming || state.WarningCount != 1 {
		t.Errorf("rejoin reset monitoring state: %+v", state)
	}
}

func TestHostLeaveKeepsSessionAlive(t *testing.T) {
	r := NewRegistry()

	host := NewHandle("exam-1", "prof", types.RoleAdmin, &fakeSender{})
	candidate := NewHandle("exam-1", "alice", types.RoleCandidate, &fakeSender{})
	r.Join(host)
	r.Join(candidate)

	r.Leave(host)

	if _, ok := r.Host("exam-1"); ok {
		t.Error("host slot should be cleared")
	}
	if _, ok := r.CandidateHandle("exam-1", "alice"); !ok {
		t.Error("candidates must survive host departure")
	}
}

func TestLastLeaveRemovesSession(t *testing.T) {
	r := NewRegistry()

	candidate := NewHandle("exam-1", "alice", types.RoleCandidate, &fakeSender{})
	r.Join(candidate)
	if !r.Leave(candidate) {
		t.Error("leaving a registered handle should report the removal")
	}

	if stats := r.Stats(); stats["active_sessions"] != 0 {
		t.Errorf("empty session should be deleted, stats: %v", stats)
	}
	if _, ok := r.MonitoringSnapshot("exam-1", "alice"); ok {
		t.Error("candidate monitoring state should be dropped on leave")
	}
}

func TestListCandidatesInsertionOrder(t *testing.T) {
	r := NewRegistry()

	for _, userID := range []string{"carol", "alice", "bob"} {
		r.Join(NewHandle("exam-1", userID, types.RoleCandidate, &fakeSender{}))
	}

	handles := r.ListCandidates("exam-1")
	got := make([]string, len(handles))
	for i, h := range handles {
		got[i] = h.UserID
	}

	want := []string{"carol", "alice", "bob"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("candidate order = %v, want %v", got, want)
		}
	}
}

func TestBroadcastReachesHostAndCandidates(t *testing.T) {
	r := NewRegistry()

	hostSender := &fakeSender{}
	candSender := &fakeSender{}
	r.Join(NewHandle("exam-1", "prof", types.RoleAdmin, hostSender))
	r.Join(NewHandle("exam-1", "alice", types.RoleCandidate, candSender))

	otherSender := &fakeSender{}
	r.Join(NewHandle("exam-2", "bob", types.RoleCandidate, otherSender))

	r.Broadcast("exam-1", "ping", nil)

	if hostSender.count() != 1 || candSender.count() != 1 {
		t.Error("broadcast should reach every session participant")
	}
	if otherSender.count() != 0 {
		t.Error("broadcast leaked across exam sessions")
	}
}

func TestSendToHostTargetsHostOnly(t *testing.T) {
	r := NewRegistry()

	hostSender := &fakeSender{}
	candSender := &fakeSender{}
	r.Join(NewHandle("exam-1", "prof", types.RoleAdmin, hostSender))
	r.Join(NewHandle("exam-1", "alice", types.RoleCandidate, candSender))

	r.SendToHost("exam-1", "dashboard", nil)

	if hostSender.count() != 1 {
		t.Error("host should receive the event")
	}
	if candSender.count() != 0 {
		t.Error("candidates must not receive host-only events")
	}

	// No host connected: silently dropped.
	r.SendToHost("exam-2", "dashboard", nil)
}

func TestBroadcastUnknownExamIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Broadcast("missing", "ping", nil) // must not panic
}

func TestSetStreamingUnknownCandidate(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.SetStreaming("exam-1", "ghost", true); ok {
		t.Error("unknown candidate should not report streaming state")
	}
}
