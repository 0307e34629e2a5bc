package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/Nayan-Bera/New-Practo-backend/internal/exam"
	"github.com/Nayan-Bera/New-Practo-backend/internal/metrics"
	"github.com/Nayan-Bera/New-Practo-backend/internal/reconnect"
	"github.com/Nayan-Bera/New-Practo-backend/internal/session"
	"github.com/Nayan-Bera/New-Practo-backend/pkg/types"
)

type recordingSender struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSender) SendEvent(event string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSender) has(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == event {
			return true
		}
	}
	return false
}

func newTestCoordinator(t *testing.T) (*Coordinator, exam.Store) {
	t.Helper()
	store := exam.NewMemoryStore()
	err := store.CreateExam(context.Background(), &exam.Exam{
		ID:     "exam-1",
		HostID: "prof",
		Settings: exam.Settings{
			MaxWarnings:                 3,
			AutoDisqualifyOnMaxWarnings: true,
		},
		Candidates: []exam.Candidate{
			{UserID: "alice", VideoMonitoring: exam.VideoMonitoring{IsEnabled: true}},
			{UserID: "bob", VideoMonitoring: exam.VideoMonitoring{IsEnabled: false}},
		},
	})
	if err != nil {
		t.Fatalf("CreateExam: %v", err)
	}

	co := NewCoordinator(Config{
		WarningCooldown:   time.Nanosecond,
		MaxDisconnections: 3,
		Reconnect:         reconnect.Config{MaxAttempts: 3, Timeout: time.Minute},
	}, session.NewRegistry(), store, zap.NewNop())
	t.Cleanup(co.Shutdown)

	return co, store
}

func join(t *testing.T, co *Coordinator, userID string) (*Client, *recordingSender) {
	t.Helper()
	sender := &recordingSender{}
	c := NewClient(userID, types.RoleCandidate, sender, co.NewAnalyzer())
	if err := co.JoinExam(context.Background(), c, types.JoinExamPayload{ExamID: "exam-1"}); err != nil {
		t.Fatalf("JoinExam(%s): %v", userID, err)
	}
	return c, sender
}

func TestJoinExamRoleFromExamRecord(t *testing.T) {
	co, _ := newTestCoordinator(t)
	ctx := context.Background()

	// The exam's admin joins as host even if the token claims candidate.
	host := NewClient("prof", types.RoleCandidate, &recordingSender{}, co.NewAnalyzer())
	if err := co.JoinExam(ctx, host, types.JoinExamPayload{ExamID: "exam-1"}); err != nil {
		t.Fatalf("host join: %v", err)
	}
	if host.Handle().Role != types.RoleAdmin {
		t.Errorf("host role = %q, want admin", host.Handle().Role)
	}

	alice, _ := join(t, co, "alice")
	if alice.Handle().Role != types.RoleCandidate {
		t.Errorf("candidate role = %q", alice.Handle().Role)
	}

	stranger := NewClient("mallory", types.RoleCandidate, &recordingSender{}, co.NewAnalyzer())
	if err := co.JoinExam(ctx, stranger, types.JoinExamPayload{ExamID: "exam-1"}); err != types.ErrNotAuthorized {
		t.Errorf("unregistered join = %v, want ErrNotAuthorized", err)
	}

	missing := NewClient("alice", types.RoleCandidate, &recordingSender{}, co.NewAnalyzer())
	if err := co.JoinExam(ctx, missing, types.JoinExamPayload{ExamID: "nope"}); err != types.ErrNotFound {
		t.Errorf("unknown exam join = %v, want ErrNotFound", err)
	}
}

func TestJoinExamNotifiesSession(t *testing.T) {
	co, _ := newTestCoordinator(t)

	_, hostSender := joinHost(t, co)
	_, aliceSender := join(t, co, "alice")

	if !aliceSender.has(types.EventJoinedExam) {
		t.Error("joining candidate should receive the join ack")
	}
	if !hostSender.has(types.EventUserJoined) {
		t.Error("host should be notified of the candidate joining")
	}
}

func joinHost(t *testing.T, co *Coordinator) (*Client, *recordingSender) {
	t.Helper()
	sender := &recordingSender{}
	c := NewClient("prof", types.RoleAdmin, sender, co.NewAnalyzer())
	if err := co.JoinExam(context.Background(), c, types.JoinExamPayload{ExamID: "exam-1"}); err != nil {
		t.Fatalf("host join: %v", err)
	}
	return c, sender
}

func TestStartStreamRequiresMonitoringEnabled(t *testing.T) {
	co, _ := newTestCoordinator(t)
	ctx := context.Background()

	alice, sender := join(t, co, "alice")
	if err := co.StartStream(ctx, alice, types.StartStreamPayload{ExamID: "exam-1"}); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if !sender.has(types.EventStreamStarted) {
		t.Error("stream start should be broadcast to the session")
	}

	// Bob's record has monitoring disabled.
	bob, _ := join(t, co, "bob")
	if err := co.StartStream(ctx, bob, types.StartStreamPayload{ExamID: "exam-1"}); err != types.ErrInvalidState {
		t.Errorf("StartStream with monitoring disabled = %v, want ErrInvalidState", err)
	}

	// Not joined at all.
	loner := NewClient("alice", types.RoleCandidate, &recordingSender{}, co.NewAnalyzer())
	if err := co.StartStream(ctx, loner, types.StartStreamPayload{ExamID: "exam-1"}); err != ErrNotJoined {
		t.Errorf("StartStream before join = %v, want ErrNotJoined", err)
	}
}

func TestSendWarningAuthorization(t *testing.T) {
	co, store := newTestCoordinator(t)
	ctx := context.Background()

	host, _ := joinHost(t, co)
	alice, aliceSender := join(t, co, "alice")

	// A candidate cannot warn anyone.
	err := co.SendWarning(ctx, alice, types.SendWarningPayload{ExamID: "exam-1", UserID: "bob", Message: "x"})
	if err != types.ErrNotAuthorized {
		t.Errorf("candidate warning = %v, want ErrNotAuthorized", err)
	}

	// Warning an unregistered identity is rejected without mutation.
	err = co.SendWarning(ctx, host, types.SendWarningPayload{ExamID: "exam-1", UserID: "mallory", Message: "x"})
	if err != types.ErrNotAuthorized {
		t.Errorf("warning unregistered = %v, want ErrNotAuthorized", err)
	}

	if err := co.SendWarning(ctx, host, types.SendWarningPayload{ExamID: "exam-1", UserID: "alice", Message: "stay in frame"}); err != nil {
		t.Fatalf("SendWarning: %v", err)
	}
	if !aliceSender.has(types.EventWarningIssued) {
		t.Error("warned candidate should see the warningIssued broadcast")
	}

	got, _ := store.FindByID(ctx, "exam-1")
	if got.Candidate("alice").Warnings != 1 {
		t.Error("warning should persist on the aggregate")
	}
}

func TestWarningEscalationDisqualifies(t *testing.T) {
	co, store := newTestCoordinator(t)
	ctx := context.Background()

	host, _ := joinHost(t, co)
	_, aliceSender := join(t, co, "alice")

	for i := 0; i < 3; i++ {
		if err := co.SendWarning(ctx, host, types.SendWarningPayload{ExamID: "exam-1", UserID: "alice", Message: "violation"}); err != nil {
			t.Fatalf("warning %d: %v", i+1, err)
		}
		time.Sleep(time.Millisecond)
	}

	got, _ := store.FindByID(ctx, "exam-1")
	if got.Candidate("alice").Status != types.StatusDisqualified {
		t.Fatal("third warning should disqualify")
	}
	if !aliceSender.has(types.EventCandidateDisqualified) {
		t.Error("disqualification should be broadcast")
	}
}

func TestAnalyzeFrameSelfOnly(t *testing.T) {
	co, _ := newTestCoordinator(t)
	ctx := context.Background()

	alice, sender := join(t, co, "alice")

	err := co.AnalyzeFrame(ctx, alice, types.AnalyzeFramePayload{
		ExamID: "exam-1", UserID: "bob", FrameData: "AAAA",
	})
	if err != ErrSelfSubmitOnly {
		t.Errorf("frame for another identity = %v, want ErrSelfSubmitOnly", err)
	}

	err = co.AnalyzeFrame(ctx, alice, types.AnalyzeFramePayload{
		ExamID: "exam-1", UserID: "alice", FrameData: "AAAA",
	})
	if err != nil {
		t.Fatalf("AnalyzeFrame: %v", err)
	}
	if !sender.has(types.EventFrameAnalysisResult) {
		t.Error("submitter should receive the analysis result")
	}
}

func TestRecordActivityThresholdWarns(t *testing.T) {
	co, store := newTestCoordinator(t)
	ctx := context.Background()

	alice, sender := join(t, co, "alice")

	batch := types.AntiCheatingPayload{
		ExamID: "exam-1",
		Events: []types.ReportedActivity{
			{EventType: types.ActivityTabSwitch},
			{EventType: types.ActivityTabSwitch},
			{EventType: types.ActivityTabSwitch},
		},
	}
	if err := co.RecordActivity(ctx, alice, batch); err != nil {
		t.Fatalf("RecordActivity: %v", err)
	}

	got, _ := store.FindByID(ctx, "exam-1")
	c := got.Candidate("alice")
	if len(c.AntiCheatingEvents) != 3 {
		t.Errorf("persisted events = %d, want 3", len(c.AntiCheatingEvents))
	}
	if c.Warnings != 1 {
		t.Errorf("warnings = %d, want 1 from the tab-switch threshold", c.Warnings)
	}
	if !sender.has(types.EventWarningIssued) {
		t.Error("threshold warning should be broadcast")
	}
}

func TestDisconnectTransientEntersReconnectionPath(t *testing.T) {
	co, store := newTestCoordinator(t)
	ctx := context.Background()

	alice, _ := join(t, co, "alice")
	co.Disconnect(ctx, alice, "transport close")

	got, _ := store.FindByID(ctx, "exam-1")
	disc := got.Candidate("alice").VideoMonitoring.Disconnections
	if len(disc) != 1 || disc[0].EndTime != nil {
		t.Fatalf("expected one open disconnection, got %+v", disc)
	}
	if _, _, ok := co.tracker.Pending("alice"); !ok {
		t.Error("transient disconnect should be pending in the tracker")
	}
}

func TestDisconnectExplicitSkipsTracker(t *testing.T) {
	co, store := newTestCoordinator(t)
	ctx := context.Background()

	alice, _ := join(t, co, "alice")
	co.Disconnect(ctx, alice, "client namespace disconnect")

	if _, _, ok := co.tracker.Pending("alice"); ok {
		t.Error("explicit departure must not enter the reconnection path")
	}
	got, _ := store.FindByID(ctx, "exam-1")
	if len(got.Candidate("alice").VideoMonitoring.Disconnections) != 0 {
		t.Error("explicit departure must not record a disconnection")
	}
}

func TestDisconnectOfReplacedConnectionIsIgnored(t *testing.T) {
	co, store := newTestCoordinator(t)
	ctx := context.Background()

	_, hostSender := joinHost(t, co)
	stale, _ := join(t, co, "alice")
	fresh, _ := join(t, co, "alice")

	// The old connection winds down after its replacement took over. The
	// identity is still live, so nothing may be announced, persisted or
	// tracked for the stale handle.
	co.Disconnect(ctx, stale, "transport error")

	got, _ := store.FindByID(ctx, "exam-1")
	if n := len(got.Candidate("alice").VideoMonitoring.Disconnections); n != 0 {
		t.Errorf("stale close persisted %d disconnection entries, want 0", n)
	}
	if _, _, ok := co.tracker.Pending("alice"); ok {
		t.Error("stale close must not enter the reconnection path")
	}
	if hostSender.has(types.EventUserDisconnected) {
		t.Error("stale close must not broadcast userDisconnected")
	}
	h, ok := co.registry.CandidateHandle("exam-1", "alice")
	if !ok || h != fresh.Handle() {
		t.Error("the replacement handle should stay registered")
	}
}

func TestStaleClosesNeverCountTowardDisqualification(t *testing.T) {
	co, store := newTestCoordinator(t)
	ctx := context.Background()

	// Three connection flaps, each replaced before the old socket closes.
	// None counts as a disconnection, so the limit is never reached.
	current, _ := join(t, co, "alice")
	for i := 0; i < 3; i++ {
		replacement, _ := join(t, co, "alice")
		co.Disconnect(ctx, current, "transport error")
		current = replacement
	}

	got, _ := store.FindByID(ctx, "exam-1")
	if got.Candidate("alice").Status == types.StatusDisqualified {
		t.Fatal("stale closes disqualified a connected candidate")
	}
}

func TestRepeatedDisconnectionsDisqualify(t *testing.T) {
	co, store := newTestCoordinator(t)
	ctx := context.Background()

	// Three drops without a successful reconnection leave three open
	// entries inside the window.
	for i := 0; i < 3; i++ {
		alice, _ := join(t, co, "alice")
		co.Disconnect(ctx, alice, "transport close")

		got, _ := store.FindByID(ctx, "exam-1")
		disqualified := got.Candidate("alice").Status == types.StatusDisqualified
		if i < 2 && disqualified {
			t.Fatalf("disqualified too early at drop %d", i+1)
		}
		if i == 2 && !disqualified {
			t.Fatal("third open disconnection within the window should disqualify")
		}
	}
}

func TestRejoinSettlesPendingReconnection(t *testing.T) {
	co, store := newTestCoordinator(t)
	ctx := context.Background()

	alice, _ := join(t, co, "alice")
	co.Disconnect(ctx, alice, "transport error")
	if _, _, ok := co.tracker.Pending("alice"); !ok {
		t.Fatal("transient disconnect should be pending in the tracker")
	}

	// Returning through a plain join instead of reconnect must still settle
	// the pending entry; otherwise the expiry timer later announces a
	// permanent disconnect for a connected candidate.
	join(t, co, "alice")
	if _, _, ok := co.tracker.Pending("alice"); ok {
		t.Error("rejoin should settle the pending reconnection entry")
	}

	// The open disconnection window is left alone: rapid flapping still
	// counts toward the disconnection limit.
	got, _ := store.FindByID(ctx, "exam-1")
	disc := got.Candidate("alice").VideoMonitoring.Disconnections
	if len(disc) != 1 || disc[0].EndTime != nil {
		t.Errorf("rejoin should not rewrite disconnection history: %+v", disc)
	}
}

func TestReconnectWithoutPendingRejected(t *testing.T) {
	co, _ := newTestCoordinator(t)
	ctx := context.Background()

	alice := NewClient("alice", types.RoleCandidate, &recordingSender{}, co.NewAnalyzer())
	err := co.Reconnect(ctx, alice, types.ReconnectPayload{ExamID: "exam-1"})
	if err != ErrReconnectRejected {
		t.Errorf("reconnect without pending entry = %v, want ErrReconnectRejected", err)
	}
}

func TestReconnectResolvesAndRejoins(t *testing.T) {
	co, store := newTestCoordinator(t)
	ctx := context.Background()

	alice, _ := join(t, co, "alice")
	co.Disconnect(ctx, alice, "transport error")

	fresh := NewClient("alice", types.RoleCandidate, &recordingSender{}, co.NewAnalyzer())
	if err := co.Reconnect(ctx, fresh, types.ReconnectPayload{ExamID: "exam-1"}); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}

	if fresh.Handle() == nil {
		t.Fatal("reconnected client should hold a new handle")
	}
	got, _ := store.FindByID(ctx, "exam-1")
	disc := got.Candidate("alice").VideoMonitoring.Disconnections
	if len(disc) != 1 || disc[0].EndTime == nil {
		t.Error("reconnection should close the open disconnection entry")
	}
	// The pending entry is consumed.
	if _, _, ok := co.tracker.Pending("alice"); ok {
		t.Error("tracker entry should be resolved")
	}
}

func TestLeaveExamCleansUp(t *testing.T) {
	co, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, hostSender := joinHost(t, co)
	alice, _ := join(t, co, "alice")

	if err := co.LeaveExam(ctx, alice, types.LeaveExamPayload{ExamID: "exam-1"}); err != nil {
		t.Fatalf("LeaveExam: %v", err)
	}
	if alice.Handle() != nil {
		t.Error("handle should be cleared on leave")
	}
	if !hostSender.has(types.EventUserLeft) {
		t.Error("host should see the userLeft broadcast")
	}
	if _, _, ok := co.tracker.Pending("alice"); ok {
		t.Error("explicit leave must not enter the reconnection path")
	}
}

func TestAutomatedMonitoringAdminOnly(t *testing.T) {
	co, _ := newTestCoordinator(t)
	ctx := context.Background()

	alice, _ := join(t, co, "alice")
	err := co.StartAutomatedMonitoring(ctx, alice, types.StartAutomatedMonitoringPayload{ExamID: "exam-1"})
	if err != types.ErrNotAuthorized {
		t.Errorf("candidate start monitoring = %v, want ErrNotAuthorized", err)
	}

	host, hostSender := joinHost(t, co)
	if err := co.StartAutomatedMonitoring(ctx, host, types.StartAutomatedMonitoringPayload{ExamID: "exam-1"}); err != nil {
		t.Fatalf("StartAutomatedMonitoring: %v", err)
	}
	if !hostSender.has(types.EventAutomatedMonitoringStarted) {
		t.Error("admin should receive the start ack")
	}
	if err := co.StopAutomatedMonitoring(ctx, host); err != nil {
		t.Fatalf("StopAutomatedMonitoring: %v", err)
	}
}

func TestDispatchUnknownEventSendsError(t *testing.T) {
	co, _ := newTestCoordinator(t)

	sender := &recordingSender{}
	c := NewClient("alice", types.RoleCandidate, sender, co.NewAnalyzer())

	co.Dispatch(context.Background(), c, types.Envelope{Event: "nonsense"})
	if !sender.has(types.EventError) {
		t.Error("unknown event should produce an error event on the sender")
	}
}

func TestDispatchValidatesPayload(t *testing.T) {
	co, _ := newTestCoordinator(t)

	sender := &recordingSender{}
	c := NewClient("alice", types.RoleCandidate, sender, co.NewAnalyzer())

	co.Dispatch(context.Background(), c, types.Envelope{
		Event: types.EventJoinExam,
		Data:  json.RawMessage(`{"examId":""}`),
	})
	if !sender.has(types.EventError) {
		t.Error("invalid payload should produce an error event")
	}
}

func TestDispatchRoutesJoin(t *testing.T) {
	co, _ := newTestCoordinator(t)

	sender := &recordingSender{}
	c := NewClient("alice", types.RoleCandidate, sender, co.NewAnalyzer())

	co.Dispatch(context.Background(), c, types.Envelope{
		Event: types.EventJoinExam,
		Data:  json.RawMessage(`{"examId":"exam-1"}`),
	})
	if !sender.has(types.EventJoinedExam) {
		t.Error("valid join should be acked with joinedExam")
	}
}

func TestDispatchMetricLabelsStayBounded(t *testing.T) {
	co, _ := newTestCoordinator(t)

	sender := &recordingSender{}
	c := NewClient("alice", types.RoleCandidate, sender, co.NewAnalyzer())

	// Event names are client input. A flood of made-up names must collapse
	// into a single counter series, not mint one series per name.
	before := testutil.CollectAndCount(metrics.EventsDispatched)
	for i := 0; i < 50; i++ {
		co.Dispatch(context.Background(), c, types.Envelope{Event: fmt.Sprintf("bogus-%d", i)})
	}
	after := testutil.CollectAndCount(metrics.EventsDispatched)

	if after-before > 1 {
		t.Errorf("unrecognized event names created %d new series, want at most 1", after-before)
	}
	if got := metricLabel(types.EventJoinExam); got != types.EventJoinExam {
		t.Errorf("metricLabel(%q) = %q, recognized events keep their name", types.EventJoinExam, got)
	}
}
