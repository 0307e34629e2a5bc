package coordinator

import (
	"context"
	"encoding/base64"
	"time"

	"go.uber.org/zap"

	"github.com/Nayan-Bera/New-Practo-backend/internal/exam"
	"github.com/Nayan-Bera/New-Practo-backend/internal/metrics"
	"github.com/Nayan-Bera/New-Practo-backend/internal/reconnect"
	"github.com/Nayan-Bera/New-Practo-backend/internal/session"
	"github.com/Nayan-Bera/New-Practo-backend/internal/signaling"
	"github.com/Nayan-Bera/New-Practo-backend/internal/suspicion"
	"github.com/Nayan-Bera/New-Practo-backend/internal/warning"
	"github.com/Nayan-Bera/New-Practo-backend/pkg/types"
)

// DefaultMaxDisconnections is the open-disconnection count within the
// reconnection window that disqualifies a candidate outright.
const DefaultMaxDisconnections = 3

// Config holds coordinator policy knobs.
type Config struct {
	WarningCooldown   time.Duration    `json:"warning_cooldown" mapstructure:"warning_cooldown"`
	MaxDisconnections int              `json:"max_disconnections" mapstructure:"max_disconnections"`
	PollInterval      time.Duration    `json:"poll_interval" mapstructure:"poll_interval"`
	Reconnect         reconnect.Config `json:"reconnect" mapstructure:"reconnect"`
	Windows           suspicion.Config `json:"windows" mapstructure:"windows"`
}

func (c *Config) applyDefaults() {
	if c.MaxDisconnections <= 0 {
		c.MaxDisconnections = DefaultMaxDisconnections
	}
}

// Coordinator orchestrates the real-time exam session: connection lifecycle,
// monitoring state, warning escalation, suspicious-activity aggregation and
// signaling relay, keeping the persisted exam aggregate in step with the
// in-memory session state.
type Coordinator struct {
	cfg        Config
	registry   *session.Registry
	tracker    *reconnect.Tracker
	engine     *warning.Engine
	aggregator *suspicion.Aggregator
	monitor    *suspicion.Monitor
	relay      *signaling.Relay
	store      exam.Store
	log        *zap.Logger
}

// NewCoordinator wires the session components. The reconnection tracker is
// owned here so its exhaustion callback can notify the session.
func NewCoordinator(cfg Config, registry *session.Registry, store exam.Store, log *zap.Logger) *Coordinator {
	cfg.applyDefaults()

	co := &Coordinator{
		cfg:      cfg,
		registry: registry,
		store:    store,
		log:      log,
	}

	co.tracker = reconnect.NewTracker(cfg.Reconnect, co.onReconnectExhausted, log)
	co.engine = warning.NewEngine(cfg.WarningCooldown, registry, store, log)
	co.aggregator = suspicion.NewAggregator(cfg.Windows)
	co.monitor = suspicion.NewMonitor(cfg.PollInterval, co.aggregator, registry, co.engine, store, log)
	co.relay = signaling.NewRelay(registry, log)

	return co
}

// NewAnalyzer mints the per-connection frame analyzer. The heuristic
// stand-in is the default; a real vision model slots in behind the same
// interface.
func (co *Coordinator) NewAnalyzer() suspicion.FrameAnalyzer {
	return suspicion.NewHeuristicAnalyzer()
}

// Shutdown stops background timers and watchers.
func (co *Coordinator) Shutdown() {
	co.monitor.StopAll()
	co.tracker.Stop()
}

// JoinExam authorizes the identity against the exam aggregate and registers
// a fresh participant handle. The effective role comes from the exam record:
// its admin joins as host, a registered candidate joins as candidate, anyone
// else is rejected. A joining admin alone receives the current monitoring
// snapshot.
func (co *Coordinator) JoinExam(ctx context.Context, c *Client, p types.JoinExamPayload) error {
	ex, err := co.store.FindByID(ctx, p.ExamID)
	if err != nil {
		return types.ErrNotFound
	}

	var role string
	switch {
	case ex.IsHost(c.UserID()):
		role = types.RoleAdmin
	case ex.Candidate(c.UserID()) != nil:
		role = types.RoleCandidate
	default:
		return types.ErrNotAuthorized
	}

	// Rejoin replaces the previous handle rather than duplicating it.
	if prev := c.takeHandle(); prev != nil {
		co.registry.Leave(prev)
	}

	// A fresh join settles any pending transient disconnect for this exam,
	// so the expiry timer cannot fire permanent for a connected candidate.
	// The open disconnection window stays as is; rapid flapping still counts
	// toward the disconnection limit.
	if role == types.RoleCandidate {
		co.tracker.Reconnect(c.UserID(), p.ExamID)
	}

	h := session.NewHandle(p.ExamID, c.UserID(), role, c.sender)
	co.registry.Join(h)
	c.setHandle(h)
	co.updateGauges()

	joined := types.JoinedExamPayload{ExamID: p.ExamID}
	if role == types.RoleAdmin {
		joined.Candidates = co.monitoringSnapshot(p.ExamID)
	}
	if err := c.Send(types.EventJoinedExam, joined); err != nil {
		co.log.Debug("failed to ack join", zap.String("userId", c.UserID()), zap.Error(err))
	}

	notification := types.UserJoinedPayload{UserID: c.UserID(), Type: role}
	if role == types.RoleCandidate {
		if state, ok := co.registry.MonitoringSnapshot(p.ExamID, c.UserID()); ok {
			notification.VideoState = &state
		}
	}
	co.registry.Broadcast(p.ExamID, types.EventUserJoined, notification)

	co.log.Info("participant joined",
		zap.String("examId", p.ExamID),
		zap.String("userId", c.UserID()),
		zap.String("role", role),
	)
	return nil
}

// LeaveExam is the explicit departure path: it never engages the
// reconnection tracker.
func (co *Coordinator) LeaveExam(_ context.Context, c *Client, p types.LeaveExamPayload) error {
	h := c.Handle()
	if h == nil || h.ExamID != p.ExamID {
		return ErrNotJoined
	}
	c.takeHandle()

	if h.Role == types.RoleAdmin {
		_ = co.monitor.Stop(h.ID)
	}
	co.registry.Leave(h)
	co.aggregator.Forget(h.UserID)
	co.updateGauges()

	co.registry.Broadcast(p.ExamID, types.EventUserLeft, types.UserLeftPayload{UserID: h.UserID})

	co.log.Info("participant left",
		zap.String("examId", p.ExamID),
		zap.String("userId", h.UserID),
	)
	return nil
}

// StartStream marks the candidate as streaming. It requires the candidate
// role and video monitoring enabled on the persisted candidate record.
func (co *Coordinator) StartStream(ctx context.Context, c *Client, p types.StartStreamPayload) error {
	h := c.Handle()
	if h == nil || h.ExamID != p.ExamID {
		return ErrNotJoined
	}
	if h.Role != types.RoleCandidate {
		return ErrNotCandidate
	}

	ex, err := co.store.FindByID(ctx, p.ExamID)
	if err != nil {
		return types.ErrNotFound
	}
	candidate := ex.Candidate(h.UserID)
	if candidate == nil {
		return types.ErrNotAuthorized
	}
	if !candidate.VideoMonitoring.IsEnabled {
		return types.ErrInvalidState
	}
	if candidate.Status == types.StatusDisqualified {
		return types.ErrInvalidState
	}

	state, ok := co.registry.SetStreaming(p.ExamID, h.UserID, true)
	if !ok {
		return ErrNotJoined
	}

	co.registry.Broadcast(p.ExamID, types.EventStreamStarted, types.StreamStartedPayload{
		UserID:     h.UserID,
		VideoState: state,
	})
	return nil
}

// StopStream records a disconnection entry on the aggregate, clears the
// streaming flag and notifies the session with the reason.
func (co *Coordinator) StopStream(ctx context.Context, c *Client, p types.StopStreamPayload) error {
	h := c.Handle()
	if h == nil || h.ExamID != p.ExamID {
		return ErrNotJoined
	}
	if h.Role != types.RoleCandidate {
		return ErrNotCandidate
	}

	if err := co.store.RecordDisconnection(ctx, p.ExamID, h.UserID, p.Reason); err != nil {
		co.log.Error("failed to record stream stop",
			zap.String("examId", p.ExamID),
			zap.String("userId", h.UserID),
			zap.Error(err),
		)
	}

	state, ok := co.registry.SetStreaming(p.ExamID, h.UserID, false)
	if !ok {
		return ErrNotJoined
	}

	co.registry.Broadcast(p.ExamID, types.EventStreamStopped, types.StreamStoppedPayload{
		UserID:     h.UserID,
		Reason:     p.Reason,
		VideoState: state,
	})
	return nil
}

// SendWarning lets the exam's admin warn a candidate; escalation runs
// through the warning engine and the disqualification policy.
func (co *Coordinator) SendWarning(ctx context.Context, c *Client, p types.SendWarningPayload) error {
	ex, err := co.store.FindByID(ctx, p.ExamID)
	if err != nil {
		return types.ErrNotFound
	}
	if !ex.IsHost(c.UserID()) {
		return types.ErrNotAuthorized
	}

	count, issued, err := co.engine.IssueWarning(ctx, ex, p.UserID, p.Message)
	if err != nil {
		if err == exam.ErrCandidateNotFound {
			return types.ErrNotAuthorized
		}
		return err
	}
	if !issued {
		return nil
	}

	_, err = co.engine.EvaluateDisqualification(ctx, ex, p.UserID, count)
	return err
}

// AnalyzeFrame runs the pluggable analyzer over a candidate-submitted frame,
// feeds the outcome into the rolling analysis window, answers the submitter,
// and escalates when the window's combined confidence crosses the warning
// threshold.
func (co *Coordinator) AnalyzeFrame(ctx context.Context, c *Client, p types.AnalyzeFramePayload) error {
	h := c.Handle()
	if h == nil || h.ExamID != p.ExamID {
		return ErrNotJoined
	}
	if p.UserID != c.UserID() {
		return ErrSelfSubmitOnly
	}

	frame, err := base64.StdEncoding.DecodeString(p.FrameData)
	if err != nil {
		// Clients may send raw frame bytes as an opaque string.
		frame = []byte(p.FrameData)
	}

	at := p.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	outcome := c.analyzer.Analyze(frame)
	cls := co.aggregator.AddAnalysis(h.UserID, outcome, at)

	if err := c.Send(types.EventFrameAnalysisResult, types.FrameAnalysisResultPayload{
		Result:             outcome,
		SuspiciousActivity: cls.Suspicious,
	}); err != nil {
		co.log.Debug("failed to deliver analysis result", zap.Error(err))
	}

	if !cls.Suspicious {
		return nil
	}

	metrics.SuspiciousDetections.Inc()
	co.registry.Broadcast(p.ExamID, types.EventSuspiciousActivity, types.SuspiciousActivityPayload{
		UserID:     h.UserID,
		Reasons:    cls.Reasons,
		Confidence: cls.Confidence,
		Timestamp:  at,
	})

	if cls.Confidence <= suspicion.WarningConfidenceThreshold {
		return nil
	}

	ex, err := co.store.FindByID(ctx, p.ExamID)
	if err != nil {
		return types.ErrNotFound
	}
	count, issued, err := co.engine.IssueWarning(ctx, ex, h.UserID, "suspicious activity: "+cls.Reason())
	if err != nil || !issued {
		return err
	}
	_, err = co.engine.EvaluateDisqualification(ctx, ex, h.UserID, count)
	return err
}

// RecordActivity ingests a batch of client-reported anti-cheating events:
// each is persisted to the aggregate, then the 5-minute window thresholds
// decide which warnings to attempt. The warning cooldown still gates
// issuance, so a batch tripping several thresholds yields the first warning
// and no-ops for the rest until the cooldown elapses.
func (co *Coordinator) RecordActivity(ctx context.Context, c *Client, p types.AntiCheatingPayload) error {
	h := c.Handle()
	if h == nil || h.ExamID != p.ExamID {
		return ErrNotJoined
	}
	if h.Role != types.RoleCandidate {
		return ErrNotCandidate
	}

	nowTime := time.Now()
	for _, ev := range p.Events {
		ts := ev.Timestamp
		if ts.IsZero() {
			ts = nowTime
		}
		record := exam.ActivityRecord{EventType: ev.EventType, Details: ev.Details, Timestamp: ts}
		if err := co.store.RecordAntiCheatingEvent(ctx, p.ExamID, h.UserID, record); err != nil {
			co.log.Error("failed to persist anti-cheating event",
				zap.String("examId", p.ExamID),
				zap.String("userId", h.UserID),
				zap.Error(err),
			)
		}
	}

	reasons := co.aggregator.AddActivities(h.UserID, p.Events, nowTime)
	if len(reasons) == 0 {
		return nil
	}

	ex, err := co.store.FindByID(ctx, p.ExamID)
	if err != nil {
		return types.ErrNotFound
	}

	for _, reason := range reasons {
		count, issued, err := co.engine.IssueWarning(ctx, ex, h.UserID, "suspicious activity: "+reason)
		if err != nil {
			return err
		}
		if !issued {
			continue
		}
		disqualified, err := co.engine.EvaluateDisqualification(ctx, ex, h.UserID, count)
		if err != nil {
			return err
		}
		if disqualified {
			break
		}
	}
	return nil
}

// StartAutomatedMonitoring subscribes the exam's admin to the 30s server
// poll over candidate analysis windows.
func (co *Coordinator) StartAutomatedMonitoring(ctx context.Context, c *Client, p types.StartAutomatedMonitoringPayload) error {
	h := c.Handle()
	if h == nil || h.ExamID != p.ExamID {
		return ErrNotJoined
	}
	if h.Role != types.RoleAdmin {
		return types.ErrNotAuthorized
	}

	if err := co.monitor.Start(h.ID, p.ExamID); err != nil {
		return err
	}
	return c.Send(types.EventAutomatedMonitoringStarted, types.AutomatedMonitoringStartedPayload{
		ExamID: p.ExamID,
	})
}

// StopAutomatedMonitoring ends the admin's poll subscription.
func (co *Coordinator) StopAutomatedMonitoring(_ context.Context, c *Client) error {
	h := c.Handle()
	if h == nil {
		return ErrNotJoined
	}
	if err := co.monitor.Stop(h.ID); err != nil {
		return err
	}
	return c.Send(types.EventAutomatedMonitoringStopped, nil)
}

// RelayOffer forwards a WebRTC offer. The sender address is the server-known
// handle id, never the client-supplied from field.
func (co *Coordinator) RelayOffer(_ context.Context, c *Client, p types.SignalPayload) error {
	h := c.Handle()
	if h == nil {
		return ErrNotJoined
	}
	co.relay.RelayOffer(p.To, h.ID, p.Signal)
	return nil
}

// RelayAnswer forwards a WebRTC answer back to the offering handle.
func (co *Coordinator) RelayAnswer(_ context.Context, c *Client, p types.ReturnSignalPayload) error {
	h := c.Handle()
	if h == nil {
		return ErrNotJoined
	}
	co.relay.RelayAnswer(p.To, h.ID, p.Signal)
	return nil
}

// Disconnect handles the transport-level close of a connection. Transient
// reasons enter the bounded reconnection path and count toward the
// immediate-disqualification limit; explicit departures just clean up. An
// admin disconnect stops the dashboard feed and never disqualifies anyone.
func (co *Coordinator) Disconnect(ctx context.Context, c *Client, reason string) {
	h := c.takeHandle()
	if h == nil {
		return
	}

	if h.Role == types.RoleAdmin {
		_ = co.monitor.Stop(h.ID)
	}

	// A handle that a newer connection already replaced is not a departure;
	// the identity is still live on the replacement, so nothing is announced,
	// persisted or tracked for it.
	if !co.registry.Leave(h) {
		co.log.Debug("stale connection closed",
			zap.String("examId", h.ExamID),
			zap.String("userId", h.UserID),
		)
		return
	}
	co.updateGauges()

	co.registry.Broadcast(h.ExamID, types.EventUserDisconnected, types.UserDisconnectedPayload{
		UserID:    h.UserID,
		Reason:    reason,
		Timestamp: time.Now(),
	})

	if h.Role != types.RoleCandidate || !IsTransientDisconnect(reason) {
		return
	}

	if err := co.store.RecordDisconnection(ctx, h.ExamID, h.UserID, reason); err != nil {
		co.log.Error("failed to record disconnection",
			zap.String("examId", h.ExamID),
			zap.String("userId", h.UserID),
			zap.Error(err),
		)
	}

	co.tracker.TrackDisconnect(h.UserID, h.ExamID)

	// Repeated drops inside one reconnection window disqualify outright.
	ex, err := co.store.FindByID(ctx, h.ExamID)
	if err != nil {
		return
	}
	candidate := ex.Candidate(h.UserID)
	if candidate == nil || candidate.Status == types.StatusDisqualified {
		return
	}
	open := ex.OpenDisconnections(h.UserID, co.tracker.Timeout(), time.Now())
	if open < co.cfg.MaxDisconnections {
		return
	}

	if err := co.store.SetCandidateStatus(ctx, h.ExamID, h.UserID, types.StatusDisqualified); err != nil {
		co.log.Error("failed to disqualify after repeated disconnections",
			zap.String("examId", h.ExamID),
			zap.String("userId", h.UserID),
			zap.Error(err),
		)
		return
	}
	metrics.Disqualifications.Inc()
	co.registry.Broadcast(h.ExamID, types.EventCandidateDisqualified, types.CandidateDisqualifiedPayload{
		UserID: h.UserID,
	})
	co.log.Info("candidate disqualified after repeated disconnections",
		zap.String("examId", h.ExamID),
		zap.String("userId", h.UserID),
		zap.Int("openDisconnections", open),
	)
}

// Reconnect resolves a pending transient disconnect on a fresh connection:
// the tracker must hold a matching entry, the aggregate's latest open
// disconnection window gets closed, and the candidate rejoins the registry.
func (co *Coordinator) Reconnect(ctx context.Context, c *Client, p types.ReconnectPayload) error {
	if !co.tracker.Reconnect(c.UserID(), p.ExamID) {
		return ErrReconnectRejected
	}

	ex, err := co.store.FindByID(ctx, p.ExamID)
	if err != nil {
		return types.ErrNotFound
	}
	if ex.Candidate(c.UserID()) == nil {
		return types.ErrNotAuthorized
	}

	if err := co.store.RecordReconnection(ctx, p.ExamID, c.UserID()); err != nil {
		co.log.Error("failed to record reconnection",
			zap.String("examId", p.ExamID),
			zap.String("userId", c.UserID()),
			zap.Error(err),
		)
	}

	if prev := c.takeHandle(); prev != nil {
		co.registry.Leave(prev)
	}
	h := session.NewHandle(p.ExamID, c.UserID(), types.RoleCandidate, c.sender)
	co.registry.Join(h)
	c.setHandle(h)
	co.updateGauges()

	var statePtr *types.VideoState
	if state, ok := co.registry.MonitoringSnapshot(p.ExamID, c.UserID()); ok {
		statePtr = &state
	}
	co.registry.Broadcast(p.ExamID, types.EventUserReconnected, types.UserReconnectedPayload{
		UserID:     c.UserID(),
		VideoState: statePtr,
	})

	co.log.Info("participant reconnected",
		zap.String("examId", p.ExamID),
		zap.String("userId", c.UserID()),
	)
	return nil
}

// RiskReport computes the derived low/medium/high risk level for every
// registered candidate, for the host dashboard. Nothing is stored.
func (co *Coordinator) RiskReport(ctx context.Context, examID string) (map[string]string, error) {
	ex, err := co.store.FindByID(ctx, examID)
	if err != nil {
		return nil, types.ErrNotFound
	}
	report := make(map[string]string, len(ex.Candidates))
	for _, candidate := range ex.Candidates {
		report[candidate.UserID] = ex.RiskLevel(candidate.UserID)
	}
	return report, nil
}

// onReconnectExhausted is the tracker's terminal callback: one permanent
// disconnection notification to the session, nothing else.
func (co *Coordinator) onReconnectExhausted(userID, examID string) {
	metrics.PermanentDisconnections.Inc()
	co.registry.Broadcast(examID, types.EventUserDisconnected, types.UserDisconnectedPayload{
		UserID:    userID,
		Reason:    "reconnection attempts exhausted",
		Timestamp: time.Now(),
		Permanent: true,
	})
}

func (co *Coordinator) monitoringSnapshot(examID string) []types.CandidateSnapshot {
	handles := co.registry.ListCandidates(examID)
	out := make([]types.CandidateSnapshot, 0, len(handles))
	for _, h := range handles {
		snap := types.CandidateSnapshot{UserID: h.UserID, HandleID: h.ID}
		if state, ok := co.registry.MonitoringSnapshot(examID, h.UserID); ok {
			snap.VideoState = &state
		}
		out = append(out, snap)
	}
	return out
}

func (co *Coordinator) updateGauges() {
	stats := co.registry.Stats()
	metrics.ActiveSessions.Set(float64(stats["active_sessions"]))
	metrics.ActiveConnections.Set(float64(stats["total_connections"]))
}

// IsTransientDisconnect classifies a disconnect reason: transport failures
// are eligible for bounded reconnection, everything else is an explicit
// departure.
func IsTransientDisconnect(reason string) bool {
	switch reason {
	case "transport error", "transport close", "ping timeout", "read error", "network error":
		return true
	}
	return false
}
