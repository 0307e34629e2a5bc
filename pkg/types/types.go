package types

import (
	"encoding/json"
	"time"
)

// Participant roles within an exam session.
const (
	RoleAdmin     = "admin"
	RoleCandidate = "candidate"
)

// Candidate statuses on the persisted exam record.
const (
	StatusPending      = "pending"
	StatusOngoing      = "ongoing"
	StatusCompleted    = "completed"
	StatusDisqualified = "disqualified"
)

// Anti-cheating event types reported by exam clients.
const (
	ActivityTabSwitch      = "tab_switch"
	ActivityCopyPaste      = "copy_paste"
	ActivityRightClick     = "right_click"
	ActivityDevTools       = "dev_tools"
	ActivityFullscreenExit = "fullscreen_exit"
)

// Inbound event names accepted on a connection after authentication.
const (
	EventJoinExam                 = "joinExam"
	EventLeaveExam                = "leaveExam"
	EventStartStream              = "startStream"
	EventStopStream               = "stopStream"
	EventSendWarning              = "sendWarning"
	EventAnalyzeFrame             = "analyzeFrame"
	EventAntiCheating             = "antiCheatingEvent"
	EventStartAutomatedMonitoring = "startAutomatedMonitoring"
	EventStopAutomatedMonitoring  = "stopAutomatedMonitoring"
	EventSendingSignal            = "sendingSignal"
	EventSendSignal               = "sendSignal"
	EventReturningSignal          = "returningSignal"
	EventReconnect                = "reconnect"
)

// Outbound event names emitted to connections.
const (
	EventJoinedExam                 = "joinedExam"
	EventUserJoined                 = "userJoined"
	EventUserLeft                   = "userLeft"
	EventStreamStarted              = "streamStarted"
	EventStreamStopped              = "streamStopped"
	EventWarningIssued              = "warningIssued"
	EventCandidateDisqualified      = "candidateDisqualified"
	EventFrameAnalysisResult        = "frameAnalysisResult"
	EventSuspiciousActivity         = "suspiciousActivityDetected"
	EventAutomatedMonitoringStarted = "automatedMonitoringStarted"
	EventAutomatedWarningIssued     = "automatedWarningIssued"
	EventAutomatedMonitoringStopped = "automatedMonitoringStopped"
	EventReceiveSignal              = "receiveSignal"
	EventReceivingReturnedSignal    = "receivingReturnedSignal"
	EventUserReconnected            = "userReconnected"
	EventUserDisconnected           = "userDisconnected"
	EventError                      = "error"
)

// Envelope is the tagged wire frame for every event in both directions.
// The payload shape is determined by the event name; inbound payloads are
// validated at the boundary before dispatch.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// VideoState is the ephemeral per-candidate monitoring snapshot included in
// stream and warning notifications. Distinct from the durable warning count
// on the exam record.
type VideoState struct {
	Streaming       bool       `json:"streaming"`
	WarningCount    int        `json:"warningCount"`
	LastWarningTime *time.Time `json:"lastWarningTime,omitempty"`
}

// CandidateSnapshot describes one connected candidate in the monitoring
// snapshot sent to a joining admin.
type CandidateSnapshot struct {
	UserID     string      `json:"userId"`
	HandleID   string      `json:"handleId"`
	VideoState *VideoState `json:"videoState,omitempty"`
}

// ReportedActivity is a single client-reported anti-cheating event.
type ReportedActivity struct {
	EventType string    `json:"eventType"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Inbound payloads.

type JoinExamPayload struct {
	ExamID string `json:"examId"`
}

type LeaveExamPayload struct {
	ExamID string `json:"examId"`
}

type StartStreamPayload struct {
	ExamID string `json:"examId"`
}

type StopStreamPayload struct {
	ExamID string `json:"examId"`
	Reason string `json:"reason,omitempty"`
}

type SendWarningPayload struct {
	ExamID  string `json:"examId"`
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type AnalyzeFramePayload struct {
	ExamID    string    `json:"examId"`
	UserID    string    `json:"userId"`
	FrameData string    `json:"frameData"`
	Timestamp time.Time `json:"timestamp"`
}

type AntiCheatingPayload struct {
	ExamID string             `json:"examId"`
	Events []ReportedActivity `json:"events"`
}

type StartAutomatedMonitoringPayload struct {
	ExamID string `json:"examId"`
}

// SignalPayload carries a WebRTC offer between two participant handles.
type SignalPayload struct {
	To     string          `json:"to"`
	From   string          `json:"from,omitempty"`
	Signal json.RawMessage `json:"signal"`
}

// ReturnSignalPayload carries a WebRTC answer back to the offering handle.
type ReturnSignalPayload struct {
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

type ReconnectPayload struct {
	ExamID string `json:"examId"`
}

// Outbound payloads.

type JoinedExamPayload struct {
	ExamID string `json:"examId"`
	// Candidates is populated only for a joining admin: the current
	// monitoring-dashboard snapshot in candidate insertion order.
	Candidates []CandidateSnapshot `json:"candidates,omitempty"`
}

type UserJoinedPayload struct {
	UserID     string      `json:"userId"`
	Type       string      `json:"type"`
	VideoState *VideoState `json:"videoState,omitempty"`
}

type UserLeftPayload struct {
	UserID string `json:"userId"`
}

type StreamStartedPayload struct {
	UserID     string     `json:"userId"`
	VideoState VideoState `json:"videoState"`
}

type StreamStoppedPayload struct {
	UserID     string     `json:"userId"`
	Reason     string     `json:"reason,omitempty"`
	VideoState VideoState `json:"videoState"`
}

type WarningIssuedPayload struct {
	UserID     string     `json:"userId"`
	Message    string     `json:"message"`
	VideoState VideoState `json:"videoState"`
}

type CandidateDisqualifiedPayload struct {
	UserID string `json:"userId"`
}

// AnalysisOutcome is the frame classification returned to the submitting
// client and fed into the rolling analysis window.
type AnalysisOutcome struct {
	HasMultipleFaces   bool    `json:"hasMultipleFaces"`
	HasNoFace          bool    `json:"hasNoFace"`
	HasUnusualMovement bool    `json:"hasUnusualMovement"`
	Confidence         float64 `json:"confidence"`
}

type FrameAnalysisResultPayload struct {
	Result             AnalysisOutcome `json:"result"`
	SuspiciousActivity bool            `json:"suspiciousActivity"`
}

type SuspiciousActivityPayload struct {
	UserID     string    `json:"userId"`
	Reasons    []string  `json:"reasons"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

type AutomatedMonitoringStartedPayload struct {
	ExamID string `json:"examId"`
}

type AutomatedWarningIssuedPayload struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type ReceiveSignalPayload struct {
	Signal json.RawMessage `json:"signal"`
	From   string          `json:"from"`
}

type UserReconnectedPayload struct {
	UserID     string      `json:"userId"`
	VideoState *VideoState `json:"videoState,omitempty"`
}

type UserDisconnectedPayload struct {
	UserID    string    `json:"userId"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Permanent bool      `json:"permanent,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
