package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Nayan-Bera/New-Practo-backend/pkg/types"
)

// Sender delivers outbound events to a single connection. Implementations
// must be safe for concurrent use; the websocket wrapper serializes writes
// through its own goroutine.
type Sender interface {
	SendEvent(event string, payload interface{}) error
}

// Handle is the transient connection identity: an opaque id bound to exactly
// one (exam, user, role) triple for its lifetime. A new connection by the
// same user gets a new handle.
type Handle struct {
	ID     string
	ExamID string
	UserID string
	Role   string
	sender Sender
}

// NewHandle mints a handle for a just-authorized connection.
func NewHandle(examID, userID, role string, sender Sender) *Handle {
	return &Handle{
		ID:     uuid.New().String(),
		ExamID: examID,
		UserID: userID,
		Role:   role,
		sender: sender,
	}
}

// Send delivers one event to the handle's connection.
func (h *Handle) Send(event string, payload interface{}) error {
	return h.sender.SendEvent(event, payload)
}

// MonitoringState is the ephemeral per-candidate video bookkeeping, distinct
// from the durable warning count on the exam record.
type MonitoringState struct {
	Streaming       bool
	WarningCount    int
	LastWarningTime *time.Time
}

func (m *MonitoringState) snapshot() types.VideoState {
	state := types.VideoState{
		Streaming:    m.Streaming,
		WarningCount: m.WarningCount,
	}
	if m.LastWarningTime != nil {
		t := *m.LastWarningTime
		state.LastWarningTime = &t
	}
	return state
}

// examSession tracks the live participants of one exam. Candidate insertion
// order is preserved for dashboard snapshots.
type examSession struct {
	host       *Handle
	candidates map[string]*Handle
	order      []string
	monitoring map[string]*MonitoringState
}

// Registry maps exam ids to connected participants and their monitoring
// state. Pure map bookkeeping: no I/O, and operations on unknown exams are
// no-ops or empty results, never errors.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*examSession
	handles  map[string]*Handle // handle id -> handle, for signaling lookup
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*examSession),
		handles:  make(map[string]*Handle),
	}
}

// Join registers the handle under its exam, creating the session lazily.
// A host join overwrites the single host slot. A candidate join replaces any
// existing handle for that identity (latest connection wins) and initializes
// monitoring state if absent.
func (r *Registry) Join(h *Handle) {
	if h == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[h.ExamID]
	if !exists {
		sess = &examSession{
			candidates: make(map[string]*Handle),
			monitoring: make(map[string]*MonitoringState),
		}
		r.sessions[h.ExamID] = sess
	}

	switch h.Role {
	case types.RoleAdmin:
		if sess.host != nil {
			delete(r.handles, sess.host.ID)
		}
		sess.host = h
	case types.RoleCandidate:
		if prev, ok := sess.candidates[h.UserID]; ok {
			delete(r.handles, prev.ID)
		} else {
			sess.order = append(sess.order, h.UserID)
		}
		sess.candidates[h.UserID] = h
		if _, ok := sess.monitoring[h.UserID]; !ok {
			sess.monitoring[h.UserID] = &MonitoringState{}
		}
	default:
		return
	}

	r.handles[h.ID] = h
}

// Leave removes the handle from its session and reports whether it was
// still the registered instance. The removal only applies when the stored
// handle is the same instance, so a stale connection's cleanup never evicts
// its replacement; callers use the return to tell a real departure from a
// replaced connection winding down. A leaving candidate's monitoring state
// is dropped; a leaving host clears only the host slot. The session and its
// candidates survive host absence.
func (r *Registry) Leave(h *Handle) bool {
	if h == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[h.ExamID]
	if !exists {
		return false
	}

	switch h.Role {
	case types.RoleAdmin:
		if sess.host != h {
			return false
		}
		sess.host = nil
	case types.RoleCandidate:
		if sess.candidates[h.UserID] != h {
			return false
		}
		delete(sess.candidates, h.UserID)
		delete(sess.monitoring, h.UserID)
		for i, id := range sess.order {
			if id == h.UserID {
				sess.order = append(sess.order[:i], sess.order[i+1:]...)
				break
			}
		}
	default:
		return false
	}

	delete(r.handles, h.ID)

	if sess.host == nil && len(sess.candidates) == 0 {
		delete(r.sessions, h.ExamID)
	}
	return true
}

// Host returns the session's host handle, if connected.
func (r *Registry) Host(examID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, exists := r.sessions[examID]
	if !exists || sess.host == nil {
		return nil, false
	}
	return sess.host, true
}

// CandidateHandle returns the active handle for a candidate identity.
func (r *Registry) CandidateHandle(examID, userID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, exists := r.sessions[examID]
	if !exists {
		return nil, false
	}
	h, ok := sess.candidates[userID]
	return h, ok
}

// HandleByID resolves an opaque handle id, used for signaling relay.
func (r *Registry) HandleByID(handleID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[handleID]
	return h, ok
}

// ListCandidates returns connected candidate handles in insertion order.
// The order is not stable across reconnects of the whole session.
func (r *Registry) ListCandidates(examID string) []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, exists := r.sessions[examID]
	if !exists {
		return nil
	}

	out := make([]*Handle, 0, len(sess.candidates))
	for _, userID := range sess.order {
		if h, ok := sess.candidates[userID]; ok {
			out = append(out, h)
		}
	}
	return out
}

// MonitoringSnapshot returns a copy of a candidate's monitoring state.
func (r *Registry) MonitoringSnapshot(examID, userID string) (types.VideoState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, exists := r.sessions[examID]
	if !exists {
		return types.VideoState{}, false
	}
	m, ok := sess.monitoring[userID]
	if !ok {
		return types.VideoState{}, false
	}
	return m.snapshot(), true
}

// SetStreaming flips the streaming flag and returns the updated snapshot.
func (r *Registry) SetStreaming(examID, userID string, streaming bool) (types.VideoState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[examID]
	if !exists {
		return types.VideoState{}, false
	}
	m, ok := sess.monitoring[userID]
	if !ok {
		return types.VideoState{}, false
	}
	m.Streaming = streaming
	return m.snapshot(), true
}

// IncrementWarning bumps the ephemeral warning count and timestamp, keeping
// the dashboard view in step with the durable count the store maintains.
func (r *Registry) IncrementWarning(examID, userID string, at time.Time) (types.VideoState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[examID]
	if !exists {
		return types.VideoState{}, false
	}
	m, ok := sess.monitoring[userID]
	if !ok {
		return types.VideoState{}, false
	}
	m.WarningCount++
	m.LastWarningTime = &at
	return m.snapshot(), true
}

// Broadcast sends one event to every participant in the session, host
// included. Delivery failures are per-recipient and do not stop the fanout.
func (r *Registry) Broadcast(examID, event string, payload interface{}) {
	for _, h := range r.participants(examID) {
		_ = h.Send(event, payload)
	}
}

// SendToHost delivers one event to the session's host only.
func (r *Registry) SendToHost(examID, event string, payload interface{}) {
	if host, ok := r.Host(examID); ok {
		_ = host.Send(event, payload)
	}
}

func (r *Registry) participants(examID string) []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, exists := r.sessions[examID]
	if !exists {
		return nil
	}

	out := make([]*Handle, 0, len(sess.candidates)+1)
	if sess.host != nil {
		out = append(out, sess.host)
	}
	for _, userID := range sess.order {
		if h, ok := sess.candidates[userID]; ok {
			out = append(out, h)
		}
	}
	return out
}

// Stats reports registry counts for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connections := len(r.handles)
	return map[string]int{
		"active_sessions":   len(r.sessions),
		"total_connections": connections,
	}
}
