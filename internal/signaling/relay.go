package signaling

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/Nayan-Bera/New-Practo-backend/internal/metrics"
	"github.com/Nayan-Bera/New-Practo-backend/internal/session"
	"github.com/Nayan-Bera/New-Practo-backend/pkg/types"
)

// Relay forwards WebRTC signaling payloads between participant handles.
// Pure pass-through: no state, at-most-once delivery, and a destination that
// is not connected drops the payload silently. The WebRTC layer above owns
// retries and timeouts.
type Relay struct {
	registry *session.Registry
	log      *zap.Logger
}

// NewRelay creates a signaling relay over the session registry.
func NewRelay(registry *session.Registry, log *zap.Logger) *Relay {
	return &Relay{registry: registry, log: log}
}

// RelayOffer forwards an offer to the destination handle.
func (r *Relay) RelayOffer(to, from string, signal json.RawMessage) {
	r.deliver(to, types.EventReceiveSignal, types.ReceiveSignalPayload{
		Signal: signal,
		From:   from,
	})
}

// RelayAnswer forwards an answer back to the offering handle.
func (r *Relay) RelayAnswer(to, from string, signal json.RawMessage) {
	r.deliver(to, types.EventReceivingReturnedSignal, types.ReceiveSignalPayload{
		Signal: signal,
		From:   from,
	})
}

func (r *Relay) deliver(to, event string, payload types.ReceiveSignalPayload) {
	h, ok := r.registry.HandleByID(to)
	if !ok {
		r.log.Debug("dropping signal for unknown handle", zap.String("to", to))
		return
	}
	if err := h.Send(event, payload); err != nil {
		r.log.Debug("signal delivery failed",
			zap.String("to", to),
			zap.Error(err),
		)
		return
	}
	metrics.SignalsRelayed.Inc()
}
