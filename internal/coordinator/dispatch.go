package coordinator

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/Nayan-Bera/New-Practo-backend/internal/metrics"
	"github.com/Nayan-Bera/New-Practo-backend/pkg/types"
)

// Dispatch decodes one inbound envelope, validates its payload and routes it
// to the matching handler. Handler failures come back to the sending
// connection as error events and never tear the connection down.
func (co *Coordinator) Dispatch(ctx context.Context, c *Client, env types.Envelope) {
	metrics.EventsDispatched.WithLabelValues(metricLabel(env.Event)).Inc()

	if err := co.dispatch(ctx, c, env); err != nil {
		co.log.Debug("event rejected",
			zap.String("event", env.Event),
			zap.String("userId", c.UserID()),
			zap.Error(err),
		)
		c.SendError(err)
	}
}

func (co *Coordinator) dispatch(ctx context.Context, c *Client, env types.Envelope) error {
	switch env.Event {
	case types.EventJoinExam:
		var p types.JoinExamPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		return co.JoinExam(ctx, c, p)

	case types.EventLeaveExam:
		var p types.LeaveExamPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		return co.LeaveExam(ctx, c, p)

	case types.EventStartStream:
		var p types.StartStreamPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		return co.StartStream(ctx, c, p)

	case types.EventStopStream:
		var p types.StopStreamPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		return co.StopStream(ctx, c, p)

	case types.EventSendWarning:
		var p types.SendWarningPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		return co.SendWarning(ctx, c, p)

	case types.EventAnalyzeFrame:
		var p types.AnalyzeFramePayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		return co.AnalyzeFrame(ctx, c, p)

	case types.EventAntiCheating:
		var p types.AntiCheatingPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		return co.RecordActivity(ctx, c, p)

	case types.EventStartAutomatedMonitoring:
		var p types.StartAutomatedMonitoringPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		return co.StartAutomatedMonitoring(ctx, c, p)

	case types.EventStopAutomatedMonitoring:
		return co.StopAutomatedMonitoring(ctx, c)

	// sendSignal is the legacy alias some clients still emit for offers.
	case types.EventSendingSignal, types.EventSendSignal:
		var p types.SignalPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		return co.RelayOffer(ctx, c, p)

	case types.EventReturningSignal:
		var p types.ReturnSignalPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		return co.RelayAnswer(ctx, c, p)

	case types.EventReconnect:
		var p types.ReconnectPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		return co.Reconnect(ctx, c, p)

	default:
		return types.ErrUnknownEvent
	}
}

// metricLabel keeps the dispatch counter's label set bounded: event names
// are client input, so anything unrecognized collapses into one series.
func metricLabel(event string) string {
	switch event {
	case types.EventJoinExam,
		types.EventLeaveExam,
		types.EventStartStream,
		types.EventStopStream,
		types.EventSendWarning,
		types.EventAnalyzeFrame,
		types.EventAntiCheating,
		types.EventStartAutomatedMonitoring,
		types.EventStopAutomatedMonitoring,
		types.EventSendingSignal,
		types.EventSendSignal,
		types.EventReturningSignal,
		types.EventReconnect:
		return event
	}
	return "unknown"
}

// validator is implemented by every inbound payload.
type validator interface {
	Validate() error
}

func decode(data json.RawMessage, p validator) error {
	if len(data) > 0 {
		if err := json.Unmarshal(data, p); err != nil {
			return types.ErrMalformedPayload
		}
	}
	return p.Validate()
}
