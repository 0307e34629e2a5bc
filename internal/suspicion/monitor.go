package suspicion

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Nayan-Bera/New-Practo-backend/internal/exam"
	"github.com/Nayan-Bera/New-Practo-backend/internal/metrics"
	"github.com/Nayan-Bera/New-Practo-backend/internal/session"
	"github.com/Nayan-Bera/New-Practo-backend/internal/warning"
	"github.com/Nayan-Bera/New-Practo-backend/pkg/types"
)

// DefaultPollInterval is the server-side automated monitoring cadence.
const DefaultPollInterval = 30 * time.Second

var (
	ErrAlreadyMonitoring = errors.New("automated monitoring already running for this connection")
	ErrNotMonitoring     = errors.New("automated monitoring is not running")
)

// Monitor runs the server-polled automated monitoring loop: one background
// watcher per subscribing admin connection, evaluating every streaming
// candidate's analysis window each poll and escalating through the warning
// engine. Watchers are stopped explicitly or when the admin disconnects.
type Monitor struct {
	interval   time.Duration
	aggregator *Aggregator
	registry   *session.Registry
	engine     *warning.Engine
	store      exam.Store
	log        *zap.Logger

	mu       sync.Mutex
	watchers map[string]*watcher
}

type watcher struct {
	examID string
	stop   chan struct{}
	done   chan struct{}
}

// NewMonitor creates the automated-monitoring runner.
func NewMonitor(interval time.Duration, aggregator *Aggregator, registry *session.Registry, engine *warning.Engine, store exam.Store, log *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Monitor{
		interval:   interval,
		aggregator: aggregator,
		registry:   registry,
		engine:     engine,
		store:      store,
		log:        log,
		watchers:   make(map[string]*watcher),
	}
}

// Start begins polling for the admin connection identified by handleID.
func (m *Monitor) Start(handleID, examID string) error {
	m.mu.Lock()
	if _, exists := m.watchers[handleID]; exists {
		m.mu.Unlock()
		return ErrAlreadyMonitoring
	}
	w := &watcher{
		examID: examID,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.watchers[handleID] = w
	m.mu.Unlock()

	go m.run(w)

	m.log.Info("automated monitoring started",
		zap.String("examId", examID),
		zap.String("handleId", handleID),
	)
	return nil
}

// Stop ends the watcher for one admin connection and waits for its loop to
// exit. Stopping a connection with no watcher returns ErrNotMonitoring.
func (m *Monitor) Stop(handleID string) error {
	m.mu.Lock()
	w, exists := m.watchers[handleID]
	if !exists {
		m.mu.Unlock()
		return ErrNotMonitoring
	}
	delete(m.watchers, handleID)
	m.mu.Unlock()

	close(w.stop)
	<-w.done

	m.log.Info("automated monitoring stopped", zap.String("examId", w.examID))
	return nil
}

// StopAll tears down every watcher, used on shutdown.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	watchers := make([]*watcher, 0, len(m.watchers))
	for handleID, w := range m.watchers {
		watchers = append(watchers, w)
		delete(m.watchers, handleID)
	}
	m.mu.Unlock()

	for _, w := range watchers {
		close(w.stop)
		<-w.done
	}
}

func (m *Monitor) run(w *watcher) {
	defer close(w.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.poll(w.examID)
		case <-w.stop:
			return
		}
	}
}

// poll evaluates every streaming candidate's analysis window once.
func (m *Monitor) poll(examID string) {
	nowTime := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()

	for _, h := range m.registry.ListCandidates(examID) {
		state, ok := m.registry.MonitoringSnapshot(examID, h.UserID)
		if !ok || !state.Streaming {
			continue
		}

		cls := m.aggregator.Classify(h.UserID, nowTime)
		if !cls.Suspicious || cls.Confidence <= WarningConfidenceThreshold {
			continue
		}

		metrics.SuspiciousDetections.Inc()

		ex, err := m.store.FindByID(ctx, examID)
		if err != nil {
			m.log.Warn("automated monitoring could not load exam",
				zap.String("examId", examID), zap.Error(err))
			return
		}

		count, issued, err := m.engine.IssueWarning(ctx, ex, h.UserID, "suspicious activity: "+cls.Reason())
		if err != nil {
			m.log.Warn("automated warning failed",
				zap.String("examId", examID),
				zap.String("userId", h.UserID),
				zap.Error(err),
			)
			continue
		}
		if !issued {
			continue
		}

		// The engine already broadcasts warningIssued to the whole session;
		// the automated-monitoring notice is dashboard-facing only.
		m.registry.SendToHost(examID, types.EventAutomatedWarningIssued, types.AutomatedWarningIssuedPayload{
			UserID:    h.UserID,
			Timestamp: nowTime,
		})

		if _, err := m.engine.EvaluateDisqualification(ctx, ex, h.UserID, count); err != nil {
			m.log.Warn("automated disqualification check failed",
				zap.String("examId", examID),
				zap.String("userId", h.UserID),
				zap.Error(err),
			)
		}
	}
}
