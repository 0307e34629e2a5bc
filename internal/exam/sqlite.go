package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLite schema. Nested candidate documents (warning reasons, disconnection
// history, anti-cheating events) live in JSON columns; counters are plain
// integer columns so increments stay monotonic SQL updates.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS exams (
	id                 TEXT PRIMARY KEY,
	title              TEXT NOT NULL,
	host_id            TEXT NOT NULL,
	max_warnings       INTEGER NOT NULL,
	auto_disqualify    INTEGER NOT NULL,
	require_monitoring INTEGER NOT NULL,
	created_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS candidates (
	exam_id                  TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	user_id                  TEXT NOT NULL,
	status                   TEXT NOT NULL,
	warnings                 INTEGER NOT NULL DEFAULT 0,
	warning_reasons          TEXT NOT NULL DEFAULT '[]',
	monitoring_enabled       INTEGER NOT NULL DEFAULT 0,
	monitoring_warning_count INTEGER NOT NULL DEFAULT 0,
	last_warning_time        DATETIME,
	disconnections           TEXT NOT NULL DEFAULT '[]',
	anti_cheating_events     TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (exam_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_candidates_exam ON candidates(exam_id);
CREATE INDEX IF NOT EXISTS idx_candidates_status ON candidates(exam_id, status);
`

// SQLite pragmas: WAL enables concurrent reads alongside the single-writer
// loop, busy_timeout covers write coordination during checkpoints.
var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// SQLiteConfig holds storage settings for the exam store.
type SQLiteConfig struct {
	Path            string        `json:"path" mapstructure:"path"`
	MaxConnections  int           `json:"max_connections" mapstructure:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// SQLiteStore is the production Store. All mutations funnel through a
// single-writer goroutine: SQLite performs best with one writer, and the
// serialization guarantees that concurrent warning/disconnection updates to
// the same exam compose instead of overwriting each other.
type SQLiteStore struct {
	db      *sql.DB
	log     *zap.Logger
	writeCh chan writeOp
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

type writeOp struct {
	run    func(db *sql.DB) error
	result chan error
}

// NewSQLiteStore opens the database, applies pragmas and schema, and starts
// the write loop.
func NewSQLiteStore(cfg SQLiteConfig, log *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open exam database: %w", err)
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	for _, pragma := range sqlitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply exam schema: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		log:     log,
		writeCh: make(chan writeOp, 100),
		done:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

func (s *SQLiteStore) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeCh:
			err := op.run(s.db)
			if err != nil {
				s.log.Warn("exam store write failed, retrying once", zap.Error(err))
				time.Sleep(5 * time.Second)
				err = op.run(s.db)
				if err != nil {
					s.log.Error("exam store write failed after retry", zap.Error(err))
				}
			}
			op.result <- err

		case <-s.done:
			return
		}
	}
}

func (s *SQLiteStore) executeWrite(run func(db *sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeCh <- writeOp{run: run, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("exam store write timeout")
	case <-s.done:
		return ErrStoreClosed
	}
}

// CreateExam persists the aggregate atomically: exam row plus one candidate
// row per registered taker.
func (s *SQLiteStore) CreateExam(ctx context.Context, e *Exam) error {
	e.Settings.applyDefaults()
	for i := range e.Candidates {
		if e.Candidates[i].Status == "" {
			e.Candidates[i].Status = "pending"
		}
	}

	return s.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO exams (id, title, host_id, max_warnings, auto_disqualify, require_monitoring, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Title, e.HostID,
			e.Settings.MaxWarnings,
			e.Settings.AutoDisqualifyOnMaxWarnings,
			e.Settings.RequireVideoMonitoring,
			now(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert exam: %w", err)
		}

		for i := range e.Candidates {
			c := &e.Candidates[i]
			reasons, err := json.Marshal(emptyIfNilStrings(c.WarningReasons))
			if err != nil {
				return fmt.Errorf("failed to marshal warning reasons: %w", err)
			}
			disconnections, err := json.Marshal(emptyIfNilDisconnections(c.VideoMonitoring.Disconnections))
			if err != nil {
				return fmt.Errorf("failed to marshal disconnections: %w", err)
			}
			activity, err := json.Marshal(emptyIfNilActivity(c.AntiCheatingEvents))
			if err != nil {
				return fmt.Errorf("failed to marshal anti-cheating events: %w", err)
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO candidates (exam_id, user_id, status, warnings, warning_reasons,
					monitoring_enabled, monitoring_warning_count, last_warning_time,
					disconnections, anti_cheating_events)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				e.ID, c.UserID, c.Status, c.Warnings, string(reasons),
				c.VideoMonitoring.IsEnabled, c.VideoMonitoring.WarningCount,
				c.VideoMonitoring.LastWarningTime,
				string(disconnections), string(activity),
			)
			if err != nil {
				return fmt.Errorf("failed to insert candidate %s: %w", c.UserID, err)
			}
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit exam creation: %w", err)
		}
		return nil
	})
}

// FindByID loads the exam and all candidate rows. Reads bypass the write
// loop; WAL mode keeps them concurrent with writes.
func (s *SQLiteStore) FindByID(ctx context.Context, examID string) (*Exam, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, host_id, max_warnings, auto_disqualify, require_monitoring
		FROM exams WHERE id = ?`, examID)

	var e Exam
	err := row.Scan(&e.ID, &e.Title, &e.HostID,
		&e.Settings.MaxWarnings,
		&e.Settings.AutoDisqualifyOnMaxWarnings,
		&e.Settings.RequireVideoMonitoring,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query exam: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, status, warnings, warning_reasons, monitoring_enabled,
			monitoring_warning_count, last_warning_time, disconnections, anti_cheating_events
		FROM candidates WHERE exam_id = ? ORDER BY rowid`, examID)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			c                  Candidate
			reasonsJSON        string
			disconnectionsJSON string
			activityJSON       string
			lastWarning        sql.NullTime
		)
		err := rows.Scan(&c.UserID, &c.Status, &c.Warnings, &reasonsJSON,
			&c.VideoMonitoring.IsEnabled, &c.VideoMonitoring.WarningCount,
			&lastWarning, &disconnectionsJSON, &activityJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate row: %w", err)
		}

		if err := json.Unmarshal([]byte(reasonsJSON), &c.WarningReasons); err != nil {
			return nil, fmt.Errorf("failed to unmarshal warning reasons: %w", err)
		}
		if err := json.Unmarshal([]byte(disconnectionsJSON), &c.VideoMonitoring.Disconnections); err != nil {
			return nil, fmt.Errorf("failed to unmarshal disconnections: %w", err)
		}
		if err := json.Unmarshal([]byte(activityJSON), &c.AntiCheatingEvents); err != nil {
			return nil, fmt.Errorf("failed to unmarshal anti-cheating events: %w", err)
		}
		if lastWarning.Valid {
			t := lastWarning.Time
			c.VideoMonitoring.LastWarningTime = &t
		}

		e.Candidates = append(e.Candidates, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidate rows: %w", err)
	}

	return &e, nil
}

// RecordWarning bumps both warning counters, appends the reason and stamps
// the warning time in one transaction, returning the new durable count.
func (s *SQLiteStore) RecordWarning(ctx context.Context, examID, userID, reason string) (int, error) {
	var count int
	err := s.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var reasonsJSON string
		err = tx.QueryRowContext(ctx,
			`SELECT warning_reasons FROM candidates WHERE exam_id = ? AND user_id = ?`,
			examID, userID).Scan(&reasonsJSON)
		if err != nil {
			if err == sql.ErrNoRows {
				return ErrCandidateNotFound
			}
			return fmt.Errorf("failed to load warning reasons: %w", err)
		}

		var reasons []string
		if err := json.Unmarshal([]byte(reasonsJSON), &reasons); err != nil {
			return fmt.Errorf("failed to unmarshal warning reasons: %w", err)
		}
		reasons = append(reasons, reason)
		updated, err := json.Marshal(reasons)
		if err != nil {
			return fmt.Errorf("failed to marshal warning reasons: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE candidates
			SET warnings = warnings + 1,
				monitoring_warning_count = monitoring_warning_count + 1,
				warning_reasons = ?,
				last_warning_time = ?
			WHERE exam_id = ? AND user_id = ?`,
			string(updated), now(), examID, userID)
		if err != nil {
			return fmt.Errorf("failed to record warning: %w", err)
		}

		err = tx.QueryRowContext(ctx,
			`SELECT warnings FROM candidates WHERE exam_id = ? AND user_id = ?`,
			examID, userID).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to read warning count: %w", err)
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit warning: %w", err)
		}
		return nil
	})
	return count, err
}

// RecordDisconnection appends an open entry to the disconnection history.
func (s *SQLiteStore) RecordDisconnection(ctx context.Context, examID, userID, reason string) error {
	return s.mutateDisconnections(ctx, examID, userID, func(entries []Disconnection) []Disconnection {
		return append(entries, Disconnection{StartTime: now(), Reason: reason})
	})
}

// RecordReconnection closes the most recent open disconnection entry.
func (s *SQLiteStore) RecordReconnection(ctx context.Context, examID, userID string) error {
	return s.mutateDisconnections(ctx, examID, userID, func(entries []Disconnection) []Disconnection {
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].EndTime == nil {
				t := now()
				entries[i].EndTime = &t
				break
			}
		}
		return entries
	})
}

// mutateDisconnections runs a read-modify-write of the JSON history inside
// the single-writer loop, so concurrent handlers cannot interleave.
func (s *SQLiteStore) mutateDisconnections(ctx context.Context, examID, userID string, mutate func([]Disconnection) []Disconnection) error {
	return s.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var stored string
		err = tx.QueryRowContext(ctx,
			`SELECT disconnections FROM candidates WHERE exam_id = ? AND user_id = ?`,
			examID, userID).Scan(&stored)
		if err != nil {
			if err == sql.ErrNoRows {
				return ErrCandidateNotFound
			}
			return fmt.Errorf("failed to load disconnections: %w", err)
		}

		var entries []Disconnection
		if err := json.Unmarshal([]byte(stored), &entries); err != nil {
			return fmt.Errorf("failed to unmarshal disconnections: %w", err)
		}

		updated, err := json.Marshal(emptyIfNilDisconnections(mutate(entries)))
		if err != nil {
			return fmt.Errorf("failed to marshal disconnections: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE candidates SET disconnections = ? WHERE exam_id = ? AND user_id = ?`,
			string(updated), examID, userID)
		if err != nil {
			return fmt.Errorf("failed to update disconnections: %w", err)
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit disconnection update: %w", err)
		}
		return nil
	})
}

// RecordAntiCheatingEvent appends one event to the candidate's history.
func (s *SQLiteStore) RecordAntiCheatingEvent(ctx context.Context, examID, userID string, event ActivityRecord) error {
	return s.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var stored string
		err = tx.QueryRowContext(ctx,
			`SELECT anti_cheating_events FROM candidates WHERE exam_id = ? AND user_id = ?`,
			examID, userID).Scan(&stored)
		if err != nil {
			if err == sql.ErrNoRows {
				return ErrCandidateNotFound
			}
			return fmt.Errorf("failed to load anti-cheating events: %w", err)
		}

		var events []ActivityRecord
		if err := json.Unmarshal([]byte(stored), &events); err != nil {
			return fmt.Errorf("failed to unmarshal anti-cheating events: %w", err)
		}
		events = append(events, event)

		updated, err := json.Marshal(events)
		if err != nil {
			return fmt.Errorf("failed to marshal anti-cheating events: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE candidates SET anti_cheating_events = ? WHERE exam_id = ? AND user_id = ?`,
			string(updated), examID, userID)
		if err != nil {
			return fmt.Errorf("failed to update anti-cheating events: %w", err)
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit anti-cheating event: %w", err)
		}
		return nil
	})
}

// SetCandidateStatus updates a candidate's exam status.
func (s *SQLiteStore) SetCandidateStatus(ctx context.Context, examID, userID, status string) error {
	return s.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE candidates SET status = ? WHERE exam_id = ? AND user_id = ?`,
			status, examID, userID)
		if err != nil {
			return fmt.Errorf("failed to update candidate status: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check status update: %w", err)
		}
		if affected == 0 {
			return ErrCandidateNotFound
		}
		return nil
	})
}

// Close drains the write loop and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close exam database: %w", err)
	}
	return nil
}

// JSON columns default to '[]'; keep writes symmetrical so scans never see
// the string "null".
func emptyIfNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func emptyIfNilDisconnections(v []Disconnection) []Disconnection {
	if v == nil {
		return []Disconnection{}
	}
	return v
}

func emptyIfNilActivity(v []ActivityRecord) []ActivityRecord {
	if v == nil {
		return []ActivityRecord{}
	}
	return v
}
