// Package session provisions the per-run session directory and keeps a
// SQLite log of run statistics: edge batches, layout batches and their
// timing. Graphs themselves are never persisted.
package session

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/stat"
	_ "modernc.org/sqlite"

	"github.com/vanderheijden86/amba/internal/cmdrun"
)

// Session is one analysis run rooted in its own timestamped directory.
type Session struct {
	Dir        string
	IPCSocket  string
	QMPSocket  string
	SerialOut  string
	db         *sql.DB
	startedAt  time.Time
}

// New creates the session directory under dataDir and opens the run log.
// An already existing directory for this timestamp is refused: it means
// multiple amba instances are racing on the same data dir.
func New(cmd *cmdrun.Cmd, dataDir string) (*Session, error) {
	dir := filepath.Join(dataDir, time.Now().Format("2006-01-02T15:04:05"))
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("session: %s already exists; are multiple amba instances running concurrently?", dir)
	}
	if err := cmd.MkdirAll(dir); err != nil {
		return nil, fmt.Errorf("session: create %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "run-log.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("session: open run log: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: create run log schema: %w", err)
	}

	return &Session{
		Dir:       dir,
		IPCSocket: filepath.Join(dir, "amba-ipc.socket"),
		QMPSocket: filepath.Join(dir, "qmp.socket"),
		SerialOut: filepath.Join(dir, "serial.txt"),
		db:        db,
		startedAt: time.Now(),
	}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS edge_batches (
	at_ms        INTEGER NOT NULL,
	state_edges  INTEGER NOT NULL,
	block_edges  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS layout_batches (
	at_ms       INTEGER NOT NULL,
	duration_ms REAL    NOT NULL,
	converged   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS priority_signals (
	at_ms  INTEGER NOT NULL,
	states INTEGER NOT NULL
);
`

func (s *Session) sinceStartMs() int64 {
	return time.Since(s.startedAt).Milliseconds()
}

// RecordEdgeBatch logs one ingest batch.
func (s *Session) RecordEdgeBatch(stateEdges, blockEdges int) error {
	_, err := s.db.Exec(
		`INSERT INTO edge_batches (at_ms, state_edges, block_edges) VALUES (?, ?, ?)`,
		s.sinceStartMs(), stateEdges, blockEdges)
	return err
}

// RecordLayoutBatch logs one embedder pass.
func (s *Session) RecordLayoutBatch(duration time.Duration, converged bool) error {
	_, err := s.db.Exec(
		`INSERT INTO layout_batches (at_ms, duration_ms, converged) VALUES (?, ?, ?)`,
		s.sinceStartMs(), float64(duration)/float64(time.Millisecond), converged)
	return err
}

// RecordPrioritySignal logs one steering command.
func (s *Session) RecordPrioritySignal(states int) error {
	_, err := s.db.Exec(
		`INSERT INTO priority_signals (at_ms, states) VALUES (?, ?)`,
		s.sinceStartMs(), states)
	return err
}

// Summary aggregates the run log.
type Summary struct {
	EdgeBatches     int
	StateEdges      int
	BlockEdges      int
	LayoutBatches   int
	LayoutMeanMs    float64
	LayoutStddevMs  float64
	PrioritySignals int
}

// Summarize reads back the whole run log.
func (s *Session) Summarize() (Summary, error) {
	var out Summary
	row := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(state_edges), 0), COALESCE(SUM(block_edges), 0) FROM edge_batches`)
	if err := row.Scan(&out.EdgeBatches, &out.StateEdges, &out.BlockEdges); err != nil {
		return out, err
	}
	row = s.db.QueryRow(`SELECT COUNT(*) FROM priority_signals`)
	if err := row.Scan(&out.PrioritySignals); err != nil {
		return out, err
	}

	rows, err := s.db.Query(`SELECT duration_ms FROM layout_batches`)
	if err != nil {
		return out, err
	}
	defer rows.Close()
	var durations []float64
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return out, err
		}
		durations = append(durations, d)
	}
	if err := rows.Err(); err != nil {
		return out, err
	}
	out.LayoutBatches = len(durations)
	if len(durations) > 0 {
		out.LayoutMeanMs, out.LayoutStddevMs = stat.MeanStdDev(durations, nil)
	}
	return out, nil
}

// Close flushes and closes the run log.
func (s *Session) Close() error {
	return s.db.Close()
}

// String renders the summary for the end-of-run report.
func (s Summary) String() string {
	return fmt.Sprintf(
		"edge batches: %d (%d state + %d block edges)\nlayout batches: %d (%.1fms ± %.1fms)\npriority signals: %d",
		s.EdgeBatches, s.StateEdges, s.BlockEdges,
		s.LayoutBatches, s.LayoutMeanMs, s.LayoutStddevMs,
		s.PrioritySignals)
}
