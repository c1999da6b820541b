// Package store persists sweep outputs in SQLite. The job manager treats it
// as fire-and-forget: errors are logged upstream and never fail a job.
package store

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/sweepd/internal/database"
	"github.com/aristath/sweepd/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS sweep_runs (
	run_id       TEXT PRIMARY KEY,
	instrument   TEXT NOT NULL,
	interval     TEXT NOT NULL,
	combinations INTEGER NOT NULL,
	started_at   INTEGER NOT NULL,
	finished_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sweep_results (
	run_id          TEXT NOT NULL,
	strategy        TEXT NOT NULL,
	fast_period     INTEGER NOT NULL,
	slow_period     INTEGER NOT NULL,
	signal_period   INTEGER NOT NULL,
	composite_score REAL NOT NULL,
	excluded        INTEGER NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT '',
	metrics         BLOB,
	PRIMARY KEY (run_id, strategy, fast_period, slow_period, signal_period)
);
CREATE INDEX IF NOT EXISTS idx_sweep_results_run ON sweep_results(run_id);

CREATE TABLE IF NOT EXISTS best_selections (
	run_id                  TEXT NOT NULL,
	instrument              TEXT NOT NULL,
	strategy                TEXT NOT NULL,
	algorithm               TEXT NOT NULL,
	confidence              REAL NOT NULL,
	alternatives_considered INTEGER NOT NULL,
	winner                  BLOB NOT NULL,
	snapshot                BLOB NOT NULL,
	created_at              INTEGER NOT NULL,
	PRIMARY KEY (run_id, instrument, strategy)
);

CREATE TABLE IF NOT EXISTS robustness_reports (
	run_id     TEXT NOT NULL,
	strategy   TEXT NOT NULL,
	validated  INTEGER NOT NULL,
	report     BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (run_id, strategy)
);
`

// Store is the SQLite-backed persister for sweep runs, selections and
// robustness reports.
type Store struct {
	db *database.DB
}

// New creates the store and applies its schema.
func New(db *database.DB) (*Store, error) {
	if err := db.ExecSchema(schema); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// SaveSweepResults stores the run header and the full result set in one
// transaction. Re-saving a run replaces its results.
func (s *Store) SaveSweepResults(run domain.SweepRun, results []domain.SweepResult) error {
	tx, err := s.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin results transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO sweep_runs (run_id, instrument, interval, combinations, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			combinations = excluded.combinations,
			finished_at  = excluded.finished_at`,
		run.RunID, run.Instrument, run.Interval, run.Combinations,
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("failed to save sweep run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO sweep_results
			(run_id, strategy, fast_period, slow_period, signal_period, composite_score, excluded, error, metrics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, strategy, fast_period, slow_period, signal_period) DO UPDATE SET
			composite_score = excluded.composite_score,
			excluded        = excluded.excluded,
			error           = excluded.error,
			metrics         = excluded.metrics`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		var blob []byte
		if r.Metrics != nil {
			if blob, err = msgpack.Marshal(r.Metrics); err != nil {
				return fmt.Errorf("failed to encode metrics for %s: %w", r.Params, err)
			}
		}
		if _, err := stmt.Exec(
			r.RunID, string(r.Params.Strategy),
			r.Params.FastPeriod, r.Params.SlowPeriod, r.Params.SignalPeriod,
			r.CompositeScore, boolToInt(r.Excluded), r.Error, blob,
		); err != nil {
			return fmt.Errorf("failed to save result %s: %w", r.Params, err)
		}
	}
	return tx.Commit()
}

// SaveBestSelection upserts the consensus winner for (run, instrument,
// strategy).
func (s *Store) SaveBestSelection(sel domain.BestSelection) error {
	winner, err := msgpack.Marshal(sel.Winner)
	if err != nil {
		return fmt.Errorf("failed to encode winner: %w", err)
	}
	snapshot, err := msgpack.Marshal(sel.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = s.db.Conn().Exec(`
		INSERT INTO best_selections
			(run_id, instrument, strategy, algorithm, confidence, alternatives_considered, winner, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, instrument, strategy) DO UPDATE SET
			algorithm               = excluded.algorithm,
			confidence              = excluded.confidence,
			alternatives_considered = excluded.alternatives_considered,
			winner                  = excluded.winner,
			snapshot                = excluded.snapshot`,
		sel.RunID, sel.Instrument, string(sel.Strategy),
		sel.Algorithm.Name, sel.Confidence, sel.AlternativesConsidered,
		winner, snapshot, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save best selection: %w", err)
	}
	return nil
}

// SaveRobustnessReport upserts the validation verdict for the run's winner.
func (s *Store) SaveRobustnessReport(runID string, report domain.RobustnessReport) error {
	blob, err := msgpack.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode robustness report: %w", err)
	}

	_, err = s.db.Conn().Exec(`
		INSERT INTO robustness_reports (run_id, strategy, validated, report, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, strategy) DO UPDATE SET
			validated = excluded.validated,
			report    = excluded.report`,
		runID, string(report.Params.Strategy), boolToInt(report.Validated),
		blob, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save robustness report: %w", err)
	}
	return nil
}

// GetRun loads one run header.
func (s *Store) GetRun(runID string) (domain.SweepRun, error) {
	var run domain.SweepRun
	var started, finished int64
	err := s.db.Conn().QueryRow(`
		SELECT run_id, instrument, interval, combinations, started_at, finished_at
		FROM sweep_runs WHERE run_id = ?`, runID,
	).Scan(&run.RunID, &run.Instrument, &run.Interval, &run.Combinations, &started, &finished)
	if err != nil {
		return domain.SweepRun{}, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	run.StartedAt = time.UnixMilli(started)
	run.FinishedAt = time.UnixMilli(finished)
	return run, nil
}

// ListResults loads a run's results ordered by descending score.
func (s *Store) ListResults(runID string) ([]domain.SweepResult, error) {
	rows, err := s.db.Conn().Query(`
		SELECT run_id, strategy, fast_period, slow_period, signal_period, composite_score, excluded, error, metrics
		FROM sweep_results WHERE run_id = ?
		ORDER BY composite_score DESC, fast_period ASC, slow_period ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []domain.SweepResult
	for rows.Next() {
		var r domain.SweepResult
		var strategy string
		var excluded int
		var blob []byte
		if err := rows.Scan(&r.RunID, &strategy,
			&r.Params.FastPeriod, &r.Params.SlowPeriod, &r.Params.SignalPeriod,
			&r.CompositeScore, &excluded, &r.Error, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		r.Strategy = domain.StrategyKind(strategy)
		r.Params.Strategy = r.Strategy
		r.Excluded = excluded != 0
		if len(blob) > 0 {
			var bundle domain.MetricBundle
			if err := msgpack.Unmarshal(blob, &bundle); err != nil {
				return nil, fmt.Errorf("failed to decode metrics: %w", err)
			}
			r.Metrics = &bundle
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetBestSelection loads the stored winner for (run, strategy).
func (s *Store) GetBestSelection(runID string, strategy domain.StrategyKind) (domain.BestSelection, error) {
	var sel domain.BestSelection
	var strategyCol string
	var winner, snapshot []byte
	err := s.db.Conn().QueryRow(`
		SELECT run_id, instrument, strategy, algorithm, confidence, alternatives_considered, winner, snapshot
		FROM best_selections WHERE run_id = ? AND strategy = ?`, runID, string(strategy),
	).Scan(&sel.RunID, &sel.Instrument, &strategyCol, &sel.Algorithm.Name,
		&sel.Confidence, &sel.AlternativesConsidered, &winner, &snapshot)
	if err != nil {
		return domain.BestSelection{}, fmt.Errorf("failed to load selection for %s/%s: %w", runID, strategy, err)
	}
	sel.Strategy = domain.StrategyKind(strategyCol)
	if err := msgpack.Unmarshal(winner, &sel.Winner); err != nil {
		return domain.BestSelection{}, fmt.Errorf("failed to decode winner: %w", err)
	}
	if err := msgpack.Unmarshal(snapshot, &sel.Snapshot); err != nil {
		return domain.BestSelection{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return sel, nil
}

// GetRobustnessReport loads the stored verdict for (run, strategy).
func (s *Store) GetRobustnessReport(runID string, strategy domain.StrategyKind) (domain.RobustnessReport, error) {
	var blob []byte
	err := s.db.Conn().QueryRow(`
		SELECT report FROM robustness_reports WHERE run_id = ? AND strategy = ?`,
		runID, string(strategy),
	).Scan(&blob)
	if err != nil {
		return domain.RobustnessReport{}, fmt.Errorf("failed to load report for %s/%s: %w", runID, strategy, err)
	}
	var report domain.RobustnessReport
	if err := msgpack.Unmarshal(blob, &report); err != nil {
		return domain.RobustnessReport{}, fmt.Errorf("failed to decode report: %w", err)
	}
	return report, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
