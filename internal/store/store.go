package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"maskfit/internal/choice"
	"maskfit/internal/experiment"
	"maskfit/internal/posterior"
	"maskfit/internal/simulate"
)

// Run is one archived fit with its settings and outcome.
type Run struct {
	ID          string          `json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	Spec        choice.Spec     `json:"spec"`
	Data        simulate.Config `json:"data"`
	Chains      int             `json:"chains"`
	Warmup      int             `json:"warmup"`
	Draws       int             `json:"draws"`
	SamplerSeed uint64          `json:"sampler_seed"`
	PriorScale  float64         `json:"prior_scale"`
	AcceptRate  float64         `json:"accept_rate"`
	Divergences int             `json:"divergences"`
	StepSize    float64         `json:"step_size"`
	MaxRHat     float64         `json:"max_rhat"`
	Elapsed     time.Duration   `json:"elapsed_ns"`

	// Params is populated by GetRun, empty in listings.
	Params []posterior.Summary `json:"params,omitempty"`
}

// timeLayout keeps a fixed-width fraction so ORDER BY created_at sorts
// chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed archive of experiment runs.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// Open opens (creating if needed) the archive at dir/maskfit.db.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	dbPath := filepath.Join(dir, "maskfit.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// SaveFit archives one fit with the settings that produced it and
// returns the new run's ID.
func (s *Store) SaveFit(ctx context.Context, st experiment.Settings, fit experiment.Fit) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := time.Now().UTC()
	id := runID(st, fit, createdAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, created_at, spec,
			data_rows, data_dim, data_items, data_seed,
			chains, warmup, draws, sampler_seed, prior_scale,
			accept_rate, divergences, step_size, max_rhat, elapsed_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, createdAt.Format(timeLayout), string(fit.Spec),
		st.Data.N, st.Data.Dim, st.Data.Items, int64(st.Data.Seed),
		st.Sampler.Chains, st.Sampler.Warmup, st.Sampler.Draws,
		int64(st.Sampler.Seed), st.PriorScale,
		fit.AcceptRate, fit.Divergences, fit.StepSize,
		nullFloat(posterior.MaxRHat(fit.Summaries)),
		fit.Elapsed.Milliseconds(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	for pos, p := range fit.Summaries {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_params (
				run_id, position, name, grp,
				truth, mean, sd, q025, q975, rhat
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, pos, p.Name, string(p.Group),
			p.Truth, p.Mean, p.SD, p.Q025, p.Q975, nullFloat(p.RHat),
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert run param: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	return id, nil
}

// ListRuns returns all archived runs, newest first, without their
// per-parameter summaries.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, spec,
			data_rows, data_dim, data_items, data_seed,
			chains, warmup, draws, sampler_seed, prior_scale,
			accept_rate, divergences, step_size, max_rhat, elapsed_ms
		FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one archived run with its per-parameter summaries.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, spec,
			data_rows, data_dim, data_items, data_seed,
			chains, warmup, draws, sampler_seed, prior_scale,
			accept_rate, divergences, step_size, max_rhat, elapsed_ms
		FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	params, err := s.db.QueryContext(ctx, `
		SELECT name, grp, truth, mean, sd, q025, q975, rhat
		FROM run_params WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run params: %w", err)
	}
	defer params.Close()

	for params.Next() {
		var p posterior.Summary
		var grp string
		var rhat sql.NullFloat64
		if err := params.Scan(&p.Name, &grp, &p.Truth, &p.Mean, &p.SD, &p.Q025, &p.Q975, &rhat); err != nil {
			return nil, fmt.Errorf("failed to scan run param: %w", err)
		}
		p.Group = choice.ParamGroup(grp)
		p.RHat = floatOrNaN(rhat)
		run.Params = append(run.Params, p)
	}
	if err := params.Err(); err != nil {
		return nil, err
	}
	return &run, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var run Run
	var createdAt, spec string
	var dataSeed, samplerSeed, elapsedMS int64
	var maxRHat sql.NullFloat64

	err := sc.Scan(
		&run.ID, &createdAt, &spec,
		&run.Data.N, &run.Data.Dim, &run.Data.Items, &dataSeed,
		&run.Chains, &run.Warmup, &run.Draws, &samplerSeed, &run.PriorScale,
		&run.AcceptRate, &run.Divergences, &run.StepSize, &maxRHat, &elapsedMS,
	)
	if err != nil {
		return Run{}, err
	}

	run.Spec = choice.Spec(spec)
	run.Data.Seed = uint64(dataSeed)
	run.SamplerSeed = uint64(samplerSeed)
	run.MaxRHat = floatOrNaN(maxRHat)
	run.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	if t, perr := time.Parse(timeLayout, createdAt); perr == nil {
		run.CreatedAt = t
	}
	return run, nil
}

// runID derives a short unique ID from the run's settings and creation
// time.
func runID(st experiment.Settings, fit experiment.Fit, createdAt time.Time) string {
	content := fmt.Sprintf("%s|%d|%d|%d|%d|%d|%d|%d|%d|%g|%d",
		fit.Spec,
		st.Data.N, st.Data.Dim, st.Data.Items, st.Data.Seed,
		st.Sampler.Chains, st.Sampler.Warmup, st.Sampler.Draws,
		st.Sampler.Seed, st.PriorScale,
		createdAt.UnixNano(),
	)
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:8]) // First 8 bytes for shorter hash
}

// nullFloat maps NaN to NULL, since SQLite has no NaN.
func nullFloat(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
