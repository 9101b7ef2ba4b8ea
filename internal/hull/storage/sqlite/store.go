package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ulissebordignon/voxeltrack/internal/config"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l5tracks"
	"github.com/ulissebordignon/voxeltrack/internal/monitoring"
	"github.com/ulissebordignon/voxeltrack/internal/timeutil"
	"github.com/ulissebordignon/voxeltrack/internal/version"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNoRun is returned when frames are recorded before StartRun.
var ErrNoRun = errors.New("no active run")

// Run is one registered tracking run.
type Run struct {
	RunID      string `json:"run_id"`
	StartedAt  int64  `json:"started_at"` // unix nanoseconds
	Clusters   int    `json:"clusters"`
	ConfigJSON string `json:"config_json"`
	Version    string `json:"version"`
}

// CenterRecord is one stored cluster center.
type CenterRecord struct {
	RunID    string  `json:"run_id"`
	Frame    int     `json:"frame"`
	Cluster  int     `json:"cluster"`
	Refined  bool    `json:"refined"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Occupied int     `json:"occupied"`
}

// Store persists runs and per-frame centers. It implements the pipeline's
// frame sink for the run opened last by StartRun.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock

	mu    sync.Mutex
	runID string
}

// Open opens (or creates) the track database at path and applies pending
// migrations. A nil clock uses the wall clock.
func Open(path string, clock timeutil.Clock) (*Store, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open track db: %w", err)
	}
	// Per-connection pragmas only hold on a single connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, clock: clock}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	monitoring.Logf("[TrackStore] opened %s", path)
	return s, nil
}

// MigrateUp runs all pending migrations. No-op when already current.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current schema version and dirty flag.
func (s *Store) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// DB exposes the underlying handle for read-only debug tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// StartRun registers a new run with a snapshot of tuning and makes it the
// target of subsequent RecordFrame calls.
func (s *Store) StartRun(ctx context.Context, tuning *config.TuningConfig) (*Run, error) {
	cfgJSON, err := json.Marshal(tuning)
	if err != nil {
		return nil, fmt.Errorf("marshal run config: %w", err)
	}
	run := &Run{
		RunID:      uuid.New().String(),
		StartedAt:  s.clock.Now().UnixNano(),
		Clusters:   tuning.GetClusters(),
		ConfigJSON: string(cfgJSON),
		Version:    version.String(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO hull_runs (run_id, started_at, clusters, config_json, version) VALUES (?, ?, ?, ?, ?)`,
		run.RunID, run.StartedAt, run.Clusters, run.ConfigJSON, run.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	s.mu.Lock()
	s.runID = run.RunID
	s.mu.Unlock()
	monitoring.Logf("[TrackStore] started run %s (K=%d)", run.RunID, run.Clusters)
	return run, nil
}

// CurrentRun returns the active run ID, or "" before StartRun.
func (s *Store) CurrentRun() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// RecordFrame stores every defined refined and unrefined center of res in
// one transaction.
func (s *Store) RecordFrame(ctx context.Context, res *l5tracks.FrameResult) error {
	runID := s.CurrentRun()
	if runID == "" {
		return ErrNoRun
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin frame %d: %w", res.Frame, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO hull_centers (run_id, frame, cluster, refined, x, y, occupied) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare center insert: %w", err)
	}
	defer stmt.Close()

	occupied := len(res.Occupied)
	insert := func(centers []l5tracks.Center, refined bool) error {
		for k, c := range centers {
			if !c.Defined {
				continue
			}
			if _, err := stmt.ExecContext(ctx, runID, res.Frame, k, refined, c.X, c.Y, occupied); err != nil {
				return fmt.Errorf("insert center frame %d cluster %d: %w", res.Frame, k, err)
			}
		}
		return nil
	}
	if err := insert(res.Refined, true); err != nil {
		return err
	}
	if err := insert(res.Unrefined, false); err != nil {
		return err
	}
	return tx.Commit()
}

// Runs lists every run, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, started_at, clusters, config_json, version FROM hull_runs ORDER BY started_at DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.StartedAt, &r.Clusters, &r.ConfigJSON, &r.Version); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Centers returns the stored centers of runID ordered by frame, then
// cluster, with refined before unrefined.
func (s *Store) Centers(ctx context.Context, runID string) ([]CenterRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, frame, cluster, refined, x, y, occupied
		FROM hull_centers
		WHERE run_id = ?
		ORDER BY frame, cluster, refined DESC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query centers: %w", err)
	}
	defer rows.Close()

	var out []CenterRecord
	for rows.Next() {
		var c CenterRecord
		if err := rows.Scan(&c.RunID, &c.Frame, &c.Cluster, &c.Refined, &c.X, &c.Y, &c.Occupied); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
