package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/banshee-data/odometry.report/internal/lio"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open opens (creating if needed) the run database and applies pending
// migrations.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Run represents one odometry session.
type Run struct {
	RunID       string
	StartedAtNs int64
	EndedAtNs   *int64
	ConfigJSON  string
	Notes       string
}

// RunStore provides persistence for odometry runs and their poses.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a RunStore backed by the given database.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// CreateRun inserts a new run. An empty RunID is replaced with a fresh
// UUID.
func (s *RunStore) CreateRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAtNs == 0 {
		run.StartedAtNs = time.Now().UnixNano()
	}
	_, err := s.db.Exec(`
		INSERT INTO odometry_runs (run_id, started_at_ns, config_json, notes)
		VALUES (?, ?, ?, ?)
	`, run.RunID, run.StartedAtNs, run.ConfigJSON, run.Notes)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// EndRun stamps the run's end time.
func (s *RunStore) EndRun(runID string, endedAtNs int64) error {
	_, err := s.db.Exec(`UPDATE odometry_runs SET ended_at_ns = ? WHERE run_id = ?`, endedAtNs, runID)
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *RunStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, started_at_ns, ended_at_ns, config_json, notes
		FROM odometry_runs WHERE run_id = ?
	`, runID)
	var run Run
	var ended sql.NullInt64
	if err := row.Scan(&run.RunID, &run.StartedAtNs, &ended, &run.ConfigJSON, &run.Notes); err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if ended.Valid {
		run.EndedAtNs = &ended.Int64
	}
	return &run, nil
}

// InsertPoses appends trajectory samples to a run in one transaction.
func (s *RunStore) InsertPoses(runID string, poses []lio.PoseStamped) error {
	if len(poses) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin pose insert: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO odometry_poses (run_id, stamp, x, y, z, qx, qy, qz, qw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare pose insert: %w", err)
	}
	defer stmt.Close()
	for _, p := range poses {
		if _, err := stmt.Exec(runID, p.Stamp,
			p.Pos[0], p.Pos[1], p.Pos[2],
			p.Rot.X, p.Rot.Y, p.Rot.Z, p.Rot.W); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert pose: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pose insert: %w", err)
	}
	return nil
}

// ListPoses returns a run's trajectory ordered by stamp.
func (s *RunStore) ListPoses(runID string) ([]lio.PoseStamped, error) {
	rows, err := s.db.Query(`
		SELECT stamp, x, y, z, qx, qy, qz, qw
		FROM odometry_poses WHERE run_id = ? ORDER BY stamp
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list poses: %w", err)
	}
	defer rows.Close()

	var poses []lio.PoseStamped
	for rows.Next() {
		var p lio.PoseStamped
		if err := rows.Scan(&p.Stamp, &p.Pos[0], &p.Pos[1], &p.Pos[2],
			&p.Rot.X, &p.Rot.Y, &p.Rot.Z, &p.Rot.W); err != nil {
			return nil, fmt.Errorf("scan pose: %w", err)
		}
		poses = append(poses, p)
	}
	return poses, rows.Err()
}

// RunRecorder adapts a RunStore to the pipeline's path sink: each
// publish persists only the poses appended since the previous one.
type RunRecorder struct {
	store   *RunStore
	runID   string
	written int
}

// NewRunRecorder creates a recorder for an existing run.
func NewRunRecorder(store *RunStore, runID string) *RunRecorder {
	return &RunRecorder{store: store, runID: runID}
}

// PublishPath persists the trajectory delta.
func (r *RunRecorder) PublishPath(poses []lio.PoseStamped) {
	if len(poses) < r.written {
		// Path was cleared (idle transition or restart); start over.
		r.written = 0
	}
	if err := r.store.InsertPoses(r.runID, poses[r.written:]); err != nil {
		lio.Opsf("persist poses: %v", err)
		return
	}
	r.written = len(poses)
}
