// Package state persists analysis runs in SQLite: the graph that was built,
// its build order and the artifacts it came from. Saved runs can be listed,
// reloaded and compared later without re-reading the sources.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/leapstack-labs/hdbgraph/internal/artifact"
	"github.com/leapstack-labs/hdbgraph/internal/dag"
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("run not found")

// Run is a saved analysis.
type Run struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Label     string    `json:"label,omitempty"`
	Source    string    `json:"source,omitempty"`
	Nodes     int       `json:"nodes"`
	Edges     int       `json:"edges"`
	// LoadErrors counts the files that failed to load.
	LoadErrors int       `json:"load_errors"`
	Order      dag.Order `json:"order"`
	// Artifacts is only filled by GetRun.
	Artifacts []ArtifactRecord `json:"artifacts,omitempty"`
}

// ArtifactRecord is one loaded file of a run.
type ArtifactRecord struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// Record is the input to SaveRun.
type Record struct {
	Label      string
	Source     string
	Graph      *artifact.Graph
	Artifacts  []ArtifactRecord
	LoadErrors int
}

// Store reads and writes runs.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and migrates it.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
		dsn = "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db, logger), nil
}

// New wraps an already migrated database.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, logger: logger}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun orders rec.Graph and stores it as a new run in one transaction.
func (s *Store) SaveRun(ctx context.Context, rec Record) (*Run, error) {
	g := rec.Graph
	if g == nil {
		g = artifact.NewGraph()
	}

	run := &Run{
		ID:         uuid.New().String(),
		CreatedAt:  time.Now().UTC(),
		Label:      rec.Label,
		Source:     rec.Source,
		Nodes:      g.Len(),
		Edges:      g.EdgeCount(),
		LoadErrors: rec.LoadErrors,
		Order:      g.Order(),
	}

	sequence, err := json.Marshal(run.Order.Sequence)
	if err != nil {
		return nil, err
	}
	unresolved, err := json.Marshal(run.Order.Unresolved)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("saving run", slog.String("id", run.ID), slog.Int("nodes", run.Nodes), slog.Int("edges", run.Edges))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, label, source, node_count, edge_count, load_errors, sequence, unresolved)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.Format(timeFormat), run.Label, run.Source,
		run.Nodes, run.Edges, run.LoadErrors, string(sequence), string(unresolved),
	); err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	for i, a := range rec.Artifacts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_artifacts (run_id, position, path, type, name) VALUES (?, ?, ?, ?, ?)`,
			run.ID, i, a.Path, a.Type, a.Name,
		); err != nil {
			return nil, fmt.Errorf("failed to insert artifact %s: %w", a.Path, err)
		}
	}

	for i, n := range g.Nodes() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_nodes (run_id, position, node_id, kind) VALUES (?, ?, ?, ?)`,
			run.ID, i, n.ID, string(n.Kind),
		); err != nil {
			return nil, fmt.Errorf("failed to insert node %s: %w", n.ID, err)
		}
		for j, in := range n.Inputs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO run_edges (run_id, node_id, position, input_id) VALUES (?, ?, ?, ?)`,
				run.ID, n.ID, j, in,
			); err != nil {
				return nil, fmt.Errorf("failed to insert edge %s -> %s: %w", n.ID, in, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit run: %w", err)
	}
	return run, nil
}

// timeFormat has a fixed width so that created_at sorts as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = `id, created_at, label, source, node_count, edge_count, load_errors, sequence, unresolved`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run                  Run
		created              string
		sequence, unresolved string
	)
	if err := row.Scan(&run.ID, &created, &run.Label, &run.Source, &run.Nodes, &run.Edges,
		&run.LoadErrors, &sequence, &unresolved); err != nil {
		return nil, err
	}

	t, err := time.Parse(timeFormat, created)
	if err != nil {
		return nil, fmt.Errorf("run %s: invalid created_at %q: %w", run.ID, created, err)
	}
	run.CreatedAt = t

	if err := json.Unmarshal([]byte(sequence), &run.Order.Sequence); err != nil {
		return nil, fmt.Errorf("run %s: invalid sequence: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(unresolved), &run.Order.Unresolved); err != nil {
		return nil, fmt.Errorf("run %s: invalid unresolved list: %w", run.ID, err)
	}
	return &run, nil
}

// ListRuns returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns a run with its artifacts.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, type, name FROM run_artifacts WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get run artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var a ArtifactRecord
		if err := rows.Scan(&a.Path, &a.Type, &a.Name); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		run.Artifacts = append(run.Artifacts, a)
	}
	return run, rows.Err()
}

// LoadGraph rebuilds the graph saved with a run, preserving node order.
func (s *Store) LoadGraph(ctx context.Context, id string) (*artifact.Graph, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	inputs := make(map[string][]string)
	edgeRows, err := s.db.QueryContext(ctx,
		`SELECT node_id, input_id FROM run_edges WHERE run_id = ? ORDER BY node_id, position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load edges: %w", err)
	}
	for edgeRows.Next() {
		var node, input string
		if err := edgeRows.Scan(&node, &input); err != nil {
			_ = edgeRows.Close()
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		inputs[node] = append(inputs[node], input)
	}
	if err := edgeRows.Close(); err != nil {
		return nil, err
	}

	nodeRows, err := s.db.QueryContext(ctx,
		`SELECT node_id, kind FROM run_nodes WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load nodes: %w", err)
	}
	defer func() { _ = nodeRows.Close() }()

	g := artifact.NewGraph()
	for nodeRows.Next() {
		var nodeID, kind string
		if err := nodeRows.Scan(&nodeID, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		k, err := artifact.ParseKind(kind)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", nodeID, err)
		}
		g.Add(nodeID, k, inputs[nodeID])
	}
	return g, nodeRows.Err()
}

// DeleteRun removes a run and everything saved with it.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	s.logger.Debug("deleted run", slog.String("id", id))
	return nil
}
