// Package report persists flow outcomes to a local SQLite database so runs
// can be compared across CLI versions.
package report

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a handle to the results database.
type Store struct {
	conn *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS flow_results (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	flow_id          TEXT NOT NULL,
	scenario         TEXT NOT NULL,
	started_at       TEXT NOT NULL,
	duration_ms      INTEGER NOT NULL,
	oauth_completed  INTEGER NOT NULL,
	state_provenance TEXT NOT NULL DEFAULT '',
	token_installed  INTEGER NOT NULL,
	saw_success      INTEGER NOT NULL,
	timed_out        INTEGER NOT NULL,
	exit_code        INTEGER NOT NULL,
	passed           INTEGER NOT NULL,
	output_tail      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_flow_results_started ON flow_results (started_at);
CREATE INDEX IF NOT EXISTS idx_flow_results_scenario ON flow_results (scenario);
`

// OpenAt opens (creating if needed) the results database at path.
func OpenAt(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{conn: conn, path: path}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Entry is one recorded flow outcome.
type Entry struct {
	ID              int64
	FlowID          string
	Scenario        string
	StartedAt       time.Time
	Duration        time.Duration
	OAuthCompleted  bool
	StateProvenance string
	TokenInstalled  bool
	SawSuccess      bool
	TimedOut        bool
	ExitCode        int
	Passed          bool
	OutputTail      string
}

// Record inserts one entry and returns it with its assigned ID.
func (s *Store) Record(e Entry) (*Entry, error) {
	if s == nil || s.conn == nil {
		return nil, fmt.Errorf("store is not open")
	}

	e.FlowID = strings.TrimSpace(e.FlowID)
	e.Scenario = strings.TrimSpace(e.Scenario)
	if e.FlowID == "" {
		return nil, fmt.Errorf("flow id is required")
	}
	if e.Scenario == "" {
		return nil, fmt.Errorf("scenario is required")
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	} else {
		e.StartedAt = e.StartedAt.UTC()
	}

	res, err := s.conn.Exec(
		`INSERT INTO flow_results (flow_id, scenario, started_at, duration_ms,
		 oauth_completed, state_provenance, token_installed, saw_success,
		 timed_out, exit_code, passed, output_tail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.FlowID,
		e.Scenario,
		formatSQLiteTime(e.StartedAt),
		e.Duration.Milliseconds(),
		boolInt(e.OAuthCompleted),
		e.StateProvenance,
		boolInt(e.TokenInstalled),
		boolInt(e.SawSuccess),
		boolInt(e.TimedOut),
		e.ExitCode,
		boolInt(e.Passed),
		e.OutputTail,
	)
	if err != nil {
		return nil, fmt.Errorf("insert flow result: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return &e, nil
}

// Recent returns the most recent entries, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if s == nil || s.conn == nil {
		return nil, fmt.Errorf("store is not open")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.conn.Query(
		`SELECT id, flow_id, scenario, started_at, duration_ms,
		        oauth_completed, state_provenance, token_installed, saw_success,
		        timed_out, exit_code, passed, output_tail
		   FROM flow_results
		  ORDER BY datetime(started_at) DESC, id DESC
		  LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query flow results: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			startedStr string
			durationMS int64
			oauth      int
			installed  int
			success    int
			timedOut   int
			passed     int
		)
		if err := rows.Scan(&e.ID, &e.FlowID, &e.Scenario, &startedStr, &durationMS,
			&oauth, &e.StateProvenance, &installed, &success,
			&timedOut, &e.ExitCode, &passed, &e.OutputTail); err != nil {
			return nil, fmt.Errorf("scan flow result: %w", err)
		}
		started, err := parseSQLiteTime(startedStr)
		if err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", startedStr, err)
		}
		e.StartedAt = started
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.OAuthCompleted = oauth != 0
		e.TokenInstalled = installed != 0
		e.SawSuccess = success != 0
		e.TimedOut = timedOut != 0
		e.Passed = passed != 0
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flow results: %w", err)
	}
	return out, nil
}

// PassRate returns pass/total counts for a scenario ("" means all).
func (s *Store) PassRate(scenario string) (passed, total int, err error) {
	if s == nil || s.conn == nil {
		return 0, 0, fmt.Errorf("store is not open")
	}

	q := `SELECT COUNT(*), COALESCE(SUM(passed), 0) FROM flow_results`
	args := []any{}
	if scenario != "" {
		q += ` WHERE scenario = ?`
		args = append(args, scenario)
	}
	if err := s.conn.QueryRow(q, args...).Scan(&total, &passed); err != nil {
		return 0, 0, fmt.Errorf("count flow results: %w", err)
	}
	return passed, total, nil
}

const sqliteTimeLayout = "2006-01-02 15:04:05"

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
