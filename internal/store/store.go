// Package store provides the run journal: stored problems, solve runs and decision
// records, on SQLite or PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/fentz26/jobshop/internal/models"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrRunNotFound indicates no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// ErrRunNotClaimed indicates a run is not in the claimed state required by the operation.
var ErrRunNotClaimed = errors.New("run is not claimed")

// Store provides access to the journal database.
type Store struct {
	db     *sql.DB
	driver string
}

// New opens a SQLite journal at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL keeps readers off the writer's back.
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	return open(db, DriverSQLite)
}

// Open opens a journal with the given driver. For sqlite the dsn is a file path.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, "":
		return New(dsn)
	case DriverPostgres:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		return open(db, DriverPostgres)
	}
	return nil, fmt.Errorf("unsupported driver %q", driver)
}

func open(db *sql.DB, driver string) (*Store, error) {
	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS problems (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			problem_id TEXT NOT NULL REFERENCES problems(id),
			status TEXT NOT NULL DEFAULT 'pending',
			params TEXT NOT NULL,
			result TEXT,
			error TEXT,
			claimed_by TEXT,
			claimed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pdr (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			inputs_hash TEXT NOT NULL,
			outcome TEXT NOT NULL,
			run_id TEXT,
			details TEXT,
			timestamp TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_problems_name ON problems(name)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_problem_id ON runs(problem_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// --- Problem Operations ---

// SaveProblem stores a problem under a new id.
func (s *Store) SaveProblem(ctx context.Context, p *models.Problem, fingerprint string) (*models.ProblemRecord, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode problem: %w", err)
	}
	rec := &models.ProblemRecord{
		ID:          uuid.New().String(),
		Name:        p.Name,
		Fingerprint: fingerprint,
		Problem:     p,
		CreatedAt:   time.Now().UTC(),
	}
	_, err = s.exec(ctx,
		`INSERT INTO problems (id, name, fingerprint, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.Fingerprint, string(body), rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert problem: %w", err)
	}
	return rec, nil
}

const problemColumns = `id, name, fingerprint, body, created_at`

func scanProblem(row interface{ Scan(...any) error }) (*models.ProblemRecord, error) {
	rec := &models.ProblemRecord{}
	var body string
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Fingerprint, &body, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Problem = &models.Problem{}
	if err := json.Unmarshal([]byte(body), rec.Problem); err != nil {
		return nil, fmt.Errorf("decode problem %s: %w", rec.ID, err)
	}
	return rec, nil
}

// GetProblem retrieves a problem by id. It returns nil when absent.
func (s *Store) GetProblem(ctx context.Context, id string) (*models.ProblemRecord, error) {
	rec, err := scanProblem(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+problemColumns+` FROM problems WHERE id = ?`), id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query problem: %w", err)
	}
	return rec, nil
}

// FindProblemByName returns the most recently stored problem with the given name.
func (s *Store) FindProblemByName(ctx context.Context, name string) (*models.ProblemRecord, error) {
	rec, err := scanProblem(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+problemColumns+` FROM problems WHERE name = ? ORDER BY created_at DESC LIMIT 1`), name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query problem: %w", err)
	}
	return rec, nil
}

// ListProblems returns every stored problem, newest first.
func (s *Store) ListProblems(ctx context.Context) ([]models.ProblemRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+problemColumns+` FROM problems ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query problems: %w", err)
	}
	defer rows.Close()

	var recs []models.ProblemRecord
	for rows.Next() {
		rec, err := scanProblem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan problem: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// --- Run Operations ---

// CreateRun queues a pending run for a stored problem.
func (s *Store) CreateRun(ctx context.Context, problemID string, params models.RunParams) (*models.Run, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	now := time.Now().UTC()
	run := &models.Run{
		ID:        uuid.New().String(),
		ProblemID: problemID,
		Status:    models.RunStatusPending,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.exec(ctx,
		`INSERT INTO runs (id, problem_id, status, params, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.ProblemID, run.Status, string(paramsJSON), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// RecordRun journals a run that was solved outside the queue, such as a CLI solve.
func (s *Store) RecordRun(ctx context.Context, problemID string, params models.RunParams, result *models.Result) (*models.Run, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	body, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	now := time.Now().UTC()
	run := &models.Run{
		ID:        uuid.New().String(),
		ProblemID: problemID,
		Status:    models.RunStatusCompleted,
		Params:    params,
		Result:    result,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.exec(ctx,
		`INSERT INTO runs (id, problem_id, status, params, result, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ProblemID, run.Status, string(paramsJSON), string(body), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

const runColumns = `id, problem_id, status, params, result, error, claimed_by, claimed_at, created_at, updated_at`

func scanRun(row interface{ Scan(...any) error }) (*models.Run, error) {
	run := &models.Run{}
	var params string
	var result, errMsg, claimedBy sql.NullString
	var claimedAt sql.NullTime
	if err := row.Scan(&run.ID, &run.ProblemID, &run.Status, &params, &result, &errMsg,
		&claimedBy, &claimedAt, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return nil, fmt.Errorf("decode params of run %s: %w", run.ID, err)
	}
	if result.Valid && result.String != "" {
		run.Result = &models.Result{}
		if err := json.Unmarshal([]byte(result.String), run.Result); err != nil {
			return nil, fmt.Errorf("decode result of run %s: %w", run.ID, err)
		}
	}
	run.Error = errMsg.String
	run.ClaimedBy = claimedBy.String
	if claimedAt.Valid {
		run.ClaimedAt = &claimedAt.Time
	}
	return run, nil
}

// GetRun retrieves a run by id. It returns nil when absent.
func (s *Store) GetRun(ctx context.Context, id string) (*models.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs, newest first, optionally filtered by status. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, status models.RunStatus, limit int) ([]models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// claimWindow bounds how many pending runs one claim inspects.
const claimWindow = 64

// AtomicClaimRun claims, in one transaction, the oldest pending run that admit accepts;
// a nil admit accepts every run. Runs admit rejects stay pending. It returns nil when no
// pending run is admitted or another worker won the race.
func (s *Store) AtomicClaimRun(ctx context.Context, workerID string, admit func(*models.Run) bool) (*models.Run, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	pick := `SELECT ` + runColumns + ` FROM runs WHERE status = ? ORDER BY created_at ASC LIMIT ?`
	if s.driver == DriverPostgres {
		pick += ` FOR UPDATE SKIP LOCKED`
	}
	rows, err := tx.QueryContext(ctx, s.rebind(pick), models.RunStatusPending, claimWindow)
	if err != nil {
		return nil, fmt.Errorf("select pending runs: %w", err)
	}
	var id string
	for rows.Next() {
		cand, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if admit == nil || admit(cand) {
			id = cand.ID
			break
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select pending runs: %w", err)
	}
	if id == "" {
		return nil, nil
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		s.rebind(`UPDATE runs SET status = ?, claimed_by = ?, claimed_at = ?, updated_at = ? WHERE id = ? AND status = ?`),
		models.RunStatusClaimed, workerID, now, now, id, models.RunStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("claim run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	run, err := scanRun(tx.QueryRowContext(ctx, s.rebind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id))
	if err != nil {
		return nil, fmt.Errorf("reload run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return run, nil
}

// CompleteRun stores the result of a claimed run.
func (s *Store) CompleteRun(ctx context.Context, id string, result *models.Result) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return s.finish(ctx, id, models.RunStatusCompleted, string(body), "")
}

// FailRun marks a claimed run as failed with a message.
func (s *Store) FailRun(ctx context.Context, id string, msg string) error {
	return s.finish(ctx, id, models.RunStatusFailed, "", msg)
}

func (s *Store) finish(ctx context.Context, id string, status models.RunStatus, result, msg string) error {
	res, err := s.exec(ctx,
		`UPDATE runs SET status = ?, result = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, result, msg, time.Now().UTC(), id, models.RunStatusClaimed,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrRunNotClaimed)
	}
	return nil
}

// ReleaseRun returns a claimed run to the queue.
func (s *Store) ReleaseRun(ctx context.Context, id string) error {
	_, err := s.exec(ctx,
		`UPDATE runs SET status = ?, claimed_by = NULL, claimed_at = NULL, updated_at = ? WHERE id = ? AND status = ?`,
		models.RunStatusPending, time.Now().UTC(), id, models.RunStatusClaimed,
	)
	return err
}

// LatestSolution returns the solution of the newest completed run of a problem that
// produced one, or nil.
func (s *Store) LatestSolution(ctx context.Context, problemID string) (*models.Solution, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+runColumns+` FROM runs WHERE problem_id = ? AND status = ? ORDER BY updated_at DESC`),
		problemID, models.RunStatusCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if run.Result != nil && run.Result.Solution != nil {
			return run.Result.Solution, nil
		}
	}
	return nil, rows.Err()
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(ctx context.Context, action, inputsHash, outcome, runID, details string) (*models.PDREntry, error) {
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		RunID:      runID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}
	_, err := s.exec(ctx,
		`INSERT INTO pdr (id, action, inputs_hash, outcome, run_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.RunID, pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDR returns decision records, newest first, optionally for one run.
func (s *Store) ListPDR(ctx context.Context, runID string, limit int) ([]models.PDREntry, error) {
	query := `SELECT id, action, inputs_hash, outcome, run_id, details, timestamp FROM pdr`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var runIDCol, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &runIDCol, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.RunID = runIDCol.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
