package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/tsingsx/algotest/internal/domain"
)

// SQLStore is a database/sql-backed implementation of Store, usable with
// either MySQL (production) or SQLite (dev/test) by varying dsn's driver.
// Schema differences between the two are confined to createTables.
type SQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	driver string
}

// Open connects to driver ("mysql" or "sqlite") using dsn and provisions
// the schema if it doesn't already exist.
func Open(driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}

	if driver == "mysql" {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(10 * time.Minute)
	} else {
		// sqlite only tolerates a single writer at a time.
		db.SetMaxOpenConns(1)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", driver, err)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create tables: %w", err)
	}
	return s, nil
}

func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) createTables(ctx context.Context) error {
	autoIncrement := "BIGINT AUTO_INCREMENT PRIMARY KEY"
	jsonType := "JSON"
	engine := " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci"
	if s.driver == "sqlite" {
		autoIncrement = "INTEGER PRIMARY KEY AUTOINCREMENT"
		jsonType = "TEXT"
		engine = ""
	}

	tasksTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS tasks (
			id %s,
			task_id VARCHAR(255) NOT NULL UNIQUE,
			document_id VARCHAR(255),
			requirement_text TEXT NOT NULL,
			algorithm_image VARCHAR(255) NOT NULL,
			dataset_location VARCHAR(500),
			sandbox_name VARCHAR(255),
			document_hash VARCHAR(128),
			status VARCHAR(32) NOT NULL,
			running_workflow VARCHAR(64) NOT NULL DEFAULT '',
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		)%s`, autoIncrement, engine)

	casesTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS test_cases (
			id %s,
			case_id VARCHAR(255) NOT NULL UNIQUE,
			task_id VARCHAR(255) NOT NULL,
			document_id VARCHAR(255),
			input_data %s NOT NULL,
			expected_output %s NOT NULL,
			test_data VARCHAR(500),
			external_output TEXT,
			actual_output TEXT,
			result_analysis TEXT,
			synthetic_passed INT NOT NULL DEFAULT 0,
			is_passed INT NOT NULL DEFAULT 0,
			status VARCHAR(32) NOT NULL,
			created_at TIMESTAMP
		)%s`, autoIncrement, jsonType, jsonType, engine)

	reportsTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS reports (
			task_id VARCHAR(255) NOT NULL PRIMARY KEY,
			summary TEXT,
			total_cases INT NOT NULL DEFAULT 0,
			passed_cases INT NOT NULL DEFAULT 0,
			failed_cases INT NOT NULL DEFAULT 0,
			artifact_path VARCHAR(500),
			operator VARCHAR(255),
			sdk_version VARCHAR(255),
			created_at TIMESTAMP
		)%s`, engine)

	for _, stmt := range []string{tasksTable, casesTable, reportsTable} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	if s.driver == "sqlite" {
		if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_cases_task ON test_cases(task_id)`); err != nil {
			return err
		}
	} else {
		// MySQL lacks "CREATE INDEX IF NOT EXISTS"; ignore duplicate-key errors.
		_, _ = s.db.ExecContext(ctx, `CREATE INDEX idx_cases_task ON test_cases(task_id)`)
	}

	return nil
}

func (s *SQLStore) CreateTask(ctx context.Context, t domain.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, document_id, requirement_text, algorithm_image, dataset_location, sandbox_name, document_hash, status, running_workflow, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.DocumentID, t.RequirementText, t.AlgorithmImage, t.DatasetLocation, t.SandboxName, t.DocumentHash, string(t.Status), t.RunningWorkflow, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create task: %w", err)
	}
	return nil
}

func (s *SQLStore) GetTask(ctx context.Context, taskID string) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, document_id, requirement_text, algorithm_image, dataset_location, sandbox_name, document_hash, status, running_workflow, created_at, updated_at
		FROM tasks WHERE task_id = ?`, taskID)
	return scanTask(row)
}

func (s *SQLStore) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, document_id, requirement_text, algorithm_image, dataset_location, sandbox_name, document_hash, status, running_workflow, created_at, updated_at
		FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateTask(ctx context.Context, t domain.Task) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET document_id=?, requirement_text=?, algorithm_image=?, dataset_location=?, sandbox_name=?, document_hash=?, status=?, updated_at=?
		WHERE task_id=?`,
		t.DocumentID, t.RequirementText, t.AlgorithmImage, t.DatasetLocation, t.SandboxName, t.DocumentHash, string(t.Status), t.UpdatedAt, t.TaskID)
	if err != nil {
		return fmt.Errorf("store: update task: %w", err)
	}
	return checkAffected(res)
}

// TryMarkRunning implements the advisory single-flight marker: it only
// succeeds when running_workflow was empty, so two concurrent workflow
// starts on the same task race on this single UPDATE and exactly one wins.
func (s *SQLStore) TryMarkRunning(ctx context.Context, taskID, workflow string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET running_workflow=? WHERE task_id=? AND running_workflow=''`,
		workflow, taskID)
	if err != nil {
		return fmt.Errorf("store: mark running: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: mark running: %w", err)
	}
	if n == 0 {
		var current string
		if qerr := s.db.QueryRowContext(ctx, `SELECT running_workflow FROM tasks WHERE task_id=?`, taskID).Scan(&current); qerr == sql.ErrNoRows {
			return ErrNotFound
		}
		return ErrWorkflowAlreadyRunning
	}
	return nil
}

func (s *SQLStore) ClearRunning(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET running_workflow='' WHERE task_id=?`, taskID)
	if err != nil {
		return fmt.Errorf("store: clear running: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t          domain.Task
		documentID sql.NullString
		dataset    sql.NullString
		sandbox    sql.NullString
		docHash    sql.NullString
		status     string
	)
	err := row.Scan(&t.TaskID, &documentID, &t.RequirementText, &t.AlgorithmImage, &dataset, &sandbox, &docHash, &status, &t.RunningWorkflow, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Task{}, ErrNotFound
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("store: scan task: %w", err)
	}
	t.DocumentID = documentID.String
	t.DatasetLocation = dataset.String
	t.SandboxName = sandbox.String
	t.DocumentHash = docHash.String
	t.Status = domain.TaskStatus(status)
	return t, nil
}

func (s *SQLStore) CreateCases(ctx context.Context, cases []domain.TestCase) error {
	if len(cases) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: create cases: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO test_cases (case_id, task_id, document_id, input_data, expected_output, test_data, external_output, actual_output, result_analysis, synthetic_passed, is_passed, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: create cases: prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range cases {
		inputJSON, err := json.Marshal(c.Input)
		if err != nil {
			return fmt.Errorf("store: create cases: marshal input: %w", err)
		}
		expectedJSON, err := json.Marshal(c.Expected)
		if err != nil {
			return fmt.Errorf("store: create cases: marshal expected: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, c.CaseID, c.TaskID, c.DocumentID, inputJSON, expectedJSON, c.TestData, c.ExternalOutput, c.ActualOutput, c.ResultAnalysis, int(c.SyntheticPassed), int(c.IsPassed), string(c.Status), c.CreatedAt); err != nil {
			return fmt.Errorf("store: create cases: insert %s: %w", c.CaseID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) GetCase(ctx context.Context, caseID string) (domain.TestCase, error) {
	row := s.db.QueryRowContext(ctx, caseSelectQuery+` WHERE case_id = ?`, caseID)
	return scanCase(row)
}

func (s *SQLStore) ListCasesByTask(ctx context.Context, taskID string) ([]domain.TestCase, error) {
	rows, err := s.db.QueryContext(ctx, caseSelectQuery+` WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("store: list cases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.TestCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const caseSelectQuery = `
	SELECT case_id, task_id, document_id, input_data, expected_output, test_data, external_output, actual_output, result_analysis, synthetic_passed, is_passed, status, created_at
	FROM test_cases`

func scanCase(row rowScanner) (domain.TestCase, error) {
	var (
		c                              domain.TestCase
		documentID                     sql.NullString
		testData, extOut, actOut, note sql.NullString
		inputJSON, expectedJSON        []byte
		synthetic, passed              int
		status                         string
	)
	err := row.Scan(&c.CaseID, &c.TaskID, &documentID, &inputJSON, &expectedJSON, &testData, &extOut, &actOut, &note, &synthetic, &passed, &status, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.TestCase{}, ErrNotFound
	}
	if err != nil {
		return domain.TestCase{}, fmt.Errorf("store: scan case: %w", err)
	}
	if err := json.Unmarshal(inputJSON, &c.Input); err != nil {
		return domain.TestCase{}, fmt.Errorf("store: scan case: unmarshal input: %w", err)
	}
	if err := json.Unmarshal(expectedJSON, &c.Expected); err != nil {
		return domain.TestCase{}, fmt.Errorf("store: scan case: unmarshal expected: %w", err)
	}
	c.DocumentID = documentID.String
	c.TestData = testData.String
	c.ExternalOutput = extOut.String
	c.ActualOutput = actOut.String
	c.ResultAnalysis = note.String
	c.SyntheticPassed = domain.TriState(synthetic)
	c.IsPassed = domain.TriState(passed)
	c.Status = domain.CaseStatus(status)
	return c, nil
}

func (s *SQLStore) UpdateCase(ctx context.Context, c domain.TestCase) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE test_cases SET test_data=?, external_output=?, actual_output=?, result_analysis=?, synthetic_passed=?, is_passed=?, status=?
		WHERE case_id=?`,
		c.TestData, c.ExternalOutput, c.ActualOutput, c.ResultAnalysis, int(c.SyntheticPassed), int(c.IsPassed), string(c.Status), c.CaseID)
	if err != nil {
		return fmt.Errorf("store: update case: %w", err)
	}
	return checkAffected(res)
}

func (s *SQLStore) UpdateCaseTestData(ctx context.Context, caseID, testData string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE test_cases SET test_data=? WHERE case_id=?`, testData, caseID)
	if err != nil {
		return fmt.Errorf("store: update case test data: %w", err)
	}
	return checkAffected(res)
}

func (s *SQLStore) UpsertReport(ctx context.Context, r domain.Report) error {
	if s.driver == "sqlite" {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO reports (task_id, summary, total_cases, passed_cases, failed_cases, artifact_path, operator, sdk_version, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(task_id) DO UPDATE SET summary=excluded.summary, total_cases=excluded.total_cases,
				passed_cases=excluded.passed_cases, failed_cases=excluded.failed_cases,
				artifact_path=excluded.artifact_path, operator=excluded.operator, sdk_version=excluded.sdk_version`,
			r.TaskID, r.Summary, r.TotalCases, r.PassedCases, r.FailedCases, r.ArtifactPath, r.Operator, r.SDKVersion, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("store: upsert report: %w", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (task_id, summary, total_cases, passed_cases, failed_cases, artifact_path, operator, sdk_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE summary=VALUES(summary), total_cases=VALUES(total_cases),
			passed_cases=VALUES(passed_cases), failed_cases=VALUES(failed_cases),
			artifact_path=VALUES(artifact_path), operator=VALUES(operator), sdk_version=VALUES(sdk_version)`,
		r.TaskID, r.Summary, r.TotalCases, r.PassedCases, r.FailedCases, r.ArtifactPath, r.Operator, r.SDKVersion, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert report: %w", err)
	}
	return nil
}

func (s *SQLStore) GetReport(ctx context.Context, taskID string) (domain.Report, error) {
	var r domain.Report
	var operator, sdkVersion sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT task_id, summary, total_cases, passed_cases, failed_cases, artifact_path, operator, sdk_version, created_at
		FROM reports WHERE task_id = ?`, taskID).Scan(
		&r.TaskID, &r.Summary, &r.TotalCases, &r.PassedCases, &r.FailedCases, &r.ArtifactPath, &operator, &sdkVersion, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.Report{}, ErrNotFound
	}
	if err != nil {
		return domain.Report{}, fmt.Errorf("store: get report: %w", err)
	}
	r.Operator = operator.String
	r.SDKVersion = sdkVersion.String
	return r, nil
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DSNForDataDir builds a SQLite DSN rooted under dir, used when no explicit
// DB_DSN is configured (dev/test mode).
func DSNForDataDir(dir string) string {
	path := strings.TrimSuffix(dir, "/") + "/algotest.db"
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}
