package store

import (
	"context"

	"github.com/tsingsx/algotest/internal/domain"
)

// TaskStore covers the Task aggregate, including the advisory
// running_workflow marker used to serialize workflows per task.
type TaskStore interface {
	CreateTask(ctx context.Context, t domain.Task) error
	GetTask(ctx context.Context, taskID string) (domain.Task, error)
	ListTasks(ctx context.Context) ([]domain.Task, error)
	UpdateTask(ctx context.Context, t domain.Task) error

	// TryMarkRunning atomically sets running_workflow if and only if it is
	// currently empty, returning ErrWorkflowAlreadyRunning otherwise.
	TryMarkRunning(ctx context.Context, taskID, workflow string) error
	// ClearRunning releases the marker regardless of its current value,
	// used in defer blocks so a crashed workflow doesn't wedge the task.
	ClearRunning(ctx context.Context, taskID string) error
}

// CaseStore covers the TestCase aggregate.
type CaseStore interface {
	CreateCases(ctx context.Context, cases []domain.TestCase) error
	GetCase(ctx context.Context, caseID string) (domain.TestCase, error)
	ListCasesByTask(ctx context.Context, taskID string) ([]domain.TestCase, error)
	UpdateCase(ctx context.Context, c domain.TestCase) error
	UpdateCaseTestData(ctx context.Context, caseID, testData string) error
}

// ReportStore covers the Report aggregate (at most one row per task).
type ReportStore interface {
	UpsertReport(ctx context.Context, r domain.Report) error
	GetReport(ctx context.Context, taskID string) (domain.Report, error)
}
