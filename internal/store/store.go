// Package store persists Tasks, TestCases, and Reports. It mirrors the
// graph/store package's raw database/sql style (connection pooling,
// explicit schema creation, no ORM) but speaks the domain's own tables
// rather than workflow checkpoints.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a lookup by ID matches no row.
var ErrNotFound = errors.New("store: not found")

// ErrWorkflowAlreadyRunning is returned by TryMarkRunning when a task already
// carries an advisory running_workflow marker, implementing the decision
// that concurrent workflows on the same task are rejected rather than
// queued or merged.
var ErrWorkflowAlreadyRunning = errors.New("store: a workflow is already running for this task")

// Store is the persistence adapter every workflow and the HTTP façade use.
// A single interface (rather than one per aggregate) keeps call sites able
// to share one *sql.DB and one transaction when an operation spans tasks,
// cases, and reports together.
type Store interface {
	TaskStore
	CaseStore
	ReportStore

	Close() error
	Ping(ctx context.Context) error
}
