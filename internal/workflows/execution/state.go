// Package execution implements the Execution workflow: provision a sandbox
// container for the task's algorithm image, then run every test case's
// steps against it in order, recording each case's actual output.
package execution

import "github.com/tsingsx/algotest/internal/domain"

// State is threaded through every node of the Execution workflow.
type State struct {
	TaskID         string
	ContainerName  string
	AlgorithmImage string
	DatasetURL     string

	// CaseID restricts the run to a single case when set, matching the
	// HTTP façade's optional case_id parameter on /execute.
	CaseID string

	// UserOutputs maps case_id to a human-supplied command output, used as
	// a fallback when the sandbox command itself fails (the original
	// service's "user_output" override).
	UserOutputs map[string]string

	Cases        []domain.TestCase
	CurrentIndex int

	CommandPlan domain.CommandPlan
	ExecSuccess bool
	ExecOutput  string
	ExecStderr  string

	// ExecErrCause holds a short description of what went wrong when
	// ExecSuccess is false, empty otherwise.
	ExecErrCause string

	// ExecDurationMS is the wall-clock time the sandbox call took, in
	// milliseconds, measured around the executeCommandNode call.
	ExecDurationMS int64

	CompletedCases int
	Errors         []string
}

// CurrentCase returns the case currently being processed, or the zero
// value if the index is out of range.
func (s State) CurrentCase() (domain.TestCase, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Cases) {
		return domain.TestCase{}, false
	}
	return s.Cases[s.CurrentIndex], true
}

// Reduce merges a node's delta into the prior state. CurrentIndex,
// ExecSuccess and ExecOutput belong to the parse/execute/save loop and are
// always taken verbatim from the delta: each node in that loop explicitly
// carries forward whatever value it doesn't intend to change, which keeps
// save_result's per-case advance a pure state transition rather than a
// recursive call into another node.
func Reduce(prev, delta State) State {
	next := prev
	if delta.ContainerName != "" {
		next.ContainerName = delta.ContainerName
	}
	if delta.CaseID != "" {
		next.CaseID = delta.CaseID
	}
	if delta.Cases != nil {
		next.Cases = delta.Cases
	}
	if delta.CommandPlan.Strategies != nil {
		next.CommandPlan = delta.CommandPlan
	}
	next.CurrentIndex = delta.CurrentIndex
	next.ExecSuccess = delta.ExecSuccess
	next.ExecOutput = delta.ExecOutput
	next.ExecStderr = delta.ExecStderr
	next.ExecErrCause = delta.ExecErrCause
	next.ExecDurationMS = delta.ExecDurationMS
	if delta.CompletedCases != 0 {
		next.CompletedCases = delta.CompletedCases
	}
	if len(delta.Errors) > 0 {
		next.Errors = append(next.Errors, delta.Errors...)
	}
	return next
}
