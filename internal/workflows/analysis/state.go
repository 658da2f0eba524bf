// Package analysis implements the Analysis workflow: turn a requirement
// document into a persisted set of test cases.
package analysis

import (
	"github.com/tsingsx/algotest/internal/domain"
)

// State is the workflow's accumulated state, threaded through every node
// via the engine's reducer.
type State struct {
	TaskID          string
	DocumentPath    string
	DocumentText    string
	RequirementText string

	Drafts []domain.TestCase

	Errors []string
}

// Reduce merges a node's delta into the prior state. Every field a node
// didn't touch is left at its prior value by convention: nodes only set
// the fields they own, and this reducer never zeroes a field the delta
// left empty, except Errors which always appends.
func Reduce(prev, delta State) State {
	next := prev
	if delta.DocumentText != "" {
		next.DocumentText = delta.DocumentText
	}
	if delta.RequirementText != "" {
		next.RequirementText = delta.RequirementText
	}
	if delta.Drafts != nil {
		next.Drafts = delta.Drafts
	}
	if len(delta.Errors) > 0 {
		next.Errors = append(next.Errors, delta.Errors...)
	}
	return next
}
