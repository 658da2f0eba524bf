package selection

import "github.com/tsingsx/algotest/internal/domain"

// State is threaded through every node of the Selection workflow.
type State struct {
	TaskID     string
	DatasetURL string

	LabelData         string
	LabelContentReady bool
	LabelFiles        []string
	AttemptCount      int

	Cases        []domain.TestCase
	ImageMapping map[string]string
	UpdatedCount int

	Errors []string
}

// Reduce merges a node's delta into the prior state, leaving fields the
// node didn't touch at their previous value. AttemptCount and
// LabelContentReady are always taken from the delta since nodes in the
// read-contents loop must be able to reset them each pass.
func Reduce(prev, delta State) State {
	next := prev
	if delta.DatasetURL != "" {
		next.DatasetURL = delta.DatasetURL
	}
	if delta.LabelData != "" {
		next.LabelData = delta.LabelData
	}
	next.LabelContentReady = delta.LabelContentReady
	if delta.LabelFiles != nil {
		next.LabelFiles = delta.LabelFiles
	}
	if delta.AttemptCount != 0 {
		next.AttemptCount = delta.AttemptCount
	}
	if delta.Cases != nil {
		next.Cases = delta.Cases
	}
	if delta.ImageMapping != nil {
		next.ImageMapping = delta.ImageMapping
	}
	if delta.UpdatedCount != 0 {
		next.UpdatedCount = delta.UpdatedCount
	}
	if len(delta.Errors) > 0 {
		next.Errors = append(next.Errors, delta.Errors...)
	}
	return next
}
