// Package report implements the Report workflow: analyze a task's
// completed test cases with the model, then emit an xlsx artifact
// summarizing the run.
package report

import "github.com/tsingsx/algotest/internal/domain"

// State is threaded through every node of the Report workflow.
type State struct {
	TaskID         string
	AlgorithmImage string
	DatasetURL     string
	Operator       string
	SDKVersion     string

	Cases []domain.TestCase
	Rows  map[string]domain.ReportRow

	ArtifactPath string
	Report       domain.Report

	Errors []string
}

func Reduce(prev, delta State) State {
	next := prev
	if delta.Cases != nil {
		next.Cases = delta.Cases
	}
	if delta.Rows != nil {
		next.Rows = delta.Rows
	}
	if delta.ArtifactPath != "" {
		next.ArtifactPath = delta.ArtifactPath
	}
	if delta.Report.TaskID != "" {
		next.Report = delta.Report
	}
	if len(delta.Errors) > 0 {
		next.Errors = append(next.Errors, delta.Errors...)
	}
	return next
}
