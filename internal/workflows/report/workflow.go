package report

import (
	"context"
	"fmt"

	"github.com/tsingsx/algotest/graph"
	"github.com/tsingsx/algotest/graph/emit"
	gstore "github.com/tsingsx/algotest/graph/store"
	"github.com/tsingsx/algotest/internal/idgen"
	"github.com/tsingsx/algotest/internal/llmapi"
	"github.com/tsingsx/algotest/internal/store"
)

// Workflow wires the two-node Report graph: analyze every case, then
// render and persist the xlsx artifact.
type Workflow struct {
	engine *graph.Engine[State]
}

func New(gateway *llmapi.Gateway, cases store.CaseStore, reports store.ReportStore, runStore gstore.Store[State], emitter emit.Emitter, extra ...graph.Option) (*Workflow, error) {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	opts := make([]interface{}, 0, len(extra)+1)
	opts = append(opts, graph.WithMaxSteps(10))
	for _, o := range extra {
		opts = append(opts, o)
	}
	eng := graph.New[State](Reduce, runStore, emitter, opts...)
	if err := eng.Add(NodeAnalyzeResults, analyzeResultsNode(gateway, cases)); err != nil {
		return nil, fmt.Errorf("report: add %s: %w", NodeAnalyzeResults, err)
	}
	if err := eng.Add(NodeGenerateReport, generateReportNode(gateway, reports)); err != nil {
		return nil, fmt.Errorf("report: add %s: %w", NodeGenerateReport, err)
	}
	if err := eng.StartAt(NodeAnalyzeResults); err != nil {
		return nil, fmt.Errorf("report: start at %s: %w", NodeAnalyzeResults, err)
	}
	return &Workflow{engine: eng}, nil
}

// Request carries the per-run inputs beyond the task ID: Operator and
// SDKVersion are optional basic-info fields for the report header.
type Request struct {
	TaskID         string
	AlgorithmImage string
	DatasetURL     string
	Operator       string
	SDKVersion     string
}

func (w *Workflow) Run(ctx context.Context, req Request) (State, error) {
	runID := idgen.New("reportrun_")
	initial := State{
		TaskID:         req.TaskID,
		AlgorithmImage: req.AlgorithmImage,
		DatasetURL:     req.DatasetURL,
		Operator:       req.Operator,
		SDKVersion:     req.SDKVersion,
	}
	return w.engine.Run(ctx, runID, initial)
}
