package execution

import (
	"context"
	"fmt"

	"github.com/tsingsx/algotest/graph"
	"github.com/tsingsx/algotest/graph/emit"
	gstore "github.com/tsingsx/algotest/graph/store"
	"github.com/tsingsx/algotest/internal/idgen"
	"github.com/tsingsx/algotest/internal/llmapi"
	"github.com/tsingsx/algotest/internal/sandbox"
	"github.com/tsingsx/algotest/internal/store"
)

// Workflow wires the five-node Execution graph. Every node but save_result
// routes by returning Route directly; save_result is the one node whose
// next hop is decided by a registered conditional edge, so the per-case
// loop is visibly a graph construct and not a function call between nodes.
type Workflow struct {
	engine *graph.Engine[State]
}

func New(cases store.CaseStore, gateway *llmapi.Gateway, controller sandbox.Controller, runStore gstore.Store[State], emitter emit.Emitter, extra ...graph.Option) (*Workflow, error) {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	opts := make([]interface{}, 0, len(extra)+1)
	opts = append(opts, graph.WithMaxSteps(4096))
	for _, o := range extra {
		opts = append(opts, o)
	}
	eng := graph.New[State](Reduce, runStore, emitter, opts...)

	nodes := map[string]graph.Node[State]{
		NodeProvisionSandbox: provisionSandboxNode(controller),
		NodeLoadCases:        loadCasesNode(cases),
		NodeParseCommand:     parseCommandNode(gateway),
		NodeExecuteCommand:   executeCommandNode(controller),
		NodeSaveResult:       saveResultNode(cases),
	}
	for id, n := range nodes {
		if err := eng.Add(id, n); err != nil {
			return nil, fmt.Errorf("execution: add %s: %w", id, err)
		}
	}
	if err := eng.StartAt(NodeProvisionSandbox); err != nil {
		return nil, fmt.Errorf("execution: start at %s: %w", NodeProvisionSandbox, err)
	}
	moreCases := func(s State) bool { return s.CurrentIndex < len(s.Cases) }
	if err := eng.Connect(NodeSaveResult, NodeParseCommand, moreCases); err != nil {
		return nil, fmt.Errorf("execution: connect %s -> %s: %w", NodeSaveResult, NodeParseCommand, err)
	}

	return &Workflow{engine: eng}, nil
}

// Request carries the per-run inputs the workflow needs beyond the task ID:
// the sandbox identity and any human-supplied fallback outputs for cases
// whose command is expected to fail without one.
type Request struct {
	TaskID         string
	ContainerName  string
	AlgorithmImage string
	DatasetURL     string
	CaseID         string
	UserOutputs    map[string]string
}

func (w *Workflow) Run(ctx context.Context, req Request) (State, error) {
	runID := idgen.New("executionrun_")
	initial := State{
		TaskID:         req.TaskID,
		ContainerName:  req.ContainerName,
		AlgorithmImage: req.AlgorithmImage,
		DatasetURL:     req.DatasetURL,
		CaseID:         req.CaseID,
		UserOutputs:    req.UserOutputs,
	}
	return w.engine.Run(ctx, runID, initial)
}
