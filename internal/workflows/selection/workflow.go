package selection

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

// Workflow wires the six-node Selection graph. list_labels and
// read_contents each decide their own next hop (loop, advance, or give up)
// by returning Route directly from the node, since the decision depends on
// the attempt counter the node itself just incremented; no Connect()
// predicates are needed here.
type Workflow struct {
	engine *graph.Engine[State]
}

func New(tasks store.TaskStore, cases store.CaseStore, gateway *llmapi.Gateway, controller sandbox.Controller, runStore gstore.Store[State], emitter emit.Emitter, extra ...graph.Option) (*Workflow, error) {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	opts := make([]interface{}, 0, len(extra)+1)
	opts = append(opts, graph.WithMaxSteps(20))
	for _, o := range extra {
		opts = append(opts, o)
	}
	eng := graph.New[State](Reduce, runStore, emitter, opts...)

	nodes := map[string]graph.Node[State]{
		NodeTaskInfo:     taskInfoNode(tasks),
		NodeListLabels:   listLabelsNode(gateway, controller),
		NodeReadContents: readContentsNode(controller),
		NodeGetCases:     getCasesNode(cases),
		NodeSelectImages: selectImagesNode(gateway),
		NodeUpdateStore:  updateStoreNode(cases),
	}
	for id, n := range nodes {
		if err := eng.Add(id, n); err != nil {
			return nil, fmt.Errorf("selection: add %s: %w", id, err)
		}
	}
	if err := eng.StartAt(NodeTaskInfo); err != nil {
		return nil, fmt.Errorf("selection: start at %s: %w", NodeTaskInfo, err)
	}

	return &Workflow{engine: eng}, nil
}

// Run executes the workflow for one task and returns the final state,
// including how many cases had their test data updated.
func (w *Workflow) Run(ctx context.Context, taskID string) (State, error) {
	runID := idgen.New("selectionrun_")
	return w.engine.Run(ctx, runID, State{TaskID: taskID})
}
