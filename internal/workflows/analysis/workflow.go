package analysis

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

// Workflow wires the three-node Analysis graph: extract the requirement
// document, synthesize cases from it, persist them. It is linear, so every
// node routes explicitly via graph.Goto/graph.Stop rather than registered
// conditional edges.
type Workflow struct {
	engine *graph.Engine[State]
}

// New builds an Analysis workflow. runStore backs the engine's own
// step-by-step checkpointing (distinct from caseStore, which is the
// application's domain persistence); a fresh gstore.NewMemStore[State]()
// is sufficient in tests and in production when checkpoint replay isn't
// needed across process restarts.
func New(extractor DocumentExtractor, gateway *llmapi.Gateway, caseStore store.CaseStore, runStore gstore.Store[State], emitter emit.Emitter, extra ...graph.Option) (*Workflow, error) {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	opts := make([]interface{}, 0, len(extra)+1)
	opts = append(opts, graph.WithMaxSteps(10))
	for _, o := range extra {
		opts = append(opts, o)
	}
	eng := graph.New[State](Reduce, runStore, emitter, opts...)

	if err := eng.Add(NodeExtractDocument, extractDocumentNode(extractor)); err != nil {
		return nil, fmt.Errorf("analysis: add %s: %w", NodeExtractDocument, err)
	}
	if err := eng.Add(NodeSynthesizeCases, synthesizeCasesNode(gateway)); err != nil {
		return nil, fmt.Errorf("analysis: add %s: %w", NodeSynthesizeCases, err)
	}
	if err := eng.Add(NodePersistCases, persistCasesNode(caseStore)); err != nil {
		return nil, fmt.Errorf("analysis: add %s: %w", NodePersistCases, err)
	}
	if err := eng.StartAt(NodeExtractDocument); err != nil {
		return nil, fmt.Errorf("analysis: start at %s: %w", NodeExtractDocument, err)
	}

	return &Workflow{engine: eng}, nil
}

// Run executes the workflow for one task's document and returns the final
// state, including any synthesized cases, on success.
func (w *Workflow) Run(ctx context.Context, taskID, documentPath string) (State, error) {
	runID := idgen.New("analysisrun_")
	initial := State{TaskID: taskID, DocumentPath: documentPath}
	return w.engine.Run(ctx, runID, initial)
}
