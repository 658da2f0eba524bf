package analysis

import (
	"context"
	"time"

	"github.com/tsingsx/algotest/graph"
	"github.com/tsingsx/algotest/internal/domain"
	"github.com/tsingsx/algotest/internal/idgen"
	"github.com/tsingsx/algotest/internal/llmapi"
	"github.com/tsingsx/algotest/internal/store"
)

// Node IDs, exported so tests and the engine wiring share one vocabulary.
const (
	NodeExtractDocument  = "extract_document"
	NodeSynthesizeCases  = "synthesize_cases"
	NodePersistCases     = "persist_cases"
)

// extractDocumentNode reads the requirement document off disk into plain
// text, the first step of original_source/agents/analysis_agent.py's
// analyze node before the LLM ever sees the document.
func extractDocumentNode(extractor DocumentExtractor) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		text, err := extractor.Extract(ctx, s.DocumentPath)
		if err != nil {
			return graph.NodeResult[State]{
				Delta: State{Errors: []string{err.Error()}},
				Err:   err,
			}
		}
		return graph.NodeResult[State]{
			Delta: State{DocumentText: text},
			Route: graph.Goto(NodeSynthesizeCases),
		}
	}
}

// synthesizeCasesNode turns the extracted text into draft test cases via
// the LLM gateway, then assigns each draft a durable case ID and the
// owning task ID so the persist node can write them as-is.
func synthesizeCasesNode(gateway *llmapi.Gateway) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		drafts, err := gateway.SynthesizeTestCases(ctx, s.DocumentText)
		if err != nil {
			return graph.NodeResult[State]{
				Delta: State{Errors: []string{err.Error()}},
				Err:   err,
			}
		}

		now := time.Now().UTC()
		cases := make([]domain.TestCase, 0, len(drafts))
		for _, d := range drafts {
			cases = append(cases, domain.TestCase{
				CaseID: idgen.New(idgen.CasePrefix),
				TaskID: s.TaskID,
				Input: domain.InputData{
					Name:    d.Name,
					Purpose: d.Purpose,
					Steps:   d.Steps,
				},
				Expected: domain.ExpectedOutput{
					ExpectedResult:   d.ExpectedResult,
					ValidationMethod: d.ValidationMethod,
				},
				SyntheticPassed: domain.Unknown,
				IsPassed:        domain.Unknown,
				Status:          domain.CasePending,
				CreatedAt:       now,
			})
		}

		return graph.NodeResult[State]{
			Delta: State{Drafts: cases},
			Route: graph.Goto(NodePersistCases),
		}
	}
}

// persistCasesNode writes the synthesized cases to durable storage, ending
// the workflow. It is the only node that touches the store, matching the
// teacher's pattern of keeping IO at the edges of a node graph.
func persistCasesNode(cases store.CaseStore) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		// An empty draft set is not an error: the task is still upserted
		// with zero cases and the workflow reaches its terminal "saved"
		// state, matching generate_test_cases' empty-list behavior.
		if len(s.Drafts) > 0 {
			if err := cases.CreateCases(ctx, s.Drafts); err != nil {
				return graph.NodeResult[State]{
					Delta: State{Errors: []string{err.Error()}},
					Err:   err,
				}
			}
		}
		return graph.NodeResult[State]{Route: graph.Stop()}
	}
}
