package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/tsingsx/algotest/graph"
	"github.com/tsingsx/algotest/internal/domain"
	"github.com/tsingsx/algotest/internal/llmapi"
	"github.com/tsingsx/algotest/internal/sandbox"
	"github.com/tsingsx/algotest/internal/store"
)

// Node IDs.
const (
	NodeProvisionSandbox = "provision_sandbox"
	NodeLoadCases        = "load_cases"
	NodeParseCommand     = "parse_command"
	NodeExecuteCommand   = "execute_command"
	NodeSaveResult       = "save_result"
)

func errDelta(s State, err error) graph.NodeResult[State] {
	return graph.NodeResult[State]{
		Delta: State{
			CurrentIndex:   s.CurrentIndex,
			ExecSuccess:    s.ExecSuccess,
			ExecOutput:     s.ExecOutput,
			ExecStderr:     s.ExecStderr,
			ExecErrCause:   s.ExecErrCause,
			ExecDurationMS: s.ExecDurationMS,
			Errors:         []string{err.Error()},
		},
		Err: err,
	}
}

// provisionSandboxNode starts the algorithm container, mirroring
// setup_docker/setup_algorithm_container.
func provisionSandboxNode(controller sandbox.Controller) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		spec := sandbox.ContainerSpec{
			ContainerName:  s.ContainerName,
			AlgorithmImage: s.AlgorithmImage,
			DatasetURL:     s.DatasetURL,
		}
		if err := controller.Provision(ctx, spec); err != nil {
			return errDelta(s, fmt.Errorf("execution: provision sandbox: %w", err))
		}
		return graph.NodeResult[State]{Route: graph.Goto(NodeLoadCases)}
	}
}

// loadCasesNode fetches the task's test cases and starts the per-case loop
// at index 0, mirroring load_test_cases.
func loadCasesNode(cases store.CaseStore) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		list, err := cases.ListCasesByTask(ctx, s.TaskID)
		if err != nil {
			return errDelta(s, fmt.Errorf("execution: list cases for task %s: %w", s.TaskID, err))
		}
		if s.CaseID != "" {
			filtered := list[:0]
			for _, c := range list {
				if c.CaseID == s.CaseID {
					filtered = append(filtered, c)
				}
			}
			list = filtered
		}
		if len(list) == 0 {
			return errDelta(s, fmt.Errorf("execution: task %s has no test cases", s.TaskID))
		}
		return graph.NodeResult[State]{
			Delta: State{Cases: list, CurrentIndex: 0},
			Route: graph.Goto(NodeParseCommand),
		}
	}
}

// parseCommandNode asks the LLM for a single command strategy to execute
// the current case's steps against its test data, mirroring parse_command.
// It reads the current case by index rather than carrying it separately in
// state, so save_result's advance never needs to duplicate case lookup.
func parseCommandNode(gateway *llmapi.Gateway) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		current, ok := s.CurrentCase()
		if !ok {
			return errDelta(s, fmt.Errorf("execution: case index %d out of range for task %s", s.CurrentIndex, s.TaskID))
		}
		plan, err := gateway.ParseStepToCommand(ctx, current.Input.Steps, current.TestData)
		if err != nil {
			return errDelta(s, fmt.Errorf("execution: parse command for case %s: %w", current.CaseID, err))
		}
		if len(plan.Strategies) > 1 {
			plan.Strategies = plan.Strategies[:1]
		}
		return graph.NodeResult[State]{
			Delta: State{CommandPlan: plan, CurrentIndex: s.CurrentIndex},
			Route: graph.Goto(NodeExecuteCommand),
		}
	}
}

// executeCommandNode runs the synthesized strategy against the sandbox,
// mirroring execute_command. An externally supplied output bypasses real
// execution entirely, and a human-supplied output is tried as a fallback
// before a failed command is recorded as a genuine failure.
func executeCommandNode(controller sandbox.Controller) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		current, ok := s.CurrentCase()
		if !ok {
			return errDelta(s, fmt.Errorf("execution: case index %d out of range for task %s", s.CurrentIndex, s.TaskID))
		}

		if current.ExternalOutput != "" {
			return graph.NodeResult[State]{
				Delta: State{CurrentIndex: s.CurrentIndex, ExecSuccess: true, ExecOutput: current.ExternalOutput},
				Route: graph.Goto(NodeSaveResult),
			}
		}

		if len(s.CommandPlan.Strategies) == 0 {
			return errDelta(s, fmt.Errorf("execution: no command strategy for case %s", current.CaseID))
		}

		started := time.Now()
		res, err := runStrategy(ctx, controller, s.CommandPlan.Strategies[0])
		durationMS := time.Since(started).Milliseconds()

		success := err == nil && res.Success
		output := res.Stdout
		stderr := res.Stderr
		errCause := ""
		if err != nil {
			output = ""
			stderr = ""
			errCause = err.Error()
		} else if !success {
			errCause = res.Stderr
			if errCause == "" {
				errCause = "command reported failure"
			}
		}

		if !success {
			if fallback, ok := s.UserOutputs[current.CaseID]; ok && fallback != "" {
				return graph.NodeResult[State]{
					Delta: State{CurrentIndex: s.CurrentIndex, ExecSuccess: true, ExecOutput: fallback, ExecDurationMS: durationMS},
					Route: graph.Goto(NodeSaveResult),
				}
			}
		}

		return graph.NodeResult[State]{
			Delta: State{
				CurrentIndex:   s.CurrentIndex,
				ExecSuccess:    success,
				ExecOutput:     output,
				ExecStderr:     stderr,
				ExecErrCause:   errCause,
				ExecDurationMS: durationMS,
			},
			Route: graph.Goto(NodeSaveResult),
		}
	}
}

// resultAnalysis builds the short human-readable summary stored alongside a
// case's actual output: success/failure, the error cause when it failed, and
// how long the sandbox call took.
func resultAnalysis(s State) string {
	if s.ExecSuccess {
		return fmt.Sprintf("执行成功，耗时 %dms", s.ExecDurationMS)
	}
	cause := s.ExecErrCause
	if cause == "" {
		cause = "未知错误"
	}
	return fmt.Sprintf("执行失败，原因: %s，耗时 %dms", cause, s.ExecDurationMS)
}

func runStrategy(ctx context.Context, controller sandbox.Controller, strat domain.CommandStrategy) (sandbox.ExecResult, error) {
	switch strat.Tool {
	case domain.ToolExecuteCommand:
		cmd, _ := strat.Parameters["command"].(string)
		return controller.ExecuteCommand(ctx, cmd)
	case domain.ToolExecuteScript:
		script, _ := strat.Parameters["script"].(string)
		return controller.ExecuteScript(ctx, script)
	case domain.ToolListDirectory:
		path, _ := strat.Parameters["path"].(string)
		return controller.ListDirectory(ctx, path)
	case domain.ToolReadFile:
		path, _ := strat.Parameters["file_path"].(string)
		if path == "" {
			path, _ = strat.Parameters["path"].(string)
		}
		return controller.ReadFile(ctx, path)
	default:
		return sandbox.ExecResult{}, fmt.Errorf("execution: unrecognized tool %q", strat.Tool)
	}
}

// saveResultNode persists the current case's outcome and advances the loop
// index, mirroring save_result. It never calls parseCommandNode or
// executeCommandNode directly: the per-case loop is realized solely by the
// conditional edge save_result -> parse_command registered in workflow.go,
// which is the one behavior this workflow deliberately does not copy from
// original_source's Python (there, save_result recurses into the next case
// inline and can double-persist it).
func saveResultNode(cases store.CaseStore) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		current, ok := s.CurrentCase()
		if !ok {
			return errDelta(s, fmt.Errorf("execution: case index %d out of range for task %s", s.CurrentIndex, s.TaskID))
		}

		current.ActualOutput = s.ExecOutput
		if s.ExecStderr != "" {
			current.ActualOutput += "\n\nSTDERR:\n" + s.ExecStderr
		}
		current.Status = domain.CaseCompleted
		if s.ExecSuccess {
			current.SyntheticPassed = domain.Passed
		} else {
			current.SyntheticPassed = domain.Failed
			current.Status = domain.CaseFailed
		}
		current.IsPassed = current.SyntheticPassed
		current.ResultAnalysis = resultAnalysis(s)

		if err := cases.UpdateCase(ctx, current); err != nil {
			return errDelta(s, fmt.Errorf("execution: save result for case %s: %w", current.CaseID, err))
		}

		nextIndex := s.CurrentIndex + 1
		completed := s.CompletedCases + 1
		delta := State{CurrentIndex: nextIndex, CompletedCases: completed}

		if nextIndex >= len(s.Cases) {
			return graph.NodeResult[State]{Delta: delta, Route: graph.Stop()}
		}
		// Leave Route unset: the engine falls through to the registered
		// conditional edge, which routes back to parse_command.
		return graph.NodeResult[State]{Delta: delta}
	}
}
