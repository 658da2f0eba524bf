package selection

import (
	"context"
	"fmt"
	"strings"

	"github.com/tsingsx/algotest/graph"
	"github.com/tsingsx/algotest/internal/domain"
	"github.com/tsingsx/algotest/internal/llmapi"
	"github.com/tsingsx/algotest/internal/sandbox"
	"github.com/tsingsx/algotest/internal/store"
)

// Node IDs.
const (
	NodeTaskInfo      = "task_info"
	NodeListLabels    = "list_labels"
	NodeReadContents  = "read_contents"
	NodeGetCases      = "get_cases"
	NodeSelectImages  = "select_images"
	NodeUpdateStore   = "update_store"
)

// MaxReadAttempts bounds the read_contents retry loop, matching the
// original's attempt_count < 3 guard.
const MaxReadAttempts = 3

const defaultImageFilename = "default.jpg"

func errDelta(err error) graph.NodeResult[State] {
	return graph.NodeResult[State]{Delta: State{Errors: []string{err.Error()}}, Err: err}
}

// taskInfoNode fetches the task's dataset location, defaulting to "/data"
// when unset, mirroring get_task_info.
func taskInfoNode(tasks store.TaskStore) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		task, err := tasks.GetTask(ctx, s.TaskID)
		if err != nil {
			return errDelta(fmt.Errorf("selection: get task %s: %w", s.TaskID, err))
		}
		datasetURL := task.DatasetLocation
		if datasetURL == "" {
			datasetURL = "/data"
		}
		return graph.NodeResult[State]{
			Delta: State{DatasetURL: datasetURL},
			Route: graph.Goto(NodeListLabels),
		}
	}
}

// listLabelsNode asks the LLM for a command strategy to discover the
// dataset's label files, runs it, and classifies the result as either full
// label content or just a file listing, mirroring list_label_files.
func listLabelsNode(gateway *llmapi.Gateway, controller sandbox.Controller) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		listing, err := controller.ListDirectory(ctx, s.DatasetURL)
		if err != nil {
			return errDelta(fmt.Errorf("selection: list dataset directory: %w", err))
		}

		plan, err := gateway.AnalyzeLabels(ctx, listing.FullOutput)
		if err != nil {
			return errDelta(fmt.Errorf("selection: analyze labels: %w", err))
		}

		output, err := runPlan(ctx, controller, plan)
		if err != nil {
			return errDelta(fmt.Errorf("selection: run label analysis plan: %w", err))
		}

		ready := isFileContent(output)
		var files []string
		if !ready {
			files = parseLabelFiles(output)
		}
		delta := State{LabelData: output, LabelFiles: files}
		return routeOnAttempt(s.TaskID, s.AttemptCount+1, ready, delta)
	}
}

// readContentsNode reads the actual content of previously discovered label
// files by `cat`-ing their likely paths, retrying with broader `find`
// fallbacks up to MaxReadAttempts times, mirroring
// read_label_file_contents.
func readContentsNode(controller sandbox.Controller) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		files := s.LabelFiles
		if len(files) > 5 {
			files = files[:5]
		}
		if len(files) == 0 {
			return routeOnAttempt(s.TaskID, s.AttemptCount+1, false, State{})
		}

		quoted := make([]string, len(files))
		for i, f := range files {
			quoted[i] = "'" + f + "'"
		}
		findCmd := fmt.Sprintf("find %s -name %s", s.DatasetURL, strings.Join(quoted, " -o -name "))
		findRes, err := controller.ExecuteCommand(ctx, findCmd)
		if err != nil {
			return errDelta(fmt.Errorf("selection: find label files: %w", err))
		}

		var paths []string
		for _, line := range strings.Split(findRes.Stdout, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				paths = append(paths, line)
			}
		}
		if len(paths) == 0 {
			for _, f := range files {
				paths = append(paths, s.DatasetURL+"/Annotations/"+f)
			}
		}

		catCmd := fmt.Sprintf("cat %s 2>/dev/null || echo '无法读取文件'", strings.Join(paths, " "))
		catRes, err := controller.ExecuteCommand(ctx, catCmd)
		if err != nil {
			return errDelta(fmt.Errorf("selection: read label file contents: %w", err))
		}

		content := catRes.Stdout
		if len(content) < 10 || strings.Contains(content, "无法读取文件") {
			findAllRes, err := controller.ExecuteCommand(ctx, fmt.Sprintf(
				"find %s -name '*.xml' -o -name '*.json' -o -name '*.txt' | head -n 5 | xargs cat 2>/dev/null || echo '无法读取文件'", s.DatasetURL))
			if err == nil {
				content = findAllRes.Stdout
			}
		}

		ready := isFileContent(content)
		delta := State{}
		if ready {
			delta.LabelData = content
		}
		return routeOnAttempt(s.TaskID, s.AttemptCount+1, ready, delta)
	}
}

// routeOnAttempt applies the read_contents loop's termination rule: move on
// once content is ready, give up after MaxReadAttempts, otherwise loop.
func routeOnAttempt(taskID string, attempt int, ready bool, delta State) graph.NodeResult[State] {
	delta.AttemptCount = attempt
	delta.LabelContentReady = ready

	switch {
	case ready:
		return graph.NodeResult[State]{Delta: delta, Route: graph.Goto(NodeGetCases)}
	case attempt < MaxReadAttempts:
		return graph.NodeResult[State]{Delta: delta, Route: graph.Goto(NodeReadContents)}
	default:
		err := fmt.Errorf("selection: could not obtain label file content for task %s after %d attempts", taskID, attempt)
		delta.Errors = []string{err.Error()}
		return graph.NodeResult[State]{Delta: delta, Route: graph.Stop(), Err: err}
	}
}

// getCasesNode loads the task's test cases, the input select_test_images
// needs to pick one image per case.
func getCasesNode(cases store.CaseStore) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		list, err := cases.ListCasesByTask(ctx, s.TaskID)
		if err != nil {
			return errDelta(fmt.Errorf("selection: list cases for task %s: %w", s.TaskID, err))
		}
		if len(list) == 0 {
			return errDelta(fmt.Errorf("selection: task %s has no test cases", s.TaskID))
		}
		return graph.NodeResult[State]{
			Delta: State{Cases: list},
			Route: graph.Goto(NodeSelectImages),
		}
	}
}

// selectImagesNode organizes the label content by filename and asks the LLM
// to map each case to a sample image, mirroring select_test_images_node.
func selectImagesNode(gateway *llmapi.Gateway) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		organized := organizeLabelContent(s.LabelData)

		descriptions := make(map[string]string, len(s.Cases))
		for _, c := range s.Cases {
			descriptions[c.CaseID] = c.Input.Name + ": " + c.Input.Purpose
		}

		mapping, err := gateway.SelectTestImages(ctx, descriptions, organized)
		if err != nil {
			mapping = nil
		}
		if mapping == nil {
			mapping = make(map[string]string, len(s.Cases))
		}
		for _, c := range s.Cases {
			if _, ok := mapping[c.CaseID]; !ok {
				mapping[c.CaseID] = defaultImageFilename
			}
		}

		return graph.NodeResult[State]{
			Delta: State{ImageMapping: mapping},
			Route: graph.Goto(NodeUpdateStore),
		}
	}
}

// updateStoreNode writes the chosen image path to each case's test_data
// field, mirroring update_database.
func updateStoreNode(cases store.CaseStore) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		if len(s.ImageMapping) == 0 {
			return errDelta(fmt.Errorf("selection: no image mapping to persist for task %s", s.TaskID))
		}

		updated := 0
		for caseID, filename := range s.ImageMapping {
			if !hasImageExt(filename) {
				filename += ".jpg"
			}
			testData := "data/Images/" + filename
			if err := cases.UpdateCaseTestData(ctx, caseID, testData); err != nil {
				return errDelta(fmt.Errorf("selection: update test data for case %s: %w", caseID, err))
			}
			updated++
		}

		return graph.NodeResult[State]{
			Delta: State{UpdatedCount: updated},
			Route: graph.Stop(),
		}
	}
}

func hasImageExt(filename string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".bmp"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// runPlan executes every strategy in a command plan sequentially and
// returns the concatenated stdout, giving the LLM-chosen tool a uniform
// single-string result regardless of how many strategies it proposed.
func runPlan(ctx context.Context, controller sandbox.Controller, plan domain.CommandPlan) (string, error) {
	var sb strings.Builder
	for _, strat := range plan.Strategies {
		res, err := runStrategy(ctx, controller, strat)
		if err != nil {
			return "", err
		}
		sb.WriteString(res.Stdout)
		sb.WriteString("\n")
	}
	return sb.String(), nil
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
		return sandbox.ExecResult{}, fmt.Errorf("selection: unrecognized tool %q", strat.Tool)
	}
}
