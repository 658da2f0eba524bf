package report

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/tsingsx/algotest/graph"
	"github.com/tsingsx/algotest/internal/domain"
	"github.com/tsingsx/algotest/internal/llmapi"
	"github.com/tsingsx/algotest/internal/store"
)

// Node IDs.
const (
	NodeAnalyzeResults  = "analyze_results"
	NodeGenerateReport  = "generate_report"
)

const reportDir = "data/report"

func errDelta(err error) graph.NodeResult[State] {
	return graph.NodeResult[State]{Delta: State{Errors: []string{err.Error()}}, Err: err}
}

// analyzeResultsNode loads the task's cases, sends every case's
// expected-vs-actual output to the model in one batched call, and persists
// the verdict, mirroring analyze_test_results. The verdict is authoritative
// over the Execution workflow's synthetic pass/fail.
func analyzeResultsNode(gateway *llmapi.Gateway, cases store.CaseStore) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		list, err := cases.ListCasesByTask(ctx, s.TaskID)
		if err != nil {
			return errDelta(fmt.Errorf("report: list cases for task %s: %w", s.TaskID, err))
		}
		if len(list) == 0 {
			return errDelta(fmt.Errorf("report: task %s has no test cases", s.TaskID))
		}

		verdicts, err := gateway.AnalyzeResults(ctx, list)
		if err != nil {
			return errDelta(fmt.Errorf("report: analyze results: %w", err))
		}

		updated := make([]domain.TestCase, len(list))
		var unanalyzed []string
		for i, c := range list {
			if v, ok := verdicts[c.CaseID]; ok {
				c.IsPassed = v.IsPassed
				c.ResultAnalysis = v.Analysis + "\n\n" + v.Conclusion
				c.Status = domain.CaseCompleted
			} else {
				// The model left this case out of its response. Record it
				// as unanalyzed rather than failed: the case keeps
				// whatever pass/fail state Execution already gave it.
				c.ResultAnalysis = "未找到分析结果"
				unanalyzed = append(unanalyzed, c.CaseID)
			}
			if err := cases.UpdateCase(ctx, c); err != nil {
				return errDelta(fmt.Errorf("report: save analysis for case %s: %w", c.CaseID, err))
			}
			updated[i] = c
		}

		var errs []string
		for _, caseID := range unanalyzed {
			errs = append(errs, fmt.Sprintf("report: case %s missing from analysis verdicts", caseID))
		}

		return graph.NodeResult[State]{
			Delta: State{Cases: updated, Errors: errs},
			Route: graph.Goto(NodeGenerateReport),
		}
	}
}

// generateReportNode asks the model to classify each analyzed case into a
// report row, renders the xlsx artifact, and upserts the task's Report
// row, mirroring generate_excel_report.
func generateReportNode(gateway *llmapi.Gateway, reports store.ReportStore) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		rows, err := gateway.BuildReportRows(ctx, s.Cases)
		if err != nil {
			return errDelta(fmt.Errorf("report: build report rows: %w", err))
		}

		path, err := renderWorkbook(s, rows)
		if err != nil {
			return errDelta(fmt.Errorf("report: render workbook: %w", err))
		}

		passed, failed := 0, 0
		for _, c := range s.Cases {
			if c.IsPassed == domain.Passed {
				passed++
			} else {
				failed++
			}
		}

		rpt := domain.Report{
			TaskID:       s.TaskID,
			Summary:      fmt.Sprintf("%d 个用例，%d 通过，%d 不通过", len(s.Cases), passed, failed),
			TotalCases:   len(s.Cases),
			PassedCases:  passed,
			FailedCases:  failed,
			ArtifactPath: path,
			Operator:     s.Operator,
			SDKVersion:   s.SDKVersion,
			CreatedAt:    time.Now().UTC(),
		}
		if err := reports.UpsertReport(ctx, rpt); err != nil {
			return errDelta(fmt.Errorf("report: upsert report for task %s: %w", s.TaskID, err))
		}

		return graph.NodeResult[State]{
			Delta: State{Rows: rows, ArtifactPath: path, Report: rpt},
			Route: graph.Stop(),
		}
	}
}

var sectionTitles = []string{
	"精度测试结果",
	"模型识别率测试分析",
	"性能测试分析",
	"兼容性测试分析",
	"规范测试分析",
}

// renderWorkbook lays out the report sheet the way generate_excel_report
// does: a merged title row, a basic-info block, one header row per test
// section, a column header row, then one colored row per case.
func renderWorkbook(s State, rows map[string]domain.ReportRow) (string, error) {
	f := excelize.NewFile()
	const sheet = "测试报告"
	f.SetSheetName(f.GetSheetName(0), sheet)

	headerFill, _ := f.NewStyle(&excelize.Style{Fill: excelize.Fill{Type: "pattern", Color: []string{"CCCCCC"}, Pattern: 1}})
	passFill, _ := f.NewStyle(&excelize.Style{Fill: excelize.Fill{Type: "pattern", Color: []string{"C6EFCE"}, Pattern: 1}})
	failFill, _ := f.NewStyle(&excelize.Style{Fill: excelize.Fill{Type: "pattern", Color: []string{"FFC7CE"}, Pattern: 1}})
	boldCenter, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}, Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"}})

	row := 1
	title := fmt.Sprintf("算法测试报告-%s", time.Now().UTC().Format("2006_01_02"))
	_ = f.MergeCell(sheet, "A1", "E1")
	_ = f.SetCellValue(sheet, "A1", title)
	_ = f.SetCellStyle(sheet, "A1", "A1", boldCenter)
	row++

	info := [][2]string{
		{"测试需求", s.SDKVersion},
		{"测试人员", s.Operator},
		{"EV_SDK镜像版本", s.AlgorithmImage},
		{"数据集", s.DatasetURL},
	}
	for _, kv := range info {
		cell := fmt.Sprintf("A%d", row)
		_ = f.SetCellValue(sheet, cell, kv[0])
		_ = f.SetCellStyle(sheet, cell, cell, headerFill)
		_ = f.MergeCell(sheet, fmt.Sprintf("B%d", row), fmt.Sprintf("E%d", row))
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), kv[1])
		row++
	}
	row++

	_ = f.SetColWidth(sheet, "A", "A", 20)
	_ = f.SetColWidth(sheet, "B", "B", 25)
	_ = f.SetColWidth(sheet, "C", "C", 40)
	_ = f.SetColWidth(sheet, "D", "D", 15)
	_ = f.SetColWidth(sheet, "E", "E", 50)

	for _, title := range sectionTitles {
		cell := fmt.Sprintf("A%d", row)
		_ = f.MergeCell(sheet, cell, fmt.Sprintf("E%d", row))
		_ = f.SetCellValue(sheet, cell, title)
		_ = f.SetCellStyle(sheet, cell, cell, boldCenter)
		row++
	}

	headers := []string{"分类", "子类", "标准", "测试结果", "备注"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, h)
		_ = f.SetCellStyle(sheet, cell, cell, boldCenter)
	}
	row++

	for _, c := range s.Cases {
		r, ok := rows[c.CaseID]
		if !ok {
			continue
		}
		values := []string{r.Category, r.SubCategory, r.Standard, r.Result, r.Note}
		style := failFill
		if r.Result == "通过" {
			style = passFill
		}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			_ = f.SetCellValue(sheet, cell, v)
			if i == 3 {
				_ = f.SetCellStyle(sheet, cell, cell, style)
			}
		}
		row++
	}

	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return "", err
	}
	path := fmt.Sprintf("%s/test_report_%s_%s.xlsx", reportDir, s.TaskID, time.Now().UTC().Format("20060102_150405"))
	if err := f.SaveAs(path); err != nil {
		return "", err
	}
	return path, nil
}
