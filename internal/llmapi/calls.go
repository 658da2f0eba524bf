package llmapi

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tsingsx/algotest/graph/model"
	"github.com/tsingsx/algotest/internal/domain"
)

// TestCaseDraft is the Analysis workflow's LLM output shape before it gets
// a synthesized case_id and is persisted.
type TestCaseDraft struct {
	Name             string
	Purpose          string
	Steps            string
	ExpectedResult   string
	ValidationMethod string
}

var caseHeaderPattern = regexp.MustCompile(`(?s)##\s*测试用例\d+：(.*?)(?:##|$)`)

// SynthesizeTestCases turns extracted requirement-document text into a set
// of test case drafts. The prompt asks for "## 测试用例N：name" headers
// followed by 目的/步骤/预期结果/验证方法 fields, matching the parser
// below; if the model doesn't comply with the header format the
// line-oriented fallback parser takes over, just as the original service's
// generate_test_cases node does.
func (g *Gateway) SynthesizeTestCases(ctx context.Context, documentText string) ([]TestCaseDraft, error) {
	prompt := fmt.Sprintf(`根据以下需求文档，生成覆盖主要功能点的测试用例列表。
每个用例请按如下格式输出：
## 测试用例N：[用例名称]
测试目的：...
测试步骤：...
预期结果：...
验证方法：...

需求文档：
%s`, documentText)

	out, err := g.Model.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: prompt}}, nil)
	if err != nil {
		return nil, fmt.Errorf("llmapi: synthesize test cases: %w", err)
	}

	drafts := parseCaseHeaders(out.Text)
	if len(drafts) == 0 {
		drafts = parseCaseLinesFallback(out.Text)
	}
	// A model response with no parseable cases is not an error: the task
	// still gets created with zero cases, matching generate_test_cases'
	// empty-list behavior rather than failing the workflow.
	return drafts, nil
}

func parseCaseHeaders(text string) []TestCaseDraft {
	var drafts []TestCaseDraft
	for pos := 0; pos < len(text); {
		m := caseHeaderPattern.FindStringSubmatchIndex(text[pos:])
		if m == nil {
			break
		}
		block := text[pos+m[2] : pos+m[3]]
		// A match ends on the "##" that opens the next case's header;
		// resume the search there so that case is not skipped.
		next := pos + m[1]
		if strings.HasSuffix(text[:next], "##") {
			next -= 2
		}
		pos = next
		drafts = append(drafts, TestCaseDraft{
			Name:             strings.TrimSpace(firstLine(block)),
			Purpose:          extractField(block, "测试目的"),
			Steps:            extractField(block, "测试步骤"),
			ExpectedResult:   extractField(block, "预期结果"),
			ValidationMethod: extractField(block, "验证方法"),
		})
	}
	return drafts
}

// parseCaseLinesFallback handles models that ignore the header format and
// instead emit one case per line or paragraph; it takes whatever
// non-empty lines remain and treats each as a minimal case with only a
// name, leaving the rest for a human or a later LLM pass to refine.
func parseCaseLinesFallback(text string) []TestCaseDraft {
	var drafts []TestCaseDraft
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		drafts = append(drafts, TestCaseDraft{Name: line})
	}
	return drafts
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func extractField(block, label string) string {
	idx := strings.Index(block, label)
	if idx < 0 {
		return ""
	}
	rest := block[idx+len(label):]
	rest = strings.TrimPrefix(strings.TrimSpace(rest), "：")
	rest = strings.TrimPrefix(rest, ":")
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		return strings.TrimSpace(rest[:i])
	}
	return strings.TrimSpace(rest)
}

// ParseStepToCommand asks the model to translate a case's natural-language
// steps text into an ordered list of sandbox command strategies.
func (g *Gateway) ParseStepToCommand(ctx context.Context, steps, testDataPath string) (domain.CommandPlan, error) {
	prompt := fmt.Sprintf(`将以下测试步骤转换为可在容器内执行的命令策略列表，以JSON返回：
{"strategies": [{"tool": "execute_command"|"execute_script"|"list_directory"|"read_file", "parameters": {...}}]}

测试步骤：
%s

测试数据路径：%s`, steps, testDataPath)

	out, err := g.Model.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: prompt}}, nil)
	if err != nil {
		return domain.CommandPlan{}, fmt.Errorf("llmapi: parse step to command: %w", err)
	}
	raw, err := ExtractJSON(out.Text)
	if err != nil {
		return domain.CommandPlan{}, fmt.Errorf("llmapi: parse step to command: %w", err)
	}
	return domain.DecodeCommandPlan(raw)
}

// AnalyzeLabels asks the model to choose a shell strategy for discovering
// and reading a dataset's label files, given a directory listing.
func (g *Gateway) AnalyzeLabels(ctx context.Context, datasetListing string) (domain.CommandPlan, error) {
	prompt := fmt.Sprintf(`以下是数据集目录的列表，请给出查找并读取标注文件（.xml/.json/.txt）内容的命令策略，以JSON返回：
{"strategies": [{"tool": "execute_command"|"execute_script", "parameters": {...}}]}

目录列表：
%s`, datasetListing)

	out, err := g.Model.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: prompt}}, nil)
	if err != nil {
		return domain.CommandPlan{}, fmt.Errorf("llmapi: analyze labels: %w", err)
	}
	raw, err := ExtractJSON(out.Text)
	if err != nil {
		return domain.CommandPlan{}, fmt.Errorf("llmapi: analyze labels: %w", err)
	}
	return domain.DecodeCommandPlan(raw)
}

// SelectTestImages asks the model to map each case_id to a sample image
// filename, given the organized label content. Callers should fall back
// to a default filename for every case_id missing from the result, the
// same degraded behavior the original service used.
func (g *Gateway) SelectTestImages(ctx context.Context, caseDescriptions map[string]string, labelContent string) (map[string]string, error) {
	var sb strings.Builder
	for id, desc := range caseDescriptions {
		fmt.Fprintf(&sb, "- %s: %s\n", id, desc)
	}

	prompt := fmt.Sprintf(`根据以下测试用例描述和标注内容，为每个用例选择一个合适的样本图片文件名，以JSON返回：{"case_id": "filename.jpg", ...}

测试用例：
%s

标注内容：
%s`, sb.String(), labelContent)

	out, err := g.Model.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: prompt}}, nil)
	if err != nil {
		return nil, fmt.Errorf("llmapi: select test images: %w", err)
	}
	raw, err := ExtractJSON(out.Text)
	if err != nil {
		return nil, fmt.Errorf("llmapi: select test images: %w", err)
	}

	var mapping map[string]string
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return nil, fmt.Errorf("llmapi: select test images: decode: %w", err)
	}
	return mapping, nil
}

// CaseVerdict is one case's scored result from AnalyzeResults.
type CaseVerdict struct {
	IsPassed   domain.TriState
	Analysis   string
	Conclusion string
}

type wireVerdict struct {
	IsPassed   bool   `json:"is_passed"`
	Analysis   string `json:"analysis"`
	Conclusion string `json:"conclusion"`
}

// AnalyzeResults sends every case's expected vs actual output to the model
// in one combined call and returns a verdict per case_id. Cases the model
// omits from its response are left out of the returned map; callers should
// treat a missing case_id as "unanalyzed" rather than failed, matching the
// original service's "未找到分析结果" behavior.
func (g *Gateway) AnalyzeResults(ctx context.Context, cases []domain.TestCase) (map[string]CaseVerdict, error) {
	var sb strings.Builder
	for _, c := range cases {
		fmt.Fprintf(&sb, "用例ID: %s\n名称: %s\n目的: %s\n测试步骤: %s\n预期结果: %s\n验证方法: %s\n实际输出: %s\n\n",
			c.CaseID, c.Input.Name, c.Input.Purpose, c.Input.Steps, c.Expected.ExpectedResult, c.Expected.ValidationMethod, c.ActualOutput)
	}

	prompt := fmt.Sprintf(`请逐一判断以下测试用例是否通过，以JSON返回：{"case_id": {"is_passed": true|false, "analysis": "...", "conclusion": "..."}}

%s`, sb.String())

	out, err := g.Model.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: prompt}}, nil)
	if err != nil {
		return nil, fmt.Errorf("llmapi: analyze results: %w", err)
	}
	raw, err := ExtractJSON(out.Text)
	if err != nil {
		return nil, fmt.Errorf("llmapi: analyze results: %w", err)
	}

	var wire map[string]wireVerdict
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("llmapi: analyze results: decode: %w", err)
	}

	verdicts := make(map[string]CaseVerdict, len(wire))
	for id, v := range wire {
		state := domain.Failed
		if v.IsPassed {
			state = domain.Passed
		}
		verdicts[id] = CaseVerdict{IsPassed: state, Analysis: v.Analysis, Conclusion: v.Conclusion}
	}
	return verdicts, nil
}

// BuildReportRows turns a task's analyzed cases into spreadsheet rows,
// asking the model to classify each case into a test category and distill
// its verdict into a standard/result/note triple, mirroring
// generate_excel_report's second model call. Cases the model omits are
// left out of the returned map.
func (g *Gateway) BuildReportRows(ctx context.Context, cases []domain.TestCase) (map[string]domain.ReportRow, error) {
	var sb strings.Builder
	for _, c := range cases {
		passState := "false"
		if c.IsPassed == domain.Passed {
			passState = "true"
		}
		fmt.Fprintf(&sb, "测试用例 %s:\n- 名称: %s\n- 步骤: %s\n- 通过状态: %s\n- 分析结果: %s\n\n",
			c.CaseID, c.Input.Name, c.Input.Steps, passState, orDefault(c.ResultAnalysis, "无分析结果"))
	}

	prompt := fmt.Sprintf(`请分析以下所有测试用例信息，为每个测试用例生成测试报告的一行数据。

%s
对每个测试用例，请生成以下字段：
- category: 测试分类（如：功能测试、性能测试、接口测试等）
- sub_category: 具体测试的参数名称（从测试步骤中提取）
- standard: 该参数的作用和测试标准
- result: 根据通过状态确定（通过/不通过）
- note: 对分析结果的简要总结

请按以下JSON格式返回，key为测试用例ID：
{"case_id": {"category": "...", "sub_category": "...", "standard": "...", "result": "通过|不通过", "note": "..."}}`, sb.String())

	out, err := g.Model.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: prompt}}, nil)
	if err != nil {
		return nil, fmt.Errorf("llmapi: build report rows: %w", err)
	}
	raw, err := ExtractJSON(out.Text)
	if err != nil {
		return nil, fmt.Errorf("llmapi: build report rows: %w", err)
	}

	var wire map[string]domain.ReportRow
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("llmapi: build report rows: decode: %w", err)
	}
	rows := make(map[string]domain.ReportRow, len(wire))
	for id, row := range wire {
		row.CaseID = id
		rows[id] = row
	}
	return rows, nil
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
