package report

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsingsx/algotest/graph/model"
	gstore "github.com/tsingsx/algotest/graph/store"
	"github.com/tsingsx/algotest/internal/domain"
	"github.com/tsingsx/algotest/internal/llmapi"
)

type fakeCaseStore struct {
	cases   []domain.TestCase
	updated map[string]domain.TestCase
}

func newFakeCaseStore(cases []domain.TestCase) *fakeCaseStore {
	return &fakeCaseStore{cases: cases, updated: map[string]domain.TestCase{}}
}

func (f *fakeCaseStore) CreateCases(ctx context.Context, cases []domain.TestCase) error { return nil }
func (f *fakeCaseStore) GetCase(ctx context.Context, caseID string) (domain.TestCase, error) {
	for _, c := range f.cases {
		if c.CaseID == caseID {
			return c, nil
		}
	}
	return domain.TestCase{}, errors.New("not found")
}
func (f *fakeCaseStore) ListCasesByTask(ctx context.Context, taskID string) ([]domain.TestCase, error) {
	return f.cases, nil
}
func (f *fakeCaseStore) UpdateCase(ctx context.Context, c domain.TestCase) error {
	f.updated[c.CaseID] = c
	return nil
}
func (f *fakeCaseStore) UpdateCaseTestData(ctx context.Context, caseID, testData string) error {
	return nil
}

type fakeReportStore struct {
	saved domain.Report
}

func (f *fakeReportStore) UpsertReport(ctx context.Context, r domain.Report) error {
	f.saved = r
	return nil
}
func (f *fakeReportStore) GetReport(ctx context.Context, taskID string) (domain.Report, error) {
	return f.saved, nil
}

func TestWorkflow_AnalyzesAndRendersReport(t *testing.T) {
	cases := newFakeCaseStore([]domain.TestCase{
		{CaseID: "TC1", TaskID: "TASK1", Input: domain.InputData{Name: "识别车辆", Steps: "运行识别"}, ActualOutput: "检测到车辆"},
		{CaseID: "TC2", TaskID: "TASK1", Input: domain.InputData{Name: "识别行人", Steps: "运行识别"}, ActualOutput: "未检测到目标"},
	})
	reports := &fakeReportStore{}

	gateway := &llmapi.Gateway{Model: &model.MockChatModel{
		Responses: []model.ChatOut{
			{Text: `{"TC1": {"is_passed": true, "analysis": "匹配预期", "conclusion": "通过"}, "TC2": {"is_passed": false, "analysis": "未命中", "conclusion": "不通过"}}`},
			{Text: `{"TC1": {"category": "功能测试", "sub_category": "车辆识别", "standard": "应检测到车辆", "result": "通过", "note": "符合预期"}, "TC2": {"category": "功能测试", "sub_category": "行人识别", "standard": "应检测到行人", "result": "不通过", "note": "未命中目标"}}`},
		},
	}}

	wf, err := New(gateway, cases, reports, gstore.NewMemStore[State](), nil)
	require.NoError(t, err)

	final, err := wf.Run(context.Background(), Request{
		TaskID:         "TASK1",
		AlgorithmImage: "algo:latest",
		DatasetURL:     "/data/set1",
		Operator:       "tester",
		SDKVersion:     "1.0.0",
	})
	require.NoError(t, err)
	defer os.Remove(final.ArtifactPath)

	assert.Equal(t, domain.Passed, cases.updated["TC1"].IsPassed)
	assert.Equal(t, domain.Failed, cases.updated["TC2"].IsPassed)
	assert.Equal(t, 1, reports.saved.PassedCases)
	assert.Equal(t, 1, reports.saved.FailedCases)
	assert.NotEmpty(t, final.ArtifactPath)
	_, statErr := os.Stat(final.ArtifactPath)
	assert.NoError(t, statErr)
}

func TestWorkflow_MissingVerdictIsUnanalyzedNotFailed(t *testing.T) {
	cases := newFakeCaseStore([]domain.TestCase{
		{CaseID: "TC1", TaskID: "TASK1", Input: domain.InputData{Name: "识别车辆", Steps: "运行识别"}, ActualOutput: "检测到车辆", IsPassed: domain.Passed},
		{CaseID: "TC2", TaskID: "TASK1", Input: domain.InputData{Name: "识别行人", Steps: "运行识别"}, ActualOutput: "未检测到目标", IsPassed: domain.Passed},
	})
	reports := &fakeReportStore{}

	gateway := &llmapi.Gateway{Model: &model.MockChatModel{
		Responses: []model.ChatOut{
			{Text: `{"TC1": {"is_passed": true, "analysis": "匹配预期", "conclusion": "通过"}}`},
			{Text: `{"TC1": {"category": "功能测试", "sub_category": "车辆识别", "standard": "应检测到车辆", "result": "通过", "note": "符合预期"}}`},
		},
	}}

	wf, err := New(gateway, cases, reports, gstore.NewMemStore[State](), nil)
	require.NoError(t, err)

	final, err := wf.Run(context.Background(), Request{TaskID: "TASK1"})
	require.NoError(t, err)
	defer os.Remove(final.ArtifactPath)

	got := cases.updated["TC2"]
	assert.Equal(t, domain.Passed, got.IsPassed, "a case left out of the verdict map must not be marked failed")
	assert.NotEmpty(t, got.ResultAnalysis)
	assert.NotEmpty(t, final.Errors)
}

func TestWorkflow_NoCasesFails(t *testing.T) {
	cases := newFakeCaseStore(nil)
	reports := &fakeReportStore{}
	gateway := &llmapi.Gateway{Model: &model.MockChatModel{}}

	wf, err := New(gateway, cases, reports, gstore.NewMemStore[State](), nil)
	require.NoError(t, err)

	_, err = wf.Run(context.Background(), Request{TaskID: "TASK1"})
	require.Error(t, err)
}
