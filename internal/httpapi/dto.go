package httpapi

import "github.com/tsingsx/algotest/internal/domain"

type taskResponse struct {
	domain.Task
	Cases []domain.TestCase `json:"cases,omitempty"`
}

type updateTaskRequest struct {
	AlgorithmImage  string `json:"algorithm_image"`
	DatasetLocation string `json:"dataset_location"`
}

type executeRequest struct {
	CaseID      string            `json:"case_id,omitempty"`
	UserOutputs map[string]string `json:"user_outputs,omitempty"`
}

type reportRequest struct {
	Operator   string `json:"operator,omitempty"`
	SDKVersion string `json:"sdk_version,omitempty"`
}

type testDataRequest struct {
	TestData string `json:"test_data" binding:"required"`
}

type errorResponse struct {
	Error string `json:"error"`
}
