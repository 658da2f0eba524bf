package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	gstore "github.com/tsingsx/algotest/graph/store"
	"github.com/tsingsx/algotest/internal/domain"
	"github.com/tsingsx/algotest/internal/idgen"
	"github.com/tsingsx/algotest/internal/store"
	"github.com/tsingsx/algotest/internal/workflows/analysis"
	"github.com/tsingsx/algotest/internal/workflows/execution"
	"github.com/tsingsx/algotest/internal/workflows/report"
	"github.com/tsingsx/algotest/internal/workflows/selection"
)

func fail(c *gin.Context, status int, err error) {
	log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	c.JSON(status, errorResponse{Error: err.Error()})
}

func statusForStoreErr(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrWorkflowAlreadyRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// createTask accepts a multipart requirement document plus the algorithm
// image and dataset location, persists the task, and runs the Analysis
// workflow inline so the response reflects the synthesized case count.
func (s *Server) createTask(c *gin.Context) {
	header, err := c.FormFile("document")
	if err != nil {
		fail(c, http.StatusBadRequest, fmt.Errorf("httpapi: document file is required: %w", err))
		return
	}

	taskID := idgen.New(idgen.TaskPrefix)
	pdfDir := filepath.Join(s.Config.DataDir, "pdfs")
	if err := os.MkdirAll(pdfDir, 0o755); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	docPath := filepath.Join(pdfDir, taskID+filepath.Ext(header.Filename))
	if err := saveUpload(header, docPath); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}

	now := time.Now().UTC()
	task := domain.Task{
		TaskID:          taskID,
		DocumentID:      idgen.New("DOC"),
		AlgorithmImage:  c.PostForm("algorithm_image"),
		DatasetLocation: c.PostForm("dataset_location"),
		Status:          domain.TaskCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.Tasks.CreateTask(c.Request.Context(), task); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}

	wf, err := analysis.New(analysis.PdftotextExtractor{}, s.Gateway, s.Cases, gstore.NewMemStore[analysis.State](), s.emitter(), s.engineOpts()...)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	final, err := wf.Run(c.Request.Context(), taskID, docPath)
	if err != nil {
		task.Status = domain.TaskFailed
		_ = s.Tasks.UpdateTask(c.Request.Context(), task)
		fail(c, http.StatusInternalServerError, err)
		return
	}
	task.RequirementText = final.DocumentText
	task.UpdatedAt = time.Now().UTC()
	if err := s.Tasks.UpdateTask(c.Request.Context(), task); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusCreated, taskResponse{Task: task, Cases: final.Drafts})
}

func saveUpload(header *multipart.FileHeader, dst string) error {
	src, err := header.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, src)
	return err
}

func (s *Server) listTasks(c *gin.Context) {
	tasks, err := s.Tasks.ListTasks(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) getTask(c *gin.Context) {
	taskID := c.Param("id")
	task, err := s.Tasks.GetTask(c.Request.Context(), taskID)
	if err != nil {
		fail(c, statusForStoreErr(err), err)
		return
	}
	cases, err := s.Cases.ListCasesByTask(c.Request.Context(), taskID)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, taskResponse{Task: task, Cases: cases})
}

func (s *Server) updateTask(c *gin.Context) {
	taskID := c.Param("id")
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	task, err := s.Tasks.GetTask(c.Request.Context(), taskID)
	if err != nil {
		fail(c, statusForStoreErr(err), err)
		return
	}
	if req.AlgorithmImage != "" {
		task.AlgorithmImage = req.AlgorithmImage
	}
	if req.DatasetLocation != "" {
		task.DatasetLocation = req.DatasetLocation
	}
	task.UpdatedAt = time.Now().UTC()
	if err := s.Tasks.UpdateTask(c.Request.Context(), task); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// withRunningMarker serializes workflow runs per task: it marks the task
// busy, runs fn, and always clears the marker, matching the rejected
// concurrency-across-workflows open question's resolution.
func (s *Server) withRunningMarker(ctx context.Context, taskID, workflow string, fn func() error) error {
	if err := s.Tasks.TryMarkRunning(ctx, taskID, workflow); err != nil {
		return err
	}
	defer func() { _ = s.Tasks.ClearRunning(ctx, taskID) }()
	return fn()
}

func (s *Server) runSelection(c *gin.Context) {
	taskID := c.Param("id")
	var final selection.State
	err := s.withRunningMarker(c.Request.Context(), taskID, "selection", func() error {
		wf, err := selection.New(s.Tasks, s.Cases, s.Gateway, s.newSandbox(), gstore.NewMemStore[selection.State](), s.emitter(), s.engineOpts()...)
		if err != nil {
			return err
		}
		final, err = wf.Run(c.Request.Context(), taskID)
		return err
	})
	if err != nil {
		fail(c, statusForStoreErr(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated_count": final.UpdatedCount})
}

func (s *Server) runExecution(c *gin.Context) {
	taskID := c.Param("id")
	var req executeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
	}

	task, err := s.Tasks.GetTask(c.Request.Context(), taskID)
	if err != nil {
		fail(c, statusForStoreErr(err), err)
		return
	}

	var final execution.State
	runErr := s.withRunningMarker(c.Request.Context(), taskID, "execution", func() error {
		// The sandbox name is deterministic from the task ID and is only
		// ever set here, when Execution actually provisions a container,
		// not at task creation.
		task.SandboxName = "algotest_" + taskID
		task.Status = domain.TaskRunning
		task.UpdatedAt = time.Now().UTC()
		if err := s.Tasks.UpdateTask(c.Request.Context(), task); err != nil {
			return err
		}
		wf, err := execution.New(s.Cases, s.Gateway, s.newSandbox(), gstore.NewMemStore[execution.State](), s.emitter(), s.engineOpts()...)
		if err != nil {
			return err
		}
		final, err = wf.Run(c.Request.Context(), execution.Request{
			TaskID:         taskID,
			ContainerName:  task.SandboxName,
			AlgorithmImage: task.AlgorithmImage,
			DatasetURL:     task.DatasetLocation,
			CaseID:         req.CaseID,
			UserOutputs:    req.UserOutputs,
		})
		return err
	})

	task.Status = domain.TaskCompleted
	if runErr != nil {
		task.Status = domain.TaskFailed
	}
	task.UpdatedAt = time.Now().UTC()
	_ = s.Tasks.UpdateTask(c.Request.Context(), task)

	if runErr != nil {
		fail(c, statusForStoreErr(runErr), runErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"completed_cases": final.CompletedCases})
}

func (s *Server) releaseSandbox(c *gin.Context) {
	taskID := c.Param("id")
	task, err := s.Tasks.GetTask(c.Request.Context(), taskID)
	if err != nil {
		fail(c, statusForStoreErr(err), err)
		return
	}
	released := task.SandboxName
	if err := s.newSandbox().Release(c.Request.Context(), released); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}

	task.SandboxName = ""
	task.UpdatedAt = time.Now().UTC()
	if err := s.Tasks.UpdateTask(c.Request.Context(), task); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": released})
}

func (s *Server) runReport(c *gin.Context) {
	taskID := c.Param("id")
	var req reportRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
	}
	task, err := s.Tasks.GetTask(c.Request.Context(), taskID)
	if err != nil {
		fail(c, statusForStoreErr(err), err)
		return
	}

	var final report.State
	runErr := s.withRunningMarker(c.Request.Context(), taskID, "report", func() error {
		wf, err := report.New(s.Gateway, s.Cases, s.Reports, gstore.NewMemStore[report.State](), s.emitter(), s.engineOpts()...)
		if err != nil {
			return err
		}
		final, err = wf.Run(c.Request.Context(), report.Request{
			TaskID:         taskID,
			AlgorithmImage: task.AlgorithmImage,
			DatasetURL:     task.DatasetLocation,
			Operator:       req.Operator,
			SDKVersion:     req.SDKVersion,
		})
		return err
	})
	if runErr != nil {
		fail(c, statusForStoreErr(runErr), runErr)
		return
	}
	c.JSON(http.StatusOK, final.Report)
}

func (s *Server) downloadReport(c *gin.Context) {
	taskID := c.Param("id")
	rpt, err := s.Reports.GetReport(c.Request.Context(), taskID)
	if err != nil {
		fail(c, statusForStoreErr(err), err)
		return
	}
	if rpt.ArtifactPath == "" {
		fail(c, http.StatusNotFound, fmt.Errorf("httpapi: no report artifact for task %s", taskID))
		return
	}
	c.FileAttachment(rpt.ArtifactPath, filepath.Base(rpt.ArtifactPath))
}

func (s *Server) updateCaseTestData(c *gin.Context) {
	caseID := c.Param("id")
	var req testDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := s.Cases.UpdateCaseTestData(c.Request.Context(), caseID, req.TestData); err != nil {
		fail(c, statusForStoreErr(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"case_id": caseID, "test_data": req.TestData})
}
