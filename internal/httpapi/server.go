// Package httpapi is the REST façade over the task lifecycle: it loads and
// saves through internal/store and invokes the workflow engines' Run
// methods. It holds no business logic of its own.
package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/tsingsx/algotest/graph"
	"github.com/tsingsx/algotest/graph/emit"
	"github.com/tsingsx/algotest/internal/appobs"
	"github.com/tsingsx/algotest/internal/config"
	"github.com/tsingsx/algotest/internal/llmapi"
	"github.com/tsingsx/algotest/internal/sandbox"
	"github.com/tsingsx/algotest/internal/store"
)

// Server wires the HTTP handlers to the stores and the LLM gateway.
// It does not hold a sandbox.Controller directly: Select, Execute, and
// Release each open their own sandbox.Session against the configured
// executor, matching the one-session-per-run lifetime the controller is
// built around.
type Server struct {
	Tasks   store.TaskStore
	Cases   store.CaseStore
	Reports store.ReportStore
	Gateway *llmapi.Gateway
	Config  config.Config
	Obs     *appobs.Stack
}

// NewRouter builds the gin engine and registers every route from the HTTP
// façade section of the service's external interfaces.
func NewRouter(srv *Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	api := r.Group("/api")
	api.POST("/tasks", srv.createTask)
	api.GET("/tasks", srv.listTasks)
	api.GET("/tasks/:id", srv.getTask)
	api.PATCH("/tasks/:id", srv.updateTask)
	api.POST("/tasks/:id/select", srv.runSelection)
	api.POST("/tasks/:id/execute", srv.runExecution)
	api.POST("/tasks/:id/release", srv.releaseSandbox)
	api.POST("/tasks/:id/report", srv.runReport)
	api.GET("/tasks/:id/report", srv.downloadReport)
	api.PUT("/cases/:id/test-data", srv.updateCaseTestData)

	return r
}

func (s *Server) newSandbox() sandbox.Controller {
	return sandbox.NewSession(s.Config.ExecutorHost, s.Config.ExecutorPort)
}

// emitter returns the process-wide emitter, falling back to a null emitter
// when Obs wasn't configured (as in tests that construct Server directly).
func (s *Server) emitter() emit.Emitter {
	if s.Obs == nil {
		return emit.NewNullEmitter()
	}
	return s.Obs.Emitter
}

func (s *Server) engineOpts() []graph.Option {
	if s.Obs == nil {
		return nil
	}
	return s.Obs.EngineOptions()
}
