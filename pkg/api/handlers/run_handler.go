package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/state"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/storage"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/api/dto"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/api/middleware"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

// HistoryReader lists the recorded transitions of a run
type HistoryReader interface {
	ListByRun(ctx context.Context, runID string, limit int) ([]state.HistoryEntry, error)
}

// RunHandler handles run inspection and cancellation
type RunHandler struct {
	repos   *storage.Repositories
	exec    Executor
	history HistoryReader
}

// NewRunHandler creates a new run handler
func NewRunHandler(repos *storage.Repositories, exec Executor) *RunHandler {
	return &RunHandler{repos: repos, exec: exec}
}

// WithHistory enables GetRunHistory
func (h *RunHandler) WithHistory(history HistoryReader) *RunHandler {
	h.history = history
	return h
}

// GetRun handles GET /api/v1/runs/:id
func (h *RunHandler) GetRun(c *gin.Context) {
	ctx := c.Request.Context()
	run, err := h.repos.Runs.Get(ctx, c.Param("id"))
	if err != nil {
		middleware.AbortWithDomainError(c, err)
		return
	}

	rows, err := h.repos.Telemetry.ListByRun(ctx, run.ID)
	if err != nil {
		middleware.AbortWithDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToRunResponse(run).WithTelemetry(rows))
}

// ListRuns handles GET /api/v1/versions/:id/runs
func (h *RunHandler) ListRuns(c *gin.Context) {
	q := dto.ListQueryParams{Page: 1, PageSize: 20}
	if !middleware.BindQuery(c, &q) {
		return
	}

	ctx := c.Request.Context()
	versionID := c.Param("id")
	if _, err := h.repos.Versions.Get(ctx, versionID); err != nil {
		middleware.AbortWithDomainError(c, err)
		return
	}

	filters := storage.RunFilters{
		PipelineVersionID: versionID,
		Limit:             q.PageSize,
		Offset:            q.Offset(),
	}
	if s := c.Query("status"); s != "" {
		status := models.Status(s)
		if !status.IsValid() {
			middleware.AbortWithError(c, http.StatusBadRequest, "INVALID_STATUS", "unknown status "+s)
			return
		}
		filters.Status = &status
	}

	runs, err := h.repos.Runs.List(ctx, filters)
	if err != nil {
		middleware.AbortWithDomainError(c, err)
		return
	}

	resp := dto.RunListResponse{
		Runs:       make([]dto.RunResponse, len(runs)),
		Pagination: dto.NewPaginationMeta(q, len(runs)),
	}
	for i, run := range runs {
		resp.Runs[i] = dto.ToRunResponse(run)
	}
	c.JSON(http.StatusOK, resp)
}

// CancelRun handles POST /api/v1/runs/:id/cancel
func (h *RunHandler) CancelRun(c *gin.Context) {
	runID := c.Param("id")
	if err := h.exec.Cancel(c.Request.Context(), runID); err != nil {
		middleware.AbortWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"runId": runID, "message": "cancellation requested"})
}

// GetRunHistory handles GET /api/v1/runs/:id/history
func (h *RunHandler) GetRunHistory(c *gin.Context) {
	if h.history == nil {
		middleware.AbortWithError(c, http.StatusNotImplemented, "HISTORY_DISABLED", "state history is not recorded")
		return
	}

	limit := 500
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			middleware.AbortWithError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive number")
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	run, err := h.repos.Runs.Get(ctx, c.Param("id"))
	if err != nil {
		middleware.AbortWithDomainError(c, err)
		return
	}

	entries, err := h.history.ListByRun(ctx, run.ID, limit)
	if err != nil {
		middleware.AbortWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.RunHistoryResponse{RunID: run.ID, Transitions: entries})
}
