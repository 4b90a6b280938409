package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/executor"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/versions"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/api/dto"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/api/middleware"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

// Executor plans, starts and cancels runs
type Executor interface {
	Plan(ctx context.Context, versionID string) (*models.ExecutionPlan, error)
	Start(ctx context.Context, versionID string, opts executor.Options) (*models.PipelineRun, error)
	Cancel(ctx context.Context, runID string) error
}

// VersionHandler handles version editing, activation and execution
type VersionHandler struct {
	store *versions.Store
	exec  Executor
}

// NewVersionHandler creates a new version handler
func NewVersionHandler(store *versions.Store, exec Executor) *VersionHandler {
	return &VersionHandler{store: store, exec: exec}
}

// GetVersion handles GET /api/v1/versions/:id
func (h *VersionHandler) GetVersion(c *gin.Context) {
	v, err := h.store.GetVersion(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.AbortWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToVersionResponse(v))
}

// PatchVersion handles PATCH /api/v1/versions/:id
func (h *VersionHandler) PatchVersion(c *gin.Context) {
	var req dto.PatchVersionRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}
	if req.DAG == nil && req.Config == nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "EMPTY_PATCH", "dag or config is required")
		return
	}

	v, err := h.store.Patch(c.Request.Context(), c.Param("id"), req.ToInput())
	if err != nil {
		middleware.AbortWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToVersionResponse(v))
}

// ActivateVersion handles POST /api/v1/versions/:id/activate
func (h *VersionHandler) ActivateVersion(c *gin.Context) {
	v, err := h.store.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.AbortWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToVersionResponse(v))
}

// Execute handles POST /api/v1/versions/:id/execute. A dry run returns the
// plan and writes nothing; otherwise the run starts in the background.
func (h *VersionHandler) Execute(c *gin.Context) {
	var req dto.ExecuteRequest
	if !middleware.BindOptional(c, &req) {
		return
	}

	ctx := c.Request.Context()
	versionID := c.Param("id")

	if req.DryRun {
		plan, err := h.exec.Plan(ctx, versionID)
		if err != nil {
			middleware.AbortWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.PlanResponse{Plan: plan})
		return
	}

	run, err := h.exec.Start(ctx, versionID, executor.Options{
		Trigger: models.TriggerManual,
		Params:  req.Params,
	})
	if err != nil {
		middleware.AbortWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.ExecuteResponse{RunID: run.ID, Status: run.Status})
}
