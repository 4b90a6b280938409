package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/storage"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/versions"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/api/dto"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/api/middleware"
)

// PipelineHandler handles pipeline and version creation requests
type PipelineHandler struct {
	store *versions.Store
}

// NewPipelineHandler creates a new pipeline handler
func NewPipelineHandler(store *versions.Store) *PipelineHandler {
	return &PipelineHandler{store: store}
}

// CreatePipeline handles POST /api/v1/pipelines
func (h *PipelineHandler) CreatePipeline(c *gin.Context) {
	var req dto.CreatePipelineRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	p, err := h.store.CreatePipeline(c.Request.Context(), req.ToInput())
	if err != nil {
		middleware.AbortWithDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.ToPipelineResponse(p, ""))
}

// ListPipelines handles GET /api/v1/pipelines
func (h *PipelineHandler) ListPipelines(c *gin.Context) {
	q := dto.ListQueryParams{Page: 1, PageSize: 20}
	if !middleware.BindQuery(c, &q) {
		return
	}

	pipelines, err := h.store.ListPipelines(c.Request.Context(), storage.PipelineFilters{
		ScheduledOnly: c.Query("scheduled") == "true",
		Limit:         q.PageSize,
		Offset:        q.Offset(),
	})
	if err != nil {
		middleware.AbortWithDomainError(c, err)
		return
	}

	resp := dto.PipelineListResponse{
		Pipelines:  make([]dto.PipelineResponse, len(pipelines)),
		Pagination: dto.NewPaginationMeta(q, len(pipelines)),
	}
	for i, p := range pipelines {
		resp.Pipelines[i] = dto.ToPipelineResponse(p, "")
	}
	c.JSON(http.StatusOK, resp)
}

// GetPipeline handles GET /api/v1/pipelines/:id
func (h *PipelineHandler) GetPipeline(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := h.store.GetPipeline(ctx, c.Param("id"))
	if err != nil {
		middleware.AbortWithDomainError(c, err)
		return
	}

	activeID := ""
	active, err := h.store.ActiveVersion(ctx, p.ID)
	switch {
	case err == nil:
		activeID = active.ID
	case !errors.Is(err, storage.ErrNotFound):
		middleware.AbortWithDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToPipelineResponse(p, activeID))
}

// CreateVersion handles POST /api/v1/pipelines/:id/versions
func (h *PipelineHandler) CreateVersion(c *gin.Context) {
	var req dto.CreateVersionRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	v, err := h.store.CreateVersion(c.Request.Context(), c.Param("id"), req.ToInput())
	if err != nil {
		middleware.AbortWithDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.ToVersionResponse(v))
}

// ListVersions handles GET /api/v1/pipelines/:id/versions
func (h *PipelineHandler) ListVersions(c *gin.Context) {
	list, err := h.store.ListVersions(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.AbortWithDomainError(c, err)
		return
	}

	resp := dto.VersionListResponse{Versions: make([]dto.VersionResponse, len(list))}
	for i, v := range list {
		resp.Versions[i] = dto.ToVersionResponse(v)
	}
	c.JSON(http.StatusOK, resp)
}
