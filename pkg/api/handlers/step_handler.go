package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/catalog"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/api/dto"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/api/middleware"
)

// StepHandler serves the step catalog
type StepHandler struct {
	catalog *catalog.Catalog
}

// NewStepHandler creates a new step handler
func NewStepHandler(c *catalog.Catalog) *StepHandler {
	return &StepHandler{catalog: c}
}

// ListSteps handles GET /api/v1/steps
func (h *StepHandler) ListSteps(c *gin.Context) {
	c.JSON(http.StatusOK, dto.StepListResponse{Steps: h.catalog.Steps()})
}

// ListSchemas handles GET /api/v1/steps/:id/schemas
func (h *StepHandler) ListSchemas(c *gin.Context) {
	id := c.Param("id")
	schemas, err := h.catalog.SchemasFor(id)
	if err != nil {
		middleware.AbortWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SchemaListResponse{StepVersionID: id, Schemas: schemas})
}
