package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/dlq"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/api/dto"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/api/middleware"
)

// DeadLetterHandler exposes telemetry writes that could not be persisted
type DeadLetterHandler struct {
	queue *dlq.Queue
}

// NewDeadLetterHandler creates a new dead letter handler
func NewDeadLetterHandler(queue *dlq.Queue) *DeadLetterHandler {
	return &DeadLetterHandler{queue: queue}
}

// ListDeadLetters handles GET /api/v1/dead-letters
func (h *DeadLetterHandler) ListDeadLetters(c *gin.Context) {
	q := dto.ListQueryParams{Page: 1, PageSize: 20}
	if !middleware.BindQuery(c, &q) {
		return
	}

	entries := h.queue.List(dlq.Filters{
		RunID:  c.Query("run_id"),
		Kind:   c.Query("kind"),
		Limit:  q.PageSize,
		Offset: q.Offset(),
	})
	c.JSON(http.StatusOK, dto.DeadLetterListResponse{
		DeadLetters: entries,
		Total:       h.queue.Count(),
		Pagination:  dto.NewPaginationMeta(q, len(entries)),
	})
}

// ReplayDeadLetter handles POST /api/v1/dead-letters/:id/replay
func (h *DeadLetterHandler) ReplayDeadLetter(c *gin.Context) {
	id := c.Param("id")
	if err := h.queue.Replay(c.Request.Context(), id); err != nil {
		if errors.Is(err, dlq.ErrNotFound) || errors.Is(err, dlq.ErrReplayInProgress) {
			middleware.AbortWithDomainError(c, err)
			return
		}
		if entry, getErr := h.queue.Get(id); getErr == nil {
			middleware.AbortWithErrorDetails(c, http.StatusBadGateway, "REPLAY_FAILED", err.Error(), map[string]interface{}{
				"attempts": entry.Attempts,
			})
			return
		}
		middleware.AbortWithDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReplayAll handles POST /api/v1/dead-letters/replay
func (h *DeadLetterHandler) ReplayAll(c *gin.Context) {
	replayed, err := h.queue.ReplayAll(c.Request.Context())
	resp := dto.ReplayAllResponse{Replayed: replayed, Remaining: h.queue.Count()}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteDeadLetter handles DELETE /api/v1/dead-letters/:id
func (h *DeadLetterHandler) DeleteDeadLetter(c *gin.Context) {
	if err := h.queue.Delete(c.Param("id")); err != nil {
		middleware.AbortWithDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
