package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/catalog"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/dag"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/dlq"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/executor"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/storage"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/versions"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/api/dto"
)

// ErrorHandler is a middleware that handles errors and panics
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
					Error:   "Internal Server Error",
					Message: "An unexpected error occurred",
					Code:    "INTERNAL_ERROR",
				})
				c.Abort()
			}
		}()

		c.Next()

		// Errors attached with c.Error that no handler responded to
		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last()

			statusCode := c.Writer.Status()
			if statusCode == http.StatusOK {
				statusCode = http.StatusInternalServerError
			}

			c.JSON(statusCode, dto.ErrorResponse{
				Error:   http.StatusText(statusCode),
				Message: err.Error(),
			})
		}
	}
}

// AbortWithError is a helper function to abort with a specific error
func AbortWithError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    code,
	})
	c.Abort()
}

// AbortWithErrorDetails is a helper function to abort with error details
func AbortWithErrorDetails(c *gin.Context, statusCode int, code, message string, details map[string]interface{}) {
	c.JSON(statusCode, dto.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    code,
		Details: details,
	})
	c.Abort()
}

// AbortWithDomainError maps a service error onto a status code and aborts
func AbortWithDomainError(c *gin.Context, err error) {
	_ = c.Error(err)

	if verr, ok := dag.AsValidationError(err); ok {
		details := map[string]interface{}{"kind": string(verr.Kind)}
		if len(verr.Keys) > 0 {
			details["keys"] = verr.Keys
		}
		if len(verr.Path) > 0 {
			details["path"] = verr.Path
		}
		if verr.Group != "" {
			details["group"] = verr.Group
		}
		AbortWithErrorDetails(c, http.StatusBadRequest, "INVALID_DAG", verr.Message, details)
		return
	}

	status, code := classify(err)
	AbortWithError(c, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, catalog.ErrNotFound), errors.Is(err, dlq.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, storage.ErrAlreadyExists):
		return http.StatusConflict, "ALREADY_EXISTS"
	case errors.Is(err, versions.ErrVersionFrozen):
		return http.StatusConflict, "VERSION_FROZEN"
	case errors.Is(err, executor.ErrRunNotActive):
		return http.StatusConflict, "RUN_NOT_ACTIVE"
	case errors.Is(err, dlq.ErrReplayInProgress):
		return http.StatusConflict, "REPLAY_IN_PROGRESS"
	case errors.Is(err, dag.ErrInvalidDAG):
		return http.StatusBadRequest, "INVALID_DAG"
	case errors.Is(err, versions.ErrInvalidSchedule):
		return http.StatusBadRequest, "INVALID_SCHEDULE"
	case errors.Is(err, versions.ErrVersionMismatch):
		return http.StatusBadRequest, "VERSION_MISMATCH"
	case errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, executor.ErrEngineClosed):
		return http.StatusServiceUnavailable, "ENGINE_CLOSED"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}
