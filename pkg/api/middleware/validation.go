package middleware

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/versions"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validators
	_ = validate.RegisterValidation("cron", validateCron)
}

// validateCron accepts an empty string or a standard five-field cron expression
func validateCron(fl validator.FieldLevel) bool {
	return versions.ValidateSchedule(fl.Field().String()) == nil
}

// ValidateRequest validates a request struct
func ValidateRequest(obj interface{}) error {
	return validate.Struct(obj)
}

// ValidationErrorResponse converts validator errors to a readable format
func ValidationErrorResponse(err error) map[string]interface{} {
	errors := make(map[string]interface{})

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, fieldError := range validationErrors {
			field := fieldError.Field()
			tag := fieldError.Tag()

			var message string
			switch tag {
			case "required":
				message = fmt.Sprintf("%s is required", field)
			case "min":
				message = fmt.Sprintf("%s must be at least %s", field, fieldError.Param())
			case "max":
				message = fmt.Sprintf("%s must be at most %s", field, fieldError.Param())
			case "oneof":
				message = fmt.Sprintf("%s must be one of: %s", field, fieldError.Param())
			case "cron":
				message = fmt.Sprintf("%s must be a valid cron expression", field)
			case "uuid":
				message = fmt.Sprintf("%s must be a UUID", field)
			default:
				message = fmt.Sprintf("%s failed validation: %s", field, tag)
			}

			errors[field] = message
		}
	} else {
		errors["validation"] = err.Error()
	}

	return errors
}

// BindAndValidate binds and validates a JSON request body
func BindAndValidate(c *gin.Context, obj interface{}) bool {
	return bindJSON(c, obj, false)
}

// BindOptional is BindAndValidate for endpoints whose body may be empty,
// including empty chunked bodies. obj keeps its zero value then.
func BindOptional(c *gin.Context, obj interface{}) bool {
	return bindJSON(c, obj, true)
}

func bindJSON(c *gin.Context, obj interface{}, optional bool) bool {
	if err := c.ShouldBindJSON(obj); err != nil && !(optional && errors.Is(err, io.EOF)) {
		AbortWithError(c, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return false
	}

	if err := ValidateRequest(obj); err != nil {
		details := ValidationErrorResponse(err)
		AbortWithErrorDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", details)
		return false
	}

	return true
}

// BindQuery binds and validates query parameters
func BindQuery(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		AbortWithError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return false
	}

	if err := ValidateRequest(obj); err != nil {
		details := ValidationErrorResponse(err)
		AbortWithErrorDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Query validation failed", details)
		return false
	}

	return true
}
