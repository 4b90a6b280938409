package dto

// PaginationMeta represents pagination metadata
type PaginationMeta struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Count    int `json:"count"`
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	ActiveRuns int               `json:"active_runs"`
	Services   map[string]string `json:"services,omitempty"`
}

// ListQueryParams represents common list query parameters
type ListQueryParams struct {
	Page     int `form:"page" validate:"min=1"`
	PageSize int `form:"page_size" validate:"min=1,max=100"`
}

// Offset returns the number of items to skip
func (q ListQueryParams) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// NewPaginationMeta creates a new PaginationMeta
func NewPaginationMeta(q ListQueryParams, count int) PaginationMeta {
	return PaginationMeta{
		Page:     q.Page,
		PageSize: q.PageSize,
		Count:    count,
	}
}
