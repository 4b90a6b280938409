package dto

import "github.com/therealutkarshpriyadarshi/pipeline/internal/dlq"

// DeadLetterListResponse lists telemetry writes waiting for replay
type DeadLetterListResponse struct {
	DeadLetters []dlq.Entry    `json:"dead_letters"`
	Total       int            `json:"total"`
	Pagination  PaginationMeta `json:"pagination"`
}

// ReplayAllResponse reports a bulk replay
type ReplayAllResponse struct {
	Replayed  int    `json:"replayed"`
	Remaining int    `json:"remaining"`
	Error     string `json:"error,omitempty"`
}
