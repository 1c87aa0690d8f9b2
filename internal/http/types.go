// Package http provides the approval HTTP API for vizloop.
package http

import "github.com/fyrsmithlabs/vizloop/internal/approval"

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Pending int    `json:"pending"`
}

// PendingResponse is the response body for GET /api/v1/approvals.
type PendingResponse struct {
	Requests []approval.Request `json:"requests"`
}

// DecisionRequest is the request body for POST /api/v1/approvals/:id.
type DecisionRequest struct {
	Approved *bool  `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// DecisionResponse is the response body for POST /api/v1/approvals/:id.
type DecisionResponse struct {
	ID       string            `json:"id"`
	Decision approval.Decision `json:"decision"`
}
