package transport

import (
	"freight_ops_backend/internal/callevents/pipeline"
)

// Request DTOs

// KeywordTestRequest is an ad-hoc rule evaluated against sample text.
type KeywordTestRequest struct {
	Pattern       string  `json:"pattern" validate:"required,max=500"`
	MatchType     string  `json:"matchType" validate:"required,oneof=contains exact regex"`
	CaseSensitive bool    `json:"caseSensitive"`
	Weight        float64 `json:"weight" validate:"gte=0,lte=1"`
	Text          string  `json:"text" validate:"required,max=50000"`
}

// Response DTOs

// WebhookResponse is returned for every accepted delivery.
type WebhookResponse = pipeline.Result

// KeywordTestResponse reports whether the rule fired, or why it was skipped.
type KeywordTestResponse struct {
	Matched    bool   `json:"matched"`
	Skipped    bool   `json:"skipped"`
	Reason     string `json:"reason,omitempty"`
	ScoreFloor int    `json:"scoreFloor"`
}

// ReplayResponse is returned by the replay endpoint.
type ReplayResponse struct {
	Queued bool             `json:"queued"`
	TaskID string           `json:"taskId,omitempty"`
	Result *pipeline.Result `json:"result,omitempty"`
}
