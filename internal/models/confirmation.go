package models

import "time"

// ConfirmationRequest is an action waiting for a human decision
type ConfirmationRequest struct {
	ID              string                 `json:"id"`
	ActionType      string                 `json:"action_type"`
	Description     string                 `json:"description,omitempty"`
	Platforms       []Platform             `json:"platforms"`
	Parameters      map[string]interface{} `json:"parameters,omitempty"`
	EstimatedImpact ImpactLevel            `json:"estimated_impact,omitempty"`
	UserID          string                 `json:"user_id,omitempty"`
	ProjectID       string                 `json:"project_id,omitempty"`
	RequestedAt     time.Time              `json:"requested_at"`
	ExpiresAt       time.Time              `json:"expires_at"`
}

// ConfirmationOutcome is how a confirmation request ended
type ConfirmationOutcome string

const (
	ConfirmationRequested ConfirmationOutcome = "requested"
	ConfirmationApproved  ConfirmationOutcome = "approved"
	ConfirmationRejected  ConfirmationOutcome = "rejected"
	ConfirmationExpired   ConfirmationOutcome = "expired"
	ConfirmationWithdrawn ConfirmationOutcome = "withdrawn"
)

// ConfirmationEvent is broadcast when a request opens or closes
type ConfirmationEvent struct {
	Outcome   ConfirmationOutcome `json:"outcome"`
	Request   ConfirmationRequest `json:"request"`
	DecidedBy string              `json:"decided_by,omitempty"`
	At        time.Time           `json:"at"`
}

// ConfirmationDecision is the REST payload for approving or rejecting
type ConfirmationDecision struct {
	DecidedBy string `json:"decided_by,omitempty" validate:"omitempty,max=200"`
}
