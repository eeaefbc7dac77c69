package models

import "time"

// IntentType is the coarse category of a query
type IntentType string

const (
	IntentProjectStatus IntentType = "project_status"
	IntentSchedule      IntentType = "schedule"
	IntentCommunication IntentType = "communication"
	IntentDocument      IntentType = "document"
	IntentSafety        IntentType = "safety"
	IntentProgress      IntentType = "progress"
	IntentGeneral       IntentType = "general"
)

// Valid reports whether t is a known intent type
func (t IntentType) Valid() bool {
	switch t {
	case IntentProjectStatus, IntentSchedule, IntentCommunication, IntentDocument,
		IntentSafety, IntentProgress, IntentGeneral:
		return true
	}
	return false
}

// DateRange bounds a query in time
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IntentEntities are entities extracted from a query
type IntentEntities struct {
	ProjectID    string     `json:"project_id,omitempty"`
	DateRange    *DateRange `json:"date_range,omitempty"`
	DocumentType string     `json:"document_type,omitempty"`
	Urgency      string     `json:"urgency,omitempty"`
	Recipients   []string   `json:"recipients,omitempty"`
	Action       string     `json:"action,omitempty"`
}

// QueryIntent is the structured interpretation of a query
type QueryIntent struct {
	Type       IntentType     `json:"type"`
	Entities   IntentEntities `json:"entities"`
	Confidence float64        `json:"confidence"`
	Source     string         `json:"source,omitempty"`
}

// SourceStatus is the outcome of reading one platform
type SourceStatus string

const (
	SourceSuccess SourceStatus = "success"
	SourceError   SourceStatus = "error"
)

// SourceResult is what one platform returned for a query
type SourceResult struct {
	Platform       Platform       `json:"platform"`
	Status         SourceStatus   `json:"status"`
	Data           []ActivityItem `json:"data,omitempty"`
	Error          string         `json:"error,omitempty"`
	ResponseTimeMs int64          `json:"response_time_ms"`
}

// Detail is a single fact in an integrated response
type Detail struct {
	Source    Platform     `json:"source"`
	Timestamp time.Time    `json:"timestamp"`
	Kind      ActivityKind `json:"kind"`
	EntityID  string       `json:"entity_id,omitempty"`
	Title     string       `json:"title"`
	Text      string       `json:"text,omitempty"`
	Status    string       `json:"status,omitempty"`
}

// Conflict records two sources disagreeing about the same entity
type Conflict struct {
	EntityID    string              `json:"entity_id"`
	Field       string              `json:"field"`
	Values      map[Platform]string `json:"values"`
	Description string              `json:"description"`
}

// IntegratedResponse is the answer to a query
type IntegratedResponse struct {
	ID                string                    `json:"id"`
	Query             string                    `json:"query"`
	UserID            string                    `json:"user_id,omitempty"`
	Timestamp         time.Time                 `json:"timestamp"`
	Intent            QueryIntent               `json:"intent"`
	Sources           map[Platform]SourceResult `json:"sources"`
	AggregatedSummary string                    `json:"aggregated_summary"`
	Details           []Detail                  `json:"details"`
	Conflicts         []Conflict                `json:"conflicts"`
	SuggestedActions  []PlatformAction          `json:"suggested_actions"`
	ResponseTimeMs    int64                     `json:"response_time_ms"`
}

// QueryRequest is the REST payload for a query
type QueryRequest struct {
	Query  string `json:"query" validate:"required,max=2000"`
	UserID string `json:"user_id,omitempty"`
}
