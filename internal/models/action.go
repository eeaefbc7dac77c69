package models

import (
	"time"
)

// ActionTemplate is a predefined recipe of steps for a named cross-platform action
type ActionTemplate struct {
	ID                 string          `json:"id" yaml:"id"`
	Name               string          `json:"name" yaml:"name"`
	Description        string          `json:"description,omitempty" yaml:"description"`
	PlatformsInvolved  []Platform      `json:"platforms_involved" yaml:"platforms_involved"`
	RequiredParameters []string        `json:"required_parameters" yaml:"required_parameters"`
	Steps              []ExecutionStep `json:"steps" yaml:"steps"`
}

// HasRollback reports whether any step defines a rollback operation
func (t *ActionTemplate) HasRollback() bool {
	for _, s := range t.Steps {
		if s.RollbackOperation != "" {
			return true
		}
	}
	return false
}

// ExecutionStep is one step of an ActionTemplate
type ExecutionStep struct {
	StepID            string                 `json:"step_id" yaml:"step_id"`
	Platform          Platform               `json:"platform" yaml:"platform"`
	Operation         string                 `json:"operation" yaml:"operation"`
	Parameters        map[string]interface{} `json:"parameters,omitempty" yaml:"parameters"`
	DependsOn         []string               `json:"depends_on,omitempty" yaml:"depends_on"`
	RollbackOperation string                 `json:"rollback_operation,omitempty" yaml:"rollback_operation"`
	Timeout           time.Duration          `json:"timeout" yaml:"timeout"`
}

// ActionStatus is the lifecycle state of an ActionExecution
type ActionStatus string

const (
	ActionStatusPending    ActionStatus = "pending"
	ActionStatusConfirmed  ActionStatus = "confirmed"
	ActionStatusExecuting  ActionStatus = "executing"
	ActionStatusCompleted  ActionStatus = "completed"
	ActionStatusFailed     ActionStatus = "failed"
	ActionStatusCancelled  ActionStatus = "cancelled"
	ActionStatusRolledBack ActionStatus = "rolled_back"
)

// IsTerminal reports whether no further transitions are possible
func (s ActionStatus) IsTerminal() bool {
	switch s {
	case ActionStatusCompleted, ActionStatusFailed, ActionStatusCancelled, ActionStatusRolledBack:
		return true
	}
	return false
}

// StepStatus is the state of one step within an execution
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusExecuting  StepStatus = "executing"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
	StepStatusRolledBack StepStatus = "rolled_back"
)

// ActionExecution is the run record of one action invocation
type ActionExecution struct {
	ActionID   string                `json:"action_id"`
	ActionType string                `json:"action_type"`
	TemplateID string                `json:"template_id,omitempty"`
	UserID     string                `json:"user_id,omitempty"`
	Status     ActionStatus          `json:"status"`
	StartTime  time.Time             `json:"start_time"`
	EndTime    *time.Time            `json:"end_time,omitempty"`
	Steps      []ExecutionStepResult `json:"steps"`
	Errors     []string              `json:"errors"`
}

// Step returns the step result with the given id
func (e *ActionExecution) Step(stepID string) *ExecutionStepResult {
	for i := range e.Steps {
		if e.Steps[i].StepID == stepID {
			return &e.Steps[i]
		}
	}
	return nil
}

// ExecutionStepResult is the outcome of one step
type ExecutionStepResult struct {
	StepID      string     `json:"step_id"`
	Platform    Platform   `json:"platform"`
	Status      StepStatus `json:"status"`
	Result      JSONB      `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ImpactLevel estimates how far-reaching an action is
type ImpactLevel string

const (
	ImpactLow    ImpactLevel = "low"
	ImpactMedium ImpactLevel = "medium"
	ImpactHigh   ImpactLevel = "high"
)

// Action types with a template in the default catalog
const (
	ActionCrossPlatformUpdate  = "cross_platform_update"
	ActionScheduleMeeting      = "schedule_meeting"
	ActionShareDocument        = "share_document"
	ActionSafetyAlertBroadcast = "safety_alert_broadcast"
	ActionSendMessage          = "send_message"
)

// PlatformAction is a requested (or suggested) action
type PlatformAction struct {
	ID                   string                 `json:"id"`
	Type                 string                 `json:"type" validate:"required"`
	Platforms            []Platform             `json:"platforms" validate:"required,min=1,dive,platform"`
	Parameters           map[string]interface{} `json:"parameters"`
	ConfirmationRequired bool                   `json:"confirmation_required"`
	EstimatedImpact      ImpactLevel            `json:"estimated_impact,omitempty"`
	Description          string                 `json:"description,omitempty"`
}

// ActionContext carries caller information into an execution
type ActionContext struct {
	UserID    string `json:"user_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	Source    string `json:"source,omitempty"`
}

// ResultStatus is the overall outcome reported to callers
type ResultStatus string

const (
	ResultSuccess    ResultStatus = "success"
	ResultPartial    ResultStatus = "partial"
	ResultFailed     ResultStatus = "failed"
	ResultCancelled  ResultStatus = "cancelled"
	ResultRolledBack ResultStatus = "rolled_back"
)

// PlatformResult is the outcome for one platform within an execution
type PlatformResult struct {
	Success bool   `json:"success"`
	Data    JSONB  `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ExecutionResult is returned from every action execution
type ExecutionResult struct {
	ActionID           string                      `json:"action_id"`
	Status             ResultStatus                `json:"status"`
	PerPlatformResults map[Platform]PlatformResult `json:"per_platform_results"`
	ExecutionTimeMs    int64                       `json:"execution_time_ms"`
	RollbackAvailable  bool                        `json:"rollback_available"`
	Errors             []string                    `json:"errors,omitempty"`
}

// ExecuteActionRequest is the REST payload for executing an action
type ExecuteActionRequest struct {
	Action    PlatformAction `json:"action" validate:"required"`
	ProjectID string         `json:"project_id,omitempty"`
}
