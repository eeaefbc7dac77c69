package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidmoltin/site-integrations/internal/models"
)

// FixtureBuilder provides methods to create test fixtures
type FixtureBuilder struct{}

// NewFixtureBuilder creates a new fixture builder
func NewFixtureBuilder() *FixtureBuilder {
	return &FixtureBuilder{}
}

// Execution creates a completed two-step cross-platform update
func (fb *FixtureBuilder) Execution(overrides ...func(*models.ActionExecution)) *models.ActionExecution {
	start := time.Now().UTC().Truncate(time.Millisecond)
	end := start.Add(1500 * time.Millisecond)

	exec := &models.ActionExecution{
		ActionID:   uuid.New().String(),
		ActionType: models.ActionCrossPlatformUpdate,
		TemplateID: models.ActionCrossPlatformUpdate,
		UserID:     "pm-1",
		Status:     models.ActionStatusCompleted,
		StartTime:  start,
		EndTime:    &end,
		Steps: []models.ExecutionStepResult{
			{
				StepID:      "upload_report",
				Platform:    models.PlatformGoogleWorkspace,
				Status:      models.StepStatusCompleted,
				Result:      models.JSONB{"document_id": "doc-1"},
				StartedAt:   TimePtr(start),
				CompletedAt: TimePtr(start.Add(time.Second)),
			},
			{
				StepID:      "notify_team",
				Platform:    models.PlatformWhatsApp,
				Status:      models.StepStatusCompleted,
				Result:      models.JSONB{"message_id": "msg-1"},
				StartedAt:   TimePtr(start.Add(time.Second)),
				CompletedAt: TimePtr(end),
			},
		},
		Errors: []string{},
	}

	for _, override := range overrides {
		override(exec)
	}

	return exec
}

// Alert creates an unacknowledged high severity alert
func (fb *FixtureBuilder) Alert(overrides ...func(*models.StatusAlert)) *models.StatusAlert {
	alert := &models.StatusAlert{
		ID:          uuid.New().String(),
		Type:        models.AlertError,
		Severity:    models.SeverityHigh,
		Platform:    models.PlatformWhatsApp,
		Title:       "whatsapp is unavailable",
		Message:     "Connection check failed",
		Timestamp:   time.Now().UTC().Truncate(time.Millisecond),
		AutoResolve: true,
	}

	for _, override := range overrides {
		override(alert)
	}

	return alert
}

// TimePtr returns a pointer to a time
func TimePtr(t time.Time) *time.Time {
	return &t
}
