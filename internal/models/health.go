package models

import "time"

// HealthStatus is the assessed state of a service
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Connectivity describes how a service responded to its check
type Connectivity string

const (
	ConnectivityOK     Connectivity = "ok"
	ConnectivitySlow   Connectivity = "slow"
	ConnectivityFailed Connectivity = "failed"
)

// AuthenticationState describes the credentials of a service
type AuthenticationState string

const (
	AuthValid   AuthenticationState = "valid"
	AuthExpired AuthenticationState = "expired"
	AuthInvalid AuthenticationState = "invalid"
	AuthMissing AuthenticationState = "missing"
)

// HealthCheckResult is a point-in-time assessment of one service
type HealthCheckResult struct {
	Service        Platform            `json:"service"`
	Status         HealthStatus        `json:"status"`
	ResponseTimeMs int64               `json:"response_time_ms"`
	LastChecked    time.Time           `json:"last_checked"`
	Connectivity   Connectivity        `json:"connectivity"`
	Authentication AuthenticationState `json:"authentication"`
	Warnings       []string            `json:"warnings"`
}

// AlertType classifies an alert
type AlertType string

const (
	AlertError   AlertType = "error"
	AlertWarning AlertType = "warning"
	AlertInfo    AlertType = "info"
)

// AlertSeverity ranks alerts
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// StatusAlert is a deduplicated notice derived from a health check
type StatusAlert struct {
	ID           string        `json:"id"`
	Type         AlertType     `json:"type"`
	Severity     AlertSeverity `json:"severity"`
	Platform     Platform      `json:"platform"`
	Title        string        `json:"title"`
	Message      string        `json:"message"`
	Timestamp    time.Time     `json:"timestamp"`
	Acknowledged bool          `json:"acknowledged"`
	AutoResolve  bool          `json:"auto_resolve"`
}

// StatusSummary aggregates integration health for display
type StatusSummary struct {
	TotalIntegrations     int        `json:"total_integrations"`
	ConnectedIntegrations int        `json:"connected_integrations"`
	HealthyIntegrations   int        `json:"healthy_integrations"`
	ActiveAlerts          int        `json:"active_alerts"`
	LastChecked           *time.Time `json:"last_checked,omitempty"`
}

// AlertEventKind is a step in an alert's lifecycle
type AlertEventKind string

const (
	AlertRaised       AlertEventKind = "raised"
	AlertRefreshed    AlertEventKind = "refreshed"
	AlertAcknowledged AlertEventKind = "acknowledged"
	AlertResolved     AlertEventKind = "resolved"
)

// AlertEvent records one lifecycle transition of an alert
type AlertEvent struct {
	Kind       AlertEventKind `json:"kind"`
	Alert      StatusAlert    `json:"alert"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// AlertHistoryEntry is a persisted AlertEvent
type AlertHistoryEntry struct {
	ID         int64          `json:"id"`
	AlertID    string         `json:"alert_id"`
	Kind       AlertEventKind `json:"kind"`
	Platform   Platform       `json:"platform"`
	Type       AlertType      `json:"type"`
	Severity   AlertSeverity  `json:"severity"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	OccurredAt time.Time      `json:"occurred_at"`
}
