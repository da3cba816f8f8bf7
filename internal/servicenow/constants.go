package servicenow

import "time"

// Client defaults, overridable via environment (see internal/config).
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 1 * time.Second
)

// Table API path templates.
const (
	TableAPI      = "/api/now/table"
	StatsAPI      = "/api/now/stats"
	AttachmentAPI = "/api/now/attachment/file"
)

// Incident state values (incident.state / incident.incident_state).
const (
	IncidentStateNew        = "1"
	IncidentStateInProgress = "2"
	IncidentStateOnHold     = "3"
	IncidentStateResolved   = "6"
	IncidentStateClosed     = "7"
	IncidentStateCanceled   = "8"
)

// Change request state values (change_request.state).
const (
	ChangeStateNew       = "-5"
	ChangeStateAssess    = "-4"
	ChangeStateAuthorize = "-3"
	ChangeStateScheduled = "-2"
	ChangeStateImplement = "-1"
	ChangeStateReview    = "0"
	ChangeStateClosed    = "3"
)

// Change types.
const (
	ChangeTypeNormal    = "Normal"
	ChangeTypeStandard  = "Standard"
	ChangeTypeEmergency = "Emergency"
)

// Priority values (1 highest).
const (
	PriorityCritical = "1"
	PriorityHigh     = "2"
	PriorityModerate = "3"
	PriorityLow      = "4"
	PriorityPlanning = "5"
)
