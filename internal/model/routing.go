package model

import "time"

// Responder is a member of staff who can be dispatched to an incident.
type Responder struct {
	ID                 string    `json:"id"`
	AccountToken       string    `json:"account_token"`
	Name               string    `json:"name"`
	Phone              string    `json:"phone,omitempty"`
	Role               string    `json:"role"`
	Skills             []string  `json:"skills,omitempty"`
	EmergencyCertified bool      `json:"emergency_certified"`
	Available          bool      `json:"available"`
	ActiveJobs         int       `json:"active_jobs"`
	MaxJobs            int       `json:"max_jobs,omitempty"`
	Location           *GeoPoint `json:"location,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Incident is a classified emergency awaiting a responder.
type Incident struct {
	ID             string                  `json:"id"`
	AccountToken   string                  `json:"account_token"`
	ConversationID string                  `json:"conversation_id,omitempty"`
	CustomerID     string                  `json:"customer_id,omitempty"`
	CustomerPhone  string                  `json:"customer_phone,omitempty"`
	Classification EmergencyClassification `json:"classification"`
	Location       *GeoPoint               `json:"location,omitempty"`
	ReportedAt     time.Time               `json:"reported_at"`
}

// RankedResponder is a scored routing candidate.
type RankedResponder struct {
	Responder        Responder `json:"responder"`
	Score            float64   `json:"score"`
	SkillMatch       float64   `json:"skill_match"`
	WorkloadInverse  float64   `json:"workload_inverse"`
	ProximityInverse float64   `json:"proximity_inverse"`
	DistanceKM       *float64  `json:"distance_km,omitempty"`
	ETAMinutes       int       `json:"eta_minutes"`
}

// EscalationStep is one conditional action in an escalation plan.
type EscalationStep struct {
	Trigger string        `json:"trigger"`
	Delay   time.Duration `json:"delay"`
	Action  string        `json:"action"`
	Target  string        `json:"target,omitempty"`
}

// NotificationStep is one outbound notification in a notification plan.
type NotificationStep struct {
	Channel   string        `json:"channel"`
	Recipient string        `json:"recipient"`
	Template  string        `json:"template"`
	Delay     time.Duration `json:"delay"`
}

// RoutingDecision is produced once per emergency and drives dispatch.
type RoutingDecision struct {
	IncidentID           string             `json:"incident_id"`
	AccountToken         string             `json:"account_token"`
	Severity             Severity           `json:"severity"`
	Primary              RankedResponder    `json:"primary"`
	Backups              []RankedResponder  `json:"backups,omitempty"`
	EstimatedArrival     time.Duration      `json:"estimated_arrival"`
	ResourceRequirements []string           `json:"resource_requirements"`
	EscalationSteps      []EscalationStep   `json:"escalation_steps"`
	NotificationPlan     []NotificationStep `json:"notification_plan"`
	Confidence           float64            `json:"confidence"`
	Notes                []string           `json:"notes,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
}

// DashboardUpdateType names a real-time dashboard event.
type DashboardUpdateType string

const (
	UpdateSyncProgress      DashboardUpdateType = "sync_progress"
	UpdateSyncFinished      DashboardUpdateType = "sync_finished"
	UpdateEmergencyDetected DashboardUpdateType = "emergency_detected"
	UpdateIncidentRouted    DashboardUpdateType = "incident_routed"
	UpdateEscalation        DashboardUpdateType = "escalation"
)

// DashboardUpdate is a fire-and-forget event for real-time fan-out.
type DashboardUpdate struct {
	Type         DashboardUpdateType `json:"type"`
	AccountToken string              `json:"account_token"`
	SessionID    string              `json:"session_id,omitempty"`
	EntityID     string              `json:"entity_id,omitempty"`
	Payload      map[string]any      `json:"payload,omitempty"`
	At           time.Time           `json:"at"`
}
