package routing

import (
	"math"
	"strings"
	"time"

	"github.com/sells-group/comms-cli/internal/model"
)

// Notification templates.
const (
	TemplateSafetyCall  = "critical_safety_call"
	TemplateAck         = "acknowledgment"
	TemplateETAUpdate   = "eta_update"
	TemplateArrival     = "arrival_notice"
	uncertifiedPenalty  = 0.7
	defaultResourceKind = "general"
)

// Route ranks the pool and builds the routing decision for an incident.
// It fails only when no responder is available; every other gap lowers
// the decision's confidence instead.
func (r *Ranker) Route(inc model.Incident, pool []model.Responder) (*model.RoutingDecision, error) {
	ranked, certified, err := r.Rank(inc, pool)
	if err != nil {
		return nil, err
	}

	primary := ranked[0]
	var backups []model.RankedResponder
	if n := min(r.cfg.Backups, len(ranked)-1); n > 0 {
		backups = append(backups, ranked[1:1+n]...)
	}

	severity := inc.Classification.Severity
	eta := time.Duration(primary.ETAMinutes) * time.Minute
	et := r.tables.EmergencyType(inc.Classification.EmergencyType)

	d := &model.RoutingDecision{
		IncidentID:       inc.ID,
		AccountToken:     inc.AccountToken,
		Severity:         severity,
		Primary:          primary,
		Backups:          backups,
		EstimatedArrival: eta,
		Confidence:       primary.Score,
		CreatedAt:        r.now().UTC(),
	}

	d.ResourceRequirements = append([]string(nil), et.Resources...)
	if len(d.ResourceRequirements) == 0 {
		d.ResourceRequirements = append([]string(nil), r.tables.EmergencyType(defaultResourceKind).Resources...)
		d.Notes = append(d.Notes, "no resource profile for emergency type, using general kit")
	}
	if !certified {
		d.Confidence *= uncertifiedPenalty
		d.Notes = append(d.Notes, "no emergency-certified responder available")
	}
	if primary.DistanceKM == nil {
		d.Notes = append(d.Notes, "responder or incident location unknown, ETA estimated")
	}
	d.Confidence = round3(d.Confidence)

	d.EscalationSteps = r.escalation(severity, et.EmergencyServices, backups, eta)
	d.NotificationPlan = notifications(severity, inc.CustomerPhone, eta)
	return d, nil
}

func (r *Ranker) escalation(severity model.Severity, emergencyServices bool, backups []model.RankedResponder, eta time.Duration) []model.EscalationStep {
	var steps []model.EscalationStep
	if emergencyServices {
		steps = append(steps, model.EscalationStep{
			Trigger: TriggerDispatch,
			Action:  ActionEmergencyServices,
			Target:  r.cfg.EmergencyServicesContact,
		})
	}
	if severity == model.SeverityCritical && len(backups) > 0 {
		ids := make([]string, 0, len(backups))
		for _, b := range backups {
			ids = append(ids, b.Responder.ID)
		}
		steps = append(steps, model.EscalationStep{
			Trigger: TriggerDispatch,
			Action:  ActionNotifyBackups,
			Target:  strings.Join(ids, ","),
		})
	}
	steps = append(steps, model.EscalationStep{
		Trigger: TriggerNoResponse,
		Delay:   time.Duration(math.Round(float64(eta) * r.cfg.NoResponseFactor)),
		Action:  ActionEscalateManager,
		Target:  r.cfg.ManagerContact,
	})
	return steps
}

func notifications(severity model.Severity, customer string, eta time.Duration) []model.NotificationStep {
	var plan []model.NotificationStep
	if severity == model.SeverityCritical {
		plan = append(plan, model.NotificationStep{Channel: "voice", Recipient: customer, Template: TemplateSafetyCall})
	}
	return append(plan,
		model.NotificationStep{Channel: "sms", Recipient: customer, Template: TemplateAck},
		model.NotificationStep{Channel: "sms", Recipient: customer, Template: TemplateETAUpdate, Delay: eta / 2},
		model.NotificationStep{Channel: "sms", Recipient: customer, Template: TemplateArrival, Delay: eta},
	)
}
