// Package routing ranks responders for a classified emergency and builds
// the escalation and notification plans that drive dispatch.
package routing

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/rules"
)

// ErrNoAvailableResponder is returned when no responder can take the incident.
var ErrNoAvailableResponder = eris.New("routing: no available technician")

// Scoring weights.
const (
	skillWeight     = 0.4
	workloadWeight  = 0.3
	proximityWeight = 0.3
)

// Escalation triggers and actions.
const (
	TriggerDispatch   = "dispatch"
	TriggerNoResponse = "no_response"

	ActionEmergencyServices = "contact_emergency_services"
	ActionNotifyBackups     = "notify_backups"
	ActionEscalateManager   = "escalate_to_manager"
)

// Config tunes ranking and plan generation.
type Config struct {
	SpeedKMH                    float64
	DispatchOverhead            time.Duration
	UnknownETA                  time.Duration
	NoResponseFactor            float64
	Backups                     int
	RequireCertifiedForCritical bool
	ManagerContact              string
	EmergencyServicesContact    string
}

// DefaultConfig returns the standard routing settings.
func DefaultConfig() Config {
	return Config{
		SpeedKMH:                    40,
		DispatchOverhead:            10 * time.Minute,
		UnknownETA:                  45 * time.Minute,
		NoResponseFactor:            1.2,
		Backups:                     2,
		RequireCertifiedForCritical: true,
		ManagerContact:              "on-call-manager",
		EmergencyServicesContact:    "911",
	}
}

// Ranker scores responders against incidents. It holds no mutable state.
type Ranker struct {
	tables *rules.Tables
	cfg    Config
	now    func() time.Time
}

// NewRanker creates a Ranker. Zero-valued config fields take defaults.
func NewRanker(t *rules.Tables, cfg Config) *Ranker {
	def := DefaultConfig()
	if cfg.SpeedKMH <= 0 {
		cfg.SpeedKMH = def.SpeedKMH
	}
	if cfg.DispatchOverhead <= 0 {
		cfg.DispatchOverhead = def.DispatchOverhead
	}
	if cfg.UnknownETA <= 0 {
		cfg.UnknownETA = def.UnknownETA
	}
	if cfg.NoResponseFactor <= 0 {
		cfg.NoResponseFactor = def.NoResponseFactor
	}
	if cfg.Backups < 0 {
		cfg.Backups = 0
	}
	if cfg.ManagerContact == "" {
		cfg.ManagerContact = def.ManagerContact
	}
	if cfg.EmergencyServicesContact == "" {
		cfg.EmergencyServicesContact = def.EmergencyServicesContact
	}
	return &Ranker{tables: t, cfg: cfg, now: time.Now}
}

// Rank scores every eligible responder and returns them best first, ties
// broken by responder id. For critical incidents only emergency-certified
// responders are eligible; if none are, everyone eligible is ranked and
// certified is false.
func (r *Ranker) Rank(inc model.Incident, pool []model.Responder) (ranked []model.RankedResponder, certified bool, err error) {
	candidates := available(pool)
	if len(candidates) == 0 {
		return nil, false, ErrNoAvailableResponder
	}

	certified = true
	if inc.Classification.Severity == model.SeverityCritical && r.cfg.RequireCertifiedForCritical {
		var cert []model.Responder
		for _, c := range candidates {
			if c.EmergencyCertified {
				cert = append(cert, c)
			}
		}
		if len(cert) > 0 {
			candidates = cert
		} else {
			certified = false
		}
	}

	required := r.tables.EmergencyType(inc.Classification.EmergencyType).Skills
	site := inc.Location
	ranked = make([]model.RankedResponder, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, r.score(c, required, site))
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Responder.ID < ranked[j].Responder.ID
	})
	return ranked, certified, nil
}

func (r *Ranker) score(c model.Responder, required []string, site *model.GeoPoint) model.RankedResponder {
	rr := model.RankedResponder{
		Responder:        c,
		SkillMatch:       round3(skillMatch(c.Skills, required)),
		WorkloadInverse:  round3(1 / float64(1+max(c.ActiveJobs, 0))),
		ProximityInverse: 0.5,
		ETAMinutes:       int(r.cfg.UnknownETA.Minutes()),
	}
	if km, ok := distanceKM(c.Location, site); ok {
		d := math.Round(km*100) / 100
		rr.DistanceKM = &d
		rr.ProximityInverse = round3(1 / (1 + km/10))
		rr.ETAMinutes = int(math.Ceil(km/r.cfg.SpeedKMH*60)) + int(r.cfg.DispatchOverhead.Minutes())
	}
	rr.Score = round3(skillWeight*rr.SkillMatch + workloadWeight*rr.WorkloadInverse + proximityWeight*rr.ProximityInverse)
	return rr
}

func available(pool []model.Responder) []model.Responder {
	var out []model.Responder
	for _, c := range pool {
		if !c.Available {
			continue
		}
		if c.MaxJobs > 0 && c.ActiveJobs >= c.MaxJobs {
			continue
		}
		out = append(out, c)
	}
	return out
}

// skillMatch is the share of required skills the responder has. With no
// requirement every responder is an even match.
func skillMatch(have, required []string) float64 {
	if len(required) == 0 {
		return 0.5
	}
	set := make(map[string]bool, len(have))
	for _, s := range have {
		set[strings.ToLower(s)] = true
	}
	n := 0
	for _, s := range required {
		if set[strings.ToLower(s)] {
			n++
		}
	}
	return float64(n) / float64(len(required))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
