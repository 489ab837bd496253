// Package rules holds the keyword and pattern tables that drive extraction
// and emergency classification. Tables are compiled once at startup and
// passed explicitly to the engines that use them.
package rules

import "github.com/sells-group/comms-cli/internal/model"

// DefaultVersion is the parser version stamped on extraction records
// produced by the built-in tables.
const DefaultVersion = "rules-2026.10"

// Spec is the declarative form of the rule tables, as written in YAML.
// An overlay file only needs to set the sections it changes.
type Spec struct {
	Version string        `yaml:"version"`
	Policy  PolicySpec    `yaml:"policy"`
	Urgency []UrgencySpec `yaml:"urgency"`

	EmergencyKeywords []EmergencyKeywordSpec `yaml:"emergency_keywords"`
	EmergencyTypes    []EmergencyTypeSpec    `yaml:"emergency_types"`
	Services          []ServiceSpec          `yaml:"services"`
	Sentiment         SentimentSpec          `yaml:"sentiment"`
	Semantic          SemanticSpec           `yaml:"semantic"`
	Seasonal          SeasonalSpec           `yaml:"seasonal"`
	Addresses         AddressSpec            `yaml:"addresses"`

	ProblemKeywords          []string `yaml:"problem_keywords"`
	SymptomPatterns          []string `yaml:"symptom_patterns"`
	PolitePhrases            []string `yaml:"polite_phrases"`
	CannedReplies            []string `yaml:"canned_replies"`
	BusinessKeywords         []string `yaml:"business_keywords"`
	PropertyManagerKeywords  []string `yaml:"property_manager_keywords"`
	EmergencyContactKeywords []string `yaml:"emergency_contact_keywords"`
	FollowUpKeywords         []string `yaml:"follow_up_keywords"`
	VulnerableKeywords       []string `yaml:"vulnerable_keywords"`
	NamePatterns             []string `yaml:"name_patterns"`
	NameStoplist             []string `yaml:"name_stoplist"`
}

// PolicySpec holds tunable decision policies.
type PolicySpec struct {
	// KeywordMatchIsEmergency flags a message as an emergency whenever any
	// emergency keyword matches, even when the urgency score stays below
	// the medium threshold. Nil keeps the default (true).
	KeywordMatchIsEmergency *bool `yaml:"keyword_match_is_emergency"`
}

// UrgencySpec maps a phrase to an urgency tier for the extraction engine.
type UrgencySpec struct {
	Phrase string             `yaml:"phrase"`
	Level  model.UrgencyLevel `yaml:"level"`
}

// EmergencyKeywordSpec is one weighted classifier keyword.
type EmergencyKeywordSpec struct {
	Phrase   string         `yaml:"phrase"`
	Severity model.Severity `yaml:"severity"`
	Weight   float64        `yaml:"weight"`
	Type     string         `yaml:"type"`
}

// EmergencyTypeSpec describes what an emergency type needs from a responder.
type EmergencyTypeSpec struct {
	Name              string   `yaml:"name"`
	Skills            []string `yaml:"skills"`
	Resources         []string `yaml:"resources"`
	Actions           []string `yaml:"actions"`
	EmergencyServices bool     `yaml:"emergency_services"`
}

// ServiceSpec is a service type with its detection patterns. A type is
// reported with confidence BaseConfidence/100 if any pattern matches.
type ServiceSpec struct {
	Type           string   `yaml:"type"`
	Patterns       []string `yaml:"patterns"`
	BaseConfidence int      `yaml:"base_confidence"`
}

// SentimentSpec lists keywords per sentiment, checked in priority order
// frustrated, urgent, negative, positive.
type SentimentSpec struct {
	Frustrated []string `yaml:"frustrated"`
	Urgent     []string `yaml:"urgent"`
	Negative   []string `yaml:"negative"`
	Positive   []string `yaml:"positive"`
}

// SemanticSpec lists the phrase families used by semantic scoring.
type SemanticSpec struct {
	Urgency   []string `yaml:"urgency"`
	Distress  []string `yaml:"distress"`
	Magnitude []string `yaml:"magnitude"`
}

// SeasonalSpec lists emergency types that are aggravated by season.
type SeasonalSpec struct {
	Winter []string `yaml:"winter"`
	Summer []string `yaml:"summer"`
}

// AddressSpec holds the context words used to type an address.
type AddressSpec struct {
	Service []string `yaml:"service"`
	Billing []string `yaml:"billing"`
	Mailing []string `yaml:"mailing"`
}

// merge overlays the non-empty sections of o onto s.
func (s Spec) merge(o Spec) Spec {
	if o.Version != "" {
		s.Version = o.Version
	}
	if o.Policy.KeywordMatchIsEmergency != nil {
		s.Policy.KeywordMatchIsEmergency = o.Policy.KeywordMatchIsEmergency
	}
	if len(o.Urgency) > 0 {
		s.Urgency = o.Urgency
	}
	if len(o.EmergencyKeywords) > 0 {
		s.EmergencyKeywords = o.EmergencyKeywords
	}
	if len(o.EmergencyTypes) > 0 {
		s.EmergencyTypes = o.EmergencyTypes
	}
	if len(o.Services) > 0 {
		s.Services = o.Services
	}
	s.Sentiment.Frustrated = pick(s.Sentiment.Frustrated, o.Sentiment.Frustrated)
	s.Sentiment.Urgent = pick(s.Sentiment.Urgent, o.Sentiment.Urgent)
	s.Sentiment.Negative = pick(s.Sentiment.Negative, o.Sentiment.Negative)
	s.Sentiment.Positive = pick(s.Sentiment.Positive, o.Sentiment.Positive)
	s.Semantic.Urgency = pick(s.Semantic.Urgency, o.Semantic.Urgency)
	s.Semantic.Distress = pick(s.Semantic.Distress, o.Semantic.Distress)
	s.Semantic.Magnitude = pick(s.Semantic.Magnitude, o.Semantic.Magnitude)
	s.Seasonal.Winter = pick(s.Seasonal.Winter, o.Seasonal.Winter)
	s.Seasonal.Summer = pick(s.Seasonal.Summer, o.Seasonal.Summer)
	s.Addresses.Service = pick(s.Addresses.Service, o.Addresses.Service)
	s.Addresses.Billing = pick(s.Addresses.Billing, o.Addresses.Billing)
	s.Addresses.Mailing = pick(s.Addresses.Mailing, o.Addresses.Mailing)
	s.ProblemKeywords = pick(s.ProblemKeywords, o.ProblemKeywords)
	s.SymptomPatterns = pick(s.SymptomPatterns, o.SymptomPatterns)
	s.PolitePhrases = pick(s.PolitePhrases, o.PolitePhrases)
	s.CannedReplies = pick(s.CannedReplies, o.CannedReplies)
	s.BusinessKeywords = pick(s.BusinessKeywords, o.BusinessKeywords)
	s.PropertyManagerKeywords = pick(s.PropertyManagerKeywords, o.PropertyManagerKeywords)
	s.EmergencyContactKeywords = pick(s.EmergencyContactKeywords, o.EmergencyContactKeywords)
	s.FollowUpKeywords = pick(s.FollowUpKeywords, o.FollowUpKeywords)
	s.VulnerableKeywords = pick(s.VulnerableKeywords, o.VulnerableKeywords)
	s.NamePatterns = pick(s.NamePatterns, o.NamePatterns)
	s.NameStoplist = pick(s.NameStoplist, o.NameStoplist)
	return s
}

func pick(base, overlay []string) []string {
	if len(overlay) > 0 {
		return overlay
	}
	return base
}
