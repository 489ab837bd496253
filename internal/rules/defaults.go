package rules

import "github.com/sells-group/comms-cli/internal/model"

// DefaultSpec returns the built-in rule tables for a residential and light
// commercial plumbing, heating and electrical service business.
func DefaultSpec() Spec {
	keywordIsEmergency := true
	return Spec{
		Version: DefaultVersion,
		Policy:  PolicySpec{KeywordMatchIsEmergency: &keywordIsEmergency},

		Urgency: []UrgencySpec{
			{Phrase: "emergency", Level: model.UrgencyEmergency},
			{Phrase: "gas leak", Level: model.UrgencyEmergency},
			{Phrase: "smell gas", Level: model.UrgencyEmergency},
			{Phrase: "smells like gas", Level: model.UrgencyEmergency},
			{Phrase: "carbon monoxide", Level: model.UrgencyEmergency},
			{Phrase: "fire", Level: model.UrgencyEmergency},
			{Phrase: "smoke", Level: model.UrgencyEmergency},
			{Phrase: "sparking", Level: model.UrgencyEmergency},
			{Phrase: "flooding", Level: model.UrgencyEmergency},
			{Phrase: "flooded", Level: model.UrgencyEmergency},
			{Phrase: "burst pipe", Level: model.UrgencyEmergency},
			{Phrase: "pipe burst", Level: model.UrgencyEmergency},
			{Phrase: "water everywhere", Level: model.UrgencyEmergency},
			{Phrase: "sewage backup", Level: model.UrgencyEmergency},
			{Phrase: "no heat", Level: model.UrgencyEmergency},

			{Phrase: "urgent", Level: model.UrgencyHigh},
			{Phrase: "asap", Level: model.UrgencyHigh},
			{Phrase: "as soon as possible", Level: model.UrgencyHigh},
			{Phrase: "right away", Level: model.UrgencyHigh},
			{Phrase: "immediately", Level: model.UrgencyHigh},
			{Phrase: "today", Level: model.UrgencyHigh},
			{Phrase: "leaking", Level: model.UrgencyHigh},
			{Phrase: "no hot water", Level: model.UrgencyHigh},
			{Phrase: "no power", Level: model.UrgencyHigh},
			{Phrase: "not working", Level: model.UrgencyHigh},

			{Phrase: "soon", Level: model.UrgencyMedium},
			{Phrase: "tomorrow", Level: model.UrgencyMedium},
			{Phrase: "this week", Level: model.UrgencyMedium},
			{Phrase: "when you can", Level: model.UrgencyMedium},

			{Phrase: "no rush", Level: model.UrgencyLow},
			{Phrase: "no hurry", Level: model.UrgencyLow},
			{Phrase: "not urgent", Level: model.UrgencyLow},
			{Phrase: "not an emergency", Level: model.UrgencyLow},
			{Phrase: "no emergency", Level: model.UrgencyLow},
			{Phrase: "whenever", Level: model.UrgencyLow},
			{Phrase: "at your convenience", Level: model.UrgencyLow},
			{Phrase: "next week", Level: model.UrgencyLow},
			{Phrase: "sometime", Level: model.UrgencyLow},
		},

		EmergencyKeywords: []EmergencyKeywordSpec{
			{Phrase: "gas leak", Severity: model.SeverityCritical, Weight: 10, Type: "gas_leak"},
			{Phrase: "smell gas", Severity: model.SeverityCritical, Weight: 10, Type: "gas_leak"},
			{Phrase: "smells like gas", Severity: model.SeverityCritical, Weight: 10, Type: "gas_leak"},
			{Phrase: "carbon monoxide", Severity: model.SeverityCritical, Weight: 10, Type: "carbon_monoxide"},
			{Phrase: "co alarm", Severity: model.SeverityCritical, Weight: 9, Type: "carbon_monoxide"},
			{Phrase: "fire", Severity: model.SeverityCritical, Weight: 10, Type: "fire"},
			{Phrase: "smoke", Severity: model.SeverityCritical, Weight: 8, Type: "fire"},
			{Phrase: "sparking", Severity: model.SeverityCritical, Weight: 9, Type: "electrical"},
			{Phrase: "burst pipe", Severity: model.SeverityHigh, Weight: 8, Type: "flooding"},
			{Phrase: "pipe burst", Severity: model.SeverityHigh, Weight: 8, Type: "flooding"},
			{Phrase: "flooding", Severity: model.SeverityHigh, Weight: 8, Type: "flooding"},
			{Phrase: "flooded", Severity: model.SeverityHigh, Weight: 8, Type: "flooding"},
			{Phrase: "water everywhere", Severity: model.SeverityHigh, Weight: 7, Type: "flooding"},
			{Phrase: "sewage backup", Severity: model.SeverityHigh, Weight: 7, Type: "sewage"},
			{Phrase: "frozen pipe", Severity: model.SeverityHigh, Weight: 7, Type: "frozen_pipes"},
			{Phrase: "frozen pipes", Severity: model.SeverityHigh, Weight: 7, Type: "frozen_pipes"},
			{Phrase: "no heat", Severity: model.SeverityHigh, Weight: 7, Type: "no_heat"},
			{Phrase: "no power", Severity: model.SeverityHigh, Weight: 6, Type: "electrical"},
			{Phrase: "emergency", Severity: model.SeverityHigh, Weight: 6, Type: "general"},
			{Phrase: "no ac", Severity: model.SeverityMedium, Weight: 5, Type: "no_cooling"},
			{Phrase: "no a/c", Severity: model.SeverityMedium, Weight: 5, Type: "no_cooling"},
			{Phrase: "no air conditioning", Severity: model.SeverityMedium, Weight: 5, Type: "no_cooling"},
			{Phrase: "no hot water", Severity: model.SeverityMedium, Weight: 4, Type: "no_hot_water"},
			{Phrase: "leaking", Severity: model.SeverityMedium, Weight: 4, Type: "leak"},
			{Phrase: "backed up", Severity: model.SeverityMedium, Weight: 3, Type: "drain"},
			{Phrase: "urgent", Severity: model.SeverityMedium, Weight: 3, Type: "general"},
			{Phrase: "asap", Severity: model.SeverityMedium, Weight: 3, Type: "general"},
			{Phrase: "clogged", Severity: model.SeverityLow, Weight: 2, Type: "drain"},
			{Phrase: "dripping", Severity: model.SeverityLow, Weight: 1, Type: "leak"},
		},

		EmergencyTypes: []EmergencyTypeSpec{
			{
				Name:              "gas_leak",
				Skills:            []string{"gas", "plumbing"},
				Resources:         []string{"gas detector", "pipe wrench set", "shutoff tools"},
				Actions:           []string{"Leave the building now", "Do not use switches or open flames", "Call the gas utility from outside"},
				EmergencyServices: true,
			},
			{
				Name:              "carbon_monoxide",
				Skills:            []string{"hvac", "gas"},
				Resources:         []string{"co detector", "combustion analyzer"},
				Actions:           []string{"Get everyone outside into fresh air", "Do not re-enter until cleared"},
				EmergencyServices: true,
			},
			{
				Name:              "fire",
				Skills:            []string{"electrical"},
				Resources:         []string{"fire extinguisher", "thermal camera"},
				Actions:           []string{"Evacuate and call 911", "Shut off power at the main if safe"},
				EmergencyServices: true,
			},
			{
				Name:      "electrical",
				Skills:    []string{"electrical"},
				Resources: []string{"voltage tester", "insulated tools", "replacement breakers"},
				Actions:   []string{"Turn off the breaker feeding the affected circuit", "Keep clear of sparking outlets"},
			},
			{
				Name:      "flooding",
				Skills:    []string{"plumbing", "water_damage"},
				Resources: []string{"wet vac", "pipe repair kit", "moisture meter"},
				Actions:   []string{"Shut off the main water valve", "Move valuables off the floor"},
			},
			{
				Name:      "sewage",
				Skills:    []string{"drain", "plumbing"},
				Resources: []string{"drain snake", "camera inspection kit", "ppe"},
				Actions:   []string{"Stop running water and flushing toilets"},
			},
			{
				Name:      "frozen_pipes",
				Skills:    []string{"plumbing"},
				Resources: []string{"pipe heater", "pipe repair kit"},
				Actions:   []string{"Shut off the main water valve", "Open faucets to relieve pressure"},
			},
			{
				Name:      "no_heat",
				Skills:    []string{"hvac"},
				Resources: []string{"furnace parts kit", "space heaters"},
				Actions:   []string{"Check the thermostat and furnace breaker"},
			},
			{
				Name:      "no_cooling",
				Skills:    []string{"hvac"},
				Resources: []string{"refrigerant", "capacitor kit"},
				Actions:   []string{"Check the thermostat and outdoor unit breaker"},
			},
			{
				Name:      "no_hot_water",
				Skills:    []string{"plumbing", "water_heater"},
				Resources: []string{"water heater parts"},
				Actions:   []string{"Check the water heater pilot or breaker"},
			},
			{
				Name:      "leak",
				Skills:    []string{"plumbing"},
				Resources: []string{"pipe repair kit"},
				Actions:   []string{"Place a bucket under the leak", "Close the nearest shutoff valve"},
			},
			{
				Name:      "drain",
				Skills:    []string{"drain"},
				Resources: []string{"drain snake"},
			},
			{
				Name:      "general",
				Skills:    []string{"general"},
				Resources: []string{"standard service kit"},
				Actions:   []string{"Call the customer back to assess the situation"},
			},
		},

		Services: []ServiceSpec{
			{Type: "gas", BaseConfidence: 90, Patterns: []string{`\bgas (?:line|leak|smell|meter)\b`, `\bsmells? (?:like )?gas\b`}},
			{Type: "water_heater", BaseConfidence: 90, Patterns: []string{`\bwater heater\b`, `\bno hot water\b`, `\btankless\b`}},
			{Type: "hvac", BaseConfidence: 85, Patterns: []string{`\b(?:hvac|furnace|heat pump|thermostat|no heat)\b`, `\b(?:a/c|ac unit|air condition\w*)\b`}},
			{Type: "drain_cleaning", BaseConfidence: 85, Patterns: []string{`\b(?:drains?|clog\w*|backed up|slow drain)\b`}},
			{Type: "sewer", BaseConfidence: 85, Patterns: []string{`\b(?:sewer|sewage|septic)\b`}},
			{Type: "plumbing", BaseConfidence: 80, Patterns: []string{`\b(?:plumb\w*|pipes?|faucets?|toilets?|sinks?|leak\w*|drip\w*|shower)\b`}},
			{Type: "electrical", BaseConfidence: 80, Patterns: []string{`\b(?:electric\w*|outlets?|breakers?|wiring|sparks?|sparking|no power)\b`}},
			{Type: "maintenance", BaseConfidence: 60, Patterns: []string{`\b(?:inspection|tune[- ]?up|maintenance|estimate|quote)\b`}},
		},

		Sentiment: SentimentSpec{
			Frustrated: []string{"frustrated", "ridiculous", "unacceptable", "fed up", "still waiting", "again", "third time", "nobody called", "no one called", "terrible service"},
			Urgent:     []string{"urgent", "asap", "emergency", "right away", "immediately", "hurry"},
			Negative:   []string{"disappointed", "unhappy", "bad", "worse", "problem", "broken", "upset", "annoyed"},
			Positive:   []string{"thank", "thanks", "great", "appreciate", "awesome", "perfect", "excellent", "happy", "love"},
		},

		Semantic: SemanticSpec{
			Urgency:   []string{"now", "right now", "immediately", "asap", "right away", "hurry", "quickly", "as soon as possible", "send someone"},
			Distress:  []string{"scared", "worried", "panic", "panicking", "please help", "help", "desperate", "afraid", "terrified", "freaking out"},
			Magnitude: []string{"everywhere", "a lot", "huge", "massive", "entire", "whole house", "all over", "pouring", "spreading", "getting worse"},
		},

		Seasonal: SeasonalSpec{
			Winter: []string{"no_heat", "frozen_pipes", "carbon_monoxide"},
			Summer: []string{"no_cooling"},
		},

		Addresses: AddressSpec{
			Service: []string{"at", "located", "property", "house", "home", "come to", "service address", "job site"},
			Billing: []string{"bill", "billing", "invoice", "charge"},
			Mailing: []string{"mail", "mailing", "send to", "ship", "po box"},
		},

		ProblemKeywords: []string{
			"leak", "leaking", "drip", "dripping", "clog", "clogged", "broken", "not working", "won't",
			"doesn't", "stopped", "no heat", "no hot water", "no power", "noise", "noisy", "smell", "running",
			"backed up", "flood", "flooding", "burst", "frozen", "sparking", "tripping", "gas", "smoke", "fire",
			"overflow", "overflowing", "cracked", "repair", "fix", "install", "replace", "problem", "issue",
		},
		SymptomPatterns: []string{
			`\b(?:is|are|keeps?|started) (?:leaking|dripping|running|making (?:a )?noise|tripping|overflowing)\b`,
			`\b(?:won't|doesn't|does not|will not|can't|cannot) (?:turn on|turn off|flush|drain|heat|cool|stop|start|work)\b`,
			`\bwater (?:on|under|coming from|in) the\b`,
			`\bno (?:heat|hot water|power|water pressure|cooling)\b`,
		},
		PolitePhrases: []string{"dear", "sincerely", "regards", "kindly", "would you please", "i would appreciate", "thank you for your time", "good morning", "good afternoon", "to whom it may concern"},
		CannedReplies: []string{"ok", "okay", "yes", "no", "thanks", "thank you", "sounds good", "got it", "confirmed", "see you then", "k", "y", "n"},

		BusinessKeywords:         []string{"llc", "inc", "company", "our office", "our store", "restaurant", "business", "commercial", "warehouse", "corporate", "facility"},
		PropertyManagerKeywords:  []string{"property manager", "property management", "tenant", "tenants", "landlord", "unit", "units", "apartment complex", "hoa", "rental", "leasing office"},
		EmergencyContactKeywords: []string{"emergency contact", "on behalf of", "my mother", "my father", "my mom", "my dad", "elderly", "neighbor", "calling for"},
		FollowUpKeywords:         []string{"follow up", "following up", "checking in", "any update", "status", "still waiting", "called earlier", "last week", "yesterday", "previous", "again", "quote", "estimate", "invoice"},
		VulnerableKeywords:       []string{"elderly", "baby", "infant", "newborn", "disabled", "pregnant", "oxygen", "medical", "nursing home", "daycare", "school", "hospital"},

		NamePatterns: []string{
			`(?:[Tt]his is|[Mm]y name is|[Ii]t's|[Ii]t is|[Ii] am|[Ii]'m|[Hh]i,? [Ii]'m)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`,
			`(?:^|\n)\s*-\s*([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)\s*$`,
			`(?:[Tt]hanks|[Tt]hank you|[Rr]egards),?\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)\s*[.!]?\s*$`,
		},
		NameStoplist: []string{
			"calling", "having", "looking", "here", "just", "not", "sure", "sorry", "the", "your", "interested",
			"home", "out", "still", "available", "going", "trying", "wondering", "waiting", "back", "ok", "okay",
			"good", "fine", "great", "very", "so", "a", "an", "in", "at", "on", "texting", "writing", "reaching",
		},
	}
}
