package rules

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/comms-cli/internal/model"
)

// Phrase is a case-insensitive phrase matcher that only matches on word
// boundaries, so "fire" does not match "fireplace".
type Phrase struct {
	Text string
	re   *regexp.Regexp
}

// NewPhrase compiles a phrase matcher.
func NewPhrase(text string) (Phrase, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return Phrase{}, eris.New("rules: empty phrase")
	}
	expr := regexp.QuoteMeta(text)
	expr = strings.ReplaceAll(expr, " ", `\s+`)
	if r, _ := utf8.DecodeRuneInString(text); isWord(r) {
		expr = `\b` + expr
	}
	if r, _ := utf8.DecodeLastRuneInString(text); isWord(r) {
		expr += `\b`
	}
	re, err := regexp.Compile(`(?i)` + expr)
	if err != nil {
		return Phrase{}, eris.Wrapf(err, "rules: compile phrase %q", text)
	}
	return Phrase{Text: text, re: re}, nil
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// In reports whether the phrase occurs in s.
func (p Phrase) In(s string) bool {
	return p.re != nil && p.re.MatchString(s)
}

// FindAll returns the byte spans of every occurrence of the phrase in s.
func (p Phrase) FindAll(s string) [][]int {
	if p.re == nil {
		return nil
	}
	return p.re.FindAllStringIndex(s, -1)
}

// PhraseList is an ordered set of phrases.
type PhraseList []Phrase

// Any reports whether any phrase occurs in s.
func (l PhraseList) Any(s string) bool {
	for _, p := range l {
		if p.In(s) {
			return true
		}
	}
	return false
}

// Matches returns the text of every phrase that occurs in s, in list order.
func (l PhraseList) Matches(s string) []string {
	var out []string
	for _, p := range l {
		if p.In(s) {
			out = append(out, p.Text)
		}
	}
	return out
}

// LastEnd returns the end offset of the last phrase occurrence in s, or -1.
func (l PhraseList) LastEnd(s string) int {
	last := -1
	for _, p := range l {
		for _, loc := range p.FindAll(s) {
			if loc[1] > last {
				last = loc[1]
			}
		}
	}
	return last
}

// Count returns how many distinct phrases from the list occur in s. A
// phrase inside text already matched by an earlier phrase is not counted,
// so lists ordered longest first count "right now" once, not twice.
func (l PhraseList) Count(s string) int {
	var taken [][2]int
	n := 0
	for _, p := range l {
		hit := false
		for _, loc := range p.FindAll(s) {
			if overlaps(taken, loc[0], loc[1]) {
				continue
			}
			taken = append(taken, [2]int{loc[0], loc[1]})
			hit = true
		}
		if hit {
			n++
		}
	}
	return n
}

func overlaps(taken [][2]int, start, end int) bool {
	for _, t := range taken {
		if start < t[1] && t[0] < end {
			return true
		}
	}
	return false
}

// UrgencyRule is a compiled extraction urgency phrase.
type UrgencyRule struct {
	Phrase
	Level model.UrgencyLevel
}

// EmergencyKeyword is a compiled classifier keyword.
type EmergencyKeyword struct {
	Phrase
	Severity model.Severity
	Weight   float64
	Type     string
}

// ServiceRule is a compiled service-type detector.
type ServiceRule struct {
	Type           string
	Patterns       []*regexp.Regexp
	BaseConfidence int
}

// EmergencyType describes the skills, resources and first actions for an
// emergency type.
type EmergencyType struct {
	Name              string
	Skills            []string
	Resources         []string
	Actions           []string
	EmergencyServices bool
}

// Tables is the compiled, read-only rule set shared by the extraction
// engine and the classifier. Callers must not modify its slices or maps.
type Tables struct {
	Version                 string
	KeywordMatchIsEmergency bool

	Urgency           []UrgencyRule
	EmergencyKeywords []EmergencyKeyword
	EmergencyTypes    map[string]EmergencyType
	Services          []ServiceRule

	Frustrated PhraseList
	Urgent     PhraseList
	Negative   PhraseList
	Positive   PhraseList

	SemanticUrgency   PhraseList
	SemanticDistress  PhraseList
	SemanticMagnitude PhraseList

	WinterTypes map[string]bool
	SummerTypes map[string]bool

	ServiceAddress PhraseList
	BillingAddress PhraseList
	MailingAddress PhraseList

	ProblemKeywords          PhraseList
	SymptomPatterns          []*regexp.Regexp
	PolitePhrases            PhraseList
	CannedReplies            map[string]bool
	BusinessKeywords         PhraseList
	PropertyManagerKeywords  PhraseList
	EmergencyContactKeywords PhraseList
	FollowUpKeywords         PhraseList
	VulnerableKeywords       PhraseList
	NamePatterns             []*regexp.Regexp
	NameStoplist             map[string]bool
}

// Compile validates a Spec and builds its matchers.
func Compile(s Spec) (*Tables, error) {
	t := &Tables{
		Version:                 s.Version,
		KeywordMatchIsEmergency: true,
		EmergencyTypes:          make(map[string]EmergencyType, len(s.EmergencyTypes)),
		WinterTypes:             toSet(s.Seasonal.Winter),
		SummerTypes:             toSet(s.Seasonal.Summer),
		CannedReplies:           toSet(s.CannedReplies),
		NameStoplist:            toSet(s.NameStoplist),
	}
	if t.Version == "" {
		t.Version = DefaultVersion
	}
	if s.Policy.KeywordMatchIsEmergency != nil {
		t.KeywordMatchIsEmergency = *s.Policy.KeywordMatchIsEmergency
	}

	var errs []string
	addErr := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	for _, u := range s.Urgency {
		if u.Level.Rank() < 0 {
			errs = append(errs, "urgency "+u.Phrase+": unknown level "+string(u.Level))
			continue
		}
		p, err := NewPhrase(u.Phrase)
		addErr(err)
		t.Urgency = append(t.Urgency, UrgencyRule{Phrase: p, Level: u.Level})
	}

	for _, k := range s.EmergencyKeywords {
		if k.Severity.Rank() < 0 {
			errs = append(errs, "emergency keyword "+k.Phrase+": unknown severity "+string(k.Severity))
			continue
		}
		if k.Weight < 0 {
			errs = append(errs, "emergency keyword "+k.Phrase+": weight must be >= 0")
			continue
		}
		p, err := NewPhrase(k.Phrase)
		addErr(err)
		t.EmergencyKeywords = append(t.EmergencyKeywords, EmergencyKeyword{
			Phrase: p, Severity: k.Severity, Weight: k.Weight, Type: k.Type,
		})
	}

	for _, et := range s.EmergencyTypes {
		t.EmergencyTypes[et.Name] = EmergencyType(et)
	}

	for _, svc := range s.Services {
		if svc.BaseConfidence < 0 || svc.BaseConfidence > 100 {
			errs = append(errs, "service "+svc.Type+": base_confidence must be between 0 and 100")
			continue
		}
		rule := ServiceRule{Type: svc.Type, BaseConfidence: svc.BaseConfidence}
		for _, expr := range svc.Patterns {
			re, err := regexp.Compile(`(?i)` + expr)
			if err != nil {
				addErr(eris.Wrapf(err, "service %s", svc.Type))
				continue
			}
			rule.Patterns = append(rule.Patterns, re)
		}
		t.Services = append(t.Services, rule)
	}

	lists := []struct {
		dst *PhraseList
		src []string
	}{
		{&t.Frustrated, s.Sentiment.Frustrated},
		{&t.Urgent, s.Sentiment.Urgent},
		{&t.Negative, s.Sentiment.Negative},
		{&t.Positive, s.Sentiment.Positive},
		{&t.SemanticUrgency, s.Semantic.Urgency},
		{&t.SemanticDistress, s.Semantic.Distress},
		{&t.SemanticMagnitude, s.Semantic.Magnitude},
		{&t.ServiceAddress, s.Addresses.Service},
		{&t.BillingAddress, s.Addresses.Billing},
		{&t.MailingAddress, s.Addresses.Mailing},
		{&t.ProblemKeywords, s.ProblemKeywords},
		{&t.PolitePhrases, s.PolitePhrases},
		{&t.BusinessKeywords, s.BusinessKeywords},
		{&t.PropertyManagerKeywords, s.PropertyManagerKeywords},
		{&t.EmergencyContactKeywords, s.EmergencyContactKeywords},
		{&t.FollowUpKeywords, s.FollowUpKeywords},
		{&t.VulnerableKeywords, s.VulnerableKeywords},
	}
	for _, l := range lists {
		pl, err := compileList(l.src)
		addErr(err)
		*l.dst = pl
	}

	for _, expr := range s.SymptomPatterns {
		re, err := regexp.Compile(`(?i)` + expr)
		if err != nil {
			addErr(eris.Wrap(err, "symptom pattern"))
			continue
		}
		t.SymptomPatterns = append(t.SymptomPatterns, re)
	}
	for _, expr := range s.NamePatterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			addErr(eris.Wrap(err, "name pattern"))
			continue
		}
		if re.NumSubexp() < 1 {
			errs = append(errs, "name pattern "+expr+": needs a capture group")
			continue
		}
		t.NamePatterns = append(t.NamePatterns, re)
	}

	if len(errs) > 0 {
		return nil, eris.Errorf("rules: invalid tables: %s", strings.Join(errs, "; "))
	}

	// Longer phrases first so overlap resolution keeps the most specific match.
	sort.SliceStable(t.Urgency, func(i, j int) bool {
		return len(t.Urgency[i].Text) > len(t.Urgency[j].Text)
	})
	sort.SliceStable(t.EmergencyKeywords, func(i, j int) bool {
		return len(t.EmergencyKeywords[i].Text) > len(t.EmergencyKeywords[j].Text)
	})
	for _, l := range []PhraseList{t.SemanticUrgency, t.SemanticDistress, t.SemanticMagnitude} {
		sort.SliceStable(l, func(i, j int) bool { return len(l[i].Text) > len(l[j].Text) })
	}
	return t, nil
}

// Default returns the compiled built-in tables.
func Default() *Tables {
	t, err := Compile(DefaultSpec())
	if err != nil {
		panic(err)
	}
	return t
}

// EmergencyType returns the descriptor for an emergency type, falling back
// to "general".
func (t *Tables) EmergencyType(name string) EmergencyType {
	if et, ok := t.EmergencyTypes[name]; ok {
		return et
	}
	if et, ok := t.EmergencyTypes["general"]; ok {
		return et
	}
	return EmergencyType{Name: name}
}

func compileList(src []string) (PhraseList, error) {
	out := make(PhraseList, 0, len(src))
	for _, s := range src {
		p, err := NewPhrase(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func toSet(vals []string) map[string]bool {
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[strings.ToLower(strings.TrimSpace(v))] = true
	}
	return m
}
