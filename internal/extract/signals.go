package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/comms-cli/internal/model"
)

const contextWindow = 20

func (e *Engine) services(lower string) []model.ServiceMatch {
	var out []model.ServiceMatch
	for _, rule := range e.tables.Services {
		var evidence []string
		for _, re := range rule.Patterns {
			if m := re.FindString(lower); m != "" {
				evidence = append(evidence, m)
			}
		}
		if len(evidence) == 0 {
			continue
		}
		out = append(out, model.ServiceMatch{
			Type:       rule.Type,
			Confidence: float64(rule.BaseConfidence) / 100,
			Evidence:   evidence,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// urgency returns the highest tier matched and one indicator per match.
// Rules are ordered longest phrase first and a match overlapping an
// earlier one is dropped, so "not urgent" wins over "urgent". With no
// match the message is medium.
func (e *Engine) urgency(lower string) (model.UrgencyLevel, []model.UrgencyIndicator) {
	var claimed spans
	var indicators []model.UrgencyIndicator
	level := model.UrgencyLevel("")

	for _, rule := range e.tables.Urgency {
		for _, loc := range rule.FindAll(lower) {
			if !claimed.claim(loc[0], loc[1]) {
				continue
			}
			indicators = append(indicators, model.UrgencyIndicator{
				Phrase:  rule.Text,
				Level:   rule.Level,
				Context: window(lower, loc[0], loc[1], contextWindow),
			})
			if rule.Level.Rank() > level.Rank() {
				level = rule.Level
			}
		}
	}
	if level == "" {
		level = model.UrgencyMedium
	}
	sort.SliceStable(indicators, func(i, j int) bool {
		return indicators[i].Level.Rank() > indicators[j].Level.Rank()
	})
	return level, indicators
}

var (
	clock      = `(\d{1,2}(?::\d{2})?\s*(?:am|pm|a\.m\.|p\.m\.)?)`
	weekday    = `(monday|tuesday|wednesday|thursday|friday|saturday|sunday|mon|tues|tue|wed|thurs|thur|thu|fri|tomorrow|today|weekend|weekday)`
	rangeRe    = regexp.MustCompile(`\b(?:between\s+` + clock + `\s*(?:and|-|to)\s*` + clock + `|` + clock + `\s*(?:-|to)\s*` + clock + `)`)
	dayTimeRe  = regexp.MustCompile(`\b(?:on\s+|this\s+|next\s+)?` + weekday + `s?\b(?:\s+(?:at|around|@|by)\s*` + clock + `)?`)
	atTimeRe   = regexp.MustCompile(`\b(?:at|around|@|by)\s*(\d{1,2}(?::\d{2})?\s*(?:am|pm|a\.m\.|p\.m\.))`)
	asapRe     = regexp.MustCompile(`\b(?:asap|as soon as possible|right away|immediately|right now|first thing)\b`)
	flexibleRe = regexp.MustCompile(`\b(?:any ?time|whenever|flexible|no rush|any day|at your convenience|when(?:ever)? (?:it's|is) convenient)\b`)
	daypartRe  = regexp.MustCompile(`\b(?:in the\s+)?(morning|afternoon|evening)s?\b`)
	weekdayRe  = regexp.MustCompile(`\b` + weekday + `s?\b`)
	clockRe    = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)?$`)
)

var dayparts = map[string][2]string{
	"morning":   {"08:00", "12:00"},
	"afternoon": {"12:00", "17:00"},
	"evening":   {"17:00", "20:00"},
}

var dayNames = map[string][]string{
	"mon": {"monday"}, "tue": {"tuesday"}, "tues": {"tuesday"}, "wed": {"wednesday"},
	"thu": {"thursday"}, "thur": {"thursday"}, "thurs": {"thursday"}, "fri": {"friday"},
	"weekend": {"saturday", "sunday"},
	"weekday": {"monday", "tuesday", "wednesday", "thursday", "friday"},
}

// scheduling finds visit-time requests. Patterns run from most to least
// specific and a later pattern cannot reuse text an earlier one claimed.
func scheduling(lower string) []model.SchedulingRequest {
	var claimed spans
	var out []model.SchedulingRequest

	for _, m := range rangeRe.FindAllStringSubmatchIndex(lower, -1) {
		if !claimed.claim(m[0], m[1]) {
			continue
		}
		start, end := group(lower, m, 1), group(lower, m, 2)
		if start == "" {
			start, end = group(lower, m, 3), group(lower, m, 4)
		}
		from, to := clockRange(start, end)
		if from == "" || to == "" {
			continue
		}
		out = append(out, model.SchedulingRequest{
			Kind: model.ScheduleRange, Raw: lower[m[0]:m[1]], TimeStart: from, TimeEnd: to,
		})
	}

	for _, m := range dayTimeRe.FindAllStringSubmatchIndex(lower, -1) {
		if !claimed.claim(m[0], m[1]) {
			continue
		}
		day := group(lower, m, 1)
		req := model.SchedulingRequest{Kind: model.ScheduleSpecific, Raw: lower[m[0]:m[1]]}
		switch {
		case day == "today":
			req.Kind = model.ScheduleASAP
		case day == "weekend" || day == "weekday":
			req.Kind = model.ScheduleFlexible
		}
		if day != "today" && day != "tomorrow" {
			req.Days = expandDay(day)
		} else if day == "tomorrow" {
			req.Days = []string{"tomorrow"}
		}
		if t := group(lower, m, 2); t != "" {
			req.TimeStart = parseClock(t, "")
			req.Kind = model.ScheduleSpecific
		}
		out = append(out, req)
	}

	for _, m := range atTimeRe.FindAllStringSubmatchIndex(lower, -1) {
		if !claimed.claim(m[0], m[1]) {
			continue
		}
		out = append(out, model.SchedulingRequest{
			Kind: model.ScheduleSpecific, Raw: lower[m[0]:m[1]], TimeStart: parseClock(group(lower, m, 1), ""),
		})
	}

	for _, loc := range asapRe.FindAllStringIndex(lower, -1) {
		if claimed.claim(loc[0], loc[1]) {
			out = append(out, model.SchedulingRequest{Kind: model.ScheduleASAP, Raw: lower[loc[0]:loc[1]]})
		}
	}

	for _, m := range daypartRe.FindAllStringSubmatchIndex(lower, -1) {
		if !claimed.claim(m[0], m[1]) {
			continue
		}
		part := dayparts[group(lower, m, 1)]
		out = append(out, model.SchedulingRequest{
			Kind: model.ScheduleRange, Raw: lower[m[0]:m[1]], TimeStart: part[0], TimeEnd: part[1],
		})
	}

	for _, loc := range flexibleRe.FindAllStringIndex(lower, -1) {
		if claimed.claim(loc[0], loc[1]) {
			out = append(out, model.SchedulingRequest{Kind: model.ScheduleFlexible, Raw: lower[loc[0]:loc[1]]})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return strings.Index(lower, out[i].Raw) < strings.Index(lower, out[j].Raw)
	})
	return out
}

func expandDay(day string) []string {
	if full, ok := dayNames[day]; ok {
		return full
	}
	return []string{day}
}

// clockRange parses a start/end pair. A start without am/pm borrows the
// end's meridiem ("between 2 and 4pm").
func clockRange(start, end string) (string, string) {
	to := parseClock(end, "")
	return parseClock(start, meridiem(end)), to
}

func meridiem(s string) string {
	s = strings.ReplaceAll(s, ".", "")
	switch {
	case strings.HasSuffix(s, "am"):
		return "am"
	case strings.HasSuffix(s, "pm"):
		return "pm"
	}
	return ""
}

// parseClock converts "2pm", "2:30 p.m." or "9" to 24-hour HH:MM. Hours
// without a meridiem are read as working hours: 7-11 morning, 12-6 afternoon.
func parseClock(s, fallbackMeridiem string) string {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return ""
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if hour > 23 || minute > 59 {
		return ""
	}
	mer := meridiem(m[3])
	if mer == "" {
		mer = fallbackMeridiem
	}
	switch {
	case mer == "pm" && hour < 12:
		hour += 12
	case mer == "am" && hour == 12:
		hour = 0
	case mer == "" && hour >= 1 && hour <= 6:
		hour += 12
	}
	return pad2(hour) + ":" + pad2(minute)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

var sentenceSplitRe = regexp.MustCompile(`[.!?\n]+`)

const summaryFallbackLen = 200

// problems returns problem keywords and symptom phrases found in the text,
// and a one-sentence summary of the problem.
func (e *Engine) problems(original, lower string) ([]string, string) {
	found := e.tables.ProblemKeywords.Matches(lower)
	for _, re := range e.tables.SymptomPatterns {
		for _, m := range re.FindAllString(lower, -1) {
			found = appendUnique(found, strings.TrimSpace(m))
		}
	}

	for _, sentence := range sentenceSplitRe.Split(original, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence != "" && e.tables.ProblemKeywords.Any(sentence) {
			return found, sentence
		}
	}
	if utf8.RuneCountInString(original) < summaryFallbackLen {
		return found, original
	}
	return found, ""
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// spans tracks claimed byte ranges so overlapping matches are counted once.
type spans [][2]int

func (s *spans) claim(start, end int) bool {
	for _, c := range *s {
		if start < c[1] && c[0] < end {
			return false
		}
	}
	*s = append(*s, [2]int{start, end})
	return true
}

// window returns s[start-n:end+n] clamped to s and to rune boundaries.
func window(s string, start, end, n int) string {
	from := runeStart(s, start-n)
	to := end + n
	if to >= len(s) {
		to = len(s)
	} else {
		for to < len(s) && !utf8.RuneStart(s[to]) {
			to++
		}
	}
	return strings.TrimSpace(s[from:to])
}

// runeStart clamps i into s and moves it back to the start of a rune.
func runeStart(s string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
