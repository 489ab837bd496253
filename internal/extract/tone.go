package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sells-group/comms-cli/internal/model"
)

const (
	briefMaxLen     = 50
	detailedMinLen  = 200
	incompleteLen   = 10
	garbledMinWord  = 4
	garbledRatio    = 0.3
	consonantRunMax = 5
	vowelRunMax     = 4
)

var (
	jobRefRe   = regexp.MustCompile(`(?i)\b(?:job|work order|ticket)\s*(?:#|no\.?|number)?\s*:?\s*([a-z0-9-]*\d[a-z0-9-]*)`)
	quoteRefRe = regexp.MustCompile(`(?i)\b(?:quote|estimate|invoice)\s*(?:#|no\.?|number)?\s*:?\s*([a-z0-9-]*\d[a-z0-9-]*)`)

	unfinishedRe = regexp.MustCompile(`(?i)(?:\b(?:and|or|but|the|a|an|to|my|is|with|because|so|if)|[,\-:]|\.\.\.)\s*$`)
	sentenceEnd  = regexp.MustCompile(`[.!?](?:\s|$)`)
)

// sentiment is first match wins: frustrated, urgent, negative, positive.
func (e *Engine) sentiment(lower string) model.Sentiment {
	switch {
	case e.tables.Frustrated.Any(lower):
		return model.SentimentFrustrated
	case e.tables.Urgent.Any(lower):
		return model.SentimentUrgent
	case e.tables.Negative.Any(lower):
		return model.SentimentNegative
	case e.tables.Positive.Any(lower):
		return model.SentimentPositive
	}
	return model.SentimentNeutral
}

func (e *Engine) style(original, lower string) model.CommunicationStyle {
	n := utf8.RuneCountInString(original)
	canned := strings.TrimFunc(lower, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	switch {
	case n < briefMaxLen || e.tables.CannedReplies[canned]:
		return model.StyleBrief
	case e.tables.PolitePhrases.Any(lower):
		return model.StyleFormal
	case n > detailedMinLen && (len(sentenceEnd.FindAllStringIndex(original, -1)) > 1 || strings.Contains(strings.TrimSpace(original), "\n")):
		return model.StyleDetailed
	}
	return model.StyleCasual
}

func (e *Engine) quality(original, lower string) model.MessageQuality {
	switch {
	case utf8.RuneCountInString(original) < incompleteLen || unfinishedRe.MatchString(original):
		return model.QualityIncomplete
	case garbled(lower):
		return model.QualityGarbled
	case !e.tables.ProblemKeywords.Any(lower) && !e.symptomFound(lower):
		return model.QualityUnclear
	}
	return model.QualityClear
}

func (e *Engine) symptomFound(lower string) bool {
	for _, re := range e.tables.SymptomPatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// garbled reports whether more than 30% of the longer words contain a run
// of five consonants or four vowels.
func garbled(lower string) bool {
	words := strings.FieldsFunc(lower, func(r rune) bool { return !unicode.IsLetter(r) })
	total, bad := 0, 0
	for _, w := range words {
		if utf8.RuneCountInString(w) < garbledMinWord {
			continue
		}
		total++
		if longRun(w) {
			bad++
		}
	}
	return total > 0 && float64(bad)/float64(total) > garbledRatio
}

func longRun(word string) bool {
	cons, vow := 0, 0
	for _, r := range word {
		switch {
		case strings.ContainsRune("aeiou", r):
			vow++
			cons = 0
		case r >= 'a' && r <= 'z':
			cons++
			vow = 0
		default:
			cons, vow = 0, 0
		}
		if cons >= consonantRunMax || vow >= vowelRunMax {
			return true
		}
	}
	return false
}

func references(re *regexp.Regexp, text string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		out = appendUnique(out, strings.ToUpper(m[1]))
	}
	return out
}
