package classify

import (
	"math"

	"github.com/sells-group/comms-cli/internal/model"
)

type keywordResult struct {
	matched     []string
	indicators  []string
	types       []string
	weight      float64
	severity    model.Severity
	primaryType string
	confidence  float64
}

// keywords scores the weighted phrase table. Each phrase counts once no
// matter how often it repeats, and a phrase inside a longer matched phrase
// is ignored.
func (c *Classifier) keywords(lower string) keywordResult {
	var res keywordResult
	var taken [][2]int
	bestWeight := -1.0
	seenType := map[string]bool{}

	for _, kw := range c.tables.EmergencyKeywords {
		hit := false
		for _, loc := range kw.FindAll(lower) {
			if overlaps(taken, loc[0], loc[1]) {
				continue
			}
			taken = append(taken, [2]int{loc[0], loc[1]})
			hit = true
		}
		if !hit {
			continue
		}
		res.matched = append(res.matched, kw.Text)
		res.indicators = append(res.indicators, "keyword: "+kw.Text+" ("+string(kw.Severity)+")")
		res.weight += kw.Weight
		if kw.Severity.Rank() > res.severity.Rank() {
			res.severity = kw.Severity
		}
		if kw.Weight > bestWeight {
			bestWeight = kw.Weight
			res.primaryType = kw.Type
		}
		if kw.Type != "" && !seenType[kw.Type] {
			seenType[kw.Type] = true
			res.types = append(res.types, kw.Type)
		}
	}
	res.confidence = math.Min(0.9, res.weight/10)
	return res
}

// Priority derives an initial conversation priority from the keyword table
// alone, for messages that have not been classified yet.
func (c *Classifier) Priority(text string) model.Priority {
	kw := c.keywords(lowerText(text))
	if len(kw.matched) == 0 {
		return model.PriorityNormal
	}
	return kw.severity.Priority()
}

type semanticResult struct {
	score      float64
	confidence float64
	indicators []string
}

// semantic scores urgency, distress and magnitude phrase families.
func (c *Classifier) semantic(lower string) semanticResult {
	urgency := c.tables.SemanticUrgency.Count(lower)
	distress := c.tables.SemanticDistress.Count(lower)
	magnitude := c.tables.SemanticMagnitude.Count(lower)

	score := math.Min(1, 0.3*float64(urgency)+0.2*float64(distress)+0.25*float64(magnitude))
	res := semanticResult{score: score, confidence: 0.5 + score/2}
	if urgency > 0 {
		res.indicators = append(res.indicators, "semantic: urgent language")
	}
	if distress > 0 {
		res.indicators = append(res.indicators, "semantic: emotional distress")
	}
	if magnitude > 0 {
		res.indicators = append(res.indicators, "semantic: severe extent")
	}
	return res
}

func overlaps(taken [][2]int, start, end int) bool {
	for _, t := range taken {
		if start < t[1] && t[0] < end {
			return true
		}
	}
	return false
}
