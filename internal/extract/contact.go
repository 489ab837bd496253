package extract

import (
	"regexp"
	"strings"

	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/phone"
)

var (
	phoneRe = regexp.MustCompile(`(?:\+?1[\s.-]?)?\(?\b\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`)
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

	streetSuffix = `(?:street|st|avenue|ave|road|rd|boulevard|blvd|drive|dr|lane|ln|court|ct|way|place|pl|circle|cir|parkway|pkwy|highway|hwy|trail|trl|terrace|ter)`
	addressRe    = regexp.MustCompile(`(?i)\b(\d{1,6}\s+(?:[a-z0-9.'-]+\s+){0,4}?` + streetSuffix + `\b\.?)` +
		`(?:,?\s*(?:apt|unit|suite|ste|#)\.?\s*[a-z0-9-]+)?` +
		`(?:,\s*([a-z][a-z .]*?),?\s+((?-i:[A-Z]{2}))\b(?:\s+(\d{5}(?:-\d{4})?))?)?`)
)

// name returns the first greeting-pattern capture that is not a stoplist word.
func (e *Engine) name(text string) string {
	for _, re := range e.tables.NamePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			words := strings.Fields(m[1])
			if len(words) == 0 || e.tables.NameStoplist[strings.ToLower(words[0])] {
				continue
			}
			if len(words) > 1 && e.tables.NameStoplist[strings.ToLower(words[1])] {
				words = words[:1]
			}
			return strings.Join(words, " ")
		}
	}
	return ""
}

func phones(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range phoneRe.FindAllString(text, -1) {
		n := phone.Normalize(m)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func emails(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range emailRe.FindAllString(text, -1) {
		m = strings.ToLower(strings.TrimRight(m, "."))
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

func (e *Engine) addresses(original, lower string) []model.ExtractedAddress {
	var out []model.ExtractedAddress
	seen := map[string]bool{}
	for _, loc := range addressRe.FindAllStringSubmatchIndex(original, -1) {
		raw := strings.TrimSpace(original[loc[0]:loc[1]])
		key := strings.ToLower(raw)
		if seen[key] {
			continue
		}
		seen[key] = true

		addr := model.ExtractedAddress{
			Raw:    raw,
			Street: group(original, loc, 1),
			City:   strings.TrimSpace(group(original, loc, 2)),
			State:  group(original, loc, 3),
			Zip:    group(original, loc, 4),
		}
		addr.Type = e.addressType(strings.ToLower(original[runeStart(original, loc[0]-40):loc[0]]))
		out = append(out, addr)
	}
	return out
}

// addressType types an address by the cue word closest before it. Without
// a cue the address is taken to be where the work happens.
func (e *Engine) addressType(before string) model.AddressType {
	typ, best := model.AddressService, e.tables.ServiceAddress.LastEnd(before)
	if end := e.tables.BillingAddress.LastEnd(before); end > best {
		typ, best = model.AddressBilling, end
	}
	if end := e.tables.MailingAddress.LastEnd(before); end > best {
		typ = model.AddressMailing
	}
	return typ
}

func group(s string, loc []int, n int) string {
	if 2*n+1 >= len(loc) || loc[2*n] < 0 {
		return ""
	}
	return s[loc[2*n]:loc[2*n+1]]
}
