package extract

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeContent returns the NFKC form of text with runs of whitespace
// collapsed to single spaces. Stored as Message.NormalizedContent.
func NormalizeContent(text string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(text)), " ")
}
