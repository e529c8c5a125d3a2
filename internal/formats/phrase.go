package formats

import (
	"regexp"
	"strings"
	"unicode"
)

// PhraseRegexp compiles a literal phrase into a case-insensitive pattern that
// tolerates runs of whitespace between words. Word boundaries are only
// asserted at ends that are word characters, so labels like "LOT #" still
// match when followed by a space.
func PhraseRegexp(phrase string) *regexp.Regexp {
	words := strings.Fields(phrase)
	if len(words) == 0 {
		return nil
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	body := strings.Join(quoted, `\s+`)

	first := []rune(words[0])[0]
	lastWord := []rune(words[len(words)-1])
	last := lastWord[len(lastWord)-1]

	var b strings.Builder
	b.WriteString("(?i)")
	if isWordRune(first) {
		b.WriteString(`\b`)
	}
	b.WriteString(body)
	if isWordRune(last) {
		b.WriteString(`\b`)
	}
	return regexp.MustCompile(b.String())
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
