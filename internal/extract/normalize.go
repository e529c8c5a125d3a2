package extract

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKC (folding ligatures and full-width forms that PDF
// text layers often carry), unifies line endings and trims trailing space.
// Form feeds between pages become blank lines.
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\f", "\n\n")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
