package htmlutil

import (
	"regexp"
	"strings"

	"github.com/k3a/html2text"
)

var footnoteRef = regexp.MustCompile(`\[.*?\]`)

// ToText converts HTML to plain text using a proper HTML parser.
// Handles entities, strips tags, and preserves readable text.
func ToText(s string) string {
	return html2text.HTML2Text(s)
}

// CellText reduces a table cell's text to a single trimmed line with
// footnote markers like [1] or [a] removed.
func CellText(text string) string {
	text = footnoteRef.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}
