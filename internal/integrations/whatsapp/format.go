package whatsapp

import (
	"regexp"
	"strings"
)

var (
	// Assistant file-search citations look like 【4:0†source】.
	citationPattern = regexp.MustCompile(`【.*?】`)
	boldPattern     = regexp.MustCompile(`\*\*(.*?)\*\*`)
)

// FormatText rewrites assistant markdown into WhatsApp markup: citation
// markers are removed and **bold** becomes *bold*. Unmatched delimiters are
// left untouched.
func FormatText(text string) string {
	text = strings.TrimSpace(citationPattern.ReplaceAllString(text, ""))
	return boldPattern.ReplaceAllString(text, "*${1}*")
}
