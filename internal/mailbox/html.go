package mailbox

import (
	"html"
	"regexp"
	"strings"
)

// htmlTagPattern matches HTML tags for stripping.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// StripHTML removes HTML tags from a string and decodes common entities,
// providing a basic plain-text rendering for bodies that arrive without
// a text/plain part.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}

	result := s
	for _, tag := range []string{
		"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>",
	} {
		result = strings.ReplaceAll(result, tag, "\n")
	}

	result = htmlTagPattern.ReplaceAllString(result, "")
	result = html.UnescapeString(result)

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}

// PlainToHTML renders plain text as a minimal HTML body: escaped, with
// line breaks preserved.
func PlainToHTML(s string) string {
	if s == "" {
		return ""
	}

	escaped := html.EscapeString(s)
	return "<p>" + strings.ReplaceAll(escaped, "\n", "<br />") + "</p>"
}
