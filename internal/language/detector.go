// Package language classifies the dominant language of message text so
// replies can be drafted in the customer's language.
package language

import (
	"fmt"
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"mailpilot/internal/model"
)

// Unknown is returned when no reliable detection is possible. Callers
// fall back to the configured default language.
const Unknown = ""

// Detector classifies text into an ISO 639-1 language code. Detection is
// a pure function: deterministic for the same input, no side effects.
type Detector struct {
	// minChars is the shortest input worth classifying; anything
	// shorter returns Unknown rather than a guess.
	minChars int
}

// NewDetector creates a detector from the language settings.
func NewDetector(cfg model.LanguageConfig) *Detector {
	minChars := cfg.MinChars
	if minChars <= 0 {
		minChars = 20
	}
	return &Detector{minChars: minChars}
}

// Detect returns the ISO 639-1 code of the text's dominant language, or
// Unknown when the input is too short or the classification unreliable.
func (d *Detector) Detect(text string) string {
	cleaned := strings.TrimSpace(text)
	if len([]rune(cleaned)) < d.minChars {
		return Unknown
	}

	info := whatlanggo.Detect(cleaned)
	if !info.IsReliable() {
		return Unknown
	}

	code := info.Lang.Iso6391()
	if code == "" {
		return Unknown
	}

	// Canonicalize through the BCP 47 registry; codes it cannot place
	// are treated as unknown rather than passed through.
	base, err := language.ParseBase(code)
	if err != nil {
		return Unknown
	}

	return base.String()
}

// Instruction returns the reply-language clause for the generation
// system prompt. Unknown or unparseable codes fall back to mirroring the
// customer's language.
func Instruction(code string) string {
	if code == Unknown {
		return "Always reply in the customer's language."
	}

	tag, err := language.Parse(code)
	if err != nil {
		return "Always reply in the customer's language."
	}

	name := display.English.Languages().Name(tag)
	if name == "" {
		return "Always reply in the customer's language."
	}

	return fmt.Sprintf("Reply in %s.", name)
}
