package language

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mailpilot/internal/model"
)

func newTestDetector() *Detector {
	return NewDetector(model.LanguageConfig{MinChars: 20})
}

func TestDetectEnglish(t *testing.T) {
	d := newTestDetector()

	text := "Hello, I ordered a package two weeks ago and it still has not arrived. " +
		"Could you please check the delivery status for me?"

	assert.Equal(t, "en", d.Detect(text))
}

func TestDetectRussian(t *testing.T) {
	d := newTestDetector()

	text := "Здравствуйте! Я оформил заказ две недели назад, но посылка до сих пор не пришла. " +
		"Подскажите, пожалуйста, где она находится?"

	assert.Equal(t, "ru", d.Detect(text))
}

func TestDetectShortInputIsUnknown(t *testing.T) {
	d := newTestDetector()

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t  "},
		{"below threshold", "ok thanks"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, Unknown, d.Detect(tt.text))
		})
	}
}

func TestDetectDeterministic(t *testing.T) {
	d := newTestDetector()

	text := "Guten Tag, ich habe eine Frage zu meiner letzten Bestellung und " +
		"würde gerne den Lieferstatus erfahren."

	first := d.Detect(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, d.Detect(text))
	}
}

func TestInstruction(t *testing.T) {
	assert.Equal(t, "Reply in English.", Instruction("en"))
	assert.Equal(t, "Reply in Russian.", Instruction("ru"))
	assert.Equal(t, "Always reply in the customer's language.", Instruction(Unknown))
	assert.Equal(t, "Always reply in the customer's language.", Instruction("not-a-code"))
}
