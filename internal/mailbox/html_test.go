package mailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "plain text untouched", input: "hello world", want: "hello world"},
		{
			name:  "tags removed",
			input: "<div><b>Hello</b> <i>world</i></div>",
			want:  "Hello world",
		},
		{
			name:  "line breaks preserved",
			input: "<p>first</p><p>second</p>",
			want:  "first\nsecond",
		},
		{
			name:  "entities decoded",
			input: "a &amp; b &lt;c&gt; &quot;d&quot;&nbsp;e",
			want:  "a & b <c> \"d\" e",
		},
		{
			name:  "blank runs collapsed",
			input: "<p>one</p><br><br><br><p>two</p>",
			want:  "one\n\ntwo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripHTML(tt.input))
		})
	}
}

func TestPlainToHTML(t *testing.T) {
	assert.Equal(t, "", PlainToHTML(""))
	assert.Equal(t, "<p>hello</p>", PlainToHTML("hello"))
	assert.Equal(t, "<p>line one<br />line two</p>", PlainToHTML("line one\nline two"))
	assert.Equal(t, "<p>&lt;script&gt;</p>", PlainToHTML("<script>"))
}
