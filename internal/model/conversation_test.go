package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTopic(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		want    string
	}{
		{name: "plain subject", subject: "Order #42", want: "order #42"},
		{name: "reply prefix", subject: "Re: Order #42", want: "order #42"},
		{name: "forward prefix", subject: "Fwd: Order #42", want: "order #42"},
		{name: "short forward prefix", subject: "FW: Order #42", want: "order #42"},
		{name: "nested prefixes", subject: "Re: Fwd: Re: Order #42", want: "order #42"},
		{name: "german reply prefix", subject: "AW: Bestellung", want: "bestellung"},
		{name: "case insensitive prefix", subject: "RE: order #42", want: "order #42"},
		{name: "whitespace collapsed", subject: "  Order   #42  ", want: "order #42"},
		{name: "empty", subject: "", want: "(no subject)"},
		{name: "only prefix", subject: "Re:", want: "(no subject)"},
		{name: "only whitespace", subject: "   ", want: "(no subject)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTopic(tt.subject))
		})
	}
}

func TestNormalizeTopic_SameThreadMatches(t *testing.T) {
	// A reply and its original must normalize identically, since topic
	// equality is the fallback thread identity.
	assert.Equal(t, NormalizeTopic("Order #42"), NormalizeTopic("Re: Order #42"))
	assert.Equal(t, NormalizeTopic("Order #42"), NormalizeTopic("RE:  order  #42"))
}

func TestTopicFromSubject(t *testing.T) {
	assert.Equal(t, "Order #42", TopicFromSubject("Order #42"))
	assert.Equal(t, "Order #42", TopicFromSubject("  Order #42  "))
	assert.Equal(t, "(no subject)", TopicFromSubject(""))
	assert.Equal(t, "(no subject)", TopicFromSubject("   "))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short text", Preview("short text"))
	assert.Equal(t, "trimmed", Preview("  trimmed  "))

	long := strings.Repeat("a", 600)
	got := Preview(long)
	assert.Len(t, got, 500)

	// Multibyte input must not be cut mid-rune.
	cyrillic := strings.Repeat("д", 600)
	got = Preview(cyrillic)
	assert.Equal(t, 500, len([]rune(got)))
	assert.True(t, strings.HasPrefix(cyrillic, got))
}
