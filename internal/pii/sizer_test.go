package pii

import (
	"testing"

	"redactly/pkg/model"

	"github.com/stretchr/testify/assert"
)

func TestParseSource(t *testing.T) {
	cases := []struct {
		value    string
		expected Source
	}{
		{"lexical", SourceLexical},
		{"", SourceLexical},
		{"text", SourceDisplay},
		{"display", SourceDisplay},
		{"Display", SourceDisplay},
		{"itn", SourceITN},
		{"ITN", SourceITN},
		{"maskedItn", SourceMaskedITN},
		{"masked_itn", SourceMaskedITN},
		{"bogus", SourceLexical},
		{"  lexical  ", SourceLexical},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expected, ParseSource(tc.value), "value %q", tc.value)
	}
}

func TestSourceText(t *testing.T) {
	u := model.Utterance{
		Display:   "Call me at 555-0100.",
		Lexical:   "call me at five five five oh one hundred",
		ITN:       "call me at 555-0100",
		MaskedITN: "call me at ***-****",
	}

	assert.Equal(t, u.Lexical, SourceLexical.Text(u))
	assert.Equal(t, u.Display, SourceDisplay.Text(u))
	assert.Equal(t, u.ITN, SourceITN.Text(u))
	assert.Equal(t, u.MaskedITN, SourceMaskedITN.Text(u))
}

func TestSize_CountsGraphemeClusters(t *testing.T) {
	cases := []struct {
		text     string
		expected int
	}{
		{"hello", 5},
		{"héllo", 5}, // combining accent joins its base
		{"é", 1},
		{"\U0001F44D\U0001F3FD", 1}, // thumbs up + skin tone modifier
		{"a\U0001F469‍\U0001F469‍\U0001F467b", 3}, // ZWJ family emoji
		{"", 0},
	}

	for _, tc := range cases {
		u := model.Utterance{Lexical: tc.text}
		assert.Equal(t, tc.expected, Size(u, SourceLexical), "text %q", tc.text)
	}
}

func TestSize_UsesSelectedSource(t *testing.T) {
	u := model.Utterance{
		Display: "1234567890",
		Lexical: "one",
	}

	assert.Equal(t, 3, Size(u, SourceLexical))
	assert.Equal(t, 10, Size(u, SourceDisplay))
}
