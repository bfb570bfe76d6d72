package pii

import (
	"strings"

	"redactly/pkg/logger"
	"redactly/pkg/model"

	"github.com/rivo/uniseg"
	"go.uber.org/zap"
)

// Source selects which utterance text field feeds PII inference and size
// measurement. Values match the wire's redactionSource parameter.
type Source string

const (
	SourceLexical   Source = "lexical"
	SourceDisplay   Source = "text"
	SourceITN       Source = "itn"
	SourceMaskedITN Source = "maskedItn"
)

// ParseSource maps a configured redaction source to its enum value.
// Unrecognized values fall back to lexical, and the fallback is logged
// rather than applied silently.
func ParseSource(value string) Source {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "lexical", "":
		return SourceLexical
	case "text", "display":
		return SourceDisplay
	case "itn":
		return SourceITN
	case "maskeditn", "masked_itn":
		return SourceMaskedITN
	}

	logger.Warn("Unrecognized redaction source, defaulting to lexical",
		zap.String("redaction_source", value))

	return SourceLexical
}

// Text returns the utterance field selected by the source
func (s Source) Text(u model.Utterance) string {
	switch s {
	case SourceDisplay:
		return u.Display
	case SourceITN:
		return u.ITN
	case SourceMaskedITN:
		return u.MaskedITN
	default:
		return u.Lexical
	}
}

// Size measures the utterance's selected text in user-perceived text
// elements (grapheme clusters), the unit of all chunk-size decisions.
func Size(u model.Utterance, src Source) int {
	return uniseg.GraphemeClusterCount(src.Text(u))
}
