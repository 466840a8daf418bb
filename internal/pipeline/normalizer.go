package pipeline

import (
	"strings"
	"time"
)

// DefaultQuestionMaxLength is the configured limit on normalized_text.
const DefaultQuestionMaxLength = 2000

// Normalizer implements stage 1: trim, length-check, and wrap the raw
// user question.
type Normalizer struct {
	MaxLength int
}

// NewNormalizer builds a Normalizer with the given length limit (falls back
// to DefaultQuestionMaxLength when maxLength <= 0).
func NewNormalizer(maxLength int) *Normalizer {
	if maxLength <= 0 {
		maxLength = DefaultQuestionMaxLength
	}
	return &Normalizer{MaxLength: maxLength}
}

// Normalize trims rawText and wraps it in a UserQuestion. Fails with
// EmptyQuestion if the trimmed text is empty, QuestionTooLong if it
// exceeds MaxLength.
func (n *Normalizer) Normalize(rawText string, maxRowsHint *int) (*UserQuestion, error) {
	trimmed := strings.TrimSpace(rawText)
	if trimmed == "" {
		return nil, newError(ErrEmptyQuestion, StageNormalizer, "question is empty after trimming", nil)
	}
	if len(trimmed) > n.MaxLength {
		return nil, newError(ErrQuestionTooLong, StageNormalizer,
			"question exceeds the configured length limit", nil)
	}

	return &UserQuestion{
		RawText:        rawText,
		NormalizedText: trimmed,
		ReceivedAt:     time.Now(),
		MaxRowsHint:    maxRowsHint,
	}, nil
}
