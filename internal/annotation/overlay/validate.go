package overlay

import (
	"strings"

	"github.com/turtacn/BioAnnotator/internal/annotation/tokenizer"
	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// WordLimiter returns the maximum word count of a term in a category.
type WordLimiter interface {
	WordLimit(c annotation.Category) int
}

// CommonWords flags terms too generic to annotate.
type CommonWords interface {
	Contains(text string) bool
}

// Validator checks manual annotations when they are authored.  Stored
// annotations are trusted at merge time.
type Validator struct {
	limits WordLimiter
	common CommonWords
}

// NewValidator builds a Validator.  common may be nil.
func NewValidator(limits WordLimiter, common CommonWords) *Validator {
	return &Validator{limits: limits, common: common}
}

// Validate returns an InvalidManualAnnotation error describing the first
// problem found in m.
func (v *Validator) Validate(m *annotation.ManualAnnotation) error {
	if m == nil {
		return invalid("manual annotation is nil")
	}
	text := strings.TrimSpace(m.TextValue)
	if text == "" {
		return invalid("text is required")
	}
	switch m.Kind {
	case annotation.KindInclusion, annotation.KindExclusion:
	default:
		return invalid("kind must be inclusion or exclusion").WithDetailf("kind=%q", m.Kind)
	}
	switch m.Scope {
	case annotation.ScopeGlobal:
		if m.Kind == annotation.KindInclusion {
			return invalid("inclusions are always local")
		}
	case annotation.ScopeLocal:
		if m.DocumentID == "" {
			return invalid("document id is required for local annotations")
		}
	default:
		return invalid("scope must be global or local").WithDetailf("scope=%q", m.Scope)
	}
	if m.Category != "" && !m.Category.Valid() {
		return invalid("unknown category").WithDetailf("category=%q", m.Category)
	}
	if m.Scope == annotation.ScopeLocal && !m.ApplyToAll {
		if m.PageNumber < 1 {
			return invalid("page number is required unless applying to all occurrences")
		}
		if len(m.Rects) == 0 {
			return invalid("rects are required unless applying to all occurrences")
		}
		for _, r := range m.Rects {
			if r.Empty() {
				return invalid("rects must have a positive area")
			}
		}
	}

	if m.Kind == annotation.KindExclusion {
		return nil
	}

	if m.Category == "" {
		return invalid("category is required for inclusions")
	}
	if strings.TrimSpace(m.EntityID) == "" {
		return invalid("entity id is required for inclusions")
	}
	if words := len(strings.Fields(text)); v.limits != nil && words > v.limits.WordLimit(m.Category) {
		return invalid("term has too many words for its category").
			WithDetailf("category=%s words=%d limit=%d", m.Category, words, v.limits.WordLimit(m.Category))
	}
	if tokenizer.IsTrivial(text) {
		return invalid("term is only digits or punctuation, or a single character")
	}
	if v.common != nil && v.common.Contains(text) {
		return invalid("term is a common word").WithDetailf("text=%q", text)
	}
	return nil
}

func invalid(msg string) *errors.AppError {
	return errors.New(errors.CodeInvalidManualAnnotation, msg)
}
