package overlay_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/BioAnnotator/internal/annotation/overlay"
	"github.com/turtacn/BioAnnotator/internal/annotation/recognition"
	"github.com/turtacn/BioAnnotator/internal/annotation/stopwords"
	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

func validInclusion() annotation.ManualAnnotation {
	return annotation.ManualAnnotation{
		Kind:       annotation.KindInclusion,
		Scope:      annotation.ScopeLocal,
		DocumentID: "doc-1",
		TextValue:  "ACE2",
		Category:   annotation.CategoryGene,
		EntityID:   "59272",
		IDType:     annotation.IDTypeNCBIGene,
		ApplyToAll: true,
	}
}

func TestValidator(t *testing.T) {
	v := overlay.NewValidator(recognition.DefaultConfig(), stopwords.Of("protein"))

	cases := []struct {
		name   string
		mutate func(*annotation.ManualAnnotation)
		ok     bool
	}{
		{"valid inclusion", func(*annotation.ManualAnnotation) {}, true},
		{"empty text", func(m *annotation.ManualAnnotation) { m.TextValue = "  " }, false},
		{"unknown kind", func(m *annotation.ManualAnnotation) { m.Kind = "tag" }, false},
		{"global inclusion", func(m *annotation.ManualAnnotation) { m.Scope = annotation.ScopeGlobal }, false},
		{"local without document", func(m *annotation.ManualAnnotation) { m.DocumentID = "" }, false},
		{"missing entity id", func(m *annotation.ManualAnnotation) { m.EntityID = "" }, false},
		{"missing category", func(m *annotation.ManualAnnotation) { m.Category = "" }, false},
		{"unknown category", func(m *annotation.ManualAnnotation) { m.Category = "Vitamin" }, false},
		{"gene too long", func(m *annotation.ManualAnnotation) { m.TextValue = "ACE2 receptor" }, false},
		{"disease multi word", func(m *annotation.ManualAnnotation) {
			m.Category, m.TextValue = annotation.CategoryDisease, "acute respiratory distress syndrome"
		}, true},
		{"digits only", func(m *annotation.ManualAnnotation) { m.TextValue = "12.5" }, false},
		{"single letter", func(m *annotation.ManualAnnotation) { m.TextValue = "a" }, false},
		{"common word", func(m *annotation.ManualAnnotation) {
			m.Category, m.TextValue = annotation.CategoryProtein, "Protein"
		}, false},
		{"rect-bound without rects", func(m *annotation.ManualAnnotation) {
			m.ApplyToAll, m.PageNumber = false, 1
		}, false},
		{"rect-bound without page", func(m *annotation.ManualAnnotation) {
			m.ApplyToAll, m.Rects = false, boxAt(0, 4)
		}, false},
		{"rect-bound", func(m *annotation.ManualAnnotation) {
			m.ApplyToAll, m.PageNumber, m.Rects = false, 1, boxAt(0, 4)
		}, true},
		{"global exclusion", func(m *annotation.ManualAnnotation) {
			*m = annotation.ManualAnnotation{Kind: annotation.KindExclusion, Scope: annotation.ScopeGlobal, TextValue: "cell"}
		}, true},
		{"exclusion of a long phrase", func(m *annotation.ManualAnnotation) {
			m.Kind, m.EntityID, m.TextValue = annotation.KindExclusion, "", "ACE2 receptor binding"
		}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := validInclusion()
			tc.mutate(&m)
			err := v.Validate(&m)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.IsCode(err, errors.CodeInvalidManualAnnotation), "got %v", err)
		})
	}
}

func TestValidator_Nil(t *testing.T) {
	err := overlay.NewValidator(nil, nil).Validate(nil)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidManualAnnotation))
}
