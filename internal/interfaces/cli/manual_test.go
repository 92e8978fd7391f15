package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

func TestManualFlags_Annotation(t *testing.T) {
	f := &manualFlags{text: "ACE", category: "gene", reason: "ambiguous"}
	m, err := f.annotation(annotation.KindExclusion)
	require.NoError(t, err)
	assert.Equal(t, annotation.ScopeGlobal, m.Scope)
	assert.Equal(t, annotation.CategoryGene, m.Category)
	assert.Equal(t, "ambiguous", m.Reason)

	f = &manualFlags{document: "doc-1", text: "ACE2", category: "Protein", entityID: "Q9BYF1", idType: "UniProt", applyToAll: true}
	m, err = f.annotation(annotation.KindInclusion)
	require.NoError(t, err)
	assert.Equal(t, annotation.ScopeLocal, m.Scope)
	assert.Equal(t, "doc-1", m.DocumentID)
	assert.True(t, m.ApplyToAll)

	_, err = (&manualFlags{text: "x", category: "Vitamin"}).annotation(annotation.KindExclusion)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestManual_RequiresDatabase(t *testing.T) {
	isolate(t)

	_, _, err := execute(t, NewRootCommand(), "manual", "add-exclusion", "--text", "ACE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.host")

	_, _, err = execute(t, NewRootCommand(), "manual", "list")
	assert.Error(t, err)
}

func TestManual_RequiredFlags(t *testing.T) {
	isolate(t)

	_, _, err := execute(t, NewRootCommand(), "manual", "add-inclusion", "--text", "ACE2")
	assert.Error(t, err)

	_, _, err = execute(t, NewRootCommand(), "manual", "remove")
	assert.Error(t, err)
}

func TestOverlayOutput_Rows(t *testing.T) {
	o := overlayOutput{&annotation.Overlays{
		GlobalExclusions: []annotation.ManualAnnotation{{ID: "g1", Kind: annotation.KindExclusion, Scope: annotation.ScopeGlobal, TextValue: "ACE"}},
		LocalInclusions:  []annotation.ManualAnnotation{{ID: "l1", Kind: annotation.KindInclusion, Scope: annotation.ScopeLocal, TextValue: "ACE2", ApplyToAll: true}},
	}}
	rows := o.TableRows()
	require.Len(t, rows, 2)
	assert.Equal(t, "g1", rows[0][0])
	assert.Equal(t, "true", rows[1][len(rows[1])-1])
}
