package assembler_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioAnnotator/internal/annotation/assembler"
	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// twoLines lays "breast cancer" on page 1 with "breast" on row 20 and
// "cancer" wrapped onto row 10, followed by "ACE2" on page 2.
func twoLines(t *testing.T) *annotation.Layout {
	t.Helper()
	var p1 []annotation.LayoutChar
	for i, r := range "breast" {
		p1 = append(p1, annotation.LayoutChar{Value: string(r), X0: float64(i), Y0: 20, X1: float64(i + 1), Y1: 21})
	}
	p1 = append(p1, annotation.LayoutChar{Value: " "})
	for i, r := range "cancer" {
		p1 = append(p1, annotation.LayoutChar{Value: string(r), X0: float64(i), Y0: 10, X1: float64(i + 1), Y1: 11})
	}
	var p2 []annotation.LayoutChar
	for i, r := range "ACE2" {
		p2 = append(p2, annotation.LayoutChar{Value: string(r), X0: float64(i), Y0: 10, X1: float64(i + 1), Y1: 11})
	}
	l, err := annotation.NewLayout(&annotation.Document{
		Text:  "breast cancerACE2",
		Pages: map[int][]annotation.LayoutChar{1: p1, 2: p2},
	})
	require.NoError(t, err)
	return l
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func TestAssemble_PositionsAndMetadata(t *testing.T) {
	l := twoLines(t)
	a := assembler.New(assembler.Palette(assembler.DefaultPalette), assembler.WithIDGenerator(sequentialIDs()))

	out, warnings := a.Assemble(l, []annotation.MergedMatch{
		{
			Span: annotation.Span{Lo: 13, Hi: 17}, PageNumber: 2, Text: "ACE2",
			Category: annotation.CategoryGene, EntityID: "59272", IDType: annotation.IDTypeNCBIGene,
			OrganismID: "9606", Source: annotation.SourceAutomatic,
		},
		{
			Span: annotation.Span{Lo: 0, Hi: 13}, PageNumber: 1, Text: "breast cancer",
			Category: annotation.CategoryDisease, EntityID: "MESH:D001943", IDType: annotation.IDTypeMESH,
			Source: annotation.SourceManual,
		},
	})
	assert.Empty(t, warnings)
	require.Len(t, out, 2)

	disease := out[0]
	assert.Equal(t, 1, disease.PageNumber)
	assert.Equal(t, 0, disease.LoLocationOffset)
	assert.Equal(t, 13, disease.HiLocationOffset)
	assert.Equal(t, 13, disease.KeywordLength)
	assert.Equal(t, "#ff9800", disease.Color)
	assert.Equal(t, "https://www.ncbi.nlm.nih.gov/mesh/D001943", disease.Hyperlink)
	assert.Equal(t, annotation.SourceManual, disease.Source)
	assert.Equal(t, "id-1", disease.UUID, "ids are drawn in output order")
	require.Len(t, disease.Keywords, 2, "one position per visual line")
	assert.Equal(t, "breast", disease.Keywords[0].Value)
	assert.Equal(t, annotation.Point{X: 0, Y: 20}, disease.Keywords[0].LowerLeft)
	assert.Equal(t, annotation.Point{X: 6, Y: 21}, disease.Keywords[0].UpperRight)
	assert.Equal(t, "cancer", disease.Keywords[1].Value)

	gene := out[1]
	assert.Equal(t, "https://www.ncbi.nlm.nih.gov/gene/59272", gene.Hyperlink)
	assert.Equal(t, "9606", gene.OrganismID)
	assert.Equal(t, "id-2", gene.UUID)
	assert.Len(t, gene.Keywords, 1)
}

func TestAssemble_MissingStyleDegrades(t *testing.T) {
	l := twoLines(t)
	a := assembler.New(assembler.Palette{annotation.CategoryGene: "#111111"})

	out, warnings := a.Assemble(l, []annotation.MergedMatch{
		{Span: annotation.Span{Lo: 0, Hi: 6}, PageNumber: 1, Text: "breast", Category: annotation.CategoryAnatomy},
		{Span: annotation.Span{Lo: 7, Hi: 13}, PageNumber: 1, Text: "cancer", Category: annotation.CategoryAnatomy},
		{Span: annotation.Span{Lo: 13, Hi: 17}, PageNumber: 2, Text: "ACE2", Category: annotation.CategoryGene},
	})
	require.Len(t, out, 3)
	assert.Equal(t, assembler.DefaultColor, out[0].Color)
	assert.Equal(t, "#111111", out[2].Color)
	require.Len(t, warnings, 1, "reported once per category")
	assert.Equal(t, errors.CodeStyleUnavailable, warnings[0].Code)
	assert.NotEmpty(t, out[0].UUID)
	assert.NotEqual(t, out[0].UUID, out[1].UUID)
}

func TestAssemble_NilStyles(t *testing.T) {
	out, warnings := assembler.New(nil).Assemble(twoLines(t), []annotation.MergedMatch{
		{Span: annotation.Span{Lo: 13, Hi: 17}, PageNumber: 2, Text: "ACE2", Category: annotation.CategoryGene},
	})
	require.Len(t, out, 1)
	assert.Equal(t, assembler.DefaultColor, out[0].Color)
	assert.Len(t, warnings, 1)
}

func TestAssemble_CustomHyperlinkSearchesText(t *testing.T) {
	out, _ := assembler.New(assembler.Palette(assembler.DefaultPalette)).Assemble(twoLines(t), []annotation.MergedMatch{
		{
			Span: annotation.Span{Lo: 0, Hi: 13}, PageNumber: 1, Text: "breast cancer",
			Category: annotation.CategoryDisease, EntityID: "custom-1", IDType: annotation.IDTypeCustom,
		},
	})
	require.Len(t, out, 1)
	assert.Equal(t, "https://www.google.com/search?q=breast+cancer", out[0].Hyperlink)
}
