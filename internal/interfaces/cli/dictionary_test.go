package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioAnnotator/internal/annotation/dictionary"
	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
)

const geneTerms = "# symbol\tid\ttype\tname\n" +
	"ACE2\t59272\tNCBI Gene\tangiotensin converting enzyme 2\n" +
	"TP53\t7157\tNCBI Gene\n" +
	"broken line\n" +
	"\n"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDictionaryBuild_InstallsArtifact(t *testing.T) {
	dir := isolate(t)
	input := writeFile(t, t.TempDir(), "genes.tsv", geneTerms)

	out, _, err := execute(t, NewRootCommand(), "-o", "json", "dictionary", "build", "--category", "gene", "--input", input, "-q")
	require.NoError(t, err)

	var summary buildSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, annotation.CategoryGene, summary.Category)
	assert.Equal(t, 2, summary.Keys)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, filepath.Join(dir, dictionary.FileName(annotation.CategoryGene)), summary.Path)

	store, err := dictionary.Open(annotation.CategoryGene, summary.Path)
	require.NoError(t, err)
	defer store.Close()
	entries, err := store.Lookup("ace2")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "59272", entries[0].EntityID)
}

func TestDictionaryBuild_WithProgressBar(t *testing.T) {
	isolate(t)
	input := writeFile(t, t.TempDir(), "genes.tsv", geneTerms)
	output := filepath.Join(t.TempDir(), "nested", "gene.dict")

	out, _, err := execute(t, NewRootCommand(), "dictionary", "build", "--category", "Gene", "--input", input, "--dest", output)
	require.NoError(t, err)
	assert.Contains(t, out, "built Gene dictionary: 2 keys")
	assert.FileExists(t, output)
}

func TestDictionaryBuild_HonoursGlobalOutputFormat(t *testing.T) {
	isolate(t)
	input := writeFile(t, t.TempDir(), "genes.tsv", geneTerms)
	dest := filepath.Join(t.TempDir(), "gene.dict")

	for _, args := range [][]string{
		{"--output", "json", "dictionary", "build", "--category", "gene", "--input", input, "-d", dest, "-q"},
		{"dictionary", "build", "-o", "json", "--category", "gene", "--input", input, "--dest", dest, "-q"},
	} {
		out, _, err := execute(t, NewRootCommand(), args...)
		require.NoError(t, err, args)

		var summary buildSummary
		require.NoError(t, json.Unmarshal([]byte(out), &summary), out)
		assert.Equal(t, dest, summary.Path)
		assert.Equal(t, 2, summary.Keys)
		assert.NoFileExists(t, "json")
	}
}

func TestDictionaryBuild_Errors(t *testing.T) {
	isolate(t)

	_, _, err := execute(t, NewRootCommand(), "dictionary", "build", "--category", "Vitamin", "--input", "x.tsv")
	assert.Error(t, err)

	_, _, err = execute(t, NewRootCommand(), "dictionary", "build", "--category", "Gene", "--input", "/nonexistent.tsv")
	assert.Error(t, err)

	_, _, err = execute(t, NewRootCommand(), "dictionary", "build", "--category", "Gene")
	assert.Error(t, err, "--input is required")
}

func TestDictionaryLookupAndStatus(t *testing.T) {
	isolate(t)
	input := writeFile(t, t.TempDir(), "genes.tsv", geneTerms)
	_, _, err := execute(t, NewRootCommand(), "dictionary", "build", "--category", "Gene", "--input", input, "-q")
	require.NoError(t, err)

	out, _, err := execute(t, NewRootCommand(), "dictionary", "lookup", "--category", "Gene", "Ace2", "BRCA1")
	require.NoError(t, err)
	assert.Contains(t, out, "59272")
	assert.Contains(t, out, "BRCA1  brca1  -")

	out, _, err = execute(t, NewRootCommand(), "-o", "json", "dictionary", "status")
	require.NoError(t, err)
	var rows []statusRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, len(annotation.AllCategories))
	for _, r := range rows {
		if r.Category == annotation.CategoryGene {
			assert.True(t, r.Available)
			assert.Equal(t, 2, r.Keys)
		} else {
			assert.False(t, r.Available, string(r.Category))
		}
	}
}

func TestDictionaryLookup_MissingArtifact(t *testing.T) {
	isolate(t)
	_, _, err := execute(t, NewRootCommand(), "dictionary", "lookup", "--category", "Disease", "asthma")
	assert.Error(t, err)
}

func TestDictionaryPull_NeedsObjectStore(t *testing.T) {
	isolate(t)
	_, _, err := execute(t, NewRootCommand(), "dictionary", "pull")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minio")
}

func TestReadTermList(t *testing.T) {
	b := dictionary.NewBuilder(annotation.CategoryDisease)
	s, err := readTermList(strings.NewReader("asthma\tMESH:D001249\tMESH\r\nno-id\t\tMESH\n"), b, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Lines)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, b.Len())
}
