package cli

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioAnnotator/internal/infrastructure/database/sqlite"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

const bindingList = "# gene\torganism\tgene_id\n" +
	"ACE2\t9606\t59272\n" +
	"Ace2\t10090\t70008\r\n" +
	"\n"

func TestOrganismImport(t *testing.T) {
	isolate(t)
	input := writeFile(t, t.TempDir(), "bindings.tsv", bindingList)
	db := filepath.Join(t.TempDir(), "organism.db")

	out, _, err := execute(t, NewRootCommand(), "organism", "import", "--input", input, "--db", db, "-q")
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 bindings")

	store, err := sqlite.OpenOrganismStore(db)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Resolve(context.Background(), []string{"ACE2"}, []string{"9606"})
	require.NoError(t, err)
	assert.Equal(t, "59272", got["ACE2"]["9606"])
}

func TestOrganismImport_NeedsPath(t *testing.T) {
	isolate(t)
	input := writeFile(t, t.TempDir(), "bindings.tsv", bindingList)

	_, _, err := execute(t, NewRootCommand(), "organism", "import", "--input", input)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestReadBindings(t *testing.T) {
	got, err := readBindings(strings.NewReader(bindingList), "ncbi")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, sqlite.Binding{Gene: "Ace2", Organism: "10090", GeneID: "70008", Source: "ncbi"}, got[1])

	_, err = readBindings(strings.NewReader("ACE2\t9606\n"), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line=1")

	_, err = readBindings(strings.NewReader("ok\t1\t2\nACE2\t\t59272\n"), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line=2")
}
