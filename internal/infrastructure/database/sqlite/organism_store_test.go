package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

func openStore(t *testing.T) *OrganismStore {
	t.Helper()
	store, err := OpenOrganismStore(filepath.Join(t.TempDir(), "nested", "gene2tax.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOrganismStore_ImportAndResolve(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	calls := 0
	require.NoError(t, store.Import(ctx, []Binding{
		{Gene: "ACE2", Organism: "9606", GeneID: "1"},
		{Gene: "ACE2", Organism: "9606", GeneID: "59272", Source: "curated"},
		{Gene: "ACE2", Organism: "10090", GeneID: "70008"},
		{Gene: "TP53", Organism: "9606", GeneID: "7157"},
	}, func() { calls++ }))
	assert.Equal(t, 4, calls)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "duplicate key replaced")

	got, err := store.Resolve(ctx, []string{"ACE2", "BRCA1"}, []string{"9606", "10090"})
	require.NoError(t, err)
	assert.Equal(t, annotation.GeneOrganismMap{"ACE2": {"9606": "59272", "10090": "70008"}}, got)
	assert.Equal(t, "sqlite", store.Name())
}

func TestOrganismStore_ResolveIsCaseExact(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.Import(context.Background(), []Binding{{Gene: "ACE2", Organism: "9606", GeneID: "59272"}}, nil))

	got, err := store.Resolve(context.Background(), []string{"ace2"}, []string{"9606"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOrganismStore_ImportRejectsIncompleteRowAtomically(t *testing.T) {
	store := openStore(t)
	err := store.Import(context.Background(), []Binding{
		{Gene: "ACE2", Organism: "9606", GeneID: "59272"},
		{Gene: "TP53", Organism: "9606"},
	}, nil)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpenOrganismStore_RequiresPath(t *testing.T) {
	_, err := OpenOrganismStore("")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}
