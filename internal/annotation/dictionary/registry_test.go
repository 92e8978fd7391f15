package dictionary_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioAnnotator/internal/annotation/dictionary"
	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

func publish(t *testing.T, dir string, c annotation.Category, key, id string) {
	t.Helper()
	b := dictionary.NewBuilder(c)
	b.Add(key, annotation.DictionaryEntry{EntityID: id})
	require.NoError(t, b.WriteFile(filepath.Join(dir, dictionary.FileName(c))))
}

func TestRegistry_MissingCategoryIsUnavailable(t *testing.T) {
	dir := t.TempDir()
	publish(t, dir, annotation.CategoryGene, "ace2", "59272")

	reg := dictionary.NewRegistry(dictionary.RegistryConfig{
		Dir:        dir,
		Categories: []annotation.Category{annotation.CategoryGene, annotation.CategoryFood},
	}, nil)
	defer reg.Close()

	snap := reg.Acquire()
	defer snap.Release()

	st, err := snap.Store(annotation.CategoryGene)
	require.NoError(t, err)
	ok, err := st.Contains("ace2")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = snap.Store(annotation.CategoryFood)
	assert.True(t, errors.IsCode(err, errors.CodeDictionaryUnavailable))

	_, err = snap.Store(annotation.CategoryAnatomy)
	assert.True(t, errors.IsCode(err, errors.CodeDictionaryUnavailable), "unconfigured category")

	assert.Equal(t, []annotation.Category{annotation.CategoryGene}, snap.Available())
}

func TestRegistry_ReloadKeepsAcquiredSnapshotValid(t *testing.T) {
	dir := t.TempDir()
	publish(t, dir, annotation.CategoryGene, "ace2", "59272")

	reg := dictionary.NewRegistry(dictionary.RegistryConfig{
		Dir:        dir,
		Categories: []annotation.Category{annotation.CategoryGene},
	}, nil)
	defer reg.Close()

	old := reg.Acquire()

	publish(t, dir, annotation.CategoryGene, "tp53", "7157")
	reg.Reload()

	st, err := old.Store(annotation.CategoryGene)
	require.NoError(t, err)
	ok, err := st.Contains("ace2")
	require.NoError(t, err)
	assert.True(t, ok, "in-flight snapshot keeps the old mapping")
	old.Release()

	_, err = st.Contains("ace2")
	assert.Error(t, err, "released snapshot unmaps its stores")

	cur := reg.Acquire()
	defer cur.Release()
	st, err = cur.Store(annotation.CategoryGene)
	require.NoError(t, err)
	ok, err = st.Contains("tp53")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegistry_PathOverride(t *testing.T) {
	cfg := dictionary.RegistryConfig{
		Dir:   "/data",
		Paths: map[annotation.Category]string{annotation.CategoryFood: "/elsewhere/food.dict"},
	}
	assert.Equal(t, "/elsewhere/food.dict", cfg.Path(annotation.CategoryFood))
	assert.Equal(t, filepath.Join("/data", "entities_Gene.dict"), cfg.Path(annotation.CategoryGene))
}

func TestRegistry_WatchReloadsOnPublish(t *testing.T) {
	dir := t.TempDir()
	reg := dictionary.NewRegistry(dictionary.RegistryConfig{
		Dir:        dir,
		Categories: []annotation.Category{annotation.CategoryGene},
	}, nil)
	defer reg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Watch(ctx, 20*time.Millisecond) }()

	// Give the watcher time to register.
	time.Sleep(50 * time.Millisecond)
	publish(t, dir, annotation.CategoryGene, "ace2", "59272")

	assert.Eventually(t, func() bool {
		snap := reg.Acquire()
		defer snap.Release()
		_, err := snap.Store(annotation.CategoryGene)
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
