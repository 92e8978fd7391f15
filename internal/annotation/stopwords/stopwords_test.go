package stopwords_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioAnnotator/internal/annotation/stopwords"
)

func TestNew_Builtin(t *testing.T) {
	s, err := stopwords.New(stopwords.Options{Builtin: true})
	require.NoError(t, err)

	assert.True(t, s.Contains("Protein"), "curated generic word")
	assert.True(t, s.Contains(" the "))
	assert.True(t, s.Contains("about"), "english list")
	assert.False(t, s.Contains("cancer"))
	assert.False(t, s.Contains("ace2"))
	assert.Equal(t, len(stopwords.Common()), s.Len())
}

func TestNew_FileAndWords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stop.txt")
	require.NoError(t, os.WriteFile(path, []byte("# curated\nCell\n\n  tissue  # trailing\n"), 0o644))

	s, err := stopwords.New(stopwords.Options{Path: path, Words: []string{"Figure"}})
	require.NoError(t, err)

	assert.True(t, s.Contains("cell"))
	assert.True(t, s.Contains("TISSUE"))
	assert.True(t, s.Contains("figure"))
	assert.False(t, s.Contains("the"), "builtin list not requested")
	assert.Equal(t, 3, s.Len())
}

func TestNew_MissingFile(t *testing.T) {
	_, err := stopwords.New(stopwords.Options{Path: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestNilSetIsEmpty(t *testing.T) {
	var s *stopwords.Set
	assert.False(t, s.Contains("the"))
	assert.Zero(t, s.Len())
	assert.True(t, stopwords.Of("x").Contains("X"))
}
