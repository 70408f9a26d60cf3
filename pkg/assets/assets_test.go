package assets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	logo := filepath.Join(dir, "logo.PNG")
	sketch := filepath.Join(dir, "sketch.jpeg")
	require.NoError(t, os.WriteFile(logo, []byte("png data"), 0o644))
	require.NoError(t, os.WriteFile(sketch, []byte("jpeg data"), 0o644))

	got, err := Load([]string{logo, sketch})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "logo.PNG", got[0].Name)
	assert.Equal(t, "image/png", got[0].MediaType)
	assert.Equal(t, []byte("png data"), got[0].Data)
	assert.Equal(t, "image/jpeg", got[1].MediaType)
}

func TestLoadRejectsUnsupportedType(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "notes.pdf")
	require.NoError(t, os.WriteFile(doc, []byte("%PDF"), 0o644))

	_, err := Load([]string{doc})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".pdf")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load([]string{filepath.Join(t.TempDir(), "absent.png")})
	require.Error(t, err)
}

func TestLoadEmptyList(t *testing.T) {
	got, err := Load(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
