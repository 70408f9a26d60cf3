package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRead(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ref, err := fs.Write("sess-1", 2, 0, "image/png", []byte("png bytes"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(fs.Root(), "sess-1", "turn-002", "variant-0.png"), ref)

	data, err := fs.Read(ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("png bytes"), data)

	// No temp files are left behind.
	entries, err := os.ReadDir(filepath.Dir(ref))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExtensionFollowsMediaType(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ref, err := fs.Write("s", 1, 0, "image/jpeg", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, ".jpg", filepath.Ext(ref))

	ref, err = fs.Write("s", 1, 1, "application/octet-stream", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, ".bin", filepath.Ext(ref))
}

func TestDeleteSession(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ref1, err := fs.Write("doomed", 1, 0, "image/png", []byte("a"))
	require.NoError(t, err)
	ref2, err := fs.Write("kept", 1, 0, "image/png", []byte("b"))
	require.NoError(t, err)

	require.NoError(t, fs.DeleteSession("doomed"))

	_, err = os.Stat(ref1)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(ref2)
	assert.NoError(t, err)

	// Deleting again is fine.
	require.NoError(t, fs.DeleteSession("doomed"))
}

func TestNewFileStoreRejectsEmptyRoot(t *testing.T) {
	_, err := NewFileStore("")
	require.Error(t, err)
}
