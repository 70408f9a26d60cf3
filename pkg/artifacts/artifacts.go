package artifacts

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// FileStore lays generated images out on disk as
//
//	<root>/<session-id>/turn-NNN/variant-N.<ext>
//
// and hands back the absolute path as the artifact reference. Writes go
// through a temp file and rename so a crash never leaves a readable but
// truncated image behind.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("artifacts: empty root directory")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "artifacts: resolve root")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrap(err, "artifacts: create root")
	}
	return &FileStore{root: abs}, nil
}

func (s *FileStore) Root() string { return s.root }

// Write stores one variant image and returns its reference.
func (s *FileStore) Write(sessionID string, turnNumber int, variant int, mediaType string, data []byte) (string, error) {
	dir := filepath.Join(s.root, sessionID, fmt.Sprintf("turn-%03d", turnNumber))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "artifacts: create turn directory")
	}
	path := filepath.Join(dir, fmt.Sprintf("variant-%d%s", variant, extensionFor(mediaType)))

	tmp := path + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", errors.Wrap(err, "artifacts: write temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrap(err, "artifacts: finalize file")
	}
	log.Debug().Str("path", path).Int("bytes", len(data)).Msg("artifacts: wrote variant")
	return path, nil
}

// Read loads an artifact back by its reference.
func (s *FileStore) Read(ref string) ([]byte, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, errors.Wrapf(err, "artifacts: read %s", ref)
	}
	return data, nil
}

// DeleteSession removes every artifact recorded for a session.
func (s *FileStore) DeleteSession(sessionID string) error {
	if sessionID == "" {
		return errors.New("artifacts: empty session id")
	}
	dir := filepath.Join(s.root, sessionID)
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "artifacts: delete session %s", sessionID)
	}
	return nil
}

func extensionFor(mediaType string) string {
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/svg+xml":
		return ".svg"
	default:
		return ".bin"
	}
}
