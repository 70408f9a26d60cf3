package assets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/cartouche-dev/cartouche/pkg/adapters"
)

// maxAssetSize caps reference images at 20MB, matching common API limits.
const maxAssetSize = 20 * 1024 * 1024

var mediaTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// Load reads the given image files into reference assets for generation.
func Load(paths []string) ([]adapters.Asset, error) {
	out := make([]adapters.Asset, 0, len(paths))
	for _, p := range paths {
		asset, err := loadOne(p)
		if err != nil {
			return nil, err
		}
		out = append(out, *asset)
	}
	return out, nil
}

func loadOne(path string) (*adapters.Asset, error) {
	ext := strings.ToLower(filepath.Ext(path))
	mediaType, ok := mediaTypes[ext]
	if !ok {
		return nil, errors.Errorf("assets: unsupported file type %q (want png, jpeg, webp or gif)", ext)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "assets: stat %s", path)
	}
	if info.Size() > maxAssetSize {
		return nil, errors.Errorf("assets: %s exceeds %d byte limit", path, maxAssetSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "assets: read %s", path)
	}
	return &adapters.Asset{
		Name:      filepath.Base(path),
		MediaType: mediaType,
		Data:      data,
	}, nil
}
