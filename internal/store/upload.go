package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dmorgan81/fluxlab/internal/log"
)

// Object is a delivered image. Metadata is stored alongside it and read back
// when building the gallery feed.
type Object struct {
	Key         string
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

type Uploader interface {
	// Upload stores obj and returns where it can be found.
	Upload(context.Context, Object) (string, error)
}

// FileUploader writes objects under Dir. Metadata is not persisted.
type FileUploader struct {
	Dir string
}

func (u *FileUploader) Upload(ctx context.Context, obj Object) (string, error) {
	path := filepath.Join(u.Dir, filepath.FromSlash(obj.Key))
	log := log.FromContextOrDiscard(ctx).WithGroup("file")
	log.Info("writing", "file", path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, obj.Data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
