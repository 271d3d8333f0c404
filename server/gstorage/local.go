package gstorage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/Daskott/sheguard/utils"
)

// LocalStorage keeps uploaded images on disk. It stands in for GStorage
// when no bucket is configured.
type LocalStorage struct {
	dir string
}

func NewLocalStorage(rootDir string) (*LocalStorage, error) {
	dir, err := filepath.Abs(filepath.Join(rootDir, uploadsFolder))
	if err != nil {
		return nil, err
	}

	if err := utils.CreateDirIfNotExist(dir); err != nil {
		return nil, err
	}

	return &LocalStorage{dir: dir}, nil
}

func (ls *LocalStorage) UploadImage(ctx context.Context, data []byte, filename string) (string, error) {
	dest := filepath.Join(ls.dir, uniqueName(filename))

	if err := os.WriteFile(dest, data, 0600); err != nil {
		return "", fmt.Errorf("os.WriteFile: %v", err)
	}

	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dest)}).String(), nil
}
