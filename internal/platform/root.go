package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrRootNotFound is returned by FindRoot when no directory above the start carries a marker.
var ErrRootNotFound = errors.New("scriptvault root not found")

// rootMarkers identify a scriptvault project directory, checked in this order at each level.
var rootMarkers = []string{ConfigFile, DefaultStoreDir}

// FindRoot returns the nearest directory at or above start holding a scriptvault.yaml
// or a .scriptvault store. start may be a file, in which case its directory is used.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		dir = filepath.Dir(dir)
	}

	for from := dir; ; {
		for _, marker := range rootMarkers {
			if exists(filepath.Join(dir, marker)) {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: no %s or %s above %s", ErrRootNotFound, ConfigFile, DefaultStoreDir, from)
		}
		dir = parent
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
