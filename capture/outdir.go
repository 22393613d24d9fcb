package capture

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// NewOutputDir creates a fresh capture_YYYYMMDD_HHMMSS directory under root.
// When the name is taken a numeric suffix is appended.
func NewOutputDir(root string, now time.Time) (string, error) {
	if root == "" {
		root = "."
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("capture: output root: %w", err)
	}
	base := "capture_" + now.Format("20060102_150405")
	for n := 1; n < 1000; n++ {
		name := base
		if n > 1 {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		dir := filepath.Join(root, name)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("capture: output dir: %w", err)
		}
	}
	return "", fmt.Errorf("capture: no free output dir for %s", base)
}

// RemoveIfEmpty deletes dir when it holds nothing (a cancelled session).
func RemoveIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	os.Remove(dir)
}
