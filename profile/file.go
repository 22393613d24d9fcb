package profile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hazyhaar/domcapture/internal/safeio"
)

// FileStore keeps profiles as files under a directory:
//
//	<dir>/<name>.yaml                      browser profiles
//	<dir>/url_profiles.json                saved URLs
//	<dir>/selection_profiles/<name>.json   selection profiles
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. The directory is created lazily.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the root directory.
func (s *FileStore) Dir() string { return s.dir }

func layout(k Kind) (sub, ext string) {
	switch k {
	case Selection:
		return "selection_profiles", ".json"
	case URLs:
		return "", ".json"
	default:
		return "", ".yaml"
	}
}

func (s *FileStore) path(k Kind, name string) (string, error) {
	if err := checkKind(k); err != nil {
		return "", err
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	sub, ext := layout(k)
	return safeio.SafePath(s.dir, filepath.Join(sub, name+ext))
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, k Kind, name string) ([]byte, error) {
	p, err := s.path(k, name)
	if err != nil {
		if errors.Is(err, ErrInvalidName) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile: read %s: %w", p, err)
	}
	return data, nil
}

// List implements Store.
func (s *FileStore) List(_ context.Context, k Kind) ([]string, error) {
	if err := checkKind(k); err != nil {
		return nil, err
	}
	sub, ext := layout(k)
	entries, err := os.ReadDir(filepath.Join(s.dir, sub))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile: list %s: %w", k, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ext)
		if k == URLs && name != URLProfilesName {
			continue
		}
		if ValidateName(name) == nil {
			names = append(names, name)
		}
	}
	sortNames(names)
	return names, nil
}

// Put implements Store. The file is replaced atomically.
func (s *FileStore) Put(_ context.Context, k Kind, name string, content []byte) error {
	p, err := s.path(k, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("profile: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("profile: write %s: %w", p, err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("profile: write %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("profile: write %s: %w", p, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("profile: write %s: %w", p, err)
	}
	return nil
}

// RelPath returns the display path of a profile relative to the parent of
// the store root, e.g. "profiles/selection_profiles/x.json".
func (s *FileStore) RelPath(k Kind, name string) string {
	sub, ext := layout(k)
	return filepath.ToSlash(filepath.Join(filepath.Base(s.dir), sub, name+ext))
}

func sortNames(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
}
