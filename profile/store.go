// Package profile stores named configuration bundles: browser launch
// settings, saved URLs and saved selector sets. Callers only see the
// Get/List/Put contract of Store; the file and SQLite backends are
// interchangeable.
package profile

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Kind partitions the profile namespace.
type Kind string

const (
	Browser   Kind = "browser"
	Selection Kind = "selection"
	URLs      Kind = "urls"
)

// URLProfilesName is the single document holding every saved URL.
const URLProfilesName = "url_profiles"

var (
	// ErrNotFound is returned by Get when no profile has that name.
	ErrNotFound = errors.New("profile: not found")
	// ErrInvalidName is returned when a name fails ValidateName.
	ErrInvalidName = errors.New("profile: invalid name (use letters/numbers/._-)")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,80}$`)

// ValidateName checks a profile name before it touches storage.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) || name == "." || name == ".." {
		return ErrInvalidName
	}
	return nil
}

// Store is the storage contract for profiles.
type Store interface {
	// Get returns the raw content, or ErrNotFound.
	Get(ctx context.Context, kind Kind, name string) ([]byte, error)
	// List returns the names of every profile of a kind, sorted
	// case-insensitively.
	List(ctx context.Context, kind Kind) ([]string, error)
	// Put creates or replaces a profile. Names are validated first.
	Put(ctx context.Context, kind Kind, name string, content []byte) error
}

func checkKind(k Kind) error {
	switch k {
	case Browser, Selection, URLs:
		return nil
	}
	return fmt.Errorf("profile: unknown kind %q", k)
}
