// Package idgen provides pluggable ID generation. Constructors that stamp IDs
// take a Generator so tests can pin them.
package idgen

import (
	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Fixed returns a Generator that always yields id.
func Fixed(id string) Generator {
	return func() string { return id }
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}
