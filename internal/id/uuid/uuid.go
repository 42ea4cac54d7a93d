// Package uuid provides job ID generation.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates random (v4) UUID strings.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv4 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	return id.String(), nil
}

// Static always returns the same ID. Tests use it to pin file names.
type Static string

// NewID returns s.
func (s Static) NewID() (string, error) {
	if _, err := uuid.Parse(string(s)); err != nil {
		return "", fmt.Errorf("static id %q: %w", string(s), err)
	}
	return string(s), nil
}
