package storage

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when trying to create a resource that already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrVersionExecuted is returned when updating a version that has runs
	ErrVersionExecuted = errors.New("version has runs")
)

// translate maps gorm errors onto the storage sentinels
func translate(err error, action string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("failed to %s: %w", action, ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("failed to %s: %w", action, ErrAlreadyExists)
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

func invalidID(kind, id string) error {
	return fmt.Errorf("%w: invalid %s ID %q", ErrInvalidInput, kind, id)
}
