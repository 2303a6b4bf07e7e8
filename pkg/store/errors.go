// Package store provides the repositories over the relational schema. Every
// repository holds the shared sqlx handle; writes are short single-statement
// transactions unless noted.
package store

import "errors"

var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity.
	ErrAlreadyExists = errors.New("entity already exists")
)
