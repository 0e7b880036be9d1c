package manager

import (
	"errors"

	"github.com/fyrsmithlabs/contextdb/internal/registry"
)

// Errors returned by Manager operations. Check them with errors.Is.
var (
	// ErrInvalidName indicates a database name outside the allowed character set.
	ErrInvalidName = registry.ErrInvalidName

	// ErrNotFound indicates the database is not registered.
	ErrNotFound = registry.ErrNotFound

	// ErrCorruptIndex indicates the database index could not be parsed.
	ErrCorruptIndex = registry.ErrCorruptIndex

	// ErrAlreadyExists indicates a create for a registered name.
	ErrAlreadyExists = errors.New("database already exists")

	// ErrEmptyText indicates an add with blank text.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrEmptyQuery indicates a search with a blank query.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrInvalidArgument indicates an out-of-range request parameter.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStoreUnavailable indicates the embedding provider or the vector
	// store failed.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrPartialCreate indicates a registered database whose collection
	// could not be materialized. The next access retries.
	ErrPartialCreate = errors.New("database registered but collection creation failed")

	// ErrReadOnly indicates a mutation while the index is corrupt.
	ErrReadOnly = errors.New("database index is read-only")

	// ErrDimensionMismatch indicates that the embedding model's dimension
	// differs from the one the database was created with.
	ErrDimensionMismatch = errors.New("embedding dimension does not match database")

	errClosed = errors.New("manager closed")
)
