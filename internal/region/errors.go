package region

import (
	"errors"

	"github.com/udisondev/regionsys/internal/tag"
)

var (
	// ErrInvalidVolume is returned for nil or degenerate volumes.
	ErrInvalidVolume = errors.New("invalid volume")
	// ErrNotFound is returned for stale or unknown region IDs. Callers may treat
	// it as a no-op: destroying an already destroyed region is harmless.
	ErrNotFound = errors.New("region not found")
	// ErrDuplicateTag is returned when a region is given the same tag twice.
	ErrDuplicateTag = tag.ErrDuplicate
)
