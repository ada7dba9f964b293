package descriptor

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is the root of every error caused by the app descriptor or by
	// the service graph derived from it. Such errors are detected before the
	// container backend is contacted.
	ErrConfig = errors.New("configuration error")

	// ErrNotFound is returned when no descriptor exists at or above the root path.
	ErrNotFound = fmt.Errorf("%w: descriptor not found", ErrConfig)

	// ErrParse is returned when the descriptor is not valid YAML.
	ErrParse = fmt.Errorf("%w: descriptor is malformed", ErrConfig)

	// ErrSchema is returned when the descriptor parses but violates the schema.
	ErrSchema = fmt.Errorf("%w: descriptor is invalid", ErrConfig)
)
