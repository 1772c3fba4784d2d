package mirror

import "errors"

var (
	// ErrFolderCollision is returned when two source folders translate to
	// the same destination path and would be merged.
	ErrFolderCollision = errors.New("folder path collision")

	// ErrFlatDestination is returned when a nested source folder must be
	// mirrored onto an account without a hierarchy delimiter.
	ErrFlatDestination = errors.New("destination has no hierarchy delimiter")

	// ErrMissingBody is returned when the source answers a FETCH without
	// the message body.
	ErrMissingBody = errors.New("fetch response has no message body")
)
