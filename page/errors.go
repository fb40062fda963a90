package page

import "errors"

var (
	// ErrCorrupted reports a blob that fails magic, checksum or structural checks.
	ErrCorrupted = errors.New("page: corrupted blob")

	// ErrUnsupportedVersion reports a blob written by another format version.
	ErrUnsupportedVersion = errors.New("page: unsupported format version")
)
