package pagedb

import (
	"errors"
	"fmt"

	"github.com/hupe1980/pagedb/blobstore"
	"github.com/hupe1980/pagedb/btree"
	"github.com/hupe1980/pagedb/cache"
	"github.com/hupe1980/pagedb/page"
	"github.com/hupe1980/pagedb/pagestore"
)

var (
	// ErrNotFound is returned when a page or blob is missing from the store.
	ErrNotFound = errors.New("not found")

	// ErrCorrupted is returned for a blob that fails validation or a tree that
	// fails Check.
	ErrCorrupted = errors.New("index corrupted")

	// ErrUnsupportedVersion is returned for a blob written by another format
	// version.
	ErrUnsupportedVersion = errors.New("unsupported format version")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("index closed")

	// ErrNotInitialized is returned when the page store was never initialized.
	ErrNotInitialized = errors.New("index not initialized")

	// ErrInvalidArgument is returned for nil or malformed arguments.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCapacityOutOfRange is returned for a fan-out or cache budget that
	// cannot be honored.
	ErrCapacityOutOfRange = errors.New("capacity out of range")

	// ErrUnsupported is returned for an operation the index does not offer.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrNotEmpty is returned by Restore on an index that holds items.
	ErrNotEmpty = errors.New("index not empty")
)

// ErrPageNotFound indicates a page reference the store cannot resolve. It
// matches ErrNotFound.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrPageNotFound struct {
	Ref   page.Ref
	cause error
}

func (e *ErrPageNotFound) Error() string {
	return fmt.Sprintf("page %s not found", e.Ref)
}

func (e *ErrPageNotFound) Unwrap() error { return e.cause }

func (e *ErrPageNotFound) Is(target error) bool { return target == ErrNotFound }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var pnf *pagestore.PageNotFoundError
	if errors.As(err, &pnf) {
		return &ErrPageNotFound{Ref: pnf.Ref, cause: err}
	}

	switch {
	case errors.Is(err, page.ErrUnsupportedVersion):
		return fmt.Errorf("%w: %w", ErrUnsupportedVersion, err)
	case errors.Is(err, page.ErrCorrupted), errors.Is(err, btree.ErrInvariant):
		return fmt.Errorf("%w: %w", ErrCorrupted, err)
	case errors.Is(err, blobstore.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, pagestore.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, pagestore.ErrNotInitialized):
		return fmt.Errorf("%w: %w", ErrNotInitialized, err)
	case errors.Is(err, cache.ErrInvalidArgument), errors.Is(err, pagestore.ErrUnencodable):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	case errors.Is(err, cache.ErrCapacityOutOfRange):
		return fmt.Errorf("%w: %w", ErrCapacityOutOfRange, err)
	case errors.Is(err, pagestore.ErrUnsupported):
		return fmt.Errorf("%w: %w", ErrUnsupported, err)
	case errors.Is(err, pagestore.ErrNotEmpty):
		return fmt.Errorf("%w: %w", ErrNotEmpty, err)
	}
	return err
}
