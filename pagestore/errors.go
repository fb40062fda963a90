package pagestore

import (
	"errors"
	"fmt"

	"github.com/hupe1980/pagedb/blobstore"
	"github.com/hupe1980/pagedb/page"
)

var (
	// ErrNotInitialized is returned by every operation before Initialize.
	ErrNotInitialized = errors.New("pagestore: provider not initialized")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pagestore: provider closed")

	// ErrAlreadyAssigned is returned by AssignIdentifier for a page that has a reference.
	ErrAlreadyAssigned = errors.New("pagestore: page already has a reference")

	// ErrUnassigned is returned for a page that was never given a reference.
	ErrUnassigned = errors.New("pagestore: page has no reference")

	// ErrUnsupported is returned for an operation outside the provider's Features.
	ErrUnsupported = errors.New("pagestore: unsupported operation")

	// ErrSerializerOrder is returned when serializer records arrive out of order.
	ErrSerializerOrder = errors.New("pagestore: serializer records out of order")

	// ErrUnencodable is returned by CheckEntry for a key or item the index
	// codec cannot write.
	ErrUnencodable = errors.New("pagestore: entry cannot be encoded")

	// ErrNotEmpty is returned by Restore on a provider that holds pages.
	ErrNotEmpty = errors.New("pagestore: index is not empty")

	// ErrCorrupted and ErrUnsupportedVersion are the page format errors.
	ErrCorrupted          = page.ErrCorrupted
	ErrUnsupportedVersion = page.ErrUnsupportedVersion
)

// PageNotFoundError reports a reference the store cannot resolve.
//
// It matches blobstore.ErrNotFound through errors.Is.
type PageNotFoundError struct {
	Ref   page.Ref
	cause error
}

func (e *PageNotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("pagestore: page %s not found: %v", e.Ref, e.cause)
	}
	return fmt.Sprintf("pagestore: page %s not found", e.Ref)
}

func (e *PageNotFoundError) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return blobstore.ErrNotFound
}
