package lakescan

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a missing file or resource. Callers may treat it as
	// skippable rather than fatal.
	ErrNotFound = errors.New("not found")

	// ErrMalformedMetadata marks corrupt statistics, page indexes or
	// dictionaries. It is never fatal inside the scan: pruning and dictionary
	// filtering degrade to reading everything instead.
	ErrMalformedMetadata = errors.New("malformed metadata")

	// ErrUnsupported marks a requested type or feature the decoder cannot
	// serve.
	ErrUnsupported = errors.New("unsupported")
)

// SchemaMismatchError reports that an on-disk column type cannot be resolved
// to the requested table type. It is fatal for the scan and carries enough
// detail to name the offending column.
type SchemaMismatchError struct {
	Column    string
	FileType  string
	WantsType string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch on column %q: file type %s not convertible to %s", e.Column, e.FileType, e.WantsType)
}

// IsSchemaMismatch reports whether err is a schema resolution failure.
func IsSchemaMismatch(err error) bool {
	var sm *SchemaMismatchError
	return errors.As(err, &sm)
}

// isCancellation reports whether err is the caller's cooperative stop signal.
// Cancellation terminates the scan like a clean end of file; the in-flight
// batch is discarded.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
