// Package annotation implements the full-state annotation synchronization
// protocol: exporting a document with a fresh edit key, validating an
// untrusted document coming back, reconciling its polygons against stored
// state and committing the result under optimistic concurrency control.
package annotation

import (
	"fmt"

	"github.com/labelous/labelsync/internal/errors"
)

// RejectReason classifies why an import was refused. Reasons are for
// server-side diagnostics only; the wire response never carries them.
type RejectReason string

const (
	ReasonMalformedDocument RejectReason = "malformed_document"
	ReasonUnknownSubject    RejectReason = "unknown_subject"
	ReasonUnknownEntity     RejectReason = "unknown_entity"
	ReasonStaleToken        RejectReason = "stale_token"
	ReasonDuplicateIdentity RejectReason = "duplicate_identity"
	ReasonInvalidField      RejectReason = "invalid_field"
	ReasonMissingIdentity   RejectReason = "unexpected_missing_identity"
)

// RejectionError aborts an entire import with zero writes. There is no
// partial acceptance: the first violation anywhere rejects everything.
type RejectionError struct {
	Reason RejectReason
	Err    error
}

func (e *RejectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("import rejected (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("import rejected (%s)", e.Reason)
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

// reject builds a RejectionError wrapping an optional cause.
func reject(reason RejectReason, cause error) error {
	return &RejectionError{Reason: reason, Err: cause}
}

func rejectf(reason RejectReason, format string, args ...any) error {
	return &RejectionError{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// ReasonOf extracts the rejection reason from an error chain, if any.
func ReasonOf(err error) (RejectReason, bool) {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}

// ErrNotFound is returned by the export path when no visible subject or
// live annotation matches the request.
var ErrNotFound = errors.Newf("annotation does not exist").
	Component("annotation").
	Category(errors.CategoryNotFound).
	Build()
