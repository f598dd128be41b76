// Package ollmerr defines the error-kind taxonomy shared across the
// context management core. Kinds are compared with errors.Is rather
// than matched by type, so callers can wrap them freely with
// github.com/pkg/errors without losing the kind.
package ollmerr

import "github.com/pkg/errors"

// Kind identifies one of the error categories the core can surface.
// Kinds are not error values themselves; they are sentinel targets
// wrapped by *Error.
type Kind string

const (
	// ModelUnknown is returned by open_session for an unregistered model_id.
	ModelUnknown Kind = "model_unknown"
	// Empty is returned by append_user for text with no tokens.
	Empty Kind = "empty"
	// OverCap means the conversation still exceeds the cap after compression.
	OverCap Kind = "over_cap"
	// SnapshotFailed is a storage-layer failure during save.
	SnapshotFailed Kind = "snapshot_failed"
	// SnapshotNotFound means the requested snapshot id does not exist.
	SnapshotNotFound Kind = "snapshot_not_found"
	// SnapshotCorrupt means the snapshot file could not be parsed.
	SnapshotCorrupt Kind = "snapshot_corrupt"
	// CompressionNoChange means a compression attempt produced no usable result.
	CompressionNoChange Kind = "compression_no_change"
	// CompressionFailed is an internal invariant break in the compression engine.
	CompressionFailed Kind = "compression_failed"
	// HookNotApproved means a hook's trust check failed.
	HookNotApproved Kind = "hook_not_approved"
	// HookTimedOut means a hook process exceeded its timeout.
	HookTimedOut Kind = "hook_timed_out"
	// HookOutputExceeded means a hook process exceeded the output cap.
	HookOutputExceeded Kind = "hook_output_exceeded"
	// HookInvalidOutput means a hook process produced unparsable stdout.
	HookInvalidOutput Kind = "hook_invalid_output"
	// ProviderUnavailable means the model-provider transport failed.
	ProviderUnavailable Kind = "provider_unavailable"
	// LowMemoryWarning is emitted by a VRAM monitor; never fatal.
	LowMemoryWarning Kind = "low_memory_warning"
)

// Error wraps an underlying error with a Kind for classification.
type Error struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

// Unwrap exposes the underlying error to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error target of the same Kind, so a Sentinel works as
// an errors.Is target: errors.Is(err, ollmerr.Sentinel(ollmerr.OverCap)).
func (e *Error) Is(target error) bool {
	k, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == k.Kind
}

// New creates an *Error of the given kind wrapping msg as context.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Err: errors.New(msg)}
}

// Wrap creates an *Error of the given kind wrapping an existing error.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: errors.Wrap(err, msg)}
}

// Sentinel returns a zero-message *Error usable as an errors.Is target,
// e.g. errors.Is(err, ollmerr.Sentinel(ollmerr.OverCap)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return errors.Is(err, Sentinel(kind))
}
