// Package porerr names the error kinds spec.md §7 requires the core to
// surface, as sentinel values other packages wrap with fmt.Errorf("...: %w").
package porerr

import "errors"

var (
	// ErrIOFatal covers open/read/write/seek failures and short reads
	// against non-EOF boundaries.
	ErrIOFatal = errors.New("io fatal")

	// ErrProtocolMismatch covers an unknown op byte or a size field that
	// disagrees with what was declared or expected.
	ErrProtocolMismatch = errors.New("protocol mismatch")

	// ErrBounds covers a read or update request past the file's size.
	ErrBounds = errors.New("out of bounds")

	// ErrIntegrityFail is the Merkle root mismatch signal: reported to the
	// caller as a result, not treated as a fatal abort.
	ErrIntegrityFail = errors.New("integrity check failed")

	// ErrAuditFail is the lhs != rhs signal: reported to the caller as a
	// result, not treated as a fatal abort.
	ErrAuditFail = errors.New("audit failed")

	// ErrConfigInvalid covers an unknown hash algorithm or a zero
	// block_size.
	ErrConfigInvalid = errors.New("invalid configuration")
)
