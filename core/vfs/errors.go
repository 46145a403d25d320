package vfs

import "errors"

// --- Error Definitions ---

var (
	ErrNotFound      = errors.New("no such file")
	ErrBusy          = errors.New("file is busy")
	ErrInvalidOffset = errors.New("invalid offset")
	ErrInvalidSize   = errors.New("invalid size")
	ErrInvalidRegion = errors.New("invalid shared memory region")
	ErrShortRead     = errors.New("short read")
	// ErrInvariant flags a broken caller contract (e.g. a refcount pushed
	// below zero). It is never returned for ordinary runtime conditions.
	ErrInvariant = errors.New("invariant violation")
)

// ErrorCode is the numeric code surfaced through the registry's last-error
// slot. Values follow the engine's error convention so the glue layer can
// report them verbatim.
type ErrorCode int

const (
	CodeOK             ErrorCode = 0
	CodeBusy           ErrorCode = 5
	CodeIOErr          ErrorCode = 10
	CodeCantOpen       ErrorCode = 14
	CodeMisuse         ErrorCode = 21
	CodeIOErrShortRead ErrorCode = 522  // IOERR | (2 << 8)
	CodeIOErrWrite     ErrorCode = 778  // IOERR | (3 << 8)
	CodeIOErrShmMap    ErrorCode = 5386 // IOERR | (21 << 8)
)

// CodeOf maps an error returned by this package to its legacy numeric code.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrNotFound):
		return CodeCantOpen
	case errors.Is(err, ErrBusy):
		return CodeBusy
	case errors.Is(err, ErrInvalidOffset), errors.Is(err, ErrInvalidSize):
		return CodeIOErrWrite
	case errors.Is(err, ErrInvalidRegion):
		return CodeIOErrShmMap
	case errors.Is(err, ErrShortRead):
		return CodeIOErrShortRead
	case errors.Is(err, ErrInvariant):
		return CodeMisuse
	default:
		return CodeIOErr
	}
}
