// Package atomicfile provides a stream-based API for writing files such
// that a reader never observes a partially-written result, on both Unix
// and Windows.  The daemon's crash-safety guarantees rest on this: a
// backup or state file is either the old complete version or the new
// complete version, never a torn write.
package atomicfile

import (
	"io/fs"

	"github.com/AdguardTeam/golibs/errors"
)

// PendingFile is a file being written to a temporary location, to be
// atomically (on Unix) or near-atomically (on Windows) moved into place.
type PendingFile interface {
	// Cleanup closes the file and removes it without performing the move.
	// Use CloseReplace to close and commit instead.
	Cleanup() (err error)

	// CloseReplace closes the temporary file and replaces the destination
	// with it.
	//
	// CloseReplace is not safe for concurrent use by multiple goroutines.
	CloseReplace() (err error)

	// Write writes len(b) bytes from b to the file.
	Write(b []byte) (n int, err error)
}

// New opens a new pending file that will replace filePath with permissions
// mode once committed via CloseReplace.
func New(filePath string, mode fs.FileMode) (f PendingFile, err error) {
	return newPendingFile(filePath, mode)
}

// WithDeferredCleanup commits file via CloseReplace if returned is nil, or
// cleans it up otherwise, and returns returned joined with whichever of
// those operations' own error, if any.
func WithDeferredCleanup(returned error, file PendingFile) (err error) {
	if returned != nil {
		return errors.WithDeferred(returned, file.Cleanup())
	}

	return errors.WithDeferred(nil, file.CloseReplace())
}
