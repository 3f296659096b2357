//go:build windows

package atomicfile

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/AdguardTeam/golibs/errors"
)

// pendingFile wraps [*os.File], calling [os.Rename] on commit.  Windows does
// not offer an atomic directory-entry replace for an open file the way Unix
// does, so this is "best effort, same as the rest of the ecosystem does it".
type pendingFile struct {
	file       *os.File
	targetPath string
}

var _ PendingFile = (*pendingFile)(nil)

// Cleanup implements the [PendingFile] interface for *pendingFile.
func (f *pendingFile) Cleanup() (err error) {
	closeErr := f.file.Close()
	err = os.Remove(f.file.Name())

	return errors.WithDeferred(err, closeErr)
}

// CloseReplace implements the [PendingFile] interface for *pendingFile.
func (f *pendingFile) CloseReplace() (err error) {
	err = f.file.Close()
	if err != nil {
		return fmt.Errorf("closing: %w", err)
	}

	err = os.Rename(f.file.Name(), f.targetPath)
	if err != nil {
		return fmt.Errorf("renaming: %w", err)
	}

	return nil
}

// Write implements the [PendingFile] interface for *pendingFile.
func (f *pendingFile) Write(b []byte) (n int, err error) {
	return f.file.Write(b)
}

// newPendingFile is a wrapper around [os.CreateTemp].
func newPendingFile(filePath string, mode fs.FileMode) (f PendingFile, err error) {
	file, err := os.CreateTemp(filepath.Dir(filePath), "")
	if err != nil {
		return nil, fmt.Errorf("opening pending file: %w", err)
	}

	err = os.Chmod(file.Name(), mode)
	if err != nil {
		return nil, fmt.Errorf("preparing pending file: %w", err)
	}

	return &pendingFile{file: file, targetPath: filePath}, nil
}
