package daemon

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/netshield/netshieldd/internal/atomicfile"
)

// pidFilePerm is the permission mode of the PID file.
const pidFilePerm fs.FileMode = 0o644

// ErrAnotherInstance is returned by acquireSingleInstance when a live
// process already holds the PID file.
var ErrAnotherInstance = errors.Error("another instance is already running")

// pidRecord is the on-disk representation of the running process's identity
// and start time.
type pidRecord struct {
	StartTime time.Time `json:"startTime"`
	Platform  string    `json:"platform"`
	Pid       int       `json:"pid"`
}

// readPIDFile reads and decodes the PID record at path. A missing file is
// reported as os.ErrNotExist.
func readPIDFile(path string) (r pidRecord, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return r, err
	}

	if err = json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decoding pid file %q: %w", path, err)
	}

	return r, nil
}

// writePIDFile atomically writes the current process's PID record to path
// via write-to-temp-then-rename, so a reader never observes a torn PID
// file.
func writePIDFile(path string) (err error) {
	r := pidRecord{
		Pid:       os.Getpid(),
		StartTime: time.Now(),
		Platform:  runtime.GOOS,
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding pid record: %w", err)
	}

	f, err := atomicfile.New(path, pidFilePerm)
	if err != nil {
		return fmt.Errorf("opening pid file %q: %w", path, err)
	}

	_, err = f.Write(data)

	return atomicfile.WithDeferredCleanup(err, f)
}

// removePIDFile removes the PID file at path. A missing file is not an
// error.
func removePIDFile(path string) (err error) {
	err = os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing pid file %q: %w", path, err)
	}

	return nil
}

// acquireSingleInstance refuses to start if path names a PID file whose
// process is still alive, and removes the file if the referenced process
// is gone.
func acquireSingleInstance(path string) (err error) {
	r, err := readPIDFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		// A corrupt PID file is treated the same as a stale one: it
		// cannot possibly belong to a live instance in a form we can
		// trust, so remove it and proceed.
		return removePIDFile(path)
	}

	if processAlive(r.Pid) {
		return fmt.Errorf("%w: pid %d", ErrAnotherInstance, r.Pid)
	}

	return removePIDFile(path)
}
