package daemon

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/netshield/netshieldd/internal/atomicfile"
)

// stateFilePerm is the permission mode of the persisted DaemonState file.
const stateFilePerm fs.FileMode = 0o644

// daemonState persists the last intentional blocking choice the user
// made, restored on the next startup.
type daemonState struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version"`
	IsBlocking bool      `json:"isBlocking"`
}

// readState reads and decodes the DaemonState at path. A missing file
// reports os.ErrNotExist so the caller can distinguish "first run" from
// "corrupt state".
func readState(path string) (s daemonState, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}

	if err = json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decoding state file %q: %w", path, err)
	}

	return s, nil
}

// writeState atomically persists s to path via write-to-temp-then-rename, so
// a reader never observes a torn state file.
func writeState(path string, s daemonState) (err error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	f, err := atomicfile.New(path, stateFilePerm)
	if err != nil {
		return fmt.Errorf("opening state file %q: %w", path, err)
	}

	_, err = f.Write(data)

	return atomicfile.WithDeferredCleanup(err, f)
}
