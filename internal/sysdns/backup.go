package sysdns

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"

	"github.com/netshield/netshieldd/internal/atomicfile"
)

// backupFilePerm is the permission mode of a persisted resolver backup.
// Backups never contain secrets, but there is no reason for other local
// users to read or tamper with one.
const backupFilePerm fs.FileMode = 0o600

// loadBackup reads and decodes the backup at path.  A missing file is
// reported as os.ErrNotExist so callers (Configurator.Backup in particular)
// can tell "no prior backup" from "backup exists but is unreadable".
func loadBackup(path string) (b *Backup, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	b = &Backup{}
	if err = json.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("decoding backup %q: %w", path, err)
	}

	return b, nil
}

// saveBackup atomically writes b to path, replacing any existing file.
func saveBackup(path string, b *Backup) (err error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding backup: %w", err)
	}

	f, err := atomicfile.New(path, backupFilePerm)
	if err != nil {
		return fmt.Errorf("opening backup %q: %w", path, err)
	}

	_, err = f.Write(data)

	return atomicfile.WithDeferredCleanup(err, f)
}
