// Package lockfile keeps a single server instance per data directory.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileName is the lock file created inside the data directory.
const FileName = "threaddeck.lock"

// ErrLocked is returned when a live process already holds the lock.
var ErrLocked = errors.New("another threaddeck instance is running")

// Holder describes the process owning the lock.
type Holder struct {
	PID        int       `json:"pid"`
	ListenAddr string    `json:"listen_addr,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// Lockfile is an exclusive, PID-stamped lock file. A lock left behind by a
// dead process is taken over.
type Lockfile struct {
	path   string
	holder Holder
	locked bool
}

// New creates a lock for dataDir/FileName.
func New(dataDir string) *Lockfile {
	return &Lockfile{path: filepath.Join(dataDir, FileName)}
}

// TryAcquire takes the lock for the current process.
func (l *Lockfile) TryAcquire(listenAddr string) error {
	if l.locked {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	holder := Holder{PID: os.Getpid(), ListenAddr: listenAddr, StartedAt: time.Now().UTC()}
	err := l.create(holder)
	if errors.Is(err, os.ErrExist) {
		current, readErr := Read(filepath.Dir(l.path))
		if readErr == nil && current.PID != holder.PID && isProcessRunning(current.PID) {
			if current.ListenAddr != "" {
				return fmt.Errorf("%w (pid %d, listening on %s)", ErrLocked, current.PID, current.ListenAddr)
			}
			return fmt.Errorf("%w (pid %d)", ErrLocked, current.PID)
		}
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
		err = l.create(holder)
	}
	if err != nil {
		return fmt.Errorf("failed to create lock: %w", err)
	}

	l.holder = holder
	l.locked = true
	return nil
}

func (l *Lockfile) create(holder Holder) error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	err = json.NewEncoder(file).Encode(holder)
	if err == nil {
		err = file.Sync()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(l.path)
	}
	return err
}

// Read returns the holder recorded in dataDir's lock file.
func Read(dataDir string) (Holder, error) {
	var holder Holder
	data, err := os.ReadFile(filepath.Join(dataDir, FileName))
	if err != nil {
		return holder, err
	}
	if err := json.Unmarshal(data, &holder); err != nil {
		return holder, fmt.Errorf("invalid lock file: %w", err)
	}
	return holder, nil
}

// Release removes the lock if this instance holds it.
func (l *Lockfile) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock: %w", err)
	}
	return nil
}

// Locked reports whether the lock is held.
func (l *Lockfile) Locked() bool {
	return l.locked
}

// Holder returns the holder written on acquire.
func (l *Lockfile) Holder() Holder {
	return l.holder
}

// Path returns the lock file path.
func (l *Lockfile) Path() string {
	return l.path
}
