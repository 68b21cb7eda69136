package update

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"kode/internal/debug"
)

// FlockFileName is the file used by FlockLock.
const FlockFileName = ".update.flock"

// FlockLock is a Locker backed by an OS advisory lock. The kernel drops the
// lock when the holding process exits, so there is no staleness to recover.
type FlockLock struct {
	fl *flock.Flock
}

// NewFlockLock creates an advisory lock on path.
func NewFlockLock(path string) *FlockLock {
	return &FlockLock{fl: flock.New(path)}
}

// DefaultFlockPath returns ~/.kode/.update.flock (honouring KODE_HOME).
func DefaultFlockPath() (string, error) {
	dir, err := debug.HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FlockFileName), nil
}

// Acquire implements Locker.
func (l *FlockLock) Acquire() bool {
	//nolint:gosec // G301: User state directory needs standard permissions
	if err := os.MkdirAll(filepath.Dir(l.fl.Path()), 0755); err != nil {
		debug.Errorf("flock: create base directory: %v", err)
		return false
	}
	locked, err := l.fl.TryLock()
	if err != nil {
		debug.Errorf("flock: try lock %s: %v", l.fl.Path(), err)
		return false
	}
	if !locked {
		debug.Logf("flock: %s held by another process", l.fl.Path())
	}
	return locked
}

// Release implements Locker.
func (l *FlockLock) Release() {
	if !l.fl.Locked() {
		return
	}
	if err := l.fl.Unlock(); err != nil {
		debug.Errorf("flock: unlock %s: %v", l.fl.Path(), err)
	}
}

// NewLocker returns the Locker selected by mode ("flock" or "marker").
// Unknown modes fall back to the marker lock.
func NewLocker(mode string) (Locker, error) {
	if mode == "flock" {
		path, err := DefaultFlockPath()
		if err != nil {
			return nil, err
		}
		return NewFlockLock(path), nil
	}
	path, err := DefaultLockPath()
	if err != nil {
		return nil, err
	}
	return NewMarkerLock(path), nil
}
