package update

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"kode/internal/debug"
)

const (
	// LockFileName is the marker file guarding update operations.
	LockFileName = ".update.lock"
	// LockTimeout is the age at which a held lock is considered abandoned.
	LockTimeout = 5 * time.Minute
)

// Locker provides cross-process mutual exclusion for update operations.
type Locker interface {
	// Acquire reports whether the caller now holds the lock. It never blocks.
	Acquire() bool
	// Release gives up the lock if the caller holds it; otherwise it is a no-op.
	Release()
}

// LockInfo describes the current holder of a marker lock.
type LockInfo struct {
	Owner      string
	AcquiredAt time.Time
}

// IsStale reports whether a lock acquired at info.AcquiredAt has been held
// for at least timeout as of now.
func IsStale(info LockInfo, now time.Time, timeout time.Duration) bool {
	return now.Sub(info.AcquiredAt) >= timeout
}

// WithLock runs fn while holding l. The lock is released on every exit path,
// panics included. acquired is false when the lock was held elsewhere, in
// which case fn is not run.
func WithLock(l Locker, fn func() error) (acquired bool, err error) {
	if !l.Acquire() {
		return false, nil
	}
	defer l.Release()
	return true, fn()
}

// MarkerLock is a Locker backed by a marker file whose content is the owner
// identity and whose modification time is the acquisition time.
//
// Acquire is a check-then-act sequence and is not atomic: two processes that
// observe a missing or stale marker at the same instant may both succeed.
// The window is small and bounded by the staleness timeout.
type MarkerLock struct {
	path    string
	owner   string
	timeout time.Duration
	now     func() time.Time
}

// LockOption configures a MarkerLock.
type LockOption func(*MarkerLock)

// WithOwner overrides the identity written into the marker (default: the PID).
func WithOwner(owner string) LockOption {
	return func(l *MarkerLock) {
		l.owner = owner
	}
}

// WithLockTimeout overrides LockTimeout.
func WithLockTimeout(d time.Duration) LockOption {
	return func(l *MarkerLock) {
		l.timeout = d
	}
}

// WithClock overrides the time source used for acquisition and staleness.
func WithClock(now func() time.Time) LockOption {
	return func(l *MarkerLock) {
		l.now = now
	}
}

// NewMarkerLock creates a marker lock at path.
func NewMarkerLock(path string, opts ...LockOption) *MarkerLock {
	l := &MarkerLock{
		path:    path,
		owner:   strconv.Itoa(os.Getpid()),
		timeout: LockTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultLockPath returns ~/.kode/.update.lock (honouring KODE_HOME).
func DefaultLockPath() (string, error) {
	dir, err := debug.HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, LockFileName), nil
}

// Path returns the marker file location.
func (l *MarkerLock) Path() string { return l.path }

// Owner returns the identity this lock writes when acquired.
func (l *MarkerLock) Owner() string { return l.owner }

// Acquire implements Locker. The existence check and the marker write are
// separate steps, so two processes racing inside that window can both
// succeed. Use FlockLock when that matters.
func (l *MarkerLock) Acquire() bool {
	//nolint:gosec // G301: User state directory needs standard permissions
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		debug.Errorf("lock: create base directory: %v", err)
		return false
	}

	info, err := l.Inspect()
	switch {
	case err == nil:
		if !IsStale(info, l.now(), l.timeout) {
			debug.Logf("lock: held by %s since %s", info.Owner, info.AcquiredAt.Format(time.RFC3339))
			return false
		}
		debug.Logf("lock: reclaiming stale lock held by %s", info.Owner)
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			debug.Errorf("lock: remove stale lock: %v", err)
			return false
		}
	case !errors.Is(err, fs.ErrNotExist):
		debug.Errorf("lock: inspect: %v", err)
		return false
	}

	if err := os.WriteFile(l.path, []byte(l.owner), 0600); err != nil {
		debug.Errorf("lock: write marker: %v", err)
		return false
	}
	now := l.now()
	if err := os.Chtimes(l.path, now, now); err != nil {
		debug.Logf("lock: set acquisition time: %v", err)
	}
	return true
}

// Release implements Locker. Only a marker whose content matches this lock's
// owner is removed.
func (l *MarkerLock) Release() {
	//nolint:gosec // G304: Lock path is computed from the kode home directory
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			debug.Errorf("lock: read marker on release: %v", err)
		}
		return
	}
	if string(data) != l.owner {
		debug.Logf("lock: not releasing lock owned by %q", strings.TrimSpace(string(data)))
		return
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		debug.Errorf("lock: release: %v", err)
	}
}

// Inspect reads the current marker. The error wraps fs.ErrNotExist when no
// lock is held.
func (l *MarkerLock) Inspect() (LockInfo, error) {
	stat, err := os.Stat(l.path)
	if err != nil {
		return LockInfo{}, err
	}
	//nolint:gosec // G304: Lock path is computed from the kode home directory
	data, err := os.ReadFile(l.path)
	if err != nil {
		return LockInfo{}, fmt.Errorf("read lock marker: %w", err)
	}
	return LockInfo{Owner: string(data), AcquiredAt: stat.ModTime()}, nil
}
