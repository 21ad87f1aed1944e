package paths

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockHeld reports that another run owns the data directory. Watch mode
// skips the tick instead of failing on it.
var ErrLockHeld = errors.New("another run holds the data directory")

// RunLock guards a data directory against concurrent runs. The caches have
// a single-writer design, so a second process must wait or skip.
type RunLock struct {
	fileLock   *flock.Flock
	lockPath   string
	acquiredAt time.Time
	mu         sync.Mutex
}

type RunLockConfig struct {
	Retry    time.Duration
	MaxRetry int
}

func DefaultRunLockConfig() *RunLockConfig {
	return &RunLockConfig{
		Retry:    500 * time.Millisecond,
		MaxRetry: 10,
	}
}

// AcquireRunLock takes the lock for dataDir, retrying briefly before giving
// up with an error naming the holder's lock file.
func AcquireRunLock(dataDir string, cfg *RunLockConfig) (*RunLock, error) {
	if cfg == nil {
		cfg = DefaultRunLockConfig()
	}
	if err := EnsureDir(dataDir); err != nil {
		return nil, err
	}

	lockPath := LockPath(dataDir)
	fileLock := flock.New(lockPath)

	for i := 0; i < cfg.MaxRetry; i++ {
		locked, err := fileLock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to attempt run lock: %w", err)
		}
		if locked {
			l := &RunLock{fileLock: fileLock, lockPath: lockPath, acquiredAt: time.Now()}
			slog.Debug("Run lock acquired", "path", lockPath)
			return l, nil
		}
		if i < cfg.MaxRetry-1 {
			time.Sleep(cfg.Retry)
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrLockHeld, lockPath)
}

// TryRunLock attempts the lock once without waiting. held is false when
// another run has it.
func TryRunLock(dataDir string) (l *RunLock, held bool, err error) {
	if err := EnsureDir(dataDir); err != nil {
		return nil, false, err
	}

	lockPath := LockPath(dataDir)
	fileLock := flock.New(lockPath)

	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("failed to attempt run lock: %w", err)
	}
	if !locked {
		return nil, false, nil
	}
	return &RunLock{fileLock: fileLock, lockPath: lockPath, acquiredAt: time.Now()}, true, nil
}

// Unlock releases the lock. Safe to call more than once.
func (l *RunLock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileLock == nil {
		return
	}

	if err := l.fileLock.Unlock(); err != nil {
		slog.Error("Failed to release run lock", "path", l.lockPath, "error", err)
	} else {
		slog.Debug("Run lock released", "path", l.lockPath, "held_ms", time.Since(l.acquiredAt).Milliseconds())
	}
	l.fileLock = nil
}
