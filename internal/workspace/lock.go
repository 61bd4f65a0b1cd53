// Package workspace provides workspace-level utilities: the run lock and
// loading and writing the files a patch touches.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const lockFileName = ".kvit-patch.lock"

// lockPollInterval is how often WaitLock retries a held lock
const lockPollInterval = 100 * time.Millisecond

// ErrLocked is returned when another run holds the workspace lock
var ErrLocked = errors.New("workspace is locked by another kvit-patch run")

// Lock represents an acquired workspace lock.
type Lock struct {
	file        *os.File
	lockPath    string
	sigChan     chan os.Signal
	mu          sync.Mutex
	cleanupOnce sync.Once
}

// AcquireLock attempts to acquire an exclusive lock on a workspace directory.
// Patch runs on one workspace must be serialized: each run loads, patches and
// writes back files, and interleaved runs would lose each other's changes.
// Returns a Lock that must be released by calling Release(), or an error
// wrapping ErrLocked if another run holds it.
func AcquireLock(workspaceRoot string) (*Lock, error) {
	lockPath := filepath.Join(workspaceRoot, lockFileName)

	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace lock file: %w", err)
	}

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		lockFile.Close()
		if pid, herr := Holder(workspaceRoot); herr == nil {
			return nil, fmt.Errorf("%w: %s (pid %d)", ErrLocked, workspaceRoot, pid)
		}
		return nil, fmt.Errorf("%w: %s", ErrLocked, workspaceRoot)
	}

	// pid and start time, read back by Holder
	lockFile.Truncate(0)
	lockFile.Seek(0, 0)
	fmt.Fprintf(lockFile, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))

	lock := &Lock{
		file:     lockFile,
		lockPath: lockPath,
		sigChan:  make(chan os.Signal, 1),
	}

	// Register signal handler to clean up lock file on Ctrl+C
	signal.Notify(lock.sigChan, syscall.SIGINT, syscall.SIGTERM)
	sigChan := lock.sigChan // Capture to avoid race with Release() setting to nil
	go func() {
		sig, ok := <-sigChan
		if ok && sig != nil {
			lock.cleanup()
			os.Exit(130) // 128 + SIGINT(2)
		}
	}()

	return lock, nil
}

// Holder returns the pid recorded by the run holding the workspace lock
func Holder(workspaceRoot string) (int, error) {
	data, err := os.ReadFile(filepath.Join(workspaceRoot, lockFileName))
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, errors.New("empty lock file")
	}
	return strconv.Atoi(fields[0])
}

// WaitLock retries AcquireLock until it succeeds or ctx is done
func WaitLock(ctx context.Context, workspaceRoot string) (*Lock, error) {
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		lock, err := AcquireLock(workspaceRoot)
		if err == nil || !errors.Is(err, ErrLocked) {
			return lock, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", err, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Release releases the workspace lock and removes the lock file.
func (l *Lock) Release() {
	l.mu.Lock()
	if l.file == nil {
		l.mu.Unlock()
		return
	}
	// Stop listening for signals
	if l.sigChan != nil {
		signal.Stop(l.sigChan)
		close(l.sigChan)
		l.sigChan = nil
	}
	l.mu.Unlock()
	l.cleanup()
}

// cleanup performs the actual file cleanup (called by both Release and signal handler)
func (l *Lock) cleanup() {
	l.cleanupOnce.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.file == nil {
			return
		}
		syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
		l.file.Close()
		os.Remove(l.lockPath)
		l.file = nil
	})
}
