package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestAcquireLock(t *testing.T) {
	root := t.TempDir()

	lock, err := AcquireLock(root)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}

	lockPath := filepath.Join(root, lockFileName)
	if _, err := os.Stat(lockPath); err != nil {
		t.Errorf("lock file missing: %v", err)
	}
	pid, err := Holder(root)
	if err != nil || pid != os.Getpid() {
		t.Errorf("Holder() = %d, %v, want %d", pid, err, os.Getpid())
	}

	lock.Release()
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("lock file should be removed after release")
	}
	if _, err := Holder(root); err == nil {
		t.Error("Holder() should fail once the lock is released")
	}
}

func TestAcquireLock_SecondRunIsRejected(t *testing.T) {
	root := t.TempDir()

	first, err := AcquireLock(root)
	if err != nil {
		t.Fatalf("first AcquireLock() error = %v", err)
	}
	defer first.Release()

	second, err := AcquireLock(root)
	if err == nil {
		second.Release()
		t.Fatal("second AcquireLock() should fail while the first is held")
	}
	if !errors.Is(err, ErrLocked) {
		t.Errorf("error = %v, want ErrLocked", err)
	}
	if !strings.Contains(err.Error(), "pid "+strconv.Itoa(os.Getpid())) {
		t.Errorf("error %q should name the holder pid", err)
	}
	if second != nil {
		t.Error("lock should be nil on failure")
	}
}

func TestAcquireLock_AfterRelease(t *testing.T) {
	root := t.TempDir()

	first, err := AcquireLock(root)
	if err != nil {
		t.Fatal(err)
	}
	first.Release()
	// releasing again is a no-op
	first.Release()

	second, err := AcquireLock(root)
	if err != nil {
		t.Fatalf("AcquireLock() after release error = %v", err)
	}
	second.Release()
}

func TestAcquireLock_MissingRoot(t *testing.T) {
	_, err := AcquireLock(filepath.Join(t.TempDir(), "missing"))
	if err == nil || errors.Is(err, ErrLocked) {
		t.Errorf("error = %v, want a create failure", err)
	}
}

func TestWaitLock_TimesOut(t *testing.T) {
	root := t.TempDir()

	held, err := AcquireLock(root)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	_, err = WaitLock(ctx, root)
	if !errors.Is(err, ErrLocked) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitLock() error = %v, want ErrLocked and deadline", err)
	}
}

func TestWaitLock_AcquiresAfterRelease(t *testing.T) {
	root := t.TempDir()

	held, err := AcquireLock(root)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(150 * time.Millisecond)
		held.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lock, err := WaitLock(ctx, root)
	if err != nil {
		t.Fatalf("WaitLock() error = %v", err)
	}
	lock.Release()
}
