package dbuild

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// packageLock is a per-package advisory lock. It serializes install, remove
// and upgrade for one package between cooperating processes while leaving
// other packages untouched.
type packageLock struct {
	f *os.File
}

// acquirePackageLock takes the lock for name without blocking. A second
// holder gets an immediate error naming the package.
func acquirePackageLock(lockDir, name string) (*packageLock, error) {
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(lockDir, name+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("package %s is locked by another dbuild process", name)
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return &packageLock{f: f}, nil
}

// release drops the lock. The lock file itself stays behind, which is fine
// for flock-based locking.
func (l *packageLock) release() {
	if l == nil || l.f == nil {
		return
	}
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	l.f.Close()
	l.f = nil
}
