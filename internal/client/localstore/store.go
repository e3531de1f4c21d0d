// Package localstore persists small client blobs (session, outbox, cache)
// as files under a state directory.
package localstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/natefinch/atomic"
)

const (
	dirPerms  = 0o700
	filePerms = 0o600

	lockTimeout   = 5 * time.Second
	lockRetryWait = 10 * time.Millisecond
)

var (
	ErrLockTimeout = errors.New("lock timeout")
	ErrInvalidKey  = errors.New("invalid key")
)

// Store is a key/value blob store that survives restarts.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, data []byte) error
	// Update runs a locked read-modify-write. Returning nil data from fn
	// skips the write.
	Update(key string, fn func(data []byte, ok bool) ([]byte, error)) error
	// TryLock takes a named lock without waiting. ok is false when another
	// holder has it.
	TryLock(name string) (release func(), ok bool, err error)
}

// FileStore keeps every key in <dir>/<key>.json, written atomically.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) Get(key string) ([]byte, bool, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, false, err
	}
	return read(path)
}

func (s *FileStore) Set(key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	lock, err := acquire(path+".lock", lockTimeout)
	if err != nil {
		return err
	}
	defer lock.release()
	return write(path, data)
}

func (s *FileStore) Update(key string, fn func(data []byte, ok bool) ([]byte, error)) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	lock, err := acquire(path+".lock", lockTimeout)
	if err != nil {
		return err
	}
	defer lock.release()

	data, ok, err := read(path)
	if err != nil {
		return err
	}
	next, err := fn(data, ok)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	return write(path, next)
}

func (s *FileStore) TryLock(name string) (func(), bool, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, false, err
	}
	lock, err := acquire(path+".run", 0)
	if errors.Is(err, ErrLockTimeout) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return lock.release, true, nil
}

func (s *FileStore) path(key string) (string, error) {
	if key == "" || filepath.Base(key) != key || key == "." || key == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dir, key+".json"), nil
}

func read(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return data, true, nil
}

func write(path string, data []byte) error {
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	// atomic.WriteFile does not set permissions for new files
	if err := os.Chmod(path, filePerms); err != nil {
		return fmt.Errorf("chmod %s: %w", filepath.Base(path), err)
	}
	return nil
}

type fileLock struct {
	file *os.File
}

// acquire takes an exclusive flock on path, retrying until timeout.
// A zero timeout tries exactly once.
func acquire(path string, timeout time.Duration) (*fileLock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, filePerms)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err == nil {
			return &fileLock{file: file}, nil
		}
		if !time.Now().Before(deadline) {
			_ = file.Close()
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, filepath.Base(path))
		}
		time.Sleep(lockRetryWait)
	}
}

func (l *fileLock) release() {
	if l.file != nil {
		_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
		_ = l.file.Close()
	}
}
