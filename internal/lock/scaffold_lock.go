// Package lock serializes scaffolding runs against one lab root.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// FileName is the lock file created in the lab root.
const FileName = ".labforge.lock"

// LockInfo contains the metadata stored in a lock file.
type LockInfo struct {
	PID       int       `json:"pid"`
	CreatedAt time.Time `json:"created_at"`
	Cmd       string    `json:"cmd,omitempty"`
}

// ErrLocked indicates a non-stale lock is held by someone else.
type ErrLocked struct {
	Root string
	Info *LockInfo // nil if lock file is unreadable
	Path string
}

func (e *ErrLocked) Error() string {
	if e.Info != nil {
		return fmt.Sprintf("lab root %s is locked by pid %d since %s (lock file: %s)",
			e.Root, e.Info.PID, e.Info.CreatedAt.Format(time.RFC3339), e.Path)
	}
	return fmt.Sprintf("lab root %s is locked (lock file: %s)", e.Root, e.Path)
}

// ScaffoldLock guards the shared artifacts of a lab root. Two runs that both
// passed the "target does not exist" check would otherwise race on the
// Caddyfile, compose manifest and SQL scripts.
type ScaffoldLock struct {
	Root       string
	StaleAfter time.Duration
	Now        func() time.Time
	IsPIDAlive func(pid int) bool
}

// NewScaffoldLock returns a ScaffoldLock with defaults:
// - StaleAfter: 15m
// - Now: time.Now
// - IsPIDAlive: platform impl (best-effort)
func NewScaffoldLock(root string) ScaffoldLock {
	return ScaffoldLock{
		Root:       root,
		StaleAfter: 15 * time.Minute,
		Now:        time.Now,
		IsPIDAlive: isPIDAlive,
	}
}

// Path returns the lock file path.
func (l ScaffoldLock) Path() string {
	return filepath.Join(l.Root, FileName)
}

// Lock acquires the root lock and returns an unlock function.
// - cmd is stored in the lock file for debugging (may be empty).
// - the root directory must already exist.
// - if already locked and not stale: returns *ErrLocked.
func (l ScaffoldLock) Lock(cmd string) (unlock func() error, err error) {
	lockPath := l.Path()
	maxRetries := 3

	for attempt := 0; attempt < maxRetries; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			info := LockInfo{
				PID:       os.Getpid(),
				CreatedAt: l.Now(),
				Cmd:       cmd,
			}
			data, _ := json.Marshal(info)
			if _, writeErr := f.Write(data); writeErr != nil {
				f.Close()
				os.Remove(lockPath)
				return nil, fmt.Errorf("failed to write lock file: %w", writeErr)
			}
			if closeErr := f.Close(); closeErr != nil {
				os.Remove(lockPath)
				return nil, fmt.Errorf("failed to close lock file: %w", closeErr)
			}

			return func() error {
				err := os.Remove(lockPath)
				if err != nil && !os.IsNotExist(err) {
					return err
				}
				return nil
			}, nil
		}

		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		info, readErr := l.readLockInfo(lockPath)
		if readErr != nil {
			// unreadable: fall back to mtime
			stat, statErr := os.Stat(lockPath)
			if statErr != nil {
				return nil, &ErrLocked{Root: l.Root, Path: lockPath}
			}
			if l.Now().Sub(stat.ModTime()) <= l.StaleAfter {
				return nil, &ErrLocked{Root: l.Root, Path: lockPath}
			}
			if removeErr := os.Remove(lockPath); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, &ErrLocked{Root: l.Root, Path: lockPath}
			}
			continue
		}

		if l.isStale(info) {
			if removeErr := os.Remove(lockPath); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, &ErrLocked{Root: l.Root, Info: info, Path: lockPath}
			}
			continue
		}

		return nil, &ErrLocked{Root: l.Root, Info: info, Path: lockPath}
	}

	return nil, &ErrLocked{Root: l.Root, Path: lockPath}
}

// readLockInfo reads and parses the lock file.
func (l ScaffoldLock) readLockInfo(path string) (*LockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// isStale returns true if the holder is gone or the lock outlived StaleAfter.
func (l ScaffoldLock) isStale(info *LockInfo) bool {
	if !l.IsPIDAlive(info.PID) {
		return true
	}
	return l.Now().Sub(info.CreatedAt) > l.StaleAfter
}

// isPIDAlive checks if a process with the given pid is alive using signal 0.
// EPERM means the process exists under another user.
func isPIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
