package fs

import (
	"os"
	"path/filepath"
)

// TempPattern is the name pattern for temp files created next to their target.
const TempPattern = ".labforge-tmp-*"

// WriteTemp writes data to a new temp file in the same directory as path and
// returns the temp file's path. The temp file carries perm so a later rename
// onto path needs no further chmod. On error nothing is left behind.
// The caller owns the returned file: rename it onto path or remove it.
func WriteTemp(fsys FS, path string, data []byte, perm os.FileMode) (string, error) {
	tmpPath, w, err := fsys.CreateTemp(filepath.Dir(path), TempPattern)
	if err != nil {
		return "", err
	}

	success := false
	defer func() {
		if !success {
			fsys.Remove(tmpPath)
		}
	}()

	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	if err := fsys.Chmod(tmpPath, perm); err != nil {
		return "", err
	}

	success = true
	return tmpPath, nil
}

// WriteFileAtomic writes data to path atomically using a temp file + rename.
// The temp file is created in the same directory as path to ensure atomic rename on POSIX.
// If the operation fails, the original file (if any) is left unchanged.
// The caller must ensure the parent directory exists.
func WriteFileAtomic(fsys FS, path string, data []byte, perm os.FileMode) error {
	tmpPath, err := WriteTemp(fsys, path, data, perm)
	if err != nil {
		return err
	}
	if err := fsys.Rename(tmpPath, path); err != nil {
		fsys.Remove(tmpPath)
		return err
	}
	return nil
}

// FileMode returns the permission bits of an existing file, or fallback
// if the file does not exist.
func FileMode(fsys FS, path string, fallback os.FileMode) (os.FileMode, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fallback, nil
		}
		return 0, err
	}
	return info.Mode().Perm(), nil
}
