package fs

import (
	"fmt"
	"os"
	"path/filepath"
)

// CopyTree recursively copies the directory src to dst.
// Regular files keep their permission bits, directories are recreated with
// their source mode and symlinks are recreated verbatim (not followed).
// dst must not exist. Other file types (sockets, devices) are rejected.
func CopyTree(fsys FS, src, dst string) error {
	info, err := fsys.Lstat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", src)
	}
	exists, err := Exists(fsys, dst)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%s already exists", dst)
	}
	return copyDir(fsys, src, dst, info.Mode().Perm())
}

func copyDir(fsys FS, src, dst string, perm os.FileMode) error {
	if err := fsys.MkdirAll(dst, perm); err != nil {
		return err
	}
	entries, err := fsys.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		info, err := fsys.Lstat(srcPath)
		if err != nil {
			return err
		}
		mode := info.Mode()
		switch {
		case mode.IsDir():
			if err := copyDir(fsys, srcPath, dstPath, mode.Perm()); err != nil {
				return err
			}
		case mode&os.ModeSymlink != 0:
			target, err := fsys.Readlink(srcPath)
			if err != nil {
				return err
			}
			if err := fsys.Symlink(target, dstPath); err != nil {
				return err
			}
		case mode.IsRegular():
			data, err := fsys.ReadFile(srcPath)
			if err != nil {
				return err
			}
			if err := fsys.WriteFile(dstPath, data, mode.Perm()); err != nil {
				return err
			}
			// WriteFile is subject to umask
			if err := fsys.Chmod(dstPath, mode.Perm()); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported file type at %s: %s", srcPath, mode.Type())
		}
	}
	return nil
}
