package common

import (
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to a temporary file next to path and renames it
// into place, so readers never observe a partially written file. Failures are
// returned as *FileSystemError.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return NewFileSystemError("mkdir", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return NewFileSystemError("create", path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return NewFileSystemError("write", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		cleanup()
		return NewFileSystemError("chmod", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return NewFileSystemError("close", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return NewFileSystemError("rename", path, err)
	}
	return nil
}
