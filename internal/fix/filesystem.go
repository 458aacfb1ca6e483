package fix

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileSystem is the file access the loop needs. Paths are absolute.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	// WriteFile replaces the content of an existing file, keeping its mode.
	WriteFile(path string, data []byte) error
	// Backup copies path under the backup directory and returns the copy's path.
	Backup(path, relPath string) (string, error)
}

// backupTimeFormat keeps repeated backups of one file distinct and sortable
const backupTimeFormat = "20060102-150405.000000"

// OSFileSystem is the FileSystem backed by the local disk.
type OSFileSystem struct {
	BackupDir string // absolute
	Now       func() time.Time
}

// NewOSFileSystem creates an OSFileSystem writing backups under backupDir.
func NewOSFileSystem(backupDir string) *OSFileSystem {
	return &OSFileSystem{BackupDir: backupDir, Now: time.Now}
}

// ReadFile implements FileSystem.
func (fs *OSFileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes through a temp file in the same directory and renames it
// over the target, so a failed write never leaves a truncated file.
func (fs *OSFileSystem) WriteFile(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".bughunter-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Backup implements FileSystem.
func (fs *OSFileSystem) Backup(path, relPath string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	now := time.Now
	if fs.Now != nil {
		now = fs.Now
	}
	dest := filepath.Join(fs.BackupDir, filepath.FromSlash(relPath)+"."+now().UTC().Format(backupTimeFormat)+".bak")
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}
	if err := os.WriteFile(dest, data, info.Mode().Perm()); err != nil {
		return "", err
	}
	return dest, nil
}
