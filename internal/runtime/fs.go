package runtime

import (
	"io/fs"
	"os"
)

// FileSystem is the minimal filesystem abstraction tools are handed
// instead of calling os directly, so a test harness can substitute a
// fake root without touching the real disk. The real implementation is a
// thin pass-through to the os package.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm fs.FileMode) error
	Stat(path string) (fs.FileInfo, error)
	Getwd() (string, error)
}

// OSFileSystem implements FileSystem directly against the local disk.
type OSFileSystem struct{}

func (OSFileSystem) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

func (OSFileSystem) WriteFile(path string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (OSFileSystem) Stat(path string) (fs.FileInfo, error) { return os.Stat(path) }

func (OSFileSystem) Getwd() (string, error) { return os.Getwd() }
