package archivestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps archives in a filesystem directory. It is the default
// destination: when the archive already lives directly in the base
// directory, Put is a no-op that reports the existing path.
type LocalStore struct {
	baseDir string
}

// NewLocalStore returns a LocalStore rooted at baseDir.
func NewLocalStore(baseDir string) *LocalStore {
	return &LocalStore{baseDir: baseDir}
}

// Put copies the archive into the base directory if it is not already
// there and returns its resting path.
func (s *LocalStore) Put(ctx context.Context, localPath string) (string, error) {
	dest := filepath.Join(s.baseDir, filepath.Base(localPath))
	if same, err := samePath(localPath, dest); err != nil {
		return "", err
	} else if same {
		return dest, nil
	}
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	if err := copyFile(localPath, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// Get copies a stored archive to destPath.
func (s *LocalStore) Get(ctx context.Context, location, destPath string) error {
	if same, err := samePath(location, destPath); err != nil {
		return err
	} else if same {
		return nil
	}
	return copyFile(location, destPath)
}

// List enumerates archives in the base directory whose name carries the
// .accel.dump marker and starts with prefix.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]ArchiveInfo, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read archive dir: %w", err)
	}

	var infos []ArchiveInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.Contains(name, ".accel.dump") || !strings.HasPrefix(name, prefix) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, ArchiveInfo{
			Location:  filepath.Join(s.baseDir, name),
			Name:      name,
			Size:      fi.Size(),
			UpdatedAt: fi.ModTime(),
		})
	}
	return infos, nil
}

func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return absA == absB, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w", dest, err)
	}
	return out.Close()
}
