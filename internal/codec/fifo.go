//go:build !windows

package codec

import (
	"fmt"
	"os"
	"syscall"
)

// MakeFIFO creates a named pipe at path with mode 0600, deleting any
// existing file there first.
func MakeFIFO(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove existing fifo %s: %w", path, err)
	}
	if err := syscall.Mkfifo(path, 0o600); err != nil {
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}
	return nil
}
