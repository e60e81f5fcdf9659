// Package pidfile is the thin collaborator spec.md §1 calls for: PID file
// management is out of scope beyond a named interface. Write and Remove
// are all a caller needs.
package pidfile

import (
	"fmt"
	"os"
	"strconv"
)

// Write records the current process's PID at path. A no-op if path is
// empty.
func Write(path string) error {
	if path == "" {
		return nil
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("pidfile: write %s: %w", path, err)
	}
	return nil
}

// Remove deletes the PID file at path, ignoring a missing file. A no-op
// if path is empty.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pidfile: remove %s: %w", path, err)
	}
	return nil
}
