package quarantine

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// moveFile renames src to dst, falling back to copy and delete when a rename
// is not possible, as across volumes.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("rename failed and copy failed: %w", err)
	}
	if err := os.Remove(src); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to remove %s after copy: %w", src, err)
	}
	return nil
}

// moveFileNoReplace moves src to dst and fails with os.ErrExist if dst exists,
// including when it appears during the move.
func moveFileNoReplace(src, dst string) error {
	err := os.Link(src, dst)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrExist):
		return err
	default:
		// Hard links are not available across volumes or on every filesystem.
		if err := copyFile(src, dst); err != nil {
			return err
		}
	}
	if err := os.Remove(src); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to remove %s after move: %w", src, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}
