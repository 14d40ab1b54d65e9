package service

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// archivePath is the location a file source is moved to once processed.
func archivePath(archiveDir, source string) string {
	return filepath.Join(archiveDir, filepath.Base(source))
}

// archiveFile moves src to dst. A missing src with an existing dst means an
// earlier attempt already moved it.
func archiveFile(src, dst string) error {
	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		if _, dstErr := os.Stat(dst); dstErr == nil {
			return nil
		}
		return err
	}
	return moveFile(src, dst)
}

// moveFile renames src to dst, creating the target directory. Renames across
// filesystems fall back to copy and remove.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
