package fileutils

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// MoveFile safely moves a file from source to destination, creating the
// destination directory if needed.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.WithStack(err)
	}

	// Try a simple rename first (fastest, works if src and dst are on the
	// same filesystem).
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	// If rename failed, do a copy + delete.
	err = copyFile(src, dst)
	if err != nil {
		return errors.WithStack(err)
	}

	// Remove the source file only after a successful copy.
	err = os.Remove(src)
	if err != nil {
		// If we can't remove the source, clean up the destination so we
		// don't leave two copies behind.
		os.Remove(dst)
		return errors.WithStack(err)
	}

	return nil
}

// copyFile copies a file from source to destination.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return errors.WithStack(err)
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return errors.WithStack(err)
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	if err != nil {
		return errors.WithStack(err)
	}

	sourceInfo, err := sourceFile.Stat()
	if err != nil {
		return errors.WithStack(err)
	}

	err = destFile.Chmod(sourceInfo.Mode())
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// RemoveFileAndEmptyParents deletes the file at root/relPath, then removes
// any parent directories under root that became empty. Used when a gallery
// file leaves its current location.
func RemoveFileAndEmptyParents(root, relPath string) error {
	full := filepath.Join(root, relPath)
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}

	PruneEmptyParents(root, filepath.Dir(relPath))
	return nil
}

// PruneEmptyParents removes empty directories from root/relDir upward until
// it reaches root or a non-empty directory. Best effort.
func PruneEmptyParents(root, relDir string) {
	for relDir != "." && relDir != "" && relDir != string(filepath.Separator) {
		full := filepath.Join(root, relDir)
		entries, err := os.ReadDir(full)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(full); err != nil {
			return
		}
		relDir = filepath.Dir(relDir)
	}
}
