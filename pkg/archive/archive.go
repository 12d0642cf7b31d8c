package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/kurabooks/kura/pkg/errcodes"
	"github.com/pkg/errors"
)

// Extensions accepted for archives in the staging directory.
var archiveExtensions = map[string]struct{}{
	".zip": {},
	".cbz": {},
}

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
}

// HasArchiveExtension reports whether the filename looks like a supported
// zip-compatible archive.
func HasArchiveExtension(name string) bool {
	_, ok := archiveExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// SniffZip verifies that the file content is actually a zip container, since
// files can carry any extension.
func SniffZip(path string) error {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return errors.WithStack(err)
	}
	if !mtype.Is("application/zip") {
		return errors.Errorf("not a zip archive: %s (%s)", path, mtype.String())
	}
	return nil
}

// ListPages returns the archive's page entry names sorted by name. Only
// image entries count as pages.
func ListPages(path string) ([]string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer r.Close()

	pages := make([]string, 0, len(r.File))
	for _, file := range r.File {
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(file.Name))]; ok {
			pages = append(pages, file.Name)
		}
	}

	// Sort by name to ensure a consistent page order.
	sort.Strings(pages)

	return pages, nil
}

// PageCount returns the number of image entries in the archive.
func PageCount(path string) (int, error) {
	pages, err := ListPages(path)
	if err != nil {
		return 0, err
	}
	return len(pages), nil
}

// ReadPage returns the raw image data and mime type for the page at the
// given zero-based index.
func ReadPage(path string, index int) ([]byte, string, error) {
	pages, err := ListPages(path)
	if err != nil {
		return nil, "", err
	}
	if index < 0 || index >= len(pages) {
		return nil, "", errcodes.OutOfRange("Page index is out of range.")
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, "", errors.WithStack(err)
	}
	defer r.Close()

	for _, file := range r.File {
		if file.Name != pages[index] {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return nil, "", errors.WithStack(err)
		}
		defer rc.Close()

		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, "", errors.WithStack(err)
		}
		return data, mimeTypeForExt(file.Name), nil
	}

	return nil, "", errcodes.NotFound("Page")
}

// FileSize returns the archive size in bytes.
func FileSize(path string) (int64, error) {
	stats, err := os.Stat(path)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return stats.Size(), nil
}

func mimeTypeForExt(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}
