package fileutils

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// LibraryPathOptions contains the metadata needed to compute a gallery's
// canonical location inside the library.
type LibraryPathOptions struct {
	Artist    string
	Series    string // optional
	Title     string
	Extension string // includes the leading dot
}

// LibraryPath computes the canonical library-relative path for a gallery:
// Artist/Title.ext, or Artist/Series/Title.ext when the gallery belongs to a
// series. Each segment is sanitized independently so user metadata can never
// escape the library root.
func LibraryPath(opts LibraryPathOptions) (string, error) {
	artist := SanitizeForFilename(opts.Artist)
	title := SanitizeForFilename(opts.Title)
	if artist == "" || title == "" {
		return "", errors.New("artist and title are required to compute a library path")
	}

	ext := strings.ToLower(opts.Extension)

	if series := SanitizeForFilename(opts.Series); series != "" {
		return filepath.Join(artist, series, title+ext), nil
	}
	return filepath.Join(artist, title+ext), nil
}

// EnsureUniquePath resolves collisions under root by appending -2, -3, … to
// the filename until an unused relative path is found. The returned path is
// relative to root, like the input.
func EnsureUniquePath(root, relPath string) (string, error) {
	if _, err := os.Stat(filepath.Join(root, relPath)); os.IsNotExist(err) {
		return relPath, nil
	}

	dir := filepath.Dir(relPath)
	ext := filepath.Ext(relPath)
	base := strings.TrimSuffix(filepath.Base(relPath), ext)

	for i := 2; i < 1000; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s-%d%s", base, i, ext))
		if _, err := os.Stat(filepath.Join(root, candidate)); os.IsNotExist(err) {
			return candidate, nil
		}
	}

	return "", errors.Errorf("could not find a unique path for %s", relPath)
}

// SanitizeForFilename removes or replaces characters that are not safe for
// filenames.
func SanitizeForFilename(name string) string {
	// Replace smart quotes with regular quotes before stripping.
	name = regexp.MustCompile(`[“”]`).ReplaceAllString(name, `"`)
	name = regexp.MustCompile(`[‘’]`).ReplaceAllString(name, `'`)

	// Strip characters that are invalid on common filesystems. Path
	// separators go too, so metadata can't introduce extra directories.
	invalidChars := regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	name = invalidChars.ReplaceAllString(name, "")

	// Collapse runs of whitespace.
	name = regexp.MustCompile(`\s+`).ReplaceAllString(name, " ")

	// Windows doesn't like trailing dots.
	name = strings.Trim(name, " .")

	if len(name) > 200 {
		name = name[:200]
		name = strings.Trim(name, " .")
	}

	return name
}

// stagedNamePattern matches the common "[Artist] Title" convention used by
// most release groups.
var stagedNamePattern = regexp.MustCompile(`^\[([^\]]+)\]\s*(.+)$`)

// ParseStagedFilename extracts suggested artist and title values from a
// staged archive's filename. The title falls back to the bare filename when
// no artist bracket is present.
func ParseStagedFilename(filename string) (title string, artist string) {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = strings.TrimSpace(base)

	if matches := stagedNamePattern.FindStringSubmatch(base); len(matches) == 3 {
		return strings.TrimSpace(matches[2]), strings.TrimSpace(matches[1])
	}
	return base, ""
}
