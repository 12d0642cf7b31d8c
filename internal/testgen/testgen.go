// Package testgen generates archive fixtures for tests.
package testgen

import (
	"archive/zip"
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// GenerateArchive creates a valid zip archive at dir/filename containing
// pageCount decodable PNG pages named 001.png, 002.png, … and returns its
// path.
func GenerateArchive(t *testing.T, dir, filename string, pageCount int) string {
	t.Helper()

	path := filepath.Join(dir, filename)

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create archive file: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	defer zw.Close()

	for i := 1; i <= pageCount; i++ {
		w, err := zw.Create(fmt.Sprintf("%03d.png", i))
		if err != nil {
			t.Fatalf("failed to create page entry: %v", err)
		}
		if _, err := w.Write(PNGImage(t)); err != nil {
			t.Fatalf("failed to write page image: %v", err)
		}
	}

	return path
}

// GenerateCorruptArchive creates a file with a zip extension but garbage
// content, for exercising the scanner's manual-review path.
func GenerateCorruptArchive(t *testing.T, dir, filename string) string {
	t.Helper()

	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte("this is not a zip archive"), 0600); err != nil {
		t.Fatalf("failed to write corrupt archive: %v", err)
	}
	return path
}

// PNGImage returns a small decodable PNG.
func PNGImage(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 8, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 20), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}
