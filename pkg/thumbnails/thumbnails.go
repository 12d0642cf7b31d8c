// Package thumbnails renders cover thumbnails for imported galleries.
package thumbnails

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/kurabooks/kura/pkg/archive"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	_ "golang.org/x/image/webp"
)

// Service generates JPEG thumbnails from the first page of an archive.
type Service struct {
	dir    string
	height uint
}

func NewService(dir string, height int) *Service {
	return &Service{dir: dir, height: uint(height)}
}

// Generate renders the first page of the archive at archivePath into a JPEG
// thumbnail named after the gallery id and returns the thumbnail's path
// relative to the thumbnail directory. The context bounds how long decoding
// is allowed to take.
func (svc *Service) Generate(ctx context.Context, galleryID int, archivePath string) (string, error) {
	type result struct {
		data []byte
		err  error
	}

	ch := make(chan result, 1)
	go func() {
		data, err := svc.render(archivePath)
		ch <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", errors.WithStack(ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return "", res.err
		}

		relPath := fmt.Sprintf("%d.jpg", galleryID)
		if err := os.WriteFile(filepath.Join(svc.dir, relPath), res.data, 0644); err != nil {
			return "", errors.WithStack(err)
		}
		return relPath, nil
	}
}

// Remove deletes the thumbnail file, if any. Missing files are not an error.
func (svc *Service) Remove(relPath string) error {
	err := os.Remove(filepath.Join(svc.dir, relPath))
	if err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	return nil
}

// FilePath returns the absolute path for a stored thumbnail.
func (svc *Service) FilePath(relPath string) string {
	return filepath.Join(svc.dir, relPath)
}

func (svc *Service) render(archivePath string) ([]byte, error) {
	data, _, err := archive.ReadPage(archivePath, 0)
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.WithStack(err)
	}

	// Scale to the configured height, preserving aspect ratio.
	scaled := resize.Resize(0, svc.height, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: 85}); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}
