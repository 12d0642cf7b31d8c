// Package reader streams gallery pages straight out of their archives.
package reader

import (
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/kurabooks/kura/pkg/archive"
	"github.com/kurabooks/kura/pkg/errcodes"
	"github.com/kurabooks/kura/pkg/galleries"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	galleryService *galleries.Service
	libraryDir     string
}

func (h *handler) page(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Gallery")
	}
	page, err := strconv.Atoi(c.Param("page"))
	if err != nil {
		return errcodes.OutOfRange("Page index is out of range.")
	}

	gallery, err := h.galleryService.RetrieveGallery(ctx, galleries.RetrieveGalleryOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	data, mimeType, err := archive.ReadPage(filepath.Join(h.libraryDir, gallery.LibraryPath), page)
	if err != nil {
		return errors.WithStack(err)
	}

	c.Response().Header().Set("Cache-Control", "public, max-age=86400")

	return errors.WithStack(c.Blob(http.StatusOK, mimeType, data))
}

// RegisterRoutesWithGroup registers the page stream on the galleries group.
func RegisterRoutesWithGroup(g *echo.Group, galleryService *galleries.Service, libraryDir string) {
	h := &handler{
		galleryService: galleryService,
		libraryDir:     libraryDir,
	}

	g.GET("/:id/pages/:page", h.page)
}
