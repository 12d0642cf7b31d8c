package galleries

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kurabooks/kura/pkg/errcodes"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	galleryService   *Service
	thumbnailTimeout time.Duration
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	params := ListGalleriesQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	galleries, total, err := h.galleryService.ListGalleriesWithTotal(ctx, ListGalleriesOptions{
		Limit:      &params.Limit,
		Offset:     &params.Offset,
		Search:     params.Search,
		SeriesID:   params.SeriesID,
		CategoryID: params.CategoryID,
		Tag:        params.Tag,
		Orphaned:   params.Orphaned,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	response := map[string]interface{}{
		"galleries": galleries,
		"total":     total,
	}

	return errors.WithStack(c.JSON(http.StatusOK, response))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Gallery")
	}

	gallery, err := h.galleryService.RetrieveGallery(ctx, RetrieveGalleryOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, gallery))
}

func (h *handler) update(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Gallery")
	}

	params := UpdateGalleryPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	gallery, err := h.galleryService.RetrieveGallery(ctx, RetrieveGalleryOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	opts := UpdateGalleryOptions{Columns: []string{}}

	if params.Title != nil && *params.Title != gallery.Title {
		gallery.Title = *params.Title
		opts.Columns = append(opts.Columns, "title")
	}
	if params.Artist != nil && *params.Artist != gallery.Artist {
		gallery.Artist = *params.Artist
		opts.Columns = append(opts.Columns, "artist")
	}
	if params.Circle != nil {
		gallery.Circle = params.Circle
		opts.Columns = append(opts.Columns, "circle")
	}
	if params.Parody != nil {
		gallery.Parody = params.Parody
		opts.Columns = append(opts.Columns, "parody")
	}
	if params.Description != nil {
		gallery.Description = params.Description
		opts.Columns = append(opts.Columns, "description")
	}
	if params.ReadingDirection != nil && *params.ReadingDirection != gallery.ReadingDirection {
		gallery.ReadingDirection = *params.ReadingDirection
		opts.Columns = append(opts.Columns, "reading_direction")
	}
	if params.Category != nil {
		if *params.Category == "" {
			gallery.CategoryID = nil
		} else {
			category, err := h.galleryService.taxonomyService.FindOrCreateCategory(ctx, h.galleryService.db, *params.Category)
			if err != nil {
				return errors.WithStack(err)
			}
			gallery.CategoryID = &category.ID
		}
		opts.Columns = append(opts.Columns, "category_id")
	}
	if params.Tags != nil {
		opts.Tags = params.Tags
	}

	if err := h.galleryService.UpdateGallery(ctx, gallery, opts); err != nil {
		return errors.WithStack(err)
	}

	gallery, err = h.galleryService.RetrieveGallery(ctx, RetrieveGalleryOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, gallery))
}

func (h *handler) deleteGallery(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Gallery")
	}

	if err := h.galleryService.DeleteGallery(ctx, id); err != nil {
		return errors.WithStack(err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *handler) thumbnail(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Gallery")
	}

	gallery, err := h.galleryService.RetrieveGallery(ctx, RetrieveGalleryOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	if gallery.ThumbnailPath == nil {
		return errcodes.NotFound("Thumbnail")
	}

	c.Response().Header().Set("Cache-Control", "public, max-age=86400")

	return errors.WithStack(c.File(h.galleryService.thumbnailService.FilePath(*gallery.ThumbnailPath)))
}

func (h *handler) regenerateThumbnail(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Gallery")
	}

	c.Set("disallow_empty_body", false)

	gallery, err := h.galleryService.RegenerateThumbnail(ctx, id, h.thumbnailTimeout)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, gallery))
}
