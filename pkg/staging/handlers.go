package staging

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kurabooks/kura/pkg/archive"
	"github.com/kurabooks/kura/pkg/errcodes"
	"github.com/kurabooks/kura/pkg/fileutils"
	"github.com/kurabooks/kura/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	stagingService *Service
	stagingDir     string
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	params := ListStagingEntriesQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	opts := ListStagingEntriesOptions{
		Limit:  &params.Limit,
		Offset: &params.Offset,
	}
	if params.Status != nil {
		opts.Statuses = []string{*params.Status}
	}

	entries, total, err := h.stagingService.ListStagingEntriesWithTotal(ctx, opts)
	if err != nil {
		return errors.WithStack(err)
	}

	response := map[string]interface{}{
		"staging_entries": entries,
		"total":           total,
	}

	return errors.WithStack(c.JSON(http.StatusOK, response))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Staging entry")
	}

	entry, err := h.stagingService.RetrieveStagingEntry(ctx, RetrieveStagingEntryOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, entry))
}

func (h *handler) upload(c echo.Context) error {
	ctx := c.Request().Context()

	params := UploadPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	header, ok := params.FormFiles["file"]
	if !ok {
		return errcodes.ValidationError(`"file" is required`)
	}
	if !archive.HasArchiveExtension(header.Filename) {
		return errcodes.ValidationError(`"file" must be a .zip or .cbz archive`)
	}

	name := fileutils.SanitizeForFilename(header.Filename)
	relPath, err := fileutils.EnsureUniquePath(h.stagingDir, name)
	if err != nil {
		return errors.WithStack(err)
	}

	src, err := header.Open()
	if err != nil {
		return errors.WithStack(err)
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(h.stagingDir, relPath))
	if err != nil {
		return errors.WithStack(err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.WithStack(err)
	}

	entry, err := h.stagingService.IngestFile(ctx, relPath)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusCreated, entry))
}

func (h *handler) scan(c echo.Context) error {
	ctx := c.Request().Context()

	c.Set("disallow_empty_body", false)

	result, err := h.stagingService.Scan(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, result))
}

func (h *handler) applyMetadata(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Staging entry")
	}

	params := ApplyMetadataPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	metadata := &models.ProposedMetadata{
		Title:            params.Title,
		Artist:           params.Artist,
		Circle:           params.Circle,
		Parody:           params.Parody,
		Description:      params.Description,
		ReadingDirection: params.ReadingDirection,
		Series:           params.Series,
		Category:         params.Category,
		Tags:             params.Tags,
	}

	entry, err := h.stagingService.ApplyMetadata(ctx, id, metadata)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, entry))
}

func (h *handler) retry(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Staging entry")
	}

	c.Set("disallow_empty_body", false)

	entry, err := h.stagingService.Retry(ctx, id)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, entry))
}

func (h *handler) cover(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Staging entry")
	}

	entry, err := h.stagingService.RetrieveStagingEntry(ctx, RetrieveStagingEntryOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	data, mimeType, err := archive.ReadPage(h.stagingService.StagedFilePath(entry), 0)
	if err != nil {
		return errors.WithStack(err)
	}

	c.Response().Header().Set("Cache-Control", "public, max-age=86400")

	return errors.WithStack(c.Blob(http.StatusOK, mimeType, data))
}
