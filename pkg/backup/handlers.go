package backup

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	backupService *Service
}

func (h *handler) export(c echo.Context) error {
	ctx := c.Request().Context()

	snapshot, err := h.backupService.Export(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	c.Response().Header().Set("Content-Disposition", `attachment; filename="kura-backup.json"`)

	return errors.WithStack(c.JSON(http.StatusOK, snapshot))
}

func (h *handler) restore(c echo.Context) error {
	ctx := c.Request().Context()

	snapshot := Snapshot{}
	if err := c.Bind(&snapshot); err != nil {
		return errors.WithStack(err)
	}

	result, err := h.backupService.Restore(ctx, &snapshot)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, result))
}
