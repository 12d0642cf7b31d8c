package importer

import (
	"net/http"
	"strconv"

	"github.com/kurabooks/kura/pkg/errcodes"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	importService *Service
}

func (h *handler) importEntry(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Staging entry")
	}

	c.Set("disallow_empty_body", false)

	gallery, err := h.importService.Import(ctx, id)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusCreated, gallery))
}
