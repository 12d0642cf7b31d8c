package progress

import (
	"net/http"
	"strconv"

	"github.com/kurabooks/kura/pkg/errcodes"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	progressService *Service
}

type RecordPagePayload struct {
	LastPage int `json:"last_page" validate:"min=0"`
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Gallery")
	}

	progress, err := h.progressService.Retrieve(ctx, id)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, progress))
}

func (h *handler) record(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Gallery")
	}

	params := RecordPagePayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	progress, err := h.progressService.RecordPage(ctx, id, params.LastPage)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, progress))
}
