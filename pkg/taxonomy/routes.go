package taxonomy

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type handler struct {
	taxonomyService *Service
}

func (h *handler) listCategories(c echo.Context) error {
	categories, err := h.taxonomyService.ListCategories(c.Request().Context())
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(c.JSON(http.StatusOK, categories))
}

func (h *handler) listTags(c echo.Context) error {
	tags, err := h.taxonomyService.ListTags(c.Request().Context())
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(c.JSON(http.StatusOK, tags))
}

// RegisterRoutes registers the category and tag listings.
func RegisterRoutes(e *echo.Echo, db *bun.DB) {
	h := &handler{taxonomyService: NewService(db)}

	e.GET("/categories", h.listCategories)
	e.GET("/tags", h.listTags)
}
