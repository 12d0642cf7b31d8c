package importer

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutesWithGroup registers the import trigger on the staging group.
func RegisterRoutesWithGroup(g *echo.Group, svc *Service) {
	h := &handler{importService: svc}

	g.POST("/:id/import", h.importEntry)
}
