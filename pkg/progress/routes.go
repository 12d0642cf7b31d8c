package progress

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutesWithGroup registers progress routes on the galleries group.
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB, libraryDir string) {
	h := &handler{
		progressService: NewService(db, libraryDir),
	}

	g.GET("/:id/progress", h.retrieve)
	g.PUT("/:id/progress", h.record)
}
