package staging

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutesWithGroup registers staging routes on a pre-configured group.
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB, stagingDir string) {
	h := &handler{
		stagingService: NewService(db, stagingDir),
		stagingDir:     stagingDir,
	}

	g.GET("", h.list)
	g.GET("/:id", h.retrieve)
	g.GET("/:id/cover", h.cover)
	g.POST("/upload", h.upload)
	g.POST("/scan", h.scan)
	g.PUT("/:id/metadata", h.applyMetadata)
	g.POST("/:id/retry", h.retry)
}
