package galleries

import (
	"time"

	"github.com/labstack/echo/v4"
)

// RegisterRoutesWithGroup registers gallery routes on a pre-configured group.
func RegisterRoutesWithGroup(g *echo.Group, svc *Service, thumbnailTimeout time.Duration) {
	h := &handler{
		galleryService:   svc,
		thumbnailTimeout: thumbnailTimeout,
	}

	g.GET("", h.list)
	g.GET("/:id", h.retrieve)
	g.PATCH("/:id", h.update)
	g.DELETE("/:id", h.deleteGallery)
	g.GET("/:id/thumbnail", h.thumbnail)
	g.POST("/:id/thumbnail", h.regenerateThumbnail)
}
