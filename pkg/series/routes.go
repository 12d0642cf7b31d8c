package series

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutesWithGroup registers series routes on a pre-configured group.
func RegisterRoutesWithGroup(g *echo.Group, svc *Service) {
	h := &handler{
		seriesService: svc,
	}

	g.GET("", h.list)
	g.GET("/:id", h.retrieve)
	g.GET("/:id/galleries", h.seriesGalleries)
	g.PATCH("/:id", h.update)
	g.DELETE("/:id", h.deleteSeries)
	g.PUT("/:id/order", h.setOrder)
	g.PUT("/:id/cover", h.setCover)
	g.POST("/:id/galleries", h.assignGallery)
	g.DELETE("/:id/galleries/:gallery_id", h.unassignGallery)
}
