package backup

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers the backup export and restore endpoints.
func RegisterRoutes(e *echo.Echo, svc *Service) {
	h := &handler{
		backupService: svc,
	}

	e.GET("/backup", h.export)
	e.POST("/backup/restore", h.restore)
}
