package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kurabooks/kura/pkg/backup"
	"github.com/kurabooks/kura/pkg/binder"
	"github.com/kurabooks/kura/pkg/config"
	"github.com/kurabooks/kura/pkg/errcodes"
	"github.com/kurabooks/kura/pkg/galleries"
	"github.com/kurabooks/kura/pkg/importer"
	"github.com/kurabooks/kura/pkg/progress"
	"github.com/kurabooks/kura/pkg/reader"
	"github.com/kurabooks/kura/pkg/series"
	"github.com/kurabooks/kura/pkg/staging"
	"github.com/kurabooks/kura/pkg/taxonomy"
	"github.com/kurabooks/kura/pkg/thumbnails"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/health"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/echo/v4/middleware/recovery"
	"github.com/uptrace/bun"
)

func New(cfg *config.Config, db *bun.DB) (*http.Server, error) {
	e := echo.New()

	b, err := binder.New()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.Binder = b

	e.Use(logger.Middleware())
	e.Use(recovery.Middleware())
	e.Use(middleware.CORS())

	health.RegisterRoutes(e)

	stagingService := staging.NewService(db, cfg.StagingDir)
	seriesService := series.NewService(db)
	taxonomyService := taxonomy.NewService(db)
	thumbnailService := thumbnails.NewService(cfg.ThumbnailDir, cfg.ThumbnailHeight)
	importService := importer.NewService(db, stagingService, seriesService, taxonomyService, thumbnailService, importer.Config{
		LibraryDir:       cfg.LibraryDir,
		ThumbnailTimeout: cfg.ThumbnailTimeout,
	})
	seriesService.SetRelocator(importService)
	galleryService := galleries.NewService(db, importService, seriesService, taxonomyService, thumbnailService, cfg.LibraryDir)

	stagingGroup := e.Group("/staging")
	staging.RegisterRoutesWithGroup(stagingGroup, db, cfg.StagingDir)
	importer.RegisterRoutesWithGroup(stagingGroup, importService)

	galleriesGroup := e.Group("/galleries")
	galleries.RegisterRoutesWithGroup(galleriesGroup, galleryService, cfg.ThumbnailTimeout)
	progress.RegisterRoutesWithGroup(galleriesGroup, db, cfg.LibraryDir)
	reader.RegisterRoutesWithGroup(galleriesGroup, galleryService, cfg.LibraryDir)

	seriesGroup := e.Group("/series")
	series.RegisterRoutesWithGroup(seriesGroup, seriesService)

	taxonomy.RegisterRoutes(e, db)
	backup.RegisterRoutes(e, backup.NewService(db, cfg.LibraryDir))

	echo.NotFoundHandler = notFoundHandler
	e.HTTPErrorHandler = errcodes.NewHandler().Handle

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:           e,
		ReadHeaderTimeout: 3 * time.Second,
	}

	return srv, nil
}

func notFoundHandler(c echo.Context) error {
	c.SetPath("/:path")
	return errcodes.NotFound("Page")
}
