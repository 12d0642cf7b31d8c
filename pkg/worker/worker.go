package worker

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/kurabooks/kura/pkg/config"
	"github.com/kurabooks/kura/pkg/importer"
	"github.com/kurabooks/kura/pkg/series"
	"github.com/kurabooks/kura/pkg/staging"
	"github.com/kurabooks/kura/pkg/taxonomy"
	"github.com/kurabooks/kura/pkg/thumbnails"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
)

// debounceDelay coalesces fsnotify event bursts (a copy into staging emits
// many writes) into a single scan request.
const debounceDelay = 2 * time.Second

// Worker runs the background staging scanner. It rescans on a fixed interval
// and immediately (debounced) when the staging directory changes on disk.
type Worker struct {
	config *config.Config
	log    logger.Logger

	stagingService *staging.Service
	importService  *importer.Service

	scanRequests chan struct{}
	shutdown     chan struct{}
	doneWatching chan struct{}
	doneScanning chan struct{}
}

func New(cfg *config.Config, db *bun.DB) *Worker {
	stagingService := staging.NewService(db, cfg.StagingDir)
	seriesService := series.NewService(db)
	taxonomyService := taxonomy.NewService(db)
	thumbnailService := thumbnails.NewService(cfg.ThumbnailDir, cfg.ThumbnailHeight)
	importService := importer.NewService(db, stagingService, seriesService, taxonomyService, thumbnailService, importer.Config{
		LibraryDir:       cfg.LibraryDir,
		ThumbnailTimeout: cfg.ThumbnailTimeout,
	})
	seriesService.SetRelocator(importService)

	return &Worker{
		config: cfg,
		log:    logger.New(),

		stagingService: stagingService,
		importService:  importService,

		scanRequests: make(chan struct{}, 1),
		shutdown:     make(chan struct{}),
		doneWatching: make(chan struct{}),
		doneScanning: make(chan struct{}),
	}
}

func (w *Worker) Start() {
	go w.watchStaging()
	go w.runScans()
}

func (w *Worker) runScans() {
	ctx := w.log.WithContext(context.Background())

	// Entries left in importing by a crashed run are resolved before any
	// scans so their files aren't treated as freshly staged.
	if err := w.importService.ResolveInFlight(ctx); err != nil {
		w.log.Err(err).Error("resolve in-flight imports error")
	}

	w.scan()

	timer := time.NewTimer(w.config.ScanInterval)

	for {
		select {
		case <-w.shutdown:
			timer.Stop()
			w.doneScanning <- struct{}{}
			return
		case <-timer.C:
			w.scan()
			timer.Reset(w.config.ScanInterval)
		case <-w.scanRequests:
			w.scan()
			timer.Reset(w.config.ScanInterval)
		}
	}
}

func (w *Worker) scan() {
	id, err := uuid.NewRandom()
	if err != nil {
		w.log.Err(err).Error("new uuid error")
		return
	}
	log := w.log.ID(id.String()).Root(logger.Data{"task": "staging_scan"})
	ctx := log.WithContext(context.Background())

	result, err := w.stagingService.Scan(ctx)
	if err != nil {
		log.Err(err).Error("staging scan error")
		return
	}

	if result.Created > 0 || result.Updated > 0 || result.Removed > 0 {
		log.Info("staging scan finished", logger.Data{
			"created": result.Created,
			"updated": result.Updated,
			"removed": result.Removed,
		})
	}
}

// watchStaging pushes debounced scan requests when the staging directory
// changes. If the watcher can't be created the interval scans still run.
func (w *Worker) watchStaging() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Err(err).Error("staging watcher error")
		<-w.shutdown
		w.doneWatching <- struct{}{}
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.config.StagingDir); err != nil {
		w.log.Err(err).Error("staging watch add error")
	}

	debounce := time.NewTimer(debounceDelay)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-w.shutdown:
			debounce.Stop()
			w.doneWatching <- struct{}{}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
				debounce.Reset(debounceDelay)
			}
		case err, ok := <-watcher.Errors:
			if ok {
				w.log.Err(err).Error("staging watcher error")
			}
		case <-debounce.C:
			select {
			case w.scanRequests <- struct{}{}:
			default:
			}
		}
	}
}

func (w *Worker) Shutdown() {
	close(w.shutdown)

	<-w.doneWatching
	<-w.doneScanning
}
