package staging

import (
	"context"
	"database/sql"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kurabooks/kura/pkg/archive"
	"github.com/kurabooks/kura/pkg/errcodes"
	"github.com/kurabooks/kura/pkg/fileutils"
	"github.com/kurabooks/kura/pkg/models"
	"github.com/kurabooks/kura/pkg/taxonomy"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/uptrace/bun"
)

type RetrieveStagingEntryOptions struct {
	ID       *int
	Filepath *string
}

type ListStagingEntriesOptions struct {
	Limit    *int
	Offset   *int
	Statuses []string

	includeTotal bool
}

type UpdateStagingEntryOptions struct {
	Columns []string
}

// ScanResult summarizes one reconcile pass over the staging directory.
type ScanResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
}

type Service struct {
	db         *bun.DB
	stagingDir string
}

func NewService(db *bun.DB, stagingDir string) *Service {
	return &Service{db: db, stagingDir: stagingDir}
}

// StagedFilePath returns the absolute path of the entry's file.
func (svc *Service) StagedFilePath(entry *models.StagingEntry) string {
	return filepath.Join(svc.stagingDir, entry.Filepath)
}

func (svc *Service) CreateStagingEntry(ctx context.Context, entry *models.StagingEntry) error {
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = entry.CreatedAt
	if entry.DiscoveredAt.IsZero() {
		entry.DiscoveredAt = now
	}

	if entry.Metadata == "" && entry.MetadataParsed != nil {
		if err := entry.MarshalMetadata(); err != nil {
			return errors.WithStack(err)
		}
	}

	_, err := svc.db.
		NewInsert().
		Model(entry).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) RetrieveStagingEntry(ctx context.Context, opts RetrieveStagingEntryOptions) (*models.StagingEntry, error) {
	entry := &models.StagingEntry{}

	q := svc.db.
		NewSelect().
		Model(entry)

	if opts.ID != nil {
		q = q.Where("se.id = ?", *opts.ID)
	}
	if opts.Filepath != nil {
		q = q.Where("se.filepath = ?", *opts.Filepath)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Staging entry")
		}
		return nil, errors.WithStack(err)
	}

	if err := entry.UnmarshalMetadata(); err != nil {
		return nil, errors.WithStack(err)
	}

	return entry, nil
}

func (svc *Service) ListStagingEntries(ctx context.Context, opts ListStagingEntriesOptions) ([]*models.StagingEntry, error) {
	entries, _, err := svc.listStagingEntriesWithTotal(ctx, opts)
	return entries, errors.WithStack(err)
}

func (svc *Service) ListStagingEntriesWithTotal(ctx context.Context, opts ListStagingEntriesOptions) ([]*models.StagingEntry, int, error) {
	opts.includeTotal = true
	return svc.listStagingEntriesWithTotal(ctx, opts)
}

func (svc *Service) listStagingEntriesWithTotal(ctx context.Context, opts ListStagingEntriesOptions) ([]*models.StagingEntry, int, error) {
	entries := []*models.StagingEntry{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&entries).
		Order("se.discovered_at ASC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if opts.Statuses != nil {
		q = q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			for _, s := range opts.Statuses {
				sq = sq.WhereOr("se.status = ?", s)
			}
			return sq
		})
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	for _, entry := range entries {
		if err := entry.UnmarshalMetadata(); err != nil {
			return nil, 0, errors.WithStack(err)
		}
	}

	return entries, total, nil
}

func (svc *Service) UpdateStagingEntry(ctx context.Context, entry *models.StagingEntry, opts UpdateStagingEntryOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	if entry.MetadataParsed != nil {
		if err := entry.MarshalMetadata(); err != nil {
			return errors.WithStack(err)
		}
	}

	now := time.Now()
	entry.UpdatedAt = now
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(entry).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Staging entry")
		}
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) DeleteStagingEntry(ctx context.Context, id int) error {
	_, err := svc.db.
		NewDelete().
		Model((*models.StagingEntry)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return errors.WithStack(err)
}

// pruneStagingEntry deletes the entry unless an import claimed it after it
// was listed. The status guard re-checks at delete time, so a scan can't
// prune a row that just entered importing.
func (svc *Service) pruneStagingEntry(ctx context.Context, id int) (bool, error) {
	res, err := svc.db.
		NewDelete().
		Model((*models.StagingEntry)(nil)).
		Where("id = ?", id).
		Where("status != ?", models.StagingStatusImporting).
		Exec(ctx)
	if err != nil {
		return false, errors.WithStack(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.WithStack(err)
	}
	return affected > 0, nil
}

// ClaimForImport transitions the entry from ready_to_import to importing. The
// guarded update means only one caller can win when imports race.
func (svc *Service) ClaimForImport(ctx context.Context, id int) error {
	res, err := svc.db.
		NewUpdate().
		Model((*models.StagingEntry)(nil)).
		Set("status = ?", models.StagingStatusImporting).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Where("status = ?", models.StagingStatusReadyToImport).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if affected == 0 {
		return errcodes.InvalidState("Staging entry is not ready to import.")
	}

	return nil
}

// ApplyMetadata stores user-confirmed metadata on the entry and marks it
// ready to import. Entries mid-import can't be edited.
func (svc *Service) ApplyMetadata(ctx context.Context, id int, metadata *models.ProposedMetadata) (*models.StagingEntry, error) {
	entry, err := svc.RetrieveStagingEntry(ctx, RetrieveStagingEntryOptions{ID: &id})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if entry.Status == models.StagingStatusImporting {
		return nil, errcodes.InvalidState("Staging entry is currently being imported.")
	}

	if metadata.ReadingDirection == "" {
		metadata.ReadingDirection = models.ReadingDirectionLTR
	}
	metadata.Tags = taxonomy.NormalizeTagNames(metadata.Tags)

	entry.MetadataParsed = metadata
	entry.Status = models.StagingStatusReadyToImport
	entry.LastError = nil

	err = svc.UpdateStagingEntry(ctx, entry, UpdateStagingEntryOptions{
		Columns: []string{"metadata", "status", "last_error"},
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return entry, nil
}

// Retry moves a failed entry back to ready_to_import so the importer can pick
// it up again. The recorded orphaned path is kept until an import succeeds.
func (svc *Service) Retry(ctx context.Context, id int) (*models.StagingEntry, error) {
	entry, err := svc.RetrieveStagingEntry(ctx, RetrieveStagingEntryOptions{ID: &id})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if entry.Status != models.StagingStatusFailed {
		return nil, errcodes.InvalidState("Only failed staging entries can be retried.")
	}
	if entry.MetadataParsed == nil {
		return nil, errcodes.InvalidState("Staging entry has no confirmed metadata.")
	}

	entry.Status = models.StagingStatusReadyToImport
	entry.LastError = nil

	err = svc.UpdateStagingEntry(ctx, entry, UpdateStagingEntryOptions{
		Columns: []string{"status", "last_error"},
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return entry, nil
}

// Scan reconciles the staging directory with the tracked entries: new archive
// files get entries, entries whose files vanished are pruned. Running it
// twice in a row is a no-op. Entries mid-import are never pruned, since the
// importer owns their lifecycle.
func (svc *Service) Scan(ctx context.Context) (*ScanResult, error) {
	log := logger.FromContext(ctx)
	result := &ScanResult{}

	found := map[string]os.FileInfo{}
	err := filepath.WalkDir(svc.stagingDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !archive.HasArchiveExtension(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(svc.stagingDir, path)
		if err != nil {
			return err
		}

		found[rel] = info
		return nil
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	entries, err := svc.ListStagingEntries(ctx, ListStagingEntriesOptions{})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	tracked := map[string]*models.StagingEntry{}
	for _, entry := range entries {
		tracked[entry.Filepath] = entry
	}

	// Prune entries whose file is gone.
	for _, entry := range entries {
		if _, ok := found[entry.Filepath]; ok {
			continue
		}
		if entry.Status == models.StagingStatusImporting {
			continue
		}

		removed, err := svc.pruneStagingEntry(ctx, entry.ID)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if removed {
			log.Info("pruned staging entry for removed file", logger.Data{"filepath": entry.Filepath})
			result.Removed++
		}
	}

	// Track new files and pick up size changes on existing ones.
	for rel, info := range found {
		entry, ok := tracked[rel]
		if !ok {
			if _, err := svc.IngestFile(ctx, rel); err != nil {
				return nil, errors.WithStack(err)
			}
			result.Created++
			continue
		}

		if entry.FileSize != info.Size() {
			entry.FileSize = info.Size()
			svc.inspectArchive(ctx, entry)
			err := svc.UpdateStagingEntry(ctx, entry, UpdateStagingEntryOptions{
				Columns: []string{"file_size", "page_count", "needs_review"},
			})
			if err != nil {
				return nil, errors.WithStack(err)
			}
			result.Updated++
		}
	}

	return result, nil
}

// IngestFile creates a staging entry for the archive at the given
// staging-relative path.
func (svc *Service) IngestFile(ctx context.Context, relPath string) (*models.StagingEntry, error) {
	info, err := os.Stat(filepath.Join(svc.stagingDir, relPath))
	if err != nil {
		return nil, errors.WithStack(err)
	}

	entry := &models.StagingEntry{
		Filepath:     relPath,
		FileSize:     info.Size(),
		DiscoveredAt: time.Now(),
		Status:       models.StagingStatusDiscovered,
	}

	title, artist := fileutils.ParseStagedFilename(relPath)
	if title != "" {
		entry.SuggestedTitle = pointerutil.String(title)
		entry.Status = models.StagingStatusMetadataPending
	}
	if artist != "" {
		entry.SuggestedArtist = pointerutil.String(artist)
	}

	svc.inspectArchive(ctx, entry)

	if err := svc.CreateStagingEntry(ctx, entry); err != nil {
		return nil, errors.WithStack(err)
	}

	return entry, nil
}

// inspectArchive fills in the page count. Unreadable archives are flagged for
// manual review instead of failing the scan.
func (svc *Service) inspectArchive(ctx context.Context, entry *models.StagingEntry) {
	log := logger.FromContext(ctx)
	path := svc.StagedFilePath(entry)

	if err := archive.SniffZip(path); err != nil {
		log.Warn("staged file is not a readable archive", logger.Data{"filepath": entry.Filepath, "error": err.Error()})
		entry.PageCount = nil
		entry.NeedsReview = true
		return
	}

	count, err := archive.PageCount(path)
	if err != nil {
		log.Warn("could not count archive pages", logger.Data{"filepath": entry.Filepath, "error": err.Error()})
		entry.PageCount = nil
		entry.NeedsReview = true
		return
	}

	entry.PageCount = pointerutil.Int(count)
	entry.NeedsReview = count == 0
}
