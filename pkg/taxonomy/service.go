// Package taxonomy manages the shared category and tag vocabularies.
package taxonomy

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/kurabooks/kura/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// NormalizeTagNames trims the given names, drops empties, and collapses
// case-insensitive duplicates, keeping the first casing seen.
func NormalizeTagNames(names []string) []string {
	normalized := make([]string, 0, len(names))
	seen := map[string]bool{}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		normalized = append(normalized, name)
	}
	return normalized
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) ListCategories(ctx context.Context) ([]*models.Category, error) {
	categories := []*models.Category{}
	err := svc.db.NewSelect().
		Model(&categories).
		Order("c.name ASC").
		Scan(ctx)
	return categories, errors.WithStack(err)
}

func (svc *Service) ListTags(ctx context.Context) ([]*models.Tag, error) {
	tags := []*models.Tag{}
	err := svc.db.NewSelect().
		Model(&tags).
		Order("t.name ASC").
		Scan(ctx)
	return tags, errors.WithStack(err)
}

// FindOrCreateCategory returns the category with the given name, creating it
// when it doesn't exist. Matching is case-insensitive. Safe to call inside a
// transaction by passing the tx as idb.
func (svc *Service) FindOrCreateCategory(ctx context.Context, idb bun.IDB, name string) (*models.Category, error) {
	category := &models.Category{}
	err := idb.NewSelect().
		Model(category).
		Where("c.name = ? COLLATE NOCASE", name).
		Scan(ctx)
	if err == nil {
		return category, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithStack(err)
	}

	now := time.Now()
	category = &models.Category{Name: name, CreatedAt: now, UpdatedAt: now}
	_, err = idb.NewInsert().
		Model(category).
		On("CONFLICT (name) DO NOTHING").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if category.ID == 0 {
		// Lost a create race; the row exists now.
		err = idb.NewSelect().
			Model(category).
			Where("c.name = ? COLLATE NOCASE", name).
			Scan(ctx)
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}

	return category, nil
}

// FindOrCreateTag is the tag counterpart of FindOrCreateCategory.
func (svc *Service) FindOrCreateTag(ctx context.Context, idb bun.IDB, name string) (*models.Tag, error) {
	tag := &models.Tag{}
	err := idb.NewSelect().
		Model(tag).
		Where("t.name = ? COLLATE NOCASE", name).
		Scan(ctx)
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithStack(err)
	}

	now := time.Now()
	tag = &models.Tag{Name: name, CreatedAt: now, UpdatedAt: now}
	_, err = idb.NewInsert().
		Model(tag).
		On("CONFLICT (name) DO NOTHING").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if tag.ID == 0 {
		err = idb.NewSelect().
			Model(tag).
			Where("t.name = ? COLLATE NOCASE", name).
			Scan(ctx)
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}

	return tag, nil
}

// ReplaceGalleryTags swaps a gallery's tag set for the given names, creating
// tags as needed. Case-insensitive duplicates resolve to one tag and are
// linked once. Safe to call inside a transaction by passing the tx as idb.
func (svc *Service) ReplaceGalleryTags(ctx context.Context, idb bun.IDB, galleryID int, names []string) error {
	_, err := idb.NewDelete().
		Model((*models.GalleryTag)(nil)).
		Where("gallery_id = ?", galleryID).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	linked := map[int]bool{}
	for _, name := range NormalizeTagNames(names) {
		tag, err := svc.FindOrCreateTag(ctx, idb, name)
		if err != nil {
			return errors.WithStack(err)
		}
		if linked[tag.ID] {
			continue
		}
		linked[tag.ID] = true

		galleryTag := &models.GalleryTag{GalleryID: galleryID, TagID: tag.ID}
		if _, err := idb.NewInsert().Model(galleryTag).Exec(ctx); err != nil {
			return errors.WithStack(err)
		}
	}

	return nil
}
