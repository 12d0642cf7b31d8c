package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE categories (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				name TEXT NOT NULL
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_categories_name ON categories (name COLLATE NOCASE)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE tags (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				name TEXT NOT NULL
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_tags_name ON tags (name COLLATE NOCASE)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE series (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				name TEXT NOT NULL,
				cover_gallery_id INTEGER
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_series_name ON series (name COLLATE NOCASE)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE galleries (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				title TEXT NOT NULL,
				artist TEXT NOT NULL,
				circle TEXT,
				parody TEXT,
				description TEXT,
				reading_direction TEXT NOT NULL DEFAULT 'ltr',
				category_id INTEGER REFERENCES categories (id),
				series_id INTEGER REFERENCES series (id),
				library_path TEXT NOT NULL,
				thumbnail_path TEXT,
				page_count INTEGER NOT NULL DEFAULT 0,
				file_size INTEGER NOT NULL DEFAULT 0,
				original_filename TEXT NOT NULL,
				orphaned BOOLEAN NOT NULL DEFAULT FALSE
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		// No two galleries may share a library path.
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_galleries_library_path ON galleries (library_path)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_galleries_series_id ON galleries (series_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_galleries_category_id ON galleries (category_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE gallery_tags (
				gallery_id INTEGER NOT NULL REFERENCES galleries (id) ON DELETE CASCADE,
				tag_id INTEGER NOT NULL REFERENCES tags (id),
				PRIMARY KEY (gallery_id, tag_id)
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE series_galleries (
				series_id INTEGER NOT NULL REFERENCES series (id) ON DELETE CASCADE,
				gallery_id INTEGER NOT NULL REFERENCES galleries (id) ON DELETE CASCADE,
				position INTEGER NOT NULL,
				PRIMARY KEY (series_id, gallery_id)
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		// A gallery belongs to at most one series.
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_series_galleries_gallery_id ON series_galleries (gallery_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE reading_progress (
				gallery_id INTEGER PRIMARY KEY REFERENCES galleries (id) ON DELETE CASCADE,
				last_page INTEGER NOT NULL DEFAULT 0,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE staging_entries (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				filepath TEXT NOT NULL,
				file_size INTEGER NOT NULL DEFAULT 0,
				discovered_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				page_count INTEGER,
				needs_review BOOLEAN NOT NULL DEFAULT FALSE,
				status TEXT NOT NULL,
				suggested_title TEXT,
				suggested_artist TEXT,
				metadata TEXT,
				last_error TEXT,
				orphaned_path TEXT
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_staging_entries_filepath ON staging_entries (filepath)`)
		if err != nil {
			return errors.WithStack(err)
		}

		return nil
	}

	down := func(_ context.Context, db *bun.DB) error {
		for _, table := range []string{
			"staging_entries",
			"reading_progress",
			"series_galleries",
			"gallery_tags",
			"galleries",
			"series",
			"tags",
			"categories",
		} {
			_, err := db.Exec("DROP TABLE IF EXISTS " + table)
			if err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}

	Migrations.MustRegister(up, down)
}
