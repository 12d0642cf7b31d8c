package models

import (
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

const (
	StagingStatusDiscovered      = "discovered"
	StagingStatusMetadataPending = "metadata_pending"
	StagingStatusReadyToImport   = "ready_to_import"
	StagingStatusImporting       = "importing"
	StagingStatusFailed          = "failed"
)

// StagingEntry tracks a file sitting in the staging directory before it is
// imported into the library. Filepath is relative to the staging root.
// Entries are transient local state: they're created by the scanner, carried
// through metadata editing, and deleted when the file is imported or removed.
type StagingEntry struct {
	bun.BaseModel `bun:"table:staging_entries,alias:se"`

	ID           int       `bun:",pk,nullzero" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Filepath     string    `bun:",nullzero" json:"filepath"`
	FileSize     int64     `json:"file_size"`
	DiscoveredAt time.Time `json:"discovered_at"`
	PageCount    *int      `json:"page_count,omitempty"`
	NeedsReview  bool      `json:"needs_review"`
	Status       string    `bun:",nullzero" json:"status"`

	// Filename-derived suggestions shown in the staging UI before the user
	// confirms metadata.
	SuggestedTitle  *string `json:"suggested_title,omitempty"`
	SuggestedArtist *string `json:"suggested_artist,omitempty"`

	// Metadata holds the normalized proposed metadata as a JSON string;
	// MetadataParsed is its unmarshalled form for callers.
	Metadata       string            `bun:",nullzero" json:"-"`
	MetadataParsed *ProposedMetadata `bun:"-" json:"metadata,omitempty"`

	// Set when an import attempt fails. OrphanedPath records a destination
	// file that could not be rolled back and needs manual reconciliation.
	LastError    *string `json:"last_error,omitempty"`
	OrphanedPath *string `json:"orphaned_path,omitempty"`
}

// ProposedMetadata is the user-confirmed metadata stored on a staging entry
// once it is ready to import.
type ProposedMetadata struct {
	Title            string   `json:"title"`
	Artist           string   `json:"artist"`
	Circle           *string  `json:"circle,omitempty"`
	Parody           *string  `json:"parody,omitempty"`
	Description      *string  `json:"description,omitempty"`
	ReadingDirection string   `json:"reading_direction"`
	Series           *string  `json:"series,omitempty"`
	Category         *string  `json:"category,omitempty"`
	Tags             []string `json:"tags,omitempty"`
}

// UnmarshalMetadata parses the stored JSON metadata into MetadataParsed.
func (se *StagingEntry) UnmarshalMetadata() error {
	if se.Metadata == "" {
		return nil
	}

	se.MetadataParsed = &ProposedMetadata{}
	err := json.Unmarshal([]byte(se.Metadata), se.MetadataParsed)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// MarshalMetadata serializes MetadataParsed into the Metadata column.
func (se *StagingEntry) MarshalMetadata() error {
	if se.MetadataParsed == nil {
		return nil
	}

	data, err := json.Marshal(se.MetadataParsed)
	if err != nil {
		return errors.WithStack(err)
	}
	se.Metadata = string(data)

	return nil
}
