package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/thermo-extraction/constants"
)

// Dataset represents a published dataset created by the load stage.
type Dataset struct {
	ID                 uuid.UUID `json:"id"`
	DatasetName        string    `json:"dataset_name"`
	Description        *string   `json:"description,omitempty"`
	DOI                *string   `json:"doi,omitempty"`
	FullCitation       *string   `json:"full_citation,omitempty"`
	PublicationYear    *int      `json:"publication_year,omitempty"`
	PublicationJournal *string   `json:"publication_journal,omitempty"`
	VolumePages        *string   `json:"publication_volume_pages,omitempty"`
	Authors            []string  `json:"authors,omitempty"`
	Affiliations       []string  `json:"affiliations,omitempty"`
	SupplementaryURL   *string   `json:"supplementary_url,omitempty"`
	StudyLocation      *string   `json:"study_location,omitempty"`
	MineralAnalyzed    *string   `json:"mineral_analyzed,omitempty"`
	SampleCount        *int      `json:"sample_count,omitempty"`
	AgeRangeMinMa      *float64  `json:"age_range_min_ma,omitempty"`
	AgeRangeMaxMa      *float64  `json:"age_range_max_ma,omitempty"`
	SourceSessionID    *string   `json:"source_session_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// DataFile is a stored artifact of a dataset.
type DataFile struct {
	ID            uuid.UUID              `json:"id"`
	DatasetID     uuid.UUID              `json:"dataset_id"`
	FileName      string                 `json:"file_name"`
	DisplayName   *string                `json:"display_name,omitempty"`
	FilePath      string                 `json:"file_path"`
	FileType      string                 `json:"file_type"`
	Category      constants.FileCategory `json:"category"`
	MimeType      *string                `json:"mime_type,omitempty"`
	FileSizeBytes *int64                 `json:"file_size_bytes,omitempty"`
	RowCount      *int                   `json:"row_count,omitempty"`
	Description   *string                `json:"description,omitempty"`
	UploadStatus  constants.UploadStatus `json:"upload_status"`
	CreatedAt     time.Time              `json:"created_at"`
}

// TestConfig is one QC test configuration with its CV summary value.
type TestConfig struct {
	ID               uuid.UUID `json:"id"`
	ManufacturerID   int       `json:"manufacturer_id"`
	AssayID          int       `json:"assay_id"`
	Curated          bool      `json:"curated"`
	CVLt10Percentage *float64  `json:"cv_lt_10_percentage,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
