package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/thermo-extraction/constants"
)

// Session represents an extraction session for data transfer between layers.
type Session struct {
	ID           uuid.UUID              `json:"id"`
	SessionID    string                 `json:"session_id"`
	PDFFilename  string                 `json:"pdf_filename"`
	PDFPath      string                 `json:"pdf_path"`
	PDFSizeBytes int64                  `json:"pdf_size_bytes"`
	State        constants.SessionState `json:"state"`
	CurrentStep  int                    `json:"current_step"`
	Version      int64                  `json:"version"`

	PaperMetadata json.RawMessage `json:"paper_metadata,omitempty"`
	TablesFound   *int            `json:"tables_found,omitempty"`
	DataTypes     []string        `json:"data_types,omitempty"`

	CSVsExtracted          *int     `json:"csvs_extracted,omitempty"`
	ExtractionQualityScore *float64 `json:"extraction_quality_score,omitempty"`
	FailedTables           []int    `json:"failed_tables,omitempty"`

	DatasetID       *uuid.UUID `json:"dataset_id,omitempty"`
	FairScore       *int       `json:"fair_score,omitempty"`
	RecordsImported *int       `json:"records_imported,omitempty"`

	AIModel *string `json:"ai_model,omitempty"`
	Usage   Usage   `json:"usage"`

	ErrorMessage *string               `json:"error_message,omitempty"`
	ErrorStage   *constants.ErrorStage `json:"error_stage,omitempty"`
	UserID       *string               `json:"user_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StateCounts maps every lifecycle state to its number of sessions.
type StateCounts map[constants.SessionState]int
