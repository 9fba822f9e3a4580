package schema

import (
	"encoding/json"
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/thermo-extraction/constants"
	"github.com/joseph-ayodele/thermo-extraction/db/ent/schema/utils"
)

type ExtractionSession struct{ ent.Schema }

func (ExtractionSession) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "extraction_session"},
	}
}

func (ExtractionSession) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.String("session_id").NotEmpty().Unique().Immutable(),
		field.String("pdf_filename").NotEmpty(),
		field.String("pdf_path").NotEmpty(),
		field.Int64("pdf_size_bytes").NonNegative(),
		field.String("state").NotEmpty().
			Validate(utils.EnumValidator(constants.SessionStateValues()...)),
		field.Int("current_step").Default(1).Range(1, 3),
		field.Int64("version").Default(0),

		// analyze
		field.JSON("paper_metadata", json.RawMessage{}).Optional(),
		field.Int("tables_found").Optional().Nillable(),
		field.JSON("data_types", []string{}).Optional(),

		// extract
		field.Int("csvs_extracted").Optional().Nillable(),
		field.Float("extraction_quality_score").Optional().Nillable(),
		field.JSON("failed_tables", []int{}).Optional(),

		// load
		field.UUID("dataset_id", uuid.UUID{}).Optional().Nillable(),
		field.Int("fair_score").Optional().Nillable(),
		field.Int("records_imported").Optional().Nillable(),

		// usage buckets
		field.String("ai_model").Optional().Nillable(),
		field.Int64("analysis_input_tokens").Default(0),
		field.Int64("analysis_output_tokens").Default(0),
		field.Int("analysis_calls").Default(0),
		field.Int64("extraction_input_tokens").Default(0),
		field.Int64("extraction_output_tokens").Default(0),
		field.Int("extraction_calls").Default(0),
		field.Int64("fair_analysis_input_tokens").Default(0),
		field.Int64("fair_analysis_output_tokens").Default(0),
		field.Int("fair_analysis_calls").Default(0),

		field.String("error_message").Optional().Nillable().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.String("error_stage").Optional().Nillable().
			Validate(utils.EnumValidator(constants.ErrorStages...)),
		field.String("user_id").Optional().Nillable(),

		field.Time("created_at").Default(time.Now).Immutable(),
		field.Time("updated_at").Default(time.Now).UpdateDefault(time.Now),
		field.Time("completed_at").Optional().Nillable(),
	}
}

func (ExtractionSession) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("state", "created_at"),
		index.Fields("dataset_id"),
	}
}
