package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/thermo-extraction/constants"
	"github.com/joseph-ayodele/thermo-extraction/db/ent/schema/utils"
)

type DataFile struct{ ent.Schema }

func (DataFile) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "data_file"},
	}
}

func (DataFile) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		// explicit FK
		field.UUID("dataset_id", uuid.UUID{}),
		field.String("file_name").NotEmpty(),
		field.String("display_name").Optional().Nillable(),
		field.String("file_path").NotEmpty(),
		field.String("file_type").NotEmpty(),
		field.String("category").NotEmpty().
			Validate(utils.EnumValidator(constants.AsStringSlice()...)),
		field.String("mime_type").Optional().Nillable(),
		field.Int64("file_size_bytes").Optional().Nillable(),
		field.Int("row_count").Optional().Nillable(),
		field.String("description").Optional().Nillable(),
		field.String("upload_status").Default(string(constants.UploadStatusUploaded)),
		field.Time("created_at").Default(time.Now).Immutable(),
	}
}

func (DataFile) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("dataset_id", "category"),
		index.Fields("dataset_id", "file_path").Unique(),
	}
}
