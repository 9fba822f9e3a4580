package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
	"github.com/google/uuid"
)

type Dataset struct{ ent.Schema }

func (Dataset) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "dataset"},
	}
}

func (Dataset) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.String("dataset_name").NotEmpty(),
		field.String("description").Optional().Nillable().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.String("doi").Optional().Nillable(),
		field.String("full_citation").Optional().Nillable().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Int("publication_year").Optional().Nillable(),
		field.String("publication_journal").Optional().Nillable(),
		field.String("publication_volume_pages").Optional().Nillable(),
		field.JSON("authors", []string{}).Optional(),
		field.JSON("affiliations", []string{}).Optional(),
		field.String("supplementary_url").Optional().Nillable(),
		field.String("study_location").Optional().Nillable(),
		field.String("mineral_analyzed").Optional().Nillable(),
		field.Int("sample_count").Optional().Nillable().NonNegative(),
		field.Float("age_range_min_ma").Optional().Nillable(),
		field.Float("age_range_max_ma").Optional().Nillable(),
		// explicit FK
		field.String("source_session_id").Optional().Nillable(),
		field.Time("created_at").Default(time.Now).Immutable(),
	}
}

func (Dataset) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("doi").Unique(),
		index.Fields("source_session_id"),
	}
}
