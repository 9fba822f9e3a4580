package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
	"github.com/google/uuid"
)

// TestConfig is one assay/manufacturer test configuration with its CV summary.
type TestConfig struct{ ent.Schema }

func (TestConfig) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "test_config"},
	}
}

func (TestConfig) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.Int("manufacturer_id"),
		field.Int("assay_id"),
		field.Bool("curated").Default(false),
		field.Float("cv_lt_10_percentage").Optional().Nillable(),
		field.Time("created_at").Default(time.Now).Immutable(),
	}
}

func (TestConfig) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("manufacturer_id", "assay_id"),
	}
}
