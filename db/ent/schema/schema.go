package schema

import "entgo.io/ent"

// All returns every schema in migration order.
func All() []ent.Interface {
	return []ent.Interface{
		ExtractionSession{},
		Dataset{},
		DataFile{},
		TestConfig{},
	}
}
