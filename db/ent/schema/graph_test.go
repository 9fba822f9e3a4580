package schema_test

import (
	"sort"
	"testing"

	"entgo.io/ent/entc"
	"entgo.io/ent/entc/gen"
)

func TestSchemaGraphLoadsForCodegen(t *testing.T) {
	if testing.Short() {
		t.Skip("loads the schema package with the go tool")
	}
	g, err := entc.LoadGraph(".", &gen.Config{
		Package: "github.com/joseph-ayodele/thermo-extraction/gen/ent",
		Schema:  "github.com/joseph-ayodele/thermo-extraction/db/ent/schema",
	})
	if err != nil {
		t.Fatalf("load graph: %v", err)
	}
	var names []string
	tables := map[string]string{}
	for _, n := range g.Nodes {
		names = append(names, n.Name)
		tables[n.Name] = n.Table()
	}
	sort.Strings(names)
	want := []string{"DataFile", "Dataset", "ExtractionSession", "TestConfig"}
	if len(names) != len(want) {
		t.Fatalf("nodes = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("nodes = %v, want %v", names, want)
		}
	}
	if tables["ExtractionSession"] != "extraction_session" {
		t.Errorf("session table = %q", tables["ExtractionSession"])
	}
}
