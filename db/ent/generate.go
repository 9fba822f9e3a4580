// Command generate writes the typed ent client for db/ent/schema into gen/ent.
// Run it from the repository root with `go run ./db/ent`.
package main

import (
	"log"

	"entgo.io/ent/entc"
	"entgo.io/ent/entc/gen"
)

func main() {
	if err := entc.Generate("./db/ent/schema", &gen.Config{
		Target:  "gen/ent",
		Package: "github.com/joseph-ayodele/thermo-extraction/gen/ent",
		Schema:  "github.com/joseph-ayodele/thermo-extraction/db/ent/schema",
	}); err != nil {
		log.Fatal(err)
	}
}
