package repository

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"entgo.io/ent"
	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/entsql"
	sqlschema "entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"

	"github.com/joseph-ayodele/thermo-extraction/db/ent/schema"
)

// Migrate creates or upgrades every table declared in db/ent/schema.
func Migrate(ctx context.Context, drv dialect.Driver, logger *slog.Logger) error {
	tables := make([]*sqlschema.Table, 0, len(schema.All()))
	for _, s := range schema.All() {
		t, err := tableOf(s)
		if err != nil {
			return fmt.Errorf("schema %T: %w", s, err)
		}
		tables = append(tables, t)
	}
	m, err := sqlschema.NewMigrate(drv)
	if err != nil {
		return fmt.Errorf("new migrate: %w", err)
	}
	if err := m.Create(ctx, tables...); err != nil {
		logger.Error("db.migrate.failed", "error", err)
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("db.migrate.ok", "tables", len(tables))
	return nil
}

// tableName reads the entsql table annotation, falling back to the
// snake-cased type name.
func tableName(s ent.Interface) string {
	for _, a := range s.Annotations() {
		switch ann := a.(type) {
		case entsql.Annotation:
			if ann.Table != "" {
				return ann.Table
			}
		case *entsql.Annotation:
			if ann != nil && ann.Table != "" {
				return ann.Table
			}
		}
	}
	return snake(reflect.TypeOf(s).Name())
}

func tableOf(s ent.Interface) (*sqlschema.Table, error) {
	name := tableName(s)
	t := sqlschema.NewTable(name)
	for _, f := range s.Fields() {
		d := f.Descriptor()
		if d.Err != nil {
			return nil, fmt.Errorf("field %q: %w", d.Name, d.Err)
		}
		col := &sqlschema.Column{
			Name:       d.Name,
			Type:       d.Info.Type,
			Size:       int64(d.Size),
			Unique:     d.Unique,
			Nullable:   d.Optional,
			SchemaType: d.SchemaType,
		}
		if def, ok := scalarDefault(d); ok {
			col.Default = def
		}
		if d.Name == "id" {
			t.AddPrimary(col)
			continue
		}
		t.AddColumn(col)
	}
	for _, idx := range s.Indexes() {
		d := idx.Descriptor()
		iname := d.StorageKey
		if iname == "" {
			iname = name + "_" + strings.Join(d.Fields, "_")
		}
		t.AddIndex(iname, d.Unique, d.Fields)
	}
	return t, nil
}

// scalarDefault returns literal defaults only; function defaults
// (uuid.New, time.Now) are always supplied by the repositories.
func scalarDefault(d *field.Descriptor) (any, bool) {
	switch v := d.Default.(type) {
	case bool, int, int64, float64, string:
		return v, true
	default:
		return nil, false
	}
}

// checkFields runs the schema validators (NotEmpty, Range, EnumValidator, ...)
// against column values before they are written. Pointers are dereferenced
// and nil values skipped.
func checkFields(s ent.Interface, values map[string]any) error {
	for _, f := range s.Fields() {
		d := f.Descriptor()
		v, ok := values[d.Name]
		if !ok || len(d.Validators) == 0 {
			continue
		}
		if v = deref(v); v == nil {
			continue
		}
		for _, fn := range d.Validators {
			var err error
			switch check := fn.(type) {
			case func(string) error:
				if sv, ok := v.(string); ok {
					err = check(sv)
				}
			case func(int) error:
				if iv, ok := v.(int); ok {
					err = check(iv)
				}
			case func(int64) error:
				if iv, ok := v.(int64); ok {
					err = check(iv)
				}
			case func(float64) error:
				if fv, ok := v.(float64); ok {
					err = check(fv)
				}
			}
			if err != nil {
				return fmt.Errorf("%s.%s: %w", tableName(s), d.Name, err)
			}
		}
	}
	return nil
}

func deref(v any) any {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Map) && rv.IsNil() {
		return nil
	}
	// named string types (constants.SessionState) validate as plain strings
	if rv.Kind() == reflect.String {
		return rv.String()
	}
	return rv.Interface()
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
