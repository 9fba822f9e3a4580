package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/thermo-extraction/internal/common"
)

// conn bundles the *sql.DB with the builder for its dialect.
type conn struct {
	db *sql.DB
	b  *entsql.DialectBuilder
}

func newConn(drv *entsql.Driver) conn {
	return conn{db: drv.DB(), b: entsql.Dialect(drv.Dialect())}
}

type querier interface {
	Query() (string, []any)
}

func (c conn) exec(ctx context.Context, q querier) (int64, error) {
	query, args := q.Query()
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %v", common.ErrDatabase, err)
	}
	return n, nil
}

func (c conn) query(ctx context.Context, q querier) (*sql.Rows, error) {
	query, args := q.Query()
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return rows, nil
}

// setAll applies values in key order so generated SQL is stable; nil values
// become NULL.
func setAll(u *entsql.UpdateBuilder, values map[string]any) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := deref(values[k]); v == nil {
			u.SetNull(k)
		} else {
			u.Set(k, v)
		}
	}
}

func insertValues(ins *entsql.InsertBuilder, values map[string]any) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	row := make([]any, len(keys))
	for i, k := range keys {
		row[i] = deref(values[k])
	}
	ins.Columns(keys...).Values(row...)
}

func jsonValue(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(t) == 0 {
			return nil, nil
		}
		return []byte(t), nil
	}
	return json.Marshal(v)
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	i := int(ni.Int64)
	return &i
}

func nullInt64(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	i := ni.Int64
	return &i
}

func nullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullUUID(nu uuid.NullUUID) *uuid.UUID {
	if !nu.Valid {
		return nil
	}
	id := nu.UUID
	return &id
}

func notFound(what, key string) error {
	return fmt.Errorf("%s %q: %w", what, key, common.ErrNotFound)
}

func isNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}
