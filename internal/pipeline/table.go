package pipeline

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

// Quality thresholds applied to every extracted table before it is stored.
const (
	MinColumnCompleteness = 90.0 // % of estimated columns present
	MaxEmptyColumnPercent = 10.0 // % of columns with no values at all
	MinCompleteness       = 50.0 // % of non-empty cells

	defaultEstimatedColumns = 5
)

// Table is a parsed CSV: one header row and the data rows padded to its width.
type Table struct {
	Header []string
	Rows   [][]string
}

// FieldStats is the fill rate of one column.
type FieldStats struct {
	Name     string  `json:"name"`
	Filled   int     `json:"filled"`
	FillRate float64 `json:"fill_rate"`
}

// TableStats summarizes an extracted table.
type TableStats struct {
	Rows         int          `json:"rows"`
	Columns      int          `json:"columns"`
	Completeness float64      `json:"completeness"`
	Fields       []FieldStats `json:"fields"`
}

var errEmptyCSV = errors.New("AI returned an empty table")

// ParseCSV reads the model's CSV output. Code fences are expected to be
// stripped already; blank lines are skipped and cells are trimmed. Rows
// shorter than the header are padded with empty cells, longer ones cut.
func ParseCSV(text string) (Table, error) {
	r := csv.NewReader(strings.NewReader(strings.TrimSpace(text)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var t Table
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("parse csv: %w", err)
		}
		if blank(rec) {
			continue
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		if t.Header == nil {
			t.Header = rec
			continue
		}
		row := make([]string, len(t.Header))
		copy(row, rec)
		t.Rows = append(t.Rows, row)
	}
	if len(t.Header) == 0 {
		return Table{}, errEmptyCSV
	}
	return t, nil
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Stats computes row/column counts, overall completeness and per-column fill
// rates, all as percentages rounded to one decimal.
func (t Table) Stats() TableStats {
	st := TableStats{Rows: len(t.Rows), Columns: len(t.Header)}
	st.Fields = make([]FieldStats, len(t.Header))
	filled := 0
	for j, name := range t.Header {
		fs := FieldStats{Name: name}
		for _, row := range t.Rows {
			if row[j] != "" {
				fs.Filled++
			}
		}
		if st.Rows > 0 {
			fs.FillRate = round1(float64(fs.Filled) / float64(st.Rows) * 100)
		}
		filled += fs.Filled
		st.Fields[j] = fs
	}
	if cells := st.Rows * st.Columns; cells > 0 {
		st.Completeness = round1(float64(filled) / float64(cells) * 100)
	}
	return st
}

// EmptyColumns lists the columns without a single value.
func (s TableStats) EmptyColumns() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Filled == 0 {
			out = append(out, f.Name)
		}
	}
	return out
}

// CheckQuality applies the three table thresholds in order and returns the
// first violation. estimatedColumns comes from the analysis; nil or zero
// falls back to 5.
func CheckQuality(st TableStats, estimatedColumns *int) error {
	est := defaultEstimatedColumns
	if estimatedColumns != nil && *estimatedColumns > 0 {
		est = *estimatedColumns
	}
	colCompleteness := float64(st.Columns) / float64(est) * 100
	if colCompleteness < MinColumnCompleteness {
		return fmt.Errorf("column completeness %.1f%% below %.0f%% (%d of ~%d columns)",
			colCompleteness, MinColumnCompleteness, st.Columns, est)
	}
	if st.Columns > 0 {
		empty := st.EmptyColumns()
		if pct := float64(len(empty)) / float64(st.Columns) * 100; pct > MaxEmptyColumnPercent {
			return fmt.Errorf("%d empty columns (%.1f%%) exceed %.0f%%: %s",
				len(empty), pct, MaxEmptyColumnPercent, strings.Join(empty, ", "))
		}
	}
	if st.Completeness < MinCompleteness {
		return fmt.Errorf("data completeness %.1f%% below %.0f%%", st.Completeness, MinCompleteness)
	}
	return nil
}

// Bytes renders the table back to RFC 4180 CSV.
func (t Table) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CountDataRows counts the data rows of a stored CSV. Unparseable files are
// counted by non-blank lines after the header.
func CountDataRows(b []byte) int {
	if t, err := ParseCSV(string(b)); err == nil {
		return len(t.Rows)
	}
	n := 0
	for _, line := range strings.Split(string(b), "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return n - 1
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
