package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// NormalizeAnalysisJSON repairs the common ways a model deviates from the
// analysis schema so the document can still validate:
// - numeric strings ("2021", "3") become integers
// - null / empty optionals are dropped
// - tables and figures whose number is not a plain integer ("A1", "S2") are dropped
// - a bare string author becomes a one-element list
func NormalizeAnalysisJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	var dropped []string
	if meta, ok := m["paper_metadata"].(map[string]any); ok {
		coerceInt(meta, "year", "paper_metadata.", &dropped)
		coerceInt(meta, "sample_count", "paper_metadata.", &dropped)
		coerceFloat(meta, "age_range_min_ma", "paper_metadata.", &dropped)
		coerceFloat(meta, "age_range_max_ma", "paper_metadata.", &dropped)
		for _, k := range []string{"authors", "affiliations"} {
			switch v := meta[k].(type) {
			case nil:
				delete(meta, k)
			case string:
				if s := strings.TrimSpace(v); s != "" {
					meta[k] = []any{s}
				} else {
					delete(meta, k)
				}
			}
		}
		for _, k := range []string{"title", "journal", "doi", "abstract", "supplementary_data_url",
			"publication_volume_pages", "study_location", "mineral_analyzed"} {
			switch v := meta[k].(type) {
			case nil:
				if _, present := meta[k]; present {
					delete(meta, k)
					dropped = append(dropped, "paper_metadata."+k+"(null)")
				}
			case string:
				meta[k] = strings.TrimSpace(v)
			}
		}
	}

	m["tables"] = normalizeItems(m["tables"], "table_number",
		[]string{"page_number", "estimated_rows", "estimated_columns"}, &dropped)
	m["figures"] = normalizeItems(m["figures"], "figure_number",
		[]string{"page_number"}, &dropped)

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("llm.analysis.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}

func normalizeItems(v any, numberKey string, optInts []string, dropped *[]string) []any {
	items, _ := v.([]any)
	out := make([]any, 0, len(items))
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			*dropped = append(*dropped, numberKey+"(type)")
			continue
		}
		if !coerceInt(obj, numberKey, "", dropped) {
			*dropped = append(*dropped, fmt.Sprintf("%s(%v)", numberKey, obj[numberKey]))
			continue
		}
		for _, k := range optInts {
			coerceInt(obj, k, numberKey+".", dropped)
		}
		if c, ok := obj["caption"]; ok && c == nil {
			delete(obj, "caption")
		}
		out = append(out, obj)
	}
	return out
}

// coerceInt turns m[k] into an integer when it is a whole number or a
// numeric string. Unusable values are removed. It reports whether m[k]
// holds an integer afterwards.
func coerceInt(m map[string]any, k, prefix string, dropped *[]string) bool {
	v, ok := m[k]
	if !ok {
		return false
	}
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) {
			return true
		}
		m[k] = math.Round(t)
		return true
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.Atoi(s); err == nil {
			m[k] = n
			return true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			m[k] = int(math.Round(f))
			return true
		}
	}
	delete(m, k)
	*dropped = append(*dropped, prefix+k)
	return false
}

// coerceFloat accepts numbers and numeric strings such as "~45" or "12.5 Ma".
func coerceFloat(m map[string]any, k, prefix string, dropped *[]string) {
	v, ok := m[k]
	if !ok {
		return
	}
	switch t := v.(type) {
	case float64:
		return
	case string:
		s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "~"))
		s = strings.TrimSpace(strings.TrimSuffix(s, "Ma"))
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			m[k] = f
			return
		}
	}
	delete(m, k)
	*dropped = append(*dropped, prefix+k)
}
