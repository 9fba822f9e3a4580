package llm

// AnalysisJSONSchema returns the JSON-Schema (draft 2020-12 subset) the
// analysis response must satisfy after sanitizing.
func AnalysisJSONSchema() map[string]any {
	meta := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":                  map[string]any{"type": "string", "minLength": 1},
			"authors":                stringList(),
			"affiliations":           stringList(),
			"journal":                map[string]any{"type": "string"},
			"year":                   map[string]any{"type": "integer", "minimum": 1800, "maximum": 2200},
			"doi":                    map[string]any{"type": "string"},
			"abstract":               map[string]any{"type": "string"},
			"supplementary_data_url": map[string]any{"type": "string"},

			"publication_volume_pages": map[string]any{"type": "string"},
			"study_location":           map[string]any{"type": "string"},
			"mineral_analyzed":         map[string]any{"type": "string"},
			"sample_count":             map[string]any{"type": "integer", "minimum": 0},
			"age_range_min_ma":         map[string]any{"type": "number", "minimum": 0},
			"age_range_max_ma":         map[string]any{"type": "number", "minimum": 0},
		},
		"required": []string{"title"},
	}
	table := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"table_number":      map[string]any{"type": "integer", "minimum": 1},
			"caption":           map[string]any{"type": "string"},
			"page_number":       positiveInt(),
			"estimated_rows":    map[string]any{"type": "integer", "minimum": 0},
			"estimated_columns": map[string]any{"type": "integer", "minimum": 0},
			"data_type":         map[string]any{"type": "string"},
		},
		"required": []string{"table_number"},
	}
	figure := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"figure_number": map[string]any{"type": "integer", "minimum": 1},
			"caption":       map[string]any{"type": "string"},
			"page_number":   positiveInt(),
		},
		"required": []string{"figure_number"},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"paper_metadata": meta,
			"tables":         map[string]any{"type": "array", "items": table},
			"figures":        map[string]any{"type": "array", "items": figure},
		},
		"required": []string{"paper_metadata"},
	}
}

// ReviewJSONSchema validates the table quality review.
func ReviewJSONSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"valid":         map[string]any{"type": "boolean"},
			"quality_score": map[string]any{"type": "number", "minimum": 0, "maximum": 100},
			"issues": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"severity":    map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
					},
				},
			},
			"recommendation": map[string]any{"type": "string"},
		},
		"required": []string{"valid", "quality_score"},
	}
}

// FairJSONSchema validates the FAIR assessment.
func FairJSONSchema() map[string]any {
	score := map[string]any{"type": "integer", "minimum": 0, "maximum": 25}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"findable_score":      score,
			"accessible_score":    score,
			"interoperable_score": score,
			"reusable_score":      score,
		},
		"required": []string{"findable_score", "accessible_score", "interoperable_score", "reusable_score"},
	}
}

func stringList() map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
}

func positiveInt() map[string]any {
	return map[string]any{"type": "integer", "minimum": 1}
}
