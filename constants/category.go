package constants

import (
	"path"
	"strings"
)

// FileCategory groups dataset files for listing and bundling.
type FileCategory string

const (
	CategoryPDF         FileCategory = "pdf"
	CategoryTable       FileCategory = "table"
	CategoryTableImage  FileCategory = "table_image"
	CategoryFigureImage FileCategory = "figure_image"
	CategoryMetadata    FileCategory = "metadata"
)

var allCategories = []FileCategory{
	CategoryPDF,
	CategoryTable,
	CategoryTableImage,
	CategoryFigureImage,
	CategoryMetadata,
}

func AsStringSlice() []string {
	result := make([]string, len(allCategories))
	for i, cat := range allCategories {
		result[i] = string(cat)
	}
	return result
}

// Canonicalize maps user input (query params, tool args) onto a category.
func Canonicalize(input string) (FileCategory, bool) {
	if input == "" {
		return "", false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	synonyms := map[string]FileCategory{
		"csv":     CategoryTable,
		"tables":  CategoryTable,
		"paper":   CategoryPDF,
		"figure":  CategoryFigureImage,
		"figures": CategoryFigureImage,
		"image":   CategoryTableImage,
		"images":  CategoryTableImage,
		"meta":    CategoryMetadata,
	}

	if cat, ok := synonyms[normalized]; ok {
		return cat, true
	}

	for _, cat := range allCategories {
		if normalized == string(cat) {
			return cat, true
		}
	}

	return "", false
}

// CategoryForPath derives the category of an artifact from its key relative
// to the session or dataset root, e.g. "extracted/table_1.csv".
func CategoryForPath(rel string) FileCategory {
	rel = strings.TrimPrefix(path.Clean(rel), "/")
	switch {
	case strings.HasPrefix(rel, "images/tables/"):
		return CategoryTableImage
	case strings.HasPrefix(rel, "images/figures/"):
		return CategoryFigureImage
	case NormalizeExt(path.Ext(rel)) == "csv":
		return CategoryTable
	case NormalizeExt(path.Ext(rel)) == "pdf":
		return CategoryPDF
	default:
		return CategoryMetadata
	}
}
