package constants

import (
	"fmt"
	"path"
	"strings"
)

// PDFMimeTypes are the declared upload types accepted for papers.
var PDFMimeTypes = map[string]struct{}{
	"application/pdf":   {},
	"application/x-pdf": {},
}

// ScreenshotMimeTypes are the sniffed types accepted for table/figure screenshots.
var ScreenshotMimeTypes = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
}

// contentTypes maps a normalized extension to the Content-Type used for downloads.
var contentTypes = map[string]string{
	"csv":  "text/csv",
	"pdf":  "application/pdf",
	"json": "application/json",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"txt":  "text/plain",
	"md":   "text/markdown",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"zip":  "application/zip",
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// ContentTypeFor returns the download Content-Type for a file name.
func ContentTypeFor(name string) string {
	if ct, ok := contentTypes[NormalizeExt(path.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// FileTypeFor returns the value stored in data_file.file_type.
func FileTypeFor(name string) (string, error) {
	switch ext := NormalizeExt(path.Ext(name)); ext {
	case "pdf", "csv", "json", "md", "txt":
		return ext, nil
	case "png":
		return "image/png", nil
	case "jpg", "jpeg":
		return "image/jpeg", nil
	case "tif", "tiff":
		return "image/tiff", nil
	default:
		return "", fmt.Errorf("unsupported file type: %q", ext)
	}
}

// IsPDFMime reports whether a declared mime type is a PDF.
func IsPDFMime(mt string) bool {
	mt = strings.ToLower(strings.TrimSpace(mt))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	_, ok := PDFMimeTypes[mt]
	return ok
}
