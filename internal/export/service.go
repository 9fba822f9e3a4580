package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mholt/archiver/v3"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/thermo-extraction/constants"
	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/entity"
	"github.com/joseph-ayodele/thermo-extraction/internal/pipeline"
	"github.com/joseph-ayodele/thermo-extraction/internal/repository"
	"github.com/joseph-ayodele/thermo-extraction/internal/storage"
)

const (
	summarySheet  = "Dataset"
	maxSheetName  = 31
	maxNotesWidth = 140
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]`)

// Service produces downloadable bundles of a published dataset.
type Service struct {
	datasets repository.DatasetRepository
	files    repository.DataFileRepository
	store    storage.Store
	logger   *slog.Logger
}

func NewService(datasets repository.DatasetRepository, files repository.DataFileRepository, store storage.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{datasets: datasets, files: files, store: store, logger: logger}
}

// Download is a finished export ready to be sent.
type Download struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ArchiveName is the zip name for a dataset: the name lowercased with every
// non-alphanumeric character replaced by '-'.
func ArchiveName(datasetName string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(datasetName), "-") + "-data.zip"
}

// dataset resolves the id and loads the dataset with its files.
func (s *Service) dataset(ctx context.Context, rawID string, category constants.FileCategory) (*entity.Dataset, []*entity.DataFile, error) {
	id, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return nil, nil, common.InvalidArgumentError("Invalid dataset id")
	}
	ds, err := s.datasets.GetByID(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil, common.NotFoundError("Dataset not found")
	}
	if err != nil {
		return nil, nil, common.InternalErrorf("get dataset: %v", err)
	}
	files, err := s.files.ListByDataset(ctx, id, category)
	if err != nil {
		return nil, nil, common.InternalErrorf("list files: %v", err)
	}
	return ds, files, nil
}

// Bundle zips every stored file of the dataset. Files missing from storage
// are skipped; a dataset with nothing to bundle is NotFound.
func (s *Service) Bundle(ctx context.Context, datasetID string) (*Download, error) {
	start := time.Now()
	ds, files, err := s.dataset(ctx, datasetID, "")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, common.NotFoundError("No files found for this dataset")
	}

	var buf bytes.Buffer
	z := archiver.NewZip()
	if err := z.Create(&buf); err != nil {
		return nil, common.InternalErrorf("zip create: %v", err)
	}
	names := map[string]int{}
	added := 0
	for _, f := range files {
		if f.UploadStatus == constants.UploadStatusMissing {
			continue
		}
		rc, info, err := s.store.Get(ctx, storage.BucketDatasets, f.FilePath)
		if err != nil {
			s.logger.Warn("export.zip.file_skipped", "dataset_id", ds.ID, "path", f.FilePath, "error", err)
			continue
		}
		err = z.Write(archiver.File{
			FileInfo:   zipEntry{name: uniqueName(names, f.FileName), size: info.Size, modTime: info.Updated},
			ReadCloser: rc,
		})
		_ = rc.Close()
		if err != nil {
			_ = z.Close()
			return nil, common.InternalErrorf("zip %s: %v", f.FileName, err)
		}
		added++
	}
	if err := z.Close(); err != nil {
		return nil, common.InternalErrorf("zip close: %v", err)
	}
	if added == 0 {
		return nil, common.NotFoundError("No files found for this dataset")
	}

	s.logger.Info("export.zip.ok",
		"dataset_id", ds.ID.String(),
		"files", added,
		"bytes", buf.Len(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &Download{Filename: ArchiveName(ds.DatasetName), ContentType: "application/zip", Data: buf.Bytes()}, nil
}

// uniqueName suffixes repeated names so zip entries do not shadow each other.
// Generated names are reserved too, so a later "a-2.csv" gets its own suffix.
func uniqueName(seen map[string]int, name string) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	base, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		base, ext = name[:i], name[i:]
	}
	for k := n + 1; ; k++ {
		candidate := fmt.Sprintf("%s-%d%s", base, k, ext)
		if seen[candidate] == 0 {
			seen[candidate] = 1
			seen[name] = k
			return candidate
		}
	}
}

// zipEntry is the fs.FileInfo of a stored object.
type zipEntry struct {
	name    string
	size    int64
	modTime time.Time
}

func (e zipEntry) Name() string       { return e.name }
func (e zipEntry) Size() int64        { return e.size }
func (e zipEntry) Mode() fs.FileMode  { return 0o644 }
func (e zipEntry) ModTime() time.Time { return e.modTime }
func (e zipEntry) IsDir() bool        { return false }
func (e zipEntry) Sys() any           { return nil }

// Workbook returns an XLSX with a summary sheet followed by one sheet per
// extracted CSV of the dataset.
func (s *Service) Workbook(ctx context.Context, datasetID string) (*Download, error) {
	start := time.Now()
	ds, files, err := s.dataset(ctx, datasetID, constants.CategoryTable)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, common.InternalErrorf("xlsx: %v", err)
	}
	writeSummary(f, ds)

	used := map[string]bool{strings.ToLower(summarySheet): true}
	sheets := 0
	for _, df := range files {
		b, err := storage.GetBytes(ctx, s.store, storage.BucketDatasets, df.FilePath)
		if err != nil {
			s.logger.Warn("export.xlsx.file_skipped", "dataset_id", ds.ID, "path", df.FilePath, "error", err)
			continue
		}
		table, err := pipeline.ParseCSV(string(b))
		if err != nil {
			s.logger.Warn("export.xlsx.file_skipped", "dataset_id", ds.ID, "path", df.FilePath, "error", err)
			continue
		}
		sheet := sheetName(used, df.FileName)
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, common.InternalErrorf("xlsx sheet %s: %v", sheet, err)
		}
		writeTable(f, sheet, table)
		sheets++
	}
	if sheets == 0 {
		return nil, common.NotFoundError("No CSV files found for this dataset")
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"dataset_id", ds.ID.String(),
		"sheets", sheets,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &Download{
		Filename:    strings.TrimSuffix(ArchiveName(ds.DatasetName), ".zip") + ".xlsx",
		ContentType: constants.ContentTypeFor("x.xlsx"),
		Data:        buf.Bytes(),
	}, nil
}

func writeSummary(f *excelize.File, ds *entity.Dataset) {
	rows := [][2]string{
		{"Dataset", ds.DatasetName},
		{"Description", deref(ds.Description)},
		{"DOI", deref(ds.DOI)},
		{"Citation", deref(ds.FullCitation)},
		{"Journal", deref(ds.PublicationJournal)},
		{"Authors", strings.Join(ds.Authors, "; ")},
		{"Created", ds.CreatedAt.UTC().Format("2006-01-02")},
	}
	if ds.PublicationYear != nil {
		rows = append(rows, [2]string{"Year", strconv.Itoa(*ds.PublicationYear)})
	}
	if ds.VolumePages != nil {
		rows = append(rows, [2]string{"Volume/pages", *ds.VolumePages})
	}
	if ds.StudyLocation != nil {
		rows = append(rows, [2]string{"Study area", *ds.StudyLocation})
	}
	if ds.MineralAnalyzed != nil {
		rows = append(rows, [2]string{"Mineral", *ds.MineralAnalyzed})
	}
	if ds.SampleCount != nil {
		rows = append(rows, [2]string{"Samples", strconv.Itoa(*ds.SampleCount)})
	}
	if ds.AgeRangeMinMa != nil && ds.AgeRangeMaxMa != nil {
		rows = append(rows, [2]string{"Age range (Ma)", fmt.Sprintf("%g-%g", *ds.AgeRangeMinMa, *ds.AgeRangeMaxMa)})
	}
	for i, r := range rows {
		a, _ := excelize.CoordinatesToCellName(1, i+1)
		b, _ := excelize.CoordinatesToCellName(2, i+1)
		_ = f.SetCellValue(summarySheet, a, r[0])
		_ = f.SetCellValue(summarySheet, b, truncate(r[1], 4*maxNotesWidth))
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 14)
	_ = f.SetColWidth(summarySheet, "B", "B", 80)
}

// writeTable writes the header in row 1 and the data below it. Cells that
// parse as numbers are stored as numbers.
func writeTable(f *excelize.File, sheet string, t pipeline.Table) {
	for i, h := range t.Header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for r, row := range t.Rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				_ = f.SetCellValue(sheet, cell, n)
				continue
			}
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	if len(t.Header) > 0 {
		last, _ := excelize.ColumnNumberToName(len(t.Header))
		_ = f.SetColWidth(sheet, "A", last, 16)
	}
}

// sheetName derives a unique sheet name (at most 31 characters, none of
// the characters Excel forbids) from a file name.
func sheetName(used map[string]bool, fileName string) string {
	base := strings.TrimSuffix(fileName, ".csv")
	base = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, base)
	if base == "" {
		base = "table"
	}
	name := truncate(base, maxSheetName)
	for i := 2; used[strings.ToLower(name)]; i++ {
		suffix := fmt.Sprintf(" (%d)", i)
		name = truncate(base, maxSheetName-len(suffix)) + suffix
	}
	used[strings.ToLower(name)] = true
	return name
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// truncate cuts s to n bytes without splitting a rune.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
