package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/thermo-extraction/constants"
	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/entity"
	"github.com/joseph-ayodele/thermo-extraction/internal/llm"
	"github.com/joseph-ayodele/thermo-extraction/internal/session"
	"github.com/joseph-ayodele/thermo-extraction/internal/storage"
)

const csvPreviewLines = 10

// LoadResult is the response of the load stage.
type LoadResult struct {
	SessionID       string              `json:"sessionId"`
	DatasetID       uuid.UUID           `json:"dataset_id"`
	DatasetName     string              `json:"dataset_name"`
	AlreadyExists   bool                `json:"already_exists"`
	FilesUploaded   int                 `json:"files_uploaded"`
	FilesMissing    int                 `json:"files_missing,omitempty"`
	TotalSizeBytes  int64               `json:"total_size_bytes"`
	RecordsImported int                 `json:"records_imported"`
	FairScore       *int                `json:"fair_score"`
	FairGrade       string              `json:"fair_grade,omitempty"`
	Fair            *llm.FairAssessment `json:"fair_assessment,omitempty"`
}

// Load publishes the extracted session as a dataset: the dataset row, a copy
// of every artifact in the datasets bucket with one data_file row each, and
// a FAIR assessment. A dataset with the same DOI is linked instead of
// duplicated. The FAIR call is best effort.
func (r *Runner) Load(ctx context.Context, sessionID string) (*LoadResult, error) {
	var meta llm.PaperMetadata
	precheck := func(sess *entity.Session) error {
		if len(sess.PaperMetadata) == 0 {
			return common.FailedPreconditionError("Paper metadata missing; run analyze first")
		}
		if err := json.Unmarshal(sess.PaperMetadata, &meta); err != nil {
			return common.InternalErrorf("decode paper metadata: %v", err)
		}
		return nil
	}
	s, release, err := r.begin(ctx, session.Load, sessionID, precheck)
	if err != nil {
		return nil, err
	}
	defer release()

	ds, existed, err := s.dataset(ctx, meta)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	out := &LoadResult{
		SessionID:     sessionID,
		DatasetID:     ds.ID,
		DatasetName:   ds.DatasetName,
		AlreadyExists: existed,
	}

	csvs, err := s.r.d.Store.List(ctx, storage.BucketExtractions, s.key(DirExtracted))
	if err != nil {
		return nil, s.fail(ctx, fmt.Errorf("list extracted tables: %w", err))
	}
	previews := map[string]string{}
	for _, o := range csvs {
		if path.Ext(o.Key) != ".csv" {
			continue
		}
		b, err := storage.GetBytes(ctx, s.r.d.Store, storage.BucketExtractions, o.Key)
		if err != nil {
			return nil, s.fail(ctx, fmt.Errorf("read %s: %w", o.Key, err))
		}
		out.RecordsImported += CountDataRows(b)
		previews[path.Base(o.Key)] = head(string(b), csvPreviewLines)
	}

	if !existed {
		files, err := s.publish(ctx, ds)
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		for _, f := range files {
			if f.UploadStatus == constants.UploadStatusMissing {
				out.FilesMissing++
				continue
			}
			out.FilesUploaded++
			if f.FileSizeBytes != nil {
				out.TotalSizeBytes += *f.FileSizeBytes
			}
		}
	}

	if fair, err := s.fair(ctx, meta, previews); err != nil {
		s.log.Warn("stage.load.fair_failed", "error", err)
	} else {
		total := fair.Total()
		out.Fair, out.FairScore, out.FairGrade = &fair, &total, fair.Grade()
	}

	values := map[string]any{
		"dataset_id":       ds.ID,
		"records_imported": out.RecordsImported,
		"fair_score":       nil,
	}
	if out.FairScore != nil {
		values["fair_score"] = *out.FairScore
	}
	if err := s.complete(ctx, values); err != nil {
		return nil, err
	}
	return out, nil
}

// dataset creates the dataset for meta, or returns the one already holding
// its DOI.
func (s *run) dataset(ctx context.Context, meta llm.PaperMetadata) (*entity.Dataset, bool, error) {
	if doi := strings.TrimSpace(meta.DOI); doi != "" {
		ds, err := s.r.d.Datasets.FindByDOI(ctx, doi)
		if err == nil {
			s.log.Info("stage.load.dataset_linked", "dataset_id", ds.ID, "doi", doi)
			return ds, true, nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return nil, false, fmt.Errorf("look up dataset by DOI: %w", err)
		}
	}
	ds := DatasetFromMetadata(meta, s.sess.PDFFilename)
	ds.SourceSessionID = &s.sess.SessionID
	if err := s.r.d.Datasets.Create(ctx, ds); err != nil {
		return nil, false, fmt.Errorf("create dataset: %w", err)
	}
	return ds, false, nil
}

// DatasetFromMetadata builds the dataset row for a paper. The title falls
// back to the PDF file name.
func DatasetFromMetadata(meta llm.PaperMetadata, pdfFilename string) *entity.Dataset {
	title := strings.TrimSpace(meta.Title)
	if title == "" {
		title = strings.TrimSuffix(pdfFilename, path.Ext(pdfFilename))
	}
	desc := strings.TrimSpace(meta.Abstract)
	if desc == "" {
		desc = "Thermochronology data from " + title
	}
	citation := Citation(meta, title)
	ds := &entity.Dataset{
		DatasetName:     title,
		Description:     &desc,
		FullCitation:    &citation,
		PublicationYear: meta.Year,
		Authors:         meta.Authors,
		Affiliations:    meta.Affiliations,
	}
	if doi := strings.TrimSpace(meta.DOI); doi != "" {
		ds.DOI = &doi
	}
	if j := strings.TrimSpace(meta.Journal); j != "" {
		ds.PublicationJournal = &j
	}
	if u := strings.TrimSpace(meta.SupplementaryDataURL); u != "" {
		ds.SupplementaryURL = &u
	}
	if v := strings.TrimSpace(meta.VolumePages); v != "" {
		ds.VolumePages = &v
	}
	if l := strings.TrimSpace(meta.StudyLocation); l != "" {
		ds.StudyLocation = &l
	}
	if m := mineralName(meta.MineralAnalyzed); m != "" {
		ds.MineralAnalyzed = &m
	}
	if meta.SampleCount != nil && *meta.SampleCount >= 0 {
		n := *meta.SampleCount
		ds.SampleCount = &n
	}
	lo, hi := meta.AgeRangeMinMa, meta.AgeRangeMaxMa
	if lo != nil && hi != nil && *lo > *hi {
		lo, hi = hi, lo
	}
	ds.AgeRangeMinMa, ds.AgeRangeMaxMa = lo, hi
	return ds
}

// mineralName canonicalizes the two common thermochronometers.
func mineralName(s string) string {
	s = strings.TrimSpace(s)
	switch l := strings.ToLower(s); {
	case strings.Contains(l, "apatite"):
		return "Apatite"
	case strings.Contains(l, "zircon"):
		return "Zircon"
	}
	return s
}

// Citation formats "Authors (Year). Title. Journal, Volume/pages." skipping
// missing parts.
func Citation(meta llm.PaperMetadata, title string) string {
	var parts []string
	head := strings.Join(meta.Authors, ", ")
	if meta.Year != nil {
		head = strings.TrimSpace(head + " (" + strconv.Itoa(*meta.Year) + ")")
	}
	if head != "" {
		parts = append(parts, head)
	}
	if title != "" {
		parts = append(parts, title)
	}
	source := strings.TrimSpace(meta.Journal)
	if v := strings.TrimSpace(meta.VolumePages); v != "" {
		if source != "" {
			source += ", " + v
		} else {
			source = v
		}
	}
	if source != "" {
		parts = append(parts, source)
	}
	if len(parts) == 0 {
		return ""
	}
	for i := range parts[:len(parts)-1] {
		parts[i] = strings.TrimRight(parts[i], ".")
	}
	return strings.TrimRight(strings.Join(parts, ". "), ".") + "."
}

// artifact is one session file to publish under the dataset.
type artifact struct {
	src, dst    string
	category    constants.FileCategory
	display     string
	description string
}

var tableImageNumber = regexp.MustCompile(`(?i)table-?(\d+)`)

// publish copies the session artifacts into the datasets bucket and records a
// data_file row per artifact. A missing source gets a row with
// upload_status "missing".
func (s *run) publish(ctx context.Context, ds *entity.Dataset) ([]*entity.DataFile, error) {
	sid, dsid := s.sess.SessionID, ds.ID.String()
	pdfName := path.Base(strings.ReplaceAll(s.sess.PDFFilename, "\\", "/"))
	if pdfName == "" || pdfName == "." || pdfName == "/" {
		pdfName = KeyOriginalPDF
	}
	if constants.NormalizeExt(path.Ext(pdfName)) != "pdf" {
		pdfName += ".pdf"
	}
	pdfSrc := s.sess.PDFPath
	if pdfSrc == "" {
		pdfSrc = s.key(KeyOriginalPDF)
	}
	items := []artifact{{
		src: pdfSrc, dst: dsid + "/" + pdfName, category: constants.CategoryPDF,
		display: pdfName, description: "Original research paper PDF",
	}}

	listed := func(dir, dstDir string, cat constants.FileCategory, describe func(name string) string) error {
		objs, err := s.r.d.Store.List(ctx, storage.BucketExtractions, s.key(dir))
		if err != nil {
			return fmt.Errorf("list %s: %w", dir, err)
		}
		for _, o := range objs {
			name := path.Base(o.Key)
			if _, err := constants.FileTypeFor(name); err != nil {
				continue
			}
			items = append(items, artifact{
				src: o.Key, dst: dsid + "/" + dstDir + "/" + name, category: cat,
				display: displayName(name), description: describe(name),
			})
		}
		return nil
	}

	var captions map[int]string
	if idx, err := loadTableIndex(ctx, s.r.d.Store, sid); err == nil {
		captions = idx.Captions()
	} else {
		s.log.Warn("stage.load.table_index_unavailable", "error", err)
	}
	if err := listed(DirExtracted, "csv", constants.CategoryTable, func(string) string { return "" }); err != nil {
		return nil, err
	}
	if err := listed(DirTableImages, "tables", constants.CategoryTableImage, func(name string) string {
		if m := tableImageNumber.FindStringSubmatch(name); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && captions[n] != "" {
				return captions[n]
			}
		}
		return "Table screenshot from paper"
	}); err != nil {
		return nil, err
	}
	if err := listed(DirFigureImages, "figures", constants.CategoryFigureImage, func(string) string {
		return "Figure image from paper"
	}); err != nil {
		return nil, err
	}
	for _, m := range []struct{ rel, desc string }{
		{KeyPaperIndex, "Quick reference guide with paper metadata and table list"},
		{KeyTablesMD, "Visual table reference with metadata"},
		{KeyTableIndex, "Structured table metadata (JSON)"},
		{KeyPlainText, "Extracted PDF text content"},
	} {
		name := path.Base(m.rel)
		items = append(items, artifact{
			src: s.key(m.rel), dst: dsid + "/metadata/" + name, category: constants.CategoryMetadata,
			display: displayName(name), description: m.desc,
		})
	}

	var files []*entity.DataFile
	for _, it := range items {
		info, err := s.r.d.Store.Copy(ctx, storage.BucketExtractions, it.src, storage.BucketDatasets, it.dst)
		if errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("stage.load.artifact_missing", "key", it.src)
			f, err := s.recordMissing(ctx, ds.ID, it)
			if err != nil {
				return nil, err
			}
			files = append(files, f)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("copy %s: %w", it.src, err)
		}
		f, err := s.recordFile(ctx, ds.ID, it, info)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	s.log.Info("stage.load.published", "dataset_id", ds.ID, "files", len(files))
	return files, nil
}

func (s *run) recordMissing(ctx context.Context, datasetID uuid.UUID, it artifact) (*entity.DataFile, error) {
	name := path.Base(it.dst)
	fileType, err := constants.FileTypeFor(name)
	if err != nil {
		return nil, err
	}
	f := &entity.DataFile{
		DatasetID:    datasetID,
		FileName:     name,
		DisplayName:  &it.display,
		FilePath:     it.dst,
		FileType:     fileType,
		Category:     it.category,
		UploadStatus: constants.UploadStatusMissing,
	}
	if it.description != "" {
		f.Description = &it.description
	}
	if err := s.r.d.Files.Create(ctx, f); err != nil {
		return nil, fmt.Errorf("record %s: %w", name, err)
	}
	return f, nil
}

func (s *run) recordFile(ctx context.Context, datasetID uuid.UUID, it artifact, info storage.ObjectInfo) (*entity.DataFile, error) {
	name := path.Base(it.dst)
	fileType, err := constants.FileTypeFor(name)
	if err != nil {
		return nil, err
	}
	mime := constants.ContentTypeFor(name)
	size := info.Size
	f := &entity.DataFile{
		DatasetID:     datasetID,
		FileName:      name,
		DisplayName:   &it.display,
		FilePath:      it.dst,
		FileType:      fileType,
		Category:      it.category,
		MimeType:      &mime,
		FileSizeBytes: &size,
	}
	if it.category == constants.CategoryTable {
		b, err := storage.GetBytes(ctx, s.r.d.Store, storage.BucketDatasets, it.dst)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", it.dst, err)
		}
		rows := CountDataRows(b)
		f.RowCount = &rows
		if it.description == "" {
			it.description = fmt.Sprintf("Extracted data table (%d rows)", rows)
		}
	}
	if it.description != "" {
		f.Description = &it.description
	}
	if err := s.r.d.Files.Create(ctx, f); err != nil {
		return nil, fmt.Errorf("record %s: %w", name, err)
	}
	return f, nil
}

// fair runs the FAIR assessment of the dataset.
func (s *run) fair(ctx context.Context, meta llm.PaperMetadata, previews map[string]string) (llm.FairAssessment, error) {
	resp, err := s.call(ctx, llm.Request{
		System: llm.FairSystemPrompt,
		Prompt: llm.BuildFairPrompt(llm.FairInput{
			Title:       meta.Title,
			Authors:     meta.Authors,
			DOI:         meta.DOI,
			Journal:     meta.Journal,
			Year:        meta.Year,
			HasPDF:      true,
			CSVPreviews: previews,
		}),
		MaxTokens:   llm.FairMaxTokens,
		Temperature: llm.DefaultTemperature,
	})
	if err != nil {
		return llm.FairAssessment{}, err
	}
	return llm.ParseFair(resp.Text)
}

func displayName(name string) string {
	base := strings.TrimSuffix(name, path.Ext(name))
	return strings.ReplaceAll(base, "_", " ")
}

func head(s string, lines int) string {
	parts := strings.SplitN(s, "\n", lines+1)
	if len(parts) > lines {
		parts = parts[:lines]
	}
	return strings.TrimRight(strings.Join(parts, "\n"), "\n")
}
