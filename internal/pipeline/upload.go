package pipeline

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/partmaster/internal/cleanse"
	"github.com/sells-group/partmaster/internal/export"
	"github.com/sells-group/partmaster/internal/merge"
	"github.com/sells-group/partmaster/internal/record"
	"github.com/sells-group/partmaster/internal/source"
)

// SaveError records a merged row the store refused.
type SaveError struct {
	PartNumber string `json:"part_number"`
	Error      string `json:"error"`
}

// UploadResult is the artifact and report of an ad-hoc run.
type UploadResult struct {
	RunID    string          `json:"run_id"`
	Filename string          `json:"filename"`
	Data     []byte          `json:"-"`
	Records  []record.Record `json:"-"`
	Columns  []string        `json:"columns"`
	RawRows  int             `json:"raw_rows"`
	Clean    cleanse.Stats   `json:"clean"`
	Groups   int             `json:"groups"`
	Merged   int             `json:"merged"`

	// FieldSources maps part number to field to the source system whose
	// value was kept.
	FieldSources map[string]map[string]string `json:"field_sources,omitempty"`

	// Warnings lists problems that did not stop the run. Incomplete is set
	// when a file was skipped or the artifact lacks required columns.
	Warnings   []string             `json:"warnings,omitempty"`
	Incomplete bool                 `json:"incomplete"`
	Failures   []source.FileFailure `json:"failures,omitempty"`

	Saved      int           `json:"saved"`
	Attempted  int           `json:"attempted"`
	SaveErrors []SaveError   `json:"save_errors,omitempty"`
	Stages     []StageResult `json:"stages"`
}

// ProcessUploads cleans and merges only the given files and renders the
// result as a spreadsheet. When saving is enabled each merged row is upserted
// on its own so one bad row does not block the others.
func (p *Pipeline) ProcessUploads(ctx context.Context, uploads []source.Upload) (*UploadResult, error) {
	if len(uploads) == 0 {
		return nil, ErrNoFiles
	}

	now := p.now()
	id := uuid.NewString()
	res := &UploadResult{
		RunID:    id,
		Filename: fmt.Sprintf("processed_%s_%s.xlsx", now.Format("20060102_150405"), id[:8]),
	}
	run := newRunLog(id, "upload")
	defer func() { res.Stages = run.stages }()

	var raws []record.Raw
	if err := run.stage("load", func() (int, []zap.Field, error) {
		var report source.LoadReport
		var err error
		raws, report, err = source.LoadUploads(ctx, p.parser, uploads)
		if err != nil {
			return 0, nil, err
		}
		res.Failures = report.Failures
		if len(raws) == 0 && len(report.Failures) > 0 {
			return 0, nil, eris.Wrapf(ErrNoData, "no upload could be read (%s: %s)",
				report.Failures[0].Path, report.Failures[0].Error)
		}
		return len(raws), []zap.Field{
			zap.Int("raw_rows", len(raws)),
			zap.Int("files", report.Files),
			zap.Int("failed_files", len(report.Failures)),
		}, nil
	}); err != nil {
		return nil, err
	}
	res.RawRows = len(raws)
	for _, f := range res.Failures {
		res.Warnings = append(res.Warnings, fmt.Sprintf("file %s skipped: %s", f.Path, f.Error))
		res.Incomplete = true
	}

	var clean []record.Record
	_ = run.stage("clean", func() (int, []zap.Field, error) {
		clean, res.Clean = p.cleanser.Clean(raws)
		return len(clean), []zap.Field{
			zap.Int("clean_rows", res.Clean.Out),
			zap.Int("dropped", res.Clean.Dropped),
		}, nil
	})
	if len(clean) == 0 {
		run.log.Warn("pipeline: upload has no rows with a part number", zap.Int("raw_rows", res.RawRows))
		return nil, eris.Wrap(ErrNoData, "pipeline: no rows with a part number in upload")
	}

	if err := run.stage("merge", func() (int, []zap.Field, error) {
		groups := merge.GroupByPart(clean, p.cfg.Merge.FoldCase)
		merged, winners, err := merge.MergeAllWithProvenance(groups, p.cfg.Merge)
		if err != nil {
			return 0, nil, err
		}
		res.Records = merged
		res.FieldSources = make(map[string]map[string]string, len(merged))
		for i, r := range merged {
			res.FieldSources[r.PartNumber().String()] = winners[i]
		}
		res.Groups = len(groups)
		res.Merged = len(merged)
		return len(merged), []zap.Field{zap.Int("groups", len(groups)), zap.Int("merged", len(merged))}, nil
	}); err != nil {
		return nil, err
	}

	res.Columns = export.Columns(res.Records)
	for _, col := range p.cfg.Upload.RequiredColumns {
		if !slices.Contains(res.Columns, col) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("required column %q is missing", col))
			res.Incomplete = true
		}
	}
	if res.Incomplete {
		run.log.Warn("pipeline: upload missing required columns", zap.Strings("warnings", res.Warnings))
	}

	if err := run.stage("render", func() (int, []zap.Field, error) {
		data, err := export.XLSXBytes(res.Records, res.Columns)
		if err != nil {
			return 0, nil, err
		}
		res.Data = data
		return len(res.Records), []zap.Field{zap.String("filename", res.Filename), zap.Int("bytes", len(data))}, nil
	}); err != nil {
		return nil, err
	}

	if p.cfg.Upload.SaveToDB && p.store != nil {
		_ = run.stage("save", func() (int, []zap.Field, error) {
			p.saveRows(ctx, run.log, res)
			return res.Saved, []zap.Field{
				zap.Int("saved", res.Saved),
				zap.Int("attempted", res.Attempted),
				zap.Int("save_errors", len(res.SaveErrors)),
			}, nil
		})
	}

	return res, nil
}

// saveRows upserts each merged record separately. Failures are collected, not
// returned.
func (p *Pipeline) saveRows(ctx context.Context, log *zap.Logger, res *UploadResult) {
	res.Attempted = len(res.Records)

	if err := p.store.Migrate(ctx); err != nil {
		log.Warn("pipeline: store unavailable, rows not saved", zap.Error(err))
		res.Warnings = append(res.Warnings, "rows were not saved: "+err.Error())
		for _, r := range res.Records {
			res.SaveErrors = append(res.SaveErrors, SaveError{PartNumber: r.PartNumber().String(), Error: err.Error()})
		}
		return
	}

	start := time.Now()
	for _, r := range res.Records {
		out, err := p.store.Upsert(ctx, []record.Record{r})
		if err != nil {
			log.Warn("pipeline: row save failed",
				zap.String("part_number", r.PartNumber().String()),
				zap.Error(err),
			)
			res.SaveErrors = append(res.SaveErrors, SaveError{PartNumber: r.PartNumber().String(), Error: err.Error()})
			continue
		}
		res.Saved += out.Written
	}
	log.Debug("pipeline: rows saved", zap.Duration("elapsed", time.Since(start)))
}
