package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/partmaster/internal/cleanse"
	"github.com/sells-group/partmaster/internal/export"
	"github.com/sells-group/partmaster/internal/record"
	"github.com/sells-group/partmaster/internal/source"
)

// RunResult summarizes a full refresh.
type RunResult struct {
	RunID        string               `json:"run_id"`
	StartedAt    time.Time            `json:"started_at"`
	Duration     time.Duration        `json:"duration"`
	Files        int                  `json:"files"`
	RawRows      int                  `json:"raw_rows"`
	Clean        cleanse.Stats        `json:"clean"`
	Groups       int                  `json:"groups"`
	Merged       int                  `json:"merged"`
	Written      int                  `json:"written"`
	Skipped      int                  `json:"skipped"`
	Batches      int                  `json:"batches"`
	AddedColumns []string             `json:"added_columns,omitempty"`
	Failures     []source.FileFailure `json:"failures,omitempty"`
	MissingDirs  []string             `json:"missing_dirs,omitempty"`
	Snapshot     string               `json:"snapshot,omitempty"`
	Stages       []StageResult        `json:"stages"`
}

// Refresh runs the full pipeline over every configured source directory and
// writes the snapshot. Upsert batches commit independently, so a failure
// partway through leaves earlier batches in place.
func (p *Pipeline) Refresh(ctx context.Context) (*RunResult, error) {
	res := &RunResult{RunID: uuid.NewString(), StartedAt: p.now()}
	run := newRunLog(res.RunID, "refresh")
	defer func() {
		res.Stages = run.stages
		res.Duration = time.Since(res.StartedAt)
	}()
	run.log.Info("pipeline: refresh starting", zap.Int("sources", len(p.cfg.Sources)))

	if err := run.stage("migrate", func() (int, []zap.Field, error) {
		return 0, nil, p.store.Migrate(ctx)
	}); err != nil {
		return res, err
	}

	var raws []record.Raw
	if err := run.stage("load", func() (int, []zap.Field, error) {
		var report source.LoadReport
		raws, report = source.LoadSources(ctx, p.loader, p.cfg.Sources, p.cfg.Load.Concurrency)
		res.Files = report.Files
		res.RawRows = report.Rows
		res.Failures = report.Failures
		res.MissingDirs = report.MissingDirs
		if err := ctx.Err(); err != nil {
			return len(raws), nil, err
		}
		return len(raws), []zap.Field{
			zap.Int("raw_rows", len(raws)),
			zap.Int("files", report.Files),
			zap.Int("failed_files", len(report.Failures)),
		}, nil
	}); err != nil {
		return res, err
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
		if p.cfg.Refresh.Strict {
			run.log.Error("pipeline: no usable records",
				zap.String("stage", "clean"),
				zap.Int("raw_rows", res.RawRows),
			)
			return res, ErrNoData
		}
		run.log.Warn("pipeline: no usable records, nothing to merge", zap.Int("raw_rows", res.RawRows))
		return res, nil
	}

	var merged []record.Record
	if err := run.stage("merge", func() (int, []zap.Field, error) {
		groups, out, err := mergeRecords(clean, p.cfg.Merge)
		if err != nil {
			return 0, nil, err
		}
		merged = out
		res.Groups = len(groups)
		res.Merged = len(merged)
		return len(merged), []zap.Field{
			zap.Int("groups", len(groups)),
			zap.Int("merged", len(merged)),
		}, nil
	}); err != nil {
		return res, err
	}

	if err := run.stage("upsert", func() (int, []zap.Field, error) {
		err := p.upsertBatches(ctx, merged, res)
		return res.Written, []zap.Field{
			zap.Int("written", res.Written),
			zap.Int("skipped", res.Skipped),
			zap.Int("batches", res.Batches),
			zap.Strings("added_columns", res.AddedColumns),
		}, err
	}); err != nil {
		return res, err
	}

	if err := run.stage("snapshot", func() (int, []zap.Field, error) {
		path := filepath.Join(p.cfg.Output.Dir, p.cfg.Output.SnapshotName)
		if err := export.SaveXLSX(path, merged, nil); err != nil {
			return 0, nil, err
		}
		res.Snapshot = path
		return len(merged), []zap.Field{zap.String("snapshot", path)}, nil
	}); err != nil {
		return res, err
	}

	run.log.Info("pipeline: refresh complete",
		zap.Int("raw_rows", res.RawRows),
		zap.Int("clean_rows", res.Clean.Out),
		zap.Int("merged", res.Merged),
		zap.Int("written", res.Written),
		zap.Duration("duration", time.Since(res.StartedAt)),
	)
	return res, nil
}

// upsertBatches writes merged in store-sized batches, each its own
// transaction.
func (p *Pipeline) upsertBatches(ctx context.Context, merged []record.Record, res *RunResult) error {
	size := p.cfg.Store.BatchSize
	if size <= 0 {
		size = len(merged)
	}
	for start := 0; start < len(merged); start += size {
		end := min(start+size, len(merged))
		out, err := p.store.Upsert(ctx, merged[start:end])
		if err != nil {
			return eris.Wrapf(err, "batch %d (rows %d-%d)", res.Batches+1, start, end-1)
		}
		res.Batches++
		res.Written += out.Written
		res.Skipped += out.Skipped
		res.AddedColumns = append(res.AddedColumns, out.AddedColumns...)
	}
	return nil
}
