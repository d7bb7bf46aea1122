// Package pipeline drives part master runs: load, cleanse, group, merge,
// persist, and export.
package pipeline

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/partmaster/internal/cleanse"
	"github.com/sells-group/partmaster/internal/config"
	"github.com/sells-group/partmaster/internal/merge"
	"github.com/sells-group/partmaster/internal/partstore"
	"github.com/sells-group/partmaster/internal/record"
	"github.com/sells-group/partmaster/internal/source"
)

var (
	// ErrNoData is returned when a run produced no usable records and the
	// caller asked for that to be fatal.
	ErrNoData = eris.New("pipeline: no data loaded")
	// ErrNoFiles is returned by ProcessUploads when called without files.
	ErrNoFiles = eris.New("pipeline: no files uploaded")
)

// Pipeline wires the loader, cleanser, merge engine, and store together.
// A Pipeline holds no per-run state; Refresh and ProcessUploads may run
// concurrently.
type Pipeline struct {
	cfg      *config.Config
	store    partstore.Store
	loader   source.Loader
	parser   source.Parser
	cleanser *cleanse.Cleanser
	now      func() time.Time
}

// New creates a Pipeline. If loader can also parse in-memory files it is used
// for uploads; otherwise uploads go through a FileLoader.
func New(cfg *config.Config, st partstore.Store, loader source.Loader, cleanser *cleanse.Cleanser) *Pipeline {
	parser, ok := loader.(source.Parser)
	if !ok {
		parser = source.NewFileLoader(cfg.Load.Charset)
	}
	return &Pipeline{
		cfg:      cfg,
		store:    st,
		loader:   loader,
		parser:   parser,
		cleanser: cleanser,
		now:      time.Now,
	}
}

// NewCleanser builds the cleanser described by cfg.
func NewCleanser(cfg config.CleanseConfig) (*cleanse.Cleanser, error) {
	rules, err := cleanse.LoadRules(cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	var enricher cleanse.Enricher = cleanse.NopEnricher{}
	if cfg.Enrich {
		enricher = cleanse.DescriptionEnricher{}
	}
	return cleanse.New(rules, enricher), nil
}

// StageResult records the outcome of one stage of a run.
type StageResult struct {
	Name       string `json:"name"`
	Rows       int    `json:"rows"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// runLog tracks stages for a single run.
type runLog struct {
	log    *zap.Logger
	stages []StageResult
}

func newRunLog(runID, kind string) *runLog {
	return &runLog{log: zap.L().With(zap.String("run_id", runID), zap.String("kind", kind))}
}

// stage runs fn, logging its row count or failure. fn returns the number of
// rows the stage produced plus any extra fields worth logging.
func (r *runLog) stage(name string, fn func() (int, []zap.Field, error)) error {
	start := time.Now()
	rows, fields, err := fn()
	res := StageResult{Name: name, Rows: rows, DurationMs: time.Since(start).Milliseconds()}

	if err != nil {
		res.Error = err.Error()
		r.stages = append(r.stages, res)
		r.log.Error("pipeline: stage failed",
			zap.String("stage", name),
			zap.Int64("duration_ms", res.DurationMs),
			zap.Error(err),
		)
		return eris.Wrapf(err, "pipeline: %s", name)
	}

	r.stages = append(r.stages, res)
	r.log.Info("pipeline: stage complete", append([]zap.Field{
		zap.String("stage", name),
		zap.Int("rows", rows),
		zap.Int64("duration_ms", res.DurationMs),
	}, fields...)...)
	return nil
}

// mergeRecords groups clean records by part number and merges each group.
func mergeRecords(clean []record.Record, opts merge.Options) ([]merge.Group, []record.Record, error) {
	groups := merge.GroupByPart(clean, opts.FoldCase)
	merged, err := merge.MergeAll(groups, opts)
	if err != nil {
		return nil, nil, err
	}
	return groups, merged, nil
}
