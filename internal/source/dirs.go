package source

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/partmaster/internal/cleanse"
	"github.com/sells-group/partmaster/internal/record"
)

// UploadSystem tags records from ad-hoc uploads that name no system of their own.
const UploadSystem = "Upload"

// SourceDir is one upstream system and the directory holding its exports.
type SourceDir struct {
	System string `yaml:"system" mapstructure:"system" json:"system"`
	Dir    string `yaml:"dir" mapstructure:"dir" json:"dir"`
}

// DefaultSourceDirs returns the five upstream systems under base.
func DefaultSourceDirs(base string) []SourceDir {
	systems := []string{"SAP", "Vault", "PowerBI", "PO", "Invoice"}
	dirs := make([]SourceDir, len(systems))
	for i, s := range systems {
		dirs[i] = SourceDir{System: s, Dir: filepath.Join(base, s)}
	}
	return dirs
}

// FileFailure records one file that could not be loaded.
type FileFailure struct {
	System string `json:"system"`
	Path   string `json:"path"`
	Error  string `json:"error"`
}

// LoadReport summarizes a multi-directory load.
type LoadReport struct {
	Files       int           `json:"files"`
	Rows        int           `json:"rows"`
	MissingDirs []string      `json:"missing_dirs,omitempty"`
	Failures    []FileFailure `json:"failures,omitempty"`
	Duration    time.Duration `json:"duration"`
}

type fileJob struct {
	system string
	path   string
}

// LoadSources loads every supported file under each directory. Directories
// are visited in the given order and files in name order; the result keeps
// that order regardless of how loads are scheduled. A missing directory or an
// unreadable file is reported and skipped.
func LoadSources(ctx context.Context, loader Loader, dirs []SourceDir, concurrency int) ([]record.Raw, LoadReport) {
	start := time.Now()
	var report LoadReport

	var jobs []fileJob
	for _, d := range dirs {
		entries, err := os.ReadDir(d.Dir)
		if err != nil {
			zap.L().Warn("source: directory unavailable",
				zap.String("system", d.System),
				zap.String("dir", d.Dir),
				zap.Error(err),
			)
			report.MissingDirs = append(report.MissingDirs, d.Dir)
			continue
		}
		var names []string
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !Supported(e.Name()) {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, n := range names {
			jobs = append(jobs, fileJob{system: d.System, path: filepath.Join(d.Dir, n)})
		}
	}

	if concurrency <= 0 {
		concurrency = 4
	}
	results := make([][]record.Raw, len(jobs))
	errs := make([]error, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			raws, err := loader.Load(gctx, job.path)
			if err != nil {
				errs[i] = err
				return nil
			}
			file := filepath.Base(job.path)
			for j := range raws {
				raws[j].SourceSystem = job.system
				if raws[j].SourceFile == "" {
					raws[j].SourceFile = file
				}
			}
			results[i] = raws
			return nil
		})
	}
	_ = g.Wait()

	var out []record.Raw
	for i, job := range jobs {
		if errs[i] != nil {
			zap.L().Warn("source: file load failed",
				zap.String("system", job.system),
				zap.String("path", job.path),
				zap.Error(errs[i]),
			)
			report.Failures = append(report.Failures, FileFailure{
				System: job.system,
				Path:   job.path,
				Error:  errs[i].Error(),
			})
			continue
		}
		report.Files++
		out = append(out, results[i]...)
	}
	report.Rows = len(out)
	report.Duration = time.Since(start)
	return out, report
}

// Upload is an in-memory file, typically from a multipart request.
type Upload struct {
	Name string
	Data []byte
}

// Parser reads an in-memory file. FileLoader implements it.
type Parser interface {
	Parse(ctx context.Context, name string, data []byte) ([]record.Raw, error)
}

// LoadUploads parses uploaded files in order. Records are tagged with
// UploadSystem unless they carry a populated source system column. A file
// that fails to parse is logged, recorded in the report, and skipped; only
// context cancellation is returned as an error.
func LoadUploads(ctx context.Context, parser Parser, uploads []Upload) ([]record.Raw, LoadReport, error) {
	start := time.Now()
	var report LoadReport
	var out []record.Raw
	for _, u := range uploads {
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}
		raws, err := parser.Parse(ctx, u.Name, u.Data)
		if err != nil {
			zap.L().Warn("source: upload failed to parse",
				zap.String("file", u.Name),
				zap.Error(err),
			)
			report.Failures = append(report.Failures, FileFailure{
				System: UploadSystem,
				Path:   u.Name,
				Error:  err.Error(),
			})
			continue
		}
		name := filepath.Base(u.Name)
		for i := range raws {
			if raws[i].SourceFile == "" {
				raws[i].SourceFile = name
			}
			if !hasSourceSystem(raws[i].Fields) {
				raws[i].SourceSystem = UploadSystem
			}
		}
		report.Files++
		out = append(out, raws...)
	}
	report.Rows = len(out)
	report.Duration = time.Since(start)
	return out, report, nil
}

func hasSourceSystem(fields map[string]any) bool {
	for k, v := range fields {
		if cleanse.NormalizeHeader(k) == record.SourceSystem && record.Sanitize(v).Valid() {
			return true
		}
	}
	return false
}
