package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/partmaster/internal/export"
	"github.com/sells-group/partmaster/internal/merge"
	"github.com/sells-group/partmaster/internal/partstore"
	"github.com/sells-group/partmaster/internal/pipeline"
	"github.com/sells-group/partmaster/internal/record"
	"github.com/sells-group/partmaster/internal/source"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// displayRow renders a stored row for JSON, splitting provenance tokens.
func displayRow(r record.Record) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r.Strings() {
		out[k] = v
	}
	if v := r.Get(record.Sources); v.Valid() {
		out[record.Sources] = merge.SplitList(v.String())
	}
	return out
}

func (s *Server) handleListParts(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 100)
	if err != nil || limit < 1 || limit > 1000 {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be >= 0")
		return
	}

	recs, err := s.store.List(r.Context(), limit, offset)
	if err != nil {
		zap.L().Error("server: list parts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list parts")
		return
	}
	total, err := s.store.Count(r.Context())
	if err != nil {
		zap.L().Error("server: count parts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to count parts")
		return
	}

	parts := make([]map[string]any, len(recs))
	for i, rec := range recs {
		parts[i] = displayRow(rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"parts":  parts,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleGetPart(w http.ResponseWriter, r *http.Request) {
	pn := chi.URLParam(r, "partNumber")
	rec, err := s.store.Get(r.Context(), pn)
	if eris.Is(err, partstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("part %q not found", pn))
		return
	}
	if err != nil {
		zap.L().Error("server: get part", zap.String("part_number", pn), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load part")
		return
	}
	writeJSON(w, http.StatusOK, displayRow(rec))
}

func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	cols, err := s.store.Columns(r.Context())
	if err != nil {
		zap.L().Error("server: columns", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load columns")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"columns": cols})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.cfg.Upload.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form with files")
		return
	}
	defer r.MultipartForm.RemoveAll()

	var uploads []source.Upload
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "cannot read "+fh.Filename)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "cannot read "+fh.Filename)
			return
		}
		uploads = append(uploads, source.Upload{Name: fh.Filename, Data: data})
	}

	res, err := s.runner.ProcessUploads(r.Context(), uploads)
	switch {
	case eris.Is(err, pipeline.ErrNoFiles):
		writeError(w, http.StatusBadRequest, "no files uploaded")
		return
	case eris.Is(err, pipeline.ErrNoData):
		writeError(w, http.StatusUnprocessableEntity, "no usable rows in upload: "+err.Error())
		return
	case err != nil:
		zap.L().Error("server: process upload", zap.Error(err))
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := export.SaveBytes(filepath.Join(s.uploadDir, res.Filename), res.Data); err != nil {
		zap.L().Error("server: store artifact", zap.String("filename", res.Filename), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store output file")
		return
	}

	preview := res.Records
	if len(preview) > PreviewRows {
		preview = preview[:PreviewRows]
	}
	rows := make([]map[string]any, len(preview))
	for i, rec := range preview {
		rows[i] = displayRow(rec)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":       res.RunID,
		"filename":     res.Filename,
		"download_url": "/download/" + res.Filename,
		"columns":      res.Columns,
		"rows":         res.Merged,
		"warnings":     res.Warnings,
		"incomplete":   res.Incomplete,
		"saved":        res.Saved,
		"attempted":    res.Attempted,
		"save_errors":  res.SaveErrors,
		"failures":     res.Failures,
		"preview":      rows,
	})
}

// artifactPath resolves a client-supplied artifact name inside the upload
// directory, rejecting anything that is not a bare .xlsx file name.
func (s *Server) artifactPath(name string) (string, bool) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) ||
		strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return "", false
	}
	return filepath.Join(s.uploadDir, name), true
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	path, ok := s.artifactPath(name)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open file")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open file")
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) handleDownloadSelected(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	name := r.PostForm.Get("output_filename")
	path, ok := s.artifactPath(name)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	var wanted []string
	for _, v := range r.PostForm["selected_columns"] {
		wanted = append(wanted, strings.Split(v, ",")...)
	}
	if len(wanted) == 0 {
		writeError(w, http.StatusBadRequest, "no columns selected")
		return
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	recs, err := export.ReadXLSX(data)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "file is not a readable workbook")
		return
	}

	sel, cols, unknown := export.SelectColumns(recs, wanted)
	if len(cols) == 0 {
		writeError(w, http.StatusBadRequest, "none of the selected columns exist: "+strings.Join(unknown, ", "))
		return
	}
	out, err := export.XLSXBytes(sel, cols)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render file")
		return
	}

	outName := "selected_" + name
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", outName))
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		zap.L().Warn("server: write selected download", zap.Error(err))
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusTooManyRequests, "refresh rate limit exceeded")
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "refresh already running")
		return
	}

	go func() {
		defer s.running.Store(false)
		res, err := s.runner.Refresh(s.baseCtx)
		st := &refreshStatus{Result: res, FinishedAt: time.Now()}
		if err != nil {
			st.Error = err.Error()
			zap.L().Error("server: background refresh failed", zap.Error(err))
		}
		s.mu.Lock()
		s.last = st
		s.mu.Unlock()
		s.alerter.Notify(s.baseCtx, res, err)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleRefreshStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"running": s.running.Load(),
		"last":    last,
	})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
