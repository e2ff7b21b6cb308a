package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/tablesync/internal/core"
	"github.com/JonMunkholm/tablesync/internal/logging"
)

// multipartMemory is the in-memory part of a parsed upload; the rest spills
// to temporary files.
const multipartMemory = 8 << 20

// handleHealth pings the database.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ping(r.Context()); err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, "", map[string]any{
		"status":  "ok",
		"imports": s.service.ImportLimiterStatus(),
	})
}

// handleListTables returns every table with columns and row estimates.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.service.ListTables(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, "", tables)
}

// handleBrowseRows returns one page of rows.
func (s *Server) handleBrowseRows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := core.BrowseParams{
		Page:      queryInt(q.Get("page")),
		PageSize:  queryInt(q.Get("pageSize")),
		Search:    q.Get("search"),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
	}

	result, err := s.service.Browse(r.Context(), chi.URLParam(r, "table"), params)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, "", result)
}

// handleExportTable streams one table as CSV.
func (s *Server) handleExportTable(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	aw := newAttachment(w, "text/csv; charset=utf-8", datedName(table, ".csv"))

	if err := s.service.ExportTable(r.Context(), table, aw); err != nil {
		if aw.started {
			// Headers are gone; the client sees a truncated file.
			logging.FromContext(r.Context()).Error("export interrupted", "table", table, "error", err)
			return
		}
		respondError(w, r, err)
	}
}

// handleTemplate returns the header-only CSV for a table.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	csv, err := s.service.TemplateCSV(r.Context(), table)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_template.csv"`, table))
	_, _ = io.WriteString(w, csv)
}

// handleImportTable upserts an uploaded CSV into one table.
func (s *Server) handleImportTable(w http.ResponseWriter, r *http.Request) {
	file, err := s.uploadedFile(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx := withOrigin(r.Context(), r)
	outcome, err := s.service.ImportTable(ctx, chi.URLParam(r, "table"), data)
	if err != nil {
		respondError(w, r, err)
		return
	}

	msg := fmt.Sprintf("导入完成: 新增 %d 行, 更新 %d 行, 跳过 %d 行", outcome.Inserted, outcome.Updated, outcome.Skipped)
	respondOK(w, msg, outcome)
}

// handleExportAll downloads every table as a zip of CSV files.
func (s *Server) handleExportAll(w http.ResponseWriter, r *http.Request) {
	aw := newAttachment(w, "application/zip", datedName("tables", ".zip"))

	if _, err := s.service.ExportAll(r.Context(), aw); err != nil {
		if aw.started {
			logging.FromContext(r.Context()).Error("archive download interrupted", "error", err)
			return
		}
		respondError(w, r, err)
	}
}

// handleImportAll imports every {table}.csv entry of an uploaded zip.
func (s *Server) handleImportAll(w http.ResponseWriter, r *http.Request) {
	file, err := s.uploadedFile(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer file.Close()

	ctx := withOrigin(r.Context(), r)
	outcome, err := s.service.ImportArchive(ctx, file)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, bulkMessage(outcome), outcome)
}

// handleListSnapshots lists stored snapshots, newest first.
func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	objects, err := s.service.ListSnapshots(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, "", objects)
}

// handleCreateSnapshot stores the all-tables archive.
func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Snapshot(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, "快照已保存", result)
}

type restoreRequest struct {
	Key string `json:"key"`
}

// handleRestoreSnapshot imports a stored snapshot by key.
func (s *Server) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		respondError(w, r, errMissingKey)
		return
	}

	ctx := withOrigin(r.Context(), r)
	outcome, err := s.service.RestoreSnapshot(ctx, req.Key)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, bulkMessage(outcome), outcome)
}

// uploadedFile bounds the request body and returns the multipart "file" part.
func (s *Server) uploadedFile(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	limit := s.cfg.Upload.MaxFileSize
	if r.ContentLength > limit {
		return nil, &http.MaxBytesError{Limit: limit}
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errNoFile, err)
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, errNoFile
	}
	return file, nil
}

func bulkMessage(o *core.BulkImportOutcome) string {
	return fmt.Sprintf("处理 %d 个文件: 成功 %d, 失败 %d, 忽略 %d",
		o.TotalFiles, o.SucceededTables, o.FailedTables, o.SkippedFiles)
}

// queryInt parses a positive integer, returning 0 when absent or invalid.
func queryInt(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0
	}
	return n
}

func datedName(base, ext string) string {
	return base + "_" + time.Now().Format("2006-01-02") + ext
}

// attachment defers download headers until the first byte is written, so
// failures before any output still get a JSON error.
type attachment struct {
	w           http.ResponseWriter
	contentType string
	filename    string
	started     bool
}

func newAttachment(w http.ResponseWriter, contentType, filename string) *attachment {
	return &attachment{w: w, contentType: contentType, filename: filename}
}

func (a *attachment) Write(p []byte) (int, error) {
	if !a.started {
		a.started = true
		a.w.Header().Set("Content-Type", a.contentType)
		a.w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, a.filename))
		a.w.WriteHeader(http.StatusOK)
	}
	return a.w.Write(p)
}
