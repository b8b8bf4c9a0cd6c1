package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/contenthash"
	"github.com/hyperjump/shiori/internal/docstore"
	"github.com/hyperjump/shiori/internal/models"
)

const multipartMemory = 32 << 20

type ingestRequest struct {
	Content  string `json:"content"`
	Filename string `json:"filename,omitempty"`
	Language string `json:"language,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIngest accepts multipart .txt uploads, a JSON body with base64 content, or a form
// field with base64 content.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		s.ingestMultipart(w, r)
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			s.respondErr(w, fmt.Errorf("%w: %v", docstore.ErrInvalidInput, err))
			return
		}
		s.ingestEncoded(w, r, ingestRequest{
			Content:  r.PostForm.Get("content"),
			Filename: r.PostForm.Get("filename"),
			Language: r.PostForm.Get("language"),
		})
	default:
		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondErr(w, bodyError(err))
			return
		}
		s.ingestEncoded(w, r, req)
	}
}

func (s *Server) ingestEncoded(w http.ResponseWriter, r *http.Request, req ingestRequest) {
	if req.Content == "" {
		s.respondError(w, http.StatusBadRequest, "content is required")
		return
	}
	raw, err := contenthash.DecodeBase64(req.Content)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "content is not valid base64")
		return
	}
	s.logger.Debug("ingest request", zap.String("filename", req.Filename), zap.Int("bytes", len(raw)))
	res, err := s.store.Ingest(r.Context(), models.IngestInput{
		Content:      raw,
		LanguageHint: req.Language,
		Filename:     req.Filename,
	})
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) ingestMultipart(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.respondErr(w, bodyError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := r.MultipartForm
	files := make([]*multipart.FileHeader, 0, len(form.File["files"])+len(form.File["file"]))
	files = append(files, form.File["files"]...)
	files = append(files, form.File["file"]...)
	lang := r.FormValue("language")
	if len(files) == 0 {
		s.ingestEncoded(w, r, ingestRequest{
			Content:  r.FormValue("content"),
			Filename: r.FormValue("filename"),
			Language: lang,
		})
		return
	}
	for _, fh := range files {
		if !s.allowedFile(fh.Filename) {
			s.respondError(w, http.StatusBadRequest,
				fmt.Sprintf("unsupported file type %q: only %s files are accepted", fh.Filename, s.allowedExtension()))
			return
		}
	}

	results := make([]*models.IngestResult, 0, len(files))
	for _, fh := range files {
		raw, err := readPart(fh)
		if err != nil {
			s.respondErr(w, bodyError(err))
			return
		}
		res, err := s.store.Ingest(r.Context(), models.IngestInput{
			Content:      raw,
			LanguageHint: lang,
			Filename:     filepath.Base(fh.Filename),
		})
		if err != nil {
			s.logger.Warn("ingest upload failed", zap.String("filename", fh.Filename), zap.Error(err))
			s.respondErr(w, fmt.Errorf("%s: %w", fh.Filename, err))
			return
		}
		results = append(results, res)
	}
	if len(results) == 1 {
		s.respondJSON(w, http.StatusOK, results[0])
		return
	}
	s.respondJSON(w, http.StatusOK, &models.BatchIngestResult{
		FilesProcessed: len(results),
		Results:        results,
		IndexSize:      results[len(results)-1].IndexSize,
	})
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) allowedExtension() string {
	if s.config.AllowedExtension == "" {
		return config.DefaultAllowedExtension
	}
	return s.config.AllowedExtension
}

func (s *Server) allowedFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), s.allowedExtension())
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var query models.RetrieveQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondErr(w, bodyError(err))
		return
	}
	s.logger.Debug("retrieve request", zap.String("query", query.Query), zap.Int("k", query.ResolveK(0)))
	start := time.Now()
	results, err := s.store.Retrieve(r.Context(), query)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, &models.RetrieveResponse{
		Results:   results,
		Query:     query.Query,
		QueryTime: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.store.Stats())
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" || s.watchConfig == nil {
		return
	}
	s.watchConfigMu.Lock()
	defer s.watchConfigMu.Unlock()
	s.watchConfig.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.watchConfig); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// bodyError classifies request body failures: oversized bodies keep their type, anything
// else is invalid input.
func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return fmt.Errorf("%w: %v", docstore.ErrInvalidInput, err)
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, docstore.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, docstore.ErrInvalidK):
		return http.StatusUnprocessableEntity
	case errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, docstore.ErrEmbeddingFailure), errors.Is(err, docstore.ErrEmbeddingDimensionMismatch):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, errorBody{Error: errorDetail{Message: message, StatusCode: status}})
}
