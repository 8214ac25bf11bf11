package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jinford/book-rag/internal/core/jobs"
	"github.com/jinford/book-rag/internal/core/retrieval"
	"github.com/jinford/book-rag/internal/infra/pdf"
)

const (
	maxUploadBytes = 256 << 20 // 256MiB

	minQuestionLength = 3
	maxQuestionLength = 4000
	maxTopK           = 20
)

// chatRequest は POST /chat のリクエストボディ
type chatRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

// chatResponse は POST /chat のレスポンス
type chatResponse struct {
	Answer     string             `json:"answer"`
	Confidence float64            `json:"confidence"`
	Sources    []retrieval.Source `json:"sources"`
}

// uploadResponse はインジェスト受付のレスポンス
type uploadResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// localIndexRequest は POST /admin/index-local のリクエストボディ
type localIndexRequest struct {
	PDFPath string `json:"pdf_path"`
	Force   bool   `json:"force"`
}

// jobStatusResponse は GET /admin/status/{jobID} のレスポンス
type jobStatusResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// errorResponse はエラーレスポンスの共通形式
type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"indexed": s.state.Exists(),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Please upload a PDF file.")
		return
	}
	defer file.Close()

	if !pdf.IsPDFPath(header.Filename) {
		writeError(w, http.StatusBadRequest, "Please upload a PDF file.")
		return
	}

	force := parseBoolQuery(r, "force")
	if s.state.Exists() && !force {
		writeError(w, http.StatusConflict, "A book is already indexed. Use force=true to replace it.")
		return
	}

	tempDir := filepath.Join(s.dataDir, "tmp")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		s.logger.Error("failed to create upload directory", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to store upload.")
		return
	}

	tempPath := filepath.Join(tempDir, uuid.New().String()+".pdf")
	dst, err := os.Create(tempPath)
	if err != nil {
		s.logger.Error("failed to create upload file", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to store upload.")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		_ = os.Remove(tempPath)
		s.logger.Error("failed to save upload", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to store upload.")
		return
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tempPath)
		s.logger.Error("failed to save upload", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to store upload.")
		return
	}

	jobID := uuid.New().String()
	s.setJob(r.Context(), jobID, jobs.StatusQueued, "Upload accepted")
	go s.runIngestJob(context.WithoutCancel(r.Context()), jobID, tempPath, true)

	writeJSON(w, http.StatusOK, uploadResponse{
		JobID:   jobID,
		Status:  string(jobs.StatusQueued),
		Message: "Ingestion started.",
	})
}

func (s *Server) handleIndexLocal(w http.ResponseWriter, r *http.Request) {
	var req localIndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	info, err := os.Stat(req.PDFPath)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "PDF path does not exist.")
		return
	}
	if !pdf.IsPDFPath(req.PDFPath) {
		writeError(w, http.StatusBadRequest, "File must be a .pdf")
		return
	}
	if s.state.Exists() && !req.Force {
		writeError(w, http.StatusConflict, "A book is already indexed. Set force=true to replace it.")
		return
	}

	jobID := uuid.New().String()
	s.setJob(r.Context(), jobID, jobs.StatusQueued, "Local indexing accepted")
	go s.runIngestJob(context.WithoutCancel(r.Context()), jobID, req.PDFPath, false)

	writeJSON(w, http.StatusOK, uploadResponse{
		JobID:   jobID,
		Status:  string(jobs.StatusQueued),
		Message: "Local indexing started.",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	rec, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Job not found.")
			return
		}
		s.logger.Error("failed to load job status", "jobID", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load job status.")
		return
	}

	writeJSON(w, http.StatusOK, jobStatusResponse{
		JobID:  rec.JobID,
		Status: string(rec.Status),
		Detail: rec.Detail,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	length := utf8.RuneCountInString(req.Question)
	if length < minQuestionLength || length > maxQuestionLength {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("question must be between %d and %d characters", minQuestionLength, maxQuestionLength))
		return
	}
	if req.TopK < 0 || req.TopK > maxTopK {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("top_k must be between 1 and %d", maxTopK))
		return
	}

	result, err := s.asker.Ask(r.Context(), req.Question, req.TopK)
	if err != nil {
		if errors.Is(err, retrieval.ErrIndexUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "No indexed book available.")
			return
		}
		s.logger.Error("chat request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to answer the question.")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Answer:     result.Answer,
		Confidence: result.Confidence,
		Sources:    result.Sources,
	})
}

func parseBoolQuery(r *http.Request, key string) bool {
	value, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && value
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
