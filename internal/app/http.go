package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"redline/internal/engine"
	"redline/internal/report"
)

const defaultMaxUploadBytes = 32 << 20

type HTTPServer struct {
	pipeline       Pipeline
	corsOrigin     string
	maxUploadBytes int64
	uploadDir      string
	logger         *slog.Logger
}

func NewHTTPServer(pipeline Pipeline, opts Options, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &HTTPServer{
		pipeline:       pipeline,
		corsOrigin:     opts.CORSOrigin,
		maxUploadBytes: opts.MaxUploadBytes,
		uploadDir:      opts.UploadDir,
		logger:         logger,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Route("/slots/{slot}", func(r chi.Router) {
			r.Post("/documents", s.handleSubmitDocument)
			r.Post("/snapshots", s.handleSubmitText)
			r.Get("/history", s.handleHistory)
			r.Get("/diff", s.handleDiff)
			r.Get("/report", s.handleReport)
			r.Get("/report.pdf", s.handleReportPDF)
			r.Delete("/", s.handleReset)
		})
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"storage":   map[string]any{"status": "ok"},
		"converter": map[string]any{"status": "ok", "name": s.pipeline.ConverterName()},
	}

	if err := s.pipeline.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["storage"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSubmitDocument(w http.ResponseWriter, r *http.Request) {
	slot := chi.URLParam(r, "slot")
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", fmt.Sprintf("Upload exceeds %d bytes", s.maxUploadBytes), nil)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected multipart form with a file field", nil)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "file is required", nil)
		return
	}
	defer file.Close()

	path, err := s.saveUpload(file, header)
	if err != nil {
		s.logger.Error("save upload failed", "request_id", requestID(r.Context()), "slot", slot, "error", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
		return
	}
	defer func() { _ = os.Remove(path) }()

	result, err := s.pipeline.Submit(r.Context(), slot, path)
	s.writeSubmitResult(w, r, result, err)
}

// saveUpload copies the upload into the upload dir, keeping the extension
// the converter dispatches on.
func (s *HTTPServer) saveUpload(file multipart.File, header *multipart.FileHeader) (string, error) {
	dir := s.uploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(filepath.Base(header.Filename)))
	out, err := os.CreateTemp(dir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		_ = out.Close()
		_ = os.Remove(out.Name())
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(out.Name())
		return "", fmt.Errorf("close upload file: %w", err)
	}
	return out.Name(), nil
}

func (s *HTTPServer) handleSubmitText(w http.ResponseWriter, r *http.Request) {
	slot := chi.URLParam(r, "slot")
	var body struct {
		Text *string `json:"text"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.Text == nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil)
		return
	}
	result, err := s.pipeline.SubmitText(r.Context(), slot, *body.Text)
	s.writeSubmitResult(w, r, result, err)
}

func (s *HTTPServer) writeSubmitResult(w http.ResponseWriter, r *http.Request, result engine.Result, err error) {
	if err != nil {
		if errors.Is(err, engine.ErrReport) {
			s.logger.Error("report write failed", "request_id", requestID(r.Context()), "slot", result.Snapshot.Slot, "error", err)
			err = domainError(http.StatusInternalServerError, "REPORT_FAILED",
				"Snapshot recorded but the report could not be written",
				map[string]any{"snapshot": result.Snapshot})
		}
		s.writeMappedError(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"created":    result.Created,
		"snapshot":   result.Snapshot,
		"comparison": comparisonPayload(result.Comparison),
		"reportPath": result.ReportPath,
	})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	slot := chi.URLParam(r, "slot")
	items, err := s.pipeline.History(r.Context(), slot)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"slot":      slot,
		"snapshots": items,
	})
}

func (s *HTTPServer) handleDiff(w http.ResponseWriter, r *http.Request) {
	slot := chi.URLParam(r, "slot")
	query := r.URL.Query()
	from, to := query.Get("from"), query.Get("to")

	var (
		cmp engine.Comparison
		err error
	)
	switch {
	case from == "" && to == "":
		cmp, err = s.pipeline.Compare(r.Context(), slot)
	case from != "" && to != "":
		cmp, err = s.pipeline.CompareRefs(r.Context(), slot, from, to)
	default:
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "from and to must be given together", nil)
		return
	}
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}

	switch format := query.Get("format"); format {
	case "", "annotated":
		writeJSON(w, http.StatusOK, comparisonPayload(cmp))
	case "ansi":
		writeText(w, "text/plain; charset=utf-8", report.ANSILegend()+"\n\n"+cmp.ANSI)
	case "text":
		writeText(w, "text/plain; charset=utf-8", cmp.Annotated)
	default:
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", fmt.Sprintf("unknown format %q", format), nil)
	}
}

func (s *HTTPServer) handleReport(w http.ResponseWriter, r *http.Request) {
	slot := chi.URLParam(r, "slot")
	cmp, err := s.pipeline.Report(r.Context(), slot)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeText(w, "text/markdown; charset=utf-8", cmp.Artifact)
}

func (s *HTTPServer) handleReportPDF(w http.ResponseWriter, r *http.Request) {
	slot := chi.URLParam(r, "slot")
	data, err := s.pipeline.PDF(r.Context(), slot)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(slot, "pdf")))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *HTTPServer) handleReset(w http.ResponseWriter, r *http.Request) {
	slot := chi.URLParam(r, "slot")
	if err := s.pipeline.Reset(r.Context(), slot); err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "slot": slot})
}

func comparisonPayload(cmp engine.Comparison) map[string]any {
	return map[string]any{
		"slot":      cmp.Slot,
		"baseline":  cmp.Baseline,
		"head":      cmp.Head,
		"changed":   cmp.Changed,
		"stats":     cmp.Stats,
		"legend":    report.Legend,
		"annotated": cmp.Annotated,
		"runs":      cmp.Record.Runs,
	}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeText(w http.ResponseWriter, contentType, body string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// writeMappedError maps err to its HTTP status. Server-side failures are
// logged with the request id the client sees in X-Request-ID; handlers log
// their own DomainErrors.
func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	var domainErr *DomainError
	if status >= http.StatusInternalServerError && !errors.As(err, &domainErr) {
		s.logger.Error("request failed",
			"request_id", requestID(r.Context()),
			"path", r.URL.Path,
			"code", code,
			"error", err,
		)
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}
