package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/zombor/expense-tracker/internal/category"
	"github.com/zombor/expense-tracker/internal/summary"
)

// maxUploadSize bounds receipt uploads; phone photos can be large.
const maxUploadSize = int64(50 << 20)

// heartbeatInterval keeps idle event streams open through proxies.
var heartbeatInterval = 15 * time.Second

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps service errors onto status codes.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *ValidationError
	switch {
	case errors.As(err, &validation):
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": validation.Error(),
			"field": validation.Field,
		})
	case errors.Is(err, ErrNotFound):
		respondError(w, http.StatusNotFound, "Transaction not found")
	default:
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// parseFilter reads the summary filter from the query string. Without start
// and end parameters the current month is used; an empty value means no
// bound.
func (s *Server) parseFilter(r *http.Request) (summary.FilterSpec, error) {
	q := r.URL.Query()
	loc := s.service.Location()

	filter := summary.FilterSpec{Location: loc}
	if !q.Has("start") && !q.Has("end") {
		filter = s.service.DefaultFilter()
	} else {
		start, err := summary.ParseDay(q.Get("start"), loc)
		if err != nil {
			return filter, &ValidationError{Field: "start", Message: "must be a date in YYYY-MM-DD format"}
		}
		end, err := summary.ParseDay(q.Get("end"), loc)
		if err != nil {
			return filter, &ValidationError{Field: "end", Message: "must be a date in YYYY-MM-DD format"}
		}
		filter.Start, filter.End = start, end
	}

	for _, v := range q["category"] {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				filter.Categories = append(filter.Categories, c)
			}
		}
	}
	filter.Search = q.Get("q")

	bucket, err := summary.ParseBucketSize(q.Get("bucket"))
	if err != nil {
		return filter, &ValidationError{Field: "bucket", Message: err.Error()}
	}
	filter.Bucket = bucket

	order, err := summary.ParseSortOrder(q.Get("sort"))
	if err != nil {
		return filter, &ValidationError{Field: "sort", Message: err.Error()}
	}
	filter.Sort = order

	return filter, nil
}

// handleSummary aggregates the caller's transactions once.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	filter, err := s.parseFilter(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	result, err := s.service.Summarize(r.Context(), s.userID(r), filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type streamEvent struct {
	View
	Error string `json:"error,omitempty"`
}

// handleSummaryStream pushes a fresh summary as a server-sent event every
// time the caller's transactions change.
func (s *Server) handleSummaryStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	filter, err := s.parseFilter(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	userID := s.userID(r)
	query, err := s.service.Watch(r.Context(), userID, filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	defer query.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case view, ok := <-query.Updates():
			if !ok {
				return
			}
			event := streamEvent{View: view}
			name := "summary"
			if view.Err != nil {
				event.Error = "Live updates failed"
				name = "error"
			}
			data, err := json.Marshal(event)
			if err != nil {
				slog.Error("Error encoding event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
				slog.Debug("Event stream closed", "user_id", userID, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// handleListTransactions returns the caller's transactions unfiltered.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListTransactions(r.Context(), s.userID(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

// handleGetTransaction returns a single transaction
func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := s.service.GetTransaction(r.Context(), s.userID(r), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// handleGetEntry returns the edit form for a transaction.
func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	t, err := s.service.GetTransaction(r.Context(), s.userID(r), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s.service.EntryFor(*t))
}

func decodeEntry(r *http.Request) (ManualEntry, error) {
	var entry ManualEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		return entry, &ValidationError{Field: "body", Message: "must be a JSON object"}
	}
	return entry, nil
}

// handleCreateTransaction stores a manual entry.
func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	entry, err := decodeEntry(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	t, err := s.service.CreateManual(r.Context(), s.userID(r), entry)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

// handleUpdateTransaction applies an edit.
func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	entry, err := decodeEntry(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	t, err := s.service.UpdateTransaction(r.Context(), s.userID(r), r.PathValue("id"), entry)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// handleDeleteTransaction deletes a transaction
func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTransaction(r.Context(), s.userID(r), r.PathValue("id")); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetReceiptFile returns the stored receipt image
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptFile(r.Context(), s.userID(r), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func uploadContentType(header string, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleUploadReceipt scans an uploaded receipt into a transaction. A scan
// failure answers 422 with a prefilled manual entry form.
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "File is too large. Maximum size is 50MB. Please compress or resize your image.")
			return
		}
		respondError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		message := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			message = "No file was selected. Please choose a file to upload."
		}
		respondError(w, http.StatusBadRequest, message)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		respondError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	contentType := uploadContentType(header.Header.Get("Content-Type"), header.Filename)

	t, err := s.service.ScanReceipt(r.Context(), s.userID(r), header.Filename, data, contentType)
	var scanFailed *ScanFailedError
	if errors.As(err, &scanFailed) {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":       "Could not read the receipt. Please enter the details manually.",
			"manualEntry": scanFailed.Prefill,
		})
		return
	}
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

// handleCategories lists the taxonomy in display order.
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, category.All())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
