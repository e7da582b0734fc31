package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/MeKo-Tech/docstream/internal/ai"
	"github.com/MeKo-Tech/docstream/internal/explain"
	"github.com/MeKo-Tech/docstream/internal/imagestore"
	"github.com/MeKo-Tech/docstream/internal/pipeline"
	"github.com/MeKo-Tech/docstream/internal/version"
)

const ndjsonContentType = "application/x-ndjson"

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// streamDocumentHandler accepts a PDF, either as the raw body or as the
// "file" field of a multipart form, and streams its page events as NDJSON.
func (s *Server) streamDocumentHandler(w http.ResponseWriter, r *http.Request) {
	data, status, err := s.readUpload(w, r)
	if err != nil {
		s.writeErrorResponse(w, status, "invalid_upload", err.Error())
		return
	}
	uploadSizeBytes.Observe(float64(len(data)))

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	stats := &streamStats{}
	started := false
	for ev, err := range s.pipeline.Stream(ctx, data) {
		if err != nil {
			stats.fail(ctx.Err() != nil)
			if !started {
				s.writeStreamFailure(w, err)
				return
			}
			var docErr *pipeline.DocumentError
			line := StreamError{Type: "error", Error: err.Error()}
			if errors.As(err, &docErr) {
				line.Hash = docErr.Hash
			}
			_ = enc.Encode(line)
			_ = rc.Flush()
			return
		}
		if !started {
			started = true
			w.Header().Set("Content-Type", ndjsonContentType)
			w.Header().Set("X-Document-Hash", ev.Hash)
			w.WriteHeader(http.StatusOK)
		}
		stats.observe(ev)
		if err := enc.Encode(ev); err != nil {
			// The client went away; returning cancels the stream.
			s.logger.Debug("Stream write failed", "hash", ev.Hash, "error", err)
			return
		}
		_ = rc.Flush()
	}
}

// writeStreamFailure reports an error that happened before any event.
func (s *Server) writeStreamFailure(w http.ResponseWriter, err error) {
	var docErr *pipeline.DocumentError
	switch {
	case errors.As(err, &docErr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "unprocessable_document", Message: docErr.Err.Error(), Hash: docErr.Hash})
	case errors.Is(err, context.DeadlineExceeded):
		s.writeErrorResponse(w, http.StatusGatewayTimeout, "timeout", "Processing timed out")
	case errors.Is(err, context.Canceled):
		// Client disconnected; nobody reads the answer.
	default:
		s.writeErrorResponse(w, http.StatusInternalServerError, "processing_error", err.Error())
	}
}

// readUpload reads the document bytes of a request.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, int, error) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var body io.Reader = r.Body
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(limit); err != nil {
			return nil, statusForReadError(err), fmt.Errorf("failed to parse form data: %w", err)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, http.StatusBadRequest, errors.New("no file provided")
		}
		defer func() { _ = file.Close() }()
		body = file
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(body); err != nil {
		return nil, statusForReadError(err), fmt.Errorf("failed to read document: %w", err)
	}
	if buf.Len() == 0 {
		return nil, http.StatusBadRequest, errors.New("empty document")
	}
	return buf.Bytes(), 0, nil
}

func statusForReadError(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// getDocumentHandler returns a cached document.
func (s *Server) getDocumentHandler(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	entry, ok := s.cache.Lookup(r.Context(), hash)
	if !ok {
		s.writeErrorResponse(w, http.StatusNotFound, "not_found", "Document not found")
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

// listImagesHandler lists the image URLs of a cached document.
func (s *Server) listImagesHandler(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	entry, ok := s.cache.Lookup(r.Context(), hash)
	if !ok {
		s.writeErrorResponse(w, http.StatusNotFound, "not_found", "Document not found")
		return
	}
	resp := ImagesResponse{Hash: hash, ImageURLs: entry.ImageURLs}
	if s.images != nil {
		stored, err := s.images.List(r.Context(), hash)
		if err != nil {
			s.logger.Warn("Cannot list stored images", "hash", hash, "error", err)
		}
		resp.Stored = stored
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// imageHandler serves an image from the filesystem store.
func (s *Server) imageHandler(w http.ResponseWriter, r *http.Request) {
	url := path.Join(s.imagePrefix, r.PathValue("hash"), r.PathValue("name"))
	data, err := s.images.Fetch(r.Context(), url)
	if err != nil {
		if errors.Is(err, imagestore.ErrNotFound) {
			s.writeErrorResponse(w, http.StatusNotFound, "not_found", "Image not found")
			return
		}
		s.writeErrorResponse(w, http.StatusInternalServerError, "image_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	// Names are content addressed, so a stored image never changes.
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	_, _ = w.Write(data)
}

// explainHandler generates or returns the explanation of a region.
func (s *Server) explainHandler(w http.ResponseWriter, r *http.Request) {
	if s.explainer == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "unavailable", "Explanations are not configured")
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	res, err := s.explainer.Explain(ctx, r.PathValue("hash"), r.PathValue("id"), force)
	if err != nil {
		status, code := explainStatus(err)
		explanationsTotal.WithLabelValues(code).Inc()
		s.writeErrorResponse(w, status, code, err.Error())
		return
	}
	if res.Cached {
		explanationsTotal.WithLabelValues("cached").Inc()
	} else {
		explanationsTotal.WithLabelValues("generated").Inc()
	}
	s.writeJSON(w, http.StatusOK, res)
}

func explainStatus(err error) (int, string) {
	switch {
	case errors.Is(err, explain.ErrDocumentNotFound), errors.Is(err, explain.ErrRegionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, explain.ErrNoImage):
		return http.StatusConflict, "no_image"
	case errors.Is(err, ai.ErrNoAnswer),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusBadGateway, "upstream_error"
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error.
func (s *Server) writeErrorResponse(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
