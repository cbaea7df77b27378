package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/textgrab/internal/extract"
	"github.com/MeKo-Tech/textgrab/internal/source"
)

const (
	formatText = "text"

	// NoImageMessage is the error for a request without an image.
	NoImageMessage = "No image uploaded"
	// NoTextMessage accompanies a successful extraction that found nothing.
	NoTextMessage = "No text detected"

	recognizerFailedMessage = "Text recognition failed"
	internalErrorMessage    = "Internal server error"

	formOverhead = 1 << 20
)

const (
	errTypeInvalidRequest   = "invalid_request"
	errTypeInvalidThreshold = "invalid_threshold"
	errTypeTooLarge         = "too_large"
	errTypeDecode           = "decode_error"
	errTypeRecognizer       = "recognizer_error"
	errTypeTimeout          = "timeout"
	errTypeInternal         = "internal_error"
)

// requestError is an error that already knows its HTTP status.
type requestError struct {
	status  int
	message string
	errType string
}

func (e *requestError) Error() string { return e.message }

var errNoImage = &requestError{status: http.StatusBadRequest, message: NoImageMessage}

type upload struct {
	data     []byte
	filename string
}

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeErrorResponse(w, &requestError{status: http.StatusMethodNotAllowed, message: "Method not allowed"})
		return
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   versionString(),
		Backend:   s.extractor.Backend(),
		Threshold: s.extractor.Config().Threshold,
		UptimeSec: int64(time.Since(s.started).Seconds()),
		Time:      time.Now().UTC().Format(time.RFC3339),
	})
}

// extractHandler runs one extraction over the uploaded image. The image
// comes from the multipart field "image" or, for pasted screenshots, from
// a base64 or data URL value in "image_base64".
func (s *Server) extractHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeErrorResponse(w, &requestError{status: http.StatusMethodNotAllowed, message: "Method not allowed"})
		return
	}

	up, err := s.readUpload(w, r)
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}
	if err != nil {
		s.writeErrorResponse(w, err)
		return
	}
	uploadSizeBytes.Observe(float64(len(up.data)))

	threshold, err := s.thresholdFor(r)
	if err != nil {
		s.writeErrorResponse(w, err)
		return
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := s.runExtraction(ctx, "http", up.data, threshold)
	if err != nil {
		slog.Warn("Extraction failed",
			"error", err,
			"filename", up.filename,
			"request_id", RequestID(r.Context()))
		s.writeErrorResponse(w, classify(err))
		return
	}

	if r.FormValue("format") == formatText {
		name := extract.DefaultDownloadName
		if r.FormValue("name") == "source" {
			name = extract.DownloadName(up.filename)
		}
		s.writeDownload(w, name, extract.DownloadBytes(res))
		return
	}

	resp := newExtractResponse(res, RequestID(r.Context()))
	s.writeJSON(w, http.StatusOK, resp)
}

func newExtractResponse(res *extract.Result, requestID string) *ExtractResponse {
	resp := &ExtractResponse{
		Text:           res.Text,
		DetectionCount: res.DetectionCount,
		AcceptedCount:  res.Accepted,
		Threshold:      res.Threshold,
		NoText:         res.NoText(),
		Statistics:     res.Statistics(),
		Format:         res.Format,
		Width:          res.Width,
		Height:         res.Height,
		ProcessingMs:   res.Duration.Milliseconds(),
		RequestID:      requestID,
	}
	if resp.NoText {
		resp.Message = NoTextMessage
	}
	return resp
}

// readUpload extracts the image bytes from the request body.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes*4/3+formOverhead)

	err := r.ParseMultipartForm(s.maxUploadBytes)
	switch {
	case isMaxBytes(err):
		return nil, s.tooLarge()
	case err != nil && !errors.Is(err, http.ErrNotMultipart):
		return nil, &requestError{status: http.StatusBadRequest, message: "Failed to parse form data", errType: errTypeInvalidRequest}
	}

	file, header, err := r.FormFile("image")
	if err == nil {
		defer func() { _ = file.Close() }()
		if header.Size > s.maxUploadBytes {
			return nil, s.tooLarge()
		}
		data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
		if err != nil {
			return nil, &requestError{status: http.StatusInternalServerError, message: "Failed to read image data", errType: errTypeInternal}
		}
		if int64(len(data)) > s.maxUploadBytes {
			return nil, s.tooLarge()
		}
		return &upload{data: data, filename: header.Filename}, nil
	}
	if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
		return nil, &requestError{status: http.StatusBadRequest, message: "Failed to read uploaded image", errType: errTypeInvalidRequest}
	}

	pasted := r.FormValue("image_base64")
	if pasted == "" {
		return nil, errNoImage
	}
	data, err := source.DecodeBase64(pasted)
	if err != nil {
		return nil, &requestError{
			status:  http.StatusBadRequest,
			message: "Invalid base64 image: " + err.Error(),
			errType: errTypeDecode,
		}
	}
	if int64(len(data)) > s.maxUploadBytes {
		return nil, s.tooLarge()
	}
	return &upload{data: data, filename: r.FormValue("filename")}, nil
}

func (s *Server) thresholdFor(r *http.Request) (float64, error) {
	raw := r.FormValue("min_confidence")
	if raw == "" {
		return s.extractor.Config().Threshold, nil
	}
	t, err := strconv.ParseFloat(raw, 64)
	if err == nil {
		err = extract.ValidateThreshold(t)
	}
	if err != nil {
		return 0, &requestError{
			status:  http.StatusBadRequest,
			message: fmt.Sprintf("Invalid min_confidence %q: must be a number within [0, 1]", raw),
			errType: errTypeInvalidThreshold,
		}
	}
	return t, nil
}

// runExtraction calls the pipeline and records metrics for the outcome.
func (s *Server) runExtraction(ctx context.Context, transport string, data []byte, threshold float64) (*extract.Result, error) {
	start := time.Now()
	res, err := s.extractor.Extract(ctx, data, threshold)
	extractionDuration.WithLabelValues(transport).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		extractionsTotal.WithLabelValues(transport, classify(err).errType).Inc()
	case res.NoText():
		extractionsTotal.WithLabelValues(transport, "no_text").Inc()
	default:
		extractionsTotal.WithLabelValues(transport, "success").Inc()
	}
	if err == nil {
		st := res.Statistics()
		extractedChars.WithLabelValues(transport).Observe(float64(st.Characters))
		detectionsPerImage.WithLabelValues(transport).Observe(float64(res.DetectionCount))
	}
	return res, err
}

// classify maps pipeline errors to HTTP statuses. Recognizer and internal
// failures get a fixed message; callers log the full error.
func classify(err error) *requestError {
	var re *requestError
	if errors.As(err, &re) {
		return re
	}
	var recErr *extract.RecognizerError
	switch {
	case errors.Is(err, extract.ErrInvalidThreshold):
		return &requestError{status: http.StatusBadRequest, message: err.Error(), errType: errTypeInvalidThreshold}
	case extract.IsDecodeError(err):
		return &requestError{status: http.StatusBadRequest, message: err.Error(), errType: errTypeDecode}
	case errors.As(err, &recErr) && recErr.Timeout():
		return &requestError{status: http.StatusGatewayTimeout, message: "Text recognition timed out", errType: errTypeTimeout}
	case errors.As(err, &recErr):
		return &requestError{status: http.StatusInternalServerError, message: recognizerFailedMessage, errType: errTypeRecognizer}
	default:
		return &requestError{status: http.StatusInternalServerError, message: internalErrorMessage, errType: errTypeInternal}
	}
}

func (s *Server) tooLarge() *requestError {
	return &requestError{
		status:  http.StatusRequestEntityTooLarge,
		message: fmt.Sprintf("Image exceeds the %d MB upload limit", s.maxUploadBytes/mb),
		errType: errTypeTooLarge,
	}
}

func isMaxBytes(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func (s *Server) writeDownload(w http.ResponseWriter, name string, body []byte) {
	w.Header().Set("Content-Type", extract.DownloadContentType)
	w.Header().Set("Content-Disposition", contentDisposition(name))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		slog.Error("Failed to write download", "error", err)
	}
}

func contentDisposition(name string) string {
	for _, r := range name {
		if r > 0x7e || r < 0x20 {
			return mime.FormatMediaType("attachment", map[string]string{"filename": name})
		}
	}
	return `attachment; filename="` + name + `"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, err error) {
	re := classify(err)
	s.writeJSON(w, re.status, ErrorResponse{Error: re.message, ErrorType: re.errType})
}
