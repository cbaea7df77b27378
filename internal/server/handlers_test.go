package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/textgrab/internal/extract"
	"github.com/MeKo-Tech/textgrab/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeExtract(t *testing.T, w *httptest.ResponseRecorder) ExtractResponse {
	t.Helper()
	var resp ExtractResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t, helloWorldStub(), Config{})

	w := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "stub", resp.Backend)
	assert.InDelta(t, 0.5, resp.Threshold, 1e-9)
	assert.NotEmpty(t, resp.Time)

	w = serve(s, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestExtractHandlerSuccess(t *testing.T) {
	stub := helloWorldStub()
	s := newTestServer(t, stub, Config{})

	req := multipartRequest(t, "/extract", "image", "scan.png", testutil.SamplePNG(t), nil)
	w := serve(s, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeExtract(t, w)
	assert.Equal(t, "Hello\nWorld", resp.Text)
	assert.Equal(t, 3, resp.DetectionCount)
	assert.Equal(t, 2, resp.AcceptedCount)
	assert.False(t, resp.NoText)
	assert.Empty(t, resp.Message)
	assert.Equal(t, extract.Statistics{Words: 2, Characters: 11, Lines: 2}, resp.Statistics)
	assert.Equal(t, "png", resp.Format)
	assert.Equal(t, 64, resp.Width)
	assert.Equal(t, 1, stub.Calls())

	_, err := uuid.Parse(resp.RequestID)
	assert.NoError(t, err)
	assert.Equal(t, resp.RequestID, w.Header().Get(RequestIDHeader))
}

func TestExtractHandlerMissingImage(t *testing.T) {
	tests := []struct {
		name string
		req  func(t *testing.T) *http.Request
	}{
		{"multipart without image field", func(t *testing.T) *http.Request {
			return multipartRequest(t, "/extract", "", "", nil, map[string]string{"min_confidence": "0.4"})
		}},
		{"file under another field", func(t *testing.T) *http.Request {
			return multipartRequest(t, "/extract", "file", "scan.png", testutil.SamplePNG(t), nil)
		}},
		{"json body", func(t *testing.T) *http.Request {
			r := httptest.NewRequest(http.MethodPost, "/extract", strings.NewReader(`{"image":"x"}`))
			r.Header.Set("Content-Type", "application/json")
			return r
		}},
		{"empty body", func(t *testing.T) *http.Request {
			return httptest.NewRequest(http.MethodPost, "/extract", nil)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := helloWorldStub()
			s := newTestServer(t, stub, Config{})

			w := serve(s, tt.req(t))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.JSONEq(t, `{"error":"No image uploaded"}`, w.Body.String())
			assert.Equal(t, 0, stub.Calls())
		})
	}
}

func TestExtractHandlerMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, helloWorldStub(), Config{})
	w := serve(s, httptest.NewRequest(http.MethodGet, "/extract", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestExtractHandlerErrors(t *testing.T) {
	tests := []struct {
		name       string
		stub       func() *testutil.StubRecognizer
		data       []byte
		fields     map[string]string
		timeout    time.Duration
		wantStatus int
		wantType   string
		wantCalls  int
	}{
		{
			name:       "undecodable bytes",
			stub:       helloWorldStub,
			data:       []byte("definitely not an image"),
			wantStatus: http.StatusBadRequest,
			wantType:   errTypeDecode,
		},
		{
			name:       "truncated png",
			stub:       helloWorldStub,
			data:       testutil.TruncatedPNG(),
			wantStatus: http.StatusBadRequest,
			wantType:   errTypeDecode,
		},
		{
			name:       "empty file",
			stub:       helloWorldStub,
			data:       []byte{},
			wantStatus: http.StatusBadRequest,
			wantType:   errTypeDecode,
		},
		{
			name: "recognizer failure",
			stub: func() *testutil.StubRecognizer {
				s := helloWorldStub()
				s.Err = errors.New("model exploded")
				return s
			},
			wantStatus: http.StatusInternalServerError,
			wantType:   errTypeRecognizer,
			wantCalls:  1,
		},
		{
			name: "recognizer timeout",
			stub: func() *testutil.StubRecognizer {
				s := helloWorldStub()
				s.Delay = 2 * time.Second
				return s
			},
			timeout:    50 * time.Millisecond,
			wantStatus: http.StatusGatewayTimeout,
			wantType:   errTypeTimeout,
			wantCalls:  1,
		},
		{
			name:       "threshold not a number",
			stub:       helloWorldStub,
			fields:     map[string]string{"min_confidence": "high"},
			wantStatus: http.StatusBadRequest,
			wantType:   errTypeInvalidThreshold,
		},
		{
			name:       "threshold above one",
			stub:       helloWorldStub,
			fields:     map[string]string{"min_confidence": "1.5"},
			wantStatus: http.StatusBadRequest,
			wantType:   errTypeInvalidThreshold,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := tt.stub()
			s := newTestServer(t, stub, Config{})
			s.timeout = tt.timeout

			data := tt.data
			if data == nil {
				data = testutil.SamplePNG(t)
			}
			w := serve(s, multipartRequest(t, "/extract", "image", "scan.png", data, tt.fields))

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			resp := decodeError(t, w)
			assert.Equal(t, tt.wantType, resp.ErrorType)
			assert.NotEmpty(t, resp.Error)
			assert.NotContains(t, resp.Error, "model exploded")
			assert.Equal(t, tt.wantCalls, stub.Calls())
		})
	}
}

func TestClassifyHidesInternalDetails(t *testing.T) {
	rerr := classify(errors.New("open /var/lib/textgrab/models/det.onnx: permission denied"))
	assert.Equal(t, http.StatusInternalServerError, rerr.status)
	assert.Equal(t, errTypeInternal, rerr.errType)
	assert.Equal(t, internalErrorMessage, rerr.message)
}

func TestExtractHandlerTooLarge(t *testing.T) {
	stub := helloWorldStub()
	s := newTestServer(t, stub, Config{})
	s.maxUploadBytes = 1024

	w := serve(s, multipartRequest(t, "/extract", "image", "big.png", make([]byte, 4096), nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, errTypeTooLarge, decodeError(t, w).ErrorType)
	assert.Equal(t, 0, stub.Calls())
}

func TestExtractHandlerThreshold(t *testing.T) {
	tests := []struct {
		threshold string
		wantText  string
		accepted  int
	}{
		{"0", "Hello\nnoise\nWorld", 3},
		{"0.3", "Hello\nWorld", 2},
		{"0.8", "Hello", 1},
		{"0.9", "", 0},
		{"1", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.threshold, func(t *testing.T) {
			s := newTestServer(t, helloWorldStub(), Config{})
			req := multipartRequest(t, "/extract", "image", "scan.png", testutil.SamplePNG(t),
				map[string]string{"min_confidence": tt.threshold})

			w := serve(s, req)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			resp := decodeExtract(t, w)
			assert.Equal(t, tt.wantText, resp.Text)
			assert.Equal(t, tt.accepted, resp.AcceptedCount)
			assert.Equal(t, 3, resp.DetectionCount)
			assert.Equal(t, tt.accepted == 0, resp.NoText)
		})
	}
}

func TestExtractHandlerNoText(t *testing.T) {
	s := newTestServer(t, testutil.NewStub(testutil.Pair{Text: "smudge", Confidence: 0.2}), Config{})

	w := serve(s, multipartRequest(t, "/extract", "image", "blank.png", testutil.SamplePNG(t), nil))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeExtract(t, w)
	assert.True(t, resp.NoText)
	assert.Equal(t, NoTextMessage, resp.Message)
	assert.Empty(t, resp.Text)
	assert.Equal(t, 1, resp.DetectionCount)
	assert.Equal(t, extract.Statistics{Words: 0, Characters: 0, Lines: 1}, resp.Statistics)
}

func TestExtractHandlerDownload(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		filename string
		wantName string
	}{
		{"default name", "/extract?format=text", "receipt.png", "extracted_text.txt"},
		{"source stem", "/extract?format=text&name=source", "receipt.png", "receipt_extracted_text.txt"},
		{"source without stem", "/extract?format=text&name=source", ".png", "extracted_text.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, helloWorldStub(), Config{})
			w := serve(s, multipartRequest(t, tt.target, "image", tt.filename, testutil.SamplePNG(t), nil))

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, extract.DownloadContentType, w.Header().Get("Content-Type"))
			assert.Equal(t, fmt.Sprintf(`attachment; filename="%s"`, tt.wantName), w.Header().Get("Content-Disposition"))
			assert.Equal(t, "Hello\nWorld", w.Body.String())
			assert.Equal(t, "11", w.Header().Get("Content-Length"))
		})
	}
}

func TestExtractHandlerBase64Paste(t *testing.T) {
	png := testutil.SamplePNG(t)

	t.Run("urlencoded data url", func(t *testing.T) {
		stub := helloWorldStub()
		s := newTestServer(t, stub, Config{})
		form := url.Values{"image_base64": {testutil.DataURL("image/png", png)}}
		req := httptest.NewRequest(http.MethodPost, "/extract", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		w := serve(s, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "Hello\nWorld", decodeExtract(t, w).Text)
		assert.Equal(t, 1, stub.Calls())
	})

	t.Run("multipart field", func(t *testing.T) {
		s := newTestServer(t, helloWorldStub(), Config{})
		req := multipartRequest(t, "/extract", "", "", nil, map[string]string{"image_base64": testutil.Base64(png)})
		w := serve(s, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("invalid payload", func(t *testing.T) {
		stub := helloWorldStub()
		s := newTestServer(t, stub, Config{})
		form := url.Values{"image_base64": {"%%%not-base64%%%"}}
		req := httptest.NewRequest(http.MethodPost, "/extract", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		w := serve(s, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, errTypeDecode, decodeError(t, w).ErrorType)
		assert.Equal(t, 0, stub.Calls())
	})
}

func TestExtractHandlerReusesClientRequestID(t *testing.T) {
	s := newTestServer(t, helloWorldStub(), Config{})
	id := uuid.NewString()
	req := multipartRequest(t, "/extract", "image", "scan.png", testutil.SamplePNG(t), nil)
	req.Header.Set(RequestIDHeader, id)

	w := serve(s, req)
	assert.Equal(t, id, w.Header().Get(RequestIDHeader))
	assert.Equal(t, id, decodeExtract(t, w).RequestID)

	req = multipartRequest(t, "/extract", "image", "scan.png", testutil.SamplePNG(t), nil)
	req.Header.Set(RequestIDHeader, "not a uuid")
	w = serve(s, req)
	assert.NotEqual(t, "not a uuid", w.Header().Get(RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, helloWorldStub(), Config{})
	serve(s, multipartRequest(t, "/extract", "image", "scan.png", testutil.SamplePNG(t), nil))

	w := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "textgrab_extractions_total")
	assert.Contains(t, w.Body.String(), "textgrab_http_requests_total")
}

func TestNewServerRequiresPipeline(t *testing.T) {
	_, err := NewServer(Config{}, nil)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&extract.DecodeError{Reason: "corrupt header"}, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", extract.ErrInvalidThreshold), http.StatusBadRequest},
		{&extract.RecognizerError{Backend: "x", Err: errors.New("boom")}, http.StatusInternalServerError},
		{errors.New("other"), http.StatusInternalServerError},
		{errNoImage, http.StatusBadRequest},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, classify(tt.err).status, tt.err.Error())
	}
}
