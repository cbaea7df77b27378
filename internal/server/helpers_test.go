package server

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MeKo-Tech/textgrab/internal/extract"
	"github.com/MeKo-Tech/textgrab/internal/testutil"
	"github.com/stretchr/testify/require"
)

// newTestServer builds a server around a pipeline backed by stub.
func newTestServer(t *testing.T, stub *testutil.StubRecognizer, cfg Config) *Server {
	t.Helper()
	pl, err := extract.New(stub)
	require.NoError(t, err)
	if cfg.MaxUploadMB == 0 {
		cfg.MaxUploadMB = 5
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	s, err := NewServer(cfg, pl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// helloWorldStub emits two confident lines and one noisy one.
func helloWorldStub() *testutil.StubRecognizer {
	return testutil.NewStub(
		testutil.Pair{Text: "Hello", Confidence: 0.9},
		testutil.Pair{Text: "noise", Confidence: 0.3},
		testutil.Pair{Text: "World", Confidence: 0.8},
	)
}

// multipartRequest builds a POST with an optional file part and fields.
func multipartRequest(t *testing.T, target, field, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// serve runs req through the full route table.
func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}
