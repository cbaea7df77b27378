// Package support holds the godog step definitions for the HTTP API suite.
// Scenarios run against an httptest server wired with a scripted
// recognizer, so no OCR models are needed.
package support

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"

	"github.com/MeKo-Tech/textgrab/internal/extract"
	"github.com/MeKo-Tech/textgrab/internal/server"
	"github.com/MeKo-Tech/textgrab/internal/testutil"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	Stub         *testutil.StubRecognizer
	ServerConfig server.Config
	HTTPServer   *httptest.Server
	Server       *server.Server

	// Query parameters appended to the next request
	Query url.Values

	LastStatusCode int
	LastBody       []byte
	LastHeaders    http.Header
}

// NewTestContext returns a context with a stub that detects nothing and
// the default server limits.
func NewTestContext() *TestContext {
	return &TestContext{
		Stub: testutil.NewStub(),
		ServerConfig: server.Config{
			CORSOrigin:  "*",
			MaxUploadMB: 5,
			TimeoutSec:  10,
		},
		Query: url.Values{},
	}
}

// StartServer builds the pipeline around the stub and serves it.
func (testCtx *TestContext) StartServer() error {
	p, err := extract.New(testCtx.Stub)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	srv, err := server.NewServer(testCtx.ServerConfig, p)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	testCtx.Server = srv
	testCtx.HTTPServer = httptest.NewServer(srv.Handler())
	return nil
}

// Cleanup stops the server and releases the pipeline.
func (testCtx *TestContext) Cleanup() error {
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
	if testCtx.Server != nil {
		err := testCtx.Server.Close()
		testCtx.Server = nil
		return err
	}
	return nil
}

func (testCtx *TestContext) url(endpoint string) (string, error) {
	if testCtx.HTTPServer == nil {
		return "", fmt.Errorf("server is not running")
	}
	u := testCtx.HTTPServer.URL + endpoint
	if len(testCtx.Query) > 0 {
		u += "?" + testCtx.Query.Encode()
	}
	return u, nil
}

// postMultipart sends fields and an optional file part as multipart form.
func (testCtx *TestContext) postMultipart(endpoint string, fields map[string]string, filename string, data []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	if data != nil {
		part, err := mw.CreateFormFile("image", filename)
		if err != nil {
			return err
		}
		if _, err := part.Write(data); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return testCtx.do(http.MethodPost, endpoint, mw.FormDataContentType(), &body)
}

func (testCtx *TestContext) do(method, endpoint, contentType string, body io.Reader) error {
	u, err := testCtx.url(endpoint)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	testCtx.LastStatusCode = resp.StatusCode
	testCtx.LastHeaders = resp.Header
	testCtx.LastBody, err = io.ReadAll(resp.Body)
	return err
}
