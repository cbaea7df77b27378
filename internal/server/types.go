package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MeKo-Tech/textgrab/internal/extract"
	"github.com/MeKo-Tech/textgrab/internal/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const mb = 1024 * 1024

// extractor is the part of the extraction pipeline the server depends on.
type extractor interface {
	Extract(ctx context.Context, data []byte, threshold float64) (*extract.Result, error)
	Config() extract.Config
	Backend() string
	Close() error
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	extractor      extractor
	corsOrigin     string
	maxUploadBytes int64
	timeout        time.Duration
	rateLimiter    *RateLimiter
	started        time.Time
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	RateLimit   RateLimitConfig
}

// RateLimitConfig enables per client limits on the extraction endpoints.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDayMB   int64
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string  `json:"status"`
	Version   string  `json:"version,omitempty"`
	Backend   string  `json:"backend"`
	Threshold float64 `json:"threshold"`
	UptimeSec int64   `json:"uptime_sec"`
	Time      string  `json:"time"`
}

// ExtractResponse is the JSON body of a successful POST /extract.
type ExtractResponse struct {
	Text           string             `json:"text"`
	DetectionCount int                `json:"detection_count"`
	AcceptedCount  int                `json:"accepted_count"`
	Threshold      float64            `json:"threshold"`
	NoText         bool               `json:"no_text"`
	Message        string             `json:"message,omitempty"`
	Statistics     extract.Statistics `json:"statistics"`
	Format         string             `json:"format,omitempty"`
	Width          int                `json:"width"`
	Height         int                `json:"height"`
	ProcessingMs   int64              `json:"processing_ms"`
	RequestID      string             `json:"request_id,omitempty"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type,omitempty"`
}

// NewServer wraps an already initialized pipeline. The server owns it
// from here on and closes it in Close.
func NewServer(config Config, ex extractor) (*Server, error) {
	if ex == nil {
		return nil, errors.New("server needs an extraction pipeline")
	}
	s := &Server{
		extractor:      ex,
		corsOrigin:     config.CORSOrigin,
		maxUploadBytes: config.MaxUploadMB * mb,
		timeout:        time.Duration(config.TimeoutSec) * time.Second,
		started:        time.Now(),
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = 5 * mb
	}
	if config.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(
			config.RateLimit.RequestsPerMinute,
			config.RateLimit.RequestsPerHour,
			config.RateLimit.MaxRequestsPerDay,
			config.RateLimit.MaxDataPerDayMB*mb,
		)
	}
	return s, nil
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.extractor != nil {
		return s.extractor.Close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.chain("/health", s.healthHandler, false))
	mux.HandleFunc("/extract", s.chain("/extract", s.extractHandler, true))
	mux.HandleFunc("/ws/extract", s.requestIDMiddleware(s.rateLimitMiddleware(s.extractWebSocketHandler)))
	mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

func (s *Server) chain(endpoint string, h http.HandlerFunc, limited bool) http.HandlerFunc {
	if limited {
		h = s.rateLimitMiddleware(h)
	}
	return s.requestIDMiddleware(s.corsMiddleware(endpoint, h))
}

func versionString() string {
	v, _, _ := version.Info()
	return v
}
