package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func newTestLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

func TestLoadWithNoConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := newTestLoader().Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.LogLevel != infoLevel {
		t.Errorf("Expected default log level '%s', got %s", infoLevel, cfg.LogLevel)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Recognizer.Backend != "onnx" {
		t.Errorf("Expected default backend onnx, got %s", cfg.Recognizer.Backend)
	}
}

func TestLoadWithValidYAMLFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "textgrab.yaml")
	yamlContent := `
log_level: debug
recognizer:
  backend: tesseract
  languages: [en, de]
  settings:
    psm: "6"
extraction:
  min_confidence: 0.3
  timeout_sec: 5
server:
  port: 9090
  max_upload_mb: 10
`
	if err := os.WriteFile(configFile, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	loader := newTestLoader()
	cfg, err := loader.LoadWithFile(configFile)
	if err != nil {
		t.Fatalf("LoadWithFile() unexpected error: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.LogLevel)
	}
	if cfg.Recognizer.Backend != "tesseract" {
		t.Errorf("Expected backend tesseract, got %s", cfg.Recognizer.Backend)
	}
	if len(cfg.Recognizer.Languages) != 2 {
		t.Errorf("Expected 2 languages, got %v", cfg.Recognizer.Languages)
	}
	if cfg.Recognizer.Settings["psm"] != "6" {
		t.Errorf("Expected psm setting, got %v", cfg.Recognizer.Settings)
	}
	if cfg.Extraction.MinConfidence != 0.3 {
		t.Errorf("Expected min_confidence 0.3, got %v", cfg.Extraction.MinConfidence)
	}
	if cfg.Server.Port != 9090 || cfg.Server.MaxUploadMB != 10 {
		t.Errorf("Unexpected server config %+v", cfg.Server)
	}
	// untouched keys keep defaults
	if cfg.Server.CORSOrigin != "*" {
		t.Errorf("Expected default CORS origin, got %s", cfg.Server.CORSOrigin)
	}
	if loader.GetConfigFileUsed() != configFile {
		t.Errorf("Expected config file %s, got %s", configFile, loader.GetConfigFileUsed())
	}
}

func TestLoadWithMissingFile(t *testing.T) {
	_, err := newTestLoader().LoadWithFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("Expected missing file error, got %v", err)
	}
}

func TestLoadWithInvalidValues(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(configFile, []byte("extraction:\n  min_confidence: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := newTestLoader().LoadWithFile(configFile)
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("TEXTGRAB_EXTRACTION_MIN_CONFIDENCE", "0.75")
	t.Setenv("TEXTGRAB_SERVER_PORT", "7000")
	t.Setenv("TEXTGRAB_RECOGNIZER_USE_ACCELERATOR", "true")

	cfg, err := newTestLoader().Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Extraction.MinConfidence != 0.75 {
		t.Errorf("Expected env min_confidence 0.75, got %v", cfg.Extraction.MinConfidence)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Expected env port 7000, got %d", cfg.Server.Port)
	}
	if !cfg.Recognizer.UseAccelerator {
		t.Error("Expected env to enable accelerator")
	}
}

func TestWriteDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "textgrab.yaml")
	if err := WriteDefaultFile(path, false); err != nil {
		t.Fatalf("WriteDefaultFile() error: %v", err)
	}
	if err := WriteDefaultFile(path, false); err == nil {
		t.Error("Expected error when file exists without overwrite")
	}
	if err := WriteDefaultFile(path, true); err != nil {
		t.Errorf("Overwrite failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var round Config
	if err := yaml.Unmarshal(data, &round); err != nil {
		t.Fatalf("written file is not valid YAML: %v", err)
	}
	if round.Extraction.MinConfidence != 0.5 || round.Server.MaxUploadMB != 5 {
		t.Errorf("Unexpected written defaults %+v", round)
	}

	cfg, err := newTestLoader().LoadWithFile(path)
	if err != nil {
		t.Fatalf("generated file does not load: %v", err)
	}
	if cfg.Recognizer.Backend != "onnx" {
		t.Errorf("Expected backend onnx, got %s", cfg.Recognizer.Backend)
	}
}

func TestGetConfigSearchPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	paths := GetConfigSearchPaths()
	if paths[0] != "." || paths[len(paths)-1] != "/etc/textgrab" {
		t.Errorf("Unexpected search paths %v", paths)
	}
	if paths[1] != filepath.Join("/xdg", "textgrab") {
		t.Errorf("Expected XDG path, got %s", paths[1])
	}
}
