package cmd

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigInitAndShow(t *testing.T) {
	a := newTestApp(t, nil)
	out, _, err := execute(a, "config", "init", "custom.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote custom.yaml")
	_, err = os.Stat("custom.yaml")
	require.NoError(t, err)

	_, _, err = execute(a, "config", "init", "custom.yaml")
	assert.ErrorContains(t, err, "already exists")
	_, _, err = execute(a, "config", "init", "--force", "custom.yaml")
	require.NoError(t, err)

	out, _, err = execute(a, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: onnx")
	assert.Contains(t, out, "min_confidence: 0.5")
}

func TestConfigShowUsesFile(t *testing.T) {
	a := newTestApp(t, nil)
	require.NoError(t, os.WriteFile("textgrab.yaml", []byte(`
recognizer:
  backend: tesseract
  languages: [de]
extraction:
  min_confidence: 0.7
`), 0o600))

	out, _, err := execute(a, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "# loaded from")
	assert.Contains(t, out, "backend: tesseract")
	assert.Contains(t, out, "min_confidence: 0.7")
	assert.Contains(t, out, "- de")
}
