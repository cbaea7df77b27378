//go:build !tesseract

package tesseract

import (
	"testing"

	"github.com/MeKo-Tech/textgrab/internal/recognizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNotEnabled(t *testing.T) {
	_, err := New(recognizer.DefaultOptions())
	require.ErrorIs(t, err, ErrTesseractNotEnabled)

	_, err = recognizer.New(Name, recognizer.DefaultOptions())
	assert.ErrorIs(t, err, ErrTesseractNotEnabled)

	opts := recognizer.DefaultOptions()
	opts.Settings = map[string]string{"psm": "99"}
	_, err = New(opts)
	assert.NotErrorIs(t, err, ErrTesseractNotEnabled)
}
