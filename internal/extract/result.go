package extract

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MeKo-Tech/textgrab/internal/recognizer"
)

// Result is the output of one extraction.
type Result struct {
	// Text joins accepted detection texts with "\n" in emission order.
	Text string `json:"text"`
	// DetectionCount counts every detection, accepted or rejected.
	DetectionCount int `json:"detection_count"`
	// Accepted counts detections whose confidence exceeded Threshold.
	Accepted   int                    `json:"accepted_count"`
	Threshold  float64                `json:"threshold"`
	Format     string                 `json:"format,omitempty"`
	Width      int                    `json:"width"`
	Height     int                    `json:"height"`
	Detections []recognizer.Detection `json:"detections,omitempty"`
	Duration   time.Duration          `json:"duration_ns"`
}

// NoText reports the "no text detected" outcome: nothing passed the filter
// or every accepted text was blank. It is a normal result, not an error.
func (r *Result) NoText() bool {
	return r == nil || strings.TrimSpace(r.Text) == ""
}

// Statistics are derived from text alone.
type Statistics struct {
	Words      int `json:"word_count"`
	Characters int `json:"char_count"`
	Lines      int `json:"line_count"`
}

// Summarize counts whitespace separated words, code points (newlines
// included) and newline separated segments. An empty string has one line.
func Summarize(text string) Statistics {
	return Statistics{
		Words:      len(strings.Fields(text)),
		Characters: utf8.RuneCountInString(text),
		Lines:      strings.Count(text, "\n") + 1,
	}
}

// Statistics is shorthand for Summarize(r.Text).
func (r *Result) Statistics() Statistics {
	if r == nil {
		return Summarize("")
	}
	return Summarize(r.Text)
}
