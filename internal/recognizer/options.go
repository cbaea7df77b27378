package recognizer

import (
	"errors"
	"fmt"

	"golang.org/x/text/language"
)

// DefaultLanguage is the detection locale used when none is configured.
const DefaultLanguage = "en"

// Options configures backend construction.
type Options struct {
	Languages      []string          // BCP 47 tags, e.g. "en"
	UseAccelerator bool              // GPU execution where the backend supports it
	ModelsDir      string            // root directory for model files
	Threads        int               // intra-op threads, 0 for engine default
	Settings       map[string]string // backend specific knobs
}

// DefaultOptions returns the English, CPU-only configuration.
func DefaultOptions() Options {
	return Options{
		Languages:      []string{DefaultLanguage},
		UseAccelerator: false,
		ModelsDir:      "models",
	}
}

// Validate checks that every language parses as a BCP 47 tag.
func (o Options) Validate() error {
	if len(o.Languages) == 0 {
		return errors.New("at least one language is required")
	}
	if o.Threads < 0 {
		return fmt.Errorf("threads must be non-negative, got %d", o.Threads)
	}
	for _, l := range o.Languages {
		if _, err := language.Parse(l); err != nil {
			return fmt.Errorf("invalid language %q: %w", l, err)
		}
	}
	return nil
}

// Tags returns the parsed languages. Invalid entries are skipped.
func (o Options) Tags() []language.Tag {
	tags := make([]language.Tag, 0, len(o.Languages))
	for _, l := range o.Languages {
		t, err := language.Parse(l)
		if err != nil {
			continue
		}
		tags = append(tags, t)
	}
	return tags
}

// Setting returns a backend setting or def when unset.
func (o Options) Setting(key, def string) string {
	if v, ok := o.Settings[key]; ok && v != "" {
		return v
	}
	return def
}
