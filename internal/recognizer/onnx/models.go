package onnx

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/textgrab/internal/recognizer"
)

// Model and dictionary file names of the PP-OCRv5 release.
const (
	DetectionMobile   = "PP-OCRv5_mobile_det.onnx"
	DetectionServer   = "PP-OCRv5_server_det.onnx"
	RecognitionMobile = "PP-OCRv5_mobile_rec.onnx"
	RecognitionServer = "PP-OCRv5_server_rec.onnx"
	DefaultDictionary = "ppocr_keys_v1.txt"

	VariantMobile = "mobile"
	VariantServer = "server"
)

// modelFiles are the resolved paths a backend loads.
type modelFiles struct {
	Detection   string
	Recognition string
	Dictionary  string
}

// resolveModels finds the model files below opts.ModelsDir. Explicit
// det_model, rec_model and dict settings win. Otherwise the organized
// layout <dir>/<type>/<variant>/<file> is tried before a flat <dir>/<file>.
// The dictionary prefers a file named after the first language.
func resolveModels(opts recognizer.Options) (modelFiles, error) {
	variant := opts.Setting("variant", VariantMobile)
	if variant != VariantMobile && variant != VariantServer {
		return modelFiles{}, fmt.Errorf("unknown model variant %q (want %s or %s)", variant, VariantMobile, VariantServer)
	}
	det, rec := DetectionMobile, RecognitionMobile
	if variant == VariantServer {
		det, rec = DetectionServer, RecognitionServer
	}
	dir := opts.ModelsDir

	files := modelFiles{
		Detection:   opts.Setting("det_model", ""),
		Recognition: opts.Setting("rec_model", ""),
		Dictionary:  opts.Setting("dict", ""),
	}
	if files.Detection == "" {
		files.Detection = firstExisting(
			filepath.Join(dir, "detection", variant, det),
			filepath.Join(dir, det))
	}
	if files.Recognition == "" {
		files.Recognition = firstExisting(
			filepath.Join(dir, "recognition", variant, rec),
			filepath.Join(dir, rec))
	}
	if files.Dictionary == "" {
		var candidates []string
		if tags := opts.Tags(); len(tags) > 0 {
			base, _ := tags[0].Base()
			lang := base.String()
			candidates = append(candidates,
				filepath.Join(dir, "dictionaries", "ppocr_keys_"+lang+".txt"),
				filepath.Join(dir, "dictionaries", lang+".txt"))
		}
		candidates = append(candidates,
			filepath.Join(dir, "dictionaries", DefaultDictionary),
			filepath.Join(dir, DefaultDictionary))
		files.Dictionary = firstExisting(candidates...)
	}

	for _, f := range [...]struct{ what, path string }{
		{"detection model", files.Detection},
		{"recognition model", files.Recognition},
		{"dictionary", files.Dictionary},
	} {
		if _, err := os.Stat(f.path); err != nil {
			return modelFiles{}, fmt.Errorf("%s not found: %w", f.what, err)
		}
	}
	return files, nil
}

// firstExisting returns the first path that exists, or the last candidate
// so the caller can report it.
func firstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return paths[len(paths)-1]
}
