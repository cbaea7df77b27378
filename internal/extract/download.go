package extract

import (
	"path/filepath"
	"strings"
)

const (
	// DefaultDownloadName is the file name offered for extracted text.
	DefaultDownloadName = "extracted_text.txt"
	// DownloadContentType is the media type of the download.
	DownloadContentType = "text/plain; charset=utf-8"
)

// DownloadName returns "<stem>_extracted_text.txt" for a source file name,
// or DefaultDownloadName when source has no usable stem.
func DownloadName(source string) string {
	base := filepath.Base(strings.ReplaceAll(source, "\\", "/"))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.Map(func(r rune) rune {
		switch {
		case r == '"' || r == '/' || r == '\\' || r < 0x20 || r == 0x7f:
			return -1
		default:
			return r
		}
	}, stem)
	stem = strings.TrimSpace(stem)
	if stem == "" || stem == "." || stem == ".." {
		return DefaultDownloadName
	}
	return stem + "_" + DefaultDownloadName
}

// DownloadBytes returns the exact bytes of the downloadable text file.
func DownloadBytes(r *Result) []byte {
	if r == nil {
		return []byte{}
	}
	return []byte(r.Text)
}
