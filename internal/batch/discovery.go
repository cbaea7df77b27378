package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ImageExtensions are the file extensions picked up when a directory is
// expanded. They match the formats the decoder understands.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".webp", ".bmp", ".gif", ".tif", ".tiff"}

// DiscoverOptions control directory expansion.
type DiscoverOptions struct {
	Recursive bool
	Include   []string // base name globs; empty includes everything
	Exclude   []string // base name globs, checked before Include
}

// Discover expands directories in refs into the image files they contain.
// References that are not local paths ("-", pasted images, s3:// objects)
// and paths that do not exist are passed through so the opener can report
// them per source. Explicit files are filtered by the patterns only.
func Discover(refs []string, opts DiscoverOptions) ([]string, error) {
	var out []string
	for _, ref := range refs {
		if !isPath(ref) {
			out = append(out, ref)
			continue
		}
		info, err := os.Stat(ref)
		if err != nil {
			out = append(out, ref)
			continue
		}
		if !info.IsDir() {
			if opts.keep(ref) {
				out = append(out, ref)
			}
			continue
		}
		files, err := discoverDir(ref, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}
	return out, nil
}

func isPath(ref string) bool {
	switch {
	case ref == "-",
		strings.HasPrefix(ref, "base64:"),
		strings.HasPrefix(ref, "data:"),
		strings.HasPrefix(ref, "s3://"):
		return false
	}
	return true
}

func discoverDir(dir string, opts DiscoverOptions) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !opts.Recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if IsImageFile(path) && opts.keep(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	return files, nil
}

// IsImageFile reports whether path has one of ImageExtensions.
func IsImageFile(path string) bool {
	return slices.Contains(ImageExtensions, strings.ToLower(filepath.Ext(path)))
}

func (o DiscoverOptions) keep(path string) bool {
	if matchesAny(path, o.Exclude) {
		return false
	}
	return len(o.Include) == 0 || matchesAny(path, o.Include)
}

func matchesAny(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}
