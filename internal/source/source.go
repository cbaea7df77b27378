// Package source acquires image bytes from the places a user can point at:
// local files, stdin, pasted base64 or data URLs, and S3 objects.
package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Kind identifies where a payload came from.
type Kind string

const (
	KindFile   Kind = "file"
	KindStdin  Kind = "stdin"
	KindBase64 Kind = "base64"
	KindS3     Kind = "s3"
)

var (
	// ErrEmptySource is returned when a source yields no bytes.
	ErrEmptySource = errors.New("source is empty")
	// ErrTooLarge is returned when a source exceeds the configured limit.
	ErrTooLarge = errors.New("source exceeds size limit")
)

// Payload is the raw image bytes with a display name.
type Payload struct {
	Name string
	Kind Kind
	Data []byte
}

// ObjectFetcher downloads an object from a bucket. When maxBytes is
// positive, objects larger than it fail with ErrTooLarge before the body is
// transferred.
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, key string, maxBytes int64) ([]byte, error)
}

// Opener resolves source references into payloads.
type Opener struct {
	MaxBytes int64     // 0 disables the limit
	Stdin    io.Reader // used for "-"
	S3       ObjectFetcher
}

// Open resolves ref. Recognized forms are "-" (stdin), "base64:<payload>",
// "data:<media>;base64,<payload>", "s3://bucket/key" and a file path.
func (o *Opener) Open(ctx context.Context, ref string) (*Payload, error) {
	switch {
	case ref == "-":
		if o.Stdin == nil {
			return nil, errors.New("stdin is not available")
		}
		data, err := o.readLimited(o.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return o.payload("stdin", KindStdin, data)

	case strings.HasPrefix(ref, "base64:") || strings.HasPrefix(ref, "data:"):
		data, err := DecodeBase64(strings.TrimPrefix(ref, "base64:"))
		if err != nil {
			return nil, err
		}
		if o.MaxBytes > 0 && int64(len(data)) > o.MaxBytes {
			return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
		}
		return o.payload("pasted", KindBase64, data)

	case strings.HasPrefix(ref, "s3://"):
		bucket, key, err := ParseS3URI(ref)
		if err != nil {
			return nil, err
		}
		if o.S3 == nil {
			return nil, fmt.Errorf("no S3 client configured for %s", ref)
		}
		data, err := o.S3.Fetch(ctx, bucket, key, o.MaxBytes)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", ref, err)
		}
		if o.MaxBytes > 0 && int64(len(data)) > o.MaxBytes {
			return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, ref, len(data))
		}
		return o.payload(filepath.Base(key), KindS3, data)

	default:
		f, err := os.Open(ref) //nolint:gosec // G304: reading a user supplied image path is the purpose
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", ref, err)
		}
		defer func() { _ = f.Close() }()
		data, err := o.readLimited(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", ref, err)
		}
		return o.payload(filepath.Base(ref), KindFile, data)
	}
}

func (o *Opener) payload(name string, kind Kind, data []byte) (*Payload, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySource, name)
	}
	return &Payload{Name: name, Kind: kind, Data: data}, nil
}

func (o *Opener) readLimited(r io.Reader) ([]byte, error) {
	if o.MaxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, o.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > o.MaxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, o.MaxBytes)
	}
	return data, nil
}

// DecodeBase64 decodes a pasted image. It accepts a bare payload in standard
// or URL-safe alphabet, padded or not, or a data URL. Whitespace is ignored.
func DecodeBase64(payload string) ([]byte, error) {
	s := strings.TrimSpace(payload)
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, errors.New("malformed data URL: missing comma")
		}
		if !strings.HasSuffix(s[:comma], ";base64") {
			return nil, errors.New("data URL is not base64 encoded")
		}
		s = s[comma+1:]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, ErrEmptySource
	}

	encodings := []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(s)
		if err == nil {
			return bytes.Clone(data), nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("invalid base64 payload: %w", lastErr)
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (string, string, error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 URI: %s", uri)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 URI needs bucket and key: %s", uri)
	}
	return bucket, key, nil
}
