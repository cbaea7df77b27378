package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/textgrab/internal/batch"
	"github.com/MeKo-Tech/textgrab/internal/config"
	"github.com/MeKo-Tech/textgrab/internal/extract"
	"github.com/MeKo-Tech/textgrab/internal/source"
	"github.com/spf13/cobra"
)

// NoTextMessage is printed to stderr when an image yields no text.
const NoTextMessage = "No text detected"

const mb = 1024 * 1024

// extractOutput is the JSON shape of one extraction.
type extractOutput struct {
	Source         string             `json:"source"`
	Text           string             `json:"text"`
	DetectionCount int                `json:"detection_count"`
	AcceptedCount  int                `json:"accepted_count"`
	Threshold      float64            `json:"threshold"`
	NoText         bool               `json:"no_text"`
	Statistics     extract.Statistics `json:"statistics"`
	Format         string             `json:"format,omitempty"`
	Width          int                `json:"width"`
	Height         int                `json:"height"`
	ProcessingMs   int64              `json:"processing_ms"`
}

type extractOptions struct {
	threshold   float64
	format      string
	output      string
	downloadDir string
	workers     int
	progress    bool
	discover    batch.DiscoverOptions
	pipeline    extract.Config
}

func (a *app) extractCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract [source...]",
		Short: "Extract text from images",
		Long: `Extract text from one or more images.

A source is an image path, a directory, "-" for stdin, "base64:<payload>"
or a "data:image/png;base64,..." URL for pasted images, or s3://bucket/key.
Directories expand to the image files they contain.

Examples:
  textgrab extract receipt.png
  textgrab extract --min-confidence 0.8 --format json scan.jpg
  textgrab extract --output receipt.txt receipt.png
  textgrab extract -r --workers 4 --download-dir out/ scans/
  cat scan.webp | textgrab extract -`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.runExtract,
	}
	f := cmd.Flags()
	f.Float64("min-confidence", extract.DefaultThreshold, "keep detections with confidence above this value (0..1)")
	f.StringP("format", "f", config.FormatText, "output format: text, json or stats")
	f.StringP("output", "o", "", "write the extracted text to this file (single source only)")
	f.String("download-dir", "", "write <name>_extracted_text.txt for every source into this directory")
	f.Duration("timeout", 0, "recognizer timeout per image (0 uses the configured value)")
	f.BoolP("recursive", "r", false, "descend into subdirectories")
	f.StringSlice("include", nil, "file name globs to include from directories")
	f.StringSlice("exclude", nil, "file name globs to skip")
	f.Int("workers", 1, "number of images processed in parallel")
	f.Bool("progress", false, "report per-source progress on stderr")
	return cmd
}

func (a *app) extractOptions(cmd *cobra.Command) (extractOptions, error) {
	o := extractOptions{
		threshold:   a.cfg.Extraction.MinConfidence,
		format:      a.cfg.Output.Format,
		output:      a.cfg.Output.File,
		downloadDir: a.cfg.Output.DownloadDir,
		pipeline:    a.cfg.ExtractConfig(),
	}
	f := cmd.Flags()
	if f.Changed("min-confidence") {
		o.threshold, _ = f.GetFloat64("min-confidence")
	}
	if f.Changed("format") {
		o.format, _ = f.GetString("format")
	}
	if f.Changed("output") {
		o.output, _ = f.GetString("output")
	}
	if f.Changed("download-dir") {
		o.downloadDir, _ = f.GetString("download-dir")
	}
	if f.Changed("timeout") {
		o.pipeline.Timeout, _ = f.GetDuration("timeout")
	}
	o.workers, _ = f.GetInt("workers")
	o.progress, _ = f.GetBool("progress")
	o.discover.Recursive, _ = f.GetBool("recursive")
	o.discover.Include, _ = f.GetStringSlice("include")
	o.discover.Exclude, _ = f.GetStringSlice("exclude")

	if err := extract.ValidateThreshold(o.threshold); err != nil {
		return o, fmt.Errorf("--min-confidence: %w", err)
	}
	switch o.format {
	case "":
		o.format = config.FormatText
	case config.FormatText, config.FormatJSON, config.FormatStats:
	default:
		return o, fmt.Errorf("unsupported format %q (want text, json or stats)", o.format)
	}
	if o.workers < 1 {
		return o, fmt.Errorf("--workers must be at least 1, got %d", o.workers)
	}
	return o, nil
}

func (a *app) runExtract(cmd *cobra.Command, args []string) error {
	opts, err := a.extractOptions(cmd)
	if err != nil {
		return err
	}
	refs, err := batch.Discover(args, opts.discover)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return errors.New("no image files found")
	}
	if opts.output != "" && len(refs) > 1 {
		return errors.New("--output accepts a single source, use --download-dir for several")
	}
	opener, err := a.opener(refs)
	if err != nil {
		return err
	}
	if opts.downloadDir != "" {
		if err := os.MkdirAll(opts.downloadDir, 0o750); err != nil {
			return fmt.Errorf("create download directory: %w", err)
		}
	}

	p, err := a.newPipeline(opts.pipeline)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	run := batch.Options{Workers: opts.workers, Threshold: opts.threshold}
	if opts.progress {
		run.Progress = batch.NewConsoleProgress(cmd.ErrOrStderr())
	}
	items := batch.Run(cmd.Context(), p, opener, refs, run)

	var (
		outputs []extractOutput
		errs    []error
		names   = downloadNames{}
	)
	for _, it := range items {
		if it.Err != nil {
			if it.Payload != nil {
				errs = append(errs, fmt.Errorf("%s: %w", it.Payload.Name, it.Err))
			} else {
				errs = append(errs, it.Err)
			}
			continue
		}
		res := it.Result
		slog.Debug("Extracted text",
			"source", it.Name(),
			"detections", res.DetectionCount,
			"accepted", res.Accepted,
			"duration", res.Duration)

		if res.NoText() {
			msg := NoTextMessage
			if len(refs) > 1 {
				msg = it.Name() + ": " + msg
			}
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), msg)
		}
		if err := writeDownloads(it.Payload, names.next(it.Payload), res, opts); err != nil {
			errs = append(errs, err)
			continue
		}
		outputs = append(outputs, newExtractOutput(it.Name(), res))
	}

	if err := render(cmd.OutOrStdout(), opts.format, outputs); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// opener builds the source opener. The S3 client is only created when a
// source needs it.
func (a *app) opener(args []string) (*source.Opener, error) {
	o := &source.Opener{
		MaxBytes: int64(a.cfg.Server.MaxUploadMB) * mb,
		Stdin:    a.stdin,
	}
	for _, ref := range args {
		if !strings.HasPrefix(ref, "s3://") {
			continue
		}
		fetcher, err := source.NewS3Fetcher(source.S3Config{
			Region:         a.cfg.S3.Region,
			Endpoint:       a.cfg.S3.Endpoint,
			ForcePathStyle: a.cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, err
		}
		o.S3 = fetcher
		break
	}
	return o, nil
}

// downloadName names the text file for a payload. Only sources with a real
// file name contribute a stem.
func downloadName(p *source.Payload) string {
	switch p.Kind {
	case source.KindFile, source.KindS3:
		return extract.DownloadName(p.Name)
	default:
		return extract.DefaultDownloadName
	}
}

// downloadNames hands out download file names that are unique within one
// run. Repeats get a numeric suffix: scan_extracted_text.txt,
// scan_extracted_text_2.txt and so on.
type downloadNames map[string]int

func (n downloadNames) next(p *source.Payload) string {
	name := downloadName(p)
	for {
		n[name]++
		count := n[name]
		if count == 1 {
			return name
		}
		ext := filepath.Ext(name)
		candidate := fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), count, ext)
		if n[candidate] == 0 {
			n[candidate] = 1
			return candidate
		}
	}
}

func writeDownloads(p *source.Payload, name string, res *extract.Result, opts extractOptions) error {
	data := extract.DownloadBytes(res)
	if opts.output != "" {
		if err := os.WriteFile(opts.output, data, 0o600); err != nil {
			return fmt.Errorf("write output file: %w", err)
		}
	}
	if opts.downloadDir != "" {
		path := filepath.Join(opts.downloadDir, name)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		slog.Info("Saved extracted text", "source", p.Name, "file", path)
	}
	return nil
}

func newExtractOutput(name string, res *extract.Result) extractOutput {
	return extractOutput{
		Source:         name,
		Text:           res.Text,
		DetectionCount: res.DetectionCount,
		AcceptedCount:  res.Accepted,
		Threshold:      res.Threshold,
		NoText:         res.NoText(),
		Statistics:     res.Statistics(),
		Format:         res.Format,
		Width:          res.Width,
		Height:         res.Height,
		ProcessingMs:   res.Duration.Round(time.Millisecond).Milliseconds(),
	}
}

func render(w io.Writer, format string, outputs []extractOutput) error {
	switch format {
	case config.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if len(outputs) == 1 {
			return enc.Encode(outputs[0])
		}
		if outputs == nil {
			outputs = []extractOutput{}
		}
		return enc.Encode(outputs)

	case config.FormatStats:
		for i, o := range outputs {
			if len(outputs) > 1 {
				if i > 0 {
					_, _ = fmt.Fprintln(w)
				}
				_, _ = fmt.Fprintf(w, "Source: %s\n", o.Source)
			}
			_, _ = fmt.Fprintf(w, "Words: %d\nCharacters: %d\nLines: %d\nDetections: %d (accepted %d, threshold %.2f)\n",
				o.Statistics.Words, o.Statistics.Characters, o.Statistics.Lines,
				o.DetectionCount, o.AcceptedCount, o.Threshold)
		}
		return nil

	default:
		for _, o := range outputs {
			if len(outputs) > 1 {
				_, _ = fmt.Fprintf(w, "==> %s <==\n", o.Source)
			}
			if o.NoText {
				continue
			}
			_, _ = fmt.Fprintln(w, o.Text)
		}
		return nil
	}
}
