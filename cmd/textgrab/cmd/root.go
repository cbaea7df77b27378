package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/textgrab/internal/config"
	"github.com/MeKo-Tech/textgrab/internal/extract"
	"github.com/MeKo-Tech/textgrab/internal/recognizer"
	"github.com/MeKo-Tech/textgrab/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Recognizer backends register themselves.
	_ "github.com/MeKo-Tech/textgrab/internal/recognizer/onnx"
	_ "github.com/MeKo-Tech/textgrab/internal/recognizer/tesseract"
)

// EnvModelsDir overrides the default models directory.
const EnvModelsDir = "TEXTGRAB_MODELS_DIR"

// app carries the state shared by all commands of one invocation.
type app struct {
	v       *viper.Viper
	loader  *config.Loader
	cfg     *config.Config
	cfgFile string
	stdin   io.Reader

	// newRecognizer builds the backend named in the configuration.
	newRecognizer func(name string, opts recognizer.Options) (recognizer.Recognizer, error)
}

func newApp(v *viper.Viper) *app {
	return &app{
		v:             v,
		loader:        config.NewLoaderWithViper(v),
		stdin:         os.Stdin,
		newRecognizer: recognizer.New,
	}
}

// NewRootCommand builds the command tree on top of v.
func NewRootCommand(v *viper.Viper) *cobra.Command {
	return newApp(v).rootCommand()
}

// Execute runs the CLI with the global viper instance. It is called by
// main.main and exits non-zero on error.
func Execute() {
	if err := NewRootCommand(viper.GetViper()).Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "textgrab",
		Short: "Extract text from images with OCR",
		Long: `textgrab reads PNG, JPEG or WEBP images, runs them through an OCR
backend and returns the recognized text, keeping only detections whose
confidence is above a threshold.

It can be used as a one-shot command or as an HTTP service:
  textgrab extract receipt.png
  textgrab extract --format stats scan.jpg
  textgrab extract --download-dir out/ *.png
  textgrab serve --port 8080`,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.setup(cmd) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			if v, _ := cmd.Flags().GetBool("version"); v {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "textgrab "+version.String())
				return nil
			}
			return cmd.Help()
		},
	}

	defaults := config.DefaultConfig()
	modelsDir := defaults.Recognizer.ModelsDir
	if env := os.Getenv(EnvModelsDir); env != "" {
		modelsDir = env
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is search in ., $HOME/.config/textgrab, /etc/textgrab)")
	pf.BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	pf.String("log-level", defaults.LogLevel, "log level (debug, info, warn, error)")
	pf.String("backend", defaults.Recognizer.Backend, fmt.Sprintf("recognizer backend %v", recognizer.Backends()))
	pf.StringSlice("languages", defaults.Recognizer.Languages, "recognition languages as BCP 47 tags")
	pf.Bool("use-accelerator", defaults.Recognizer.UseAccelerator, "use a GPU when the backend supports it")
	pf.String("models-dir", modelsDir, "directory containing model files (also "+EnvModelsDir+")")
	root.Flags().Bool("version", false, "print version information and exit")

	for key, flag := range map[string]string{
		"verbose":                    "verbose",
		"log_level":                  "log-level",
		"recognizer.backend":         "backend",
		"recognizer.languages":       "languages",
		"recognizer.use_accelerator": "use-accelerator",
		"recognizer.models_dir":      "models-dir",
	} {
		_ = a.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(a.extractCommand(), a.serveCommand(), a.configCommand(), versionCommand())
	return root
}

// setup loads the configuration and installs the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := a.loader.LoadWithFile(a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	slog.SetDefault(slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel(cfg),
	})))
	return nil
}

func logLevel(cfg *config.Config) slog.Level {
	if cfg.Verbose {
		return slog.LevelDebug
	}
	switch cfg.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newPipeline initializes the configured recognizer once and wraps it.
func (a *app) newPipeline(ecfg extract.Config) (*extract.Pipeline, error) {
	rec, err := a.newRecognizer(a.cfg.Recognizer.Backend, a.cfg.RecognizerOptions())
	if err != nil {
		return nil, err
	}
	p, err := extract.NewBuilder(rec).WithConfig(ecfg).Build()
	if err != nil {
		_ = rec.Close()
		return nil, err
	}
	return p, nil
}
