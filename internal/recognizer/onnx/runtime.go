package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// EnvLibraryPath overrides the ONNX Runtime shared library location.
const EnvLibraryPath = "TEXTGRAB_ONNXRUNTIME_LIB"

var (
	envOnce sync.Once
	envErr  error
)

// initRuntime locates the shared library and initializes the process wide
// ONNX Runtime environment. Only the first call has any effect.
func initRuntime(explicit string, useGPU bool) error {
	envOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		lib, err := resolveLibrary(explicit, useGPU)
		if err != nil {
			envErr = err
			return
		}
		ort.SetSharedLibraryPath(lib)
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = fmt.Errorf("initialize ONNX Runtime from %s: %w", lib, err)
			return
		}
		slog.Debug("ONNX Runtime initialized", "library", lib)
	})
	return envErr
}

// resolveLibrary returns the first existing library among the explicit
// path, EnvLibraryPath, well known system paths and ./onnxruntime/lib.
func resolveLibrary(explicit string, useGPU bool) (string, error) {
	name, err := libraryName()
	if err != nil {
		return "", err
	}
	candidates := make([]string, 0, 8)
	if explicit != "" {
		candidates = append(candidates, explicit)
	}
	if env := os.Getenv(EnvLibraryPath); env != "" {
		candidates = append(candidates, env)
	}
	candidates = append(candidates, systemLibraryPaths(name, useGPU)...)
	if useGPU {
		candidates = append(candidates, filepath.Join("onnxruntime", "gpu", "lib", name))
	}
	candidates = append(candidates, filepath.Join("onnxruntime", "lib", name))

	for _, p := range candidates {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("ONNX Runtime library %s not found (set %s)", name, EnvLibraryPath)
}

func systemLibraryPaths(name string, useGPU bool) []string {
	if runtime.GOOS == "windows" {
		return nil
	}
	paths := []string{
		filepath.Join("/usr/local/lib", name),
		filepath.Join("/usr/lib", name),
		filepath.Join("/opt/onnxruntime/cpu/lib", name),
	}
	if useGPU {
		paths = append([]string{filepath.Join("/opt/onnxruntime/gpu/lib", name)}, paths...)
	}
	return paths
}

func libraryName() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so", nil
	case "darwin":
		return "libonnxruntime.dylib", nil
	case "windows":
		return "onnxruntime.dll", nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// session wraps a single input, single output model.
type session struct {
	s      *ort.DynamicAdvancedSession
	input  ort.InputOutputInfo
	output ort.InputOutputInfo
}

type sessionOptions struct {
	threads  int
	useGPU   bool
	deviceID int
}

func newSession(modelPath string, so sessionOptions) (*session, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("read model info %s: %w", modelPath, err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("model %s: expected 1 input and 1 output, got %d and %d",
			modelPath, len(inputs), len(outputs))
	}
	if len(inputs[0].Dimensions) != 4 {
		return nil, fmt.Errorf("model %s: expected 4D input, got %dD", modelPath, len(inputs[0].Dimensions))
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer func() { _ = opts.Destroy() }()

	if so.useGPU {
		if err := appendCUDA(opts, so.deviceID); err != nil {
			return nil, err
		}
	}
	if so.threads > 0 {
		if err := opts.SetIntraOpNumThreads(so.threads); err != nil {
			return nil, fmt.Errorf("set thread count: %w", err)
		}
	}

	s, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", modelPath, err)
	}
	return &session{s: s, input: inputs[0], output: outputs[0]}, nil
}

func appendCUDA(opts *ort.SessionOptions, deviceID int) error {
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("create CUDA provider options (GPU may not be available): %w", err)
	}
	defer func() { _ = cuda.Destroy() }()

	if err := cuda.Update(map[string]string{
		"device_id":                 strconv.Itoa(deviceID),
		"arena_extend_strategy":     "kNextPowerOfTwo",
		"cudnn_conv_algo_search":    "DEFAULT",
		"do_copy_in_default_stream": "1",
	}); err != nil {
		return fmt.Errorf("update CUDA provider options: %w", err)
	}
	if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
		return fmt.Errorf("append CUDA execution provider: %w", err)
	}
	return nil
}

// run feeds one NCHW float tensor and returns the output data and shape.
func (s *session) run(data []float32, shape ...int64) ([]float32, []int64, error) {
	if s == nil || s.s == nil {
		return nil, nil, errors.New("session is closed")
	}
	in, err := ort.NewTensor(ort.NewShape(shape...), data)
	if err != nil {
		return nil, nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer func() { _ = in.Destroy() }()

	outputs := []ort.Value{nil}
	if err := s.s.Run([]ort.Value{in}, outputs); err != nil {
		return nil, nil, fmt.Errorf("inference failed: %w", err)
	}
	out := outputs[0]
	defer func() { _ = out.Destroy() }()

	ft, ok := out.(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("expected float32 output, got %T", out)
	}
	return append([]float32(nil), ft.GetData()...), append([]int64(nil), out.GetShape()...), nil
}

func (s *session) destroy() error {
	if s == nil || s.s == nil {
		return nil
	}
	err := s.s.Destroy()
	s.s = nil
	return err
}
