// Package support holds the godog step definitions for the CLI suite.
// Scenarios run the real command tree in-process with the "stub" backend,
// a scripted recognizer registered by this package.
package support

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"

	"github.com/MeKo-Tech/textgrab/cmd/textgrab/cmd"
	"github.com/MeKo-Tech/textgrab/internal/recognizer"
	"github.com/MeKo-Tech/textgrab/internal/testutil"
	"github.com/spf13/viper"
)

// StubBackend is the backend name scenarios pass with --backend.
const StubBackend = "stub"

var (
	stubMu sync.Mutex
	stub   *testutil.StubRecognizer
)

func init() {
	recognizer.Register(StubBackend, func(recognizer.Options) (recognizer.Recognizer, error) {
		stubMu.Lock()
		defer stubMu.Unlock()
		return stub, nil
	})
}

// TestContext holds the state of one scenario.
type TestContext struct {
	Stub    *testutil.StubRecognizer
	WorkDir string

	LastStdout   string
	LastStderr   string
	LastErr      error
	LastExitCode int

	oldDir    string
	oldXDG    string
	hadOldXDG bool
}

// NewTestContext creates a scratch directory, makes it the working
// directory and points config lookup at it. The stub detects nothing.
func NewTestContext() (*TestContext, error) {
	dir, err := os.MkdirTemp("", "textgrab-cli-*")
	if err != nil {
		return nil, err
	}
	oldDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if err := os.Chdir(dir); err != nil {
		return nil, err
	}
	testCtx := &TestContext{WorkDir: dir, oldDir: oldDir}
	testCtx.oldXDG, testCtx.hadOldXDG = os.LookupEnv("XDG_CONFIG_HOME")
	if err := os.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg")); err != nil {
		return nil, err
	}
	testCtx.setStub(testutil.NewStub())
	return testCtx, nil
}

func (testCtx *TestContext) setStub(s *testutil.StubRecognizer) {
	stubMu.Lock()
	defer stubMu.Unlock()
	testCtx.Stub = s
	stub = s
}

// Path resolves a slash separated name inside the scratch directory.
func (testCtx *TestContext) Path(name string) string {
	return filepath.Join(testCtx.WorkDir, filepath.FromSlash(name))
}

// Run executes textgrab with args. The stub backend is selected unless the
// scenario passes its own --backend.
func (testCtx *TestContext) Run(args ...string) {
	full := append([]string{}, args...)
	if len(full) > 0 && full[0] == "extract" && !hasFlag(full, "--backend") {
		full = append(full, "--backend", StubBackend)
	}

	root := cmd.NewRootCommand(viper.New())
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(full)

	testCtx.LastErr = root.Execute()
	testCtx.LastStdout = stdout.String()
	testCtx.LastStderr = stderr.String()
	testCtx.LastExitCode = 0
	if testCtx.LastErr != nil {
		testCtx.LastExitCode = 1
	}
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag || len(a) > len(flag) && a[:len(flag)+1] == flag+"=" {
			return true
		}
	}
	return false
}

// Cleanup removes the scratch directory and restores the environment.
func (testCtx *TestContext) Cleanup() error {
	if err := os.Chdir(testCtx.oldDir); err != nil {
		return err
	}
	if testCtx.hadOldXDG {
		_ = os.Setenv("XDG_CONFIG_HOME", testCtx.oldXDG)
	} else {
		_ = os.Unsetenv("XDG_CONFIG_HOME")
	}
	return os.RemoveAll(testCtx.WorkDir)
}
