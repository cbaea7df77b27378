package support

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/textgrab/internal/testutil"
	"github.com/cucumber/godog"
	"github.com/disintegration/imaging"
)

// RegisterSteps wires every step of the suite.
func (testCtx *TestContext) RegisterSteps(sc *godog.ScenarioContext) {
	// Recognizer script
	sc.Step(`^the recognizer returns:$`, testCtx.theRecognizerReturns)
	sc.Step(`^the recognizer fails with "([^"]*)"$`, testCtx.theRecognizerFailsWith)

	// Files
	sc.Step(`^an image file "([^"]*)"$`, testCtx.anImageFile)
	sc.Step(`^a corrupt image file "([^"]*)"$`, testCtx.aCorruptImageFile)
	sc.Step(`^a text file "([^"]*)"$`, testCtx.aTextFile)
	sc.Step(`^a config file "([^"]*)" with:$`, testCtx.aConfigFileWith)

	// Commands
	sc.Step("^I run `textgrab ([^`]*)`$", testCtx.iRunTextgrab)
	sc.Step(`^I extract a PNG pasted as a data URL$`, testCtx.iExtractADataURL)

	// Outcomes
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
	sc.Step(`^the error should contain "([^"]*)"$`, testCtx.theErrorShouldContain)
	sc.Step(`^stdout should be:$`, testCtx.stdoutShouldBe)
	sc.Step(`^stdout should be empty$`, testCtx.stdoutShouldBeEmpty)
	sc.Step(`^stdout should contain "([^"]*)"$`, testCtx.stdoutShouldContain)
	sc.Step(`^stdout should not contain "([^"]*)"$`, testCtx.stdoutShouldNotContain)
	sc.Step(`^stderr should contain "([^"]*)"$`, testCtx.stderrShouldContain)
	sc.Step(`^the file "([^"]*)" should contain:$`, testCtx.theFileShouldContain)
	sc.Step(`^the file "([^"]*)" should be empty$`, testCtx.theFileShouldBeEmpty)
	sc.Step(`^the recognizer should have been called (\d+) times?$`, testCtx.theRecognizerShouldHaveBeenCalled)
}

func (testCtx *TestContext) theRecognizerReturns(table *godog.Table) error {
	if len(table.Rows) < 2 {
		return errors.New("table needs a header and at least one row")
	}
	pairs := make([]testutil.Pair, 0, len(table.Rows)-1)
	for _, row := range table.Rows[1:] {
		if len(row.Cells) != 2 {
			return fmt.Errorf("expected | text | confidence | rows, got %d cells", len(row.Cells))
		}
		conf, err := strconv.ParseFloat(row.Cells[1].Value, 64)
		if err != nil {
			return fmt.Errorf("confidence %q: %w", row.Cells[1].Value, err)
		}
		pairs = append(pairs, testutil.Pair{Text: row.Cells[0].Value, Confidence: conf})
	}
	testCtx.setStub(testutil.NewStub(pairs...))
	return nil
}

func (testCtx *TestContext) theRecognizerFailsWith(msg string) error {
	s := testutil.NewStub()
	s.Err = errors.New(msg)
	testCtx.setStub(s)
	return nil
}

func (testCtx *TestContext) write(name string, data []byte) error {
	path := testCtx.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// anImageFile writes a small white image. The encoder follows the
// extension, so only formats imaging can write are accepted.
func (testCtx *TestContext) anImageFile(name string) error {
	path := testCtx.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return imaging.Save(imaging.New(64, 32, color.White), path)
}

func (testCtx *TestContext) aCorruptImageFile(name string) error {
	return testCtx.write(name, testutil.TruncatedPNG())
}

func (testCtx *TestContext) aTextFile(name string) error {
	return testCtx.write(name, []byte("not an image\n"))
}

func (testCtx *TestContext) aConfigFileWith(name string, doc *godog.DocString) error {
	return testCtx.write(name, []byte(doc.Content))
}

func (testCtx *TestContext) iRunTextgrab(args string) error {
	testCtx.Run(strings.Fields(args)...)
	return nil
}

func (testCtx *TestContext) iExtractADataURL() error {
	img := imaging.New(64, 32, color.White)
	var buf strings.Builder
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return err
	}
	testCtx.Run("extract", testutil.DataURL("image/png", []byte(buf.String())))
	return nil
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastErr != nil {
		return fmt.Errorf("command failed: %w\nstderr:\n%s", testCtx.LastErr, testCtx.LastStderr)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastErr == nil {
		return fmt.Errorf("command succeeded, stdout:\n%s", testCtx.LastStdout)
	}
	return nil
}

func (testCtx *TestContext) theErrorShouldContain(want string) error {
	if testCtx.LastErr == nil {
		return errors.New("command did not fail")
	}
	if !strings.Contains(testCtx.LastErr.Error(), want) {
		return fmt.Errorf("error %q does not contain %q", testCtx.LastErr, want)
	}
	return nil
}

func (testCtx *TestContext) stdoutShouldBe(doc *godog.DocString) error {
	want := doc.Content + "\n"
	if testCtx.LastStdout != want {
		return fmt.Errorf("stdout mismatch\nwant: %q\ngot:  %q", want, testCtx.LastStdout)
	}
	return nil
}

func (testCtx *TestContext) stdoutShouldBeEmpty() error {
	if testCtx.LastStdout != "" {
		return fmt.Errorf("expected empty stdout, got %q", testCtx.LastStdout)
	}
	return nil
}

func (testCtx *TestContext) stdoutShouldContain(want string) error {
	if !strings.Contains(testCtx.LastStdout, want) {
		return fmt.Errorf("stdout does not contain %q:\n%s", want, testCtx.LastStdout)
	}
	return nil
}

func (testCtx *TestContext) stdoutShouldNotContain(unwanted string) error {
	if strings.Contains(testCtx.LastStdout, unwanted) {
		return fmt.Errorf("stdout contains %q:\n%s", unwanted, testCtx.LastStdout)
	}
	return nil
}

func (testCtx *TestContext) stderrShouldContain(want string) error {
	if !strings.Contains(testCtx.LastStderr, want) {
		return fmt.Errorf("stderr does not contain %q:\n%s", want, testCtx.LastStderr)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldContain(name string, doc *godog.DocString) error {
	data, err := os.ReadFile(testCtx.Path(name))
	if err != nil {
		return err
	}
	if string(data) != doc.Content {
		return fmt.Errorf("%s mismatch\nwant: %q\ngot:  %q", name, doc.Content, data)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldBeEmpty(name string) error {
	info, err := os.Stat(testCtx.Path(name))
	if err != nil {
		return err
	}
	if info.Size() != 0 {
		return fmt.Errorf("%s has %d bytes", name, info.Size())
	}
	return nil
}

func (testCtx *TestContext) theRecognizerShouldHaveBeenCalled(n int) error {
	if got := testCtx.Stub.Calls(); got != n {
		return fmt.Errorf("recognizer called %d times, want %d", got, n)
	}
	return nil
}
