package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"net/http"
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
	sc.Step(`^the recognizer finds nothing$`, testCtx.theRecognizerFindsNothing)
	sc.Step(`^the recognizer fails with "([^"]*)"$`, testCtx.theRecognizerFailsWith)

	// Server
	sc.Step(`^the server is running$`, testCtx.StartServer)
	sc.Step(`^the server is running with an upload limit of (\d+) MB$`, testCtx.theServerIsRunningWithUploadLimit)

	// Requests
	sc.Step(`^the query parameter "([^"]*)" is "([^"]*)"$`, testCtx.theQueryParameterIs)
	sc.Step(`^I upload a (PNG|JPEG) image named "([^"]*)" to "([^"]*)"$`, testCtx.iUploadAnImageNamed)
	sc.Step(`^I upload a corrupt image to "([^"]*)"$`, testCtx.iUploadACorruptImage)
	sc.Step(`^I upload an image of (\d+) MB to "([^"]*)"$`, testCtx.iUploadAnImageOfMB)
	sc.Step(`^I paste a base64 image to "([^"]*)"$`, testCtx.iPasteABase64Image)
	sc.Step(`^I POST to "([^"]*)" without an image$`, testCtx.iPOSTWithoutAnImage)
	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)

	// Responses
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response body should be exactly:$`, testCtx.theResponseBodyShouldBeExactly)
	sc.Step(`^the response body should be empty$`, testCtx.theResponseBodyShouldBeEmpty)
	sc.Step(`^the response JSON should be:$`, testCtx.theResponseJSONShouldBe)
	sc.Step(`^the extracted text should be:$`, testCtx.theExtractedTextShouldBe)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONFieldShouldBe)
	sc.Step(`^the JSON field "([^"]*)" should be (true|false|-?\d+(?:\.\d+)?)$`, testCtx.theJSONFieldShouldBeValue)
	sc.Step(`^the response header "([^"]*)" should be "(.*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the response header "([^"]*)" should not be empty$`, testCtx.theResponseHeaderShouldNotBeEmpty)
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
			return fmt.Errorf("invalid confidence %q: %w", row.Cells[1].Value, err)
		}
		pairs = append(pairs, testutil.Pair{Text: row.Cells[0].Value, Confidence: conf})
	}
	testCtx.Stub = testutil.NewStub(pairs...)
	return nil
}

func (testCtx *TestContext) theRecognizerFindsNothing() error {
	testCtx.Stub = testutil.NewStub()
	return nil
}

func (testCtx *TestContext) theRecognizerFailsWith(msg string) error {
	testCtx.Stub = testutil.NewStub()
	testCtx.Stub.Err = errors.New(msg)
	return nil
}

func (testCtx *TestContext) theServerIsRunningWithUploadLimit(limit int) error {
	testCtx.ServerConfig.MaxUploadMB = int64(limit)
	return testCtx.StartServer()
}

func (testCtx *TestContext) theQueryParameterIs(key, value string) error {
	testCtx.Query.Set(key, value)
	return nil
}

func (testCtx *TestContext) iUploadAnImageNamed(kind, filename, endpoint string) error {
	format := imaging.PNG
	if kind == "JPEG" {
		format = imaging.JPEG
	}
	data, err := sampleImage(format)
	if err != nil {
		return err
	}
	return testCtx.postMultipart(endpoint, nil, filename, data)
}

// sampleImage encodes a blank 64x32 image.
func sampleImage(format imaging.Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, testutil.SolidImage(64, 32, color.White), format); err != nil {
		return nil, fmt.Errorf("encode sample image: %w", err)
	}
	return buf.Bytes(), nil
}

func (testCtx *TestContext) iUploadACorruptImage(endpoint string) error {
	return testCtx.postMultipart(endpoint, nil, "broken.png", testutil.TruncatedPNG())
}

func (testCtx *TestContext) iUploadAnImageOfMB(size int, endpoint string) error {
	data := bytes.Repeat([]byte{0}, size*1024*1024+1)
	copy(data, testutil.TruncatedPNG())
	return testCtx.postMultipart(endpoint, nil, "huge.png", data)
}

func (testCtx *TestContext) iPasteABase64Image(endpoint string) error {
	data, err := sampleImage(imaging.PNG)
	if err != nil {
		return err
	}
	pasted := testutil.DataURL("image/png", data)
	return testCtx.postMultipart(endpoint, map[string]string{"image_base64": pasted}, "", nil)
}

func (testCtx *TestContext) iPOSTWithoutAnImage(endpoint string) error {
	return testCtx.postMultipart(endpoint, map[string]string{"note": "no file"}, "", nil)
}

func (testCtx *TestContext) iGET(endpoint string) error {
	return testCtx.do(http.MethodGet, endpoint, "", nil)
}

func (testCtx *TestContext) theResponseStatusShouldBe(status int) error {
	if testCtx.LastStatusCode != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, testCtx.LastStatusCode, testCtx.LastBody)
	}
	return nil
}

func (testCtx *TestContext) theResponseBodyShouldBeExactly(doc *godog.DocString) error {
	if got := string(testCtx.LastBody); got != doc.Content {
		return fmt.Errorf("expected body %q, got %q", doc.Content, got)
	}
	return nil
}

func (testCtx *TestContext) theResponseBodyShouldBeEmpty() error {
	if len(testCtx.LastBody) != 0 {
		return fmt.Errorf("expected empty body, got %q", testCtx.LastBody)
	}
	return nil
}

func (testCtx *TestContext) theResponseJSONShouldBe(doc *godog.DocString) error {
	var want, got any
	if err := json.Unmarshal([]byte(doc.Content), &want); err != nil {
		return fmt.Errorf("expected JSON is invalid: %w", err)
	}
	if err := json.Unmarshal(testCtx.LastBody, &got); err != nil {
		return fmt.Errorf("response is not JSON: %w: %s", err, testCtx.LastBody)
	}
	wantJSON, _ := json.Marshal(want)
	gotJSON, _ := json.Marshal(got)
	if !bytes.Equal(wantJSON, gotJSON) {
		return fmt.Errorf("expected JSON %s, got %s", wantJSON, gotJSON)
	}
	return nil
}

func (testCtx *TestContext) theExtractedTextShouldBe(doc *godog.DocString) error {
	return testCtx.theJSONFieldShouldBe("text", doc.Content)
}

func (testCtx *TestContext) jsonField(path string) (any, error) {
	var body any
	if err := json.Unmarshal(testCtx.LastBody, &body); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}
	cur := body
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %q: %v is not an object", path, cur)
		}
		if cur, ok = obj[key]; !ok {
			return nil, fmt.Errorf("field %q missing in %s", path, testCtx.LastBody)
		}
	}
	return cur, nil
}

func (testCtx *TestContext) theJSONFieldShouldBe(path, want string) error {
	v, err := testCtx.jsonField(path)
	if err != nil {
		return err
	}
	if s, ok := v.(string); !ok || s != want {
		return fmt.Errorf("expected %s to be %q, got %#v", path, want, v)
	}
	return nil
}

func (testCtx *TestContext) theJSONFieldShouldBeValue(path, raw string) error {
	v, err := testCtx.jsonField(path)
	if err != nil {
		return err
	}
	switch raw {
	case "true", "false":
		if b, ok := v.(bool); !ok || strconv.FormatBool(b) != raw {
			return fmt.Errorf("expected %s to be %s, got %#v", path, raw, v)
		}
		return nil
	}
	want, _ := strconv.ParseFloat(raw, 64)
	if f, ok := v.(float64); !ok || f != want {
		return fmt.Errorf("expected %s to be %s, got %#v", path, raw, v)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, want string) error {
	if got := testCtx.LastHeaders.Get(name); got != want {
		return fmt.Errorf("expected header %s to be %q, got %q", name, want, got)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldNotBeEmpty(name string) error {
	if testCtx.LastHeaders.Get(name) == "" {
		return fmt.Errorf("header %s is empty", name)
	}
	return nil
}

func (testCtx *TestContext) theRecognizerShouldHaveBeenCalled(n int) error {
	if got := testCtx.Stub.Calls(); got != n {
		return fmt.Errorf("expected %d recognizer calls, got %d", n, got)
	}
	return nil
}
