package source

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestDecodeBase64_AcceptsEveryAlphabet(t *testing.T) {
	properties := gopter.NewProperties(nil)
	encodings := []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	}

	properties.Property("encoded payloads decode to the original bytes", prop.ForAll(
		func(data []byte, which int) bool {
			if len(data) == 0 {
				return true
			}
			enc := encodings[which].EncodeToString(data)
			got, err := DecodeBase64(enc)
			if err != nil {
				return false
			}
			viaURL, err := DecodeBase64("data:image/png;base64," + enc)
			return err == nil && bytes.Equal(got, data) && bytes.Equal(viaURL, data)
		},
		gen.SliceOf(gen.UInt8()),
		gen.IntRange(0, len(encodings)-1),
	))

	properties.TestingRun(t)
}
