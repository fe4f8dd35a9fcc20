// internal/intent/fuzz_test.go
package intent

import (
	"strings"
	"testing"

	gofuzzheaders "github.com/AdaLogics/go-fuzz-headers"
)

// FuzzTextExtraction hammers the free-text helpers the mapper leans on.
// Whatever the input, extraction must not panic and extracted fragments must
// actually come from the input.
func FuzzTextExtraction(f *testing.F) {
	f.Add([]byte(`type "hello world" into the comment box`))
	f.Add([]byte("search for mechanical keyboards"))
	f.Add([]byte("navigate to example.com/checkout?a=1"))
	f.Add([]byte(`'unbalanced "quotes' everywhere"`))

	f.Fuzz(func(t *testing.T, data []byte) {
		fuzz := gofuzzheaders.NewConsumer(data)
		text, err := fuzz.GetString()
		if err != nil {
			return
		}

		if quoted := ExtractQuotedText(text); quoted != "" && !strings.Contains(text, quoted) {
			t.Errorf("quoted fragment %q not present in input %q", quoted, text)
		}
		if query := ExtractSearchQuery(text); query != "" && !strings.Contains(text, query) {
			t.Errorf("search query %q not present in input %q", query, text)
		}
		withScheme := EnsureScheme(text)
		if !strings.HasPrefix(withScheme, "http://") && !strings.HasPrefix(withScheme, "https://") {
			t.Errorf("EnsureScheme(%q) = %q lacks a scheme", text, withScheme)
		}
	})
}
