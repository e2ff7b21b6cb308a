package tabular

import (
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DecodeText turns uploaded bytes into UTF-8 text. A leading byte order mark
// is dropped and invalid sequences become U+FFFD.
func DecodeText(data []byte) string {
	out, _, err := transform.Bytes(unicode.UTF8BOM.NewDecoder(), data)
	if err != nil {
		return string(data)
	}
	return string(out)
}
