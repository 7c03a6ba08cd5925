package textnorm

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

func init() {
	message.CharsetReader = charsetReader
}

// charsetReader converts input from the declared charset to UTF-8. Unknown
// labels are treated as UTF-8 and invalid sequences become U+FFFD, so decoding
// never fails.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(strings.TrimSpace(label))
	if err != nil {
		return sanitizeReader(input), nil
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

// sanitizeReader replaces invalid UTF-8 in input with U+FFFD.
func sanitizeReader(input io.Reader) io.Reader {
	data, err := io.ReadAll(input)
	if err != nil && len(data) == 0 {
		return bytes.NewReader(nil)
	}
	if utf8.Valid(data) {
		return bytes.NewReader(data)
	}
	return strings.NewReader(strings.ToValidUTF8(string(data), "\uFFFD"))
}
