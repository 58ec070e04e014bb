package personaldocs

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// extractText pulls plain text and the page count out of a PDF's raw bytes.
// PDF parsing itself is a library boundary: this is the only place the
// package reaches past the file's bytes into its structure.
func extractText(data []byte) (text string, pageCount int, err error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("parsing pdf: %w", err)
	}

	body, err := r.GetPlainText()
	if err != nil {
		return "", 0, fmt.Errorf("extracting pdf text: %w", err)
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return "", 0, fmt.Errorf("reading extracted pdf text: %w", err)
	}

	return string(b), r.NumPage(), nil
}
