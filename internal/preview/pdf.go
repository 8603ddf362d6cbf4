package preview

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// maxPDFBytes bounds how much of a PDF is buffered for text extraction.
const maxPDFBytes = 32 << 20

// ExtractText reads PDF bytes and returns the text layer, one page per line
// block, using ledongthuc/pdf.
func ExtractText(data []byte) (string, error) {
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("new pdf reader: %w", err)
	}
	var builder strings.Builder
	for page := 1; page <= doc.NumPage(); page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", page, err)
		}
		builder.WriteString(content)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

// ExtractFromReader drains r, up to maxPDFBytes, before calling ExtractText.
func ExtractFromReader(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxPDFBytes+1))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	if len(data) > maxPDFBytes {
		return "", fmt.Errorf("pdf larger than %d bytes", maxPDFBytes)
	}
	return ExtractText(data)
}
