// Package docload extracts plain text from an uploaded document, selecting
// the loader by file extension.
package docload

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ErrUnsupportedType marks extensions no loader handles.
type ErrUnsupportedType struct {
	Filename string
}

func (e *ErrUnsupportedType) Error() string {
	return fmt.Sprintf("unsupported file type: %s", e.Filename)
}

// Load reads the whole document from r and returns its plain text.
func Load(r io.Reader, filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return extractPDF(r)
	case ".txt", ".md":
		raw, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("read text document failed: %w", err)
		}
		return string(raw), nil
	default:
		return "", &ErrUnsupportedType{Filename: filename}
	}
}
