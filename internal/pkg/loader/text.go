package loader

import (
	"fmt"
	"io"
)

// TextLoader handles plain-text formats, passing content through as is.
type TextLoader struct{}

func (l *TextLoader) Supports(fileType string) bool {
	switch fileType {
	case "txt", "md", "log", "text":
		return true
	}
	return false
}

func (l *TextLoader) Load(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read text document failed: %w", err)
	}
	return string(b), nil
}
