// Package loader maps file types to text extraction implementations.
package loader

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrUnsupportedFileType is returned when no registered loader supports the
// requested file type.
var ErrUnsupportedFileType = errors.New("unsupported file type")

// Loader extracts plain text from a raw document stream.
type Loader interface {
	// Supports reports whether this loader handles the given file type
	// (a lowercase extension without the dot, e.g. "txt").
	Supports(fileType string) bool
	// Load reads the whole stream and returns its textual content.
	Load(r io.Reader) (string, error)
}

// Registry selects loaders by file type, first match wins.
type Registry struct {
	loaders []Loader
}

// NewRegistry returns a registry with the default loaders (plain text and
// PDF) plus any extras, which take precedence over the defaults.
func NewRegistry(extra ...Loader) *Registry {
	loaders := append([]Loader{}, extra...)
	loaders = append(loaders, &TextLoader{}, &PDFLoader{})
	return &Registry{loaders: loaders}
}

// Get returns the first loader supporting fileType.
func (r *Registry) Get(fileType string) (Loader, error) {
	fileType = strings.ToLower(strings.TrimSpace(fileType))
	for _, l := range r.loaders {
		if l.Supports(fileType) {
			return l, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFileType, fileType)
}

// Supports reports whether any registered loader handles fileType.
func (r *Registry) Supports(fileType string) bool {
	_, err := r.Get(fileType)
	return err == nil
}

// FileExtension returns the lowercase extension of fileName without the
// dot, or "" when there is none.
func FileExtension(fileName string) string {
	idx := strings.LastIndexByte(fileName, '.')
	if idx <= 0 || idx == len(fileName)-1 {
		return ""
	}
	return strings.ToLower(fileName[idx+1:])
}
