package imaging

import (
	"path/filepath"
	"slices"
	"strings"
)

// Extensions defines the interface for file extension checks.
type Extensions interface {
	// IsEligible returns true if the entry's extension is a supported
	// image format. The check is case-insensitive and looks only at the
	// final extension.
	IsEligible(name string) bool
}

// extensions implements the Extensions interface.
type extensions struct {
	imageExts []string
}

// NewExtensions creates a new Extensions instance.
func NewExtensions() Extensions {
	return &extensions{
		imageExts: []string{".jpg", ".jpeg", ".png", ".webp"},
	}
}

// IsEligible returns true if the entry's extension is a supported image format.
func (e *extensions) IsEligible(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return slices.Contains(e.imageExts, ext)
}
