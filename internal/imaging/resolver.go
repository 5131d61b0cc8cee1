package imaging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Resolver computes output paths and lazily creates the output
// directory for each mode. A directory is only ever created once a file
// is actually about to be written into it, so a batch with zero
// eligible files leaves the filesystem untouched.
type Resolver interface {
	// Resolve returns the destination path for sourceName under the
	// given operation, creating the mode's output directory on first use.
	Resolve(sourceName string, op OperationConfig) (string, error)
}

// resolver implements the Resolver interface.
type resolver struct {
	compressedDir string
	convertedDir  string

	compressedOnce sync.Once
	convertedOnce  sync.Once
	compressedErr  error
	convertedErr   error
}

// NewResolver creates a Resolver writing into the two given directories.
func NewResolver(compressedDir, convertedDir string) Resolver {
	return &resolver{
		compressedDir: compressedDir,
		convertedDir:  convertedDir,
	}
}

// Resolve returns the destination path for sourceName under the given operation.
func (r *resolver) Resolve(sourceName string, op OperationConfig) (string, error) {
	switch op.Mode {
	case ModeCompress:
		r.compressedOnce.Do(func() {
			r.compressedErr = os.MkdirAll(r.compressedDir, 0755)
		})
		if r.compressedErr != nil {
			return "", fmt.Errorf("failed to create output directory %s: %w", r.compressedDir, r.compressedErr)
		}
		return filepath.Join(r.compressedDir, sourceName), nil

	case ModeConvert:
		r.convertedOnce.Do(func() {
			r.convertedErr = os.MkdirAll(r.convertedDir, 0755)
		})
		if r.convertedErr != nil {
			return "", fmt.Errorf("failed to create output directory %s: %w", r.convertedDir, r.convertedErr)
		}
		return filepath.Join(r.convertedDir, replaceExt(sourceName, op.Format.Ext())), nil

	default:
		return "", fmt.Errorf("unknown mode %v", op.Mode)
	}
}

// replaceExt swaps the final extension of name for newExt. A name with
// no extension gets newExt appended, matching the suffix rule the
// classifier uses.
func replaceExt(name, newExt string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + newExt
}
