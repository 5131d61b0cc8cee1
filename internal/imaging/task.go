package imaging

import (
	"context"
	"fmt"
	"os"
)

// TransformService is the remote collaborator that actually shrinks or
// re-encodes image bytes. Implemented by the tinify client; tests plug
// in fakes.
type TransformService interface {
	// Compress submits src and returns the recompressed bytes in the
	// same format.
	Compress(ctx context.Context, src []byte) ([]byte, error)
	// Convert submits src and returns bytes re-encoded into format.
	Convert(ctx context.Context, src []byte, format Format) ([]byte, error)
}

// Outcome is the result of one file's transform. Exactly one Outcome is
// produced per eligible file; skipped entries never produce one.
type Outcome struct {
	// Source is the entry name inside the source directory.
	Source string
	// Dest is the resolved destination path. Empty when resolution failed.
	Dest string
	// Mode records which transform was attempted.
	Mode Mode
	// Err is nil on success. Any read, remote or write failure lands
	// here instead of propagating out of the task.
	Err error
	// BytesIn and BytesOut measure the transform when it succeeded.
	BytesIn  int64
	BytesOut int64
}

// Success reports whether the transform completed.
func (o Outcome) Success() bool {
	return o.Err == nil
}

// task carries everything one file needs to be transformed.
type task struct {
	sourceName string
	sourcePath string
	destPath   string
	op         OperationConfig
	service    TransformService
}

// run performs the transform and converts every failure into the
// returned Outcome. It never panics past its boundary and never aborts
// sibling tasks.
func (t *task) run(ctx context.Context) Outcome {
	outcome := Outcome{Source: t.sourceName, Dest: t.destPath, Mode: t.op.Mode}

	src, err := os.ReadFile(t.sourcePath)
	if err != nil {
		outcome.Err = fmt.Errorf("failed to read source: %w", err)
		return outcome
	}
	outcome.BytesIn = int64(len(src))

	var out []byte
	switch t.op.Mode {
	case ModeCompress:
		out, err = t.service.Compress(ctx, src)
	case ModeConvert:
		out, err = t.service.Convert(ctx, src, t.op.Format)
	default:
		err = fmt.Errorf("unknown mode %v", t.op.Mode)
	}
	if err != nil {
		outcome.Err = err
		return outcome
	}

	if err := os.WriteFile(t.destPath, out, 0644); err != nil {
		outcome.Err = fmt.Errorf("failed to write destination: %w", err)
		return outcome
	}
	outcome.BytesOut = int64(len(out))
	return outcome
}
