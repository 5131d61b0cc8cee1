package imaging

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeService simulates the remote service. Failures are keyed by the
// submitted bytes so tests can fail specific files.
type fakeService struct {
	mu        sync.Mutex
	failOn    map[string]error
	calls     int
	inFlight  atomic.Int64
	maxSeen   atomic.Int64
	transform func(src []byte) []byte
}

func newFakeService() *fakeService {
	return &fakeService{
		failOn:    make(map[string]error),
		transform: func(src []byte) []byte { return append([]byte("shrunk:"), src...) },
	}
}

func (s *fakeService) Compress(ctx context.Context, src []byte) ([]byte, error) {
	return s.handle(src)
}

func (s *fakeService) Convert(ctx context.Context, src []byte, format Format) ([]byte, error) {
	return s.handle(src)
}

func (s *fakeService) handle(src []byte) ([]byte, error) {
	current := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		max := s.maxSeen.Load()
		if current <= max || s.maxSeen.CompareAndSwap(max, current) {
			break
		}
	}

	s.mu.Lock()
	s.calls++
	err := s.failOn[string(src)]
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return s.transform(src), nil
}

func writeSourceFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0644); err != nil {
			t.Fatalf("Failed to create source file %s: %v", name, err)
		}
	}
}

func newTestDispatcher(t *testing.T, service TransformService, opts DispatcherOptions) (Dispatcher, string, string) {
	t.Helper()
	tmpDir := t.TempDir()
	compressedDir := filepath.Join(tmpDir, "Compressed")
	convertedDir := filepath.Join(tmpDir, "Converted")
	resolver := NewResolver(compressedDir, convertedDir)
	return NewDispatcher(service, resolver, opts), compressedDir, convertedDir
}

func TestDispatcher_CompressBatch(t *testing.T) {
	sourceDir := t.TempDir()
	writeSourceFiles(t, sourceDir, "a.png", "b.JPG", "notes.txt")

	service := newFakeService()
	d, compressedDir, _ := newTestDispatcher(t, service, DispatcherOptions{MaxConcurrent: 2})

	summary, err := d.Run(context.Background(), sourceDir, OperationConfig{Mode: ModeCompress})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Eligible != 2 || summary.Succeeded != 2 || summary.Failed != 0 {
		t.Errorf("Unexpected summary: %+v", summary)
	}
	if summary.Skipped != 1 {
		t.Errorf("Expected 1 skipped entry, got %d", summary.Skipped)
	}

	// Compression keeps the base name exactly.
	data, err := os.ReadFile(filepath.Join(compressedDir, "b.JPG"))
	if err != nil {
		t.Fatalf("Expected compressed output for b.JPG: %v", err)
	}
	if !bytes.Equal(data, []byte("shrunk:b.JPG")) {
		t.Errorf("Unexpected output bytes: %q", data)
	}
}

func TestDispatcher_ConvertBatch(t *testing.T) {
	sourceDir := t.TempDir()
	writeSourceFiles(t, sourceDir, "photo.png", "archive.tar.png")

	service := newFakeService()
	d, _, convertedDir := newTestDispatcher(t, service, DispatcherOptions{MaxConcurrent: 2})

	summary, err := d.Run(context.Background(), sourceDir, OperationConfig{Mode: ModeConvert, Format: FormatWebP})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Succeeded != 2 {
		t.Fatalf("Expected 2 successes, got %+v", summary)
	}

	// Only the final extension changes.
	for _, name := range []string{"photo.webp", "archive.tar.webp"} {
		if _, err := os.Stat(filepath.Join(convertedDir, name)); err != nil {
			t.Errorf("Expected converted output %s: %v", name, err)
		}
	}
}

func TestDispatcher_FailureIsolation(t *testing.T) {
	sourceDir := t.TempDir()
	writeSourceFiles(t, sourceDir, "a.png", "b.png", "c.png")

	service := newFakeService()
	service.failOn["b.png"] = fmt.Errorf("service rejected request")

	d, compressedDir, _ := newTestDispatcher(t, service, DispatcherOptions{MaxConcurrent: 3})

	summary, err := d.Run(context.Background(), sourceDir, OperationConfig{Mode: ModeCompress})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Succeeded != 2 || summary.Failed != 1 {
		t.Fatalf("Expected 2 successes and 1 failure, got %+v", summary)
	}
	if len(summary.Outcomes) != 3 {
		t.Fatalf("Expected all 3 outcomes reported, got %d", len(summary.Outcomes))
	}

	outcomes := make(map[string]bool)
	for _, o := range summary.Outcomes {
		outcomes[o.Source] = o.Success()
	}
	if !outcomes["a.png"] || outcomes["b.png"] || !outcomes["c.png"] {
		t.Errorf("Unexpected per-file outcomes: %v", outcomes)
	}

	// The failing file left no output; its siblings did.
	if _, err := os.Stat(filepath.Join(compressedDir, "a.png")); err != nil {
		t.Errorf("Expected output for a.png: %v", err)
	}
	if _, err := os.Stat(filepath.Join(compressedDir, "b.png")); !os.IsNotExist(err) {
		t.Errorf("Expected no output for failed b.png")
	}
}

func TestDispatcher_ZeroEligibleFiles(t *testing.T) {
	sourceDir := t.TempDir()
	writeSourceFiles(t, sourceDir, "readme.md", "data.csv", "movie.mp4")

	service := newFakeService()
	d, compressedDir, convertedDir := newTestDispatcher(t, service, DispatcherOptions{MaxConcurrent: 2})

	summary, err := d.Run(context.Background(), sourceDir, OperationConfig{Mode: ModeCompress})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Eligible != 0 || summary.Skipped != 3 {
		t.Errorf("Unexpected summary: %+v", summary)
	}
	if service.calls != 0 {
		t.Errorf("Expected zero remote calls, got %d", service.calls)
	}

	// No output directory may be created when nothing was transformed.
	for _, dir := range []string{compressedDir, convertedDir} {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Errorf("Expected %s to not be created", dir)
		}
	}
}

func TestDispatcher_SubdirectoriesAreSkipped(t *testing.T) {
	sourceDir := t.TempDir()
	writeSourceFiles(t, sourceDir, "a.png")
	// A subdirectory whose name looks like an image must still be skipped.
	if err := os.Mkdir(filepath.Join(sourceDir, "nested.png"), 0755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}

	service := newFakeService()
	d, _, _ := newTestDispatcher(t, service, DispatcherOptions{MaxConcurrent: 2})

	summary, err := d.Run(context.Background(), sourceDir, OperationConfig{Mode: ModeCompress})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Eligible != 1 || summary.Skipped != 1 {
		t.Errorf("Unexpected summary: %+v", summary)
	}
}

func TestDispatcher_MissingSourceDir(t *testing.T) {
	service := newFakeService()
	d, _, _ := newTestDispatcher(t, service, DispatcherOptions{MaxConcurrent: 2})

	_, err := d.Run(context.Background(), filepath.Join(t.TempDir(), "missing"), OperationConfig{Mode: ModeCompress})
	if err == nil {
		t.Fatal("Expected error for missing source directory")
	}
}

func TestDispatcher_BoundedConcurrency(t *testing.T) {
	sourceDir := t.TempDir()
	var names []string
	for i := 0; i < 20; i++ {
		names = append(names, fmt.Sprintf("img%02d.png", i))
	}
	writeSourceFiles(t, sourceDir, names...)

	service := newFakeService()
	d, _, _ := newTestDispatcher(t, service, DispatcherOptions{MaxConcurrent: 3})

	summary, err := d.Run(context.Background(), sourceDir, OperationConfig{Mode: ModeCompress})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Succeeded != 20 {
		t.Fatalf("Expected 20 successes, got %+v", summary)
	}
	if max := service.maxSeen.Load(); max > 3 {
		t.Errorf("Observed %d concurrent transforms, limit was 3", max)
	}
}

func TestDispatcher_ProgressEvents(t *testing.T) {
	sourceDir := t.TempDir()
	writeSourceFiles(t, sourceDir, "a.png", "b.png")

	events := make(chan ProgressEvent, 16)
	service := newFakeService()
	d, _, _ := newTestDispatcher(t, service, DispatcherOptions{MaxConcurrent: 2, Progress: events})

	if _, err := d.Run(context.Background(), sourceDir, OperationConfig{Mode: ModeCompress}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	close(events)

	count := 0
	for event := range events {
		count++
		if event.Total != 2 {
			t.Errorf("Expected total 2, got %d", event.Total)
		}
	}
	if count != 2 {
		t.Errorf("Expected 2 progress events, got %d", count)
	}
}

// recordingPreserver records preserve calls for assertions.
type recordingPreserver struct {
	mu    sync.Mutex
	calls [][2]string
}

func (p *recordingPreserver) Preserve(srcPath, destPath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, [2]string{srcPath, destPath})
	return nil
}

func TestDispatcher_PreserverRunsForCompressOnly(t *testing.T) {
	sourceDir := t.TempDir()
	writeSourceFiles(t, sourceDir, "a.png")

	preserver := &recordingPreserver{}
	service := newFakeService()
	d, _, _ := newTestDispatcher(t, service, DispatcherOptions{MaxConcurrent: 1, Preserver: preserver})

	if _, err := d.Run(context.Background(), sourceDir, OperationConfig{Mode: ModeCompress}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(preserver.calls) != 1 {
		t.Fatalf("Expected 1 preserve call, got %d", len(preserver.calls))
	}

	if _, err := d.Run(context.Background(), sourceDir, OperationConfig{Mode: ModeConvert, Format: FormatWebP}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(preserver.calls) != 1 {
		t.Errorf("Preserver must not run in convert mode, got %d calls", len(preserver.calls))
	}
}
