package imaging

import (
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/barasher/go-exiftool"

	"github.com/tinybatch/tinybatch/internal/logger"
)

// preservedTags are the EXIF fields worth carrying across a lossy
// recompression. The remote service strips everything; dates and
// orientation are what photo tooling actually relies on.
var preservedTags = []string{
	"DateTimeOriginal",
	"CreateDate",
	"Orientation",
}

// MetadataPreserver copies EXIF metadata from a source image onto its
// transformed counterpart.
type MetadataPreserver interface {
	// Preserve copies the preserved tag set from srcPath to destPath.
	Preserve(srcPath, destPath string) error
}

// exifPreserver implements MetadataPreserver on top of exiftool.
type exifPreserver struct {
	et *exiftool.Exiftool
}

// NewMetadataPreserver creates a MetadataPreserver backed by the given
// exiftool instance. The caller owns the instance's lifecycle.
func NewMetadataPreserver(et *exiftool.Exiftool) MetadataPreserver {
	return &exifPreserver{et: et}
}

// Preserve copies date and orientation tags from srcPath to destPath.
// A source with none of the tags is not an error.
func (p *exifPreserver) Preserve(srcPath, destPath string) error {
	if p.et == nil {
		return fmt.Errorf("exiftool not initialised")
	}

	// Bail out early when the source carries no metadata at all.
	fileInfos := p.et.ExtractMetadata(srcPath)
	if len(fileInfos) == 0 || fileInfos[0].Err != nil {
		logger.Debug("No readable metadata in source, skipping", "file", filepath.Base(srcPath))
		return nil
	}

	hasAny := false
	for _, tag := range preservedTags {
		if _, err := fileInfos[0].GetString(tag); err == nil {
			hasAny = true
			break
		}
	}
	if !hasAny {
		logger.Debug("Source has none of the preserved tags, skipping", "file", filepath.Base(srcPath))
		return nil
	}

	// -tagsFromFile copies the selected tags across files.
	// -overwrite_original prevents backup files, -P keeps the
	// destination's modification time.
	args := []string{"-tagsFromFile", srcPath}
	for _, tag := range preservedTags {
		args = append(args, "-"+tag)
	}
	args = append(args, "-overwrite_original", "-P", destPath)

	cmd := exec.Command("exiftool", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to copy metadata: %w (output: %s)", err, string(output))
	}

	logger.Debug("Copied metadata", "from", filepath.Base(srcPath), "to", filepath.Base(destPath))
	return nil
}
