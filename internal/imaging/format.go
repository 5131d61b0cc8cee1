package imaging

import (
	"fmt"
	"strings"
)

// Mode selects which transform a batch performs.
type Mode int

const (
	// ModeCompress recompresses files in their original format.
	ModeCompress Mode = iota
	// ModeConvert re-encodes files into a target format.
	ModeConvert
)

// String returns the mode name used in log lines.
func (m Mode) String() string {
	switch m {
	case ModeCompress:
		return "compress"
	case ModeConvert:
		return "convert"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Format is a closed set of conversion targets.
type Format int

const (
	// FormatPNG targets image/png output.
	FormatPNG Format = iota
	// FormatWebP targets image/webp output.
	FormatWebP
	// FormatJPEG targets image/jpeg output.
	FormatJPEG
)

// ParseFormat validates a user-supplied format name. Accepted spellings
// are case-insensitive; "jpg" is an alias for "jpeg".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	default:
		return 0, fmt.Errorf("unsupported target format %q (expected png, webp or jpeg)", s)
	}
}

// String returns the canonical lowercase format name.
func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatWebP:
		return "webp"
	case FormatJPEG:
		return "jpeg"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Ext returns the file extension for the format, dot included.
func (f Format) Ext() string {
	return "." + f.String()
}

// MIMEType returns the media type the remote service expects for the format.
func (f Format) MIMEType() string {
	return "image/" + f.String()
}

// OperationConfig is the validated outcome of operation selection.
// Format is meaningful only when Mode is ModeConvert.
type OperationConfig struct {
	Mode   Mode
	Format Format
}
