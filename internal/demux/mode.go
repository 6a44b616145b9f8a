package demux

import (
	"path/filepath"
	"strings"

	"github.com/Altius/stampipes/programs/decode_index/internal/errdefs"
)

// Mode selects how destinations are laid out. It is either Merged or Split.
type Mode interface {
	isMode()
}

// Merged sends every read, matched or not, to one file.
type Merged struct {
	Path string
}

// Split writes one file per barcode plus one for unmatched reads, named
// <Dir>/<Prefix>#<barcode name>.<Format>.
type Split struct {
	Dir    string
	Prefix string
	Format string
}

func (Merged) isMode() {}
func (Split) isMode()  {}

// DestinationPath is the file a Split mode writes the named bucket to.
func (s Split) DestinationPath(name string) string {
	return filepath.Join(s.Dir, s.Prefix+"#"+name+"."+s.Format)
}

// Format is an output file format.
type Format int

const (
	FASTQ Format = iota
	SAM
	BAM
)

func (f Format) String() string {
	switch f {
	case SAM:
		return "sam"
	case BAM:
		return "bam"
	default:
		return "fastq"
	}
}

// ParseFormat accepts fastq, fq or sam, optionally followed by .gz, or bam.
func ParseFormat(s string) (Format, error) {
	lower := strings.ToLower(s)
	switch strings.TrimSuffix(lower, ".gz") {
	case "fastq", "fq":
		return FASTQ, nil
	case "sam":
		return SAM, nil
	case "bam":
		if lower == "bam" {
			return BAM, nil
		}
		return 0, errdefs.Configf("output format %q: bam is already compressed", s)
	default:
		return 0, errdefs.Configf("unknown output format %q (want fastq, fq, sam or bam)", s)
	}
}

// FormatOf infers the format of a file from its extension.
func FormatOf(path string) (Format, error) {
	trimmed := strings.TrimSuffix(path, ".gz")
	ext := filepath.Ext(trimmed)
	if ext == "" {
		return 0, errdefs.Configf("cannot infer output format of %q", path)
	}
	return ParseFormat(ext[1:] + path[len(trimmed):])
}

// ModeFormat returns the format every destination of m is written in.
func ModeFormat(m Mode) (Format, error) {
	switch m := m.(type) {
	case Merged:
		return FormatOf(m.Path)
	case Split:
		return ParseFormat(m.Format)
	default:
		return 0, errdefs.Configf("unknown output mode %T", m)
	}
}
