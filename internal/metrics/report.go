package metrics

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shenwei356/xopen"
	"sigs.k8s.io/yaml"

	"github.com/Altius/stampipes/programs/decode_index/internal/errdefs"
)

// Columns is the header of the TSV report.
var Columns = []string{
	"BARCODE",
	"BARCODE_NAME",
	"LIBRARY_NAME",
	"READS",
	"PF_READS",
	"PERFECT_MATCHES",
	"PF_PERFECT_MATCHES",
	"ONE_MISMATCH_MATCHES",
	"PF_ONE_MISMATCH_MATCHES",
	"MULTI_MISMATCH_MATCHES",
	"NO_CALL_REJECTIONS",
	"MISMATCH_REJECTIONS",
	"AMBIGUITY_REJECTIONS",
	"PCT_MATCHES",
	"RATIO_THIS_BARCODE_TO_BEST_BARCODE_PCT",
}

// Report formats.
const (
	FormatTSV  = "tsv"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ParseFormat validates a report format name. An empty name is inferred
// from the path's extension and defaults to tsv.
func ParseFormat(format, path string) (string, error) {
	if format == "" {
		switch strings.ToLower(filepath.Ext(strings.TrimSuffix(path, ".gz"))) {
		case ".json":
			return FormatJSON, nil
		case ".yaml", ".yml":
			return FormatYAML, nil
		default:
			return FormatTSV, nil
		}
	}
	switch f := strings.ToLower(format); f {
	case FormatTSV, FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", errdefs.Configf("unknown metrics format %q (want tsv, json or yaml)", format)
	}
}

func formatInt(n int64) string { return strconv.FormatInt(n, 10) }

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', 6, 64) }

func (r Row) fields() []string {
	return []string{
		r.Barcode,
		r.Name,
		r.Library,
		formatInt(r.Reads),
		formatInt(r.PFReads),
		formatInt(r.PerfectMatches),
		formatInt(r.PFPerfectMatches),
		formatInt(r.OneMismatchMatches),
		formatInt(r.PFOneMismatchMatches),
		formatInt(r.MultiMismatchMatches),
		formatInt(r.NoCallRejections),
		formatInt(r.MismatchRejections),
		formatInt(r.AmbiguityRejections),
		formatFloat(r.PctMatches),
		formatFloat(r.RatioToBest),
	}
}

// WriteTSV writes a header line then one line per row.
func WriteTSV(w io.Writer, s Summary) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, r := range s.Rows() {
		if err := cw.Write(r.fields()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteJSON(w io.Writer, s Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func WriteYAML(w io.Writer, s Summary) error {
	b, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// WriteFile writes s to path in the given format (see ParseFormat).
func WriteFile(path, format string, s Summary) (err error) {
	format, err = ParseFormat(format, path)
	if err != nil {
		return err
	}
	out, err := xopen.Wopen(path)
	if err != nil {
		return errdefs.IO("open", path, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = errdefs.IO("close", path, cerr)
		}
	}()

	switch format {
	case FormatJSON:
		err = WriteJSON(out, s)
	case FormatYAML:
		err = WriteYAML(out, s)
	default:
		err = WriteTSV(out, s)
	}
	return errdefs.IO("write", path, err)
}
