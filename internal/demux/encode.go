package demux

import (
	"fmt"
	"io"
	"time"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"

	"github.com/Altius/stampipes/programs/decode_index/internal/quality"
)

// encoder writes the records of one destination. The header, if the format
// has one, is written when the encoder is created. close finishes the format
// but leaves the underlying file open.
type encoder interface {
	encode(r *Record) error
	close() error
}

func newEncoder(f Format, w io.Writer, h Header) (encoder, error) {
	switch f {
	case SAM, BAM:
		return newSamEncoder(f, w, h)
	default:
		return &fastqEncoder{w: w}, nil
	}
}

// fastqEncoder writes four line FASTQ with tags tab separated in the
// header comment. Mates get the /1 and /2 suffixes.
type fastqEncoder struct {
	w io.Writer
}

func (e *fastqEncoder) encode(r *Record) error {
	name := r.Name
	switch r.Pair {
	case First:
		name += "/1"
	case Second:
		name += "/2"
	}
	if len(r.Tags) > 0 {
		name += " " + joinTags(r.Tags)
	}

	// fastx writes FASTA when there are no qualities.
	if len(r.Bases) == 0 {
		_, err := fmt.Fprintf(e.w, "@%s\n\n+\n\n", name)
		return err
	}

	rec := &fastx.Record{
		ID:   []byte(r.Name),
		Name: []byte(name),
		Seq:  &seq.Seq{Alphabet: seq.Unlimit, Seq: r.Bases, Qual: []byte(quality.Fastq(r.Qual))},
	}
	_, err := e.w.Write(rec.Format(0))
	return err
}

func (*fastqEncoder) close() error { return nil }

// recordWriter is implemented by *sam.Writer and *bam.Writer.
type recordWriter interface {
	Write(r *sam.Record) error
}

// samEncoder writes unmapped SAM or BAM records.
type samEncoder struct {
	w   recordWriter
	bam *bam.Writer
}

func newSamEncoder(f Format, w io.Writer, h Header) (*samEncoder, error) {
	sh, err := samHeader(h)
	if err != nil {
		return nil, err
	}
	if f == BAM {
		bw, err := bam.NewWriter(w, sh, 1)
		if err != nil {
			return nil, err
		}
		return &samEncoder{w: bw, bam: bw}, nil
	}
	sw, err := sam.NewWriter(w, sh, sam.FlagDecimal)
	if err != nil {
		return nil, err
	}
	return &samEncoder{w: sw}, nil
}

func samHeader(h Header) (*sam.Header, error) {
	sh, err := sam.NewHeader(nil, nil)
	if err != nil {
		return nil, err
	}
	sh.Version = "1.6"
	sh.SortOrder = sam.Unsorted

	for _, g := range h.ReadGroups {
		rg, err := sam.NewReadGroup(g.ID, g.SequencingCenter, g.Description, g.Library, "",
			g.Platform, g.PlatformUnit, g.Sample, "", "", time.Time{}, 0)
		if err != nil {
			return nil, fmt.Errorf("read group %s: %w", g.ID, err)
		}
		if err := sh.AddReadGroup(rg); err != nil {
			return nil, fmt.Errorf("read group %s: %w", g.ID, err)
		}
	}
	if pg := h.Program; pg.ID != "" {
		if err := sh.AddProgram(sam.NewProgram(pg.ID, pg.Name, pg.CommandLine, "", pg.Version)); err != nil {
			return nil, fmt.Errorf("program %s: %w", pg.ID, err)
		}
	}
	return sh, nil
}

func samFlags(p Pair) sam.Flags {
	switch p {
	case First:
		return sam.Paired | sam.Unmapped | sam.MateUnmapped | sam.Read1
	case Second:
		return sam.Paired | sam.Unmapped | sam.MateUnmapped | sam.Read2
	default:
		return sam.Unmapped
	}
}

// samBases upper-cases b and turns anything outside the SAM alphabet into N.
func samBases(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if 'a' <= c && c <= 'z' {
			c -= 'a' - 'A'
		}
		switch c {
		case '=', 'A', 'C', 'M', 'G', 'R', 'S', 'V', 'T', 'W', 'Y', 'H', 'K', 'D', 'B', 'N':
		default:
			c = 'N'
		}
		out[i] = c
	}
	return out
}

func (e *samEncoder) encode(r *Record) error {
	aux := make([]sam.Aux, 0, len(r.Tags))
	for _, t := range r.Tags {
		if len(t.Key) != 2 {
			return fmt.Errorf("%s: tag name %q is not two characters", r.Name, t.Key)
		}
		a, err := sam.NewAux(sam.NewTag(t.Key), t.Value)
		if err != nil {
			return fmt.Errorf("%s: tag %s: %w", r.Name, t.Key, err)
		}
		aux = append(aux, a)
	}

	var bases, qual []byte
	if len(r.Bases) > 0 {
		bases, qual = samBases(r.Bases), r.Qual
	}
	rec, err := sam.NewRecord(r.Name, nil, nil, -1, -1, 0, 0, nil, bases, qual, aux)
	if err != nil {
		return fmt.Errorf("%s: %w", r.Name, err)
	}
	rec.Flags = samFlags(r.Pair)
	return e.w.Write(rec)
}

// close writes the BAM end-of-file block. SAM needs nothing.
func (e *samEncoder) close() error {
	if e.bam != nil {
		return e.bam.Close()
	}
	return nil
}
