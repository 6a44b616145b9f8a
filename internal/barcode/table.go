// Package barcode loads and validates the set of candidate index barcodes.
//
// A Table is built once and is read-only afterwards. Every candidate gets an
// ordinal in table order starting at 1; ordinal 0 is reserved for reads that
// match no barcode. Downstream components index fixed-size slices by ordinal
// instead of looking barcodes up by sequence.
package barcode

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shenwei356/xopen"

	"github.com/Altius/stampipes/programs/decode_index/internal/errdefs"
)

// Unmatched is the ordinal of the bucket for reads without a barcode.
const Unmatched = 0

// Column headers of a barcode file.
const (
	ColSequence    = "barcode_sequence"
	ColName        = "barcode_name"
	ColLibrary     = "library_name"
	ColSample      = "sample_name"
	ColDescription = "description"
)

// Candidate is one known barcode and the sample it identifies.
type Candidate struct {
	Sequence    string
	Name        string
	Library     string
	Sample      string
	Description string
}

// Table is an ordered, validated set of equal-length, unique barcodes.
type Table struct {
	length     int
	candidates []Candidate
	ordinals   map[string]int
}

// Source selects where barcodes come from. Exactly one field must be set.
type Source struct {
	Sequences []string
	File      string
}

// FromSource builds a Table from an inline list or a barcode file.
func FromSource(src Source) (*Table, error) {
	switch {
	case len(src.Sequences) > 0 && src.File != "":
		return nil, errdefs.Configf("barcode sequences and barcode file are mutually exclusive")
	case src.File != "":
		return Load(src.File)
	case len(src.Sequences) > 0:
		return FromSequences(src.Sequences)
	default:
		return nil, errdefs.Configf("no barcodes given")
	}
}

// FromSequences builds a Table of unnamed candidates.
func FromSequences(seqs []string) (*Table, error) {
	cands := make([]Candidate, 0, len(seqs))
	for _, s := range seqs {
		cands = append(cands, Candidate{Sequence: s})
	}
	return New(cands)
}

// New validates candidates and builds a Table. Sequences are upper-cased.
func New(candidates []Candidate) (*Table, error) {
	if len(candidates) == 0 {
		return nil, errdefs.Configf("barcode set is empty")
	}

	t := &Table{
		candidates: make([]Candidate, len(candidates)),
		ordinals:   make(map[string]int, len(candidates)),
	}
	for i, c := range candidates {
		c.Sequence = strings.ToUpper(strings.TrimSpace(c.Sequence))
		if c.Sequence == "" {
			return nil, errdefs.Configf("barcode %d has an empty sequence", i+1)
		}
		if i == 0 {
			t.length = len(c.Sequence)
		} else if len(c.Sequence) != t.length {
			return nil, errdefs.Configf("barcode %s has length %d, expected %d", c.Sequence, len(c.Sequence), t.length)
		}
		for j := 0; j < len(c.Sequence); j++ {
			switch c.Sequence[j] {
			case 'A', 'C', 'G', 'T':
			default:
				return nil, errdefs.Configf("barcode %s has invalid base %q at position %d", c.Sequence, c.Sequence[j], j+1)
			}
		}
		if prev, dup := t.ordinals[c.Sequence]; dup {
			return nil, errdefs.Configf("barcode %s is duplicated (rows %d and %d)", c.Sequence, prev, i+1)
		}
		t.ordinals[c.Sequence] = i + 1
		t.candidates[i] = c
	}
	if err := t.checkNames(); err != nil {
		return nil, err
	}
	return t, nil
}

// checkNames rejects tables whose resolved names clash, since a name is both
// a read group suffix and part of an output file name.
func (t *Table) checkNames() error {
	seen := map[string]int{t.Name(Unmatched): Unmatched}
	for ord := 1; ord <= len(t.candidates); ord++ {
		name := t.Name(ord)
		if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
			return errdefs.Configf("barcode %s: name %q cannot be used in a file name", t.Sequence(ord), name)
		}
		prev, dup := seen[name]
		switch {
		case dup && prev == Unmatched:
			return errdefs.Configf("barcode %s: name %q is reserved for unmatched reads", t.Sequence(ord), name)
		case dup:
			return errdefs.Configf("barcode name %q is used by rows %d and %d", name, prev, ord)
		}
		seen[name] = ord
	}
	return nil
}

// Load reads a tab-delimited barcode file with a header row. Only the
// barcode_sequence column is required. Gzipped files are read transparently.
func Load(path string) (*Table, error) {
	fh, err := xopen.Ropen(path)
	if err != nil {
		return nil, errdefs.Config("open barcode file "+path, err)
	}
	defer fh.Close()

	t, err := Parse(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse reads a barcode table from r.
func Parse(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errdefs.Configf("barcode file is empty")
	}
	if err != nil {
		return nil, errdefs.Config("reading barcode header", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	if _, ok := cols[ColSequence]; !ok {
		return nil, errdefs.Configf("barcode file has no %s column", ColSequence)
	}
	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var cands []Candidate
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errdefs.Config("reading barcode row", err)
		}
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		seq := field(row, ColSequence)
		if seq == "" {
			line, _ := cr.FieldPos(0)
			return nil, errdefs.Configf("line %d: missing %s", line, ColSequence)
		}
		cands = append(cands, Candidate{
			Sequence:    seq,
			Name:        field(row, ColName),
			Library:     field(row, ColLibrary),
			Sample:      field(row, ColSample),
			Description: field(row, ColDescription),
		})
	}
	return New(cands)
}

// Len is the barcode length shared by all candidates.
func (t *Table) Len() int { return t.length }

// Count is the number of candidates, not counting the unmatched bucket.
func (t *Table) Count() int { return len(t.candidates) }

// Candidates returns a copy of the candidates in table order.
func (t *Table) Candidates() []Candidate {
	out := make([]Candidate, len(t.candidates))
	copy(out, t.candidates)
	return out
}

// Candidate returns the candidate with the given ordinal (1..Count).
func (t *Table) Candidate(ordinal int) Candidate {
	return t.candidates[ordinal-1]
}

// Sequence returns the barcode of an ordinal, or "" for Unmatched.
func (t *Table) Sequence(ordinal int) string {
	if ordinal == Unmatched {
		return ""
	}
	return t.candidates[ordinal-1].Sequence
}

// Ordinal returns the ordinal of seq (case-insensitive).
func (t *Table) Ordinal(seq string) (int, bool) {
	o, ok := t.ordinals[strings.ToUpper(seq)]
	return o, ok
}

// Name is the display name of an ordinal: the candidate's name when set,
// otherwise the ordinal itself. The unmatched bucket is always "0".
func (t *Table) Name(ordinal int) string {
	if ordinal != Unmatched {
		if n := t.candidates[ordinal-1].Name; n != "" {
			return n
		}
	}
	return strconv.Itoa(ordinal)
}

func (t *Table) String() string {
	return fmt.Sprintf("barcode.Table{%d barcodes of length %d}", len(t.candidates), t.length)
}
