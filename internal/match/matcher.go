// Package match classifies index reads against a barcode table.
package match

import (
	"errors"
	"fmt"
	"math"

	"github.com/Altius/stampipes/programs/decode_index/internal/barcode"
	"github.com/Altius/stampipes/programs/decode_index/internal/errdefs"
)

// ErrShortIndex is returned for an index read shorter than the barcodes.
var ErrShortIndex = errors.New("index read shorter than barcode length")

// Outcome is the classification of one index read.
type Outcome int

const (
	Matched Outcome = iota
	NoCallRejected
	MismatchRejected
	AmbiguityRejected
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case NoCallRejected:
		return "no_call"
	case MismatchRejected:
		return "mismatch"
	case AmbiguityRejected:
		return "ambiguous"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Params bound what counts as a match.
type Params struct {
	MaxMismatches    int
	MinMismatchDelta int
	MaxNoCalls       int
}

// DefaultParams mirrors the decoder's command-line defaults.
func DefaultParams() Params {
	return Params{MaxMismatches: 1, MinMismatchDelta: 1, MaxNoCalls: 2}
}

func (p Params) Validate() error {
	switch {
	case p.MaxMismatches < 0:
		return errdefs.Configf("max mismatches must be >= 0, got %d", p.MaxMismatches)
	case p.MinMismatchDelta < 0:
		return errdefs.Configf("min mismatch delta must be >= 0, got %d", p.MinMismatchDelta)
	case p.MaxNoCalls < 0:
		return errdefs.Configf("max no-calls must be >= 0, got %d", p.MaxNoCalls)
	}
	return nil
}

// Result describes how an index read was classified. Ordinal and Barcode
// are only set when Matched is true.
type Result struct {
	Matched              bool
	Ordinal              int
	Barcode              string
	Mismatches           int
	SecondBestMismatches int
	NoCalls              int
	Outcome              Outcome
}

// Classifier is implemented by Matcher and Cached.
type Classifier interface {
	Classify(index []byte) (Result, error)
}

// Matcher classifies index reads by counting mismatches against every
// candidate. It holds no mutable state.
type Matcher struct {
	table  *barcode.Table
	params Params
	seqs   [][]byte
}

var _ Classifier = (*Matcher)(nil)

func New(table *barcode.Table, params Params) (*Matcher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	seqs := make([][]byte, table.Count())
	for i := range seqs {
		seqs[i] = []byte(table.Sequence(i + 1))
	}
	return &Matcher{table: table, params: params, seqs: seqs}, nil
}

func (m *Matcher) Params() Params { return m.params }

func (m *Matcher) Table() *barcode.Table { return m.table }

// IsNoCall reports whether b is a no-call placeholder.
func IsNoCall(b byte) bool {
	return b == 'N' || b == 'n' || b == '.'
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

// Classify compares the first Len() bases of index with every barcode.
//
// A read is matched when its no-calls do not exceed MaxNoCalls, its best
// candidate has at most MaxMismatches mismatches and the second best
// candidate has at least MinMismatchDelta more. Rejections are attributed to
// the first failing rule in that order.
func (m *Matcher) Classify(index []byte) (Result, error) {
	n := m.table.Len()
	if len(index) < n {
		return Result{}, fmt.Errorf("%w: %d < %d", ErrShortIndex, len(index), n)
	}
	index = index[:n]

	var res Result
	for _, b := range index {
		if IsNoCall(b) {
			res.NoCalls++
		}
	}
	if res.NoCalls > m.params.MaxNoCalls {
		res.Outcome = NoCallRejected
		return res, nil
	}

	best, second, bestIdx := math.MaxInt, math.MaxInt, -1
	for i, cand := range m.seqs {
		mm := 0
		for j, b := range index {
			if !IsNoCall(b) && upper(b) != cand[j] {
				mm++
			}
		}
		if mm < best {
			second = best
			best, bestIdx = mm, i
		} else if mm < second {
			second = mm
		}
	}
	if len(m.seqs) == 1 {
		second = best + m.params.MinMismatchDelta
	}

	res.Mismatches = best
	res.SecondBestMismatches = second
	switch {
	case best > m.params.MaxMismatches:
		res.Outcome = MismatchRejected
	case second-best < m.params.MinMismatchDelta:
		res.Outcome = AmbiguityRejected
	default:
		res.Outcome = Matched
		res.Matched = true
		res.Ordinal = bestIdx + 1
		res.Barcode = m.table.Sequence(res.Ordinal)
	}
	return res, nil
}
