// Package metrics tallies how reads were classified and reports the totals.
package metrics

import (
	"errors"
	"sync"

	"github.com/Altius/stampipes/programs/decode_index/internal/barcode"
	"github.com/Altius/stampipes/programs/decode_index/internal/match"
)

// ErrFinalized is returned by Update once the accumulator has been finalized.
var ErrFinalized = errors.New("metrics: accumulator already finalized")

// GlobalName names the row that sums every bucket.
const GlobalName = "ALL"

// Counts are the tallies of one bucket. For every bucket
// PerfectMatches+OneMismatchMatches+MultiMismatchMatches+NoCallRejections+
// MismatchRejections+AmbiguityRejections equals Reads.
type Counts struct {
	Reads                int64 `json:"reads"`
	PFReads              int64 `json:"pf_reads"`
	PerfectMatches       int64 `json:"perfect_matches"`
	PFPerfectMatches     int64 `json:"pf_perfect_matches"`
	OneMismatchMatches   int64 `json:"one_mismatch_matches"`
	PFOneMismatchMatches int64 `json:"pf_one_mismatch_matches"`
	MultiMismatchMatches int64 `json:"multi_mismatch_matches"`
	NoCallRejections     int64 `json:"no_call_rejections"`
	MismatchRejections   int64 `json:"mismatch_rejections"`
	AmbiguityRejections  int64 `json:"ambiguity_rejections"`
}

// Matched is the number of reads assigned to a barcode.
func (c Counts) Matched() int64 {
	return c.PerfectMatches + c.OneMismatchMatches + c.MultiMismatchMatches
}

func (c *Counts) add(o Counts) {
	c.Reads += o.Reads
	c.PFReads += o.PFReads
	c.PerfectMatches += o.PerfectMatches
	c.PFPerfectMatches += o.PFPerfectMatches
	c.OneMismatchMatches += o.OneMismatchMatches
	c.PFOneMismatchMatches += o.PFOneMismatchMatches
	c.MultiMismatchMatches += o.MultiMismatchMatches
	c.NoCallRejections += o.NoCallRejections
	c.MismatchRejections += o.MismatchRejections
	c.AmbiguityRejections += o.AmbiguityRejections
}

// Row is one line of the report.
type Row struct {
	Barcode     string  `json:"barcode"`
	Name        string  `json:"barcode_name"`
	Library     string  `json:"library_name"`
	Counts
	PctMatches  float64 `json:"pct_matches"`
	RatioToBest float64 `json:"ratio_this_barcode_to_best_barcode_pct"`
}

// Summary is the finalized report: one row per barcode in table order, the
// unmatched row and the global row.
type Summary struct {
	Barcodes  []Row `json:"barcodes"`
	Unmatched Row   `json:"unmatched"`
	Global    Row   `json:"global"`
}

// Rows returns every row in report order.
func (s Summary) Rows() []Row {
	out := make([]Row, 0, len(s.Barcodes)+2)
	out = append(out, s.Barcodes...)
	return append(out, s.Unmatched, s.Global)
}

// Accumulator tallies the reads of one run. Update and Finalize must be
// called from one goroutine at a time.
type Accumulator struct {
	table   *barcode.Table
	buckets []Counts

	once    sync.Once
	summary Summary
	done    bool
}

func NewAccumulator(table *barcode.Table) *Accumulator {
	return &Accumulator{
		table:   table,
		buckets: make([]Counts, table.Count()+1),
	}
}

// Update records one read assigned to ordinal with the given result.
func (a *Accumulator) Update(ordinal int, res match.Result, passingFilter bool) error {
	if a.done {
		return ErrFinalized
	}
	c := &a.buckets[ordinal]
	c.Reads++
	if passingFilter {
		c.PFReads++
	}
	switch res.Outcome {
	case match.Matched:
		switch res.Mismatches {
		case 0:
			c.PerfectMatches++
			if passingFilter {
				c.PFPerfectMatches++
			}
		case 1:
			c.OneMismatchMatches++
			if passingFilter {
				c.PFOneMismatchMatches++
			}
		default:
			c.MultiMismatchMatches++
		}
	case match.NoCallRejected:
		c.NoCallRejections++
	case match.MismatchRejected:
		c.MismatchRejections++
	case match.AmbiguityRejected:
		c.AmbiguityRejections++
	}
	return nil
}

// Counts returns the current tallies of ordinal.
func (a *Accumulator) Counts(ordinal int) Counts {
	return a.buckets[ordinal]
}

// Finalize stops accepting updates and computes the report. It may be
// called more than once; each call returns a fresh copy.
func (a *Accumulator) Finalize() Summary {
	a.once.Do(func() {
		a.done = true
		a.summary = a.summarize()
	})
	s := a.summary
	s.Barcodes = append([]Row(nil), a.summary.Barcodes...)
	return s
}

func (a *Accumulator) summarize() Summary {
	var total, best int64
	var global Counts
	for ord, c := range a.buckets {
		total += c.Reads
		global.add(c)
		if ord != barcode.Unmatched && c.Reads > best {
			best = c.Reads
		}
	}

	row := func(ord int) Row {
		c := a.buckets[ord]
		r := Row{Barcode: a.table.Sequence(ord), Name: a.table.Name(ord), Counts: c}
		if ord != barcode.Unmatched {
			r.Library = a.table.Candidate(ord).Library
		}
		r.PctMatches = ratio(c.Reads, total)
		r.RatioToBest = ratio(c.Reads, best)
		return r
	}

	s := Summary{Unmatched: row(barcode.Unmatched)}
	for ord := 1; ord < len(a.buckets); ord++ {
		s.Barcodes = append(s.Barcodes, row(ord))
	}
	s.Global = Row{
		Name:       GlobalName,
		Counts:     global,
		PctMatches: ratio(global.Matched(), total),
	}
	return s
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
