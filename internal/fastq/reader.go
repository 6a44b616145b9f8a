// Package fastq reads single or paired FASTQ input for the decoder.
package fastq

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"

	"github.com/Altius/stampipes/programs/decode_index/internal/errdefs"
)

// ErrMissingMate is returned when one file of a pair ends before the other.
var ErrMissingMate = errors.New("paired mate is absent")

// Read is one parsed FASTQ record. It owns its byte slices.
type Read struct {
	ID      string
	Comment string
	Bases   []byte
	Qual    []byte
	// PassingFilter is false when a Casava 1.8 comment flags the read as
	// filtered (<read>:Y:<control>:<index>).
	PassingFilter bool
	Mate          *Read
}

// Source yields reads, or read pairs linked by Mate, until io.EOF.
type Source interface {
	Next() (*Read, error)
	Close() error
}

// Reader reads one FASTQ file, or two in lockstep for paired data.
type Reader struct {
	paths   [2]string
	readers [2]*fastx.Reader
	paired  bool
	n       int
}

var _ Source = (*Reader)(nil)

// Open opens fastq1 and, if not empty, fastq2 as its mate file. Files may be
// gzipped; "-" reads standard input.
func Open(fastq1, fastq2 string) (*Reader, error) {
	r := &Reader{paths: [2]string{fastq1, fastq2}, paired: fastq2 != ""}

	var err error
	r.readers[0], err = fastx.NewReader(seq.Unlimit, fastq1, fastx.DefaultIDRegexp)
	if err != nil {
		return nil, errdefs.IO("open", fastq1, err)
	}
	if r.paired {
		r.readers[1], err = fastx.NewReader(seq.Unlimit, fastq2, fastx.DefaultIDRegexp)
		if err != nil {
			r.readers[0].Close()
			return nil, errdefs.IO("open", fastq2, err)
		}
	}
	return r, nil
}

// Paired reports whether a mate file was given.
func (r *Reader) Paired() bool { return r.paired }

// Next returns the next read, with Mate set for paired input.
func (r *Reader) Next() (*Read, error) {
	first, err := r.next(0)
	if !r.paired {
		return first, err
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	second, err2 := r.next(1)
	switch {
	case err2 != nil && !errors.Is(err2, io.EOF):
		return nil, err2
	case first == nil && second == nil:
		return nil, io.EOF
	case first == nil:
		return nil, errdefs.Record(second.ID, "read", fmt.Errorf("%w: %s ended first", ErrMissingMate, r.paths[0]))
	case second == nil:
		return nil, errdefs.Record(first.ID, "read", fmt.Errorf("%w: %s ended first", ErrMissingMate, r.paths[1]))
	}
	first.Mate = second
	return first, nil
}

func (r *Reader) next(i int) (*Read, error) {
	rec, err := r.readers[i].Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errdefs.IO("read", r.paths[i], err)
	}
	if i == 0 {
		r.n++
	}

	read := &Read{
		ID:            string(rec.ID),
		Bases:         append([]byte(nil), rec.Seq.Seq...),
		Qual:          append([]byte(nil), rec.Seq.Qual...),
		PassingFilter: true,
	}
	if sp := bytes.IndexAny(rec.Name, " \t"); sp >= 0 {
		read.Comment = string(bytes.TrimSpace(rec.Name[sp+1:]))
		read.PassingFilter = passingFilter(read.Comment)
	}
	if len(read.Qual) != len(read.Bases) {
		return nil, errdefs.Record(read.ID, "read",
			fmt.Errorf("%s record %d has %d bases but %d qualities", r.paths[i], r.n, len(read.Bases), len(read.Qual)))
	}
	return read, nil
}

// passingFilter interprets a Casava 1.8 comment such as "1:N:0:ATCACG".
// Anything else counts as passing.
func passingFilter(comment string) bool {
	if len(comment) >= 3 && comment[1] == ':' && comment[2] == 'Y' {
		return comment[0] < '0' || comment[0] > '9'
	}
	return true
}

func (r *Reader) Close() error {
	for _, fr := range r.readers {
		if fr != nil {
			fr.Close()
		}
	}
	return nil
}

// MateID strips a trailing /1 or /2 so both mates of a pair compare equal.
func MateID(id string) string {
	if n := len(id); n > 2 && id[n-2] == '/' && (id[n-1] == '1' || id[n-1] == '2') {
		return id[:n-2]
	}
	return id
}
