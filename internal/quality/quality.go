// Package quality converts base-call quality strings between the encodings
// produced by Illumina pipelines and binary phred scores.
//
// All functions are pure. The solexa conversion uses a table computed once at
// package initialization and never written again, so everything here is safe
// for concurrent use.
package quality

import (
	"fmt"
	"math"
	"strings"
)

// Encoding identifies how quality scores are stored as characters.
type Encoding int

const (
	// Standard is phred scaled with a character offset of 33 (Sanger, Illumina 1.8+).
	Standard Encoding = iota
	// Illumina is phred scaled with an offset of 64 (Illumina pipeline 1.3 to 1.7).
	Illumina
	// Solexa is solexa (log-odds) scaled with an offset of 64 (pre 1.3 pipelines).
	Solexa
)

const (
	phredOffset  = 33
	solexaOffset = 64
	maxChar      = 126

	minSolexa = -5
	maxSolexa = maxChar - solexaOffset
)

func (e Encoding) String() string {
	switch e {
	case Standard:
		return "standard"
	case Illumina:
		return "illumina"
	case Solexa:
		return "solexa"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// ParseEncoding accepts the names used on the command line.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "sanger", "phred33":
		return Standard, nil
	case "illumina", "phred64":
		return Illumina, nil
	case "solexa":
		return Solexa, nil
	default:
		return 0, fmt.Errorf("unknown quality format %q (want standard, illumina or solexa)", s)
	}
}

// Range returns the lowest and highest legal character of the encoding.
func (e Encoding) Range() (lo, hi byte) {
	switch e {
	case Illumina:
		return solexaOffset, maxChar
	case Solexa:
		return solexaOffset + minSolexa, maxChar
	default:
		return phredOffset, maxChar
	}
}

// RangeError reports a quality character outside the legal range of its
// encoding.
type RangeError struct {
	Encoding Encoding
	Pos      int
	Char     byte
}

func (e *RangeError) Error() string {
	lo, hi := e.Encoding.Range()
	return fmt.Sprintf("quality character %q (%d) at position %d outside %s range [%d,%d]",
		e.Char, e.Char, e.Pos+1, e.Encoding, lo, hi)
}

// solexaToPhred[c-59] is the phred score of solexa character c.
var solexaToPhred [maxSolexa - minSolexa + 1]byte

func init() {
	for sq := minSolexa; sq <= maxSolexa; sq++ {
		solexaToPhred[sq-minSolexa] = byte(math.Round(10 * math.Log10(1+math.Pow(10, float64(sq)/10))))
	}
}

// Reencode converts quality characters in enc to binary phred scores. It
// returns a new slice and never modifies qual. A character outside the
// encoding's range yields a *RangeError.
func Reencode(qual []byte, enc Encoding) ([]byte, error) {
	lo, hi := enc.Range()
	out := make([]byte, len(qual))
	for i, c := range qual {
		if c < lo || c > hi {
			return nil, &RangeError{Encoding: enc, Pos: i, Char: c}
		}
		switch enc {
		case Solexa:
			out[i] = solexaToPhred[c-lo]
		default:
			out[i] = c - lo
		}
	}
	return out, nil
}

// Encode is the inverse of Reencode: it renders binary phred scores as
// characters of enc. Solexa cannot represent every phred score exactly, so
// Reencode(Encode(p, Solexa)) may differ from p by one.
func Encode(phred []byte, enc Encoding) ([]byte, error) {
	lo, hi := enc.Range()
	out := make([]byte, len(phred))
	for i, p := range phred {
		var c int
		switch enc {
		case Solexa:
			c = solexaOffset + phredToSolexa(p)
		case Illumina:
			c = solexaOffset + int(p)
		default:
			c = phredOffset + int(p)
		}
		if c < int(lo) || c > int(hi) {
			return nil, fmt.Errorf("phred %d at position %d not representable in %s", p, i+1, enc)
		}
		out[i] = byte(c)
	}
	return out, nil
}

func phredToSolexa(p byte) int {
	if p == 0 {
		return minSolexa
	}
	sq := int(math.Round(10 * math.Log10(math.Pow(10, float64(p)/10)-1)))
	if sq < minSolexa {
		sq = minSolexa
	}
	return sq
}

// Fastq renders binary phred scores as phred+33 text.
func Fastq(phred []byte) string {
	var b strings.Builder
	b.Grow(len(phred))
	for _, p := range phred {
		b.WriteByte(p + phredOffset)
	}
	return b.String()
}
