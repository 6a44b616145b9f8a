// Package demux routes decoded reads to their output destinations.
package demux

import (
	"strings"
)

// Pair marks a record as unpaired or as one mate of a pair.
type Pair int

const (
	Unpaired Pair = iota
	First
	Second
)

// Tag is a SAM style optional field. Values are always written with type Z.
type Tag struct {
	Key   string
	Value string
}

func (t Tag) String() string {
	return t.Key + ":Z:" + t.Value
}

// Record is one output read. Qual holds binary phred scores.
type Record struct {
	Name  string
	Bases []byte
	Qual  []byte
	Tags  []Tag
	Pair  Pair
}

// Tag returns the value of the tag with the given key.
func (r *Record) Tag(key string) (string, bool) {
	for _, t := range r.Tags {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

func joinTags(tags []Tag) string {
	var b strings.Builder
	for i, t := range tags {
		if i > 0 {
			b.WriteByte('\t')
		}
		b.WriteString(t.String())
	}
	return b.String()
}

// ReadGroup holds the @RG header fields of one barcode.
type ReadGroup struct {
	ID               string
	Sample           string
	Library          string
	Description      string
	PlatformUnit     string
	Platform         string
	SequencingCenter string
}

// Program is the @PG line of the program writing a destination. It is
// omitted when ID is empty.
type Program struct {
	ID          string
	Name        string
	CommandLine string
	Version     string
}

// Header describes what a destination is expected to contain.
type Header struct {
	ReadGroups []ReadGroup
	Program    Program
}
