// Package decode runs the index decoding pipeline: it classifies every read
// by its leading barcode, annotates it and routes it to its destination.
package decode

import (
	"github.com/Altius/stampipes/programs/decode_index/internal/barcode"
	"github.com/Altius/stampipes/programs/decode_index/internal/demux"
	"github.com/Altius/stampipes/programs/decode_index/internal/match"
	"github.com/Altius/stampipes/programs/decode_index/internal/quality"
)

// Settings is the validated, immutable configuration of one run.
type Settings struct {
	Barcodes barcode.Source
	Match    match.Params
	Quality  quality.Encoding
	Output   demux.Mode

	// Paired requires every read to carry a mate.
	Paired bool
	// StrictMates requires mates to share a read name and index bases.
	StrictMates bool

	BarcodeTag string
	QualityTag string
	ReadGroup  demux.ReadGroup
	Program    demux.Program

	// Threads > 1 classifies reads concurrently. Output order is unchanged.
	Threads int
	// CacheSize > 0 memoizes that many distinct index reads.
	CacheSize int64
}

// ProgramName identifies this program in output headers.
const ProgramName = "decode_index"

// DefaultSettings returns the settings used when nothing is overridden. Its
// Barcodes and Output must still be set.
func DefaultSettings() Settings {
	return Settings{
		Match:      match.DefaultParams(),
		Quality:    quality.Standard,
		BarcodeTag: "BC",
		QualityTag: "QT",
		ReadGroup: demux.ReadGroup{
			ID:               "1",
			Library:          "unknown",
			Platform:         "ILLUMINA",
			SequencingCenter: "SC",
		},
		Program: demux.Program{ID: ProgramName, Name: ProgramName},
		Threads: 1,
	}
}
