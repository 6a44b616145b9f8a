package demux

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Altius/stampipes/programs/decode_index/internal/barcode"
	"github.com/Altius/stampipes/programs/decode_index/internal/errdefs"
)

// Destination is one output file and what it holds.
type Destination struct {
	// Ordinals routed here, in order. Merged destinations list every ordinal.
	Ordinals []int
	Path     string
	Format   Format
	Header   Header
}

// Opener creates the sink of a destination.
type Opener func(d Destination) (Sink, error)

// OpenFile is the Opener used outside of tests.
func OpenFile(d Destination) (Sink, error) {
	return NewWriter(d.Path, d.Format, d.Header, DefaultBatchSize)
}

// Router owns the sinks of one run. Sinks are indexed by ordinal, with
// barcode.Unmatched at index 0.
type Router struct {
	dests   []Destination
	sinks   []Sink
	byOrd   []int
	written []int64

	closeOnce sync.Once
	closed    bool
	closeErr  error
}

// NewRouter opens every destination of mode up front. rg is the base read
// group: each barcode gets a copy with "#<name>" appended to its ID. pg is
// written into every header. If any destination cannot be opened, the ones
// already open are closed.
func NewRouter(mode Mode, table *barcode.Table, rg ReadGroup, pg Program, open Opener) (*Router, error) {
	format, err := ModeFormat(mode)
	if err != nil {
		return nil, err
	}
	if open == nil {
		open = OpenFile
	}

	k := table.Count()
	r := &Router{
		byOrd:   make([]int, k+1),
		written: make([]int64, k+1),
	}

	switch m := mode.(type) {
	case Merged:
		d := Destination{Path: m.Path, Format: format, Header: Header{Program: pg}}
		for ord := 0; ord <= k; ord++ {
			d.Ordinals = append(d.Ordinals, ord)
			d.Header.ReadGroups = append(d.Header.ReadGroups, ReadGroupFor(rg, table, ord))
		}
		r.dests = []Destination{d}
	case Split:
		for ord := 0; ord <= k; ord++ {
			r.dests = append(r.dests, Destination{
				Ordinals: []int{ord},
				Path:     m.DestinationPath(table.Name(ord)),
				Format:   format,
				Header:   Header{ReadGroups: []ReadGroup{ReadGroupFor(rg, table, ord)}, Program: pg},
			})
			r.byOrd[ord] = ord
		}
	}

	for _, d := range r.dests {
		s, err := open(d)
		if err != nil {
			for _, opened := range r.sinks {
				opened.Close()
			}
			return nil, errdefs.IO("open", d.Path, err)
		}
		r.sinks = append(r.sinks, s)
	}
	return r, nil
}

// ReadGroupFor derives the read group of an ordinal from the base read group.
// The ID and platform unit get "#<name>" appended. A barcode's own library,
// sample and description override the base ones.
func ReadGroupFor(base ReadGroup, table *barcode.Table, ordinal int) ReadGroup {
	rg := base
	rg.ID = base.ID + "#" + table.Name(ordinal)
	if rg.PlatformUnit != "" {
		rg.PlatformUnit += "#" + table.Name(ordinal)
	}
	if ordinal != barcode.Unmatched {
		c := table.Candidate(ordinal)
		if c.Library != "" {
			rg.Library = c.Library
		}
		if c.Sample != "" {
			rg.Sample = c.Sample
		}
		if c.Description != "" {
			rg.Description = c.Description
		}
	}
	return rg
}

// Dispatch writes records to the destination of ordinal, in order. An
// ordinal outside 0..K is a programming error and panics.
func (r *Router) Dispatch(ordinal int, records ...*Record) error {
	if ordinal < 0 || ordinal >= len(r.byOrd) {
		panic(fmt.Sprintf("demux: ordinal %d out of range [0,%d]", ordinal, len(r.byOrd)-1))
	}
	if r.closed {
		return ErrClosed
	}
	i := r.byOrd[ordinal]
	for _, rec := range records {
		if err := r.sinks[i].Write(rec); err != nil {
			return errdefs.IO("write", r.dests[i].Path, err)
		}
		r.written[ordinal]++
	}
	return nil
}

// Written returns how many records were dispatched for ordinal.
func (r *Router) Written(ordinal int) int64 {
	return r.written[ordinal]
}

// Destination returns where ordinal is routed.
func (r *Router) Destination(ordinal int) Destination {
	return r.dests[r.byOrd[ordinal]]
}

// Destinations lists every distinct destination.
func (r *Router) Destinations() []Destination {
	out := make([]Destination, len(r.dests))
	copy(out, r.dests)
	return out
}

// Close closes every sink exactly once, concurrently, and returns all close
// errors joined. Later calls return the same result.
func (r *Router) Close() error {
	r.closeOnce.Do(func() {
		r.closed = true
		errs := make([]error, len(r.sinks))
		var g errgroup.Group
		for i, s := range r.sinks {
			g.Go(func() error {
				errs[i] = errdefs.IO("close", r.dests[i].Path, s.Close())
				return nil
			})
		}
		_ = g.Wait()
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}
