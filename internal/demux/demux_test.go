package demux

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	"github.com/shenwei356/xopen"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Altius/stampipes/programs/decode_index/internal/barcode"
	"github.com/Altius/stampipes/programs/decode_index/internal/errdefs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memSink struct {
	mu      sync.Mutex
	dest    Destination
	records []*Record
	closes  int
	failOn  int
}

func (s *memSink) Write(r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn > 0 && len(s.records)+1 == s.failOn {
		return errors.New("disk full")
	}
	s.records = append(s.records, r)
	return nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

type memOpener struct {
	sinks  []*memSink
	failAt int
}

func (o *memOpener) open(d Destination) (Sink, error) {
	if o.failAt > 0 && len(o.sinks)+1 == o.failAt {
		return nil, errors.New("permission denied")
	}
	s := &memSink{dest: d}
	o.sinks = append(o.sinks, s)
	return s, nil
}

func newTable(t *testing.T) *barcode.Table {
	t.Helper()
	tbl, err := barcode.New([]barcode.Candidate{
		{Sequence: "ATCACG", Name: "s1", Library: "libA"},
		{Sequence: "CGATGT"},
	})
	require.NoError(t, err)
	return tbl
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"fastq": FASTQ, "FQ": FASTQ, "fastq.gz": FASTQ, "sam": SAM, "sam.gz": SAM, "bam": BAM} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	for _, in := range []string{"bam.gz", "cram", ""} {
		_, err := ParseFormat(in)
		require.True(t, errdefs.IsConfig(err), in)
	}

	f, err := FormatOf("/out/all.sam.gz")
	require.NoError(t, err)
	require.Equal(t, SAM, f)
	f, err = FormatOf("/out/all.bam")
	require.NoError(t, err)
	require.Equal(t, BAM, f)
	_, err = FormatOf("/out/all.bam.gz")
	require.True(t, errdefs.IsConfig(err))
	_, err = FormatOf("/out/all")
	require.True(t, errdefs.IsConfig(err))
}

func TestSplitDestinationPath(t *testing.T) {
	s := Split{Dir: "/data/out", Prefix: "lane1", Format: "fastq.gz"}
	require.Equal(t, "/data/out/lane1#s1.fastq.gz", s.DestinationPath("s1"))
	require.Equal(t, "/data/out/lane1#0.fastq.gz", s.DestinationPath("0"))
}

func TestRouterSplitCreatesEveryDestination(t *testing.T) {
	o := &memOpener{}
	pg := Program{ID: "decode_index", Name: "decode_index"}
	r, err := NewRouter(Split{Dir: "out", Prefix: "p", Format: "sam"}, newTable(t), ReadGroup{ID: "1", Library: "unknown", PlatformUnit: "run7_1"}, pg, o.open)
	require.NoError(t, err)

	require.Len(t, o.sinks, 3)
	require.Equal(t, filepath.Join("out", "p#0.sam"), o.sinks[0].dest.Path)
	require.Equal(t, filepath.Join("out", "p#s1.sam"), o.sinks[1].dest.Path)
	require.Equal(t, filepath.Join("out", "p#2.sam"), o.sinks[2].dest.Path)

	require.Equal(t, []ReadGroup{{ID: "1#0", Library: "unknown", PlatformUnit: "run7_1#0"}}, o.sinks[0].dest.Header.ReadGroups)
	require.Equal(t, []ReadGroup{{ID: "1#s1", Library: "libA", PlatformUnit: "run7_1#s1"}}, o.sinks[1].dest.Header.ReadGroups)
	for _, s := range o.sinks {
		require.Equal(t, pg, s.dest.Header.Program)
	}

	a, b := &Record{Name: "a"}, &Record{Name: "b"}
	require.NoError(t, r.Dispatch(1, a, b))
	require.NoError(t, r.Dispatch(0, &Record{Name: "c"}))
	require.Equal(t, []*Record{a, b}, o.sinks[1].records)
	require.Len(t, o.sinks[0].records, 1)
	require.Empty(t, o.sinks[2].records)
	require.Equal(t, int64(2), r.Written(1))
	require.Equal(t, int64(0), r.Written(2))

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	for _, s := range o.sinks {
		require.Equal(t, 1, s.closes)
	}
	require.ErrorIs(t, r.Dispatch(1, a), ErrClosed)
}

func TestRouterMergedSharesOneSink(t *testing.T) {
	o := &memOpener{}
	r, err := NewRouter(Merged{Path: "all.fastq"}, newTable(t), ReadGroup{ID: "7"}, Program{}, o.open)
	require.NoError(t, err)
	require.Len(t, o.sinks, 1)
	require.Equal(t, []int{0, 1, 2}, o.sinks[0].dest.Ordinals)
	require.Len(t, o.sinks[0].dest.Header.ReadGroups, 3)

	for ord := 0; ord <= 2; ord++ {
		require.NoError(t, r.Dispatch(ord, &Record{Name: "x"}))
		require.Equal(t, "all.fastq", r.Destination(ord).Path)
	}
	require.Len(t, o.sinks[0].records, 3)
	require.Len(t, r.Destinations(), 1)
	require.NoError(t, r.Close())
	require.Equal(t, 1, o.sinks[0].closes)
}

func TestRouterOpenFailureClosesOpened(t *testing.T) {
	o := &memOpener{failAt: 3}
	_, err := NewRouter(Split{Dir: "out", Prefix: "p", Format: "fq"}, newTable(t), ReadGroup{ID: "1"}, Program{}, o.open)
	require.True(t, errdefs.IsIO(err))
	require.Len(t, o.sinks, 2)
	for _, s := range o.sinks {
		require.Equal(t, 1, s.closes)
	}
}

func TestRouterRejectsUnknownFormat(t *testing.T) {
	_, err := NewRouter(Split{Dir: "out", Prefix: "p", Format: "cram"}, newTable(t), ReadGroup{ID: "1"}, Program{}, (&memOpener{}).open)
	require.True(t, errdefs.IsConfig(err))
}

func TestRouterWriteFailure(t *testing.T) {
	o := &memOpener{}
	r, err := NewRouter(Merged{Path: "all.sam"}, newTable(t), ReadGroup{ID: "1"}, Program{}, o.open)
	require.NoError(t, err)
	o.sinks[0].failOn = 2

	err = r.Dispatch(1, &Record{Name: "a"}, &Record{Name: "b"})
	require.True(t, errdefs.IsIO(err))
	require.ErrorContains(t, err, "disk full")
	require.Equal(t, int64(1), r.Written(1))
	require.NoError(t, r.Close())
}

func TestRouterDispatchPanicsOnBadOrdinal(t *testing.T) {
	r, err := NewRouter(Merged{Path: "all.sam"}, newTable(t), ReadGroup{ID: "1"}, Program{}, (&memOpener{}).open)
	require.NoError(t, err)
	defer r.Close()
	require.Panics(t, func() { _ = r.Dispatch(3) })
	require.Panics(t, func() { _ = r.Dispatch(-1) })
}

func TestFastqEncoder(t *testing.T) {
	var buf bytes.Buffer
	enc, err := newEncoder(FASTQ, &buf, Header{ReadGroups: []ReadGroup{{ID: "1#s1"}}})
	require.NoError(t, err)
	require.NoError(t, enc.encode(&Record{
		Name:  "r1#s1",
		Bases: []byte("TTTT"),
		Qual:  []byte{40, 40, 30, 2},
		Tags:  []Tag{{"RG", "1#s1"}, {"BC", "ATCACG"}, {"QT", "IIIIII"}},
		Pair:  First,
	}))
	require.NoError(t, enc.encode(&Record{Name: "r2#0", Tags: []Tag{{"RG", "1#0"}}}))
	require.NoError(t, enc.close())
	require.Equal(t,
		"@r1#s1/1 RG:Z:1#s1\tBC:Z:ATCACG\tQT:Z:IIIIII\nTTTT\n+\nII?#\n"+
			"@r2#0 RG:Z:1#0\n\n+\n\n",
		buf.String())
}

// headerLines returns the lines of SAM text starting with tag.
func headerLines(text, tag string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if strings.HasPrefix(l, tag+"\t") {
			out = append(out, l)
		}
	}
	return out
}

func readSAM(t *testing.T, r io.Reader) []*sam.Record {
	t.Helper()
	sr, err := sam.NewReader(r)
	require.NoError(t, err)
	var recs []*sam.Record
	for {
		rec, err := sr.Read()
		if errors.Is(err, io.EOF) {
			return recs
		}
		require.NoError(t, err)
		recs = append(recs, rec)
	}
}

func auxValue(rec *sam.Record, tag string) interface{} {
	a := rec.AuxFields.Get(sam.NewTag(tag))
	if a == nil {
		return nil
	}
	return a.Value()
}

var samHeaderFixture = Header{
	ReadGroups: []ReadGroup{
		{ID: "1#s1", Sample: "NA12878", Library: "libA", Description: "Study s", PlatformUnit: "run7_1#s1", Platform: "ILLUMINA", SequencingCenter: "SC"},
		{ID: "1#0", Library: "unknown"},
	},
	Program: Program{ID: "decode_index", Name: "decode_index", CommandLine: "decode_index --output all.sam"},
}

func TestSamEncoder(t *testing.T) {
	var buf bytes.Buffer
	enc, err := newEncoder(SAM, &buf, samHeaderFixture)
	require.NoError(t, err)
	require.NoError(t, enc.encode(&Record{
		Name: "r1#s1", Bases: []byte("TTTT"), Qual: []byte{40, 40, 30, 2},
		Tags: []Tag{{"RG", "1#s1"}, {"BC", "ATCACG"}}, Pair: First,
	}))
	require.NoError(t, enc.encode(&Record{Name: "r1#s1", Bases: []byte("gg."), Qual: []byte{0, 0, 0}, Pair: Second}))
	require.NoError(t, enc.encode(&Record{Name: "r2#0", Tags: []Tag{{"RG", "1#0"}}}))
	require.NoError(t, enc.close())
	text := buf.String()

	require.True(t, strings.HasPrefix(text, "@HD\tVN:1.6\tSO:unsorted\n"), text)
	rgs := headerLines(text, "@RG")
	require.Len(t, rgs, 2)
	for _, field := range []string{"ID:1#s1", "SM:NA12878", "LB:libA", "DS:Study s", "PU:run7_1#s1", "PL:ILLUMINA", "CN:SC"} {
		require.Contains(t, rgs[0], "\t"+field)
	}
	pgs := headerLines(text, "@PG")
	require.Len(t, pgs, 1)
	require.Contains(t, pgs[0], "\tID:decode_index")
	require.Contains(t, pgs[0], "\tCL:decode_index --output all.sam")

	recs := readSAM(t, strings.NewReader(text))
	require.Len(t, recs, 3)

	require.Equal(t, "r1#s1", recs[0].Name)
	require.Equal(t, sam.Flags(77), recs[0].Flags)
	require.Equal(t, -1, recs[0].Pos)
	require.Equal(t, "TTTT", string(recs[0].Seq.Expand()))
	require.Equal(t, []byte{40, 40, 30, 2}, recs[0].Qual)
	require.Equal(t, "1#s1", auxValue(recs[0], "RG"))
	require.Equal(t, "ATCACG", auxValue(recs[0], "BC"))

	require.Equal(t, sam.Flags(141), recs[1].Flags)
	require.Equal(t, "GGN", string(recs[1].Seq.Expand()))

	require.Equal(t, sam.Flags(4), recs[2].Flags)
	require.Zero(t, recs[2].Seq.Length)
	require.Equal(t, "1#0", auxValue(recs[2], "RG"))
}

func TestSamEncoderRejectsBadTag(t *testing.T) {
	enc, err := newEncoder(SAM, io.Discard, Header{})
	require.NoError(t, err)
	require.ErrorContains(t, enc.encode(&Record{Name: "r", Tags: []Tag{{"BCX", "A"}}}), "two characters")
}

func TestSamHeaderRejectsDuplicateReadGroups(t *testing.T) {
	_, err := newEncoder(SAM, io.Discard, Header{ReadGroups: []ReadGroup{{ID: "1#a"}, {ID: "1#a"}}})
	require.Error(t, err)
}

func TestWriterBAM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bam")
	w, err := NewWriter(path, BAM, samHeaderFixture, 2)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, w.Write(&Record{
			Name: fmt.Sprintf("r%d#s1", i), Bases: []byte("ACGT"), Qual: []byte{30, 30, 30, 30},
			Tags: []Tag{{"RG", "1#s1"}}, Pair: Pair(i % 3),
		}))
	}
	require.NoError(t, w.Close())

	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	br, err := bam.NewReader(fh, 1)
	require.NoError(t, err)
	defer br.Close()

	require.Len(t, br.Header().RGs(), 2)
	var names []string
	for {
		rec, err := br.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		require.Equal(t, "ACGT", string(rec.Seq.Expand()))
		require.Equal(t, "1#s1", auxValue(rec, "RG"))
		names = append(names, rec.Name)
	}
	require.Equal(t, []string{"r0#s1", "r1#s1", "r2#s1", "r3#s1", "r4#s1"}, names)
}

func TestWriterPreservesOrderAcrossBatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.sam.gz")
	w, err := NewWriter(path, SAM, Header{}, 3)
	require.NoError(t, err)

	var want []string
	for i := 0; i < 10; i++ {
		r := &Record{Name: string(rune('a' + i)), Bases: []byte("A"), Qual: []byte{30}}
		require.NoError(t, w.Write(r))
		want = append(want, r.Name)
	}
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.ErrorIs(t, w.Write(&Record{}), ErrClosed)

	fh, err := xopen.Ropen(path)
	require.NoError(t, err)
	defer fh.Close()
	var got []string
	for _, rec := range readSAM(t, fh) {
		got = append(got, rec.Name)
	}
	require.Equal(t, want, got)
}

// countRecords counts the records of a FASTQ file.
func countRecords(t *testing.T, path string) int {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Count(string(b), "\n+\n")
}

func TestSplitFilesHoldEveryDispatchedRecord(t *testing.T) {
	dir := t.TempDir()
	tbl, err := barcode.New([]barcode.Candidate{
		{Sequence: "ATCACG", Name: "2"},
		{Sequence: "CGATGT", Name: "1"},
		{Sequence: "TTAGGC"},
	})
	require.NoError(t, err)

	r, err := NewRouter(Split{Dir: dir, Prefix: "lane1", Format: "fastq"}, tbl, ReadGroup{ID: "1"}, Program{}, OpenFile)
	require.NoError(t, err)
	for ord := 0; ord <= tbl.Count(); ord++ {
		for i := 0; i <= ord; i++ {
			require.NoError(t, r.Dispatch(ord, &Record{Name: fmt.Sprintf("r%d_%d", ord, i), Bases: []byte("A"), Qual: []byte{30}}))
		}
	}
	require.NoError(t, r.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, tbl.Count()+1)

	var dispatched, onDisk int64
	for ord := 0; ord <= tbl.Count(); ord++ {
		n := countRecords(t, r.Destination(ord).Path)
		require.Equal(t, r.Written(ord), int64(n), r.Destination(ord).Path)
		dispatched += r.Written(ord)
		onDisk += int64(n)
	}
	require.Equal(t, int64(10), dispatched)
	require.Equal(t, dispatched, onDisk)
}

type failingWriter struct {
	n int
}

func (f *failingWriter) Write(p []byte) (int, error) {
	f.n++
	if f.n > 2 {
		return 0, errors.New("broken pipe")
	}
	return len(p), nil
}

func (f *failingWriter) Close() error { return nil }

func TestWriterReportsEncodeError(t *testing.T) {
	out := &failingWriter{}
	w := newWriter("pipe", out, &fastqEncoder{w: out}, 1)

	var werr error
	for i := 0; i < 10 && werr == nil; i++ {
		werr = w.Write(&Record{Name: "r"})
	}
	cerr := w.Close()
	require.Error(t, cerr)
	require.True(t, errdefs.IsIO(cerr))
	require.ErrorContains(t, cerr, "broken pipe")
}
