package decode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/stream"
	"go.uber.org/zap"

	"github.com/Altius/stampipes/programs/decode_index/internal/barcode"
	"github.com/Altius/stampipes/programs/decode_index/internal/demux"
	"github.com/Altius/stampipes/programs/decode_index/internal/errdefs"
	"github.com/Altius/stampipes/programs/decode_index/internal/fastq"
	"github.com/Altius/stampipes/programs/decode_index/internal/logger"
	"github.com/Altius/stampipes/programs/decode_index/internal/match"
	"github.com/Altius/stampipes/programs/decode_index/internal/metrics"
	"github.com/Altius/stampipes/programs/decode_index/internal/quality"
)

// ErrAlreadyRun is returned when Run is called on an engine that has left Idle.
var ErrAlreadyRun = errors.New("decode: engine has already run")

// ErrMateMismatch is returned in strict mode when mates disagree.
var ErrMateMismatch = errors.New("mates disagree")

// State is the lifecycle stage of an Engine.
type State int32

const (
	Idle State = iota
	Configuring
	Streaming
	Finalizing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Configuring:
		return "configuring"
	case Streaming:
		return "streaming"
	case Finalizing:
		return "finalizing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Barcode collisions are only enumerated up to this mismatch bound.
const maxCollisionDistance = 2

// Engine decodes one input. It is single use.
type Engine struct {
	settings  Settings
	logger    logger.Logger
	opener    demux.Opener
	collector *metrics.Collector
	state     atomic.Int32
}

type Option func(*Engine)

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithOpener replaces how destinations are opened.
func WithOpener(o demux.Opener) Option {
	return func(e *Engine) {
		e.opener = o
	}
}

// WithCollector counts reads and written records in c.
func WithCollector(c *metrics.Collector) Option {
	return func(e *Engine) {
		e.collector = c
	}
}

func New(settings Settings, opts ...Option) *Engine {
	e := &Engine{
		settings: settings,
		logger:   logger.NewNoopLogger(),
		opener:   demux.OpenFile,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// run is the state of one Run call.
type run struct {
	table      *barcode.Table
	classifier match.Classifier
	router     *demux.Router
	acc        *metrics.Accumulator
}

// decoded is a read after classification and annotation.
type decoded struct {
	res           match.Result
	ordinal       int
	passingFilter bool
	records       []*demux.Record
}

// Run reads src to the end and returns the finalized metrics. Any error
// stops the run: destinations are closed and the error is returned joined
// with any close errors. Output written before the failure is left in place.
func (e *Engine) Run(ctx context.Context, src fastq.Source) (metrics.Summary, error) {
	if !e.state.CompareAndSwap(int32(Idle), int32(Configuring)) {
		return metrics.Summary{}, ErrAlreadyRun
	}
	start := time.Now()

	r, stop, err := e.configure()
	if err != nil {
		e.setState(Failed)
		e.finished()
		return metrics.Summary{}, err
	}
	defer stop()

	e.setState(Streaming)
	if err := e.stream(ctx, src, r); err != nil {
		e.setState(Failed)
		e.finished()
		return metrics.Summary{}, errors.Join(err, r.router.Close())
	}

	e.setState(Finalizing)
	if err := r.router.Close(); err != nil {
		e.setState(Failed)
		e.finished()
		return metrics.Summary{}, err
	}
	summary := r.acc.Finalize()
	e.setState(Done)
	e.finished()

	e.logger.Info("decoding finished",
		zap.Int64("reads", summary.Global.Reads),
		zap.Int64("matched", summary.Global.Matched()),
		zap.Int64("unmatched", summary.Unmatched.Reads),
		zap.Float64("pct_matches", summary.Global.PctMatches),
		zap.Duration("elapsed", time.Since(start)),
	)
	return summary, nil
}

func (e *Engine) finished() {
	if e.collector != nil {
		e.collector.RunFinished(e.State().String())
	}
}

func (e *Engine) configure() (*run, func(), error) {
	s := e.settings
	if s.Output == nil {
		return nil, nil, errdefs.Configf("no output mode")
	}
	table, err := barcode.FromSource(s.Barcodes)
	if err != nil {
		return nil, nil, err
	}
	m, err := match.New(table, s.Match)
	if err != nil {
		return nil, nil, err
	}

	r := &run{table: table, classifier: m, acc: metrics.NewAccumulator(table)}
	stop := func() {}
	if s.CacheSize > 0 {
		cached := match.NewCached(m, s.CacheSize)
		r.classifier = cached
		stop = cached.Stop
	}

	if s.Match.MaxMismatches <= maxCollisionDistance {
		if c := table.Collisions(s.Match.MaxMismatches); len(c) > 0 {
			e.logger.Warn("index reads within the mismatch bound of more than one barcode may be rejected as ambiguous",
				zap.Int("sequences", len(c)),
				zap.Strings("examples", c[:min(len(c), 5)]),
			)
		}
	}

	r.router, err = demux.NewRouter(s.Output, table, s.ReadGroup, s.Program, e.opener)
	if err != nil {
		stop()
		return nil, nil, err
	}

	e.logger.Info("decoding",
		zap.Int("barcodes", table.Count()),
		zap.Int("barcode_length", table.Len()),
		zap.Int("destinations", len(r.router.Destinations())),
		zap.Stringer("quality_format", s.Quality),
		zap.Int("max_mismatches", s.Match.MaxMismatches),
		zap.Int("min_mismatch_delta", s.Match.MinMismatchDelta),
		zap.Int("max_no_calls", s.Match.MaxNoCalls),
		zap.Int("threads", max(s.Threads, 1)),
	)
	return r, stop, nil
}

func (e *Engine) stream(ctx context.Context, src fastq.Source, r *run) error {
	if e.settings.Threads > 1 {
		return e.streamParallel(ctx, src, r)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		read, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		d, err := e.decode(r, read)
		if err != nil {
			return err
		}
		if err := e.emit(r, d); err != nil {
			return err
		}
	}
}

// streamParallel decodes on a bounded pool of goroutines. Callbacks run one
// at a time in submission order, so dispatch and tallying see reads in
// input order.
func (e *Engine) streamParallel(ctx context.Context, src fastq.Source, r *run) error {
	var (
		mu     sync.Mutex
		runErr error
	)
	setErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if runErr == nil {
			runErr = err
		}
	}
	getErr := func() error {
		mu.Lock()
		defer mu.Unlock()
		return runErr
	}

	s := stream.New().WithMaxGoroutines(e.settings.Threads)
	for getErr() == nil {
		if err := ctx.Err(); err != nil {
			setErr(err)
			break
		}
		read, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			setErr(err)
			break
		}
		s.Go(func() stream.Callback {
			d, err := e.decode(r, read)
			return func() {
				if getErr() != nil {
					return
				}
				if err == nil {
					err = e.emit(r, d)
				}
				if err != nil {
					setErr(err)
				}
			}
		})
	}
	s.Wait()
	return getErr()
}

// decode classifies and annotates one read. It only reads shared state.
func (e *Engine) decode(r *run, read *fastq.Read) (*decoded, error) {
	n := r.table.Len()
	mate := read.Mate

	if len(read.Bases) < n {
		return nil, errdefs.Record(read.ID, "extract",
			fmt.Errorf("%w: read has %d bases, barcodes have %d", match.ErrShortIndex, len(read.Bases), n))
	}
	if e.settings.Paired {
		if mate == nil {
			return nil, errdefs.Record(read.ID, "extract", fastq.ErrMissingMate)
		}
		if len(mate.Bases) < n {
			return nil, errdefs.Record(mate.ID, "extract",
				fmt.Errorf("%w: mate has %d bases, barcodes have %d", match.ErrShortIndex, len(mate.Bases), n))
		}
	}
	if e.settings.StrictMates && mate != nil {
		if err := checkMates(read, mate, n); err != nil {
			return nil, errdefs.Record(read.ID, "strict-mates", err)
		}
	}

	res, err := r.classifier.Classify(read.Bases)
	if err != nil {
		return nil, errdefs.Record(read.ID, "classify", err)
	}
	ord := barcode.Unmatched
	if res.Matched {
		ord = res.Ordinal
	}

	d := &decoded{res: res, ordinal: ord, passingFilter: read.PassingFilter}
	id := read.ID
	if mate != nil {
		id = fastq.MateID(id)
	}
	name := r.table.Name(ord)

	first, err := e.annotate(read, id, name, res.Matched, n)
	if err != nil {
		return nil, err
	}
	if mate == nil {
		d.records = []*demux.Record{first}
		return d, nil
	}
	second, err := e.annotate(mate, id, name, res.Matched, n)
	if err != nil {
		return nil, err
	}
	first.Pair, second.Pair = demux.First, demux.Second
	d.records = []*demux.Record{first, second}
	return d, nil
}

func checkMates(read, mate *fastq.Read, n int) error {
	if fastq.MateID(read.ID) != fastq.MateID(mate.ID) {
		return fmt.Errorf("%w: names %q and %q", ErrMateMismatch, read.ID, mate.ID)
	}
	if len(mate.Bases) < n {
		return fmt.Errorf("%w: mate shorter than the barcode", ErrMateMismatch)
	}
	if !strings.EqualFold(string(read.Bases[:n]), string(mate.Bases[:n])) {
		return fmt.Errorf("%w: index %q and %q", ErrMateMismatch, read.Bases[:n], mate.Bases[:n])
	}
	return nil
}

// annotate builds the output record of one mate. Matched reads lose their
// first n bases, which move into the barcode and quality tags.
func (e *Engine) annotate(read *fastq.Read, id, name string, matched bool, n int) (*demux.Record, error) {
	phred, err := quality.Reencode(read.Qual, e.settings.Quality)
	if err != nil {
		return nil, errdefs.Record(read.ID, "reencode", err)
	}
	rec := &demux.Record{
		Name:  id + "#" + name,
		Bases: read.Bases,
		Qual:  phred,
		Tags:  []demux.Tag{{Key: "RG", Value: e.settings.ReadGroup.ID + "#" + name}},
	}
	if !matched {
		return rec, nil
	}
	rec.Bases = read.Bases[n:]
	rec.Qual = phred[n:]
	rec.Tags = append(rec.Tags,
		demux.Tag{Key: e.settings.BarcodeTag, Value: strings.ToUpper(string(read.Bases[:n]))},
		demux.Tag{Key: e.settings.QualityTag, Value: quality.Fastq(phred[:n])},
	)
	return rec, nil
}

// emit dispatches and tallies a decoded read. Only one emit runs at a time.
func (e *Engine) emit(r *run, d *decoded) error {
	if err := r.router.Dispatch(d.ordinal, d.records...); err != nil {
		return err
	}
	if err := r.acc.Update(d.ordinal, d.res, d.passingFilter); err != nil {
		return err
	}
	if e.collector != nil {
		e.collector.Observe(r.table.Name(d.ordinal), d.res)
		e.collector.Written(r.router.Destination(d.ordinal).Path, len(d.records))
	}
	return nil
}
