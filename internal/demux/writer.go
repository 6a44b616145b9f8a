package demux

import (
	"errors"
	"io"
	"sync"

	"github.com/shenwei356/xopen"

	"github.com/Altius/stampipes/programs/decode_index/internal/errdefs"
)

// DefaultBatchSize is how many records a Writer buffers before handing them
// to its goroutine.
const DefaultBatchSize = 128

// ErrClosed is returned when writing to a closed sink or router.
var ErrClosed = errors.New("demux: write after close")

// Sink receives the records of one destination in order.
type Sink interface {
	Write(r *Record) error
	Close() error
}

// Writer writes records in an async fashion.
// Call Close() when you're done!
type Writer struct {
	path    string
	out     io.WriteCloser
	enc     encoder
	size    int
	cache   []*Record
	records chan []*Record
	done    chan struct{}
	closed  bool

	mu  sync.Mutex
	err error
}

var _ Sink = (*Writer)(nil)

// NewWriter opens path (gzipped when it ends in .gz) and writes the header
// for format f. BAM files are BGZF compressed regardless of the suffix. batchSize is how many records to buffer at a time.
func NewWriter(path string, f Format, h Header, batchSize int) (*Writer, error) {
	out, err := xopen.Wopen(path)
	if err != nil {
		return nil, errdefs.IO("open", path, err)
	}
	enc, err := newEncoder(f, out, h)
	if err != nil {
		out.Close()
		return nil, errdefs.IO("write header", path, err)
	}
	return newWriter(path, out, enc, batchSize), nil
}

func newWriter(path string, out io.WriteCloser, enc encoder, batchSize int) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	w := &Writer{
		path:    path,
		out:     out,
		enc:     enc,
		size:    batchSize,
		cache:   make([]*Record, 0, batchSize),
		records: make(chan []*Record), // unbuffered
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	for records := range w.records {
		if w.failed() != nil {
			continue
		}
		for _, r := range records {
			if err := w.enc.encode(r); err != nil {
				w.fail(errdefs.IO("write", w.path, err))
				break
			}
		}
	}
	if err := w.enc.close(); err != nil {
		w.fail(errdefs.IO("write", w.path, err))
	}
	if err := w.out.Close(); err != nil {
		w.fail(errdefs.IO("close", w.path, err))
	}
}

func (w *Writer) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

func (w *Writer) failed() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Write queues r. Errors from earlier batches are reported here as soon as
// they are known. Write must not be called concurrently with itself or Close.
func (w *Writer) Write(r *Record) error {
	if w.closed {
		return ErrClosed
	}
	if err := w.failed(); err != nil {
		return err
	}
	w.cache = append(w.cache, r)
	if len(w.cache) == w.size {
		w.flush()
	}
	return nil
}

// The goroutine keeps the batch, so a new one is allocated for the next
// records.
func (w *Writer) flush() {
	if len(w.cache) == 0 {
		return
	}
	w.records <- w.cache
	w.cache = make([]*Record, 0, w.size)
}

// Close flushes what is buffered, waits for the goroutine to finish and
// closes the file. Closing twice is a no-op.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.flush()
	close(w.records)
	<-w.done
	return w.failed()
}
