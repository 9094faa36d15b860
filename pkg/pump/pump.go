package pump

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// DefaultBufferSize is the chunk size used for a single read.
const DefaultBufferSize = 1024 * 1024

// Fault describes an I/O failure on one side of a pump.
type Fault struct {
	Pump string
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("pump %s: %s: %v", f.Pump, f.Op, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Result is what a finished pump reports back to whoever joins it.
type Result struct {
	Name  string
	Bytes int64
	Err   error
}

type Option func(*Pump)

func WithBufferSize(size int) Option {
	return func(p *Pump) {
		if size > 0 {
			p.bufSize = size
		}
	}
}

// Pump copies everything from src to dst and closes dst when src is exhausted.
// It never closes src.
type Pump struct {
	name    string
	src     io.Reader
	dst     io.WriteCloser
	bufSize int

	once   sync.Once
	done   chan struct{}
	result Result
}

func New(name string, src io.Reader, dst io.WriteCloser, opts ...Option) *Pump {
	p := &Pump{
		name:    name,
		src:     src,
		dst:     dst,
		bufSize: DefaultBufferSize,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start creates a pump and starts copying in the background.
func Start(name string, src io.Reader, dst io.WriteCloser, opts ...Option) *Pump {
	p := New(name, src, dst, opts...)
	p.Start()
	return p
}

func (p *Pump) Name() string { return p.name }

// Start begins the copy on its own goroutine. Calling it again has no effect.
func (p *Pump) Start() {
	p.once.Do(func() {
		go p.run()
	})
}

// Join blocks until the copy has finished, successfully or not.
func (p *Pump) Join() Result {
	<-p.done
	return p.result
}

// Done is closed once the pump has finished.
func (p *Pump) Done() <-chan struct{} {
	return p.done
}

func (p *Pump) run() {
	defer close(p.done)

	n, err := p.copy()
	if closeErr := p.dst.Close(); closeErr != nil && err == nil {
		err = &Fault{Pump: p.name, Op: "close", Err: closeErr}
	}

	p.result = Result{Name: p.name, Bytes: n, Err: err}
}

func (p *Pump) copy() (int64, error) {
	buf := make([]byte, p.bufSize)

	var total int64
	for {
		nr, rerr := p.src.Read(buf)
		if nr > 0 {
			nw, werr := p.dst.Write(buf[:nr])
			total += int64(nw)
			if werr == nil && nw != nr {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return total, &Fault{Pump: p.name, Op: "write", Err: werr}
			}
		}
		if rerr != nil {
			if isEndOfStream(rerr) {
				return total, nil
			}
			return total, &Fault{Pump: p.name, Op: "read", Err: rerr}
		}
	}
}

// isEndOfStream treats a pipe closed underneath the reader the same as EOF.
func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed)
}

// NopCloser turns an in-memory writer into a sink a pump can close.
func NopCloser(w io.Writer) io.WriteCloser {
	return nopCloser{w}
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
