package logging

import (
	"io"
	"os"
	"sync/atomic"
)

// sink is the writer every component logger shares. Configure swaps its
// target without touching the loggers.
type sink struct {
	target atomic.Pointer[io.Writer]
}

func newSink(w io.Writer) *sink {
	s := &sink{}
	s.set(w)
	return s
}

func (s *sink) Write(p []byte) (int, error) {
	return (*s.target.Load()).Write(p)
}

func (s *sink) set(w io.Writer) {
	s.target.Store(&w)
}

var output = newSink(os.Stderr)

// SetOutput redirects every component logger to w. Tests use it to
// capture log lines.
func SetOutput(w io.Writer) {
	output.set(w)
}
