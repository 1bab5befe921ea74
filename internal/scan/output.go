package scan

import (
	"bufio"
	"fmt"
	"net"
	"os"

	"github.com/golang/glog"
)

// Sink consumes confirmed hits from the harvester. The minimal
// contract: receive IPv4 addresses, render each as dotted-quad plus
// newline, persist, exit cleanly on die. Per spec.md §4.7, a sink
// failure is fatal and reported to the caller via sinkErr.
type Sink interface {
	// run drains hits until the channel closes or die fires, and
	// returns the first persistence error it hits, if any.
	run(hits <-chan net.IP, die *dieSignal) error
}

// FileSink is the default sink: it appends one dotted-quad address per
// line to a file opened with create-and-append semantics, mirroring
// the teacher's (`original_source/scan/output.rs`) FileOut.
type FileSink struct {
	path string
	file *os.File
	w    *bufio.Writer
}

// NewFileSink opens path for append, creating it if necessary.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file %q: %w", path, err)
	}
	return &FileSink{path: path, file: f, w: bufio.NewWriter(f)}, nil
}

func (s *FileSink) run(hits <-chan net.IP, die *dieSignal) error {
	glog.V(2).Infoln("output sink starting")
	defer s.file.Close()

	for {
		select {
		case ip, ok := <-hits:
			if !ok {
				return s.flush()
			}
			if _, err := fmt.Fprintf(s.w, "%s\n", ip.String()); err != nil {
				return fmt.Errorf("write hit to %q: %w", s.path, err)
			}
			if err := s.w.Flush(); err != nil {
				return fmt.Errorf("flush %q: %w", s.path, err)
			}
		case <-die.wait():
			glog.V(2).Infoln("output sink terminating")
			return s.flush()
		}
	}
}

func (s *FileSink) flush() error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush %q: %w", s.path, err)
	}
	return nil
}
