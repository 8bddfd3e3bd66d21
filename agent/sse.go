package agent

import (
	"bufio"
	"bytes"
	"io"
)

// sseScanner iterates the data lines of a server-sent-event stream.
type sseScanner struct {
	scanner *bufio.Scanner
	data    string
	err     error
}

func newSSEScanner(r io.Reader) *sseScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseScanner{scanner: s}
}

func (s *sseScanner) Scan() bool {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if bytes.HasPrefix(line, []byte("data: ")) {
			s.data = string(bytes.TrimPrefix(line, []byte("data: ")))
			return true
		}
		if bytes.HasPrefix(line, []byte("data:")) {
			s.data = string(bytes.TrimPrefix(line, []byte("data:")))
			return true
		}
	}
	s.err = s.scanner.Err()
	return false
}

func (s *sseScanner) Data() string { return s.data }

func (s *sseScanner) Err() error { return s.err }
