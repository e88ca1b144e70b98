package bendload

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// SizeUnknown declares a payload whose length is not known in advance. The
// request is then sent with chunked transfer encoding.
const SizeUnknown int64 = -1

// BodySource supplies the payload of an upload without requiring the whole
// content in memory. Open is called once per transfer attempt; the transport
// closes the returned reader after the attempt. Reusable distinguishes
// sources that can be re-opened for a retried attempt from single-use ones,
// which get exactly one attempt.
type BodySource interface {
	Open() (io.ReadCloser, error)
	Size() int64
	Reusable() bool
}

// FileSource is a re-creatable payload source backed by a file path. Each
// attempt re-opens the file, so retried uploads never resend a partially
// consumed stream.
type FileSource struct {
	path string
	size int64
}

// NewFileSource stats path to learn the true payload length.
func NewFileSource(path string) (*FileSource, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat payload file")
	}
	return &FileSource{path: path, size: fi.Size()}, nil
}

func (s *FileSource) Open() (io.ReadCloser, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open payload file")
	}
	return f, nil
}

func (s *FileSource) Size() int64 { return s.size }

func (s *FileSource) Reusable() bool { return true }

// ReaderSource wraps an arbitrary reader as a one-shot payload. Callers that
// know the content length should pass it; otherwise use SizeUnknown rather
// than relying on any buffering heuristic.
type ReaderSource struct {
	r    io.Reader
	size int64
	used bool
}

func NewReaderSource(r io.Reader, size int64) *ReaderSource {
	return &ReaderSource{r: r, size: size}
}

func (s *ReaderSource) Open() (io.ReadCloser, error) {
	if s.used {
		return nil, errors.New("payload source already consumed")
	}
	s.used = true
	if rc, ok := s.r.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(s.r), nil
}

func (s *ReaderSource) Size() int64 { return s.size }

func (s *ReaderSource) Reusable() bool { return false }
