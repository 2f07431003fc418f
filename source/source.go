// Package source provides a length-bounded, random access view over the
// bytes of an APK, backed either by a file or by an in-memory buffer.
package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrTruncated is returned when a requested span runs past the end of the source.
var ErrTruncated = errors.New("truncated")

// Reader ...
type Reader struct {
	r      io.ReaderAt
	size   int64
	closer io.Closer
}

// New wraps r, which must hold exactly size bytes.
func New(r io.ReaderAt, size int64) *Reader {
	return &Reader{r: r, size: size}
}

// FromBytes ...
func FromBytes(b []byte) *Reader {
	return New(bytes.NewReader(b), int64(len(b)))
}

// Open opens the file at pth. The caller owns the returned Reader and must
// Close it; prefer WithFile, which releases the file on every path.
func Open(pth string) (*Reader, error) {
	f, err := os.Open(pth)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		if cerr := f.Close(); cerr != nil {
			return nil, fmt.Errorf("%s, close: %s", err, cerr)
		}
		return nil, err
	}
	if fi.IsDir() {
		if err := f.Close(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s is a directory", pth)
	}

	return &Reader{r: f, size: fi.Size(), closer: f}, nil
}

// WithFile opens pth, calls fn with a Reader over it and closes the file
// whether or not fn fails.
func WithFile(pth string, fn func(r *Reader) error) (err error) {
	r, err := Open(pth)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(r)
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

// Size ...
func (r *Reader) Size() int64 {
	return r.size
}

// ReadAt returns a fresh copy of length bytes starting at off.
func (r *Reader) ReadAt(off, length int64) ([]byte, error) {
	if off < 0 || length < 0 || off > r.size || length > r.size-off {
		return nil, fmt.Errorf("read %d bytes at offset %d of %d: %w", length, off, r.size, ErrTruncated)
	}

	buf := make([]byte, length)
	if length == 0 {
		return buf, nil
	}

	n, err := r.r.ReadAt(buf, off)
	if n == len(buf) {
		return buf, nil
	}
	if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("short read of %d bytes at offset %d: %w", length, off, ErrTruncated)
	}
	return nil, err
}

// Tail reads the last n bytes of the source (fewer if the source is smaller)
// and returns them along with the offset of the first returned byte.
func (r *Reader) Tail(n int64) ([]byte, int64, error) {
	if n > r.size {
		n = r.size
	}
	off := r.size - n
	b, err := r.ReadAt(off, n)
	if err != nil {
		return nil, 0, err
	}
	return b, off, nil
}
