package backend

import (
	"context"
	"errors"
	"io"
)

// ErrDoesNotExist is returned when the requested object is not in the
// backend.
var ErrDoesNotExist = errors.New("does not exist")

// ObjectInfo describes one object returned by List.
type ObjectInfo struct {
	// Name is the full object key relative to the backend root.
	Name string
	// Size is the object size in bytes.
	Size int64
}

// Reader is the read-side contract an object store must provide: full
// reads, range reads, and recursive listing. Implementations are safe for
// concurrent use and cheap to share.
type Reader interface {
	// Read returns the entire object.
	Read(ctx context.Context, name string) ([]byte, error)

	// ReadRange fills buf with object bytes starting at offset. Short
	// reads are errors.
	ReadRange(ctx context.Context, name string, offset int64, buf []byte) error

	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Shutdown releases any held resources.
	Shutdown()
}

// ReaderAt adapts a backend object to io.ReaderAt so it can back a
// parquet footer and page reader. Each call turns into one range read;
// there is no caching at this layer.
type ReaderAt struct {
	ctx  context.Context
	r    Reader
	name string
	size int64
}

var _ io.ReaderAt = (*ReaderAt)(nil)

func NewReaderAt(ctx context.Context, r Reader, name string, size int64) *ReaderAt {
	return &ReaderAt{ctx: ctx, r: r, name: name, size: size}
}

func (ra *ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= ra.size {
		return 0, io.EOF
	}

	n := len(p)
	if off+int64(n) > ra.size {
		n = int(ra.size - off)
	}

	if err := ra.r.ReadRange(ra.ctx, ra.name, off, p[:n]); err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the object size the reader was created with.
func (ra *ReaderAt) Size() int64 { return ra.size }
