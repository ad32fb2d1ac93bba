// Package cryptox computes content digests of bytes while they stream
// through the upload pipeline.
//
// A Digester observes every chunk once, in order, and keeps only the running
// SHA-256 state and byte count. It never retains chunk contents, so memory
// stays bounded however large the upload is.
package cryptox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"iter"

	"github.com/dmitrijs2005/crawlupload/internal/common"
	"github.com/dmitrijs2005/crawlupload/internal/server/models"
)

// DefaultChunkSize is the read size Chunks falls back to.
const DefaultChunkSize = 64 * 1024

// ErrDigesterFinalized is returned when bytes are observed after Finalize.
var ErrDigesterFinalized = errors.New("digester already finalized")

// Digester accumulates size and SHA-256 of the bytes written to it for one
// named object. It is owned by a single ingestion call and is not safe for
// concurrent use.
type Digester struct {
	name      string
	h         hash.Hash
	size      uint64
	finalized bool
	digest    string
}

// NewDigester returns a Digester for the object stored under name.
func NewDigester(name string) *Digester {
	return &Digester{name: name, h: sha256.New()}
}

// Name returns the storage name the digest belongs to.
func (d *Digester) Name() string {
	return d.name
}

// Write observes p. It implements io.Writer so a Digester can sit behind
// io.TeeReader or io.MultiWriter.
func (d *Digester) Write(p []byte) (int, error) {
	if d.finalized {
		return 0, ErrDigesterFinalized
	}
	d.h.Write(p)
	d.size += uint64(len(p))
	return len(p), nil
}

// Finalize freezes the digester and returns the hex digest and total size of
// everything observed. Later calls return the same values.
func (d *Digester) Finalize() (string, uint64) {
	if !d.finalized {
		d.digest = hex.EncodeToString(d.h.Sum(nil))
		d.finalized = true
	}
	return d.digest, d.size
}

// CrawlFile finalizes d and returns the file record for the stored object.
func (d *Digester) CrawlFile() models.CrawlFile {
	digest, size := d.Finalize()
	return models.CrawlFile{
		Filename: d.name,
		Hash:     digest,
		Size:     size,
		Storage:  common.DefaultStorageName,
	}
}

// DigestingReader passes reads through from an underlying reader and feeds
// exactly the bytes returned into a Digester.
type DigestingReader struct {
	r io.Reader
	d *Digester
}

// NewDigestingReader wraps r so every byte read is observed by d.
func NewDigestingReader(r io.Reader, d *Digester) *DigestingReader {
	return &DigestingReader{r: r, d: d}
}

// Read implements io.Reader.
func (dr *DigestingReader) Read(p []byte) (int, error) {
	n, err := dr.r.Read(p)
	if n > 0 {
		if _, werr := dr.d.Write(p[:n]); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// Chunks returns a lazy sequence of chunks read from r. Each chunk is
// observed by d before it is yielded, so d sees every byte exactly once and
// in order. A yielded slice is reused and only valid until the next
// iteration.
//
// Iteration ends after the last chunk. A read failure or a done ctx is
// yielded once as a non-nil error, after which the sequence stops. A
// chunkSize below one means DefaultChunkSize.
func Chunks(ctx context.Context, r io.Reader, chunkSize int, d *Digester) iter.Seq2[[]byte, error] {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return func(yield func([]byte, error) bool) {
		buf := make([]byte, chunkSize)
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			n, err := io.ReadFull(r, buf)
			if n > 0 {
				chunk := buf[:n]
				if _, werr := d.Write(chunk); werr != nil {
					yield(nil, werr)
					return
				}
				if !yield(chunk, nil) {
					return
				}
			}

			switch {
			case err == nil:
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				return
			default:
				yield(nil, err)
				return
			}
		}
	}
}
