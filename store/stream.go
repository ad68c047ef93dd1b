package store

import (
	"encoding/base64"
	"sync/atomic"

	"github.com/refinio/one-core/hashing"
)

// Encoding is how a stream's chunks are framed when opened for reading or
// writing.
type Encoding int

const (
	EncUTF8 Encoding = iota
	EncBase64
	EncBinary
)

const readChunkSize = 64 * 1024

// ReadStream is a finite, non-restartable, single-consumer sequence of
// chunks over an already-stored record, consumed lazily rather than loaded
// whole. encoding fixes how bytes are framed: a text payload must be
// consumed as utf8; a binary payload may be consumed as binary or base64.
type ReadStream struct {
	data     []byte
	pos      int
	encoding Encoding
	canceled atomic.Bool
}

// OpenReadStream reads the full record once (it is already in memory via
// bbolt's mmap, so no extra I/O is incurred) and exposes it chunk-wise.
// A record in a text namespace must be read as utf8 and any other record as
// binary or base64; any other pairing fails with EncodingMismatch before a
// stream is returned.
func (s *Store) OpenReadStream(ns Namespace, name string, encoding Encoding) (*ReadStream, error) {
	data, err := s.Read(ns, name)
	if err != nil {
		return nil, err
	}
	if text := textual(ns); text != (encoding == EncUTF8) {
		want := EncBinary
		if text {
			want = EncUTF8
		}
		return nil, errEncodingMismatch(want, encoding)
	}
	return &ReadStream{data: data, encoding: encoding}, nil
}

// Next returns the next chunk, or ok=false once the stream is exhausted or
// canceled.
func (rs *ReadStream) Next() (chunk []byte, ok bool, err error) {
	if rs.canceled.Load() {
		return nil, false, errStreamCanceled()
	}
	if rs.pos >= len(rs.data) {
		return nil, false, nil
	}
	end := rs.pos + readChunkSize
	if end > len(rs.data) {
		end = len(rs.data)
	}
	raw := rs.data[rs.pos:end]
	rs.pos = end

	switch rs.encoding {
	case EncBase64:
		encoded := base64.StdEncoding.EncodeToString(raw)
		return []byte(encoded), true, nil
	default:
		return raw, true, nil
	}
}

// Cancel transitions the stream to canceled; any in-flight Next call is
// allowed to complete but subsequent calls fail with StreamCanceled.
func (rs *ReadStream) Cancel() {
	rs.canceled.Store(true)
}

// WriteStream accepts a finite sequence of homogeneous chunks (all text or
// all binary, decided by the first chunk) followed by End, which computes
// the hash and writes once, idempotently.
type WriteStream struct {
	store *Store
	ns    Namespace
	name  string // preset for blob-by-name writes; empty means address by content hash

	buf       []byte
	kindSet   bool
	textKind  bool
	canceled  bool
	ended     bool
}

// OpenWriteStream begins a write stream into ns. If name is non-empty the
// final write uses that name (blob-by-name); otherwise End computes the
// content hash and uses its hex form as the name.
func (s *Store) OpenWriteStream(ns Namespace, name string) *WriteStream {
	return &WriteStream{store: s, ns: ns, name: name}
}

// WriteText appends a text chunk. The first call fixes the stream's kind;
// a later WriteBinary call fails with ChunkTypeMismatch.
func (ws *WriteStream) WriteText(s string) error {
	return ws.write([]byte(s), true)
}

// WriteBinary appends a binary chunk.
func (ws *WriteStream) WriteBinary(b []byte) error {
	return ws.write(b, false)
}

func (ws *WriteStream) write(b []byte, text bool) error {
	if ws.canceled {
		return errStreamCanceled()
	}
	if ws.ended {
		return errStreamEnded()
	}
	if !ws.kindSet {
		ws.kindSet = true
		ws.textKind = text
	} else if ws.textKind != text {
		return errChunkTypeMismatch()
	}
	ws.buf = append(ws.buf, b...)
	return nil
}

// End computes the hash (or uses the preset name) and writes once. The
// write is idempotent on the resulting hash: writing the same content
// twice through two different stream instances yields StatusAlreadyExisted
// on the second.
func (ws *WriteStream) End() (hashing.Hash, WriteStatus, error) {
	if ws.canceled {
		return hashing.Hash{}, 0, errStreamCanceled()
	}
	if ws.ended {
		return hashing.Hash{}, 0, errStreamEnded()
	}
	ws.ended = true

	h := hashing.Of(ws.buf)
	name := ws.name
	if name == "" {
		name = h.String()
	}
	status, err := ws.store.WriteUnique(ws.ns, name, ws.buf)
	if err != nil {
		return hashing.Hash{}, 0, err
	}
	return h, status, nil
}

// Cancel aborts the stream: its completion (a later call to End) resolves
// with StreamCanceled and nothing is written.
func (ws *WriteStream) Cancel() {
	ws.canceled = true
}
