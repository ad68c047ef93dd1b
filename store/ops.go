package store

import (
	"bytes"
	"sort"

	"go.etcd.io/bbolt"
)

// encryptionTarget reports whether ns participates in per-record
// encryption when the store was opened with Encrypted=true. The private
// namespace always encrypts (handled separately in private.go) and is
// never routed through these generic ops for its well-known names.
func (s *Store) encryptionTarget(ns Namespace) bool {
	return s.encrypted && ns != NSPrivate && !appendable(ns)
}

// WriteUnique creates the record if absent; it never overwrites. The
// returned WriteStatus distinguishes a fresh write from a no-op on an
// already-present name.
func (s *Store) WriteUnique(ns Namespace, name string, content []byte) (WriteStatus, error) {
	payload, err := s.maybeSeal(ns, content)
	if err != nil {
		return 0, err
	}
	status := StatusNew
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := bucket(tx, ns)
		if b.Get([]byte(name)) != nil {
			status = StatusAlreadyExisted
			return nil
		}
		return b.Put([]byte(name), payload)
	})
	if err != nil {
		return 0, err
	}
	return status, nil
}

// WriteOverwrite replaces ns/name unconditionally. Only vmap/rmap support
// this.
func (s *Store) WriteOverwrite(ns Namespace, name string, content []byte) error {
	if !appendable(ns) {
		return errNotSupported("write_overwrite", ns)
	}
	payload, err := s.maybeSeal(ns, content)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return bucket(tx, ns).Put([]byte(name), payload)
	})
}

// Append does an atomic read-modify-write, creating the record if absent.
// Only vmap/rmap support this; both namespaces store their content
// unencrypted line-structured text, since they are indexes whose
// confidentiality doesn't matter and which must remain byte-appendable —
// the append-is-a-byte-prefix invariant would not survive being re-sealed
// with a fresh nonce on every append.
func (s *Store) Append(ns Namespace, name string, chunk []byte) error {
	if !appendable(ns) {
		return errNotSupported("append", ns)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := bucket(tx, ns)
		cur := b.Get([]byte(name))
		out := make([]byte, 0, len(cur)+len(chunk))
		out = append(out, cur...)
		out = append(out, chunk...)
		return b.Put([]byte(name), out)
	})
}

// Read returns the stored bytes for ns/name, decrypting if the store is
// encrypted. Fails with FileNotFound if absent.
func (s *Store) Read(ns Namespace, name string) ([]byte, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := bucket(tx, ns).Get([]byte(name))
		if v == nil {
			return errNotFound(ns, name)
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.maybeOpen(ns, raw)
}

// ReadRange applies character-offset semantics for text namespaces and
// byte-offset semantics for opaque blobs. A negative offset counts from
// the end; a slice exceeding the file's bounds is OutOfRange.
func (s *Store) ReadRange(ns Namespace, name string, offset, length int) ([]byte, error) {
	content, err := s.Read(ns, name)
	if err != nil {
		return nil, err
	}
	if textual(ns) {
		runes := []rune(string(content))
		start, end, ok := sliceBounds(len(runes), offset, length)
		if !ok {
			return nil, errOutOfRange(ns, name, offset, length)
		}
		return []byte(string(runes[start:end])), nil
	}
	start, end, ok := sliceBounds(len(content), offset, length)
	if !ok {
		return nil, errOutOfRange(ns, name, offset, length)
	}
	return content[start:end], nil
}

func sliceBounds(total, offset, length int) (start, end int, ok bool) {
	if offset < 0 {
		offset = total + offset
	}
	if offset < 0 || offset > total {
		return 0, 0, false
	}
	end = offset + length
	if length < 0 || end > total {
		return 0, 0, false
	}
	return offset, end, true
}

// Exists is a pure existence query.
func (s *Store) Exists(ns Namespace, name string) (bool, error) {
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = bucket(tx, ns).Get([]byte(name)) != nil
		return nil
	})
	return found, err
}

// Size returns the exact byte size for plaintext records, or an
// approximation bounded by +-16 bytes for encrypted ones.
func (s *Store) Size(ns Namespace, name string) (int, error) {
	var stored []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := bucket(tx, ns).Get([]byte(name))
		if v == nil {
			return errNotFound(ns, name)
		}
		stored = v
		return nil
	})
	if err != nil {
		return 0, err
	}
	if s.encryptionTarget(ns) {
		return approxPlaintextSize(len(stored)), nil
	}
	return len(stored), nil
}

// List returns an Iterator over names in ns, optionally restricted to a
// prefix: a lazily-advancing sequence rather than a materialized slice.
// Names are yielded in bolt's natural (sorted) key order.
func (s *Store) List(ns Namespace, prefix string) (*Iterator, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, err
	}
	b := bucket(tx, ns)
	c := b.Cursor()
	return &Iterator{tx: tx, cursor: c, prefix: []byte(prefix)}, nil
}

// Iterator is a single-consumer, lazily-advancing sequence of bucket keys
// backed by one held-open read transaction; Close (or exhausting it via
// Next) releases the transaction.
type Iterator struct {
	tx     *bbolt.Tx
	cursor *bbolt.Cursor
	prefix []byte
	key    []byte
	done   bool
	first  bool
}

// Next advances the iterator and reports whether a name is available.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	var k []byte
	if !it.first {
		it.first = true
		if len(it.prefix) > 0 {
			k, _ = it.cursor.Seek(it.prefix)
		} else {
			k, _ = it.cursor.First()
		}
	} else {
		k, _ = it.cursor.Next()
	}
	if k == nil || (len(it.prefix) > 0 && !bytes.HasPrefix(k, it.prefix)) {
		it.done = true
		_ = it.tx.Rollback()
		return false
	}
	it.key = append([]byte(nil), k...)
	return true
}

// Name returns the current key; valid only after a true-returning Next.
func (it *Iterator) Name() string { return string(it.key) }

// Close releases the held read transaction if the sequence was abandoned
// before exhaustion.
func (it *Iterator) Close() error {
	if it.done {
		return nil
	}
	it.done = true
	return it.tx.Rollback()
}

// Delete removes ns/name; a no-op if absent.
func (s *Store) Delete(ns Namespace, name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return bucket(tx, ns).Delete([]byte(name))
	})
}

func (s *Store) maybeSeal(ns Namespace, content []byte) ([]byte, error) {
	if !s.encryptionTarget(ns) {
		return content, nil
	}
	if s.keys == nil {
		return nil, errEncryptionNotInitialized()
	}
	kind := kindBinary
	if textual(ns) {
		kind = kindString
	}
	return seal(s.keys.storageKey, kind, content)
}

func (s *Store) maybeOpen(ns Namespace, stored []byte) ([]byte, error) {
	if !s.encryptionTarget(ns) {
		return stored, nil
	}
	if s.keys == nil {
		return nil, errEncryptionNotInitialized()
	}
	_, content, err := open(s.keys.storageKey, stored)
	if err != nil {
		return nil, err
	}
	return content, nil
}

// sortNames sorts names drained from an Iterator; nothing in the package
// calls it, since the Iterator itself already yields bolt's natural sorted
// order.
func sortNames(names []string) {
	sort.Strings(names)
}
