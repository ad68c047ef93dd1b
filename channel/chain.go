package channel

import (
	"github.com/refinio/one-core/hashing"
	"github.com/refinio/one-core/store"
)

// loadChain walks head through Previous back to the tail, returning entries
// head-first: strictly descending by (creationTime, creationTimeHash). A
// zero head means an empty channel.
func loadChain(st *store.Store, head hashing.Hash) ([]Entry, error) {
	if head.IsZero() {
		return nil, nil
	}
	var out []Entry
	cur := head
	for {
		e, err := loadEntry(st, cur)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if e.Tail {
			return out, nil
		}
		cur = e.Previous
	}
}

func loadEntry(st *store.Store, h hashing.Hash) (Entry, error) {
	raw, err := st.Read(store.NSObject, h.String())
	if err != nil {
		return Entry{}, err
	}
	return decodeEntry(raw)
}

func storeEntry(st *store.Store, e Entry) (hashing.Hash, error) {
	h := e.Hash()
	if _, err := st.WriteUnique(store.NSObject, h.String(), e.encode()); err != nil {
		return hashing.Hash{}, err
	}
	return h, nil
}

func storeCreationTime(st *store.Store, c CreationTime) error {
	h := c.Hash()
	_, err := st.WriteUnique(store.NSObject, h.String(), c.encode())
	return err
}

// entryData is the logical (hash-independent) content of a chain position,
// used while rebuilding: Previous/Tail are recomputed by rebuildChain, never
// carried over, since they depend on what ends up beside the entry in the
// rebuilt order.
type entryData struct {
	CreationTime     int64
	CreationTimeHash hashing.Hash
	PayloadHash      hashing.Hash
	Metadata         []hashing.Hash
}

func toEntryData(entries []Entry) []entryData {
	out := make([]entryData, len(entries))
	for i, e := range entries {
		out[i] = entryData{CreationTime: e.CreationTime, CreationTimeHash: e.CreationTimeHash, PayloadHash: e.PayloadHash, Metadata: e.Metadata}
	}
	return out
}

// rebuildChain writes every entry of ordered (head-first, already in
// descending (creationTime, creationTimeHash) order) as a fresh Merkle chain
// and returns the new head hash. Entries whose neighbors didn't change
// re-derive their original hash, so WriteUnique is a no-op for them: only
// entries above the insertion point acquire a new hash, entries at or below
// it do not. When maxSize is positive, only the first maxSize entries
// (closest to the head) are kept, truncating the tail during rebuild.
func rebuildChain(st *store.Store, ordered []entryData, maxSize int) (hashing.Hash, error) {
	if len(ordered) == 0 {
		return hashing.Hash{}, nil
	}
	if maxSize > 0 && len(ordered) > maxSize {
		ordered = ordered[:maxSize]
	}
	var prev hashing.Hash
	tail := true
	for i := len(ordered) - 1; i >= 0; i-- {
		d := ordered[i]
		e := Entry{
			CreationTime:     d.CreationTime,
			CreationTimeHash: d.CreationTimeHash,
			PayloadHash:      d.PayloadHash,
			Metadata:         d.Metadata,
			Previous:         prev,
			Tail:             tail,
		}
		h, err := storeEntry(st, e)
		if err != nil {
			return hashing.Hash{}, err
		}
		prev = h
		tail = false
	}
	return prev, nil
}

// Insert finds the first existing node whose key is not greater than the
// new one, splices the new entry in ahead of it, and rebuilds everything
// above the splice point.
func Insert(st *store.Store, chain []Entry, t int64, payloadHash hashing.Hash, metadata []hashing.Hash, maxSize int) (hashing.Hash, Entry, error) {
	ct := CreationTime{Timestamp: t, PayloadHash: payloadHash}
	if err := storeCreationTime(st, ct); err != nil {
		return hashing.Hash{}, Entry{}, err
	}
	c := ct.Hash()

	i := 0
	for i < len(chain) && compareKey(chain[i].CreationTime, chain[i].CreationTimeHash, t, c) > 0 {
		i++
	}

	newData := entryData{CreationTime: t, CreationTimeHash: c, PayloadHash: payloadHash, Metadata: metadata}
	ordered := make([]entryData, 0, len(chain)+1)
	ordered = append(ordered, toEntryData(chain[:i])...)
	ordered = append(ordered, newData)
	ordered = append(ordered, toEntryData(chain[i:])...)

	head, err := rebuildChain(st, ordered, maxSize)
	if err != nil {
		return hashing.Hash{}, Entry{}, err
	}
	// Reload the rebuilt entry rather than reconstructing it by hand, so the
	// returned Entry.Hash() always matches what is actually on disk (its
	// Previous/Tail depend on where the splice landed and on maxSize
	// truncation, not just on the fields the caller supplied).
	rebuilt, err := loadChain(st, head)
	if err != nil {
		return hashing.Hash{}, Entry{}, err
	}
	var newEntry Entry
	for _, e := range rebuilt {
		if e.CreationTimeHash == c {
			newEntry = e
			break
		}
	}
	return head, newEntry, nil
}

func containsCreationTimeHash(chain []Entry, h hashing.Hash) bool {
	for _, e := range chain {
		if e.CreationTimeHash == h {
			return true
		}
	}
	return false
}
