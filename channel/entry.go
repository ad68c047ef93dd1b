// Package channel implements the Channel CRDT: a per-(id,
// owner) append-only, content-addressed singly-linked list ordered by
// creation time, merged across replicas by a deterministic algorithm that
// interleaves concurrent histories by (creationTime, creationTimeHash).
// Grounded on core/state_channel.go's per-channel locking and append-only
// history idiom and on the 3aea530b_...hash_chain.go reference fragment's
// descending-chain-walk, dedup-by-hash idiom (also reused by package
// version for its own node encoding).
package channel

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/refinio/one-core/hashing"
)

// CreationTime is the small addressed record a LinkedListEntry's data field
// points at: the post's wall-clock timestamp plus the hash of its payload.
type CreationTime struct {
	Timestamp   int64
	PayloadHash hashing.Hash
}

// Hash is the creationTimeHash used to key a channel entry — unique per
// (timestamp, payload) pair, which is what makes the channel's total order
// a strict lex order.
func (c CreationTime) Hash() hashing.Hash {
	return hashing.Of(c.encode())
}

func (c CreationTime) encode() []byte {
	return []byte(fmt.Sprintf("creationtime\x00%d\x00%s", c.Timestamp, c.PayloadHash.String()))
}

// Entry is one immutable node of a channel's chain. Tail marks the last
// entry (Previous carries no meaning there, since the
// zero Hash is itself a valid-looking 32-byte value and cannot double as a
// sentinel).
type Entry struct {
	CreationTime     int64
	CreationTimeHash hashing.Hash
	PayloadHash      hashing.Hash
	Metadata         []hashing.Hash
	Previous         hashing.Hash
	Tail             bool
}

// Hash is the entry's own content address. Because Previous is folded into
// it, every entry above an insertion point acquires a new hash when the
// chain is rebuilt — the chain is itself a Merkle chain.
func (e Entry) Hash() hashing.Hash {
	return hashing.Of(e.encode())
}

func (e Entry) encode() []byte {
	meta := append([]hashing.Hash(nil), e.Metadata...)
	sortHashes(meta)
	parts := make([]string, len(meta))
	for i, h := range meta {
		parts[i] = h.String()
	}
	prev := ""
	if !e.Tail {
		prev = e.Previous.String()
	}
	var b strings.Builder
	b.WriteString("entry\x00")
	b.WriteString(strconv.FormatInt(e.CreationTime, 10))
	b.WriteByte(0)
	b.WriteString(e.CreationTimeHash.String())
	b.WriteByte(0)
	b.WriteString(e.PayloadHash.String())
	b.WriteByte(0)
	b.WriteString(strings.Join(parts, ","))
	b.WriteByte(0)
	b.WriteString(prev)
	return []byte(b.String())
}

func decodeEntry(raw []byte) (Entry, error) {
	parts := strings.Split(string(raw), "\x00")
	if len(parts) != 6 || parts[0] != "entry" {
		return Entry{}, fmt.Errorf("channel: malformed entry encoding")
	}
	ct, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Entry{}, err
	}
	cth, err := hashing.ParseHash(parts[2])
	if err != nil {
		return Entry{}, err
	}
	ph, err := hashing.ParseHash(parts[3])
	if err != nil {
		return Entry{}, err
	}
	var meta []hashing.Hash
	if parts[4] != "" {
		for _, hx := range strings.Split(parts[4], ",") {
			h, err := hashing.ParseHash(hx)
			if err != nil {
				return Entry{}, err
			}
			meta = append(meta, h)
		}
	}
	e := Entry{CreationTime: ct, CreationTimeHash: cth, PayloadHash: ph, Metadata: meta}
	if parts[5] == "" {
		e.Tail = true
	} else {
		prev, err := hashing.ParseHash(parts[5])
		if err != nil {
			return Entry{}, err
		}
		e.Previous = prev
	}
	return e, nil
}

func sortHashes(hs []hashing.Hash) {
	sort.Slice(hs, func(i, j int) bool { return string(hs[i][:]) < string(hs[j][:]) })
}

// compareKey orders two (creationTime, creationTimeHash) pairs: positive
// when a ranks ahead of b (larger timestamp, or equal timestamp and larger
// hash), zero when equal, negative otherwise. Entries sort by
// (creationTime DESC, creationTimeHash DESC).
func compareKey(aTime int64, aHash hashing.Hash, bTime int64, bHash hashing.Hash) int {
	if aTime != bTime {
		if aTime > bTime {
			return 1
		}
		return -1
	}
	if aHash == bHash {
		return 0
	}
	for i := range aHash {
		if aHash[i] != bHash[i] {
			if aHash[i] > bHash[i] {
				return 1
			}
			return -1
		}
	}
	return 0
}
