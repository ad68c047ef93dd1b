// Package version implements the Version Graph & Maps: Edge, Change, and
// Merge version nodes; the per-identity version map; and the
// reverse-map index. Grounded on core/chain_fork_manager.go's fork
// bookkeeping (a map of known branches plus a "resolve to the longest"
// operation) generalized from a single linear chain to a DAG with
// CRDT-style merges, and on the
// 3aea530b_...hash_chain.go reference fragment's explicit
// genesis/prev/hash framing, which this package reuses for Edge/Change's
// own hash computation.
package version

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/refinio/one-core/hashing"
)

// Kind tags which of the three version-node variants a Node is.
type Kind int

const (
	KindEdge Kind = iota
	KindChange
	KindMerge
)

func (k Kind) String() string {
	switch k {
	case KindEdge:
		return "edge"
	case KindChange:
		return "change"
	case KindMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// Node is a version-DAG entry: Edge (root), Change (linear successor), or
// Merge (confluence of two or more versions). Every variant carries Data
// (hash of the payload), Depth (max of predecessor depths + 1, or 0), and
// CreationTime.
type Node struct {
	Kind         Kind
	Data         hashing.Hash
	Depth        int
	CreationTime int64
	Prev         hashing.Hash   // Change only
	Nodes        []hashing.Hash // Merge only; kept sorted ascending for determinism
}

// Hash computes the node's own content address over its canonical encoding.
// The depth invariant (depth = 1 + max(predecessor depths)) is enforced by
// NewChange/NewMerge, not here.
func (n Node) Hash() hashing.Hash {
	return hashing.Of(n.encode())
}

func (n Node) encode() []byte {
	var b strings.Builder
	b.WriteString(n.Kind.String())
	b.WriteByte(0)
	b.WriteString(n.Data.String())
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(n.Depth))
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(n.CreationTime, 10))
	switch n.Kind {
	case KindChange:
		b.WriteByte(0)
		b.WriteString(n.Prev.String())
	case KindMerge:
		b.WriteByte(0)
		hashes := append([]hashing.Hash(nil), n.Nodes...)
		sortHashes(hashes)
		parts := make([]string, len(hashes))
		for i, h := range hashes {
			parts[i] = h.String()
		}
		b.WriteString(strings.Join(parts, ","))
	}
	return []byte(b.String())
}

func sortHashes(hs []hashing.Hash) {
	sort.Slice(hs, func(i, j int) bool {
		return string(hs[i][:]) < string(hs[j][:])
	})
}

// NewEdge builds the root version node of an identity's history.
func NewEdge(data hashing.Hash, creationTime int64) Node {
	return Node{Kind: KindEdge, Data: data, Depth: 0, CreationTime: creationTime}
}

// NewChange builds a linear successor of prev.
func NewChange(data hashing.Hash, creationTime int64, prev Node) Node {
	return Node{Kind: KindChange, Data: data, Depth: prev.Depth + 1, CreationTime: creationTime, Prev: prev.Hash()}
}

// NewMerge builds a confluence node over two or more concurrent versions.
// Its depth is 1 + max(predecessor depths).
func NewMerge(data hashing.Hash, creationTime int64, nodes []Node) (Node, error) {
	if len(nodes) < 2 {
		return Node{}, fmt.Errorf("version: merge requires at least 2 nodes, got %d", len(nodes))
	}
	maxDepth := nodes[0].Depth
	hashes := make([]hashing.Hash, len(nodes))
	for i, n := range nodes {
		if n.Depth > maxDepth {
			maxDepth = n.Depth
		}
		hashes[i] = n.Hash()
	}
	sortHashes(hashes)
	return Node{Kind: KindMerge, Data: data, Depth: maxDepth + 1, CreationTime: creationTime, Nodes: hashes}, nil
}

func decodeNode(b []byte) (Node, error) {
	parts := strings.Split(string(b), "\x00")
	if len(parts) < 4 {
		return Node{}, fmt.Errorf("version: malformed node encoding")
	}
	data, err := hashing.ParseHash(parts[1])
	if err != nil {
		return Node{}, err
	}
	depth, err := strconv.Atoi(parts[2])
	if err != nil {
		return Node{}, err
	}
	ct, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Node{}, err
	}
	n := Node{Data: data, Depth: depth, CreationTime: ct}
	switch parts[0] {
	case "edge":
		n.Kind = KindEdge
	case "change":
		n.Kind = KindChange
		if len(parts) < 5 {
			return Node{}, fmt.Errorf("version: change node missing prev")
		}
		prev, err := hashing.ParseHash(parts[4])
		if err != nil {
			return Node{}, err
		}
		n.Prev = prev
	case "merge":
		n.Kind = KindMerge
		if len(parts) < 5 {
			return Node{}, fmt.Errorf("version: merge node missing nodes")
		}
		for _, hx := range strings.Split(parts[4], ",") {
			h, err := hashing.ParseHash(hx)
			if err != nil {
				return Node{}, err
			}
			n.Nodes = append(n.Nodes, h)
		}
	default:
		return Node{}, fmt.Errorf("version: unknown node kind %q", parts[0])
	}
	return n, nil
}
