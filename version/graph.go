package version

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/refinio/one-core/events"
	"github.com/refinio/one-core/hashing"
	"github.com/refinio/one-core/store"
)

// Reference describes one reference-typed field value of a record being
// versioned, used to drive reverse-map updates.
type Reference struct {
	Field  string
	Target hashing.Hash
	IsId   bool // true when Field's value is a reference-to-id rather than reference-to-object/blob/clob
}

// ReverseMapRule names one (type, field) pair whose reverse map is
// maintained, matching the instance's enabled-reverse-map configuration.
type ReverseMapRule struct {
	Type  string
	Field string
	IsId  bool
}

// MergeFunc computes the merged payload hash for a set of concurrent
// leaves of one identity's version DAG: the result's data field is
// determined by the registered CRDT algorithm for the record's type.
type MergeFunc func(leaves []Node) (hashing.Hash, error)

// Graph maintains, per versioned identity, the version-DAG nodes (stored
// as plain addressed records in the object namespace), the version map,
// and reverse maps. One Graph is owned per instance and threaded
// explicitly rather than reached through a package-level global.
type Graph struct {
	mu sync.Mutex // serializes per-identity chain locks; see channel package for the per-(id,owner) lock this backs

	st         *store.Store
	dispatcher *events.Dispatcher
	logger     *logrus.Logger

	rules  []ReverseMapRule
	merges map[string]MergeFunc
}

func New(st *store.Store, dispatcher *events.Dispatcher, rules []ReverseMapRule, logger *logrus.Logger) *Graph {
	if logger == nil {
		logger = logrus.New()
	}
	return &Graph{st: st, dispatcher: dispatcher, rules: rules, logger: logger, merges: make(map[string]MergeFunc)}
}

// RegisterMerge installs a type-specific CRDT merge function, overriding
// the default last-writer-wins behavior used by Current.
func (g *Graph) RegisterMerge(typeName string, fn MergeFunc) {
	g.merges[typeName] = fn
}

// versionMapName is the file-name format for a version map:
// "<idhash>.Object.<type>".
func versionMapName(idHash hashing.IdHash, typeName string) string {
	return idHash.String() + ".Object." + typeName
}

// reverseMapName is the file-name format
// "<target_hash>.ReverseMap.<referrer_type>.<field>" (with the analogous
// ".IdObject." variant for id references).
func reverseMapName(target hashing.Hash, referrerType, field string, isId bool) string {
	kind := "ReverseMap"
	if isId {
		kind = "ReverseMap.IdObject"
	} else {
		kind = "ReverseMap"
	}
	return fmt.Sprintf("%s.%s.%s.%s", target.String(), kind, referrerType, field)
}

// WriteVersion performs the steps that follow a successful write of a
// versioned record: append the version map entry, update reverse maps for
// every enabled (type, field), and publish NewVersion. payloadHash is the
// hash of the already-stored canonical record; refs lists its reference
// fields.
func (g *Graph) WriteVersion(typeName string, idHash hashing.IdHash, payloadHash hashing.Hash, refs []Reference, writeTimestamp int64) (Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	head, hasHead, err := g.currentLocked(typeName, idHash)
	if err != nil {
		return Node{}, err
	}

	var node Node
	if !hasHead {
		node = NewEdge(payloadHash, writeTimestamp)
	} else {
		node = NewChange(payloadHash, writeTimestamp, head)
	}

	if _, err := g.st.WriteUnique(store.NSObject, node.Hash().String(), node.encode()); err != nil {
		return Node{}, err
	}
	if err := g.appendVersionMapEntry(idHash, typeName, node.Hash(), writeTimestamp); err != nil {
		return Node{}, err
	}
	if err := g.recordReverseMaps(typeName, payloadHash, refs); err != nil {
		return Node{}, err
	}

	if g.dispatcher != nil {
		g.dispatcher.PublishNewVersion(events.NewVersionEvent{IdHash: idHash, Hash: node.Hash(), Type: typeName})
	}
	g.logger.Infof("version: %s %s wrote %s depth=%d", typeName, idHash, node.Hash(), node.Depth)
	return node, nil
}

func (g *Graph) appendVersionMapEntry(idHash hashing.IdHash, typeName string, nodeHash hashing.Hash, ts int64) error {
	line := nodeHash.String() + " " + strconv.FormatInt(ts, 10) + "\n"
	return g.st.Append(store.NSVersionMap, versionMapName(idHash, typeName), []byte(line))
}

func (g *Graph) recordReverseMaps(referrerType string, referrerHash hashing.Hash, refs []Reference) error {
	for _, ref := range refs {
		for _, rule := range g.rules {
			if rule.Type != referrerType || rule.Field != ref.Field || rule.IsId != ref.IsId {
				continue
			}
			name := reverseMapName(ref.Target, referrerType, ref.Field, ref.IsId)
			line := referrerHash.String() + "\n"
			if err := g.st.Append(store.NSReverseMap, name, []byte(line)); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadReverseMap returns the referrer hashes recorded against target for
// the given (referrerType, field) pair, in append order. Every
// Access/IdAccess record that grants a target must be findable here; the
// reverse map is never allowed to fall behind the records it indexes.
func (g *Graph) ReadReverseMap(target hashing.Hash, referrerType, field string, isId bool) ([]hashing.Hash, error) {
	name := reverseMapName(target, referrerType, field, isId)
	exists, err := g.st.Exists(store.NSReverseMap, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	raw, err := g.st.Read(store.NSReverseMap, name)
	if err != nil {
		return nil, err
	}
	var out []hashing.Hash
	for _, line := range strings.Split(strings.TrimRight(string(raw), "\n"), "\n") {
		if line == "" {
			continue
		}
		h, err := hashing.ParseHash(line)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// Current computes the current head version node for idHash: it reads the
// version map, finds the DAG leaves (nodes no other loaded node points
// to), and — if more than one leaf exists (concurrent branches introduced
// by chum sync) — merges them via the type's registered CRDT function,
// writing and returning a new Merge node. Reruns are idempotent: the
// Merge node's hash depends only on the sorted leaf set, so merging twice
// reuses the same stored node via WriteUnique's AlreadyExisted path.
func (g *Graph) Current(typeName string, idHash hashing.IdHash) (Node, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.currentLocked(typeName, idHash)
}

func (g *Graph) currentLocked(typeName string, idHash hashing.IdHash) (Node, bool, error) {
	entries, err := g.readVersionMapEntries(idHash, typeName)
	if err != nil {
		return Node{}, false, err
	}
	if len(entries) == 0 {
		return Node{}, false, nil
	}

	nodes := make(map[hashing.Hash]Node, len(entries))
	for _, e := range entries {
		n, err := g.loadNode(e.hash)
		if err != nil {
			return Node{}, false, err
		}
		nodes[e.hash] = n
	}

	referenced := make(map[hashing.Hash]bool)
	for _, n := range nodes {
		switch n.Kind {
		case KindChange:
			referenced[n.Prev] = true
		case KindMerge:
			for _, h := range n.Nodes {
				referenced[h] = true
			}
		}
	}

	var leafHashes []hashing.Hash
	for h := range nodes {
		if !referenced[h] {
			leafHashes = append(leafHashes, h)
		}
	}
	sortHashes(leafHashes)

	if len(leafHashes) == 1 {
		return nodes[leafHashes[0]], true, nil
	}

	leaves := make([]Node, len(leafHashes))
	for i, h := range leafHashes {
		leaves[i] = nodes[h]
	}

	mergedData, err := g.mergeFor(typeName)(leaves)
	if err != nil {
		return Node{}, false, err
	}
	mergedCT := leaves[0].CreationTime
	for _, l := range leaves {
		if l.CreationTime > mergedCT {
			mergedCT = l.CreationTime
		}
	}
	merge, err := NewMerge(mergedData, mergedCT, leaves)
	if err != nil {
		return Node{}, false, err
	}
	if _, err := g.st.WriteUnique(store.NSObject, merge.Hash().String(), merge.encode()); err != nil {
		return Node{}, false, err
	}
	if err := g.appendVersionMapEntry(idHash, typeName, merge.Hash(), mergedCT); err != nil {
		return Node{}, false, err
	}
	return merge, true, nil
}

func (g *Graph) mergeFor(typeName string) MergeFunc {
	if fn, ok := g.merges[typeName]; ok {
		return fn
	}
	return defaultLastWriterWins
}

// defaultLastWriterWins picks the leaf with the greatest (creationTime,
// hash) using the same descending composite order the channel CRDT uses,
// so ordinary versioned records that aren't channels still merge
// deterministically on concurrent writes.
func defaultLastWriterWins(leaves []Node) (hashing.Hash, error) {
	best := leaves[0]
	for _, l := range leaves[1:] {
		if hashing.CompositeLess(l.CreationTime, l.Hash(), best.CreationTime, best.Hash()) {
			best = l
		}
	}
	return best.Data, nil
}

type versionMapEntry struct {
	hash hashing.Hash
	ts   int64
}

func (g *Graph) readVersionMapEntries(idHash hashing.IdHash, typeName string) ([]versionMapEntry, error) {
	name := versionMapName(idHash, typeName)
	exists, err := g.st.Exists(store.NSVersionMap, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	raw, err := g.st.Read(store.NSVersionMap, name)
	if err != nil {
		return nil, err
	}
	var out []versionMapEntry
	for _, line := range strings.Split(strings.TrimRight(string(raw), "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("version: malformed version map line %q", line)
		}
		h, err := hashing.ParseHash(fields[0])
		if err != nil {
			return nil, err
		}
		ts, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, versionMapEntry{hash: h, ts: ts})
	}
	return out, nil
}

func (g *Graph) loadNode(h hashing.Hash) (Node, error) {
	raw, err := g.st.Read(store.NSObject, h.String())
	if err != nil {
		return Node{}, err
	}
	return decodeNode(raw)
}

// sortVersionMapEntries orders entries by timestamp for write-order-independent
// comparisons; nothing in the package calls it, and entries are otherwise in
// append (write) order.
func sortVersionMapEntries(entries []versionMapEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ts < entries[j].ts })
}
