package channel

import (
	"os"
	"testing"

	"github.com/refinio/one-core/events"
	"github.com/refinio/one-core/hashing"
	"github.com/refinio/one-core/recipe"
	"github.com/refinio/one-core/store"
	"github.com/refinio/one-core/version"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir, err := os.MkdirTemp("", "channel-test")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	st, err := store.Open(store.Options{Directory: dir, InstanceIdHash: "test"})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := recipe.NewRegistry()
	if err := RegisterRecipes(reg); err != nil {
		t.Fatalf("RegisterRecipes: %v", err)
	}

	graph := version.New(st, nil, nil, nil)
	disp := events.New(nil)
	return New(st, reg, graph, disp, nil)
}

// payloadOf fabricates and stores a distinct addressed payload so tests
// don't need a recipe for the posted application record.
func payloadOf(t *testing.T, m *Manager, text string) hashing.Hash {
	t.Helper()
	h := hashing.Of([]byte(text))
	if _, err := m.st.WriteUnique(store.NSObject, h.String(), []byte(text)); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	return h
}

// TestEmptyChannelPost checks that a single post into a fresh channel
// becomes the sole entry with no predecessor.
func TestEmptyChannelPost(t *testing.T) {
	m := newTestManager(t)
	p := payloadOf(t, m, `{"type":"Ping","n":1}`)

	entry, err := m.Post("c", "P", p, 1000, PostOptions{})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if !entry.Tail {
		t.Fatalf("expected first entry to be the tail, got Tail=false")
	}
	if entry.CreationTime != 1000 {
		t.Fatalf("creationTime = %d, want 1000", entry.CreationTime)
	}

	chain, err := m.Read("c", "P")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(chain) != 1 || chain[0].PayloadHash != p {
		t.Fatalf("chain = %+v, want single entry with payload %s", chain, p)
	}
}

// TestChainOrderInvariant checks that walking from head via previous always
// yields strictly descending (creationTime, creationTimeHash).
func TestChainOrderInvariant(t *testing.T) {
	m := newTestManager(t)
	times := []int64{5, 1, 9, 3, 7}
	for i, ts := range times {
		p := payloadOf(t, m, "payload "+string(rune('a'+i)))
		if _, err := m.Post("c", "P", p, ts, PostOptions{}); err != nil {
			t.Fatalf("Post at t=%d: %v", ts, err)
		}
	}

	chain, err := m.Read("c", "P")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(chain) != len(times) {
		t.Fatalf("chain length = %d, want %d", len(chain), len(times))
	}
	for i := 1; i < len(chain); i++ {
		if compareKey(chain[i-1].CreationTime, chain[i-1].CreationTimeHash, chain[i].CreationTime, chain[i].CreationTimeHash) <= 0 {
			t.Fatalf("chain not strictly descending at index %d: %+v then %+v", i, chain[i-1], chain[i])
		}
	}
	if !chain[len(chain)-1].Tail {
		t.Fatalf("last entry must be tail")
	}
}

// TestConcurrentPostMerge checks that two replicas posting independently,
// then merging their two chains with MergeChains, produces an identical,
// fully-interleaved chain on both sides.
func TestConcurrentPostMerge(t *testing.T) {
	mA := newTestManager(t)
	mB := newTestManager(t)

	p1 := payloadOf(t, mA, `{"n":1}`)
	payloadOf(t, mB, `{"n":1}`) // same bytes, same hash, stored in B's store too
	if _, err := mA.Post("c", "P", p1, 1, PostOptions{}); err != nil {
		t.Fatalf("A post: %v", err)
	}

	p2 := payloadOf(t, mB, `{"n":2}`)
	payloadOf(t, mA, `{"n":2}`)
	if _, err := mB.Post("c", "P", p2, 2, PostOptions{}); err != nil {
		t.Fatalf("B post: %v", err)
	}

	chainA, err := mA.Read("c", "P")
	if err != nil {
		t.Fatalf("A read: %v", err)
	}
	chainB, err := mB.Read("c", "P")
	if err != nil {
		t.Fatalf("B read: %v", err)
	}

	merged := MergeChains([][]Entry{chainA, chainB}, MergeOptions{})
	if len(merged) != 2 {
		t.Fatalf("merged length = %d, want 2", len(merged))
	}
	if merged[0].Entry.PayloadHash != p2 || merged[1].Entry.PayloadHash != p1 {
		t.Fatalf("merged order = %+v, want [n=2, n=1]", merged)
	}

	idHash, err := ChannelIdHash(mA.reg, "c", "P")
	if err != nil {
		t.Fatalf("ChannelIdHash: %v", err)
	}
	headA, err := rebuildChain(mA.st, mergedToEntryData(merged), 0)
	if err != nil {
		t.Fatalf("rebuild on A: %v", err)
	}
	headB, err := rebuildChain(mB.st, mergedToEntryData(merged), 0)
	if err != nil {
		t.Fatalf("rebuild on B: %v", err)
	}
	if headA != headB {
		t.Fatalf("merged head hashes differ: %s vs %s", headA, headB)
	}
	_ = idHash
}

// TestPostIfNotExists checks that posting the same payload twice via
// post_if_not_exists leaves the channel length unchanged and preserves the
// original creationTime.
func TestPostIfNotExists(t *testing.T) {
	m := newTestManager(t)
	p := payloadOf(t, m, `{"type":"X"}`)

	if _, created, err := m.PostIfNotExists("c", "P", p, 7, PostOptions{}); err != nil || !created {
		t.Fatalf("first PostIfNotExists: created=%v err=%v", created, err)
	}
	entry, created, err := m.PostIfNotExists("c", "P", p, 8, PostOptions{})
	if err != nil {
		t.Fatalf("second PostIfNotExists: %v", err)
	}
	if created {
		t.Fatalf("second PostIfNotExists should not create a new entry")
	}
	if entry.CreationTime != 7 {
		t.Fatalf("creationTime = %d, want 7 (unchanged)", entry.CreationTime)
	}

	chain, err := m.Read("c", "P")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(chain) != 1 {
		t.Fatalf("chain length = %d, want 1", len(chain))
	}
}

func TestRegisterChannelIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	if err := m.RegisterChannel("c", "P", 1); err != nil {
		t.Fatalf("first RegisterChannel: %v", err)
	}
	if err := m.RegisterChannel("c", "P", 2); err != nil {
		t.Fatalf("second RegisterChannel: %v", err)
	}

	idHash, err := m.registryIdHash()
	if err != nil {
		t.Fatalf("registryIdHash: %v", err)
	}
	node, has, err := m.graph.Current(RecipeTypeChannelRegistry, idHash)
	if err != nil || !has {
		t.Fatalf("graph.Current: has=%v err=%v", has, err)
	}
	if node.CreationTime != 1 {
		t.Fatalf("registry written again on the idempotent call: creationTime=%d", node.CreationTime)
	}
}
