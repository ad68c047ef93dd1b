package chum

import (
	"strings"
	"sync"

	"github.com/refinio/one-core/access"
	"github.com/refinio/one-core/errutil"
	"github.com/refinio/one-core/events"
	"github.com/refinio/one-core/hashing"
	"github.com/refinio/one-core/store"
)

// forbiddenImportTypes are never accepted from a peer: Access/IdAccess
// grants are local trust decisions, never something a remote party may
// inject into this instance's store.
var forbiddenImportTypes = map[string]bool{
	access.RecipeTypeAccess:   true,
	access.RecipeTypeIdAccess: true,
}

// typeOfCanonicalText extracts the "t=" attribute of a canonical record's
// root tag without a full microdata.Parse, matching the cheap prefix scan
// ExtractIdObject itself starts with — import rejection must not depend on
// a recipe already being registered for a type it is about to refuse.
func typeOfCanonicalText(text string) string {
	const marker = "<o t="
	if !strings.HasPrefix(text, marker) {
		return ""
	}
	rest := text[len(marker):]
	end := strings.IndexByte(rest, '>')
	if end < 0 {
		return ""
	}
	return rest[:end]
}

// fetcher is the minimal surface Importer needs from a request/reply
// Session, kept as an interface so import.go can be tested against a fake
// without a live transport.
type fetcher interface {
	GetObject(hash hashing.Hash) ([]byte, error)
	GetChildren(hash hashing.Hash) ([]string, error)
	GetBlob(hash hashing.Hash) ([]byte, error)
	GetClob(hash hashing.Hash) ([]byte, error)
}

// Importer walks the closure of objects reachable from a set of roots,
// verifying content addresses and rejecting forbidden types, writing
// accepted content through WriteUnique so an object already known locally
// is never re-fetched twice. Every item received is hash-verified; a
// mismatch aborts only that item, not the session.
type Importer struct {
	st         *store.Store
	dispatcher *events.Dispatcher
	mgr        *Manager
	fetch      fetcher

	// concurrency bounds how many in-flight object fetches run at once,
	// rather than fetching the whole frontier one item at a time.
	concurrency int
}

func NewImporter(st *store.Store, dispatcher *events.Dispatcher, mgr *Manager, fetch fetcher, concurrency int) *Importer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Importer{st: st, dispatcher: dispatcher, mgr: mgr, fetch: fetch, concurrency: concurrency}
}

// ImportResult tallies what happened for one closure walk, surfaced to the
// caller for logging/testing rather than folded silently into the Chum
// ledger (that happens per-item as RecordTransfer calls, driven by the
// caller so errors.go's codes line up with the session-level log).
type ImportResult struct {
	Imported []hashing.Hash
	Skipped  []hashing.Hash // already present locally
	Rejected []hashing.Hash // forbidden type
	Failed   map[hashing.Hash]error
}

// Walk performs the bounded-concurrency BFS closure import starting from
// roots, one frontier at a time: every item of the
// current frontier is fetched with at most im.concurrency requests in
// flight, and the next frontier is the union of their children. rec is
// the caller's current Chum record; onTransfer folds one accepted item
// into it and returns the updated record, called once per import under
// the walk's own lock so the ledger never needs its own serialization.
func (im *Importer) Walk(roots []hashing.Hash, rec Record, onTransfer func(Record) Record) (ImportResult, Record) {
	result := ImportResult{Failed: make(map[hashing.Hash]error)}

	visited := make(map[hashing.Hash]bool)
	frontier := append([]hashing.Hash(nil), roots...)
	for _, h := range frontier {
		visited[h] = true
	}

	sem := make(chan struct{}, im.concurrency)
	var mu sync.Mutex

	for len(frontier) > 0 {
		var wg sync.WaitGroup
		var nextChildren [][]string
		nextChildren = make([][]string, len(frontier))

		for i, h := range frontier {
			exists, err := im.st.Exists(store.NSObject, h.String())
			if err == nil && exists {
				result.Skipped = append(result.Skipped, h)
				children, cerr := im.fetch.GetChildren(h)
				if cerr == nil {
					nextChildren[i] = children
				}
				continue
			}

			wg.Add(1)
			sem <- struct{}{}
			go func(i int, h hashing.Hash) {
				defer wg.Done()
				defer func() { <-sem }()
				children, ferr := im.importOne(h)
				mu.Lock()
				defer mu.Unlock()
				if ferr != nil {
					if code, ok := errutil.CodeOf(ferr); ok && code == errutil.CodeForbiddenType {
						result.Rejected = append(result.Rejected, h)
					} else {
						result.Failed[h] = ferr
					}
					return
				}
				result.Imported = append(result.Imported, h)
				rec = onTransfer(rec)
				nextChildren[i] = children
			}(i, h)
		}
		wg.Wait()

		var next []hashing.Hash
		for _, children := range nextChildren {
			next = append(next, im.expandChildren(children, visited)...)
		}
		frontier = next
	}
	return result, rec
}

func (im *Importer) expandChildren(children []string, visited map[hashing.Hash]bool) []hashing.Hash {
	var out []hashing.Hash
	for _, c := range children {
		if !strings.HasPrefix(c, "h:") {
			continue // "i:" id-hash references are resolved via get_id_object, not this closure
		}
		h, err := hashing.ParseHash(strings.TrimPrefix(c, "h:"))
		if err != nil || visited[h] {
			continue
		}
		visited[h] = true
		out = append(out, h)
	}
	return out
}

// importOne fetches, type-checks, and hash-verifies a single object,
// storing it via WriteUnique on success.
func (im *Importer) importOne(h hashing.Hash) ([]string, error) {
	content, err := im.fetch.GetObject(h)
	if err != nil {
		return nil, err
	}
	got := hashing.Of(content)
	if got != h {
		return nil, errutil.HashMismatchErr(h.String(), got.String())
	}
	typeName := typeOfCanonicalText(string(content))
	if forbiddenImportTypes[typeName] {
		return nil, errForbiddenType(typeName)
	}
	if _, err := im.st.WriteUnique(store.NSObject, h.String(), content); err != nil {
		return nil, err
	}
	if im.dispatcher != nil {
		im.dispatcher.PublishNewUnversionedObject(events.NewUnversionedObjectEvent{Hash: h, Type: typeName})
	}
	children, err := im.fetch.GetChildren(h)
	if err != nil {
		return nil, nil // content is already durably stored; a failed children fetch just stops this branch
	}
	return children, nil
}
