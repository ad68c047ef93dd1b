package chum

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/refinio/one-core/access"
	"github.com/refinio/one-core/errutil"
	"github.com/refinio/one-core/events"
	"github.com/refinio/one-core/hashing"
	"github.com/refinio/one-core/recipe"
	"github.com/refinio/one-core/store"
	"github.com/refinio/one-core/version"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	payload, err := json.Marshal(requestPayload{Hash: "abc"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := envelope{ID: 7, Kind: kindGetObject, Payload: payload}
	frame, err := marshalEnvelope(env)
	if err != nil {
		t.Fatalf("marshalEnvelope: %v", err)
	}
	got, err := unmarshalEnvelope(frame)
	if err != nil {
		t.Fatalf("unmarshalEnvelope: %v", err)
	}
	if got.ID != env.ID || got.Kind != env.Kind {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, env)
	}
}

func TestLedgerEncodeRoundTrip(t *testing.T) {
	l := newLedger()
	h := hashing.Of([]byte("payload"))
	l.AtoB[wireObject] = append(l.AtoB[wireObject], LedgerEntry{Hash: h, Timestamp: 100})
	l.BtoA[wireBlob] = append(l.BtoA[wireBlob], LedgerEntry{Hash: h, Timestamp: 200})
	l.BtoAExists = 3
	l.Errors = append(l.Errors, ChumErrorRecord{Timestamp: 300, Code: "Unauthorized", Detail: "no access"})
	l.Stats = TransportStats{BytesSent: 10, BytesReceived: 20, RequestsSent: 1, RequestsReceived: 2}

	decoded, err := decodeLedger(l.encode())
	if err != nil {
		t.Fatalf("decodeLedger: %v", err)
	}
	if decoded.BtoAExists != 3 || len(decoded.Errors) != 1 || decoded.Stats != l.Stats {
		t.Fatalf("decoded ledger mismatch: %+v", decoded)
	}
	if len(decoded.AtoB[wireObject]) != 1 || decoded.AtoB[wireObject][0].Hash != h {
		t.Fatalf("decoded AtoB mismatch: %+v", decoded.AtoB)
	}
}

// testHarness wires a single store/registry/graph/access.Layer triple,
// standing in for "both participants" of a sync session since the
// exporter/importer logic under test never needs two separate stores to
// exercise access gating and closure walking.
type testHarness struct {
	st    *store.Store
	reg   *recipe.Registry
	graph *version.Graph
	acc   *access.Layer
	mgr   *Manager
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	dir, err := os.MkdirTemp("", "chum-test")
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
	if err := access.RegisterRecipes(reg); err != nil {
		t.Fatalf("access.RegisterRecipes: %v", err)
	}
	if err := RegisterRecipes(reg); err != nil {
		t.Fatalf("chum.RegisterRecipes: %v", err)
	}
	if err := reg.Register(recipe.Recipe{
		Name:      "Ping",
		Versioned: false,
		Rules: []recipe.Rule{
			{Name: "n", Type: recipe.ValueInteger},
		},
	}); err != nil {
		t.Fatalf("register Ping: %v", err)
	}

	graph := version.New(st, nil, access.ReverseMapRules(), nil)
	acc := access.NewLayer(st, reg, graph, nil)
	mgr := New(st, reg, graph, acc, events.New(nil), nil)
	return &testHarness{st: st, reg: reg, graph: graph, acc: acc, mgr: mgr}
}

func (h *testHarness) storePing(t *testing.T, n int64) hashing.Hash {
	t.Helper()
	text := "<o t=Ping><p n=n k=i>" + itoa(n) + "</p></o>"
	hash := hashing.Of([]byte(text))
	if _, err := h.st.WriteUnique(store.NSObject, hash.String(), []byte(text)); err != nil {
		t.Fatalf("write Ping: %v", err)
	}
	return hash
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		digits = append([]byte{'-'}, digits...)
	}
	return string(digits)
}

// grantAccess writes an Access record granting person read access to obj
// and records the reverse-map entry access.Layer.EffectiveReaders reads
// back. Access.Self is its own content hash, not an identity,
// so the "id-hash" WriteVersion wants is a throwaway value here: only the
// reverse-map side effect (keyed by the referenced object, not by this
// grant's own identity) matters for CheckAccess to see it.
func (h *testHarness) grantAccess(t *testing.T, obj hashing.Hash, person access.PersonId) {
	t.Helper()
	text := "<o t=Access><p n=object k=ro>" + obj.String() + "</p><p n=person k=set><e k=s>" + string(person) + "</e></p></o>"
	ah := hashing.Of([]byte(text))
	if _, err := h.st.WriteUnique(store.NSObject, ah.String(), []byte(text)); err != nil {
		t.Fatalf("write Access: %v", err)
	}
	refs := []version.Reference{{Field: "object", Target: obj, IsId: false}}
	if _, err := h.graph.WriteVersion(access.RecipeTypeAccess, hashing.IdHash(ah), ah, refs, 1); err != nil {
		t.Fatalf("index Access grant: %v", err)
	}
}

// TestExporterDeniesUnauthorizedObject checks that a request for an object
// with no grant fails with Unauthorized and is recorded in the Chum's
// errors list rather than panicking the session.
func TestExporterDeniesUnauthorizedObject(t *testing.T) {
	h := newHarness(t)
	obj := h.storePing(t, 1)

	exp := NewExporter(h.st, h.reg, h.graph, h.acc, h.mgr)
	rec := Record{SelfInstance: "A", SelfPerson: "alice", PeerInstance: "B", PeerPerson: "bob"}
	idHash, err := ChumIdHash(h.reg, rec)
	if err != nil {
		t.Fatalf("ChumIdHash: %v", err)
	}

	payload, _ := json.Marshal(requestPayload{Hash: obj.String()})
	req := envelope{ID: 1, Kind: kindGetObject, Payload: payload}
	reply, rec2 := exp.Handle(req, "bob", idHash, rec, 10)

	var rp replyPayload
	if err := json.Unmarshal(reply.Payload, &rp); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if rp.OK {
		t.Fatalf("expected denial, got OK reply")
	}
	if rp.ErrorCode != string(errutil.CodeUnauthorized) {
		t.Fatalf("errorCode = %q, want Unauthorized", rp.ErrorCode)
	}

	l, err := h.mgr.loadLedger(rec2)
	if err != nil {
		t.Fatalf("loadLedger: %v", err)
	}
	if len(l.Errors) != 1 {
		t.Fatalf("expected one recorded error, got %d", len(l.Errors))
	}
}

// TestExporterServesGrantedObject covers the positive half of the same
// vector: once bob is granted access, the same request succeeds and the
// transfer is recorded in the AtoB ledger.
func TestExporterServesGrantedObject(t *testing.T) {
	h := newHarness(t)
	obj := h.storePing(t, 1)
	h.grantAccess(t, obj, "bob")

	exp := NewExporter(h.st, h.reg, h.graph, h.acc, h.mgr)
	rec := Record{SelfInstance: "A", SelfPerson: "alice", PeerInstance: "B", PeerPerson: "bob"}
	idHash, err := ChumIdHash(h.reg, rec)
	if err != nil {
		t.Fatalf("ChumIdHash: %v", err)
	}

	payload, _ := json.Marshal(requestPayload{Hash: obj.String()})
	req := envelope{ID: 1, Kind: kindGetObject, Payload: payload}
	reply, rec2 := exp.Handle(req, "bob", idHash, rec, 10)

	var rp replyPayload
	if err := json.Unmarshal(reply.Payload, &rp); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if !rp.OK {
		t.Fatalf("expected OK reply, got denial %q", rp.ErrorCode)
	}

	l, err := h.mgr.loadLedger(rec2)
	if err != nil {
		t.Fatalf("loadLedger: %v", err)
	}
	if len(l.AtoB[wireObject]) != 1 || l.AtoB[wireObject][0].Hash != obj {
		t.Fatalf("expected one AtoB object transfer for %s, got %+v", obj, l.AtoB[wireObject])
	}
}

// fakeFetcher answers Importer requests directly out of an Exporter
// without going over a Transport, exercising the closure-walk logic in
// isolation from wire framing.
type fakeFetcher struct {
	exp       *Exporter
	requester access.PersonId
	idHash    hashing.IdHash
	rec       Record
}

func (f *fakeFetcher) GetObject(h hashing.Hash) ([]byte, error) {
	return f.call(kindGetObject, requestPayload{Hash: h.String()})
}
func (f *fakeFetcher) GetBlob(h hashing.Hash) ([]byte, error) {
	return f.call(kindGetBlob, requestPayload{Hash: h.String()})
}
func (f *fakeFetcher) GetClob(h hashing.Hash) ([]byte, error) {
	return f.call(kindGetClob, requestPayload{Hash: h.String()})
}
func (f *fakeFetcher) GetChildren(h hashing.Hash) ([]string, error) {
	payload, _ := json.Marshal(requestPayload{Hash: h.String()})
	reply, rec := f.exp.Handle(envelope{ID: 1, Kind: kindGetChildren, Payload: payload}, f.requester, f.idHash, f.rec, 1)
	f.rec = rec
	var rp replyPayload
	if err := json.Unmarshal(reply.Payload, &rp); err != nil {
		return nil, err
	}
	if !rp.OK {
		return nil, errutil.New(errutil.Code(rp.ErrorCode), nil)
	}
	return rp.Children, nil
}

func (f *fakeFetcher) call(kind msgKind, rp requestPayload) ([]byte, error) {
	payload, _ := json.Marshal(rp)
	reply, rec := f.exp.Handle(envelope{ID: 1, Kind: kind, Payload: payload}, f.requester, f.idHash, f.rec, 1)
	f.rec = rec
	var out replyPayload
	if err := json.Unmarshal(reply.Payload, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, errutil.New(errutil.Code(out.ErrorCode), nil)
	}
	return out.Payload, nil
}

// TestImporterWalkVerifiesAndStores checks that a granted object is fetched
// and hash-verified into the local store.
func TestImporterWalkVerifiesAndStores(t *testing.T) {
	h := newHarness(t)
	obj := h.storePing(t, 42)
	h.grantAccess(t, obj, "bob")

	exp := NewExporter(h.st, h.reg, h.graph, h.acc, h.mgr)
	rec := Record{SelfInstance: "A", SelfPerson: "alice", PeerInstance: "B", PeerPerson: "bob"}
	idHash, err := ChumIdHash(h.reg, rec)
	if err != nil {
		t.Fatalf("ChumIdHash: %v", err)
	}
	fake := &fakeFetcher{exp: exp, requester: "bob", idHash: idHash, rec: rec}

	importDir, err := os.MkdirTemp("", "chum-import")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(importDir) })
	importSt, err := store.Open(store.Options{Directory: importDir, InstanceIdHash: "importer"})
	if err != nil {
		t.Fatalf("store.Open importer: %v", err)
	}
	t.Cleanup(func() { importSt.Close() })

	imp := NewImporter(importSt, nil, h.mgr, fake, 4)
	result, _ := imp.Walk([]hashing.Hash{obj}, rec, func(r Record) Record { return r })

	if len(result.Imported) != 1 || result.Imported[0] != obj {
		t.Fatalf("expected %s imported, got %+v (failed=%v)", obj, result.Imported, result.Failed)
	}
	got, err := importSt.Read(store.NSObject, obj.String())
	if err != nil {
		t.Fatalf("read imported object: %v", err)
	}
	if hashing.Of(got) != obj {
		t.Fatalf("imported content does not hash to %s", obj)
	}
}
