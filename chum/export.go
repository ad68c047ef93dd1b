package chum

import (
	"encoding/json"
	"strings"

	"github.com/refinio/one-core/access"
	"github.com/refinio/one-core/errutil"
	"github.com/refinio/one-core/hashing"
	"github.com/refinio/one-core/microdata"
	"github.com/refinio/one-core/recipe"
	"github.com/refinio/one-core/store"
	"github.com/refinio/one-core/version"
)

// Exporter answers a peer's requests, gating every reply through the
// access layer: the requester's effective reader set is checked before
// serving each object. One Exporter serves one session; it is stateless
// beyond the Manager/access.Layer it was built with.
type Exporter struct {
	st      *store.Store
	reg     *recipe.Registry
	graph   *version.Graph
	accessL *access.Layer
	mgr     *Manager
}

func NewExporter(st *store.Store, reg *recipe.Registry, graph *version.Graph, accessL *access.Layer, mgr *Manager) *Exporter {
	return &Exporter{st: st, reg: reg, graph: graph, accessL: accessL, mgr: mgr}
}

// Handle answers one request envelope, recording an Unauthorized entry in
// the session's Chum record rather than failing the whole session when
// access is denied.
func (x *Exporter) Handle(req envelope, requester access.PersonId, idHash hashing.IdHash, rec Record, now int64) (envelope, Record) {
	reply, transferredNs, transferredHash, err := x.dispatch(req, requester)
	if err != nil {
		code, _ := errutil.CodeOf(err)
		rec, _ = x.mgr.RecordError(idHash, rec, string(code), err.Error(), now)
		reply = replyPayload{OK: false, ErrorCode: string(code)}
	} else if transferredNs != "" {
		rec, _ = x.mgr.RecordTransfer(idHash, rec, true, transferredNs, transferredHash, now)
	}
	payload, _ := json.Marshal(reply)
	return envelope{ID: req.ID, Reply: true, Kind: req.Kind, Payload: payload}, rec
}

func (x *Exporter) dispatch(req envelope, requester access.PersonId) (replyPayload, wireNamespace, hashing.Hash, error) {
	var rp requestPayload
	if err := json.Unmarshal(req.Payload, &rp); err != nil {
		return replyPayload{}, "", hashing.Hash{}, err
	}

	switch req.Kind {
	case kindGetObject:
		return x.getAddressed(store.NSObject, wireObject, rp.Hash, requester, false)
	case kindGetBlob:
		return x.getAddressed(store.NSBlob, wireBlob, rp.Hash, requester, false)
	case kindGetClob:
		return x.getAddressed(store.NSClob, wireClob, rp.Hash, requester, false)
	case kindGetIdObject:
		return x.getIdObject(rp, requester)
	case kindGetMetadata:
		return x.getMetadata(rp, requester)
	case kindGetChildren:
		return x.getChildren(rp, requester)
	case kindListAccessible:
		return x.listAccessible(requester)
	default:
		return replyPayload{}, "", hashing.Hash{}, errUnknownKind(req.Kind)
	}
}

func (x *Exporter) getAddressed(ns store.Namespace, wns wireNamespace, rawHash string, requester access.PersonId, skipAccess bool) (replyPayload, wireNamespace, hashing.Hash, error) {
	h, err := hashing.ParseHash(rawHash)
	if err != nil {
		return replyPayload{}, "", hashing.Hash{}, errBadHash(rawHash)
	}
	if !skipAccess {
		if err := x.accessL.CheckAccess(requester, h, nil); err != nil {
			return replyPayload{}, "", hashing.Hash{}, err
		}
	}
	content, err := x.st.Read(ns, h.String())
	if err != nil {
		return replyPayload{}, "", hashing.Hash{}, err
	}
	return replyPayload{OK: true, Payload: content}, wns, h, nil
}

// getIdObject serves the current version's canonical text for an
// identified record, access-gated by idHash rather than by the content
// hash of whichever version happens to be current: a grant to an identity
// covers all of its past and future versions, so it is checked by id-hash.
func (x *Exporter) getIdObject(rp requestPayload, requester access.PersonId) (replyPayload, wireNamespace, hashing.Hash, error) {
	idHash, err := hashing.ParseIdHash(rp.Hash)
	if err != nil {
		return replyPayload{}, "", hashing.Hash{}, errBadHash(rp.Hash)
	}
	node, has, err := x.currentAnyType(idHash)
	if err != nil {
		return replyPayload{}, "", hashing.Hash{}, err
	}
	if !has {
		return replyPayload{}, "", hashing.Hash{}, errutil.NotFound("vheads", idHash.String())
	}
	if err := x.accessL.CheckAccess(requester, node.Data, &idHash); err != nil {
		return replyPayload{}, "", hashing.Hash{}, err
	}
	content, err := x.st.Read(store.NSObject, node.Data.String())
	if err != nil {
		return replyPayload{}, "", hashing.Hash{}, err
	}
	return replyPayload{OK: true, Payload: content}, wireIdObject, node.Data, nil
}

func (x *Exporter) getMetadata(rp requestPayload, requester access.PersonId) (replyPayload, wireNamespace, hashing.Hash, error) {
	h, err := hashing.ParseHash(rp.Hash)
	if err != nil {
		return replyPayload{}, "", hashing.Hash{}, errBadHash(rp.Hash)
	}
	if err := x.accessL.CheckAccess(requester, h, nil); err != nil {
		return replyPayload{}, "", hashing.Hash{}, err
	}
	size, err := x.st.Size(store.NSObject, h.String())
	if err != nil {
		return replyPayload{}, "", hashing.Hash{}, err
	}
	return replyPayload{OK: true, Size: size}, "", hashing.Hash{}, nil
}

// getChildren returns the reference-typed field values found in an
// object's canonical text, letting an importer walk the closure without
// transferring the object body twice: it requests children of each newly
// received object rather than re-fetching bodies to find references.
func (x *Exporter) getChildren(rp requestPayload, requester access.PersonId) (replyPayload, wireNamespace, hashing.Hash, error) {
	h, err := hashing.ParseHash(rp.Hash)
	if err != nil {
		return replyPayload{}, "", hashing.Hash{}, errBadHash(rp.Hash)
	}
	if err := x.accessL.CheckAccess(requester, h, nil); err != nil {
		return replyPayload{}, "", hashing.Hash{}, err
	}
	content, err := x.st.Read(store.NSObject, h.String())
	if err != nil {
		return replyPayload{}, "", hashing.Hash{}, err
	}
	obj, err := microdata.Parse(x.reg, string(content))
	if err != nil {
		return replyPayload{}, "", hashing.Hash{}, err
	}
	var children []string
	for _, v := range obj.Fields {
		collectReferences(v, &children)
	}
	return replyPayload{OK: true, Children: children}, "", hashing.Hash{}, nil
}

// collectReferences walks one field value's tree, gathering every
// reference-typed hash it points at (object/blob/clob hashes and id-hashes
// alike, tagged by prefix so the importer knows which namespace to
// request next).
func collectReferences(v microdata.Value, out *[]string) {
	switch v.Kind {
	case microdata.KRefObject, microdata.KRefBlob, microdata.KRefClob:
		*out = append(*out, "h:"+v.RefHash.String())
	case microdata.KRefId:
		*out = append(*out, "i:"+v.RefId.String())
	case microdata.KBag, microdata.KSet, microdata.KArray:
		for _, it := range v.Items {
			collectReferences(it, out)
		}
	case microdata.KMap:
		for _, it := range v.Map {
			collectReferences(it, out)
		}
	case microdata.KNested:
		for _, it := range v.Nested {
			collectReferences(it, out)
		}
	}
}

// listAccessible is a best-effort scan over every known identity's version
// map, returning the id-hashes requester can currently read — each side
// asks the other for the roots it may access. There is no maintained index
// of "all identities" in this substrate, so this necessarily costs
// O(identities); documented as an approximation in DESIGN.md.
func (x *Exporter) listAccessible(requester access.PersonId) (replyPayload, wireNamespace, hashing.Hash, error) {
	it, err := x.st.List(store.NSVersionMap, "")
	if err != nil {
		return replyPayload{}, "", hashing.Hash{}, err
	}
	defer it.Close()

	seen := make(map[string]bool)
	var roots []string
	for it.Next() {
		idHash, typeName, ok := parseVersionMapName(it.Name())
		if !ok || seen[idHash.String()+"."+typeName] {
			continue
		}
		seen[idHash.String()+"."+typeName] = true

		node, has, err := x.graph.Current(typeName, idHash)
		if err != nil || !has {
			continue
		}
		if err := x.accessL.CheckAccess(requester, node.Data, &idHash); err != nil {
			continue
		}
		roots = append(roots, idHash.String())
	}
	return replyPayload{OK: true, Children: roots}, "", hashing.Hash{}, nil
}

// currentAnyType resolves an idHash's current node without knowing its
// recipe type ahead of time, by scanning version-map names sharing its
// prefix. A real deployment would carry the type alongside the id-hash in
// the request; kept here so getIdObject has a single concrete entry point.
func (x *Exporter) currentAnyType(idHash hashing.IdHash) (version.Node, bool, error) {
	it, err := x.st.List(store.NSVersionMap, idHash.String()+".Object.")
	if err != nil {
		return version.Node{}, false, err
	}
	defer it.Close()
	if !it.Next() {
		return version.Node{}, false, nil
	}
	_, typeName, ok := parseVersionMapName(it.Name())
	if !ok {
		return version.Node{}, false, nil
	}
	return x.graph.Current(typeName, idHash)
}

func parseVersionMapName(name string) (hashing.IdHash, string, bool) {
	const marker = ".Object."
	idx := strings.Index(name, marker)
	if idx < 0 {
		return hashing.IdHash{}, "", false
	}
	idHash, err := hashing.ParseIdHash(name[:idx])
	if err != nil {
		return hashing.IdHash{}, "", false
	}
	return idHash, name[idx+len(marker):], true
}
