package chum

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/refinio/one-core/access"
	"github.com/refinio/one-core/events"
	"github.com/refinio/one-core/hashing"
	"github.com/refinio/one-core/microdata"
	"github.com/refinio/one-core/recipe"
	"github.com/refinio/one-core/store"
	"github.com/refinio/one-core/version"
)

// Manager owns the Chum session records for one instance, the same role
// package channel.Manager plays for channels: one long-lived object
// threaded explicitly into CLI/server wiring, never a package global.
// Grounded on core/peer_management.go's single-struct-per-peer bookkeeping.
type Manager struct {
	st         *store.Store
	reg        *recipe.Registry
	graph      *version.Graph
	accessL    *access.Layer
	dispatcher *events.Dispatcher
	logger     *logrus.Logger

	mu sync.Mutex // serializes ledger read-modify-write per session
}

func New(st *store.Store, reg *recipe.Registry, graph *version.Graph, accessL *access.Layer, dispatcher *events.Dispatcher, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{st: st, reg: reg, graph: graph, accessL: accessL, dispatcher: dispatcher, logger: logger}
}

// Open finds or creates the Chum record for (selfInstance, selfPerson,
// peerInstance, peerPerson), writing an initial Edge version if it does
// not yet exist. Each side of a connection opens or creates its own Chum
// record for the peer independently.
func (m *Manager) Open(selfInstance InstanceId, selfPerson PersonId, peerInstance InstanceId, peerPerson PersonId, now int64) (Record, hashing.IdHash, error) {
	rec := Record{SelfInstance: selfInstance, SelfPerson: selfPerson, PeerInstance: peerInstance, PeerPerson: peerPerson}
	idHash, err := ChumIdHash(m.reg, rec)
	if err != nil {
		return Record{}, hashing.IdHash{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	node, has, err := m.graph.Current(RecipeTypeChum, idHash)
	if err != nil {
		return Record{}, hashing.IdHash{}, err
	}
	if has {
		existing, err := m.loadRecord(node.Data)
		if err != nil {
			return Record{}, hashing.IdHash{}, err
		}
		return existing, idHash, nil
	}

	if err := m.writeRecord(rec, idHash, now); err != nil {
		return Record{}, hashing.IdHash{}, err
	}
	return rec, idHash, nil
}

func (m *Manager) loadRecord(payloadHash hashing.Hash) (Record, error) {
	raw, err := m.st.Read(store.NSObject, payloadHash.String())
	if err != nil {
		return Record{}, err
	}
	obj, err := microdata.Parse(m.reg, string(raw))
	if err != nil {
		return Record{}, err
	}
	return fromObject(obj), nil
}

func (m *Manager) writeRecord(rec Record, idHash hashing.IdHash, now int64) error {
	obj := toIdObject(rec)
	text, err := microdata.Serialize(m.reg, obj)
	if err != nil {
		return err
	}
	h := hashing.Of([]byte(text))
	if _, err := m.st.WriteUnique(store.NSObject, h.String(), []byte(text)); err != nil {
		return err
	}
	var refs []version.Reference
	if !rec.Ledger.IsZero() {
		refs = append(refs, version.Reference{Field: "ledger", Target: rec.Ledger})
	}
	_, err = m.graph.WriteVersion(RecipeTypeChum, idHash, h, refs, now)
	return err
}

func (m *Manager) loadLedger(rec Record) (*Ledger, error) {
	if rec.Ledger.IsZero() {
		return newLedger(), nil
	}
	raw, err := m.st.Read(store.NSObject, rec.Ledger.String())
	if err != nil {
		return nil, err
	}
	return decodeLedger(raw)
}

func (m *Manager) storeLedger(l *Ledger) (hashing.Hash, error) {
	h := l.Hash()
	if _, err := m.st.WriteUnique(store.NSObject, h.String(), l.encode()); err != nil {
		return hashing.Hash{}, err
	}
	return h, nil
}

// RecordTransfer appends one ledger entry for a completed transfer in the
// given direction and persists an updated Chum record. The ledgers track
// what moved A→B and B→A, split per namespace.
func (m *Manager) RecordTransfer(idHash hashing.IdHash, rec Record, aToB bool, ns wireNamespace, item hashing.Hash, now int64) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.loadLedger(rec)
	if err != nil {
		return Record{}, err
	}
	entry := LedgerEntry{Hash: item, Timestamp: now}
	if aToB {
		l.AtoB[ns] = append(l.AtoB[ns], entry)
	} else {
		l.BtoA[ns] = append(l.BtoA[ns], entry)
		if ns == wireObject {
			l.BtoAExists++
		}
	}
	return m.commitLedger(idHash, rec, l, now)
}

// RecordError appends to the Chum's errors list. Exporter-side access
// denials and similar per-item failures are recorded here rather than
// terminating the session.
func (m *Manager) RecordError(idHash hashing.IdHash, rec Record, code string, detail string, now int64) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.loadLedger(rec)
	if err != nil {
		return Record{}, err
	}
	l.Errors = append(l.Errors, ChumErrorRecord{Timestamp: now, Code: code, Detail: detail})
	return m.commitLedger(idHash, rec, l, now)
}

// AddStats folds transport byte/request counters into the Chum's stats.
func (m *Manager) AddStats(idHash hashing.IdHash, rec Record, delta TransportStats, now int64) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.loadLedger(rec)
	if err != nil {
		return Record{}, err
	}
	l.Stats.BytesSent += delta.BytesSent
	l.Stats.BytesReceived += delta.BytesReceived
	l.Stats.RequestsSent += delta.RequestsSent
	l.Stats.RequestsReceived += delta.RequestsReceived
	return m.commitLedger(idHash, rec, l, now)
}

func (m *Manager) commitLedger(idHash hashing.IdHash, rec Record, l *Ledger, now int64) (Record, error) {
	h, err := m.storeLedger(l)
	if err != nil {
		return Record{}, err
	}
	rec.Ledger = h
	if err := m.writeRecord(rec, idHash, now); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// connStats is a set of four atomic counters a live Session updates as frames
// cross the wire, folded into the Chum record only at Finalize so a long
// sync doesn't serialize on the ledger for every single frame.
type connStats struct {
	bytesSent     int64
	bytesReceived int64
	requestsSent  int64
	requestsRecv  int64
}

func (c *connStats) snapshot() TransportStats {
	return TransportStats{
		BytesSent:        atomic.LoadInt64(&c.bytesSent),
		BytesReceived:    atomic.LoadInt64(&c.bytesReceived),
		RequestsSent:     atomic.LoadInt64(&c.requestsSent),
		RequestsReceived: atomic.LoadInt64(&c.requestsRecv),
	}
}
