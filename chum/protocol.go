package chum

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/refinio/one-core/access"
	"github.com/refinio/one-core/errutil"
	"github.com/refinio/one-core/hashing"
)

// Session multiplexes request/reply envelopes over one Transport,
// answering the peer's requests through an Exporter while a caller drives
// its own requests through the fetcher methods below. The protocol is
// symmetric: each side runs both an exporter and an importer over the
// same connection.
type Session struct {
	transport Transport
	exporter  *Exporter
	requester access.PersonId // the peer's identity, for access checks on inbound requests
	logger    *logrus.Logger

	// tag is a random per-process correlation id for log lines, distinct
	// from the Chum record's deterministic idHash: two processes can open
	// concurrent sessions for the same (self,peer) pair (e.g. a retry
	// racing a still-live connection) and their log lines must not
	// interleave under one label.
	tag string

	idHash hashing.IdHash
	rec    Record
	mgr    *Manager
	now    func() int64

	nextID  uint64
	pending sync.Map // uint64 -> chan envelope

	stats connStats

	closeOnce sync.Once
	closed    chan struct{}
}

// NewSession wraps transport with request/reply multiplexing. now supplies
// the session's notion of current time: it is threaded in explicitly,
// never read from the wall clock inside the package.
func NewSession(transport Transport, exporter *Exporter, requester access.PersonId, mgr *Manager, idHash hashing.IdHash, rec Record, now func() int64, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	return &Session{
		transport: transport,
		exporter:  exporter,
		requester: requester,
		logger:    logger,
		tag:       uuid.NewString(),
		idHash:    idHash,
		rec:       rec,
		mgr:       mgr,
		now:       now,
		closed:    make(chan struct{}),
	}
}

// Serve runs the receive loop until the transport closes or Close is
// called, dispatching inbound requests to the Exporter and routing
// inbound replies to whichever goroutine is waiting on them. One Session
// serves exactly one peer connection: the session ends when either
// transport closes or an unrecoverable protocol error occurs.
func (s *Session) Serve() error {
	for {
		frame, err := s.transport.Receive()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
				return err
			}
		}
		atomic.AddInt64(&s.stats.bytesReceived, int64(len(frame)))

		env, err := unmarshalEnvelope(frame)
		if err != nil {
			s.logger.Warnf("chum[%s]: dropping malformed frame: %v", s.tag, err)
			continue
		}

		if env.Reply {
			s.deliverReply(env)
			continue
		}

		atomic.AddInt64(&s.stats.requestsRecv, 1)
		reply, rec := s.exporter.Handle(env, s.requester, s.idHash, s.rec, s.now())
		s.rec = rec
		if err := s.sendEnvelope(reply); err != nil {
			return err
		}
	}
}

func (s *Session) deliverReply(env envelope) {
	v, ok := s.pending.LoadAndDelete(env.ID)
	if !ok {
		return
	}
	ch := v.(chan envelope)
	ch <- env
}

// Close terminates the session; Serve's next Receive error is treated as a
// clean shutdown rather than a transport failure.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return s.transport.Close()
}

func (s *Session) sendEnvelope(env envelope) error {
	frame, err := marshalEnvelope(env)
	if err != nil {
		return err
	}
	atomic.AddInt64(&s.stats.bytesSent, int64(len(frame)))
	return s.transport.Send(frame)
}

// request sends one request envelope and blocks for its matching reply
// (correlated by ID, grounded on core/replication.go's msgType dispatch,
// extended with a correlation ID for duplex request/reply use).
func (s *Session) request(kind msgKind, rp requestPayload) (replyPayload, error) {
	id := atomic.AddUint64(&s.nextID, 1)
	payload, err := json.Marshal(rp)
	if err != nil {
		return replyPayload{}, err
	}
	ch := make(chan envelope, 1)
	s.pending.Store(id, ch)
	defer s.pending.Delete(id)

	if err := s.sendEnvelope(envelope{ID: id, Kind: kind, Payload: payload}); err != nil {
		return replyPayload{}, err
	}
	atomic.AddInt64(&s.stats.requestsSent, 1)

	select {
	case env := <-ch:
		var reply replyPayload
		if err := json.Unmarshal(env.Payload, &reply); err != nil {
			return replyPayload{}, err
		}
		if !reply.OK {
			return replyPayload{}, errutil.New(errutil.Code(reply.ErrorCode), map[string]any{"requestId": id})
		}
		return reply, nil
	case <-s.closed:
		return replyPayload{}, errRequestTimeout(id)
	}
}

// GetObject implements fetcher.
func (s *Session) GetObject(hash hashing.Hash) ([]byte, error) {
	reply, err := s.request(kindGetObject, requestPayload{Hash: hash.String()})
	if err != nil {
		return nil, err
	}
	return reply.Payload, nil
}

// GetBlob implements fetcher.
func (s *Session) GetBlob(hash hashing.Hash) ([]byte, error) {
	reply, err := s.request(kindGetBlob, requestPayload{Hash: hash.String()})
	if err != nil {
		return nil, err
	}
	return reply.Payload, nil
}

// GetClob implements fetcher.
func (s *Session) GetClob(hash hashing.Hash) ([]byte, error) {
	reply, err := s.request(kindGetClob, requestPayload{Hash: hash.String()})
	if err != nil {
		return nil, err
	}
	return reply.Payload, nil
}

// GetChildren implements fetcher.
func (s *Session) GetChildren(hash hashing.Hash) ([]string, error) {
	reply, err := s.request(kindGetChildren, requestPayload{Hash: hash.String()})
	if err != nil {
		return nil, err
	}
	return reply.Children, nil
}

// GetIdObject fetches the current canonical text for an identified record.
func (s *Session) GetIdObject(idHash hashing.IdHash) ([]byte, error) {
	reply, err := s.request(kindGetIdObject, requestPayload{Hash: idHash.String()})
	if err != nil {
		return nil, err
	}
	return reply.Payload, nil
}

// GetMetadata fetches an object's size without transferring its content.
func (s *Session) GetMetadata(hash hashing.Hash) (int, error) {
	reply, err := s.request(kindGetMetadata, requestPayload{Hash: hash.String()})
	if err != nil {
		return 0, err
	}
	return reply.Size, nil
}

// ListAccessible fetches the id-hashes of every root the peer currently
// grants this session's identity access to.
func (s *Session) ListAccessible() ([]hashing.Hash, error) {
	reply, err := s.request(kindListAccessible, requestPayload{})
	if err != nil {
		return nil, err
	}
	out := make([]hashing.Hash, 0, len(reply.Children))
	for _, c := range reply.Children {
		h, err := hashing.ParseHash(c)
		if err != nil {
			return nil, fmt.Errorf("chum: bad accessible root %q: %w", c, err)
		}
		out = append(out, h)
	}
	return out, nil
}

// Stats returns a snapshot of this session's transport counters, to be
// folded into the Chum record's stats via Manager.AddStats once the
// session finishes.
func (s *Session) Stats() TransportStats {
	return s.stats.snapshot()
}

// Tag is a per-process random id for correlating this session's log lines,
// independent of the deterministic Chum record id-hash: session identity
// is content-addressed, and this is purely a local debugging handle.
func (s *Session) Tag() string { return s.tag }

// Record returns the session's current view of the Chum record, updated
// as requests are served and as the caller folds import transfers into it.
func (s *Session) Record() Record { return s.rec }

// SetRecord lets the caller (typically after an Importer.Walk) install the
// updated Record back into the session so subsequently served requests
// build on the latest ledger state.
func (s *Session) SetRecord(rec Record) { s.rec = rec }

// Finalize folds the session's transport stats into the Chum record and
// persists it, meant to run once after Serve returns: the Chum record's
// transport statistics are updated when the session ends.
func (s *Session) Finalize() (Record, error) {
	return s.mgr.AddStats(s.idHash, s.rec, s.stats.snapshot(), s.now())
}
