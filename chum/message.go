// Package chum implements the Chum Synchronizer: a symmetric, bidirectional
// protocol that walks the closure of objects reachable from a peer's
// accessible roots, gated by the access layer, tracked in a versioned Chum
// session record. Grounded on core/replication.go's
// msgType-plus-json-payload wire envelope (generalized from a one-way
// gossip/inventory protocol to a request/reply one by adding a correlation
// ID, a standard extension for duplex RPC) and on core/peer_management.go's
// separation of "wire framing" from "protocol logic".
package chum

import "encoding/json"

// msgKind tags which of the seven request kinds an envelope carries.
type msgKind uint8

const (
	kindGetObject msgKind = iota + 1
	kindGetIdObject
	kindGetBlob
	kindGetClob
	kindGetMetadata
	kindGetChildren
	kindListAccessible
)

// requestPayload is the JSON body of a request envelope; not every field
// applies to every kind.
type requestPayload struct {
	Hash           string `json:"hash,omitempty"`
	PersonId       string `json:"personId,omitempty"`
	SinceTimestamp int64  `json:"sinceTimestamp,omitempty"`
}

// replyPayload is the JSON body of a reply envelope: either the canonical
// bytes of the requested item, a children/roots list, or an error kind.
type replyPayload struct {
	OK        bool     `json:"ok"`
	Payload   []byte   `json:"payload,omitempty"`
	Size      int      `json:"size,omitempty"`
	Children  []string `json:"children,omitempty"`
	ErrorCode string   `json:"errorCode,omitempty"`
}

// envelope multiplexes requests and their replies over one duplex
// transport by correlation ID, the way any request/reply protocol layered
// over a raw duplex stream must.
type envelope struct {
	ID      uint64          `json:"id"`
	Reply   bool            `json:"reply"`
	Kind    msgKind         `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func marshalEnvelope(env envelope) ([]byte, error) {
	return json.Marshal(env)
}

func unmarshalEnvelope(data []byte) (envelope, error) {
	var env envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
