package chum

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/refinio/one-core/access"
	"github.com/refinio/one-core/hashing"
	"github.com/refinio/one-core/microdata"
	"github.com/refinio/one-core/recipe"
)

// InstanceId names a one.core instance participating in a sync session.
type InstanceId string

// PersonId names one of the two identities used for mutual authentication
// in a sync session; the same identity space access.PersonId grants
// against.
type PersonId = access.PersonId

// RecipeTypeChum is the recipe name for the versioned session record.
const RecipeTypeChum = "Chum"

// RegisterRecipes registers the Chum recipe. Ledger/error/stat content is
// not itself a recipe (the same choice package channel makes for its
// LinkedListEntry): it is a raw content-addressed blob referenced by hash,
// rebuilt wholesale on every update rather than grown field-by-field
// through the microdata codec.
func RegisterRecipes(reg *recipe.Registry) error {
	return reg.Register(recipe.Recipe{
		Name:      RecipeTypeChum,
		Versioned: true,
		Rules: []recipe.Rule{
			{Name: "selfInstance", IsId: true, Type: recipe.ValueString},
			{Name: "selfPerson", IsId: true, Type: recipe.ValueString},
			{Name: "peerInstance", IsId: true, Type: recipe.ValueString},
			{Name: "peerPerson", IsId: true, Type: recipe.ValueString},
			{Name: "ledger", Type: recipe.ValueReferenceObject, Optional: true},
		},
	})
}

// Record is the in-memory form of a Chum versioned session record (spec
// §4.G: "A Chum is a versioned session record naming two instances and the
// two identities used for mutual authentication").
type Record struct {
	SelfInstance InstanceId
	SelfPerson   PersonId
	PeerInstance InstanceId
	PeerPerson   PersonId
	Ledger       hashing.Hash // zero until the first transfer is recorded
}

// ChumIdHash is the id-hash identifying one (selfInstance, selfPerson,
// peerInstance, peerPerson) session record. Fields are serialized in rule
// order, so the two participants, whose self/peer values are swapped,
// compute different id-hashes for their own records.
func ChumIdHash(reg *recipe.Registry, r Record) (hashing.IdHash, error) {
	obj := toIdObject(r)
	text, err := microdata.Serialize(reg, obj)
	if err != nil {
		return hashing.IdHash{}, err
	}
	idText, err := microdata.ExtractIdObject(reg, RecipeTypeChum, text)
	if err != nil {
		return hashing.IdHash{}, err
	}
	return hashing.OfIdObject(idText), nil
}

func toIdObject(r Record) microdata.Object {
	fields := map[string]microdata.Value{
		"selfInstance": microdata.StringValue(string(r.SelfInstance)),
		"selfPerson":   microdata.StringValue(string(r.SelfPerson)),
		"peerInstance": microdata.StringValue(string(r.PeerInstance)),
		"peerPerson":   microdata.StringValue(string(r.PeerPerson)),
	}
	if !r.Ledger.IsZero() {
		fields["ledger"] = microdata.RefObjectValue(r.Ledger)
	}
	return microdata.Object{Type: RecipeTypeChum, Fields: fields}
}

func fromObject(obj microdata.Object) Record {
	r := Record{
		SelfInstance: InstanceId(obj.Fields["selfInstance"].Str),
		SelfPerson:   PersonId(obj.Fields["selfPerson"].Str),
		PeerInstance: InstanceId(obj.Fields["peerInstance"].Str),
		PeerPerson:   PersonId(obj.Fields["peerPerson"].Str),
	}
	if v, ok := obj.Fields["ledger"]; ok {
		r.Ledger = v.RefHash
	}
	return r
}

// wireNamespace names one of the four kinds of transferred item a ledger
// tracks: objects, id-objects, blobs, clobs.
type wireNamespace string

const (
	wireObject   wireNamespace = "object"
	wireIdObject wireNamespace = "idobject"
	wireBlob     wireNamespace = "blob"
	wireClob     wireNamespace = "clob"
)

var allWireNamespaces = []wireNamespace{wireObject, wireIdObject, wireBlob, wireClob}

// LedgerEntry records one transferred item and when it crossed the wire.
type LedgerEntry struct {
	Hash      hashing.Hash
	Timestamp int64
}

// ChumErrorRecord is one entry of the Chum's errors list.
type ChumErrorRecord struct {
	Timestamp int64
	Code      string
	Detail    string
}

// TransportStats accumulates optional byte/request counters for a session.
type TransportStats struct {
	BytesSent        int64
	BytesReceived    int64
	RequestsSent     int64
	RequestsReceived int64
}

// Ledger is the full mutable state referenced by a Chum record's "ledger"
// field: both directions' per-namespace transfer logs, the BtoAExists
// counter, the error log, and transport stats.
type Ledger struct {
	AtoB       map[wireNamespace][]LedgerEntry
	BtoA       map[wireNamespace][]LedgerEntry
	BtoAExists int64
	Errors     []ChumErrorRecord
	Stats      TransportStats
}

func newLedger() *Ledger {
	return &Ledger{
		AtoB: make(map[wireNamespace][]LedgerEntry),
		BtoA: make(map[wireNamespace][]LedgerEntry),
	}
}

// Hash is the ledger blob's own content address: even an internal
// bookkeeping record is stored content-addressed.
func (l *Ledger) Hash() hashing.Hash {
	return hashing.Of(l.encode())
}

func (l *Ledger) encode() []byte {
	var b strings.Builder
	b.WriteString("ledger\x00")
	encodeDirection(&b, l.AtoB)
	b.WriteByte(0)
	encodeDirection(&b, l.BtoA)
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(l.BtoAExists, 10))
	b.WriteByte(0)
	encodeErrors(&b, l.Errors)
	b.WriteByte(0)
	fmt.Fprintf(&b, "%d,%d,%d,%d", l.Stats.BytesSent, l.Stats.BytesReceived, l.Stats.RequestsSent, l.Stats.RequestsReceived)
	return []byte(b.String())
}

func encodeDirection(b *strings.Builder, dir map[wireNamespace][]LedgerEntry) {
	for i, ns := range allWireNamespaces {
		if i > 0 {
			b.WriteByte('|')
		}
		entries := dir[ns]
		parts := make([]string, len(entries))
		for j, e := range entries {
			parts[j] = e.Hash.String() + "@" + strconv.FormatInt(e.Timestamp, 10)
		}
		b.WriteString(string(ns))
		b.WriteByte(':')
		b.WriteString(strings.Join(parts, ","))
	}
}

func encodeErrors(b *strings.Builder, errs []ChumErrorRecord) {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = fmt.Sprintf("%d;%s;%s", e.Timestamp, e.Code, strings.ReplaceAll(e.Detail, ";", " "))
	}
	b.WriteString(strings.Join(parts, "~"))
}

func decodeLedger(raw []byte) (*Ledger, error) {
	parts := strings.Split(string(raw), "\x00")
	if len(parts) != 6 || parts[0] != "ledger" {
		return nil, fmt.Errorf("chum: malformed ledger encoding")
	}
	l := newLedger()
	var err error
	if l.AtoB, err = decodeDirection(parts[1]); err != nil {
		return nil, err
	}
	if l.BtoA, err = decodeDirection(parts[2]); err != nil {
		return nil, err
	}
	if l.BtoAExists, err = strconv.ParseInt(parts[3], 10, 64); err != nil {
		return nil, err
	}
	if l.Errors, err = decodeErrors(parts[4]); err != nil {
		return nil, err
	}
	nums := strings.Split(parts[5], ",")
	if len(nums) != 4 {
		return nil, fmt.Errorf("chum: malformed ledger stats")
	}
	stats := [4]int64{}
	for i, n := range nums {
		stats[i], err = strconv.ParseInt(n, 10, 64)
		if err != nil {
			return nil, err
		}
	}
	l.Stats = TransportStats{BytesSent: stats[0], BytesReceived: stats[1], RequestsSent: stats[2], RequestsReceived: stats[3]}
	return l, nil
}

func decodeDirection(s string) (map[wireNamespace][]LedgerEntry, error) {
	out := make(map[wireNamespace][]LedgerEntry)
	for _, seg := range strings.Split(s, "|") {
		idx := strings.IndexByte(seg, ':')
		if idx < 0 {
			return nil, fmt.Errorf("chum: malformed ledger direction segment %q", seg)
		}
		ns := wireNamespace(seg[:idx])
		body := seg[idx+1:]
		if body == "" {
			out[ns] = nil
			continue
		}
		var entries []LedgerEntry
		for _, item := range strings.Split(body, ",") {
			at := strings.LastIndexByte(item, '@')
			if at < 0 {
				return nil, fmt.Errorf("chum: malformed ledger entry %q", item)
			}
			h, err := hashing.ParseHash(item[:at])
			if err != nil {
				return nil, err
			}
			ts, err := strconv.ParseInt(item[at+1:], 10, 64)
			if err != nil {
				return nil, err
			}
			entries = append(entries, LedgerEntry{Hash: h, Timestamp: ts})
		}
		out[ns] = entries
	}
	return out, nil
}

func decodeErrors(s string) ([]ChumErrorRecord, error) {
	if s == "" {
		return nil, nil
	}
	var out []ChumErrorRecord
	for _, seg := range strings.Split(s, "~") {
		fields := strings.SplitN(seg, ";", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("chum: malformed error entry %q", seg)
		}
		ts, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, ChumErrorRecord{Timestamp: ts, Code: fields[1], Detail: fields[2]})
	}
	return out, nil
}

func sortEntries(entries []LedgerEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp < entries[j].Timestamp })
}
