// Package microdata implements the canonical object <-> text codec (spec
// §4.B): a deterministic, itemprop-keyed textual form over which object
// hashes and ID-hashes are computed, plus byte-splicing ID-object
// extraction that never rebuilds an in-memory object.
package microdata

import (
	"sort"

	"github.com/refinio/one-core/hashing"
	"github.com/refinio/one-core/recipe"
)

// Kind mirrors recipe.ValueType but is local to the wire representation so
// the codec does not need a registry lookup to know how to walk a Value it
// already built (e.g. while computing item hashes for bag/set sorting).
type Kind int

const (
	KString Kind = iota
	KInteger
	KNumber
	KBoolean
	KJSON
	KRefObject
	KRefId
	KRefBlob
	KRefClob
	KBag
	KSet
	KArray
	KMap
	KNested
)

func kindFromValueType(t recipe.ValueType) Kind {
	switch t {
	case recipe.ValueInteger:
		return KInteger
	case recipe.ValueNumber:
		return KNumber
	case recipe.ValueBoolean:
		return KBoolean
	case recipe.ValueStringifiedJSON:
		return KJSON
	case recipe.ValueReferenceObject:
		return KRefObject
	case recipe.ValueReferenceId:
		return KRefId
	case recipe.ValueReferenceBlob:
		return KRefBlob
	case recipe.ValueReferenceClob:
		return KRefClob
	case recipe.ValueBag:
		return KBag
	case recipe.ValueSet:
		return KSet
	case recipe.ValueArray:
		return KArray
	case recipe.ValueMap:
		return KMap
	case recipe.ValueNestedObject:
		return KNested
	default:
		return KString
	}
}

// kindTags maps each Kind to its short wire token, used in the "k=" attribute of the
// canonical text and nowhere else — it is not part of the public API.
var kindTags = map[Kind]string{
	KString: "s", KInteger: "i", KNumber: "f", KBoolean: "b", KJSON: "j",
	KRefObject: "ro", KRefId: "ri", KRefBlob: "rb", KRefClob: "rc",
	KBag: "bag", KSet: "set", KArray: "arr", KMap: "map", KNested: "obj",
}

var tagKinds = func() map[string]Kind {
	m := make(map[string]Kind, len(kindTags))
	for k, v := range kindTags {
		m[v] = k
	}
	return m
}()

func (k Kind) String() string {
	if s, ok := kindTags[k]; ok {
		return s
	}
	return "unknown"
}

// Value is the in-memory representation of one field's content, tagged by
// Kind so dynamic fields can hold any of several variant shapes.
type Value struct {
	Kind    Kind
	Str     string // string / json raw text
	Int     int64
	Num     float64
	Bool    bool
	RefHash hashing.Hash   // KRefObject / KRefBlob / KRefClob
	RefId   hashing.IdHash // KRefId
	Items   []Value        // KBag / KSet / KArray
	Map     map[string]Value
	Nested  map[string]Value // KNested: flat field map, walked via the owning Rule.Nested
}

func StringValue(s string) Value   { return Value{Kind: KString, Str: s} }
func IntegerValue(n int64) Value   { return Value{Kind: KInteger, Int: n} }
func NumberValue(n float64) Value  { return Value{Kind: KNumber, Num: n} }
func BoolValue(b bool) Value       { return Value{Kind: KBoolean, Bool: b} }
func JSONValue(raw string) Value   { return Value{Kind: KJSON, Str: raw} }
func RefObjectValue(h hashing.Hash) Value   { return Value{Kind: KRefObject, RefHash: h} }
func RefIdValue(h hashing.IdHash) Value     { return Value{Kind: KRefId, RefId: h} }
func RefBlobValue(h hashing.Hash) Value     { return Value{Kind: KRefBlob, RefHash: h} }
func RefClobValue(h hashing.Hash) Value     { return Value{Kind: KRefClob, RefHash: h} }
func BagValue(items []Value) Value          { return Value{Kind: KBag, Items: items} }
func SetValue(items []Value) Value          { return Value{Kind: KSet, Items: items} }
func ArrayValue(items []Value) Value        { return Value{Kind: KArray, Items: items} }
func MapValue(m map[string]Value) Value     { return Value{Kind: KMap, Map: m} }
func NestedValue(m map[string]Value) Value  { return Value{Kind: KNested, Nested: m} }

// Object is a typed record ready for canonicalization: a type name plus its
// field values, keyed by itemprop name.
type Object struct {
	Type   string
	Fields map[string]Value
}

// sortItemsByHash orders bag/set items by the hash of their own serialized
// form, eliminating nondeterminism from slice order.
func sortItemsByHash(items []Value) ([]Value, []hashing.Hash) {
	type withHash struct {
		v Value
		h hashing.Hash
	}
	withHashes := make([]withHash, len(items))
	for i, it := range items {
		withHashes[i] = withHash{v: it, h: hashing.Of([]byte(serializeItemForHash(it)))}
	}
	sort.SliceStable(withHashes, func(i, j int) bool {
		return lessHash(withHashes[i].h, withHashes[j].h)
	})
	out := make([]Value, len(withHashes))
	hashes := make([]hashing.Hash, len(withHashes))
	for i, wh := range withHashes {
		out[i] = wh.v
		hashes[i] = wh.h
	}
	return out, hashes
}

func lessHash(a, b hashing.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
