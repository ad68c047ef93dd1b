// Package store implements the Hashed Store: read/write of content in six
// namespaces over a single embedded bbolt database per instance, with
// optional per-record encryption, size queries, and listing. Grounded on
// the bucket-name-constant idiom seen in the retrieved erigon-lib/kv/
// tables.go fragment (a fixed map of bucket name -> config) and on
// core/storage.go's logrus-wired constructor shape.
package store

import "go.etcd.io/bbolt"

// Namespace names one of the six record namespaces the store keeps. Bucket
// names are the namespace strings themselves, mirroring the "TableCfg"
// idiom of naming buckets as fixed constants rather than building them ad
// hoc at call sites.
type Namespace string

const (
	NSObject     Namespace = "objects" // canonical text of typed records
	NSBlob       Namespace = "blobs"   // raw bytes, addressed by sha256(bytes)
	NSClob       Namespace = "clobs"   // raw UTF-8 text, addressed by sha256(bytes)
	NSVersionMap Namespace = "vheads"  // line-structured <idhash>.Object.<type> files
	NSReverseMap Namespace = "rmaps"   // line-structured <hash>.ReverseMap.<type>.<field> files
	NSPrivate    Namespace = "private" // always-encrypted single-consumer area

	// nsTmp is an internal scratch bucket for in-progress write-stream
	// staging; it is not one of the six addressable namespaces and is never
	// exposed through the public Store API.
	nsTmp Namespace = "tmp"
)

// allNamespaces lists every bucket the store creates on Open.
var allNamespaces = []Namespace{NSObject, NSBlob, NSClob, NSVersionMap, NSReverseMap, NSPrivate, nsTmp}

// appendable reports whether ns supports Append/WriteOverwrite: only the
// version-map and reverse-map namespaces are ever appended to or
// overwritten in place.
func appendable(ns Namespace) bool {
	return ns == NSVersionMap || ns == NSReverseMap
}

// textual reports whether ns stores UTF-8 text, for ReadRange's
// character-offset semantics as opposed to byte semantics for opaque
// blobs.
func textual(ns Namespace) bool {
	return ns == NSObject || ns == NSClob || ns == NSVersionMap || ns == NSReverseMap
}

func bucket(tx *bbolt.Tx, ns Namespace) *bbolt.Bucket {
	return tx.Bucket([]byte(ns))
}

func createBuckets(tx *bbolt.Tx) error {
	for _, ns := range allNamespaces {
		if _, err := tx.CreateBucketIfNotExists([]byte(ns)); err != nil {
			return err
		}
	}
	return nil
}
