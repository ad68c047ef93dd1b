package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

// Options configures Open. Directory and InstanceIdHash together determine
// the database file path, `<directory>/<instanceIdHash>.db`: a single
// logical database per instance identity, scoped by that identity's hash.
type Options struct {
	Directory      string
	InstanceIdHash string
	InitTimeout    time.Duration // bbolt open deadline; defaults to 1000ms
	Encrypted      bool          // whether object/blob/clob records are sealed (vmap/rmap never are)
	Logger         *logrus.Logger
}

// Store is the Hashed Store: a bbolt-backed key/value store with one
// bucket per namespace, optional per-record encryption, and stream
// support. Grounded on core/storage.go's constructor shape (logger-wired,
// config struct) and erigon-lib/kv/tables.go's fixed bucket set, adapted
// from a CID/IPFS gateway cache to a plain embedded KV store addressed by
// raw lowercase hex sha256 rather than a multibase CID.
type Store struct {
	mu     sync.Mutex // not locked by any Store method; bbolt itself admits one read-write transaction at a time
	db     *bbolt.DB
	logger *logrus.Logger
	dir    string

	encrypted bool
	keys      *derivedKeys // nil until InitPrivateEncryption succeeds
}

// Open creates or opens the instance's database file, creating every
// namespace bucket if absent.
func Open(opts Options) (*Store, error) {
	if opts.Directory == "" || opts.InstanceIdHash == "" {
		return nil, fmt.Errorf("store: directory and instance id-hash are required")
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = 1000 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(opts.Directory, 0o700); err != nil {
		return nil, fmt.Errorf("store: mkdir %s: %w", opts.Directory, err)
	}
	path := filepath.Join(opts.Directory, opts.InstanceIdHash+".db")
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: opts.InitTimeout})
	if err != nil {
		return nil, errStorageNotInitialized()
	}
	s := &Store{db: db, logger: logger, dir: opts.Directory, encrypted: opts.Encrypted}
	if err := db.Update(createBuckets); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}
	logger.Infof("store: opened %s (encrypted=%v)", path, opts.Encrypted)
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the directory the instance's database lives under.
func (s *Store) Path() string { return s.dir }

// WriteStatus distinguishes a fresh write from a no-op on an existing name.
type WriteStatus int

const (
	StatusNew WriteStatus = iota
	StatusAlreadyExisted
)

func (w WriteStatus) String() string {
	if w == StatusNew {
		return "new"
	}
	return "already-existed"
}
