// Package instance implements the authentication/lifecycle surface:
// init_instance, close_instance, delete_instance,
// close_and_delete_current_instance, instance_exists, and password change.
// An *Instance is the process-scoped context handle — there is no global
// "current instance" singleton anywhere in this package; callers thread
// the handle explicitly to whatever components need it, the same way a
// *Ledger is returned from NewLedger/OpenLedger rather than stashed in a
// package variable.
package instance

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/refinio/one-core/access"
	"github.com/refinio/one-core/channel"
	"github.com/refinio/one-core/chum"
	"github.com/refinio/one-core/errutil"
	"github.com/refinio/one-core/events"
	"github.com/refinio/one-core/hashing"
	"github.com/refinio/one-core/recipe"
	"github.com/refinio/one-core/store"
	"github.com/refinio/one-core/version"
)

// KeyPair is an opaque public/private key pair. Key generation and signing
// are treated as an external capability the core only stores and passes
// through, so this package never constructs one and never looks inside it
// beyond copying bytes.
type KeyPair struct {
	Public  []byte
	Private []byte
}

// ReverseMapField names one (type, field) pair a caller wants the version
// graph to maintain a reverse map for, split by reference kind the same
// way init_instance's own parameter list splits them into
// enabled_reverse_maps and enabled_reverse_maps_for_id_objects.
type ReverseMapField struct {
	Type  string
	Field string
}

// Config carries every init_instance/login parameter. Secret is the
// caller's storage password; it is never retained beyond the
// InitPrivateEncryption/OpenInstance call that consumes it.
type Config struct {
	Name      string
	Email     string
	Secret    []byte
	OwnerName string
	Directory string

	InitialRecipes                 []recipe.Recipe
	EnabledReverseMaps             []ReverseMapField // non-id reference reverse maps
	EnabledReverseMapsForIdObjects []ReverseMapField // id-hash reference reverse maps
	StorageInitTimeout             time.Duration

	PersonEncryptionKeyPair *KeyPair
	PersonSignKeyPair       *KeyPair

	// Groups resolves group membership for the access layer. Not part of
	// init_instance's own parameter list but required to wire
	// access.NewLayer; nil means no group grants are ever honored.
	Groups access.GroupResolver

	Logger *logrus.Logger
}

// Instance is the live, process-scoped handle returned by InitInstance and
// OpenInstance: the store plus every component built on top of it for one
// running process. All of its fields are safe to read concurrently; the
// components themselves own their own locking.
type Instance struct {
	Name      string
	Email     string
	OwnerName string
	Directory string
	IdHash    string // hex sha256 over name+email, also the store's db file stem

	PersonEncryptionKeyPair *KeyPair
	PersonSignKeyPair       *KeyPair

	Store      *store.Store
	Registry   *recipe.Registry
	Dispatcher *events.Dispatcher
	Graph      *version.Graph
	Access     *access.Layer
	Channels   *channel.Manager
	Chum       *chum.Manager

	logger *logrus.Logger
}

// instanceIdHash computes the stable identity used to name an instance's
// database file: a single logical database per instance identity, scoped
// by <base>#<instanceIdHash>. It is a plain content hash, not a
// versioned-record ID-hash: an instance identity is not a microdata record.
func instanceIdHash(name, email string) string {
	return hashing.Of([]byte(name + "\x00" + email)).String()
}

func dbPath(directory, name, email string) string {
	return filepath.Join(directory, instanceIdHash(name, email)+".db")
}

// IdHashFor computes the stable identity hash for (name, email) without
// opening a store, for callers (e.g. the CLI's `logout`) that need to name
// an instance's on-disk artifacts without a live *Instance handle.
func IdHashFor(name, email string) string {
	return instanceIdHash(name, email)
}

// InstanceExists reports whether an instance's database file is already
// present under directory.
func InstanceExists(name, email, directory string) bool {
	_, err := os.Stat(dbPath(directory, name, email))
	return err == nil
}

func validateConfig(cfg Config) error {
	missing := map[string]bool{
		"name":      cfg.Name == "",
		"email":     cfg.Email == "",
		"secret":    len(cfg.Secret) == 0,
		"directory": cfg.Directory == "",
	}
	for field, isMissing := range missing {
		if isMissing {
			return errutil.New(errutil.CodeInvalidRequest, map[string]any{"field": field})
		}
	}
	return nil
}

// InitInstance boots a brand-new instance. It fails with
// *InstanceExists* if the instance's database file is already present —
// re-opening an existing instance is OpenInstance's job (the CLI's `login`,
// as opposed to `init`).
func InitInstance(cfg Config) (*Instance, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if InstanceExists(cfg.Name, cfg.Email, cfg.Directory) {
		return nil, errutil.InstanceExists(cfg.Name, cfg.Email)
	}
	return bootstrap(cfg)
}

// OpenInstance re-opens a previously initialized instance (the `one login`
// path). It fails with *InstanceNotFound* if no database file exists yet,
// and *AuthFailed* if secret cannot unwrap the stored encryption keys.
func OpenInstance(cfg Config) (*Instance, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if !InstanceExists(cfg.Name, cfg.Email, cfg.Directory) {
		return nil, errutil.InstanceNotFound(cfg.Name, cfg.Email)
	}
	return bootstrap(cfg)
}

// bootstrap wires every component a running instance needs on top of its
// Store: recipe registry, event dispatcher, version graph, access layer,
// channel manager, chum manager. Recipes are never persisted, so this
// registration runs fresh on every process start, the same way a WAL-backed
// ledger replays its log fresh on every start rather than trusting a
// cached view.
func bootstrap(cfg Config) (*Instance, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	idHash := instanceIdHash(cfg.Name, cfg.Email)

	st, err := store.Open(store.Options{
		Directory:      cfg.Directory,
		InstanceIdHash: idHash,
		InitTimeout:    cfg.StorageInitTimeout,
		Encrypted:      true,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	if err := st.InitPrivateEncryption(cfg.Secret); err != nil {
		_ = st.Close()
		if code, ok := errutil.CodeOf(err); ok && code == errutil.CodeDecryptionFailed {
			return nil, errutil.AuthFailed(cfg.Name, cfg.Email)
		}
		return nil, err
	}

	reg := recipe.NewRegistry()
	if err := access.RegisterRecipes(reg); err != nil {
		_ = st.Close()
		return nil, err
	}
	if err := channel.RegisterRecipes(reg); err != nil {
		_ = st.Close()
		return nil, err
	}
	if err := chum.RegisterRecipes(reg); err != nil {
		_ = st.Close()
		return nil, err
	}
	for _, rec := range cfg.InitialRecipes {
		if err := reg.Register(rec); err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	if err := reg.Validate(); err != nil {
		_ = st.Close()
		return nil, err
	}

	dispatcher := events.New(logger)
	graph := version.New(st, dispatcher, reverseMapRules(cfg), logger)
	accessL := access.NewLayer(st, reg, graph, cfg.Groups)
	channels := channel.New(st, reg, graph, dispatcher, logger)
	chumMgr := chum.New(st, reg, graph, accessL, dispatcher, logger)

	logger.Infof("instance: opened %s/%s at %s", cfg.Name, cfg.Email, cfg.Directory)

	return &Instance{
		Name:                    cfg.Name,
		Email:                   cfg.Email,
		OwnerName:               cfg.OwnerName,
		Directory:               cfg.Directory,
		IdHash:                  idHash,
		PersonEncryptionKeyPair: cfg.PersonEncryptionKeyPair,
		PersonSignKeyPair:       cfg.PersonSignKeyPair,
		Store:                   st,
		Registry:                reg,
		Dispatcher:              dispatcher,
		Graph:                   graph,
		Access:                  accessL,
		Channels:                channels,
		Chum:                    chumMgr,
		logger:                  logger,
	}, nil
}

// reverseMapRules merges the access layer's mandatory reverse-map rules
// (grant lookups depend on them) with whatever (type, field) pairs the
// caller enabled via init_instance's own two reverse-map parameters.
func reverseMapRules(cfg Config) []version.ReverseMapRule {
	rules := append([]version.ReverseMapRule(nil), access.ReverseMapRules()...)
	for _, f := range cfg.EnabledReverseMaps {
		rules = append(rules, version.ReverseMapRule{Type: f.Type, Field: f.Field, IsId: false})
	}
	for _, f := range cfg.EnabledReverseMapsForIdObjects {
		rules = append(rules, version.ReverseMapRule{Type: f.Type, Field: f.Field, IsId: true})
	}
	return rules
}

func (i *Instance) String() string {
	return fmt.Sprintf("instance(%s/%s @ %s)", i.Name, i.Email, i.IdHash)
}
