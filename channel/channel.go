package channel

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/refinio/one-core/events"
	"github.com/refinio/one-core/hashing"
	"github.com/refinio/one-core/microdata"
	"github.com/refinio/one-core/recipe"
	"github.com/refinio/one-core/store"
	"github.com/refinio/one-core/version"
)

// PersonId identifies a channel's owner, identity (id, owner:
// Option<PersonId>). The zero value means "no owner".
type PersonId string

// ChannelInfo is the versioned record naming a channel's current head.
type ChannelInfo struct {
	Id    string
	Owner PersonId
	Head  hashing.Hash
}

// Signer produces an affirmation signature over a post's payload hash, used
// when PostOptions.SignAuthor is set.
type Signer interface {
	Sign(payloadHash hashing.Hash) ([]byte, error)
}

// PostOptions configures one Post/PostIfNotExists call.
type PostOptions struct {
	SignAuthor     bool
	Signer         Signer
	ProfileVersion hashing.Hash // the author's currently loaded default-profile version, if any
}

// EntryNotification is one element of the diff the channel manager
// publishes after a new ChannelInfo version lands.
type EntryNotification struct {
	Entry                Entry
	New                  bool
	EarliestCreationTime int64
}

const channelRegistryAppId = "one.channelRegistry"

// Manager implements the Channel CRDT and owns the per-channel locks that
// serialize posts. Like every other component in this module it is
// constructed explicitly and threaded by the caller rather than reached
// through a package-level global.
type Manager struct {
	st         *store.Store
	reg        *recipe.Registry
	graph      *version.Graph
	dispatcher *events.Dispatcher
	logger     *logrus.Logger

	mu          sync.Mutex
	postLocks   map[string]*sync.Mutex
	existsLocks map[string]*sync.Mutex
	maxSizes    map[string]int

	registryMu sync.Mutex
}

func New(st *store.Store, reg *recipe.Registry, graph *version.Graph, dispatcher *events.Dispatcher, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	m := &Manager{
		st:          st,
		reg:         reg,
		graph:       graph,
		dispatcher:  dispatcher,
		logger:      logger,
		postLocks:   make(map[string]*sync.Mutex),
		existsLocks: make(map[string]*sync.Mutex),
		maxSizes:    make(map[string]int),
	}
	graph.RegisterMerge(RecipeTypeChannelInfo, m.mergeChannelInfo)
	return m
}

// ChannelIdHash computes the ID-hash of the channel (id, owner) identifies,
// the same way any other versioned record's identity is computed, so the
// channel subsystem needs no bespoke identity scheme.
func ChannelIdHash(reg *recipe.Registry, id string, owner PersonId) (hashing.IdHash, error) {
	obj := microdata.Object{Type: RecipeTypeChannelInfo, Fields: map[string]microdata.Value{
		"id":    microdata.StringValue(id),
		"owner": microdata.StringValue(string(owner)),
	}}
	text, err := microdata.Serialize(reg, obj)
	if err != nil {
		return hashing.IdHash{}, err
	}
	idBytes, err := microdata.ExtractIdObject(reg, RecipeTypeChannelInfo, text)
	if err != nil {
		return hashing.IdHash{}, err
	}
	return hashing.OfIdObject(idBytes), nil
}

// SetMaxSize bounds the chain length kept for a channel: if it has a
// maxSize, the tail is truncated during rebuild. Zero (the default) means
// unbounded.
func (m *Manager) SetMaxSize(idHash hashing.IdHash, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxSizes[idHash.String()] = n
}

func (m *Manager) maxSizeOf(idHash hashing.IdHash) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxSizes[idHash.String()]
}

func (m *Manager) lockFor(set map[string]*sync.Mutex, key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := set[key]
	if !ok {
		l = &sync.Mutex{}
		set[key] = l
	}
	return l
}

// Post appends payloadHash at creationTime t and writes a new ChannelInfo
// version. Posts on the same channel are serialized by an internal lock
// from lockFor, keyed by the channel's ID-hash; posts on different channels run
// independently.
func (m *Manager) Post(id string, owner PersonId, payloadHash hashing.Hash, t int64, opts PostOptions) (Entry, error) {
	idHash, err := ChannelIdHash(m.reg, id, owner)
	if err != nil {
		return Entry{}, err
	}
	lock := m.lockFor(m.postLocks, idHash.String())
	lock.Lock()
	defer lock.Unlock()
	return m.postLocked(idHash, id, owner, payloadHash, t, opts)
}

func (m *Manager) postLocked(idHash hashing.IdHash, id string, owner PersonId, payloadHash hashing.Hash, t int64, opts PostOptions) (Entry, error) {
	metadata, err := m.buildMetadata(payloadHash, opts)
	if err != nil {
		return Entry{}, err
	}

	chain, err := m.currentChain(idHash)
	if err != nil {
		return Entry{}, err
	}

	newHead, newEntry, err := Insert(m.st, chain, t, payloadHash, metadata, m.maxSizeOf(idHash))
	if err != nil {
		return Entry{}, err
	}

	if err := m.writeChannelInfo(idHash, id, owner, newHead, t); err != nil {
		return Entry{}, err
	}

	m.notify(idHash, chain, newHead)
	return newEntry, nil
}

// PostIfNotExists scans the current chain for payloadHash before posting,
// serialized against itself under a separate lock from Post. It reports
// whether a new entry was written.
func (m *Manager) PostIfNotExists(id string, owner PersonId, payloadHash hashing.Hash, t int64, opts PostOptions) (Entry, bool, error) {
	idHash, err := ChannelIdHash(m.reg, id, owner)
	if err != nil {
		return Entry{}, false, err
	}
	lock := m.lockFor(m.existsLocks, idHash.String())
	lock.Lock()
	defer lock.Unlock()

	chain, err := m.currentChain(idHash)
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range chain {
		if e.PayloadHash == payloadHash {
			return e, false, nil
		}
	}

	postLock := m.lockFor(m.postLocks, idHash.String())
	postLock.Lock()
	defer postLock.Unlock()
	entry, err := m.postLocked(idHash, id, owner, payloadHash, t, opts)
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// Read returns the current chain head-first for (id, owner).
func (m *Manager) Read(id string, owner PersonId) ([]Entry, error) {
	idHash, err := ChannelIdHash(m.reg, id, owner)
	if err != nil {
		return nil, err
	}
	return m.currentChain(idHash)
}

func (m *Manager) currentChain(idHash hashing.IdHash) ([]Entry, error) {
	node, has, err := m.graph.Current(RecipeTypeChannelInfo, idHash)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}
	ci, err := m.loadChannelInfo(node.Data)
	if err != nil {
		return nil, err
	}
	return loadChain(m.st, ci.Head)
}

func (m *Manager) buildMetadata(payloadHash hashing.Hash, opts PostOptions) ([]hashing.Hash, error) {
	if !opts.SignAuthor {
		return nil, nil
	}
	if opts.Signer == nil {
		return nil, errMissingSigner()
	}
	sig, err := opts.Signer.Sign(payloadHash)
	if err != nil {
		return nil, err
	}
	sigHash := hashing.Of(sig)
	if _, err := m.st.WriteUnique(store.NSBlob, sigHash.String(), sig); err != nil {
		return nil, err
	}
	metadata := []hashing.Hash{sigHash}
	if !opts.ProfileVersion.IsZero() {
		metadata = append(metadata, opts.ProfileVersion)
	}
	return metadata, nil
}

func (m *Manager) writeChannelInfo(idHash hashing.IdHash, id string, owner PersonId, head hashing.Hash, t int64) error {
	ciHash, err := m.storeChannelInfo(ChannelInfo{Id: id, Owner: owner, Head: head})
	if err != nil {
		return err
	}
	_, err = m.graph.WriteVersion(RecipeTypeChannelInfo, idHash, ciHash, nil, t)
	return err
}

func (m *Manager) storeChannelInfo(ci ChannelInfo) (hashing.Hash, error) {
	fields := map[string]microdata.Value{
		"id":    microdata.StringValue(ci.Id),
		"owner": microdata.StringValue(string(ci.Owner)),
	}
	if !ci.Head.IsZero() {
		fields["head"] = microdata.RefObjectValue(ci.Head)
	}
	text, err := microdata.Serialize(m.reg, microdata.Object{Type: RecipeTypeChannelInfo, Fields: fields})
	if err != nil {
		return hashing.Hash{}, err
	}
	h := hashing.Of([]byte(text))
	if _, err := m.st.WriteUnique(store.NSObject, h.String(), []byte(text)); err != nil {
		return hashing.Hash{}, err
	}
	return h, nil
}

func (m *Manager) loadChannelInfo(h hashing.Hash) (ChannelInfo, error) {
	text, err := m.st.Read(store.NSObject, h.String())
	if err != nil {
		return ChannelInfo{}, err
	}
	obj, err := microdata.Parse(m.reg, string(text))
	if err != nil {
		return ChannelInfo{}, err
	}
	ci := ChannelInfo{Id: obj.Fields["id"].Str, Owner: PersonId(obj.Fields["owner"].Str)}
	if hv, ok := obj.Fields["head"]; ok {
		ci.Head = hv.RefHash
	}
	return ci, nil
}

// mergeChannelInfo is the version.MergeFunc registered for ChannelInfo:
// load every leaf's chain, interleave them, rebuild, and store the result
// as a fresh ChannelInfo whose hash becomes the Merge node's data field.
func (m *Manager) mergeChannelInfo(leaves []version.Node) (hashing.Hash, error) {
	chains := make([][]Entry, len(leaves))
	var id string
	var owner PersonId
	var maxSize int
	for i, leaf := range leaves {
		ci, err := m.loadChannelInfo(leaf.Data)
		if err != nil {
			return hashing.Hash{}, err
		}
		chain, err := loadChain(m.st, ci.Head)
		if err != nil {
			return hashing.Hash{}, err
		}
		chains[i] = chain
		id, owner = ci.Id, ci.Owner
	}
	idHash, err := ChannelIdHash(m.reg, id, owner)
	if err == nil {
		maxSize = m.maxSizeOf(idHash)
	}

	merged := MergeChains(chains, MergeOptions{})
	newHead, err := rebuildChain(m.st, mergedToEntryData(merged), maxSize)
	if err != nil {
		return hashing.Hash{}, err
	}
	return m.storeChannelInfo(ChannelInfo{Id: id, Owner: owner, Head: newHead})
}

// notify runs the merge iterator in diff mode between the chain before and
// after a write and publishes the differing entries. Existing-on-both-sides
// entries are never reported.
func (m *Manager) notify(idHash hashing.IdHash, oldChain []Entry, newHead hashing.Hash) {
	if m.dispatcher == nil {
		return
	}
	newChain, err := loadChain(m.st, newHead)
	if err != nil {
		m.logger.Errorf("channel: %s notify: %v", idHash, err)
		return
	}
	diffs := MergeChains([][]Entry{oldChain, newChain}, MergeOptions{OnlyDifferentElements: true})
	if len(diffs) == 0 {
		return
	}
	earliest := diffs[0].Entry.CreationTime
	for _, d := range diffs {
		if d.Entry.CreationTime < earliest {
			earliest = d.Entry.CreationTime
		}
	}
	for _, d := range diffs {
		isNew := !containsCreationTimeHash(oldChain, d.Entry.CreationTimeHash)
		typeTag := "ChannelEntry.existing"
		if isNew {
			typeTag = "ChannelEntry.new"
		}
		m.dispatcher.PublishNewUnversionedObject(events.NewUnversionedObjectEvent{
			Hash: d.Entry.Hash(),
			Type: typeTag,
		})
	}
	m.logger.Debugf("channel: %s %d diff entries since earliest=%d", idHash, len(diffs), earliest)
}

// RegisterChannel records (id, owner) in the singleton ChannelRegistry.
// Registering the same pair twice is a no-op.
func (m *Manager) RegisterChannel(id string, owner PersonId, t int64) error {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()

	idHash, err := m.registryIdHash()
	if err != nil {
		return err
	}
	channels := make(map[string]bool)
	node, has, err := m.graph.Current(RecipeTypeChannelRegistry, idHash)
	if err != nil {
		return err
	}
	if has {
		text, err := m.st.Read(store.NSObject, node.Data.String())
		if err != nil {
			return err
		}
		obj, err := microdata.Parse(m.reg, string(text))
		if err != nil {
			return err
		}
		if v, ok := obj.Fields["channels"]; ok {
			for _, it := range v.Items {
				channels[it.Str] = true
			}
		}
	}

	key := channelRegistryKey(id, owner)
	if channels[key] {
		return nil
	}
	channels[key] = true

	items := make([]microdata.Value, 0, len(channels))
	for k := range channels {
		items = append(items, microdata.StringValue(k))
	}
	text, err := microdata.Serialize(m.reg, microdata.Object{Type: RecipeTypeChannelRegistry, Fields: map[string]microdata.Value{
		"appId":    microdata.StringValue(channelRegistryAppId),
		"channels": microdata.SetValue(items),
	}})
	if err != nil {
		return err
	}
	h := hashing.Of([]byte(text))
	if _, err := m.st.WriteUnique(store.NSObject, h.String(), []byte(text)); err != nil {
		return err
	}
	_, err = m.graph.WriteVersion(RecipeTypeChannelRegistry, idHash, h, nil, t)
	return err
}

func (m *Manager) registryIdHash() (hashing.IdHash, error) {
	text, err := microdata.Serialize(m.reg, microdata.Object{Type: RecipeTypeChannelRegistry, Fields: map[string]microdata.Value{
		"appId": microdata.StringValue(channelRegistryAppId),
	}})
	if err != nil {
		return hashing.IdHash{}, err
	}
	idBytes, err := microdata.ExtractIdObject(m.reg, RecipeTypeChannelRegistry, text)
	if err != nil {
		return hashing.IdHash{}, err
	}
	return hashing.OfIdObject(idBytes), nil
}

func channelRegistryKey(id string, owner PersonId) string {
	return id + "\x00" + string(owner)
}
