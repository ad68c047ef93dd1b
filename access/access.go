// Package access implements the Access Layer: Access and
// IdAccess grant records, group-membership dereference, and the effective
// reader set a remote identity must belong to before a chum export will
// serve it. Grounded on core/access_control.go's role-cache-over-ledger
// pattern, adapted from boolean role grants to reader-set membership
// computed over the reverse-map index (package version) rather than a
// single "access:<addr>:<role>" key prefix.
package access

import (
	"github.com/refinio/one-core/errutil"
	"github.com/refinio/one-core/hashing"
	"github.com/refinio/one-core/microdata"
	"github.com/refinio/one-core/recipe"
	"github.com/refinio/one-core/store"
	"github.com/refinio/one-core/version"
)

// PersonId identifies a participant by the hash of their identity record.
type PersonId string

// GroupId identifies a group record the same way.
type GroupId string

// Access grants read access to one specific immutable object hash.
type Access struct {
	Self   hashing.Hash // this record's own hash, set once stored
	Object hashing.Hash
	Person []PersonId
	Group  []GroupId
}

// IdAccess grants read access to all past and future versions of an
// identified versioned object.
type IdAccess struct {
	Self   hashing.Hash
	Id     hashing.IdHash
	Person []PersonId
	Group  []GroupId
}

// GroupResolver returns the current membership of a group, dereferenced at
// read time rather than at grant time (see DESIGN.md for why this was the
// chosen reading).
type GroupResolver func(GroupId) ([]PersonId, error)

// RecipeTypeAccess and RecipeTypeIdAccess are recipe.Registry names the
// instance must register (see RegisterRecipes) so the reverse-map rules
// wired to them in instance setup can index grants by granted target.
const (
	RecipeTypeAccess   = "Access"
	RecipeTypeIdAccess = "IdAccess"
)

// ReverseMapRules returns the (type, field) pairs the version graph must
// be configured with for the access layer's reverse lookups to work: for a
// target hash/id-hash, every Access/IdAccess record that grants it must be
// findable without scanning the whole store.
func ReverseMapRules() []version.ReverseMapRule {
	return []version.ReverseMapRule{
		{Type: RecipeTypeAccess, Field: "object", IsId: false},
		{Type: RecipeTypeIdAccess, Field: "id", IsId: true},
	}
}

// RegisterRecipes registers the Access and IdAccess recipes. Both are
// unversioned: a grant is itself immutable and superseded by writing a new
// one, not by versioning an existing one.
func RegisterRecipes(reg *recipe.Registry) error {
	if err := reg.Register(recipe.Recipe{
		Name:      RecipeTypeAccess,
		Versioned: false,
		Rules: []recipe.Rule{
			{Name: "object", Type: recipe.ValueReferenceObject},
			{Name: "person", Type: recipe.ValueSet, Optional: true},
			{Name: "group", Type: recipe.ValueSet, Optional: true},
		},
	}); err != nil {
		return err
	}
	return reg.Register(recipe.Recipe{
		Name:      RecipeTypeIdAccess,
		Versioned: false,
		Rules: []recipe.Rule{
			{Name: "id", Type: recipe.ValueReferenceId},
			{Name: "person", Type: recipe.ValueSet, Optional: true},
			{Name: "group", Type: recipe.ValueSet, Optional: true},
		},
	}); err != nil {
		return err
	}
	return nil
}

// Layer computes effective reader sets and enforces Unauthorized.
type Layer struct {
	st     *store.Store
	reg    *recipe.Registry
	graph  *version.Graph
	groups GroupResolver
}

func NewLayer(st *store.Store, reg *recipe.Registry, graph *version.Graph, groups GroupResolver) *Layer {
	return &Layer{st: st, reg: reg, graph: graph, groups: groups}
}

// EffectiveReaders is the union of every person directly granted access to
// hash (or, when idHash is non-nil, to the identity idHash belongs to) and
// the current membership of every granted group.
func (l *Layer) EffectiveReaders(hash hashing.Hash, idHash *hashing.IdHash) (map[PersonId]bool, error) {
	readers := make(map[PersonId]bool)

	accessHashes, err := l.graph.ReadReverseMap(hash, RecipeTypeAccess, "object", false)
	if err != nil {
		return nil, err
	}
	for _, ah := range accessHashes {
		grant, err := l.loadAccess(ah)
		if err != nil {
			return nil, err
		}
		l.addGrant(readers, grant.Person, grant.Group)
	}

	if idHash != nil {
		idAccessHashes, err := l.graph.ReadReverseMap(idHash.AsHash(), RecipeTypeIdAccess, "id", true)
		if err != nil {
			return nil, err
		}
		for _, ah := range idAccessHashes {
			grant, err := l.loadIdAccess(ah)
			if err != nil {
				return nil, err
			}
			l.addGrant(readers, grant.Person, grant.Group)
		}
	}

	return readers, nil
}

func (l *Layer) addGrant(readers map[PersonId]bool, persons []PersonId, groups []GroupId) {
	for _, p := range persons {
		readers[p] = true
	}
	for _, g := range groups {
		if l.groups == nil {
			continue
		}
		members, err := l.groups(g)
		if err != nil {
			continue // an unresolvable group grants no one; not fatal to the overall check
		}
		for _, m := range members {
			readers[m] = true
		}
	}
}

// CheckAccess fails with Unauthorized unless requester belongs to the
// effective reader set of hash: a remote identity may request an object
// only if it belongs to that set.
func (l *Layer) CheckAccess(requester PersonId, hash hashing.Hash, idHash *hashing.IdHash) error {
	readers, err := l.EffectiveReaders(hash, idHash)
	if err != nil {
		return err
	}
	if !readers[requester] {
		return errutil.Unauthorized(hash.String())
	}
	return nil
}

func (l *Layer) loadAccess(h hashing.Hash) (Access, error) {
	text, err := l.st.Read(store.NSObject, h.String())
	if err != nil {
		return Access{}, err
	}
	obj, err := microdata.Parse(l.reg, string(text))
	if err != nil {
		return Access{}, err
	}
	return Access{
		Self:   h,
		Object: obj.Fields["object"].RefHash,
		Person: stringSetToPersons(obj.Fields["person"]),
		Group:  stringSetToGroups(obj.Fields["group"]),
	}, nil
}

func (l *Layer) loadIdAccess(h hashing.Hash) (IdAccess, error) {
	text, err := l.st.Read(store.NSObject, h.String())
	if err != nil {
		return IdAccess{}, err
	}
	obj, err := microdata.Parse(l.reg, string(text))
	if err != nil {
		return IdAccess{}, err
	}
	return IdAccess{
		Self:   h,
		Id:     obj.Fields["id"].RefId,
		Person: stringSetToPersons(obj.Fields["person"]),
		Group:  stringSetToGroups(obj.Fields["group"]),
	}, nil
}

func stringSetToPersons(v microdata.Value) []PersonId {
	out := make([]PersonId, 0, len(v.Items))
	for _, it := range v.Items {
		out = append(out, PersonId(it.Str))
	}
	return out
}

func stringSetToGroups(v microdata.Value) []GroupId {
	out := make([]GroupId, 0, len(v.Items))
	for _, it := range v.Items {
		out = append(out, GroupId(it.Str))
	}
	return out
}
