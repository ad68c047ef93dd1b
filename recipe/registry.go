package recipe

import (
	"strings"
	"sync"
)

// Registry holds the map name -> Recipe plus a cache of resolved
// (inheritance-expanded) rules, mirroring the cache-over-backing-store
// pattern of an access-control cache: a mutex-guarded map that is filled
// lazily and invalidated never, since recipes are write-once for the life
// of an instance.
type Registry struct {
	mu       sync.RWMutex
	recipes  map[string]Recipe
	resolved map[string]Rule // cache key: "<recipe>.<path>"
}

func NewRegistry() *Registry {
	return &Registry{
		recipes:  make(map[string]Recipe),
		resolved: make(map[string]Rule),
	}
}

// Register validates the recipe's own shape (identity-at-top-level,
// min<=max, no nested cycles) and adds it to the registry.
// Cross-recipe reference checks (a referred type must be registered or
// declared "any") are deferred to Validate, since recipes are allowed to
// reference each other cyclically and therefore cannot always be
// registered in dependency order.
func (r *Registry) Register(rec Recipe) error {
	for _, rule := range rec.Rules {
		if err := rule.validateShape(true); err != nil {
			return err
		}
		if rule.Type == ValueNestedObject {
			if err := checkNestedCycle(rec.Name, rule.Nested, map[string]bool{}); err != nil {
				return err
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.recipes[rec.Name]; exists {
		return errDuplicateRecipe(rec.Name)
	}
	r.recipes[rec.Name] = rec
	return nil
}

// CompileRule builds a Rule from a regex pattern, returning RegexFailed if
// the pattern does not compile.
func CompileRule(name string, pattern string) (Rule, error) {
	if pattern == "" {
		return Rule{Name: name, Type: ValueString}, nil
	}
	re, err := regexpCompile(pattern)
	if err != nil {
		return Rule{}, errBadRegex(name, err)
	}
	return Rule{Name: name, Type: ValueString, Regex: re}, nil
}

// checkNestedCycle walks a nested-object rule tree looking for a nested
// rule whose name repeats an ancestor's name on the same path, and rejects
// it outright. InheritFrom is not followed here; inheritance cycles are
// caught by ResolveRule.
func checkNestedCycle(recipeName string, rules []Rule, seen map[string]bool) error {
	for _, rule := range rules {
		if rule.Type != ValueNestedObject {
			continue
		}
		key := recipeName + "." + rule.Name
		if seen[key] {
			return errNestedCycle(recipeName)
		}
		seen[key] = true
		if err := checkNestedCycle(recipeName, rule.Nested, seen); err != nil {
			return err
		}
		delete(seen, key)
	}
	return nil
}

// Validate performs the cross-recipe checks that Register defers: every
// reference rule's ReferredTypes must each be registered, or the rule must
// declare the wildcard "any".
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, rec := range r.recipes {
		for _, rule := range rec.Rules {
			if err := r.checkReferredTypes(name, rule); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Registry) checkReferredTypes(recipeName string, rule Rule) error {
	if !rule.Type.isReference() {
		if rule.Type == ValueNestedObject {
			for _, n := range rule.Nested {
				if err := r.checkReferredTypes(recipeName, n); err != nil {
					return err
				}
			}
		}
		return nil
	}
	for _, t := range rule.ReferredTypes {
		if t == "any" {
			continue
		}
		if _, ok := r.recipes[t]; !ok {
			return errUnknownReferredType(rule.Name, t)
		}
	}
	return nil
}

// Get returns the named recipe.
func (r *Registry) Get(name string) (Recipe, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recipes[name]
	return rec, ok
}

// IsVersioned reports whether the named recipe's records are versioned.
func (r *Registry) IsVersioned(name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recipes[name]
	if !ok {
		return false, errRuleNotFound(name, "")
	}
	return rec.Versioned, nil
}

// GetIdRules returns the identity rules of the named recipe, in declaration
// order.
func (r *Registry) GetIdRules(name string) ([]Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recipes[name]
	if !ok {
		return nil, errRuleNotFound(name, "")
	}
	return rec.idRules(), nil
}

// ResolveRule walks the dotted itemprop path through nested rules, resolving
// InheritFrom references along the way, and caches the result.
func (r *Registry) ResolveRule(recipeName, path string) (Rule, error) {
	cacheKey := recipeName + "." + path
	r.mu.RLock()
	if cached, ok := r.resolved[cacheKey]; ok {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	rule, err := r.resolveRuleUncached(recipeName, path, map[string]bool{})
	if err != nil {
		return Rule{}, err
	}

	r.mu.Lock()
	r.resolved[cacheKey] = rule
	r.mu.Unlock()
	return rule, nil
}

func (r *Registry) resolveRuleUncached(recipeName, path string, inheritSeen map[string]bool) (Rule, error) {
	r.mu.RLock()
	rec, ok := r.recipes[recipeName]
	r.mu.RUnlock()
	if !ok {
		return Rule{}, errRuleNotFound(recipeName, path)
	}

	segments := strings.Split(path, ".")
	rules := rec.Rules
	var found Rule
	var ok2 bool
	for i, seg := range segments {
		found, ok2 = findRule(rules, seg)
		if !ok2 {
			return Rule{}, errRuleNotFound(recipeName, path)
		}
		if i < len(segments)-1 {
			if found.Type != ValueNestedObject {
				return Rule{}, errRuleNotFound(recipeName, path)
			}
			rules = found.Nested
		}
	}

	if found.InheritFrom == "" {
		return found, nil
	}

	inheritKey := recipeName + "#" + found.InheritFrom
	if inheritSeen[inheritKey] {
		return Rule{}, errInheritanceCycle(recipeName)
	}
	inheritSeen[inheritKey] = true

	targetRecipe, targetPath := splitInheritFrom(recipeName, found.InheritFrom)
	resolved, err := r.resolveRuleUncached(targetRecipe, targetPath, inheritSeen)
	if err != nil {
		return Rule{}, err
	}
	// The inheriting rule keeps its own name/IsId/Optional but takes the
	// type/regex/bounds/nested shape from the rule it inherits from.
	resolved.Name = found.Name
	resolved.IsId = found.IsId
	resolved.Optional = found.Optional
	return resolved, nil
}

func findRule(rules []Rule, name string) (Rule, bool) {
	for _, rule := range rules {
		if rule.Name == name {
			return rule, true
		}
	}
	return Rule{}, false
}

// splitInheritFrom splits an InheritFrom value of either "recipe.itemprop" or
// a bare "itemprop" (meaning: same recipe, different top-level rule).
func splitInheritFrom(currentRecipe, spec string) (string, string) {
	if idx := strings.IndexByte(spec, '.'); idx >= 0 {
		return spec[:idx], spec[idx+1:]
	}
	return currentRecipe, spec
}
