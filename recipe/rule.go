// Package recipe implements the Recipe Registry: a map of type name to
// Recipe, each Recipe listing Rules that the microdata codec and version
// subsystem consult to validate, canonicalize, and hash records.
package recipe

import "regexp"

// ValueType is the tag of the sum type a rule's value belongs to, so
// dynamic fields can hold any of several variant shapes.
type ValueType int

const (
	ValueString ValueType = iota
	ValueInteger
	ValueNumber
	ValueBoolean
	ValueStringifiedJSON
	ValueReferenceObject
	ValueReferenceId
	ValueReferenceBlob
	ValueReferenceClob
	ValueBag
	ValueSet
	ValueArray
	ValueMap
	ValueNestedObject
)

func (v ValueType) String() string {
	switch v {
	case ValueString:
		return "string"
	case ValueInteger:
		return "integer"
	case ValueNumber:
		return "number"
	case ValueBoolean:
		return "boolean"
	case ValueStringifiedJSON:
		return "stringifiable"
	case ValueReferenceObject:
		return "referenceToObj"
	case ValueReferenceId:
		return "referenceToId"
	case ValueReferenceBlob:
		return "referenceToBlob"
	case ValueReferenceClob:
		return "referenceToClob"
	case ValueBag:
		return "bag"
	case ValueSet:
		return "set"
	case ValueArray:
		return "array"
	case ValueMap:
		return "map"
	case ValueNestedObject:
		return "object"
	default:
		return "unknown"
	}
}

// isReference reports whether the value type references another addressed
// record (used by the version subsystem to know which fields feed the
// reverse-map index).
func (v ValueType) isReference() bool {
	switch v {
	case ValueReferenceObject, ValueReferenceId, ValueReferenceBlob, ValueReferenceClob:
		return true
	default:
		return false
	}
}

// Rule describes one property of a Recipe.
type Rule struct {
	Name       string
	IsId       bool
	Type       ValueType
	Regex      *regexp.Regexp
	Min        *float64
	Max        *float64
	// ReferredTypes restricts which recipe names a reference-typed rule may
	// point at. Empty means "any" — referenced types must themselves be
	// registered, or the rule must declare itself unrestricted.
	ReferredTypes []string
	// InheritFrom names another recipe (optionally "recipe.itemprop") whose
	// rule definition this one should resolve to; resolved lazily.
	InheritFrom string
	// Nested holds the rule set for a ValueNestedObject field. Per spec
	// §3, identity rules may never live inside a Nested block.
	Nested []Rule
	// Optional marks a rule whose absence is not MissingMandatoryField.
	Optional bool
}

// validateShape checks structural constraints that don't require knowledge
// of other recipes (those are checked by Registry.Validate): min<=max and
// no identity flag below the top level. Regex compilation is checked by
// CompileRule, not here.
func (r Rule) validateShape(topLevel bool) error {
	if r.IsId && !topLevel {
		return errIdentityNotTopLevel(r.Name)
	}
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		return errMinGreaterThanMax(r.Name)
	}
	if r.Type == ValueNestedObject {
		for _, n := range r.Nested {
			if err := n.validateShape(false); err != nil {
				return err
			}
		}
	}
	return nil
}
