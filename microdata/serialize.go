package microdata

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/refinio/one-core/recipe"
)

// Serialize produces the canonical text for obj, walking its recipe's rule
// list in declaration order so two callers building the same logical record
// always produce byte-identical text, and so that Parse(Serialize(obj))
// reconstructs obj, except that bag and set items come back in hash order.
func Serialize(reg *recipe.Registry, obj Object) (string, error) {
	rec, ok := reg.Get(obj.Type)
	if !ok {
		return "", errutilRuleNotFound(obj.Type)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<o t=%s>", obj.Type)
	for _, rule := range rec.Rules {
		resolved, err := reg.ResolveRule(obj.Type, rule.Name)
		if err != nil {
			return "", err
		}
		v, present := obj.Fields[rule.Name]
		if !present {
			if resolved.Optional {
				continue
			}
			return "", errMissingField(obj.Type, rule.Name)
		}
		if err := serializeField(&b, resolved, v); err != nil {
			return "", err
		}
	}
	b.WriteString("</o>")
	return b.String(), nil
}

func serializeField(b *strings.Builder, rule recipe.Rule, v Value) error {
	if err := checkKind(rule, v); err != nil {
		return err
	}
	if err := checkConstraints(rule, v); err != nil {
		return err
	}
	fmt.Fprintf(b, "<p n=%s k=%s>", rule.Name, kindTags[v.Kind])
	if err := writeValueBody(b, rule, v); err != nil {
		return err
	}
	b.WriteString("</p>")
	return nil
}

func checkKind(rule recipe.Rule, v Value) error {
	want := kindFromValueType(rule.Type)
	if want != v.Kind {
		return errTypeMismatch(rule.Name, want, v.Kind)
	}
	return nil
}

func checkConstraints(rule recipe.Rule, v Value) error {
	if rule.Regex != nil && v.Kind == KString {
		if !rule.Regex.MatchString(v.Str) {
			return errRegexFailed(rule.Name, v.Str)
		}
	}
	if rule.Min == nil && rule.Max == nil {
		return nil
	}
	var n float64
	switch v.Kind {
	case KInteger:
		n = float64(v.Int)
	case KNumber:
		n = v.Num
	case KString:
		n = float64(len(v.Str))
	case KBag, KSet, KArray:
		n = float64(len(v.Items))
	default:
		return nil
	}
	if rule.Min != nil && n < *rule.Min {
		return errBoundsViolation(rule.Name, n)
	}
	if rule.Max != nil && n > *rule.Max {
		return errBoundsViolation(rule.Name, n)
	}
	return nil
}

// ValueTypeOf is the inverse of kindFromValueType, exported so callers
// building Values from raw recipe types can round-trip through it; the
// codec itself does not call it.
func ValueTypeOf(k Kind) recipe.ValueType {
	switch k {
	case KInteger:
		return recipe.ValueInteger
	case KNumber:
		return recipe.ValueNumber
	case KBoolean:
		return recipe.ValueBoolean
	case KJSON:
		return recipe.ValueStringifiedJSON
	case KRefObject:
		return recipe.ValueReferenceObject
	case KRefId:
		return recipe.ValueReferenceId
	case KRefBlob:
		return recipe.ValueReferenceBlob
	case KRefClob:
		return recipe.ValueReferenceClob
	case KBag:
		return recipe.ValueBag
	case KSet:
		return recipe.ValueSet
	case KArray:
		return recipe.ValueArray
	case KMap:
		return recipe.ValueMap
	case KNested:
		return recipe.ValueNestedObject
	default:
		return recipe.ValueString
	}
}

func writeValueBody(b *strings.Builder, rule recipe.Rule, v Value) error {
	switch v.Kind {
	case KString:
		b.WriteString(escapeText(v.Str))
	case KInteger:
		b.WriteString(strconv.FormatInt(v.Int, 10))
	case KNumber:
		b.WriteString(strconv.FormatFloat(v.Num, 'g', -1, 64))
	case KBoolean:
		b.WriteString(strconv.FormatBool(v.Bool))
	case KJSON:
		b.WriteString(escapeText(v.Str))
	case KRefObject, KRefBlob, KRefClob:
		b.WriteString(v.RefHash.String())
	case KRefId:
		b.WriteString(v.RefId.String())
	case KBag:
		return writeItems(b, rule, v.Items, false)
	case KSet:
		return writeItems(b, rule, v.Items, true)
	case KArray:
		return writeArrayItems(b, rule, v.Items)
	case KMap:
		return writeMap(b, rule, v.Map)
	case KNested:
		return writeNested(b, rule, v.Nested)
	}
	return nil
}

func writeItems(b *strings.Builder, rule recipe.Rule, items []Value, isSet bool) error {
	sorted, hashes := sortItemsByHash(items)
	if isSet {
		for i := 1; i < len(hashes); i++ {
			if hashes[i] == hashes[i-1] {
				return errDuplicateSetItem(rule.Name)
			}
		}
	}
	itemRule := elementRule(rule)
	for _, it := range sorted {
		if err := checkConstraints(itemRule, it); err != nil {
			return err
		}
		fmt.Fprintf(b, "<e k=%s>", kindTags[it.Kind])
		if err := writeValueBody(b, itemRule, it); err != nil {
			return err
		}
		b.WriteString("</e>")
	}
	return nil
}

func writeArrayItems(b *strings.Builder, rule recipe.Rule, items []Value) error {
	itemRule := elementRule(rule)
	for _, it := range items {
		if err := checkConstraints(itemRule, it); err != nil {
			return err
		}
		fmt.Fprintf(b, "<e k=%s>", kindTags[it.Kind])
		if err := writeValueBody(b, itemRule, it); err != nil {
			return err
		}
		b.WriteString("</e>")
	}
	return nil
}

// elementRule approximates the rule that governs a bag/set/array's element
// type: recipes describe container element shape via the single Nested
// rule (when elements are nested objects) or leave Regex/Min/Max unset
// otherwise, since the container's own Rule carries no element-level regex
// in this codec's simplified rule shape.
func elementRule(container recipe.Rule) recipe.Rule {
	if len(container.Nested) == 1 {
		return container.Nested[0]
	}
	return recipe.Rule{Name: container.Name}
}

func writeMap(b *strings.Builder, rule recipe.Rule, m map[string]Value) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortStrings(keys)
	for _, k := range keys {
		v := m[k]
		fmt.Fprintf(b, "<m k=%s vk=%s>", escapeKey(k), kindTags[v.Kind])
		if err := writeValueBody(b, recipe.Rule{Name: k}, v); err != nil {
			return err
		}
		b.WriteString("</m>")
	}
	return nil
}

func writeNested(b *strings.Builder, rule recipe.Rule, fields map[string]Value) error {
	for _, nr := range rule.Nested {
		v, present := fields[nr.Name]
		if !present {
			if nr.Optional {
				continue
			}
			return errMissingField(rule.Name, nr.Name)
		}
		if err := serializeField(b, nr, v); err != nil {
			return err
		}
	}
	return nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func errutilRuleNotFound(typeName string) error {
	return errutilNewRecipeInvalid(typeName)
}

// serializeItemForHash renders a bare value, rule-independent, used only to
// compute the hash that orders bag/set items — never emitted itself, so it
// does not need to honor regex/bounds or a container's element rule.
func serializeItemForHash(v Value) string {
	var b strings.Builder
	writeValueForHash(&b, v)
	return b.String()
}

func writeValueForHash(b *strings.Builder, v Value) {
	fmt.Fprintf(b, "k=%s:", kindTags[v.Kind])
	switch v.Kind {
	case KString, KJSON:
		b.WriteString(v.Str)
	case KInteger:
		b.WriteString(strconv.FormatInt(v.Int, 10))
	case KNumber:
		b.WriteString(strconv.FormatFloat(v.Num, 'g', -1, 64))
	case KBoolean:
		b.WriteString(strconv.FormatBool(v.Bool))
	case KRefObject, KRefBlob, KRefClob:
		b.WriteString(v.RefHash.String())
	case KRefId:
		b.WriteString(v.RefId.String())
	case KBag, KSet, KArray:
		for _, it := range v.Items {
			writeValueForHash(b, it)
			b.WriteByte(';')
		}
	case KMap:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sortStrings(keys)
		for _, k := range keys {
			b.WriteString(k)
			b.WriteByte('=')
			writeValueForHash(b, v.Map[k])
			b.WriteByte(';')
		}
	case KNested:
		keys := make([]string, 0, len(v.Nested))
		for k := range v.Nested {
			keys = append(keys, k)
		}
		sortStrings(keys)
		for _, k := range keys {
			b.WriteString(k)
			b.WriteByte('=')
			writeValueForHash(b, v.Nested[k])
			b.WriteByte(';')
		}
	}
}
