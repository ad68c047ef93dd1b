package microdata

import (
	"strconv"

	"github.com/refinio/one-core/hashing"
	"github.com/refinio/one-core/recipe"
)

// Parse converts canonical text back into an Object, validating every field
// against its recipe rule (mandatory presence, declared type, regex, known
// itemprop names only). It is the inverse of Serialize: parsing what
// Serialize produced reconstructs the original Object, with bag and set
// items in the hash order Serialize emitted them in.
func Parse(reg *recipe.Registry, text string) (Object, error) {
	root, pos, err := readTag(text, 0)
	if err != nil {
		return Object{}, err
	}
	typeName := root.attrs["t"]
	rec, ok := reg.Get(typeName)
	if !ok {
		return Object{}, errutilNewRecipeInvalid(typeName)
	}

	fields := make(map[string]Value, len(rec.Rules))
	for {
		pos = skipSpace(text, pos)
		if pos >= len(text) {
			return Object{}, errSyntax("unexpected end of input", pos)
		}
		if text[pos] == '<' && pos+1 < len(text) && text[pos+1] == '/' {
			break
		}
		t, afterOpen, err := readTag(text, pos)
		if err != nil {
			return Object{}, err
		}
		if t.name != "p" {
			return Object{}, errSyntax("expected field element", pos)
		}
		name := t.attrs["n"]
		kindTag := t.attrs["k"]
		kind, ok := tagKinds[kindTag]
		if !ok {
			return Object{}, errSyntax("unknown kind tag", pos)
		}
		rule, err := reg.ResolveRule(typeName, name)
		if err != nil {
			return Object{}, errUnknownItemprop(typeName, name)
		}
		bodyEnd, closeEnd, err := findClose(text, afterOpen, "p")
		if err != nil {
			return Object{}, err
		}
		v, err := parseValueBody(text, afterOpen, bodyEnd, kind, rule)
		if err != nil {
			return Object{}, err
		}
		if err := checkKind(rule, v); err != nil {
			return Object{}, err
		}
		if err := checkConstraints(rule, v); err != nil {
			return Object{}, err
		}
		fields[name] = v
		pos = closeEnd
	}

	closeTag, afterClose, err := readTag(text, pos)
	if err != nil {
		return Object{}, err
	}
	if !closeTag.closing || closeTag.name != "o" {
		return Object{}, errSyntax("expected </o>", pos)
	}
	pos = skipSpace(text, afterClose)
	if pos != len(text) {
		return Object{}, newCodecError(CodeTrailingInput, "trailing input after root element", pos)
	}

	for _, rule := range rec.Rules {
		if _, present := fields[rule.Name]; !present && !rule.Optional {
			return Object{}, errMissingField(typeName, rule.Name)
		}
	}

	return Object{Type: typeName, Fields: fields}, nil
}

func skipSpace(s string, pos int) int {
	for pos < len(s) && s[pos] == ' ' {
		pos++
	}
	return pos
}

// parseValueBody dispatches on kind. For scalar kinds it reads escaped text
// directly; for containers it recurses over nested <e>/<m>/<p> elements.
func parseValueBody(text string, start, end int, kind Kind, rule recipe.Rule) (Value, error) {
	body := text[start:end]
	switch kind {
	case KString:
		return StringValue(unescapeText(body)), nil
	case KJSON:
		return JSONValue(unescapeText(body)), nil
	case KInteger:
		n, err := strconv.ParseInt(body, 10, 64)
		if err != nil {
			return Value{}, errTypeMismatch(rule.Name, KInteger, KString)
		}
		return IntegerValue(n), nil
	case KNumber:
		n, err := strconv.ParseFloat(body, 64)
		if err != nil {
			return Value{}, errTypeMismatch(rule.Name, KNumber, KString)
		}
		return NumberValue(n), nil
	case KBoolean:
		b, err := strconv.ParseBool(body)
		if err != nil {
			return Value{}, errTypeMismatch(rule.Name, KBoolean, KString)
		}
		return BoolValue(b), nil
	case KRefObject:
		h, err := hashing.ParseHash(body)
		if err != nil {
			return Value{}, err
		}
		return RefObjectValue(h), nil
	case KRefBlob:
		h, err := hashing.ParseHash(body)
		if err != nil {
			return Value{}, err
		}
		return RefBlobValue(h), nil
	case KRefClob:
		h, err := hashing.ParseHash(body)
		if err != nil {
			return Value{}, err
		}
		return RefClobValue(h), nil
	case KRefId:
		h, err := hashing.ParseIdHash(body)
		if err != nil {
			return Value{}, err
		}
		return RefIdValue(h), nil
	case KBag, KSet, KArray:
		return parseItems(text, start, end, kind, elementRule(rule))
	case KMap:
		return parseMap(text, start, end)
	case KNested:
		return parseNested(text, start, end, rule)
	}
	return Value{}, errSyntax("unhandled kind", start)
}

func parseItems(text string, start, end int, kind Kind, itemRule recipe.Rule) (Value, error) {
	var items []Value
	pos := start
	for pos < end {
		pos = skipSpace(text, pos)
		if pos >= end {
			break
		}
		t, afterOpen, err := readTag(text, pos)
		if err != nil {
			return Value{}, err
		}
		if t.name != "e" {
			return Value{}, errSyntax("expected item element", pos)
		}
		itemKind, ok := tagKinds[t.attrs["k"]]
		if !ok {
			return Value{}, errSyntax("unknown item kind", pos)
		}
		bodyEnd, closeEnd, err := findClose(text, afterOpen, "e")
		if err != nil {
			return Value{}, err
		}
		v, err := parseValueBody(text, afterOpen, bodyEnd, itemKind, itemRule)
		if err != nil {
			return Value{}, err
		}
		items = append(items, v)
		pos = closeEnd
	}
	switch kind {
	case KSet:
		return SetValue(items), nil
	case KArray:
		return ArrayValue(items), nil
	default:
		return BagValue(items), nil
	}
}

func parseMap(text string, start, end int) (Value, error) {
	m := make(map[string]Value)
	pos := start
	for pos < end {
		pos = skipSpace(text, pos)
		if pos >= end {
			break
		}
		t, afterOpen, err := readTag(text, pos)
		if err != nil {
			return Value{}, err
		}
		if t.name != "m" {
			return Value{}, errSyntax("expected map entry element", pos)
		}
		key := unescapeKey(t.attrs["k"])
		valKind, ok := tagKinds[t.attrs["vk"]]
		if !ok {
			return Value{}, errSyntax("unknown map value kind", pos)
		}
		bodyEnd, closeEnd, err := findClose(text, afterOpen, "m")
		if err != nil {
			return Value{}, err
		}
		v, err := parseValueBody(text, afterOpen, bodyEnd, valKind, recipe.Rule{Name: key})
		if err != nil {
			return Value{}, err
		}
		m[key] = v
		pos = closeEnd
	}
	return MapValue(m), nil
}

func parseNested(text string, start, end int, rule recipe.Rule) (Value, error) {
	fields := make(map[string]Value, len(rule.Nested))
	pos := start
	for pos < end {
		pos = skipSpace(text, pos)
		if pos >= end {
			break
		}
		t, afterOpen, err := readTag(text, pos)
		if err != nil {
			return Value{}, err
		}
		if t.name != "p" {
			return Value{}, errSyntax("expected nested field element", pos)
		}
		name := t.attrs["n"]
		nr, ok := findNestedRule(rule.Nested, name)
		if !ok {
			return Value{}, errUnknownItemprop(rule.Name, name)
		}
		kind, ok := tagKinds[t.attrs["k"]]
		if !ok {
			return Value{}, errSyntax("unknown kind tag", pos)
		}
		bodyEnd, closeEnd, err := findClose(text, afterOpen, "p")
		if err != nil {
			return Value{}, err
		}
		v, err := parseValueBody(text, afterOpen, bodyEnd, kind, nr)
		if err != nil {
			return Value{}, err
		}
		if err := checkKind(nr, v); err != nil {
			return Value{}, err
		}
		fields[name] = v
		pos = closeEnd
	}
	for _, nr := range rule.Nested {
		if _, present := fields[nr.Name]; !present && !nr.Optional {
			return Value{}, errMissingField(rule.Name, nr.Name)
		}
	}
	return NestedValue(fields), nil
}

func findNestedRule(rules []recipe.Rule, name string) (recipe.Rule, bool) {
	for _, r := range rules {
		if r.Name == name {
			return r, true
		}
	}
	return recipe.Rule{}, false
}
