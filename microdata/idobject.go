package microdata

import (
	"strings"

	"github.com/refinio/one-core/recipe"
)

// ExtractIdObject builds the ID-object frame for typeName directly from an
// already-serialized canonical record, by copying the exact byte ranges of
// its identity fields — it never parses the text into a Value tree (spec
// §4.B: "ID-extraction must never rebuild an in-memory object"). Identity
// rules must live at the top level (enforced at Register time), so this
// only ever looks at the root's immediate <p> children.
func ExtractIdObject(reg *recipe.Registry, typeName, canonicalText string) ([]byte, error) {
	idRules, err := reg.GetIdRules(typeName)
	if err != nil {
		return nil, err
	}

	root, pos, err := readTag(canonicalText, 0)
	if err != nil {
		return nil, err
	}
	if root.attrs["t"] != typeName {
		return nil, newCodecError(CodeTrailingInput, "type mismatch in canonical text", 0)
	}

	spans := make(map[string]string, len(idRules))
	for pos < len(canonicalText) {
		pos = skipSpace(canonicalText, pos)
		if pos >= len(canonicalText) {
			break
		}
		if canonicalText[pos] == '<' && pos+1 < len(canonicalText) && canonicalText[pos+1] == '/' {
			break
		}
		t, afterOpen, err := readTag(canonicalText, pos)
		if err != nil {
			return nil, err
		}
		_, closeEnd, err := findClose(canonicalText, afterOpen, "p")
		if err != nil {
			return nil, err
		}
		spans[t.attrs["n"]] = canonicalText[t.start:closeEnd]
		pos = closeEnd
	}

	var b strings.Builder
	b.WriteString("<o t=")
	b.WriteString(typeName)
	b.WriteString(" id=1>")
	for _, rule := range idRules {
		span, ok := spans[rule.Name]
		if !ok {
			return nil, errMissingField(typeName, rule.Name)
		}
		b.WriteString(span)
	}
	b.WriteString("</o>")
	return []byte(b.String()), nil
}
