package microdata

import (
	"strconv"
	"strings"
)

// The canonical grammar is a small, self-designed tag language (not real
// HTML/XML): tags are unquoted, attribute values restricted to
// [A-Za-z0-9_.:/%-]+, and scalar text bodies escape '<', '>', '&' so a
// literal "</x>" can never appear inside content. This keeps the scanner a
// simple depth-free linear search for closing tags, which is what lets
// ID-extraction splice out an identity subrange by byte offset alone.
//
//   root:   <o t=TYPE[ id=1]> field* </o>
//   field:  <p n=NAME k=KIND> body </p>
//   item:   <e k=KIND> body </e>               (bag / set / array elements)
//   entry:  <m k=KEY vk=KIND> body </m>         (map entries, KEY percent-encoded)
//   nested: body of a KNested field is itself field*, no wrapper tag

type tag struct {
	closing bool
	name    string
	attrs   map[string]string
	start   int // offset of '<'
	end     int // offset just past '>'
}

func escapeText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func unescapeText(s string) string {
	r := strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">")
	return r.Replace(s)
}

func escapeKey(s string) string {
	var b strings.Builder
	for _, c := range []byte(s) {
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		if c < 0x10 {
			b.WriteByte('0') // always two hex digits, as unescapeKey reads
		}
		b.WriteString(strings.ToUpper(strconv.FormatInt(int64(c), 16)))
	}
	return b.String()
}

func unescapeKey(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			n, err := strconv.ParseInt(s[i+1:i+3], 16, 16)
			if err == nil {
				b.WriteByte(byte(n))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '.' || c == '-':
		return true
	default:
		return false
	}
}

// readTag parses the tag head starting at s[pos] (which must be '<'),
// returning the parsed tag and the offset just past its '>'.
func readTag(s string, pos int) (tag, int, error) {
	if pos >= len(s) || s[pos] != '<' {
		return tag{}, pos, errSyntax("expected '<'", pos)
	}
	start := pos
	pos++
	closing := false
	if pos < len(s) && s[pos] == '/' {
		closing = true
		pos++
	}
	nameStart := pos
	for pos < len(s) && isNameByte(s[pos]) {
		pos++
	}
	name := s[nameStart:pos]
	if name == "" {
		return tag{}, pos, errSyntax("empty tag name", pos)
	}
	attrs := map[string]string{}
	for {
		for pos < len(s) && s[pos] == ' ' {
			pos++
		}
		if pos < len(s) && s[pos] == '>' {
			pos++
			break
		}
		if pos >= len(s) {
			return tag{}, pos, errSyntax("unterminated tag", pos)
		}
		keyStart := pos
		for pos < len(s) && isNameByte(s[pos]) {
			pos++
		}
		key := s[keyStart:pos]
		if pos >= len(s) || s[pos] != '=' {
			return tag{}, pos, errSyntax("expected '=' in attribute", pos)
		}
		pos++
		valStart := pos
		for pos < len(s) && isAttrValByte(s[pos]) {
			pos++
		}
		attrs[key] = s[valStart:pos]
	}
	return tag{closing: closing, name: name, attrs: attrs, start: start, end: pos}, pos, nil
}

func isNameByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}

func isAttrValByte(c byte) bool {
	return isUnreserved(c) || c == ':' || c == '/' || c == '%'
}

// findClose returns the offset of the matching "</name>" close tag for a
// field/item/entry whose body never contains unescaped '<' except as the
// start of a nested open tag with the same grammar. Since scalar bodies are
// always escaped, a literal "</name>" search is safe only when the body may
// itself nest same-named tags (it never does in this grammar — "p", "e",
// "m" never nest within their own kind without an intervening distinct
// open), so a depth counter keyed on the tag name is used for correctness.
func findClose(s string, from int, name string) (bodyEnd, closeEnd int, err error) {
	depth := 1
	pos := from
	openLit := "<" + name
	closeLit := "</" + name + ">"
	for {
		idxOpen := strings.Index(s[pos:], openLit)
		idxClose := strings.Index(s[pos:], closeLit)
		if idxClose < 0 {
			return 0, 0, errSyntax("missing close tag </"+name+">", pos)
		}
		if idxOpen >= 0 && idxOpen < idxClose && isTagBoundary(s, pos+idxOpen+len(openLit)) {
			depth++
			pos = pos + idxOpen + len(openLit)
			continue
		}
		depth--
		closeAt := pos + idxClose
		if depth == 0 {
			return closeAt, closeAt + len(closeLit), nil
		}
		pos = closeAt + len(closeLit)
	}
}

// isTagBoundary guards against a same-prefixed name (e.g. "p" vs "pp")
// matching as an open tag: the byte right after the name must be a space or
// '>' for it to really be that tag's open.
func isTagBoundary(s string, at int) bool {
	return at < len(s) && (s[at] == ' ' || s[at] == '>')
}

func errSyntax(msg string, pos int) error {
	return newCodecError(CodeTrailingInput, msg, pos)
}
