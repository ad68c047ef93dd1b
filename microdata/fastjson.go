package microdata

import (
	"strconv"
	"strings"
)

// ParseToJSON is a fast path that walks the canonical text once and emits
// JSON directly, without ever constructing an Object/Value tree or
// consulting a recipe. It is for read-through paths
// (e.g. indexing, display) that only need the data, not validation —
// Parse is still required before treating untrusted text as a typed
// Object.
func ParseToJSON(text string) ([]byte, error) {
	var b strings.Builder
	root, pos, err := readTag(text, 0)
	if err != nil {
		return nil, err
	}
	b.WriteByte('{')
	b.WriteString(`"$type":`)
	b.WriteString(strconv.Quote(root.attrs["t"]))
	pos, err = fastWriteFields(&b, text, pos, "o")
	if err != nil {
		return nil, err
	}
	b.WriteByte('}')
	if skipSpace(text, pos) != len(text) {
		return nil, newCodecError(CodeTrailingInput, "trailing input after root element", pos)
	}
	return []byte(b.String()), nil
}

// fastWriteFields consumes <p>...</p> siblings until the matching close tag
// for containerName, writing each as a JSON object member.
func fastWriteFields(b *strings.Builder, text string, pos int, containerName string) (int, error) {
	for {
		pos = skipSpace(text, pos)
		if pos >= len(text) {
			return pos, errSyntax("unexpected end of input", pos)
		}
		if text[pos] == '<' && pos+1 < len(text) && text[pos+1] == '/' {
			break
		}
		t, afterOpen, err := readTag(text, pos)
		if err != nil {
			return pos, err
		}
		bodyEnd, closeEnd, err := findClose(text, afterOpen, t.name)
		if err != nil {
			return pos, err
		}
		b.WriteByte(',')
		b.WriteString(strconv.Quote(t.attrs["n"]))
		b.WriteByte(':')
		if err := fastWriteValue(b, text, afterOpen, bodyEnd, tagKinds[t.attrs["k"]]); err != nil {
			return pos, err
		}
		pos = closeEnd
	}
	closeTag, afterClose, err := readTag(text, pos)
	if err != nil {
		return pos, err
	}
	if !closeTag.closing || closeTag.name != containerName {
		return pos, errSyntax("expected close tag", pos)
	}
	return afterClose, nil
}

func fastWriteValue(b *strings.Builder, text string, start, end int, kind Kind) error {
	body := text[start:end]
	switch kind {
	case KString, KJSON:
		if kind == KJSON {
			// already JSON text: embed verbatim
			b.WriteString(unescapeText(body))
			return nil
		}
		b.WriteString(strconv.Quote(unescapeText(body)))
	case KInteger, KNumber:
		b.WriteString(body)
	case KBoolean:
		b.WriteString(body)
	case KRefObject, KRefBlob, KRefClob, KRefId:
		b.WriteString(strconv.Quote(body))
	case KBag, KSet, KArray:
		b.WriteByte('[')
		pos := start
		first := true
		for pos < end {
			pos = skipSpace(text, pos)
			if pos >= end {
				break
			}
			t, afterOpen, err := readTag(text, pos)
			if err != nil {
				return err
			}
			itemBodyEnd, closeEnd, err := findClose(text, afterOpen, "e")
			if err != nil {
				return err
			}
			if !first {
				b.WriteByte(',')
			}
			first = false
			if err := fastWriteValue(b, text, afterOpen, itemBodyEnd, tagKinds[t.attrs["k"]]); err != nil {
				return err
			}
			pos = closeEnd
		}
		b.WriteByte(']')
	case KMap:
		b.WriteByte('{')
		pos := start
		first := true
		for pos < end {
			pos = skipSpace(text, pos)
			if pos >= end {
				break
			}
			t, afterOpen, err := readTag(text, pos)
			if err != nil {
				return err
			}
			entryBodyEnd, closeEnd, err := findClose(text, afterOpen, "m")
			if err != nil {
				return err
			}
			if !first {
				b.WriteByte(',')
			}
			first = false
			b.WriteString(strconv.Quote(unescapeKey(t.attrs["k"])))
			b.WriteByte(':')
			if err := fastWriteValue(b, text, afterOpen, entryBodyEnd, tagKinds[t.attrs["vk"]]); err != nil {
				return err
			}
			pos = closeEnd
		}
		b.WriteByte('}')
	case KNested:
		b.WriteByte('{')
		_, err := fastWriteNestedFields(b, text, start, end)
		if err != nil {
			return err
		}
		b.WriteByte('}')
	}
	return nil
}

func fastWriteNestedFields(b *strings.Builder, text string, start, end int) (int, error) {
	pos := start
	first := true
	for pos < end {
		pos = skipSpace(text, pos)
		if pos >= end {
			break
		}
		t, afterOpen, err := readTag(text, pos)
		if err != nil {
			return pos, err
		}
		bodyEnd, closeEnd, err := findClose(text, afterOpen, "p")
		if err != nil {
			return pos, err
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(strconv.Quote(t.attrs["n"]))
		b.WriteByte(':')
		if err := fastWriteValue(b, text, afterOpen, bodyEnd, tagKinds[t.attrs["k"]]); err != nil {
			return pos, err
		}
		pos = closeEnd
	}
	return pos, nil
}
