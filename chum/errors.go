package chum

import "github.com/refinio/one-core/errutil"

func errUnknownKind(k msgKind) error {
	return errutil.New(errutil.CodeInvalidRequest, map[string]any{"kind": int(k)})
}

func errBadHash(raw string) error {
	return errutil.New(errutil.CodeMicrodataMalformed, map[string]any{"hash": raw})
}

func errForbiddenType(typeName string) error {
	return errutil.New(errutil.CodeForbiddenType, map[string]any{"type": typeName})
}

func errRequestTimeout(id uint64) error {
	return errutil.New(errutil.CodeTimeout, map[string]any{"requestId": id})
}
