package microdata

import "github.com/refinio/one-core/errutil"

const (
	CodeMissingMandatoryField = errutil.CodeMissingMandatory
	CodeTypeMismatch          = errutil.CodeTypeMismatch
	CodeRegexFailed           = errutil.CodeRegexFailed
	CodeUnknownItemprop       = errutil.CodeUnknownItemprop
	CodeHashMismatch          = errutil.CodeHashMismatch
	CodeTrailingInput         = errutil.CodeTrailingInput
)

func newCodecError(code errutil.Code, msg string, pos int) error {
	return errutil.New(code, map[string]any{"reason": msg, "pos": pos})
}

func errMissingField(typeName, field string) error {
	return errutil.New(CodeMissingMandatoryField, map[string]any{"type": typeName, "field": field})
}

func errTypeMismatch(field string, want, got Kind) error {
	return errutil.New(CodeTypeMismatch, map[string]any{"field": field, "want": want, "got": got})
}

func errRegexFailed(field, value string) error {
	return errutil.New(CodeRegexFailed, map[string]any{"field": field, "value": value})
}

func errUnknownItemprop(typeName, field string) error {
	return errutil.New(CodeUnknownItemprop, map[string]any{"type": typeName, "field": field})
}

func errDuplicateSetItem(field string) error {
	return errutil.New(CodeTypeMismatch, map[string]any{"field": field, "reason": "duplicate set item"})
}

func errBoundsViolation(field string, v float64) error {
	return errutil.New(CodeTypeMismatch, map[string]any{"field": field, "reason": "out of bounds", "value": v})
}

func errutilNewRecipeInvalid(typeName string) error {
	return errutil.New(errutil.CodeRecipeInvalid, map[string]any{"type": typeName, "reason": "recipe not registered"})
}
