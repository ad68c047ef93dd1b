// Package errutil implements the stable error-code-plus-context error type
// used across the instance. Consumers match on Code, never on the error
// string.
package errutil

import "fmt"

// Code is a stable short identifier for one entry of the error catalog.
type Code string

const (
	// Validation
	CodeRecipeInvalid        Code = "RecipeInvalid"
	CodeTypeMismatch         Code = "TypeMismatch"
	CodeMissingMandatory     Code = "MissingMandatoryField"
	CodeRegexFailed          Code = "RegexFailed"
	CodeUnknownItemprop      Code = "UnknownItemprop"
	CodeInheritanceCycle     Code = "InheritanceCycle"
	CodeNestedCycle          Code = "NestedCycle"
	CodeDuplicateRecipe      Code = "DuplicateRecipe"
	CodeRuleNotFound         Code = "RuleNotFound"

	// Integrity
	CodeHashMismatch    Code = "HashMismatch"
	CodeIdHashMismatch  Code = "IdHashMismatch"
	CodeBrokenReference Code = "BrokenReference"
	CodeMicrodataMalformed Code = "MicrodataMalformed"
	CodeTrailingInput   Code = "TrailingInput"

	// Storage
	CodeFileNotFound            Code = "FileNotFound"
	CodeAlreadyExists            Code = "AlreadyExists"
	CodeOutOfRange               Code = "OutOfRange"
	CodeEncodingMismatch         Code = "EncodingMismatch"
	CodeChunkTypeMismatch        Code = "ChunkTypeMismatch"
	CodeStreamCanceled           Code = "StreamCanceled"
	CodeStreamEnded              Code = "StreamEnded"
	CodeStorageNotInitialized    Code = "StorageNotInitialized"
	CodeEncryptionNotInitialized Code = "EncryptionNotInitialized"
	CodeDecryptionFailed         Code = "DecryptionFailed"
	CodeNotSupportedOnBackend    Code = "NotSupportedOnThisBackend"

	// Auth / Access
	CodeUnauthorized     Code = "Unauthorized"
	CodeForbiddenType    Code = "ForbiddenType"
	CodeAuthFailed       Code = "AuthFailed"
	CodeInstanceExists   Code = "InstanceExists"
	CodeInstanceNotFound Code = "InstanceNotFound"

	// Network / Protocol
	CodeTimeout          Code = "Timeout"
	CodeProtocolMismatch Code = "ProtocolMismatch"
	CodeTransportClosed  Code = "TransportClosed"
	CodeInvalidRequest   Code = "InvalidRequest"

	// Configuration
	CodeConfigLoadFailed Code = "ConfigLoadFailed"

	// Concurrency
	CodeLockPoisoned Code = "LockPoisoned"
)

// Error is the structured error type carried across every package boundary
// in this module. Context keys are small and stable (e.g. "namespace",
// "name", "hash") so UI layers and logs can route on them without parsing
// strings.
type Error struct {
	Code    Code
	Context map[string]any
	Cause   error
}

func New(code Code, context map[string]any) *Error {
	return &Error{Code: code, Context: context}
}

func Wrap(code Code, cause error, context map[string]any) *Error {
	return &Error{Code: code, Context: context, Cause: cause}
}

func (e *Error) Error() string {
	if len(e.Context) == 0 {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %v", e.Code, e.Cause)
		}
		return string(e.Code)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s %v: %v", e.Code, e.Context, e.Cause)
	}
	return fmt.Sprintf("%s %v", e.Code, e.Context)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Code, so
// errors.Is(err, errutil.New(CodeFileNotFound, nil)) works without caring
// about context or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error.
func CodeOf(err error) (Code, bool) {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return "", false
	}
	return e.Code, true
}

func NotFound(namespace, name string) *Error {
	return New(CodeFileNotFound, map[string]any{"namespace": namespace, "name": name})
}

func AlreadyExists(namespace, name string) *Error {
	return New(CodeAlreadyExists, map[string]any{"namespace": namespace, "name": name})
}

func HashMismatchErr(want, got string) *Error {
	return New(CodeHashMismatch, map[string]any{"want": want, "got": got})
}

func Unauthorized(hash string) *Error {
	return New(CodeUnauthorized, map[string]any{"hash": hash})
}

func AuthFailed(name, email string) *Error {
	return New(CodeAuthFailed, map[string]any{"name": name, "email": email})
}

func InstanceExists(name, email string) *Error {
	return New(CodeInstanceExists, map[string]any{"name": name, "email": email})
}

func InstanceNotFound(name, email string) *Error {
	return New(CodeInstanceNotFound, map[string]any{"name": name, "email": email})
}
