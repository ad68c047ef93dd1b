package store

import "github.com/refinio/one-core/errutil"

func errNotFound(ns Namespace, name string) error {
	return errutil.New(errutil.CodeFileNotFound, map[string]any{"namespace": string(ns), "name": name})
}

func errAlreadyExists(ns Namespace, name string) error {
	return errutil.New(errutil.CodeAlreadyExists, map[string]any{"namespace": string(ns), "name": name})
}

func errOutOfRange(ns Namespace, name string, offset, length int) error {
	return errutil.New(errutil.CodeOutOfRange, map[string]any{
		"namespace": string(ns), "name": name, "offset": offset, "length": length,
	})
}

func errNotSupported(op string, ns Namespace) error {
	return errutil.New(errutil.CodeNotSupportedOnBackend, map[string]any{"op": op, "namespace": string(ns)})
}

func errEncryptionNotInitialized() error {
	return errutil.New(errutil.CodeEncryptionNotInitialized, nil)
}

func errDecryptionFailed(cause error) error {
	return errutil.Wrap(errutil.CodeDecryptionFailed, cause, nil)
}

func errStorageNotInitialized() error {
	return errutil.New(errutil.CodeStorageNotInitialized, nil)
}

func errEncodingMismatch(want, got Encoding) error {
	return errutil.New(errutil.CodeEncodingMismatch, map[string]any{"want": want, "got": got})
}

func errChunkTypeMismatch() error {
	return errutil.New(errutil.CodeChunkTypeMismatch, nil)
}

func errStreamCanceled() error {
	return errutil.New(errutil.CodeStreamCanceled, nil)
}

func errStreamEnded() error {
	return errutil.New(errutil.CodeStreamEnded, nil)
}
