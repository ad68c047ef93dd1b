package channel

import "github.com/refinio/one-core/errutil"

func errMissingSigner() error {
	return errutil.New(errutil.CodeInvalidRequest, map[string]any{"reason": "SignAuthor set without a Signer"})
}
