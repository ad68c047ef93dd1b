package store

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// Scrypt parameters are fixed at init rather than tunable, matching
// conservative, well-known interactive-login parameters.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

const (
	nonceSize = 24 // secretbox nonce width
	saltSize  = 16
)

// kind tags for the encrypted record's inner envelope.
const (
	kindBinary byte = 0
	kindString byte = 1
)

// derivedKeys holds the three values the private namespace persists under
// well-known names, plus the salt (SN) used to re-derive the
// secret-derived key on every subsequent open.
type derivedKeys struct {
	storageKey   [32]byte // SK: seals object/blob/clob content when encryption is enabled, and private-namespace entries
	filenameKey  [32]byte // FK: seals private-namespace filenames other than the well-known four
	filenameNonce [24]byte // FN: the single static nonce used for filename sealing
}

func deriveSecretKey(secret, salt []byte) ([32]byte, error) {
	var key [32]byte
	raw, err := scrypt.Key(secret, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return key, err
	}
	copy(key[:], raw)
	return key, nil
}

// sealWithNonce wraps content as nonce(24) || sealed(padLen(1) || pad ||
// kind(1) || content). padLen is 0-15 random bytes of padding, which is
// why Size() can only approximate plaintext length to within +-16 bytes.
func sealWithNonce(key [32]byte, nonce [24]byte, kind byte, content []byte) []byte {
	padLen := randomPadLen()
	inner := make([]byte, 0, 1+int(padLen)+1+len(content))
	inner = append(inner, padLen)
	if padLen > 0 {
		pad := make([]byte, padLen)
		_, _ = rand.Read(pad)
		inner = append(inner, pad...)
	}
	inner = append(inner, kind)
	inner = append(inner, content...)

	sealed := secretbox.Seal(nil, inner, &nonce, &key)
	out := make([]byte, 0, nonceSize+len(sealed))
	out = append(out, nonce[:]...)
	out = append(out, sealed...)
	return out
}

// seal picks a fresh random per-record nonce: content is sealed with a
// per-write nonce, never a reused one.
func seal(key [32]byte, kind byte, content []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return sealWithNonce(key, nonce, kind, content), nil
}

// open reverses seal, returning DecryptionFailed on any integrity failure.
func open(key [32]byte, data []byte) (kind byte, content []byte, err error) {
	if len(data) < nonceSize {
		return 0, nil, errDecryptionFailed(nil)
	}
	var nonce [24]byte
	copy(nonce[:], data[:nonceSize])
	inner, ok := secretbox.Open(nil, data[nonceSize:], &nonce, &key)
	if !ok {
		return 0, nil, errDecryptionFailed(nil)
	}
	if len(inner) < 2 {
		return 0, nil, errDecryptionFailed(nil)
	}
	padLen := int(inner[0])
	if len(inner) < 1+padLen+1 {
		return 0, nil, errDecryptionFailed(nil)
	}
	kind = inner[1+padLen]
	content = inner[1+padLen+1:]
	return kind, content, nil
}

func randomPadLen() byte {
	var b [1]byte
	_, _ = rand.Read(b[:])
	return b[0] & 0x0F // 0-15, bounding Size()'s approximation to +-16
}

// approxPlaintextSize estimates the decrypted length without decrypting:
// total - nonce - secretbox overhead - padLen byte - kind byte - padding
// bytes (unknown exactly, so this is only an approximation, bounded to
// within +-16 bytes by the padLen range).
func approxPlaintextSize(storedLen int) int {
	overhead := nonceSize + secretbox.Overhead + 1 /*padLen byte*/ + 1 /*kind byte*/
	n := storedLen - overhead
	if n < 0 {
		n = 0
	}
	return n
}

// --- private-namespace well-known names ---

const (
	wellKnownSN = "SN"
	wellKnownSK = "SK"
	wellKnownFK = "FK"
	wellKnownFN = "FN"
)

// encryptFilename deterministically seals a private-namespace name (other
// than the four well-known bootstrap names, which are stored under their
// plain name so they can be read before any key is derived) using FK and
// the single static FN nonce, so repeat writes of the same logical name
// land on the same bucket key. A single static nonce is safe here only
// because these names, unlike content, are not attacker-controlled
// high-entropy hashes on their own; FK/FN exist precisely to give them
// that property.
func encryptFilename(keys *derivedKeys, name string) string {
	sealed := secretbox.Seal(nil, []byte(name), &keys.filenameNonce, &keys.filenameKey)
	return hex.EncodeToString(sealed)
}
