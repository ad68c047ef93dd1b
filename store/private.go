package store

import (
	"crypto/rand"

	"go.etcd.io/bbolt"
)

// InitPrivateEncryption bootstraps (or, on reopen, loads) the private
// namespace's three derived values under the well-known names SN/SK/FK/FN.
// SN is stored in plaintext — it is the scrypt salt, and without it nothing
// else can be derived, so it cannot itself be encrypted.
func (s *Store) InitPrivateEncryption(secret []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := bucket(tx, NSPrivate)
		salt := b.Get([]byte(wellKnownSN))
		if salt == nil {
			salt = make([]byte, saltSize)
			if _, err := rand.Read(salt); err != nil {
				return err
			}
			if err := b.Put([]byte(wellKnownSN), salt); err != nil {
				return err
			}
		}

		secretKey, err := deriveSecretKey(secret, salt)
		if err != nil {
			return err
		}

		keys, err := loadOrCreateDerivedKeys(b, secretKey)
		if err != nil {
			return err
		}
		s.keys = keys
		return nil
	})
}

func loadOrCreateDerivedKeys(b *bbolt.Bucket, secretKey [32]byte) (*derivedKeys, error) {
	sk := b.Get([]byte(wellKnownSK))
	fk := b.Get([]byte(wellKnownFK))
	fn := b.Get([]byte(wellKnownFN))

	keys := &derivedKeys{}
	if sk == nil || fk == nil || fn == nil {
		if _, err := rand.Read(keys.storageKey[:]); err != nil {
			return nil, err
		}
		if _, err := rand.Read(keys.filenameKey[:]); err != nil {
			return nil, err
		}
		if _, err := rand.Read(keys.filenameNonce[:]); err != nil {
			return nil, err
		}
		sealedSK, err := seal(secretKey, kindBinary, keys.storageKey[:])
		if err != nil {
			return nil, err
		}
		sealedFK, err := seal(secretKey, kindBinary, keys.filenameKey[:])
		if err != nil {
			return nil, err
		}
		sealedFN, err := seal(secretKey, kindBinary, keys.filenameNonce[:])
		if err != nil {
			return nil, err
		}
		if err := b.Put([]byte(wellKnownSK), sealedSK); err != nil {
			return nil, err
		}
		if err := b.Put([]byte(wellKnownFK), sealedFK); err != nil {
			return nil, err
		}
		if err := b.Put([]byte(wellKnownFN), sealedFN); err != nil {
			return nil, err
		}
		return keys, nil
	}

	_, storageKey, err := open(secretKey, sk)
	if err != nil {
		return nil, errDecryptionFailed(err) // wrong secret
	}
	_, filenameKey, err := open(secretKey, fk)
	if err != nil {
		return nil, errDecryptionFailed(err)
	}
	_, filenameNonce, err := open(secretKey, fn)
	if err != nil {
		return nil, errDecryptionFailed(err)
	}
	copy(keys.storageKey[:], storageKey)
	copy(keys.filenameKey[:], filenameKey)
	copy(keys.filenameNonce[:], filenameNonce)
	return keys, nil
}

// ChangeStoragePassword checks oldSecret, draws a fresh salt (SN), derives a
// new secret key from newSecret, and re-wraps SK/FK/FN under it, writing all
// four entries in one bbolt transaction. The underlying storage/filename keys
// themselves are unchanged — only the envelope that protects them with the
// secret-derived key is replaced — so no existing record needs
// re-encrypting.
func (s *Store) ChangeStoragePassword(oldSecret, newSecret []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := bucket(tx, NSPrivate)
		salt := b.Get([]byte(wellKnownSN))
		if salt == nil {
			return errEncryptionNotInitialized()
		}
		oldKey, err := deriveSecretKey(oldSecret, salt)
		if err != nil {
			return err
		}
		if _, err := loadOrCreateDerivedKeys(b, oldKey); err != nil {
			return err
		}
		keys := s.keys

		newSalt := make([]byte, saltSize)
		if _, err := rand.Read(newSalt); err != nil {
			return err
		}
		newKey, err := deriveSecretKey(newSecret, newSalt)
		if err != nil {
			return err
		}

		sealedSK, err := seal(newKey, kindBinary, keys.storageKey[:])
		if err != nil {
			return err
		}
		sealedFK, err := seal(newKey, kindBinary, keys.filenameKey[:])
		if err != nil {
			return err
		}
		sealedFN, err := seal(newKey, kindBinary, keys.filenameNonce[:])
		if err != nil {
			return err
		}
		if err := b.Put([]byte(wellKnownSN), newSalt); err != nil {
			return err
		}
		if err := b.Put([]byte(wellKnownSK), sealedSK); err != nil {
			return err
		}
		if err := b.Put([]byte(wellKnownFK), sealedFK); err != nil {
			return err
		}
		return b.Put([]byte(wellKnownFN), sealedFN)
	})
}

// WritePrivate writes a non-well-known private-namespace entry, sealing its
// content with SK and encrypting its name with FK/FN for deterministic
// lookup.
func (s *Store) WritePrivate(name string, content []byte) error {
	if s.keys == nil {
		return errEncryptionNotInitialized()
	}
	sealed, err := seal(s.keys.storageKey, kindBinary, content)
	if err != nil {
		return err
	}
	key := encryptFilename(s.keys, name)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return bucket(tx, NSPrivate).Put([]byte(key), sealed)
	})
}

// ReadPrivate reads back a non-well-known private-namespace entry.
func (s *Store) ReadPrivate(name string) ([]byte, error) {
	if s.keys == nil {
		return nil, errEncryptionNotInitialized()
	}
	key := encryptFilename(s.keys, name)
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := bucket(tx, NSPrivate).Get([]byte(key))
		if v == nil {
			return errNotFound(NSPrivate, name)
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	_, content, err := open(s.keys.storageKey, raw)
	if err != nil {
		return nil, err
	}
	return content, nil
}
