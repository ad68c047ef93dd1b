package instance

import (
	"os"

	"github.com/refinio/one-core/errutil"
)

// CloseInstance releases the instance's store handle. The Instance value
// itself is left intact (fields still readable) but no further store
// operation through it will succeed once the underlying bbolt file is
// closed.
func (i *Instance) CloseInstance() error {
	i.logger.Infof("instance: closing %s/%s", i.Name, i.Email)
	return i.Store.Close()
}

// DeleteInstance wipes an instance's entire persisted state; there is no
// partial removal. It does not require an open *Instance handle — it
// operates purely on (name, email, directory).
func DeleteInstance(name, email, directory string) error {
	path := dbPath(directory, name, email)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return errutil.InstanceNotFound(name, email)
		}
		return err
	}
	return os.Remove(path)
}

// CloseAndDeleteCurrentInstance closes this instance's store handle and
// then removes its database file. After this call the Instance value must
// not be used again.
func (i *Instance) CloseAndDeleteCurrentInstance() error {
	if err := i.CloseInstance(); err != nil {
		return err
	}
	return DeleteInstance(i.Name, i.Email, i.Directory)
}

// ChangeStoragePassword re-wraps the instance's derived storage/filename
// keys under a new secret in one atomic transaction. The storage and
// filename keys themselves are unchanged, so no existing record needs
// re-encrypting.
func (i *Instance) ChangeStoragePassword(oldSecret, newSecret []byte) error {
	return i.Store.ChangeStoragePassword(oldSecret, newSecret)
}
