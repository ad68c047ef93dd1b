package main

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/refinio/one-core/errutil"
	"github.com/refinio/one-core/instance"
)

func nowUnix() int64 { return time.Now().Unix() }

// envOrDefault returns the value of the environment variable key, or
// fallback if it is unset or empty.
func envOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// resolveNameDirectory fills in --name/--directory from ONE_INSTANCE_NAME/
// ONE_INSTANCE_DIRECTORY when the flag was left empty, so `login`/`logout`/
// `post` can be run without them, while init keeps the flags fully
// explicit.
func resolveNameDirectory(name, directory string) (string, string) {
	if name == "" {
		name = envOrDefault("ONE_INSTANCE_NAME", "")
	}
	if directory == "" {
		directory = envOrDefault("ONE_INSTANCE_DIRECTORY", ".")
	}
	return name, directory
}

// resolveEmail fills in --email from ONE_INSTANCE_EMAIL when left empty,
// so `one logout` (and `post`) can still locate the instance when
// --email is not given.
func resolveEmail(email string) string {
	if email == "" {
		email = envOrDefault("ONE_INSTANCE_EMAIL", "")
	}
	return email
}

func sessionMarkerPath(directory, idHash string) string {
	return filepath.Join(directory, idHash+".session")
}

// writeSessionMarker records that `login` last succeeded for this instance,
// giving `logout` something concrete to undo in a CLI that has no
// long-running daemon process to hold the process-scoped context handle
// across separate invocations.
func writeSessionMarker(inst *instance.Instance) error {
	path := sessionMarkerPath(inst.Directory, inst.IdHash)
	return os.WriteFile(path, []byte(strconv.FormatInt(nowUnix(), 10)), 0o600)
}

func removeSessionMarker(directory, idHash string) error {
	path := sessionMarkerPath(directory, idHash)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return errutil.New(errutil.CodeFileNotFound, map[string]any{"session": idHash})
		}
		return err
	}
	return os.Remove(path)
}

func requireFlag(name, value string) error {
	if value == "" {
		return errutil.New(errutil.CodeInvalidRequest, map[string]any{"flag": name})
	}
	return nil
}
