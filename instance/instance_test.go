package instance

import (
	"os"
	"testing"
)

func testConfig(t *testing.T, name, email string) Config {
	t.Helper()
	dir, err := os.MkdirTemp("", "instance-test")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return Config{
		Name:      name,
		Email:     email,
		Secret:    []byte("correct horse battery staple"),
		OwnerName: "owner",
		Directory: dir,
	}
}

func TestInitInstanceThenReopen(t *testing.T) {
	cfg := testConfig(t, "alice", "alice@example.com")

	if InstanceExists(cfg.Name, cfg.Email, cfg.Directory) {
		t.Fatalf("instance should not exist before init")
	}

	inst, err := InitInstance(cfg)
	if err != nil {
		t.Fatalf("InitInstance: %v", err)
	}
	if !InstanceExists(cfg.Name, cfg.Email, cfg.Directory) {
		t.Fatalf("instance should exist after init")
	}
	if err := inst.CloseInstance(); err != nil {
		t.Fatalf("CloseInstance: %v", err)
	}

	reopened, err := OpenInstance(cfg)
	if err != nil {
		t.Fatalf("OpenInstance: %v", err)
	}
	defer reopened.CloseInstance()
	if reopened.IdHash != inst.IdHash {
		t.Fatalf("id-hash changed across reopen: %s vs %s", inst.IdHash, reopened.IdHash)
	}
}

func TestInitInstanceTwiceFails(t *testing.T) {
	cfg := testConfig(t, "bob", "bob@example.com")

	inst, err := InitInstance(cfg)
	if err != nil {
		t.Fatalf("InitInstance: %v", err)
	}
	defer inst.CloseInstance()

	if _, err := InitInstance(cfg); err == nil {
		t.Fatalf("expected InstanceExists on double init")
	}
}

func TestOpenInstanceWrongSecretFails(t *testing.T) {
	cfg := testConfig(t, "carol", "carol@example.com")

	inst, err := InitInstance(cfg)
	if err != nil {
		t.Fatalf("InitInstance: %v", err)
	}
	if err := inst.CloseInstance(); err != nil {
		t.Fatalf("CloseInstance: %v", err)
	}

	bad := cfg
	bad.Secret = []byte("wrong secret")
	if _, err := OpenInstance(bad); err == nil {
		t.Fatalf("expected AuthFailed on wrong secret")
	}
}

func TestOpenInstanceNotFound(t *testing.T) {
	cfg := testConfig(t, "dave", "dave@example.com")
	if _, err := OpenInstance(cfg); err == nil {
		t.Fatalf("expected InstanceNotFound when no instance was ever created")
	}
}

func TestCloseAndDeleteCurrentInstance(t *testing.T) {
	cfg := testConfig(t, "erin", "erin@example.com")

	inst, err := InitInstance(cfg)
	if err != nil {
		t.Fatalf("InitInstance: %v", err)
	}
	if err := inst.CloseAndDeleteCurrentInstance(); err != nil {
		t.Fatalf("CloseAndDeleteCurrentInstance: %v", err)
	}
	if InstanceExists(cfg.Name, cfg.Email, cfg.Directory) {
		t.Fatalf("instance should no longer exist after delete")
	}

	fresh, err := InitInstance(cfg)
	if err != nil {
		t.Fatalf("re-init after delete: %v", err)
	}
	fresh.CloseInstance()
}

func TestChangeStoragePassword(t *testing.T) {
	cfg := testConfig(t, "frank", "frank@example.com")

	inst, err := InitInstance(cfg)
	if err != nil {
		t.Fatalf("InitInstance: %v", err)
	}
	newSecret := []byte("a whole new secret")
	if err := inst.ChangeStoragePassword(cfg.Secret, newSecret); err != nil {
		t.Fatalf("ChangeStoragePassword: %v", err)
	}
	if err := inst.CloseInstance(); err != nil {
		t.Fatalf("CloseInstance: %v", err)
	}

	withOld := cfg
	if _, err := OpenInstance(withOld); err == nil {
		t.Fatalf("expected AuthFailed reopening with the old secret")
	}

	withNew := cfg
	withNew.Secret = newSecret
	reopened, err := OpenInstance(withNew)
	if err != nil {
		t.Fatalf("OpenInstance with new secret: %v", err)
	}
	reopened.CloseInstance()
}
