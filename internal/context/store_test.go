package context

import (
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"skaha/internal/credential"
	"skaha/internal/registry"
	"skaha/pkg/secret"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	storage := NewStorageWithPath(filepath.Join(t.TempDir(), "config.yaml"))
	if err := storage.Save(testConfig()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	store, err := NewStore(storage)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

func TestStore_Active(t *testing.T) {
	store := newTestStore(t)

	ctx, err := store.Active()
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if ctx.Name != "b" || ctx.Kind() != credential.KindOIDC {
		t.Errorf("Active() = %s (%s), want b (oidc)", ctx.Name, ctx.Kind())
	}

	empty := NewMemoryStore(nil)
	var noActive *NoActiveContextError
	if _, err := empty.Active(); !errors.As(err, &noActive) {
		t.Errorf("expected NoActiveContextError, got %v", err)
	}
}

func TestStore_SwitchToMissingContext(t *testing.T) {
	storage := NewStorageWithPath(filepath.Join(t.TempDir(), "config.yaml"))
	store, err := NewStore(storage)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	before := store.Snapshot()

	err = store.Switch("nonexistent")
	var notFound *ContextNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ContextNotFoundError, got %v", err)
	}
	if notFound.Name != "nonexistent" {
		t.Errorf("error names %q, want nonexistent", notFound.Name)
	}
	if store.Snapshot() != before {
		t.Error("store changed after failed switch")
	}
	if len(store.List()) != 0 || store.ActiveName() != "" {
		t.Error("expected store to remain empty")
	}
}

func TestStore_Switch(t *testing.T) {
	store := newTestStore(t)

	if err := store.Switch("a"); err != nil {
		t.Fatalf("Switch failed: %v", err)
	}
	if store.ActiveName() != "a" {
		t.Errorf("ActiveName() = %q, want a", store.ActiveName())
	}

	reloaded, err := NewStore(NewStorageWithPath(store.Path()))
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.ActiveName() != "a" {
		t.Error("switch was not persisted")
	}
}

func TestStore_RemoveActiveIsRejected(t *testing.T) {
	store := newTestStore(t)
	before := store.List()

	err := store.Remove("b")
	var active *ActiveContextError
	if !errors.As(err, &active) {
		t.Fatalf("expected ActiveContextError, got %v", err)
	}
	if !reflect.DeepEqual(store.List(), before) || store.ActiveName() != "b" {
		t.Error("store changed after rejected removal")
	}

	reloaded, err := NewStorageWithPath(store.Path()).Load()
	if err != nil {
		t.Fatal(err)
	}
	if !reloaded.Has("b") {
		t.Error("active context removed from file")
	}
}

func TestStore_RemoveInactive(t *testing.T) {
	store := newTestStore(t)

	if err := store.Remove("a"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if store.Snapshot().Has("a") {
		t.Error("context a still present")
	}
	if store.ActiveName() != "b" {
		t.Errorf("active changed to %q", store.ActiveName())
	}

	var notFound *ContextNotFoundError
	if err := store.Remove("a"); !errors.As(err, &notFound) {
		t.Errorf("expected ContextNotFoundError, got %v", err)
	}
}

func TestStore_Put(t *testing.T) {
	t.Run("first context becomes active", func(t *testing.T) {
		store := NewMemoryStore(nil)
		err := store.Put(Context{Name: "canada", Server: testServer("Canada"), Credential: credential.X509{Path: "/p"}}, false)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if store.ActiveName() != "canada" {
			t.Errorf("ActiveName() = %q, want canada", store.ActiveName())
		}
		ctx, _ := store.Get("canada")
		if ctx.CreatedAt.IsZero() {
			t.Error("CreatedAt not set")
		}
	})

	t.Run("later contexts only activate on request", func(t *testing.T) {
		store := newTestStore(t)
		ctx := Context{Name: "c", Server: testServer("C"), Credential: credential.Token{Value: secret.New("t")}}
		if err := store.Put(ctx, false); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if store.ActiveName() != "b" {
			t.Errorf("active changed to %q", store.ActiveName())
		}
		ctx.Name = "d"
		if err := store.Put(ctx, true); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if store.ActiveName() != "d" {
			t.Errorf("ActiveName() = %q, want d", store.ActiveName())
		}
	})

	t.Run("rejects plain http server", func(t *testing.T) {
		store := NewMemoryStore(nil)
		server := registry.Server{Name: "Local", URL: "http://localhost/skaha"}
		err := store.Put(Context{Name: "local", Server: server, Credential: credential.None{}}, true)
		var invalid *registry.InvalidServerError
		if !errors.As(err, &invalid) {
			t.Errorf("expected InvalidServerError, got %v", err)
		}
	})

	t.Run("rejects invalid name", func(t *testing.T) {
		store := NewMemoryStore(nil)
		if err := store.Put(Context{Name: "bad name", Server: testServer("X")}, true); err == nil {
			t.Error("expected error for invalid name")
		}
	})

	t.Run("rejects credential the server does not accept", func(t *testing.T) {
		store := NewMemoryStore(nil)
		server := testServer("OIDCOnly")
		server.Capabilities.AuthModes = []credential.Kind{credential.KindOIDC}

		err := store.Put(Context{Name: "x", Server: server, Credential: credential.X509{Path: "/p"}}, true)
		var incompatible *IncompatibleCredentialError
		if !errors.As(err, &incompatible) {
			t.Fatalf("expected IncompatibleCredentialError, got %v", err)
		}
		if incompatible.Context != "x" || incompatible.Kind != credential.KindX509 {
			t.Errorf("unexpected error details: %+v", incompatible)
		}
		if len(store.List()) != 0 {
			t.Error("incompatible context was stored")
		}
	})
}

func TestStore_UpdateCredentialSwapsWholeValue(t *testing.T) {
	store := newTestStore(t)
	held := store.Snapshot()
	heldCred := held.Get("b").Credential.(credential.OIDC)

	now := time.Now().UTC().Truncate(time.Second)
	updated, err := store.UpdateCredential("b", func(cur credential.Credential) (credential.Credential, error) {
		o := cur.(credential.OIDC)
		return o.WithTokens(secret.New("new-access"), secret.New("new-refresh"), now, 600, time.Time{}), nil
	})
	if err != nil {
		t.Fatalf("UpdateCredential failed: %v", err)
	}
	if updated.(credential.OIDC).AccessToken.Reveal() != "new-access" {
		t.Error("returned credential not updated")
	}

	// A snapshot taken earlier still sees the complete old credential.
	if got := held.Get("b").Credential.(credential.OIDC); got.AccessToken.Reveal() != "access" || !got.IssuedAt.Equal(heldCred.IssuedAt) {
		t.Error("held snapshot was modified in place")
	}

	ctx, _ := store.Get("b")
	o := ctx.Credential.(credential.OIDC)
	if o.AccessToken.Reveal() != "new-access" || !o.IssuedAt.Equal(now) || o.ExpiresIn != 600 {
		t.Errorf("store not updated: %s", credential.Redact(o))
	}

	fromDisk, err := NewStorageWithPath(store.Path()).Load()
	if err != nil {
		t.Fatal(err)
	}
	if fromDisk.Get("b").Credential.(credential.OIDC).RefreshToken.Reveal() != "new-refresh" {
		t.Error("refreshed credential not persisted")
	}
}

func TestStore_UpdateCredentialErrors(t *testing.T) {
	store := newTestStore(t)

	var notFound *ContextNotFoundError
	_, err := store.UpdateCredential("ghost", func(c credential.Credential) (credential.Credential, error) { return c, nil })
	if !errors.As(err, &notFound) {
		t.Errorf("expected ContextNotFoundError, got %v", err)
	}

	boom := errors.New("refresh failed")
	before := store.Snapshot()
	_, err = store.UpdateCredential("b", func(c credential.Credential) (credential.Credential, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Errorf("expected callback error, got %v", err)
	}
	if store.Snapshot() != before {
		t.Error("store changed after failed update")
	}
}

func TestStore_ConcurrentReadsDuringUpdates(t *testing.T) {
	store := NewMemoryStore(testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				ctx, err := store.Get("b")
				if err != nil {
					t.Errorf("Get failed: %v", err)
					return
				}
				o := ctx.Credential.(credential.OIDC)
				// Tokens and expiry always change together.
				if o.AccessToken.Reveal() != "access" && o.ExpiresIn != 900 {
					t.Errorf("torn credential: %s", credential.Redact(o))
					return
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		_, err := store.UpdateCredential("b", func(cur credential.Credential) (credential.Credential, error) {
			o := cur.(credential.OIDC)
			return o.WithTokens(secret.New("rotated"), secret.Secret{}, time.Now(), 900, time.Time{}), nil
		})
		if err != nil {
			t.Fatalf("UpdateCredential failed: %v", err)
		}
	}
	wg.Wait()
}

func TestStore_Purge(t *testing.T) {
	store := newTestStore(t)

	if err := store.Purge(); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if len(store.List()) != 0 || store.ActiveName() != "" {
		t.Error("store not empty after purge")
	}
	cfg, err := NewStorageWithPath(store.Path()).Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Contexts) != 0 {
		t.Error("file still has contexts after purge")
	}
}

func TestStore_Reload(t *testing.T) {
	store := newTestStore(t)

	other, err := NewStore(NewStorageWithPath(store.Path()))
	if err != nil {
		t.Fatal(err)
	}
	if err := other.Switch("a"); err != nil {
		t.Fatal(err)
	}

	if store.ActiveName() != "b" {
		t.Error("store should not see other writers before Reload")
	}
	if err := store.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if store.ActiveName() != "a" {
		t.Errorf("ActiveName() = %q after reload, want a", store.ActiveName())
	}
}

func TestStore_Registry(t *testing.T) {
	store := newTestStore(t)

	reg := &ContainerRegistry{URL: "images.example.org", Username: "user", Secret: secret.New("pw")}
	if err := store.SetRegistry(reg); err != nil {
		t.Fatalf("SetRegistry failed: %v", err)
	}
	reloaded, err := NewStore(NewStorageWithPath(store.Path()))
	if err != nil {
		t.Fatal(err)
	}
	got := reloaded.Registry()
	if got == nil || got.Username != "user" || got.Secret.Reveal() != "pw" {
		t.Errorf("registry not persisted: %+v", got)
	}

	if err := store.SetRegistry(nil); err != nil {
		t.Fatal(err)
	}
	if store.Registry() != nil {
		t.Error("registry not cleared")
	}
}

func TestNewStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	storage := NewStorageWithPath(path)
	if err := writeRaw(path, "contexts: [broken"); err != nil {
		t.Fatal(err)
	}

	_, err := NewStore(storage)
	var corrupt *ConfigCorruptError
	if !errors.As(err, &corrupt) {
		t.Errorf("expected ConfigCorruptError, got %v", err)
	}
}

func TestNewStore_RejectsInsecureServerInFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "active: a\ncontexts:\n  a:\n    server: {name: A, url: http://insecure.example.org/skaha}\n    credential: {kind: token, token: s3cr3t}\n"
	if err := writeRaw(path, content); err != nil {
		t.Fatal(err)
	}

	_, err := NewStore(NewStorageWithPath(path))
	var corrupt *ConfigCorruptError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected ConfigCorruptError, got %v", err)
	}
	var invalid *registry.InvalidServerError
	if !errors.As(err, &invalid) {
		t.Errorf("expected the cause to be InvalidServerError, got %v", err)
	}

	// Writes through a fresh storage refuse the file too.
	if _, err := NewStorageWithPath(path).Update(func(cfg *Config) error {
		cfg.Active = "a"
		return nil
	}); err == nil {
		t.Error("expected Update to refuse the file")
	}
}

func TestStore_SetRegistryRequiresBothParts(t *testing.T) {
	store := newTestStore(t)
	if err := store.SetRegistry(&ContainerRegistry{Username: "user"}); err == nil {
		t.Error("expected an error for a username without a secret")
	}
	if err := store.SetRegistry(&ContainerRegistry{Secret: secret.New("pw")}); err == nil {
		t.Error("expected an error for a secret without a username")
	}
	if store.Registry() != nil {
		t.Error("invalid registry was stored")
	}
}
