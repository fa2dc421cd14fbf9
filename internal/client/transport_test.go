package client

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skaha/internal/auth"
	skahactx "skaha/internal/context"
	"skaha/internal/credential"
	"skaha/internal/registry"
	"skaha/pkg/logging"
	"skaha/pkg/secret"
)

func TestRedactHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer abc")
	h.Set("X-Skaha-Registry-Auth", "cm9ib3Q6aHVudGVyMg==")
	h.Set("Cookie", "session=1")
	h.Set("Accept", "application/json")
	h.Set(RequestIDHeader, "id-1")

	out := redactHeaders(h)
	assert.Equal(t, logging.Redacted, out["Authorization"])
	assert.Equal(t, logging.Redacted, out["X-Skaha-Registry-Auth"])
	assert.Equal(t, logging.Redacted, out["Cookie"])
	assert.Equal(t, "application/json", out["Accept"])
	assert.Equal(t, "id-1", out[RequestIDHeader])
}

func TestNewBaseTransport_EnforcesTLS12(t *testing.T) {
	tr := newBaseTransport(nil, DefaultOptions())
	assert.EqualValues(t, 0x0303, tr.TLSClientConfig.MinVersion)
	assert.Equal(t, DefaultConcurrency, tr.MaxConnsPerHost)
}

func TestAuthTransport_Invalidate(t *testing.T) {
	store := skahactx.NewMemoryStore(nil)
	require.NoError(t, store.Put(skahactx.Context{
		Name:       "t",
		Server:     registry.Server{Name: "t", URL: "https://t.example.org", Version: "v0"},
		Credential: credential.Token{Value: secret.New("one")},
	}, true))
	binder := auth.NewBinder(store, nil)

	tr, err := newTransport(context.Background(), binder, "", DefaultOptions(), time.Now, logging.Logger("HTTP"))
	require.NoError(t, err)
	assert.Equal(t, "t", tr.name)

	_, err = store.UpdateCredential("t", func(credential.Credential) (credential.Credential, error) {
		return credential.Token{Value: secret.New("two")}, nil
	})
	require.NoError(t, err)

	b, _, err := tr.current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer one", b.Header.Get("Authorization"), "valid binding is reused")

	tr.invalidate()
	b, _, err = tr.current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer two", b.Header.Get("Authorization"))
}
