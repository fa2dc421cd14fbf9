package client

import (
	"errors"

	skahactx "skaha/internal/context"
	"skaha/internal/credential"
	"skaha/internal/registry"
	"skaha/pkg/secret"
)

// RuntimeContextName is the name of the context built from runtime
// credentials.
const RuntimeContextName = "runtime"

// ErrNoRuntimeCredentials is returned by RuntimeStore when neither a token
// nor a certificate was supplied.
var ErrNoRuntimeCredentials = errors.New("no runtime credentials supplied")

// RuntimeStore returns an in-memory store holding a single active context
// for serverURL. A token takes precedence over a certificate path.
func RuntimeStore(token secret.Secret, certificatePath, serverURL string) (*skahactx.Store, error) {
	var cred credential.Credential
	switch {
	case !token.IsZero():
		cred = credential.Token{Value: token}
	case certificatePath != "":
		cred = credential.X509{Path: certificatePath}
	default:
		return nil, ErrNoRuntimeCredentials
	}
	if serverURL == "" {
		return nil, errors.New("a server URL is required with runtime credentials")
	}

	server := registry.Server{
		Name:            RuntimeContextName,
		URL:             serverURL,
		Version:         registry.DefaultVersion,
		DiscoverySource: "environment",
	}
	store := skahactx.NewMemoryStore(nil)
	if err := store.Put(skahactx.Context{Name: RuntimeContextName, Server: server, Credential: cred}, true); err != nil {
		return nil, err
	}
	return store, nil
}
