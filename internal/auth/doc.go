// Package auth turns a stored context into the TLS configuration and
// headers needed to call its server.
//
// X.509 contexts produce a *tls.Config presenting the proxy certificate.
// OIDC and token contexts produce an Authorization header. An expired OIDC
// credential is refreshed on the way and the new tokens are written back
// to the store, so long-running processes keep working after the access
// token lifetime.
package auth
