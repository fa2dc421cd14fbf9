// Package credential models the ways a context can authenticate against a
// Science Platform server.
//
// A Credential is one of X509, OIDC, Token or None. The interface is sealed,
// so every switch over it in this module is exhaustive and a new kind shows
// up as a compile error at each dispatch point.
//
// Credentials are values. Refreshing an OIDC credential produces a new OIDC
// value (see OIDC.WithTokens); nothing mutates a credential in place, which
// lets the context store publish snapshots that concurrent readers can hold
// without locking.
//
// Secret material is wrapped in secret.Secret. Redact is the only string
// form of a credential that may reach logs or the terminal.
package credential
