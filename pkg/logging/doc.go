// Package logging provides the structured logging used across skaha.
//
// It wraps log/slog with a subsystem-oriented API:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Context", "switched to %s", name)
//	logging.Debug("OIDC", "polling %s every %s", endpoint, interval)
//	logging.Error("Client", err, "request failed")
//
// Components that want key/value logging take a *slog.Logger obtained from
// Logger(subsystem).
//
// # Redaction
//
// The handler installed by InitForCLI rewrites any attribute whose key names
// secret material (authorization, access_token, refresh_token, client_secret,
// password, ...) to "[REDACTED]". Secret values wrapped in secret.Secret are
// masked on their own as well, so both layers have to fail before a token is
// written out.
//
// # Audit Logging
//
// Audit records security-relevant events (login, refresh, removal, purge) at
// INFO level with a SECURITY_AUDIT prefix for easy filtering.
package logging
