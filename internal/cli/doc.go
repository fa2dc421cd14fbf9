// Package cli holds the pieces shared by the skaha commands: exit codes for
// the typed errors of the auth packages, context tables rendered with
// go-pretty, and terminal prompts.
//
// # Exit codes
//
//	0  success
//	1  any other failure
//	2  authentication required or expired; run 'skaha auth login'
//	3  settings or config file need attention
//
// # Output
//
// Credentials are only ever printed through credential.Redact, so tables and
// error messages can be pasted into bug reports.
package cli
