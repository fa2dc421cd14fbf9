// Package oidc implements the OAuth 2.0 device authorization grant (RFC 8628)
// against an OpenID provider, plus refresh of the resulting tokens.
//
// A login goes through these states:
//
//	discover -> register -> device_authorize -> polling -> issued
//	                                                    -> expired
//	                                                    -> denied
//	                                                    -> timed_out
//	                                                    -> cancelled
//
// Register is skipped when a client ID is already known. Poll and Refresh
// block; PollAsync and RefreshAsync run the same code in a goroutine and
// report on a channel.
//
// The clock and the wait between polls can be replaced with WithClock and
// WithSleeper so the polling schedule can be tested without real time
// passing.
package oidc
