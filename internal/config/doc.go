// Package config reads the process settings from SKAHA_* environment
// variables.
//
// # Variables
//
//	SKAHA_CONFIG        path of the context store (default ~/.skaha/config.yaml)
//	SKAHA_CONTEXT       context to use instead of the active one
//	SKAHA_TIMEOUT       request timeout, 1s to 300s (default 30s)
//	SKAHA_CONCURRENCY   connection limit, 1 to 128 (default 32)
//	SKAHA_LOGLEVEL      debug, info, warn or error (default info)
//	SKAHA_TOKEN         bearer token used instead of the store
//	SKAHA_CERTIFICATE   proxy certificate used instead of the store
//	SKAHA_URL           server for SKAHA_TOKEN or SKAHA_CERTIFICATE
//
// Command line flags override these values; see the cmd package.
package config
