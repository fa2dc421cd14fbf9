// Package context manages the named authentication contexts of the skaha
// CLI and library.
//
// A context pairs a Science Platform server with the credential used to
// reach it (an X.509 proxy certificate, OIDC tokens or a static token). One
// context is active at a time, in the style of kubeconfig contexts.
//
// # Configuration File
//
// Contexts are stored in ~/.skaha/config.yaml (override with SKAHA_CONFIG):
//
//	active: canada
//	contexts:
//	  canada:
//	    server:
//	      name: Canada
//	      url: https://ws-uv.canfar.net/skaha
//	      version: v0
//	    credential:
//	      kind: x509
//	      path: /home/user/.ssl/cadcproxy.pem
//	  uk-cam:
//	    server:
//	      name: UK-CAM
//	      url: https://canfar.cam.uksrc.org/skaha
//	    credential:
//	      kind: oidc
//	      access_token: ...
//	      refresh_token: ...
//
// Tokens are stored in the clear. The file is created 0600 inside a 0700
// directory.
//
// # Usage
//
// Storage is the file layer; Store is the in-memory view built on top:
//   - Add or replace contexts with Put
//   - Select the active context with Switch
//   - Remove contexts with Remove (never the active one)
//   - Delete everything with Purge
//   - Swap a refreshed credential in with UpdateCredential
//
// # Concurrency
//
// Within a process, Store publishes immutable snapshots and serializes
// writers. Across processes, writers hold an advisory file lock for the whole
// load, modify and save cycle, and saves replace the file atomically.
package context
