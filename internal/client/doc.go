// Package client builds HTTP clients that authenticate as a stored context.
//
// # Overview
//
// A Factory binds a context once when a client is created, so an expired
// certificate or an unrecoverable OIDC session is reported before any
// request is sent. After that the binding is cached by the transport and
// only resolved again when it reports expired, which keeps the per-request
// cost to a time comparison.
//
//	┌──────────┐   Bind    ┌──────────────┐
//	│  Factory │ ────────► │ auth.Binder  │
//	└────┬─────┘           └──────────────┘
//	     │ New / NewAsync
//	┌────▼─────────────┐
//	│  authTransport   │  ← rebinds when expired, adds headers,
//	│  (RoundTripper)  │    logs failures with secrets redacted
//	└──────────────────┘
//
// # Usage
//
//	factory, err := client.NewFactory(binder, client.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	c, err := factory.New(ctx)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	req, err := c.NewRequest(ctx, http.MethodGet, "session", nil)
//	resp, err := c.Do(req)
//
// AsyncClient runs requests in goroutines, bounded by Options.Concurrency.
//
// # Runtime credentials
//
// RuntimeStore builds an in-memory store from a token or certificate given
// through the environment, so a client can be built without touching the
// config file.
package client
