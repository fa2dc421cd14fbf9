package client

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"
)

// Result is the outcome of an asynchronous request.
type Result struct {
	Response *http.Response
	Err      error
}

// AsyncClient runs requests in the background with a bound on how many
// are in flight. It applies the same authentication, TLS and logging as
// Client.
type AsyncClient struct {
	*Client
	sem *semaphore.Weighted
}

func newAsyncClient(c *Client, concurrency int) *AsyncClient {
	return &AsyncClient{Client: c, sem: semaphore.NewWeighted(int64(concurrency))}
}

// Go sends req in a goroutine once a slot is free. The channel receives
// exactly one Result and is then closed. Cancelling ctx while waiting for a
// slot yields ctx.Err().
func (a *AsyncClient) Go(ctx context.Context, req *http.Request) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		if err := a.sem.Acquire(ctx, 1); err != nil {
			ch <- Result{Err: err}
			return
		}
		defer a.sem.Release(1)

		resp, err := a.Do(req.WithContext(ctx))
		ch <- Result{Response: resp, Err: err}
	}()
	return ch
}

// Expiry returns when the current credential expires.
func (a *AsyncClient) Expiry() (time.Time, bool) {
	return a.Client.Expiry()
}
