package resolver

import (
	"context"

	"github.com/sundayezeilo/deeplink/link"
)

// Result carries the outcome of an asynchronous resolution.
type Result struct {
	Result link.Result
	Err    error
}

// Async runs fn on its own goroutine and delivers exactly one Result on the
// returned channel. It is meant for hosts that need a callback style API:
//
//	res := <-resolver.Async(ctx, r.ResolveDeferred)
func Async(ctx context.Context, fn func(context.Context) (link.Result, error)) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		res, err := fn(ctx)
		ch <- Result{Result: res, Err: err}
	}()
	return ch
}

// Direct binds rawURL so ResolveDirect can be passed to Async.
func (r *Resolver) Direct(rawURL string) func(context.Context) (link.Result, error) {
	return func(ctx context.Context) (link.Result, error) {
		return r.ResolveDirect(ctx, rawURL)
	}
}
