// Package interceptor wraps tool invocations with an ordered chain: artifact
// id minting and dependency injection, runtime config injection, and result
// persistence. The chain sits between the caller (chat agent or pipeline
// executor) and the raw tool backend.
package interceptor

import (
	"context"

	"github.com/openreel/reelkit/tools"
)

// Next forwards a request to the rest of the chain.
type Next func(ctx context.Context, req *tools.Request) (*tools.Result, error)

// Interceptor processes a request around the rest of the chain.
type Interceptor interface {
	Process(ctx context.Context, req *tools.Request, next Next) (*tools.Result, error)
}

// Chain composes interceptors around a terminal handler. The first
// interceptor is outermost.
func Chain(terminal Next, interceptors ...Interceptor) Next {
	next := terminal
	for i := len(interceptors) - 1; i >= 0; i-- {
		ic := interceptors[i]
		inner := next
		next = func(ctx context.Context, req *tools.Request) (*tools.Result, error) {
			return ic.Process(ctx, req, inner)
		}
	}
	return next
}

type depthKey struct{}

func depthFrom(ctx context.Context) int {
	if d, ok := ctx.Value(depthKey{}).(int); ok {
		return d
	}
	return 0
}

func withDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}
