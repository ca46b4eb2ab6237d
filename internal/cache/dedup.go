package cache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Dedup collapses concurrent calls that share a key into one producer call.
// Once the producer settles the key is forgotten, so later calls run it again.
type Dedup[V any] struct {
	group singleflight.Group
}

// Do runs fn unless a call for key is already in flight, in which case it
// waits for that call's result. shared reports whether the result was handed
// to more than one caller. Errors from fn are returned unchanged.
//
// The producer runs detached from any single caller's cancellation: a caller
// whose ctx ends stops waiting, but the others still get the result.
func (d *Dedup[V]) Do(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (V, bool, error) {
	detached := context.WithoutCancel(ctx)
	ch := d.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		v, _ := res.Val.(V)
		return v, res.Shared, res.Err
	case <-ctx.Done():
		var zero V
		return zero, false, ctx.Err()
	}
}
