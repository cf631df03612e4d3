package xcommon

import (
	"context"
	"runtime/debug"
	"sync"

	"doorbus/pkg/xlog"
)

// WaitGroup logs the stack of a panicking goroutine before re-panicking.
// Use as `defer wg.Done(ctx)` directly, recover does not cross nested defers.
type WaitGroup struct {
	sync.WaitGroup
}

func (wg *WaitGroup) Add(n int) {
	wg.WaitGroup.Add(n)
}

func (wg *WaitGroup) Done(ctx context.Context) {
	if r := recover(); r != nil {
		xlog.Get(ctx).Sugar().Errorf("Goroutine panic %v stack %v", r, string(debug.Stack()))
		panic(r)
	}
	wg.WaitGroup.Done()
}

func (wg *WaitGroup) Wait() {
	wg.WaitGroup.Wait()
}

// Go runs fn on a tracked goroutine.
func (wg *WaitGroup) Go(ctx context.Context, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done(ctx)
		fn(ctx)
	}()
}

// Recover must be deferred directly: `defer Recover(ctx)`.
func Recover(ctx context.Context) {
	if r := recover(); r != nil {
		xlog.Get(ctx).Sugar().Errorf("Goroutine panic %v stack %v", r, string(debug.Stack()))
		panic(r)
	}
}
