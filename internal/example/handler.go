// Package example provides reference handlers exercising both the sync and
// async dispatch paths, adapted from the original demo worker's
// MySyncTask/MyAsyncTask (workers/python/demo/demo.py): a task that sleeps
// in two halves reporting 0.3 then 0.6 progress, or raises when the body
// carries "fail": true. SyncEchoTask is cmd/worker's default handler.
package example

import (
	"context"
	"errors"
	"time"

	"github.com/oriys/taskworker/internal/handler"
	"github.com/oriys/taskworker/internal/task"
)

// SyncEchoTask is a synchronous reference handler. body["sleep_ms"] is the
// total sleep duration in milliseconds (split into two halves, as the
// original demo does); body["fail"] forces a raised outcome.
type SyncEchoTask struct{}

func (SyncEchoTask) Execute(msg *task.IncomingMessage, progress handler.SyncProgressFunc) (any, error) {
	if truthy(msg.Body["fail"]) {
		return nil, errors.New("Argh")
	}

	half := sleepMillis(msg.Body["sleep_ms"]) / 2

	time.Sleep(half)
	p1 := 0.3
	progress(&p1, nil)

	time.Sleep(half)
	p2 := 0.6
	progress(&p2, nil)

	return map[string]any{"hello": "world"}, nil
}

// AsyncEchoTask is the async counterpart, honoring ctx.Done() at each
// suspension point the way the original demo's asyncio.sleep calls do.
type AsyncEchoTask struct{}

func (AsyncEchoTask) Execute(ctx context.Context, msg *task.IncomingMessage, progress handler.AsyncProgressFunc) (any, error) {
	if truthy(msg.Body["fail"]) {
		return nil, errors.New("Argh")
	}

	const seconds = 10
	half := (seconds * time.Second) / 2

	if err := sleepCtx(ctx, half); err != nil {
		return nil, err
	}
	p1 := 0.3
	progress(ctx, &p1, nil)

	if err := sleepCtx(ctx, half); err != nil {
		return nil, err
	}
	p2 := 0.6
	progress(ctx, &p2, nil)

	return map[string]any{"hello": "world"}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func sleepMillis(v any) time.Duration {
	switch n := v.(type) {
	case float64:
		return time.Duration(n) * time.Millisecond
	case int:
		return time.Duration(n) * time.Millisecond
	default:
		return 0
	}
}
