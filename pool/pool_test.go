// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestResults(t *testing.T) {
	ctx := context.Background()
	p := New(4)
	defer p.Shutdown()
	futures := make([]*Future[int], 100)
	for i := 0; i < 100; i++ {
		i := i
		futures[i] = Submit(ctx, p, func(ctx context.Context) (int, error) {
			return i * i, nil
		})
	}
	vals, err := WaitAll(ctx, futures)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range vals {
		if got, want := v, i*i; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestBound(t *testing.T) {
	ctx := context.Background()
	const size = 3
	p := New(size)
	defer p.Shutdown()
	var running, peak int64
	var mu sync.Mutex
	futures := make([]*Future[struct{}], 50)
	for i := range futures {
		futures[i] = Submit(ctx, p, func(ctx context.Context) (struct{}, error) {
			n := atomic.AddInt64(&running, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			atomic.AddInt64(&running, -1)
			return struct{}{}, nil
		})
	}
	if _, err := WaitAll(ctx, futures); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if peak > size {
		t.Errorf("observed %d concurrent tasks, bound is %d", peak, size)
	}
}

func TestError(t *testing.T) {
	ctx := context.Background()
	p := New(2)
	defer p.Shutdown()
	boom := errors.New("boom")
	ok := Submit(ctx, p, func(ctx context.Context) (string, error) { return "fine", nil })
	bad := Submit(ctx, p, func(ctx context.Context) (string, error) { return "", boom })
	if v, err := ok.Wait(ctx); err != nil || v != "fine" {
		t.Errorf("got %v, %v", v, err)
	}
	if err := bad.Err(ctx); !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
}

func TestPanic(t *testing.T) {
	ctx := context.Background()
	p := New(1)
	defer p.Shutdown()
	f := Submit(ctx, p, func(ctx context.Context) (int, error) { panic("kaboom") })
	if err := f.Err(ctx); err == nil {
		t.Error("expected a panic to surface as an error")
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	ctx := context.Background()
	p := New(1)
	p.Shutdown()
	f := Submit(ctx, p, func(ctx context.Context) (int, error) { return 1, nil })
	if err := f.Err(ctx); err == nil {
		t.Error("expected an error submitting to a shut down pool")
	}
}

func TestDefaultSize(t *testing.T) {
	p := New(-1)
	defer p.Shutdown()
	if p.Size() < 1 {
		t.Errorf("got %d, want >= 1", p.Size())
	}
}
