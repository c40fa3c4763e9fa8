// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"moonwake.dev/lua/internal/testcontext"
	"moonwake.dev/lua/internal/xiter"
)

func loadFunction(t *testing.T, r *Runtime, src string) *Ref {
	t.Helper()
	vals, err := r.DoString(src, "=test")
	if err != nil {
		t.Fatal(err)
	}
	fn := vals[0].(*Ref)
	t.Cleanup(fn.Release)
	return fn
}

func newThread(t *testing.T, r *Runtime, src string) *Thread {
	t.Helper()
	th, err := r.NewThread(loadFunction(t, r, src))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(th.Release)
	return th
}

func TestAwaitDiscardsYields(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	r := newTestRuntime(t)
	th := newThread(t, r, `
		return function(greeting)
			coroutine.yield(1)
			coroutine.yield(2, 3)
			return greeting .. ", world"
		end
	`)
	vals, err := th.Async("hello").Await(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Value{"hello, world"}, vals); diff != "" {
		t.Errorf("await result (-want +got):\n%s", diff)
	}
}

func TestAwaitFinishedThread(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	r := newTestRuntime(t)
	th := newThread(t, r, `return function() return 1 end`)
	if _, err := th.Resume(); err != nil {
		t.Fatal(err)
	}
	if _, err := th.Async().Await(ctx); !errors.Is(err, ErrThreadFinished) {
		t.Errorf("await on finished thread = %v; want %v", err, ErrThreadFinished)
	}
}

func TestAwaitError(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	r := newTestRuntime(t)
	th := newThread(t, r, `
		return function()
			coroutine.yield(1)
			error("async boom")
		end
	`)
	a := th.Async()
	_, err := a.Await(ctx)
	re := new(RuntimeError)
	if !errors.As(err, &re) {
		t.Fatalf("await error type = %T (%v); want *RuntimeError", err, err)
	}
	// The failure is terminal and repeatable.
	if _, err2 := a.Await(ctx); err2 == nil {
		t.Error("second await succeeded; want the stored terminal error")
	}
}

func TestStreamItemsInOrder(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	r := newTestRuntime(t)
	th := newThread(t, r, `
		return function(s)
			local sum = s
			for i = 1, 10 do
				sum = sum + i
				coroutine.yield(sum)
			end
			return sum
		end
	`)

	s := th.Stream(int64(0))
	var items []int64
	for s.Next(ctx) {
		vals := s.Values()
		if len(vals) != 1 {
			t.Fatalf("item %d has %d values; want 1", len(items), len(vals))
		}
		items = append(items, vals[0].(int64))
	}
	if err := s.Err(); err != nil {
		t.Fatal(err)
	}
	// Ten yields, in order; the final return (55) is not an item.
	if got, want := len(items), 10; got != want {
		t.Fatalf("items = %d; want %d", got, want)
	}
	var total int64
	for i, item := range items {
		if i > 0 && item <= items[i-1] {
			t.Errorf("item %d = %d out of order after %d", i, item, items[i-1])
		}
		total += item
	}
	if got, want := total, int64(220); got != want {
		t.Errorf("sum of items = %d; want %d", got, want)
	}
	// Exhausted streams stay exhausted.
	if s.Next(ctx) {
		t.Error("Next after termination = true; want false")
	}
}

func TestStreamAll(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	r := newTestRuntime(t)
	th := newThread(t, r, `
		return function()
			for i = 1, 3 do
				coroutine.yield(i * 11)
			end
			return "ignored"
		end
	`)
	var items []int64
	for vals, err := range th.Stream().All(ctx) {
		if err != nil {
			t.Fatal(err)
		}
		items = append(items, vals[0].(int64))
	}
	if diff := cmp.Diff([]int64{11, 22, 33}, items); diff != "" {
		t.Errorf("items (-want +got):\n%s", diff)
	}
}

func TestStreamChain(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	r := newTestRuntime(t)
	gen := `
		return function(base)
			for i = 1, 3 do
				coroutine.yield(base + i)
			end
		end
	`
	first := newThread(t, r, gen)
	second := newThread(t, r, gen)

	var items []int64
	for vals, err := range xiter.Chain2(first.Stream(int64(10)).All(ctx), second.Stream(int64(20)).All(ctx)) {
		if err != nil {
			t.Fatal(err)
		}
		items = append(items, vals[0].(int64))
	}
	if diff := cmp.Diff([]int64{11, 12, 13, 21, 22, 23}, items); diff != "" {
		t.Errorf("items (-want +got):\n%s", diff)
	}
}

func TestStreamError(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	r := newTestRuntime(t)
	th := newThread(t, r, `
		return function()
			coroutine.yield(1)
			error("stream boom")
		end
	`)
	s := th.Stream()
	if !s.Next(ctx) {
		t.Fatalf("first Next = false (err %v); want an item", s.Err())
	}
	if s.Next(ctx) {
		t.Fatal("second Next = true; want termination")
	}
	re := new(RuntimeError)
	if !errors.As(s.Err(), &re) {
		t.Errorf("stream error type = %T (%v); want *RuntimeError", s.Err(), s.Err())
	}
}

func TestAsyncFunction(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	r := newTestRuntime(t)
	double, err := r.NewAsyncFunction(func(ctx context.Context, args []Value) ([]Value, error) {
		n := args[0].(int64)
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []Value{n * 2}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer double.Release()
	if err := r.SetGlobal("double", double); err != nil {
		t.Fatal(err)
	}

	th := newThread(t, r, `
		return function(n)
			return double(n) + double(n + 1)
		end
	`)
	vals, err := th.Async(int64(20)).Await(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Value{int64(82)}, vals); diff != "" {
		t.Errorf("await result (-want +got):\n%s", diff)
	}
}

func TestAsyncFunctionError(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	r := newTestRuntime(t)
	errIO := errors.New("io failed")
	fail, err := r.NewAsyncFunction(func(ctx context.Context, args []Value) ([]Value, error) {
		return nil, errIO
	})
	if err != nil {
		t.Fatal(err)
	}
	defer fail.Release()
	if err := r.SetGlobal("fail", fail); err != nil {
		t.Fatal(err)
	}

	th := newThread(t, r, `return function() return fail() end`)
	if _, err := th.Async().Await(ctx); !errors.Is(err, errIO) {
		t.Errorf("await error = %v; want %v (via errors.Is)", err, errIO)
	}
	if got, want := th.Status(), StatusError; got != want {
		t.Errorf("thread status = %v; want %v", got, want)
	}
}

func TestAsyncFunctionYieldsInterleave(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	r := newTestRuntime(t)
	tick, err := r.NewAsyncFunction(func(ctx context.Context, args []Value) ([]Value, error) {
		time.Sleep(time.Millisecond)
		return args, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer tick.Release()
	if err := r.SetGlobal("tick", tick); err != nil {
		t.Fatal(err)
	}

	// Real yields and asynchronous suspensions alternate; the stream
	// must deliver exactly the real yields, in order.
	th := newThread(t, r, `
		return function()
			for i = 1, 3 do
				coroutine.yield(tick(i))
			end
		end
	`)
	var items []int64
	for vals, err := range th.Stream().All(ctx) {
		if err != nil {
			t.Fatal(err)
		}
		items = append(items, vals[0].(int64))
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, items); diff != "" {
		t.Errorf("items (-want +got):\n%s", diff)
	}
}

func TestTaskWakerVisibility(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	r := newTestRuntime(t)
	if w := r.TaskWaker(); w != nil {
		t.Error("TaskWaker outside a poll cycle is non-nil")
	}

	var during *Waker
	probe, err := r.NewFunction(func(rt *Runtime, args []Value) ([]Value, error) {
		during = rt.TaskWaker()
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer probe.Release()
	if err := r.SetGlobal("probe", probe); err != nil {
		t.Fatal(err)
	}
	th := newThread(t, r, `return function() probe() end`)
	if _, err := th.Async().Await(ctx); err != nil {
		t.Fatal(err)
	}
	if during == nil {
		t.Error("TaskWaker during a poll cycle is nil")
	}
	// The mailbox is emptied unconditionally after the resume.
	if w := r.TaskWaker(); w != nil {
		t.Error("TaskWaker after the poll cycle is non-nil")
	}
}

func TestConcurrentAwaitDrivers(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	r := newTestRuntime(t)
	pause, err := r.NewAsyncFunction(func(ctx context.Context, args []Value) ([]Value, error) {
		time.Sleep(time.Millisecond)
		return args, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer pause.Release()
	if err := r.SetGlobal("pause", pause); err != nil {
		t.Fatal(err)
	}

	// Two goroutines each drive their own coroutine against the same
	// runtime. Each body suspends repeatedly, so the drivers' poll
	// cycles interleave; every touch of the shared state must stay
	// inside the resume lock.
	body := `
		return function(base)
			local sum = base
			for i = 1, 5 do
				sum = sum + pause(i)
			end
			return sum
		end
	`
	threads := []*Thread{newThread(t, r, body), newThread(t, r, body)}
	results := make([]int64, len(threads))
	var wg sync.WaitGroup
	for i, th := range threads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vals, err := th.Async(int64((i + 1) * 100)).Await(ctx)
			if err != nil {
				t.Error("await:", err)
				return
			}
			results[i] = vals[0].(int64)
		}()
	}
	wg.Wait()
	if diff := cmp.Diff([]int64{115, 215}, results); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestConcurrentResumeSerialized(t *testing.T) {
	r := newTestRuntime(t)
	th := newThread(t, r, `
		return function()
			local n = 0
			while true do
				n = n + 1
				coroutine.yield(n)
			end
		end
	`)

	// Naive double-resume from two goroutines must serialize at resume
	// granularity: each caller observes a distinct, whole resume.
	var mu sync.Mutex
	var seen []int64
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vals, err := th.Resume()
			if err != nil {
				t.Error("resume:", err)
				return
			}
			mu.Lock()
			seen = append(seen, vals[0].(int64))
			mu.Unlock()
		}()
	}
	wg.Wait()
	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	if diff := cmp.Diff([]int64{1, 2}, seen); diff != "" {
		t.Errorf("resume results (-want +got):\n%s", diff)
	}
}
