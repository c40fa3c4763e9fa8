// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// newSumThread compiles a coroutine body that accumulates its resume
// arguments, yielding the running sum, and returns the sum when
// resumed with nil.
func newSumThread(t *testing.T, r *Runtime) *Thread {
	t.Helper()
	vals, err := r.DoString(`
		return function(n)
			local sum = 0
			while n do
				sum = sum + n
				n = coroutine.yield(sum)
			end
			return sum
		end
	`, "=sum")
	if err != nil {
		t.Fatal(err)
	}
	fn := vals[0].(*Ref)
	defer fn.Release()
	th, err := r.NewThread(fn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(th.Release)
	return th
}

func TestThreadResumeSum(t *testing.T) {
	r := newTestRuntime(t)
	th := newSumThread(t, r)

	if got, want := th.Status(), StatusResumable; got != want {
		t.Errorf("fresh thread status = %v; want %v", got, want)
	}
	want := []int64{1, 3, 6, 10}
	for i, arg := range []int64{1, 2, 3, 4} {
		vals, err := th.Resume(arg)
		if err != nil {
			t.Fatalf("resume %d: %v", i+1, err)
		}
		if diff := cmp.Diff([]Value{want[i]}, vals); diff != "" {
			t.Errorf("resume %d values (-want +got):\n%s", i+1, diff)
		}
		if got := th.Status(); got != StatusResumable {
			t.Fatalf("status after yield %d = %v; want %v", i+1, got, StatusResumable)
		}
	}

	vals, err := th.Resume()
	if err != nil {
		t.Fatal("final resume:", err)
	}
	if diff := cmp.Diff([]Value{int64(10)}, vals); diff != "" {
		t.Errorf("final return (-want +got):\n%s", diff)
	}
	if got, want := th.Status(), StatusUnresumable; got != want {
		t.Errorf("status after return = %v; want %v", got, want)
	}
	if _, err := th.Resume(); !errors.Is(err, ErrCoroutineInactive) {
		t.Errorf("resume after return = %v; want %v", err, ErrCoroutineInactive)
	}
}

func TestThreadResumeInactive(t *testing.T) {
	r := newTestRuntime(t)
	if err := r.SetGlobal("hits", int64(0)); err != nil {
		t.Fatal(err)
	}
	vals, err := r.DoString(`
		return function()
			hits = hits + 1
		end
	`, "=count")
	if err != nil {
		t.Fatal(err)
	}
	fn := vals[0].(*Ref)
	defer fn.Release()
	th, err := r.NewThread(fn)
	if err != nil {
		t.Fatal(err)
	}
	defer th.Release()

	if _, err := th.Resume(); err != nil {
		t.Fatal(err)
	}
	// The coroutine has returned; no later resume may run its code.
	for i := 0; i < 2; i++ {
		if _, err := th.Resume(); !errors.Is(err, ErrCoroutineInactive) {
			t.Errorf("resume %d after finish = %v; want %v", i+1, err, ErrCoroutineInactive)
		}
	}
	hits, err := r.Global("hits")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := hits, Value(int64(1)); got != want {
		t.Errorf("hits = %v; want %v (dead resumes must not execute)", got, want)
	}
}

func TestThreadError(t *testing.T) {
	r := newTestRuntime(t)
	vals, err := r.DoString(`
		return function()
			coroutine.yield(1)
			error("thread exploded")
		end
	`, "=boom")
	if err != nil {
		t.Fatal(err)
	}
	fn := vals[0].(*Ref)
	defer fn.Release()
	th, err := r.NewThread(fn)
	if err != nil {
		t.Fatal(err)
	}
	defer th.Release()

	if _, err := th.Resume(); err != nil {
		t.Fatal("first resume:", err)
	}
	_, err = th.Resume()
	if err == nil {
		t.Fatal("second resume succeeded; want error")
	}
	re := new(RuntimeError)
	if !errors.As(err, &re) {
		t.Fatalf("error type = %T; want *RuntimeError", err)
	}
	if !strings.Contains(re.Message, "thread exploded") {
		t.Errorf("message = %q; want it to mention the raised error", re.Message)
	}
	if got, want := th.Status(), StatusError; got != want {
		t.Errorf("status after error = %v; want %v", got, want)
	}
	// The error state is terminal.
	if _, err := th.Resume(); !errors.Is(err, ErrCoroutineInactive) {
		t.Errorf("resume after error = %v; want %v", err, ErrCoroutineInactive)
	}
}

func TestThreadResumeManyTables(t *testing.T) {
	r := newTestRuntime(t)
	vals, err := r.DoString(`
		return function()
			local vals = {}
			for i = 1, 30 do
				vals[i] = { n = i }
			end
			coroutine.yield(table.unpack(vals))
			return table.unpack(vals)
		end
	`, "=wide")
	if err != nil {
		t.Fatal(err)
	}
	fn := vals[0].(*Ref)
	defer fn.Release()
	th, err := r.NewThread(fn)
	if err != nil {
		t.Fatal(err)
	}
	defer th.Release()

	// Converting a wide yield pins every table into the reference
	// table; the conversion must grow the stack itself rather than
	// rely on headroom left over from the resume.
	for pass, resume := 0, 2; pass < resume; pass++ {
		vals, err := th.Resume()
		if err != nil {
			t.Fatalf("resume %d: %v", pass+1, err)
		}
		if got, want := len(vals), 30; got != want {
			t.Fatalf("resume %d returned %d values; want %d", pass+1, got, want)
		}
		for i, v := range vals {
			ref, ok := v.(*Ref)
			if !ok {
				t.Fatalf("resume %d value %d is %T; want *Ref", pass+1, i, v)
			}
			n, err := r.Field(ref, "n")
			if err != nil {
				t.Fatal(err)
			}
			if got, want := n, Value(int64(i+1)); got != want {
				t.Errorf("resume %d value %d field n = %v; want %v", pass+1, i, got, want)
			}
			ref.Release()
		}
	}
}

func TestNewThreadNotAFunction(t *testing.T) {
	r := newTestRuntime(t)
	if _, err := r.NewThread("not a function"); err == nil {
		t.Error("NewThread with a string succeeded; want error")
	}
}

func TestThreadStatusString(t *testing.T) {
	tests := []struct {
		status ThreadStatus
		want   string
	}{
		{StatusResumable, "resumable"},
		{StatusUnresumable, "unresumable"},
		{StatusError, "error"},
	}
	for _, test := range tests {
		if got := test.status.String(); got != test.want {
			t.Errorf("%d.String() = %q; want %q", int(test.status), got, test.want)
		}
	}
}
