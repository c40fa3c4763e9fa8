// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTableFields(t *testing.T) {
	r := newTestRuntime(t)
	tbl, err := r.NewTable()
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Release()

	if err := r.SetField(tbl, "name", "moonwake"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetIndex(tbl, 1, int64(10)); err != nil {
		t.Fatal(err)
	}
	if err := r.SetIndex(tbl, 2, 2.5); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		get  func() (Value, error)
		want Value
	}{
		{"Field", func() (Value, error) { return r.Field(tbl, "name") }, "moonwake"},
		{"Index1", func() (Value, error) { return r.Index(tbl, 1) }, int64(10)},
		{"Index2", func() (Value, error) { return r.Index(tbl, 2) }, 2.5},
		{"Missing", func() (Value, error) { return r.Field(tbl, "nope") }, nil},
	}
	for _, test := range tests {
		got, err := test.get()
		if err != nil {
			t.Errorf("%s: %v", test.name, err)
			continue
		}
		if got != test.want {
			t.Errorf("%s = %#v; want %#v", test.name, got, test.want)
		}
	}

	n, err := r.Length(tbl)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("length = %d; want 2", n)
	}
}

func TestTablePairs(t *testing.T) {
	r := newTestRuntime(t)
	vals, err := r.DoString(`return {a = 1, b = 2, c = 3}`, "=pairs")
	if err != nil {
		t.Fatal(err)
	}
	tbl := vals[0].(*Ref)
	defer tbl.Release()

	got := make(map[string]int64)
	err = r.Pairs(tbl, func(k, v Value) error {
		got[k.(string)] = v.(int64)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]int64{"a": 1, "b": 2, "c": 3}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entries (-want +got):\n%s", diff)
	}
}

func TestGlobals(t *testing.T) {
	r := newTestRuntime(t)
	if err := r.SetGlobal("answer", int64(42)); err != nil {
		t.Fatal(err)
	}
	vals, err := r.DoString(`return answer + 1`, "=global")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Value{int64(43)}, vals); diff != "" {
		t.Errorf("result (-want +got):\n%s", diff)
	}
}

func TestMetatableMethods(t *testing.T) {
	r := newTestRuntime(t)

	type counter struct{ n int64 }
	c := &counter{}
	ud, err := r.NewUserdata(c)
	if err != nil {
		t.Fatal(err)
	}
	defer ud.Release()

	incr, err := r.NewFunction(func(rt *Runtime, args []Value) ([]Value, error) {
		self, err := rt.UserdataValue(args[0])
		if err != nil {
			return nil, err
		}
		self.(*counter).n++
		return []Value{self.(*counter).n}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer incr.Release()

	methods, err := r.NewTable()
	if err != nil {
		t.Fatal(err)
	}
	defer methods.Release()
	if err := r.SetField(methods, "incr", incr); err != nil {
		t.Fatal(err)
	}
	mt, err := r.NewTable()
	if err != nil {
		t.Fatal(err)
	}
	defer mt.Release()
	if err := r.SetField(mt, "__index", methods); err != nil {
		t.Fatal(err)
	}
	if err := r.SetMetatable(ud, mt); err != nil {
		t.Fatal(err)
	}
	if err := r.SetGlobal("c", ud); err != nil {
		t.Fatal(err)
	}

	vals, err := r.DoString(`c:incr(); c:incr(); return c:incr()`, "=methods")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Value{int64(3)}, vals); diff != "" {
		t.Errorf("result (-want +got):\n%s", diff)
	}
	if c.n != 3 {
		t.Errorf("counter = %d; want 3", c.n)
	}
}

func TestValueRoundTrip(t *testing.T) {
	r := newTestRuntime(t)
	echo, err := r.NewFunction(func(rt *Runtime, args []Value) ([]Value, error) {
		return args, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer echo.Release()

	args := []Value{nil, true, int64(-5), 1.25, "text"}
	got, err := r.Call(echo, args...)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(args, got); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}
