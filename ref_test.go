// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"errors"
	"testing"
)

func TestRefEqualIdentity(t *testing.T) {
	r := newTestRuntime(t)
	vals, err := r.DoString(`
		local t = {1, 2, 3}
		return t, t, {1, 2, 3}
	`, "=tables")
	if err != nil {
		t.Fatal(err)
	}
	same1 := vals[0].(*Ref)
	same2 := vals[1].(*Ref)
	other := vals[2].(*Ref)
	defer same1.Release()
	defer same2.Release()
	defer other.Release()

	if !same1.Equal(same2) {
		t.Error("two refs to one table are not Equal")
	}
	// Identity, not structural equality.
	if same1.Equal(other) {
		t.Error("refs to distinct equal-content tables are Equal")
	}
	if same1.Equal(nil) {
		t.Error("ref Equal nil")
	}
}

func TestRefCloneOutlivesOriginal(t *testing.T) {
	r := newTestRuntime(t)
	tbl, err := r.NewTable()
	if err != nil {
		t.Fatal(err)
	}
	if err := r.SetField(tbl, "key", "value"); err != nil {
		t.Fatal(err)
	}

	clone := tbl.Clone()
	tbl.Release()
	if err := r.GC(); err != nil {
		t.Fatal(err)
	}

	// The clone still pins the table.
	got, err := r.Field(clone, "key")
	if err != nil {
		t.Fatal(err)
	}
	if got != Value("value") {
		t.Errorf("field through clone = %v; want %q", got, "value")
	}
	clone.Release()
}

func TestRefReleaseIdempotent(t *testing.T) {
	r := newTestRuntime(t)
	tbl, err := r.NewTable()
	if err != nil {
		t.Fatal(err)
	}
	tbl.Release()
	tbl.Release()
}

func TestRefSlotReuse(t *testing.T) {
	r := newTestRuntime(t)
	a, err := r.NewTable()
	if err != nil {
		t.Fatal(err)
	}
	slot := a.slot
	a.Release()
	b, err := r.NewTable()
	if err != nil {
		t.Fatal(err)
	}
	defer b.Release()
	if b.slot != slot {
		t.Errorf("freed slot %d not reused; new ref got %d", slot, b.slot)
	}
}

func TestRegistryKey(t *testing.T) {
	r := newTestRuntime(t)
	key, err := r.CreateRegistryValue("stashed")
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.RegistryValue(key)
	if err != nil {
		t.Fatal(err)
	}
	if got != Value("stashed") {
		t.Errorf("registry value = %v; want %q", got, "stashed")
	}
	if err := r.ReleaseRegistryValue(key); err != nil {
		t.Fatal(err)
	}
	if _, err := r.RegistryValue(key); err == nil {
		t.Error("RegistryValue after release succeeded")
	}
}

func TestRegistryKeyCrossGoroutine(t *testing.T) {
	r := newTestRuntime(t)
	key, err := r.CreateRegistryValue(int64(7))
	if err != nil {
		t.Fatal(err)
	}

	// Release on a foreign goroutine must defer, not enter the
	// interpreter.
	done := make(chan struct{})
	go func() {
		defer close(done)
		key.Release()
	}()
	<-done

	// The slot is reclaimed at the next interpreter entry.
	if _, err := r.DoString(`return 1`, "=touch"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.RegistryValue(key); err == nil {
		t.Error("RegistryValue after cross-goroutine release succeeded")
	}
}

func TestRegistryKeyMismatchedRuntime(t *testing.T) {
	r1 := newTestRuntime(t)
	r2 := newTestRuntime(t)
	key, err := r1.CreateRegistryValue(true)
	if err != nil {
		t.Fatal(err)
	}
	defer key.Release()
	if _, err := r2.RegistryValue(key); !errors.Is(err, ErrMismatchedRuntime) {
		t.Errorf("RegistryValue on foreign runtime = %v; want %v", err, ErrMismatchedRuntime)
	}
	if err := r2.ReleaseRegistryValue(key); !errors.Is(err, ErrMismatchedRuntime) {
		t.Errorf("ReleaseRegistryValue on foreign runtime = %v; want %v", err, ErrMismatchedRuntime)
	}
}

func TestRefMismatchedRuntime(t *testing.T) {
	r1 := newTestRuntime(t)
	r2 := newTestRuntime(t)
	tbl, err := r1.NewTable()
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Release()
	if _, err := r2.Field(tbl, "k"); !errors.Is(err, ErrMismatchedRuntime) {
		t.Errorf("foreign-runtime field = %v; want %v", err, ErrMismatchedRuntime)
	}
}
