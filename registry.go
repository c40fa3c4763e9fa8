// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"moonwake.dev/lua/internal/lua54"
)

// A RegistryKey is a detached handle to a value pinned in the
// interpreter's registry. Unlike a [Ref] it does not retain the
// runtime for interpreter entry, so it is safe to move across
// goroutines and store in long-lived structures. Releasing a key
// (explicitly or by garbage collection) enqueues the slot on a shared
// pending list that the runtime drains at its next interpreter entry.
type RegistryKey struct {
	pool     *releasePool
	slot     int
	released atomic.Bool
	cleanup  runtime.Cleanup
}

// CreateRegistryValue pins v in the registry and returns a detached
// key for it.
func (r *Runtime) CreateRegistryValue(v Value) (*RegistryKey, error) {
	var slot int
	err := r.Protected(1, 0, func(l *lua54.State) error {
		if err := r.push(l, v); err != nil {
			return err
		}
		slot = r.storeSlot(l, -1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	key := &RegistryKey{pool: r.pending, slot: slot}
	key.cleanup = runtime.AddCleanup(key, releaseLeakedSlot, slotRelease{r.pending, slot})
	return key, nil
}

// RegistryValue fetches the value a key refers to. The key must have
// been created by this runtime.
func (r *Runtime) RegistryValue(key *RegistryKey) (Value, error) {
	if key.pool != r.pending {
		return nil, ErrMismatchedRuntime
	}
	if key.released.Load() {
		return nil, fmt.Errorf("lua: registry key used after release")
	}
	var v Value
	err := r.Protected(2, 0, func(l *lua54.State) error {
		l.RawField(lua54.RegistryIndex, refsKey)
		l.RawIndex(-1, int64(key.slot))
		v = r.valueAt(l, -1)
		l.Pop(2)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ReleaseRegistryValue releases a key on the runtime's own context,
// freeing the slot immediately when no resume cycle is in flight.
// It is equivalent to [RegistryKey.Release] except for the mismatch
// check and the immediate path.
func (r *Runtime) ReleaseRegistryValue(key *RegistryKey) error {
	if key.pool != r.pending {
		return ErrMismatchedRuntime
	}
	if !key.released.CompareAndSwap(false, true) {
		return nil
	}
	key.cleanup.Stop()
	if r.resumeMu.TryLock() {
		r.releaseSlot(key.slot)
		r.resumeMu.Unlock()
	} else {
		r.pending.enqueue(key.slot)
	}
	return nil
}

// Release enqueues the key's slot for release at the runtime's next
// interpreter entry. It never enters the interpreter itself, so it may
// be called from any goroutine. Release is idempotent.
func (k *RegistryKey) Release() {
	if !k.released.CompareAndSwap(false, true) {
		return
	}
	k.cleanup.Stop()
	k.pool.enqueue(k.slot)
}
