/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package tb

import (
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/launix-de/NonLockingReadMap"
)

// JitEntry describes one registered native routine.
type JitEntry struct {
	Name       string
	Addr       uintptr
	CodeSize   int
	CompiledAt time.Time
	Function   *JitFunction
}

func (e JitEntry) GetKey() string {
	return e.Name
}

func (e JitEntry) ComputeSize() uint {
	return uint(len(e.Name)) + 64
}

// JitRegistry tracks compiled entry points by name (read-mostly lookups)
// and by address (reverse lookup, e.g. symbolizing a crashing instruction
// pointer).
type JitRegistry struct {
	byName NonLockingReadMap.NonLockingReadMap[JitEntry, string]
	byAddr *btree.BTreeG[*JitEntry]
	mu     sync.Mutex // serializes writers; readers of byName are lock-free
}

func NewJitRegistry() *JitRegistry {
	return &JitRegistry{
		byName: NonLockingReadMap.New[JitEntry, string](),
		byAddr: btree.NewG(8, func(a, b *JitEntry) bool {
			return a.Addr < b.Addr
		}),
	}
}

// Register replaces any previous entry of the same name. The previous
// native mapping stays alive; callers may still hold its function value.
func (r *JitRegistry) Register(name string, fn *JitFunction) *JitEntry {
	entry := &JitEntry{
		Name:       name,
		Addr:       fn.Entry(),
		CodeSize:   fn.CodeSize,
		CompiledAt: time.Now(),
		Function:   fn,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old := r.byName.Get(name); old != nil {
		r.byAddr.Delete(old)
	}
	r.byName.Set(entry)
	r.byAddr.ReplaceOrInsert(entry)
	return entry
}

// Lookup returns the entry registered under a name, or nil.
func (r *JitRegistry) Lookup(name string) *JitEntry {
	return r.byName.Get(name)
}

// SymbolAt resolves an address inside any registered routine's code range.
func (r *JitRegistry) SymbolAt(addr uintptr) *JitEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *JitEntry
	r.byAddr.DescendLessOrEqual(&JitEntry{Addr: addr}, func(e *JitEntry) bool {
		if addr < e.Addr+uintptr(e.CodeSize) {
			found = e
		}
		return false // first candidate decides
	})
	return found
}

// Registry is the process-wide instance the CLI and REPL register into.
var Registry = NewJitRegistry()
