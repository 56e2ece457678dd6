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

// Reg represents a hardware register index. The actual register constants
// are defined in the architecture-specific emit file.
type Reg uint8

// Xmm is a scalar double register index (0-7; the generator does not use
// the REX-extended bank).
type Xmm uint8

// JitOptions steers the code generator.
type JitOptions struct {
	// UseOptimizations enables identifier aliasing for statically-const
	// copies and constant-in-memory operand folding in arithmetic.
	UseOptimizations bool
}

// DefaultJitOptions has optimizations enabled, the same setting the CLI's
// -optimize flag defaults to.
var DefaultJitOptions = JitOptions{UseOptimizations: true}

// maxConstants caps the per-function constant pool; emitted code indexes
// the pool with [const_base + 8*index].
const maxConstants = 32

// jitIdent is one live value during code generation. Several symbolic
// names may refer to the same physical storage (aliasing); the storage is
// either an XMM register or a spill slot in the native frame.
type jitIdent struct {
	names map[string]struct{}

	inReg bool
	reg   Xmm // valid when inReg
	spill int // spill slot index when !inReg

	// hydrateCount is the timestamp of the last use; the least recently
	// hydrated identifier is the spill victim.
	hydrateCount uint64

	// isStatic marks identifiers that are never reassigned, which allows
	// pure name aliasing instead of register copies.
	isStatic bool

	// constIndex is the pool index when this identifier still holds an
	// unmodified constant, else -1. Arithmetic does not fold a constant
	// that is live in a register.
	constIndex int
}

// JITFixup records a PC-relative reference to be patched by ResolveFixups
// once all labels are placed. Size is 1 or 4 displacement bytes.
type JITFixup struct {
	CodePos int32
	LabelID uint8
	Size    uint8
}
