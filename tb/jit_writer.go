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

import "unsafe"

// JITWriter is the platform-independent code emitter scaffold.
// Architecture-specific emit methods are defined in jit_emit_<arch> files.
type JITWriter struct {
	Ptr   unsafe.Pointer // current write pointer
	End   unsafe.Pointer // buffer end minus reserve
	Start unsafe.Pointer // buffer start for position calculation

	Labels    [64]int32
	LabelNext uint8

	Fixups    [128]JITFixup
	FixupNext uint8
}

func (w *JITWriter) pos() int32 {
	return int32(uintptr(w.Ptr) - uintptr(w.Start))
}

// DefineLabel allocates a new label at the current write position.
func (w *JITWriter) DefineLabel() uint8 {
	id := w.reserve()
	w.Labels[id] = w.pos()
	return id
}

// ReserveLabel allocates a label ID for later placement via MarkLabel.
func (w *JITWriter) ReserveLabel() uint8 {
	id := w.reserve()
	w.Labels[id] = -1 // undefined until MarkLabel
	return id
}

func (w *JITWriter) reserve() uint8 {
	if int(w.LabelNext) >= len(w.Labels) {
		panic(&EncodingRangeError{Msg: "too many labels"})
	}
	id := w.LabelNext
	w.LabelNext++
	return id
}

// MarkLabel sets the position of a previously reserved label.
func (w *JITWriter) MarkLabel(id uint8) {
	w.Labels[id] = w.pos()
}

// AddFixup records a PC-relative reference to be patched by ResolveFixups.
// The displacement bytes themselves are emitted by the caller right after.
func (w *JITWriter) AddFixup(labelID uint8, size uint8) {
	if int(w.FixupNext) >= len(w.Fixups) {
		panic(&EncodingRangeError{Msg: "too many fixups"})
	}
	w.Fixups[w.FixupNext] = JITFixup{
		CodePos: w.pos(),
		LabelID: labelID,
		Size:    size,
	}
	w.FixupNext++
}

// ResolveFixups patches all recorded references after code generation.
// Patching overwrites exactly the displacement bytes. Short displacements
// outside the signed-byte range are fatal; long ones always fit within one
// function.
func (w *JITWriter) ResolveFixups() {
	for i := uint8(0); i < w.FixupNext; i++ {
		f := &w.Fixups[i]
		targetPos := w.Labels[f.LabelID]
		if targetPos < 0 {
			panic(&EncodingRangeError{Msg: "undefined label"})
		}
		offset := targetPos - (f.CodePos + int32(f.Size))
		patchAddr := unsafe.Add(w.Start, int(f.CodePos))
		switch f.Size {
		case 1:
			if offset < -128 || offset > 127 {
				panic(&EncodingRangeError{Disp: int64(offset), Msg: "short branch out of range"})
			}
			*(*int8)(patchAddr) = int8(offset)
		default:
			*(*int32)(patchAddr) = offset
		}
	}
}

// emitByte appends a single byte to the writer.
func (w *JITWriter) emitByte(b byte) {
	if uintptr(w.Ptr) >= uintptr(w.End) {
		panic(&EncodingRangeError{Msg: "code buffer overflow"})
	}
	*(*byte)(w.Ptr) = b
	w.Ptr = unsafe.Add(w.Ptr, 1)
}

// emitBytes appends raw bytes to the writer.
func (w *JITWriter) emitBytes(bs ...byte) {
	for _, b := range bs {
		w.emitByte(b)
	}
}

// emitU32 appends a little-endian uint32.
func (w *JITWriter) emitU32(v uint32) {
	if uintptr(w.Ptr)+4 > uintptr(w.End) {
		panic(&EncodingRangeError{Msg: "code buffer overflow"})
	}
	*(*uint32)(w.Ptr) = v
	w.Ptr = unsafe.Add(w.Ptr, 4)
}

// emitU64 appends a little-endian uint64.
func (w *JITWriter) emitU64(v uint64) {
	if uintptr(w.Ptr)+8 > uintptr(w.End) {
		panic(&EncodingRangeError{Msg: "code buffer overflow"})
	}
	*(*uint64)(w.Ptr) = v
	w.Ptr = unsafe.Add(w.Ptr, 8)
}
