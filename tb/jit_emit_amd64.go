//go:build amd64

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

import "math"

// AMD64 register constants (ModRM encodings).
const (
	RegRAX Reg = 0
	RegRCX Reg = 1
	RegRDX Reg = 2
	RegRBX Reg = 3
	RegRSP Reg = 4
	RegRBP Reg = 5
	RegRSI Reg = 6
	RegRDI Reg = 7
)

// regConstTable holds the constant pool base for the whole function; the
// prologue loads it once via RAX.
const regConstTable = RegRCX

// SSE scalar-double opcodes (F2 0F xx).
const (
	sseMovsd byte = 0x10
	sseAddsd byte = 0x58
	sseMulsd byte = 0x59
	sseSubsd byte = 0x5C
	sseDivsd byte = 0x5E
)

// Condition codes for short conditional jumps (opcode 0x70|cc).
const (
	ccB byte = 0x02 // JB  (CF=1), unsigned less — ucomisd below
	ccZ byte = 0x04 // JZ  (ZF=1), ucomisd equal
	ccA byte = 0x07 // JA  (CF=0 && ZF=0), ucomisd above
)

// emitModRMMem writes the ModRM (+SIB, +disp) bytes for [base + disp].
// Any rsp-based address needs the SIB byte 0x24; rbp as base always needs
// a displacement byte. The shortest legal form is chosen.
func (w *JITWriter) emitModRMMem(reg byte, base Reg, disp int32) {
	baseEnc := byte(base & 7)
	needSib := baseEnc == 4

	if disp == 0 && baseEnc != 5 {
		w.emitByte(0x00 | reg<<3 | baseEnc)
		if needSib {
			w.emitByte(0x24)
		}
	} else if disp >= -128 && disp <= 127 {
		w.emitByte(0x40 | reg<<3 | baseEnc)
		if needSib {
			w.emitByte(0x24)
		}
		w.emitByte(byte(int8(disp)))
	} else {
		w.emitByte(0x80 | reg<<3 | baseEnc)
		if needSib {
			w.emitByte(0x24)
		}
		w.emitU32(uint32(disp))
	}
}

// checkDisp rejects displacements that do not fit signed 32 bit.
func checkDisp(disp int64) int32 {
	if disp > math.MaxInt32 || disp < math.MinInt32 {
		panic(&EncodingRangeError{Disp: disp, Msg: "displacement out of range"})
	}
	return int32(disp)
}

// EmitPushReg emits PUSH reg.
func (w *JITWriter) EmitPushReg(reg Reg) {
	w.emitByte(0x50 | byte(reg&7))
}

// EmitPopReg emits POP reg.
func (w *JITWriter) EmitPopReg(reg Reg) {
	w.emitByte(0x58 | byte(reg&7))
}

// EmitRet emits RET.
func (w *JITWriter) EmitRet() {
	w.emitByte(0xC3)
}

// EmitMovabsRax emits MOVABS RAX, imm64 and returns the offset of the
// immediate so the caller can patch it after code generation.
func (w *JITWriter) EmitMovabsRax(imm uint64) int {
	w.emitBytes(0x48, 0xB8)
	off := int(w.pos())
	w.emitU64(imm)
	return off
}

// EmitMovRegReg emits MOV dst, src (64-bit GPR to GPR).
func (w *JITWriter) EmitMovRegReg(dst, src Reg) {
	w.emitBytes(0x48, 0x89, 0xC0|byte(src&7)<<3|byte(dst&7))
}

// EmitSubRspImm32 emits SUB RSP, imm32 (always the 4-byte immediate form,
// so the frame size can be patched in afterwards). Returns the offset of
// the immediate.
func (w *JITWriter) EmitSubRspImm32(imm uint32) int {
	w.emitBytes(0x48, 0x81, 0xEC)
	off := int(w.pos())
	w.emitU32(imm)
	return off
}

// EmitSseXmmXmm emits <op>sd dst, src (F2 0F op).
func (w *JITWriter) EmitSseXmmXmm(op byte, dst, src Xmm) {
	w.emitBytes(0xF2, 0x0F, op, 0xC0|byte(dst&7)<<3|byte(src&7))
}

// EmitMovsdXmmXmm emits MOVSD dst, src.
func (w *JITWriter) EmitMovsdXmmXmm(dst, src Xmm) {
	w.EmitSseXmmXmm(sseMovsd, dst, src)
}

// EmitSseXmmConst emits <op>sd dst, [const_base + 8*index].
func (w *JITWriter) EmitSseXmmConst(op byte, dst Xmm, index int) {
	w.emitBytes(0xF2, 0x0F, op)
	w.emitModRMMem(byte(dst&7), regConstTable, checkDisp(int64(index)*8))
}

// EmitUcomisdXmmXmm emits UCOMISD a, b (66 0F 2E).
func (w *JITWriter) EmitUcomisdXmmXmm(a, b Xmm) {
	w.emitBytes(0x66, 0x0F, 0x2E, 0xC0|byte(a&7)<<3|byte(b&7))
}

// EmitUcomisdXmmConst emits UCOMISD a, [const_base + 8*index].
func (w *JITWriter) EmitUcomisdXmmConst(a Xmm, index int) {
	w.emitBytes(0x66, 0x0F, 0x2E)
	w.emitModRMMem(byte(a&7), regConstTable, checkDisp(int64(index)*8))
}

// EmitPxorXmmXmm emits PXOR dst, src (zeroes dst when dst == src).
func (w *JITWriter) EmitPxorXmmXmm(dst, src Xmm) {
	w.emitBytes(0x66, 0x0F, 0xEF, 0xC0|byte(dst&7)<<3|byte(src&7))
}

// EmitSpillStore emits MOVQ [rsp + 8*slot], src (66 0F D6).
func (w *JITWriter) EmitSpillStore(slot int, src Xmm) {
	w.emitBytes(0x66, 0x0F, 0xD6)
	w.emitModRMMem(byte(src&7), RegRSP, checkDisp(int64(slot)*8))
}

// EmitSpillLoad emits MOVQ dst, [rsp + 8*slot] (F3 0F 7E).
func (w *JITWriter) EmitSpillLoad(dst Xmm, slot int) {
	w.emitBytes(0xF3, 0x0F, 0x7E)
	w.emitModRMMem(byte(dst&7), RegRSP, checkDisp(int64(slot)*8))
}

// EmitJcc8 emits a conditional short jump with a rel8 fixup.
func (w *JITWriter) EmitJcc8(cc byte, labelID uint8) {
	w.emitByte(0x70 | cc)
	w.AddFixup(labelID, 1)
	w.emitByte(0) // placeholder
}

// EmitJmp8 emits JMP rel8 with a fixup.
func (w *JITWriter) EmitJmp8(labelID uint8) {
	w.emitByte(0xEB)
	w.AddFixup(labelID, 1)
	w.emitByte(0) // placeholder
}

// EmitJz32 emits JZ rel32 with a fixup.
func (w *JITWriter) EmitJz32(labelID uint8) {
	w.emitBytes(0x0F, 0x84)
	w.AddFixup(labelID, 4)
	w.emitU32(0) // placeholder
}

// EmitJmp32 emits JMP rel32 with a fixup.
func (w *JITWriter) EmitJmp32(labelID uint8) {
	w.emitByte(0xE9)
	w.AddFixup(labelID, 4)
	w.emitU32(0) // placeholder
}
