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

import (
	"syscall"
	"unsafe"
)

// execBuf is a small wrapper for mmap'd memory.
type execBuf struct {
	ptr unsafe.Pointer
	n   int // size
}

func allocExec(size int) (*execBuf, error) {
	page := syscall.Getpagesize()
	n := (size + page - 1) & ^(page - 1)
	b, err := syscall.Mmap(-1, 0, n, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_PRIVATE|syscall.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return &execBuf{ptr: unsafe.Pointer(&b[0]), n: n}, nil
}

func (e *execBuf) makeRX() error {
	data := unsafe.Slice((*byte)(e.ptr), e.n)
	return syscall.Mprotect(data, syscall.PROT_READ|syscall.PROT_EXEC)
}

func (e *execBuf) release() {
	syscall.Munmap(unsafe.Slice((*byte)(e.ptr), e.n))
}

// JitFunction is one compiled native routine. It owns both the executable
// mapping and the constant pool; the pool is read by the emitted code via
// the base pointer baked into the prologue, so both live and die together.
type JitFunction struct {
	Fn         func() float64
	Constants  []float64
	CodeSize   int
	SpillCount int
	buf        *execBuf
}

// Entry returns the native entry address (for the registry and debugging).
func (f *JitFunction) Entry() uintptr {
	if f.buf == nil {
		return 0
	}
	return uintptr(f.buf.ptr)
}

// Release unmaps the executable memory. The function must not be called
// afterwards.
func (f *JitFunction) Release() {
	if f.buf != nil {
		f.buf.release()
		f.buf = nil
		f.Fn = nil
	}
}

// JitCompile generates native code for a decompiled forest and returns a
// callable function. On any failure the executable mapping is released and
// no partial function escapes.
func JitCompile(roots []*AstNode, opts JitOptions) (jf *JitFunction, err error) {
	defer recoverError(&err)

	prog := jitBuild(roots, opts)

	jf = &JitFunction{
		Constants:  prog.Constants,
		CodeSize:   len(prog.Code),
		SpillCount: prog.SpillCount,
	}
	// the pool base is only known once the constants slice stopped growing
	*(*uint64)(unsafe.Pointer(&prog.Code[prog.ConstPatch])) = uint64(uintptr(unsafe.Pointer(&jf.Constants[0])))

	buf, err := allocExec(len(prog.Code))
	if err != nil {
		return nil, err
	}
	dst := unsafe.Slice((*byte)(buf.ptr), len(prog.Code))
	copy(dst, prog.Code)
	if err := buf.makeRX(); err != nil {
		buf.release()
		return nil, err
	}

	jf.buf = buf
	fn2 := unsafe.Pointer(&struct{ p unsafe.Pointer }{buf.ptr})
	jf.Fn = *(*func() float64)(unsafe.Pointer(&fn2))
	return jf, nil
}

// JitCompileFunction decompiles one bytecode function and JIT-compiles the
// recovered tree.
func JitCompileFunction(fn *Function, opts JitOptions) (*JitFunction, error) {
	roots, err := Decompile(fn)
	if err != nil {
		return nil, err
	}
	return JitCompile(roots, opts)
}
