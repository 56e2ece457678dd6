//go:build !amd64

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

import "errors"

// TODO: arm64 backend

// JitFunction is a stub on architectures without a backend.
type JitFunction struct {
	Fn         func() float64
	Constants  []float64
	CodeSize   int
	SpillCount int
}

func (f *JitFunction) Entry() uintptr { return 0 }

func (f *JitFunction) Release() {}

var errNoJit = errors.New("jit: no backend for this architecture")

func JitCompile(roots []*AstNode, opts JitOptions) (*JitFunction, error) {
	return nil, errNoJit
}

func JitCompileFunction(fn *Function, opts JitOptions) (*JitFunction, error) {
	return nil, errNoJit
}
