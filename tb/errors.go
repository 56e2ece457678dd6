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

import "fmt"

// The compile pipeline panics with these error values internally and
// recovers at the exported boundaries (Compile, Decompile, JitCompile),
// so that deeply recursive code does not have to thread error returns
// through every level. No partial result ever escapes a failed compile.

// ParseError is a front-end syntax error. AtEOF marks errors caused by
// running out of input, which the REPL uses to ask for another line.
type ParseError struct {
	Msg   string
	AtEOF bool
}

func (e *ParseError) Error() string {
	return e.Msg
}

// StructuralBytecodeError reports malformed bytecode during decompilation:
// unknown opcode, empty-stack pop, missing pop after an If body, backward
// jz, invalid slot index. Cursor is a word index within the block being
// decoded: the offending instruction for opcode, slot and jump errors; for
// an empty-stack pop or a missing node it is the decoder position after
// the instruction and its operands.
type StructuralBytecodeError struct {
	Cursor int
	Msg    string
}

func (e *StructuralBytecodeError) Error() string {
	return fmt.Sprintf("bytecode: %s (at word %d)", e.Msg, e.Cursor)
}

// UnknownNodeKindError means the generator saw an AST node kind it does
// not implement.
type UnknownNodeKindError struct {
	Kind AstNodeType
}

func (e *UnknownNodeKindError) Error() string {
	return fmt.Sprintf("jit: unknown node kind %d", e.Kind)
}

// IdentifierNotFoundError means the generator looked up an identifier name
// that was never created. Indicates a decompiler bug.
type IdentifierNotFoundError struct {
	Name string
}

func (e *IdentifierNotFoundError) Error() string {
	return fmt.Sprintf("jit: identifier %q not found", e.Name)
}

// EncodingRangeError reports a displacement that does not fit its encoding
// (signed 8 bit for short branches, signed 32 bit otherwise), or a code
// buffer overflow.
type EncodingRangeError struct {
	Disp int64
	Msg  string
}

func (e *EncodingRangeError) Error() string {
	return fmt.Sprintf("jit: %s (displacement %d)", e.Msg, e.Disp)
}

// ConstantPoolOverflowError means a single function used more than
// maxConstants distinct float64 constants.
type ConstantPoolOverflowError struct{}

func (e *ConstantPoolOverflowError) Error() string {
	return fmt.Sprintf("jit: constant pool exceeds %d entries", maxConstants)
}

// recoverError converts a panic raised inside a compile path back into an
// error return. Panics carrying non-error values are re-raised.
func recoverError(err *error) {
	if r := recover(); r != nil {
		if e, ok := r.(error); ok {
			*err = e
			return
		}
		panic(r)
	}
}
