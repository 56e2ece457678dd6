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

// The VM is the reference semantics for the bytecode: a float64 operand
// stack with call frames. The JIT is checked against it bit for bit.

const vmStackSize = 255

type vmFrame struct {
	code []uint32
	ip   int
	base int
}

type VM struct {
	stack   []float64
	top     int
	frames  []vmFrame
	program *Program
}

func NewVM(program *Program) *VM {
	return &VM{
		stack:   make([]float64, vmStackSize),
		program: program,
	}
}

func (vm *VM) push(v float64) {
	if vm.top >= vmStackSize {
		panic(fmt.Errorf("vm: maximum stack size exceeded"))
	}
	vm.stack[vm.top] = v
	vm.top++
}

func (vm *VM) pop() float64 {
	vm.top--
	if vm.top < 0 {
		panic(fmt.Errorf("vm: stack underflow"))
	}
	return vm.stack[vm.top]
}

func b2f(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

// Execute runs one function until its outermost return. The operand stack
// keeps its content across calls, so globals computed by the global scope
// stay at the stack bottom for a subsequent Execute of Main.
func (vm *VM) Execute(fn *Function) (result float64, err error) {
	defer recoverError(&err)

	code := fn.Code
	base := 0

	for ip := 0; ; ip++ {
		switch OpCode(code[ip]) {
		case OpAdd:
			b := vm.pop()
			a := vm.pop()
			vm.push(a + b)
		case OpSub:
			b := vm.pop()
			a := vm.pop()
			vm.push(a - b)
		case OpMul:
			b := vm.pop()
			a := vm.pop()
			vm.push(a * b)
		case OpDiv:
			b := vm.pop()
			a := vm.pop()
			vm.push(a / b)
		case OpGt:
			b := vm.pop()
			a := vm.pop()
			vm.push(b2f(a > b))
		case OpLt:
			b := vm.pop()
			a := vm.pop()
			vm.push(b2f(a < b))
		case OpEq:
			b := vm.pop()
			a := vm.pop()
			vm.push(b2f(a == b))
		case OpNe:
			b := vm.pop()
			a := vm.pop()
			vm.push(b2f(a != b))
		case OpLoadNumber:
			lo := code[ip+1]
			hi := code[ip+2]
			ip += 2
			vm.push(joinNumber(lo, hi))
		case OpLoadZero:
			vm.push(0.0)
		case OpLoadSlot:
			ip++
			vm.push(vm.stack[base+int(code[ip])])
		case OpSetSlot:
			ip++
			vm.stack[base+int(code[ip])] = vm.stack[vm.top-1]
		case OpPop:
			vm.pop()
		case OpReturn:
			returnValue := vm.pop()
			if len(vm.frames) == 0 {
				return returnValue, nil
			}
			frame := vm.frames[len(vm.frames)-1]
			vm.frames = vm.frames[:len(vm.frames)-1]
			vm.top = base
			base = frame.base
			code = frame.code
			ip = frame.ip
			vm.push(returnValue)
		case OpCall:
			functionIndex := int(code[ip+1])
			argCount := int(code[ip+2])
			ip += 2
			vm.frames = append(vm.frames, vmFrame{code, ip, base})
			function := &vm.program.Functions[functionIndex]
			base = vm.top - argCount
			code = function.Code
			ip = -1
		case OpJz:
			ip++
			if vm.stack[vm.top-1] == 0.0 {
				ip += int(int32(code[ip]))
			}
		case OpJmp:
			ip++
			ip += int(int32(code[ip]))
		default:
			panic(fmt.Errorf("vm: invalid instruction %d", code[ip]))
		}
	}
}

// Run executes the global scope and then Main, returning Main's value.
func Run(program *Program) (float64, error) {
	vm := NewVM(program)
	if _, err := vm.Execute(&program.Functions[program.Global]); err != nil {
		return 0, err
	}
	return vm.Execute(&program.Functions[program.Main])
}
