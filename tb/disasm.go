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
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/go-units"
)

// DisasmOp is one decoded instruction of a listing.
type DisasmOp struct {
	Address int
	Name    string
	Args    string
}

// DisasmFn is the decoded listing of one function.
type DisasmFn struct {
	Name    string
	Opcodes []DisasmOp
}

type Disassembly struct {
	Functions []DisasmFn
}

var opNames = map[OpCode]string{
	OpAdd: "op_add", OpSub: "op_sub", OpMul: "op_mul", OpDiv: "op_div",
	OpGt: "op_gt", OpLt: "op_lt", OpEq: "op_eq", OpNe: "op_ne",
	OpLoadZero: "op_load_zero", OpPop: "op_pop", OpReturn: "op_return",
}

// Disassemble decodes a whole program. Unknown opcodes fail the decode.
func Disassemble(program *Program) (*Disassembly, error) {
	disasm := &Disassembly{}
	for _, fn := range program.Functions {
		dfn := DisasmFn{Name: fn.Name}
		code := fn.Code
		for ip := 0; ip < len(code); ip++ {
			address := ip
			op := OpCode(code[ip])
			var decoded DisasmOp
			switch op {
			case OpLoadNumber:
				number := joinNumber(code[ip+1], code[ip+2])
				ip += 2
				decoded = DisasmOp{address, "op_load_number", strconv.FormatFloat(number, 'g', -1, 64)}
			case OpLoadSlot:
				ip++
				decoded = DisasmOp{address, "op_load_slot", strconv.Itoa(int(code[ip]))}
			case OpSetSlot:
				ip++
				decoded = DisasmOp{address, "op_set_slot", strconv.Itoa(int(code[ip]))}
			case OpCall:
				ip += 2
				decoded = DisasmOp{address, "op_call", strconv.Itoa(int(code[ip-1])) + ", " + strconv.Itoa(int(code[ip]))}
			case OpJz, OpJmp:
				ip++
				offset := int(int32(code[ip]))
				name := "op_jmp"
				if op == OpJz {
					name = "op_jz"
				}
				decoded = DisasmOp{address, name, strconv.Itoa(offset) + ", -> " + strconv.Itoa(ip+1+offset)}
			default:
				name, ok := opNames[op]
				if !ok {
					return nil, fmt.Errorf("disasm: invalid instruction %d at word %d in %s", code[ip], ip, fn.Name)
				}
				decoded = DisasmOp{address, name, ""}
			}
			dfn.Opcodes = append(dfn.Opcodes, decoded)
		}
		disasm.Functions = append(disasm.Functions, dfn)
	}
	return disasm, nil
}

// String renders the listing the way the CLI prints it.
func (d *Disassembly) String() string {
	var b strings.Builder
	for _, fn := range d.Functions {
		fmt.Fprintf(&b, "\nFunction %s:\n", fn.Name)
		for _, op := range fn.Opcodes {
			args := ""
			if op.Args != "" {
				args = "[" + op.Args + "]"
			}
			fmt.Fprintf(&b, "%04d %-30s %s\n", op.Address, op.Name, args)
		}
	}
	return b.String()
}

// CodeSize sums the code words of all functions, in bytes.
func CodeSize(program *Program) int {
	n := 0
	for _, fn := range program.Functions {
		n += 4 * len(fn.Code)
	}
	return n
}

// HumanCodeSize formats a byte count for the stats output.
func HumanCodeSize(n int) string {
	return units.HumanSize(float64(n))
}
