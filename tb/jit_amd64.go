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
	"fmt"
	"unsafe"
)

/*
The generator walks the decompiled forest left to right and appends
machine code for each node. Values are tracked as identifiers bound to
either an XMM register or a spill slot; registers are taken from the full
xmm0..xmm7 file and evicted least-recently-hydrated when none is free.

Emitted function shape:

	movabs rax, <constant pool base>   ; patched at finalization
	mov    rcx, rax
	push   rbp
	mov    rbp, rsp
	sub    rsp, <8 * spill slots>      ; patched at finalization
	...                                ; per-node code
	movsd  xmm0, <result>              ; at each Return
	mov    rsp, rbp
	pop    rbp
	ret

The routine takes no arguments, returns in xmm0 and clobbers rax, rcx and
xmm0..xmm7.
*/

const xmmCount = 8

type jitCompiler struct {
	w    *JITWriter
	opts JitOptions

	idents   []*jitIdent
	hydrates uint64

	spillCount int
	constants  []float64

	// assigned holds every Assign destination name; identifiers outside
	// of it are static and may be aliased.
	assigned map[string]bool
}

// jitProgram is the raw result of code generation, before the code is
// placed into executable memory.
type jitProgram struct {
	Code       []byte
	Constants  []float64
	ConstPatch int // offset of the 8-byte pool base immediate
	SpillCount int
}

func (c *jitCompiler) addConstant(value float64) int {
	for i, v := range c.constants {
		if v == value {
			return i
		}
	}
	if len(c.constants) >= maxConstants {
		panic(&ConstantPoolOverflowError{})
	}
	c.constants = append(c.constants, value)
	return len(c.constants) - 1
}

func (c *jitCompiler) findIdent(name string) *jitIdent {
	for _, id := range c.idents {
		if _, ok := id.names[name]; ok {
			return id
		}
	}
	panic(&IdentifierNotFoundError{Name: name})
}

func (c *jitCompiler) bindIdent(name string, reg Xmm, isStatic bool, constIndex int) *jitIdent {
	id := &jitIdent{
		names:      map[string]struct{}{name: {}},
		inReg:      true,
		reg:        reg,
		isStatic:   isStatic,
		constIndex: constIndex,
	}
	c.hydrates++
	id.hydrateCount = c.hydrates
	c.idents = append(c.idents, id)
	return id
}

// freeName drops one symbolic name; the identifier's storage is released
// only once no name refers to it anymore (aliased identifiers survive
// their copies).
func (c *jitCompiler) freeName(name string) {
	id := c.findIdent(name)
	delete(id.names, name)
	if len(id.names) > 0 {
		return
	}
	for i, other := range c.idents {
		if other == id {
			c.idents = append(c.idents[:i], c.idents[i+1:]...)
			return
		}
	}
}

func (c *jitCompiler) constInReg(index int) bool {
	for _, id := range c.idents {
		if id.inReg && id.constIndex == index {
			return true
		}
	}
	return false
}

// allocXmm returns a free XMM register, spilling the least recently
// hydrated identifier to the native stack when the file is full.
func (c *jitCompiler) allocXmm() Xmm {
	var used [xmmCount]bool
	for _, id := range c.idents {
		if id.inReg {
			used[id.reg] = true
		}
	}
	for reg := Xmm(0); reg < xmmCount; reg++ {
		if !used[reg] {
			return reg
		}
	}

	var victim *jitIdent
	for _, id := range c.idents {
		if id.inReg && (victim == nil || id.hydrateCount < victim.hydrateCount) {
			victim = id
		}
	}
	c.w.EmitSpillStore(c.spillCount, victim.reg)
	c.spillCount++
	victim.inReg = false
	victim.spill = c.spillCount - 1
	return victim.reg
}

// hydrate makes sure an identifier sits in an XMM register and stamps its
// use, which drives the LRU spill choice.
func (c *jitCompiler) hydrate(id *jitIdent) {
	if !id.inReg {
		reg := c.allocXmm()
		c.w.EmitSpillLoad(reg, id.spill)
		id.inReg = true
		id.reg = reg
	}
	c.hydrates++
	id.hydrateCount = c.hydrates
}

// resultReg consumes the named operand and yields the register the result
// may be computed into. When the operand's identifier survives through an
// alias, its register must not be clobbered, so the value is copied into a
// fresh one first.
func (c *jitCompiler) resultReg(name string) Xmm {
	id := c.findIdent(name)
	c.hydrate(id)
	reg := id.reg
	delete(id.names, name)
	if len(id.names) == 0 {
		for i, other := range c.idents {
			if other == id {
				c.idents = append(c.idents[:i], c.idents[i+1:]...)
				break
			}
		}
		return reg
	}
	dst := c.allocXmm()
	c.w.EmitMovsdXmmXmm(dst, reg)
	return dst
}

var arithOps = map[AstNodeType]byte{
	NodeAdd: sseAddsd,
	NodeSub: sseSubsd,
	NodeMul: sseMulsd,
	NodeDiv: sseDivsd,
}

func (c *jitCompiler) emitNode(n *AstNode) {
	switch n.Type {
	case NodeConst:
		index := c.addConstant(n.Constant)
		reg := c.allocXmm()
		c.w.EmitSseXmmConst(sseMovsd, reg, index)
		c.bindIdent(n.VarIDTo, reg, !c.assigned[n.VarIDTo], index)

	case NodeIdentifier:
		src := c.findIdent(n.VarIDFrom)
		dstStatic := !c.assigned[n.VarIDTo]
		if c.opts.UseOptimizations && src.isStatic && dstStatic {
			// both sides are never reassigned: share the storage
			src.names[n.VarIDTo] = struct{}{}
			return
		}
		c.hydrate(src)
		reg := c.allocXmm()
		c.w.EmitMovsdXmmXmm(reg, src.reg)
		c.bindIdent(n.VarIDTo, reg, dstStatic, -1)

	case NodeAdd, NodeSub, NodeMul, NodeDiv:
		c.emitArith(n, arithOps[n.Type])

	case NodeEq:
		c.emitCompare(n, ccZ, true)
	case NodeNe:
		c.emitCompare(n, ccZ, false)
	case NodeLt:
		c.emitCompare(n, ccB, true)
	case NodeGt:
		c.emitCompare(n, ccA, true)

	case NodeAssign:
		c.emitNode(n.Children[0])
		dst := c.findIdent(n.VarIDTo)
		if dst.isStatic {
			panic(fmt.Errorf("jit: assignment to static identifier %q", n.VarIDTo))
		}
		src := c.findIdent(n.VarIDFrom)
		c.hydrate(dst)
		c.hydrate(src)
		if !dst.inReg {
			c.hydrate(dst)
		}
		c.w.EmitMovsdXmmXmm(dst.reg, src.reg)
		dst.constIndex = -1
		c.freeName(n.VarIDFrom)

	case NodeReturn:
		value := n.Children[0]
		c.emitNode(value)
		id := c.findIdent(value.VarIDTo)
		c.hydrate(id)
		if id.reg != 0 {
			c.w.EmitMovsdXmmXmm(0, id.reg)
		}
		c.freeName(value.VarIDTo)
		c.w.EmitMovRegReg(RegRSP, RegRBP)
		c.w.EmitPopReg(RegRBP)
		c.w.EmitRet()

	case NodeIf:
		// TODO: a spill emitted inside the body only executes on the taken
		// path, but the allocator believes it happened unconditionally
		exit := c.emitCondition(n.Children[0])
		for _, child := range n.Children[1:] {
			c.emitNode(child)
		}
		c.w.MarkLabel(exit)

	case NodeWhile:
		top := c.w.DefineLabel()
		exit := c.emitCondition(n.Children[0])
		for _, child := range n.Children[1:] {
			c.emitNode(child)
		}
		c.w.EmitJmp32(top)
		c.w.MarkLabel(exit)

	default:
		panic(&UnknownNodeKindError{Kind: n.Type})
	}
}

// emitCondition evaluates a condition, tests it against 0.0 and emits the
// long exit branch. Returns the exit label to mark at the join point.
func (c *jitCompiler) emitCondition(cond *AstNode) uint8 {
	c.emitNode(cond)
	id := c.findIdent(cond.VarIDTo)
	c.hydrate(id)
	zero := c.addConstant(0.0)
	c.w.EmitUcomisdXmmConst(id.reg, zero)
	exit := c.w.ReserveLabel()
	c.w.EmitJz32(exit)
	c.freeName(cond.VarIDTo)
	return exit
}

func (c *jitCompiler) emitArith(n *AstNode, op byte) {
	left, right := n.Children[0], n.Children[1]
	c.emitNode(left)

	// a constant right operand can be consumed straight from the pool,
	// unless the same constant happens to be live in a register
	if c.opts.UseOptimizations && right.Type == NodeConst {
		index := c.addConstant(right.Constant)
		if !c.constInReg(index) {
			dst := c.resultReg(left.VarIDTo)
			c.w.EmitSseXmmConst(op, dst, index)
			c.bindIdent(n.VarIDTo, dst, !c.assigned[n.VarIDTo], -1)
			return
		}
	}

	c.emitNode(right)
	lid := c.findIdent(left.VarIDTo)
	c.hydrate(lid)
	rid := c.findIdent(right.VarIDTo)
	c.hydrate(rid)
	if !lid.inReg {
		c.hydrate(lid)
	}
	rreg := rid.reg
	dst := c.resultReg(left.VarIDTo)
	c.w.EmitSseXmmXmm(op, dst, rreg)
	c.freeName(right.VarIDTo)
	c.bindIdent(n.VarIDTo, dst, !c.assigned[n.VarIDTo], -1)
}

// emitCompare lowers Eq/Ne/Lt/Gt to ucomisd plus two short branches that
// leave 1.0 or 0.0 in the result register. takenOne says whether the
// condition-taken path is the one that produces 1.0.
func (c *jitCompiler) emitCompare(n *AstNode, cc byte, takenOne bool) {
	left, right := n.Children[0], n.Children[1]
	c.emitNode(left)
	c.emitNode(right)

	lid := c.findIdent(left.VarIDTo)
	c.hydrate(lid)
	rid := c.findIdent(right.VarIDTo)
	c.hydrate(rid)
	if !lid.inReg {
		c.hydrate(lid)
	}

	c.w.EmitUcomisdXmmXmm(lid.reg, rid.reg)
	// spill/copy traffic below only moves data, the flags survive until
	// the branch
	dst := c.resultReg(left.VarIDTo)
	one := c.addConstant(1.0)

	taken := c.w.ReserveLabel()
	join := c.w.ReserveLabel()
	c.w.EmitJcc8(cc, taken)
	if takenOne {
		c.w.EmitPxorXmmXmm(dst, dst)
	} else {
		c.w.EmitSseXmmConst(sseMovsd, dst, one)
	}
	c.w.EmitJmp8(join)
	c.w.MarkLabel(taken)
	if takenOne {
		c.w.EmitSseXmmConst(sseMovsd, dst, one)
	} else {
		c.w.EmitPxorXmmXmm(dst, dst)
	}
	c.w.MarkLabel(join)

	c.freeName(right.VarIDTo)
	c.bindIdent(n.VarIDTo, dst, !c.assigned[n.VarIDTo], -1)
}

func collectAssigned(node *AstNode, assigned map[string]bool) {
	if node.Type == NodeAssign {
		assigned[node.VarIDTo] = true
	}
	for _, child := range node.Children {
		collectAssigned(child, assigned)
	}
}

// jitBuild generates machine code for a decompiled forest into a scratch
// buffer. The caller places the code into executable memory and patches
// the constant pool base at ConstPatch.
func jitBuild(roots []*AstNode, opts JitOptions) *jitProgram {
	codeBuf := make([]byte, 16384)
	w := &JITWriter{
		Ptr:   unsafe.Pointer(&codeBuf[0]),
		Start: unsafe.Pointer(&codeBuf[0]),
		End:   unsafe.Add(unsafe.Pointer(&codeBuf[0]), len(codeBuf)-256),
	}

	c := &jitCompiler{
		w:         w,
		opts:      opts,
		constants: make([]float64, 0, maxConstants),
		assigned:  make(map[string]bool),
	}
	for _, root := range roots {
		collectAssigned(root, c.assigned)
	}

	constPatch := w.EmitMovabsRax(0)
	w.EmitMovRegReg(regConstTable, RegRAX)
	w.EmitPushReg(RegRBP)
	w.EmitMovRegReg(RegRBP, RegRSP)
	framePatch := w.EmitSubRspImm32(0)

	for _, root := range roots {
		c.emitNode(root)
	}

	w.ResolveFixups()

	code := codeBuf[:w.pos()]
	*(*uint32)(unsafe.Pointer(&code[framePatch])) = uint32(c.spillCount * 8)

	constants := c.constants
	if len(constants) == 0 {
		constants = append(constants, 0.0)
	}

	return &jitProgram{
		Code:       code,
		Constants:  constants,
		ConstPatch: constPatch,
		SpillCount: c.spillCount,
	}
}
