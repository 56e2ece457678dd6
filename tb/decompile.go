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

/*
The decompiler reverses one function's stack bytecode into a statement
forest by symbolic execution: it mirrors the VM operand stack with
{varID, nodeID} pairs and synthesizes AST nodes as opcodes come in.

Control flow is recovered structurally. A forward jz opens a nested block
whose nodes become the body of an If; if that block ends in a backward
jmp the construct is a While instead (the back edge is the loop tail the
front-end emits). Backward jz does not occur in front-end output and is
rejected.
*/

type stackValue struct {
	varID  string
	nodeID string
}

type decompileBlock struct {
	cursor int
	stack  []stackValue
	nodes  []*AstNode
	code   []uint32
}

type decompiler struct {
	arena astArena
}

func (d *decompiler) fail(cursor int, msg string) {
	panic(&StructuralBytecodeError{Cursor: cursor, Msg: msg})
}

// operand reads the next inline operand word.
func (d *decompiler) operand(blk *decompileBlock, at int) uint32 {
	if blk.cursor >= len(blk.code) {
		d.fail(at, "truncated instruction")
	}
	word := blk.code[blk.cursor]
	blk.cursor++
	return word
}

func findNode(nodes []*AstNode, nodeID string) int {
	for i, node := range nodes {
		if node.NodeID == nodeID {
			return i
		}
	}
	return -1
}

func removeNode(nodes []*AstNode, i int) []*AstNode {
	return append(nodes[:i], nodes[i+1:]...)
}

// popValue drops the top symbolic entry. Pure expression nodes leave the
// nodes list with it; statements stay (their effect must be kept).
func (d *decompiler) popValue(blk *decompileBlock) {
	if len(blk.stack) == 0 {
		d.fail(blk.cursor, "invalid stack pop")
	}
	top := blk.stack[len(blk.stack)-1]
	blk.stack = blk.stack[:len(blk.stack)-1]

	i := findNode(blk.nodes, top.nodeID)
	if i < 0 {
		d.fail(blk.cursor, "node "+top.nodeID+" not found")
	}
	if !blk.nodes[i].IsStatement {
		blk.nodes = removeNode(blk.nodes, i)
	}
}

// popExpression removes the top symbolic entry and returns its producing
// node as a subexpression, detaching it from the nodes list. Popping a
// statement placeholder (chained assignment) keeps the statement in place
// and hands back an Identifier copy of its destination instead, so no
// node ends up shared between the list and a child slot.
func (d *decompiler) popExpression(blk *decompileBlock) (stackValue, *AstNode) {
	if len(blk.stack) == 0 {
		d.fail(blk.cursor, "invalid stack pop")
	}
	top := blk.stack[len(blk.stack)-1]
	blk.stack = blk.stack[:len(blk.stack)-1]

	i := findNode(blk.nodes, top.nodeID)
	if i < 0 {
		d.fail(blk.cursor, "node "+top.nodeID+" not found")
	}
	node := blk.nodes[i]
	if node.IsStatement {
		copyNode := d.arena.allocIdentifierNode(node.VarIDTo, genVarCopyID(node.VarIDTo))
		return stackValue{copyNode.VarIDTo, copyNode.NodeID}, copyNode
	}
	blk.nodes = removeNode(blk.nodes, i)
	return top, node
}

func binaryNodeType(op OpCode) AstNodeType {
	switch op {
	case OpEq:
		return NodeEq
	case OpNe:
		return NodeNe
	case OpLt:
		return NodeLt
	case OpGt:
		return NodeGt
	case OpDiv:
		return NodeDiv
	case OpMul:
		return NodeMul
	case OpSub:
		return NodeSub
	default:
		return NodeAdd
	}
}

// parseBlock symbolically executes one code range. It reports true when
// the range ended with a backward jmp (a loop tail).
func (d *decompiler) parseBlock(blk *decompileBlock) bool {
	for blk.cursor < len(blk.code) {
		at := blk.cursor
		inst := OpCode(blk.code[blk.cursor])
		blk.cursor++

		switch inst {
		case OpLoadNumber:
			if blk.cursor+2 > len(blk.code) {
				d.fail(at, "truncated load_number")
			}
			value := joinNumber(blk.code[blk.cursor], blk.code[blk.cursor+1])
			blk.cursor += 2
			node := d.arena.allocConstNode(genVarID(), value)
			blk.nodes = append(blk.nodes, node)
			blk.stack = append(blk.stack, stackValue{node.VarIDTo, node.NodeID})

		case OpLoadZero:
			node := d.arena.allocConstNode(genVarID(), 0.0)
			blk.nodes = append(blk.nodes, node)
			blk.stack = append(blk.stack, stackValue{node.VarIDTo, node.NodeID})

		case OpLoadSlot:
			slot := int(d.operand(blk, at))
			if slot < 0 || slot >= len(blk.stack) {
				d.fail(at, "invalid load_slot index")
			}
			current := blk.stack[slot]
			node := d.arena.allocIdentifierNode(current.varID, genVarCopyID(current.varID))
			blk.nodes = append(blk.nodes, node)
			blk.stack = append(blk.stack, stackValue{node.VarIDTo, node.NodeID})

		case OpSetSlot:
			slot := int(d.operand(blk, at))
			value, valueNode := d.popExpression(blk)
			if slot < 0 || slot >= len(blk.stack) {
				d.fail(at, "invalid set_slot index")
			}
			target := blk.stack[slot]
			assign := d.arena.allocAssignNode(target.varID, value.varID, valueNode)
			blk.nodes = append(blk.nodes, assign)
			// the VM leaves the assigned value on the stack; mirror it with
			// a placeholder so the following pop has something to consume
			blk.stack = append(blk.stack, stackValue{genVarID(), assign.NodeID})

		case OpAdd, OpSub, OpMul, OpDiv, OpEq, OpNe, OpLt, OpGt:
			_, rightNode := d.popExpression(blk)
			_, leftNode := d.popExpression(blk)
			node := d.arena.allocComplexNode(binaryNodeType(inst), genVarID(), leftNode, rightNode)
			blk.nodes = append(blk.nodes, node)
			blk.stack = append(blk.stack, stackValue{node.VarIDTo, node.NodeID})

		case OpPop:
			d.popValue(blk)

		case OpReturn:
			_, valueNode := d.popExpression(blk)
			node := d.arena.allocSimpleNode(NodeReturn, valueNode)
			blk.nodes = append(blk.nodes, node)
			return false

		case OpJmp:
			offset := int(int32(d.operand(blk, at)))
			if offset < 0 {
				return true // loop tail, handled by the jz that opened us
			}
			blk.cursor += offset

		case OpJz:
			offset := int(int32(d.operand(blk, at)))
			if offset < 0 {
				d.fail(at, "backward jz")
			}
			if len(blk.stack) == 0 {
				d.fail(at, "jz on empty stack")
			}
			condID := blk.stack[len(blk.stack)-1].nodeID
			condIndex := findNode(blk.nodes, condID)
			if condIndex < 0 {
				d.fail(at, "condition node not found")
			}
			condNode := blk.nodes[condIndex]
			if condNode.IsStatement {
				d.fail(at, "statement as branch condition")
			}

			if blk.cursor+offset > len(blk.code) {
				d.fail(at, "jz offset out of range")
			}

			snapshot := make(map[string]bool, len(blk.nodes))
			for _, node := range blk.nodes {
				snapshot[node.NodeID] = true
			}

			inner := &decompileBlock{
				stack: append([]stackValue(nil), blk.stack...),
				nodes: append([]*AstNode(nil), blk.nodes...),
				code:  blk.code[blk.cursor : blk.cursor+offset],
			}
			backjump := d.parseBlock(inner)

			children := []*AstNode{condNode}
			for _, node := range inner.nodes {
				if !snapshot[node.NodeID] {
					children = append(children, node)
				}
			}

			nodeType := NodeIf
			if backjump {
				nodeType = NodeWhile
			}
			blk.nodes = append(blk.nodes, d.arena.allocListNode(nodeType, children))

			blk.cursor += offset
			if blk.cursor >= len(blk.code) || OpCode(blk.code[blk.cursor]) != OpPop {
				d.fail(blk.cursor, "missing pop after conditional body")
			}
			blk.cursor++
			d.popValue(blk)

		default:
			d.fail(at, "unknown instruction")
		}
	}
	return false
}

// Decompile reverses one function into an ordered statement forest. On any
// structural defect the whole decompile fails; no partial forest escapes.
func Decompile(fn *Function) (roots []*AstNode, err error) {
	defer recoverError(&err)

	d := &decompiler{}
	blk := &decompileBlock{code: fn.Code}
	d.parseBlock(blk)

	roots = blk.nodes
	d.arena.prune(roots)
	return roots, nil
}
