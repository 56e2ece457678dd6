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
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unsafe"
)

// jitRun compiles Main and executes the native routine.
func jitRun(t *testing.T, source string, opts JitOptions) (float64, *JitFunction) {
	t.Helper()
	jf, err := JitCompileFunction(mainFn(t, source), opts)
	if err != nil {
		t.Fatalf("jit: %v", err)
	}
	t.Cleanup(jf.Release)
	return jf.Fn(), jf
}

// checkRoundTrip asserts the JIT agrees with the interpreter bit for bit.
func checkRoundTrip(t *testing.T, source string, expected float64) {
	t.Helper()
	vmResult := runProgram(t, source)
	if vmResult != expected {
		t.Fatalf("vm: expected %v, got %v", expected, vmResult)
	}
	for _, opts := range []JitOptions{{UseOptimizations: true}, {UseOptimizations: false}} {
		jitResult, _ := jitRun(t, source, opts)
		if jitResult != vmResult {
			t.Fatalf("jit (opts=%v): expected %v, got %v", opts.UseOptimizations, vmResult, jitResult)
		}
	}
}

func TestJit_Arithmetic(t *testing.T) {
	checkRoundTrip(t, "Fn Main: Return 1 + 2 * 3; End Fn", 7.0)
}

func TestJit_Division(t *testing.T) {
	checkRoundTrip(t, "Fn Main: Return 1 / 4 + 10 / 5; End Fn", 2.25)
}

func TestJit_NonExactDivision(t *testing.T) {
	source := "Fn Main: Return 1 / 3; End Fn"
	vmResult := runProgram(t, source)
	jitResult, _ := jitRun(t, source, DefaultJitOptions)
	if jitResult != vmResult {
		t.Fatalf("expected bit-exact %v, got %v", vmResult, jitResult)
	}
}

func TestJit_ConstReuseAliasing(t *testing.T) {
	checkRoundTrip(t, "Fn Main: Const x = 10; Return x + x; End Fn", 20.0)
}

func TestJit_Assignment(t *testing.T) {
	checkRoundTrip(t, "Fn Main: Any a = 0; a = 5; a = a + 3; Return a; End Fn", 8.0)
}

func TestJit_IfFalse(t *testing.T) {
	checkRoundTrip(t, "Fn Main: Const x = 1; If x == 2 Then Return 100; End If Return 7; End Fn", 7.0)
}

func TestJit_IfTrue(t *testing.T) {
	checkRoundTrip(t, "Fn Main: Const x = 2; If x == 2 Then Return 100; End If Return 7; End Fn", 100.0)
}

func TestJit_WhileCountdown(t *testing.T) {
	src := "Fn Main: Any i = 5; Any s = 0; While i > 0 Then s = s + i; i = i - 1; End While Return s; End Fn"
	checkRoundTrip(t, src, 15.0)
}

func TestJit_Comparisons(t *testing.T) {
	checkRoundTrip(t, "Fn Main: Return (1 < 2) + (3 > 4) + (5 != 5) + (6 == 6); End Fn", 2.0)
}

func TestJit_NestedWhileIf(t *testing.T) {
	src := `Fn Main:
		Any i = 0;
		Any acc = 0;
		While i < 10 Then
			If i > 4 Then acc = acc + i; End If
			i = i + 1;
		End While
		Return acc;
	End Fn`
	checkRoundTrip(t, src, 35.0)
}

func TestJit_ChainedAssignment(t *testing.T) {
	checkRoundTrip(t, "Fn Main: Any a = 0; Any b = 0; a = b = 5; Return a + b; End Fn", 10.0)
}

func TestJit_SpillPressure(t *testing.T) {
	var b strings.Builder
	b.WriteString("Fn Main:\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "Const c%d = %d;\n", i, i+1)
	}
	b.WriteString("Return c0+c1+c2+c3+c4+c5+c6+c7+c8+c9;\nEnd Fn")
	source := b.String()

	vmResult := runProgram(t, source)
	jitResult, jf := jitRun(t, source, DefaultJitOptions)
	if jitResult != vmResult {
		t.Fatalf("expected %v, got %v", vmResult, jitResult)
	}
	if vmResult != 55.0 {
		t.Fatalf("expected 55, got %v", vmResult)
	}
	if jf.SpillCount < 2 {
		t.Fatalf("expected at least 2 spills for 10 live constants, got %d", jf.SpillCount)
	}
}

func TestJit_ConstantPoolDedup(t *testing.T) {
	_, jf := jitRun(t, "Fn Main: Return 5 + 5; End Fn", DefaultJitOptions)
	if len(jf.Constants) != 1 || jf.Constants[0] != 5.0 {
		t.Fatalf("expected pool [5], got %v", jf.Constants)
	}
}

func TestJit_ConstantPoolOverflow(t *testing.T) {
	var b strings.Builder
	b.WriteString("Fn Main: Return 0")
	for i := 1; i <= maxConstants+1; i++ {
		fmt.Fprintf(&b, " + %d", i)
	}
	b.WriteString("; End Fn")
	_, err := JitCompileFunction(mainFn(t, b.String()), DefaultJitOptions)
	var overflow *ConstantPoolOverflowError
	if !errors.As(err, &overflow) {
		t.Fatalf("expected ConstantPoolOverflowError, got %v", err)
	}
}

func TestJit_AliasingShrinksCode(t *testing.T) {
	source := "Fn Main: Const x = 10; Return x + x; End Fn"
	_, optimized := jitRun(t, source, JitOptions{UseOptimizations: true})
	_, plain := jitRun(t, source, JitOptions{UseOptimizations: false})
	if optimized.CodeSize >= plain.CodeSize {
		t.Fatalf("aliasing did not shrink code: %d vs %d", optimized.CodeSize, plain.CodeSize)
	}
}

func TestJit_UnknownNodeKind(t *testing.T) {
	bad := &AstNode{NodeID: "n", Type: AstNodeType(200), VarIDTo: "v"}
	_, err := JitCompile([]*AstNode{bad}, DefaultJitOptions)
	var unknown *UnknownNodeKindError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownNodeKindError, got %v", err)
	}
}

func TestJit_IdentifierNotFound(t *testing.T) {
	bad := &AstNode{NodeID: "n", Type: NodeIdentifier, Group: GroupName, VarIDFrom: "ghost", VarIDTo: "v"}
	_, err := JitCompile([]*AstNode{bad}, DefaultJitOptions)
	var notFound *IdentifierNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected IdentifierNotFoundError, got %v", err)
	}
}

func TestJit_Registry(t *testing.T) {
	_, jf := jitRun(t, "Fn Main: Return 7; End Fn", DefaultJitOptions)
	registry := NewJitRegistry()
	entry := registry.Register("Main", jf)
	if registry.Lookup("Main") == nil {
		t.Fatalf("lookup failed")
	}
	if got := registry.SymbolAt(entry.Addr + 4); got == nil || got.Name != "Main" {
		t.Fatalf("symbolization failed: %v", got)
	}
	if got := registry.SymbolAt(entry.Addr + uintptr(entry.CodeSize)); got != nil {
		t.Fatalf("address past the routine resolved to %v", got.Name)
	}
}

// --- encoder checks (no execution) ---

func newTestWriter(buf []byte) *JITWriter {
	return &JITWriter{
		Ptr:   unsafe.Pointer(&buf[0]),
		Start: unsafe.Pointer(&buf[0]),
		End:   unsafe.Pointer(&buf[len(buf)-1]),
	}
}

func emitted(w *JITWriter, buf []byte) []byte {
	return buf[:w.pos()]
}

func TestEncode_SseRegReg(t *testing.T) {
	buf := make([]byte, 64)
	w := newTestWriter(buf)
	w.EmitMovsdXmmXmm(1, 2)
	w.EmitSseXmmXmm(sseAddsd, 0, 7)
	want := []byte{0xF2, 0x0F, 0x10, 0xCA, 0xF2, 0x0F, 0x58, 0xC7}
	if !bytes.Equal(emitted(w, buf), want) {
		t.Fatalf("got % X, want % X", emitted(w, buf), want)
	}
}

func TestEncode_SseMemDisp(t *testing.T) {
	buf := make([]byte, 64)
	w := newTestWriter(buf)
	w.EmitSseXmmConst(sseAddsd, 0, 0)  // addsd xmm0, [rcx]
	w.EmitSseXmmConst(sseMulsd, 3, 1)  // mulsd xmm3, [rcx+8]
	w.EmitSseXmmConst(sseDivsd, 2, 16) // divsd xmm2, [rcx+128] -> disp32
	want := []byte{
		0xF2, 0x0F, 0x58, 0x01,
		0xF2, 0x0F, 0x59, 0x59, 0x08,
		0xF2, 0x0F, 0x5E, 0x91, 0x80, 0x00, 0x00, 0x00,
	}
	if !bytes.Equal(emitted(w, buf), want) {
		t.Fatalf("got % X, want % X", emitted(w, buf), want)
	}
}

func TestEncode_SpillUsesSib(t *testing.T) {
	buf := make([]byte, 64)
	w := newTestWriter(buf)
	w.EmitSpillStore(0, 5) // movq [rsp], xmm5
	w.EmitSpillLoad(6, 20) // movq xmm6, [rsp+160] -> disp32
	want := []byte{
		0x66, 0x0F, 0xD6, 0x2C, 0x24,
		0xF3, 0x0F, 0x7E, 0xB4, 0x24, 0xA0, 0x00, 0x00, 0x00,
	}
	if !bytes.Equal(emitted(w, buf), want) {
		t.Fatalf("got % X, want % X", emitted(w, buf), want)
	}
}

func TestEncode_Prologue(t *testing.T) {
	buf := make([]byte, 64)
	w := newTestWriter(buf)
	w.EmitMovabsRax(0x1122334455667788)
	w.EmitMovRegReg(RegRCX, RegRAX)
	w.EmitPushReg(RegRBP)
	w.EmitMovRegReg(RegRBP, RegRSP)
	w.EmitSubRspImm32(0x10)
	want := []byte{
		0x48, 0xB8, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11,
		0x48, 0x89, 0xC1,
		0x55,
		0x48, 0x89, 0xE5,
		0x48, 0x81, 0xEC, 0x10, 0x00, 0x00, 0x00,
	}
	if !bytes.Equal(emitted(w, buf), want) {
		t.Fatalf("got % X, want % X", emitted(w, buf), want)
	}
}

func TestEncode_CompareAndBranches(t *testing.T) {
	buf := make([]byte, 64)
	w := newTestWriter(buf)
	w.EmitUcomisdXmmXmm(1, 3)
	w.EmitPxorXmmXmm(2, 2)
	taken := w.ReserveLabel()
	w.EmitJcc8(ccB, taken)
	w.MarkLabel(taken)
	w.ResolveFixups()
	want := []byte{
		0x66, 0x0F, 0x2E, 0xCB,
		0x66, 0x0F, 0xEF, 0xD2,
		0x72, 0x00,
	}
	if !bytes.Equal(emitted(w, buf), want) {
		t.Fatalf("got % X, want % X", emitted(w, buf), want)
	}
}

func TestEncode_BackwardJmp32(t *testing.T) {
	buf := make([]byte, 64)
	w := newTestWriter(buf)
	top := w.DefineLabel()
	w.EmitRet() // 1 byte of loop body stand-in
	w.EmitJmp32(top)
	w.ResolveFixups()
	got := emitted(w, buf)
	// E9 at offset 1, displacement spans [2,6), next instruction at 6,
	// target 0 -> displacement -6
	want := []byte{0xC3, 0xE9, 0xFA, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % X, want % X", got, want)
	}
}

func TestEncode_ShortBranchOutOfRange(t *testing.T) {
	buf := make([]byte, 1024)
	w := newTestWriter(buf)
	target := w.ReserveLabel()
	w.EmitJmp8(target)
	for i := 0; i < 200; i++ {
		w.EmitRet()
	}
	w.MarkLabel(target)
	err := func() (err error) {
		defer recoverError(&err)
		w.ResolveFixups()
		return nil
	}()
	var rangeErr *EncodingRangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("expected EncodingRangeError, got %v", err)
	}
}

// for every resolved rel32, displacement + end-of-displacement address
// must equal the label target
func TestEncode_PatchArithmetic(t *testing.T) {
	buf := make([]byte, 64)
	w := newTestWriter(buf)
	exit := w.ReserveLabel()
	w.EmitJz32(exit)
	w.EmitRet()
	w.EmitRet()
	w.MarkLabel(exit)
	w.ResolveFixups()
	got := emitted(w, buf)
	disp := int32(uint32(got[2]) | uint32(got[3])<<8 | uint32(got[4])<<16 | uint32(got[5])<<24)
	if int(disp)+6 != len(got) {
		t.Fatalf("displacement %d does not land on the label (code len %d)", disp, len(got))
	}
}
