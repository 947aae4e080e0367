package amd64

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/tinyrange/rasm/internal/asm"
)

func expectCode(t *testing.T, code []byte, wantHex string) {
	t.Helper()
	want, err := hex.DecodeString(wantHex)
	if err != nil {
		t.Fatalf("invalid hex %q: %v", wantHex, err)
	}
	if !bytes.Equal(code, want) {
		t.Fatalf("unexpected code:\n got: %x\nwant: %x", code, want)
	}
}

func assemble(t *testing.T, build func(a *Assembler)) asm.ObjectFile {
	t.Helper()
	a := New()
	build(a)
	obj, err := a.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	return obj
}

func expectPanic(t *testing.T, fn func()) any {
	t.Helper()
	var recovered any
	func() {
		defer func() { recovered = recover() }()
		fn()
	}()
	if recovered == nil {
		t.Fatalf("expected panic")
	}
	return recovered
}

func TestCpuidAddByteImmediate(t *testing.T) {
	a := New()
	a.Global("probe")
	a.Cpuid()
	a.Add(BL, Imm(8))
	obj := a.Dump()

	expectCode(t, obj.Code, "0fa280c308")
	if len(obj.Functions) != 1 {
		t.Fatalf("functions=%d, want 1", len(obj.Functions))
	}
	if got, want := obj.Functions[0], (asm.ExportedFunction{Offset: 0, Name: "probe"}); got != want {
		t.Fatalf("function=%+v, want %+v", got, want)
	}
}

func TestEncodeIntegerForms(t *testing.T) {
	for _, tc := range []struct {
		name  string
		build func(a *Assembler)
		want  string
	}{
		{"mov_imm32", func(a *Assembler) { a.Mov(RAX, Imm(5)) }, "48c7c005000000"},
		{"mov_imm64", func(a *Assembler) { a.Mov(RAX, Imm(0x1122334455667788)) }, "48b88877665544332211"},
		{"mov_reg_reg", func(a *Assembler) { a.Mov(R9, R10) }, "4d89d1"},
		{"mov_reg32", func(a *Assembler) { a.Mov(EAX, ECX) }, "89c8"},
		{"mov_reg16", func(a *Assembler) { a.Mov(AX, CX) }, "6689c8"},
		{"mov_store_rsp", func(a *Assembler) { a.Mov(RSP.ValueAtOffset(0x28), RAX) }, "4889442428"},
		{"mov_load_rbp", func(a *Assembler) { a.Mov(RAX, RBP.ValueAt()) }, "488b4500"},
		{"mov_load_r13", func(a *Assembler) { a.Mov(R12, R13.ValueAt()) }, "4d8b6500"},
		{"mov_load_r12", func(a *Assembler) { a.Mov(RAX, R12.ValueAt()) }, "498b0424"},
		{"mov_disp32", func(a *Assembler) { a.Mov(RBX, RSI.ValueAtOffset(0x1000)) }, "488b9e00100000"},
		{"mov_sib", func(a *Assembler) { a.Mov(RAX, MemIndex(RBX.Register(), RCX.Register(), 8).WithDisp(16)) }, "488b44cb10"},
		{"mov_sil", func(a *Assembler) { a.Mov(SIL, AL) }, "4088c6"},
		{"mov_byte_store", func(a *Assembler) { a.Mov(RDX.ValueAtOffset(5).Sized(asm.BYTE), Imm(0x7f)) }, "c642057f"},
		{"mov_from_sreg", func(a *Assembler) { a.Mov(AX, DS) }, "668cd8"},
		{"mov_store_sreg", func(a *Assembler) { a.Mov(RAX.ValueAt(), DS) }, "8c18"},
		{"mov_to_sreg", func(a *Assembler) { a.Mov(DS, AX) }, "8ed8"},
		{"add_rax_imm8", func(a *Assembler) { a.Add(RCX, Imm(0x7f)) }, "4883c17f"},
		{"add_rax_imm32", func(a *Assembler) { a.Add(RAX, Imm(0x80)) }, "480580000000"},
		{"sub_reg_reg", func(a *Assembler) { a.Sub(R13, R12) }, "4d29e5"},
		{"xor_reg32", func(a *Assembler) { a.Xor(EAX, EAX) }, "31c0"},
		{"cmp_imm8", func(a *Assembler) { a.Cmp(R9, Imm(0x44)) }, "4983f944"},
		{"push_rbp", func(a *Assembler) { a.Push(RBP) }, "55"},
		{"push_r12", func(a *Assembler) { a.Push(R12) }, "4154"},
		{"pop_r15", func(a *Assembler) { a.Pop(R15) }, "415f"},
		{"lea", func(a *Assembler) { a.Lea(RAX, RDI.ValueAtOffset(8)) }, "488d4708"},
		{"movzx", func(a *Assembler) { a.Movzx(EAX, BL) }, "0fb6c3"},
		{"shl_imm", func(a *Assembler) { a.Shl(RCX, Imm(3)) }, "48c1e103"},
		{"shr_cl", func(a *Assembler) { a.Shr(RDX, CL) }, "48d3ea"},
		{"imul3", func(a *Assembler) { a.Imul(RAX, RCX, Imm(3)) }, "486bc103"},
		{"inc_mem", func(a *Assembler) { a.Inc(RAX.ValueAt().Sized(asm.DWORD)) }, "ff00"},
		{"call_reg", func(a *Assembler) { a.Call(R11) }, "41ffd3"},
		{"ret", func(a *Assembler) { a.Ret() }, "c3"},
		{"syscall", func(a *Assembler) { a.Syscall() }, "0f05"},
		{"cqo", func(a *Assembler) { a.Cqo() }, "4899"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			obj := assemble(t, tc.build)
			expectCode(t, obj.Code, tc.want)
		})
	}
}

func TestEncodeVectorForms(t *testing.T) {
	for _, tc := range []struct {
		name  string
		build func(a *Assembler)
		want  string
	}{
		{"movaps", func(a *Assembler) { a.Movaps(XMM1, XMM2) }, "0f28ca"},
		{"addsd", func(a *Assembler) { a.Addsd(XMM0, XMM9) }, "f2410f58c1"},
		{"pxor", func(a *Assembler) { a.Pxor(XMM3, XMM3) }, "660fefdb"},
		{"vaddps_ymm", func(a *Assembler) { a.Vaddps(YMM0, YMM1, YMM2) }, "c5f458c2"},
		{"vaddps_xmm", func(a *Assembler) { a.Vaddps(XMM0, XMM1, XMM2) }, "c5f058c2"},
		{"vpxor_ext", func(a *Assembler) { a.Vpxor(YMM8, YMM1, YMM10) }, "c44175efc2"},
		{"vzeroupper", func(a *Assembler) { a.Vzeroupper() }, "c5f877"},
		{"andn", func(a *Assembler) { a.Inst("andn", EAX, EBX, ECX) }, "c4e260f2c1"},
		{"andn64", func(a *Assembler) { a.Inst("andn", RAX, RBX, RCX) }, "c4e2e0f2c1"},
		{"shlx", func(a *Assembler) { a.Inst("shlx", EAX, EBX, ECX) }, "c4e271f7c3"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			obj := assemble(t, tc.build)
			expectCode(t, obj.Code, tc.want)
		})
	}
}

func TestLockPrefix(t *testing.T) {
	obj := assemble(t, func(a *Assembler) {
		a.WithPrefixes("lock").Add(RAX.ValueAt(), EBX)
		a.Add(RAX.ValueAt(), EBX)
	})
	expectCode(t, obj.Code, "f001180118")
}

func TestInvalidPrefix(t *testing.T) {
	a := New()
	err := a.WithPrefixes("lock").Encode("mov", RAX, RBX)
	if !errors.Is(err, ErrInvalidPrefix) {
		t.Fatalf("err=%v, want %v", err, ErrInvalidPrefix)
	}
	if err := a.Encode("mov", RAX, RBX); err != nil {
		t.Fatalf("prefixes leaked into the next instruction: %v", err)
	}
}

func TestEncodeErrors(t *testing.T) {
	a := New()
	if err := a.Encode("frobnicate"); !errors.Is(err, ErrUnknownMnemonic) {
		t.Fatalf("err=%v, want %v", err, ErrUnknownMnemonic)
	}
	if err := a.Encode("mov", RAX, EBX); !errors.Is(err, ErrNoMatchingVariant) {
		t.Fatalf("err=%v, want %v", err, ErrNoMatchingVariant)
	}
	if err := a.Encode("mov", AH, SIL); !errors.Is(err, ErrInvalidOperand) {
		t.Fatalf("err=%v, want %v", err, ErrInvalidOperand)
	}
	if err := a.Encode("mov", RAX, MemIndex(RBX.Register(), RSP.Register(), 1)); !errors.Is(err, ErrInvalidOperand) {
		t.Fatalf("err=%v, want %v", err, ErrInvalidOperand)
	}
	if a.Len() != 0 {
		t.Fatalf("failed encodes appended %d statements", a.Len())
	}

	recovered := expectPanic(t, func() { a.Inst("mov", RAX, EBX) })
	err, ok := recovered.(error)
	if !ok || !errors.Is(err, ErrNoMatchingVariant) {
		t.Fatalf("panic=%v, want %v", recovered, ErrNoMatchingVariant)
	}
}

func TestForwardAndBackwardLabels(t *testing.T) {
	obj := assemble(t, func(a *Assembler) {
		a.Label("top")
		a.Nop()
		a.Jne(Forward("out"))
		a.Jmp(Backward("top"))
		a.Label("out")
		a.Ret()
	})
	// nop; jne +5; jmp -12; ret
	expectCode(t, obj.Code, "900f8505000000e9f4ffffffc3")
}

func TestForwardReferencesShareTarget(t *testing.T) {
	obj := assemble(t, func(a *Assembler) {
		a.Jmp(Forward("done"))
		a.Jmp(Forward("done"))
		a.Label("done")
		a.Label("done")
		a.Ret()
	})
	expectCode(t, obj.Code, "e905000000e900000000c3")
}

func TestBackwardUnknownLabel(t *testing.T) {
	a := New()
	if err := a.Encode("jmp", Backward("missing")); !errors.Is(err, ErrUnknownLabel) {
		t.Fatalf("err=%v, want %v", err, ErrUnknownLabel)
	}
}

func TestUnplacedForwardLabel(t *testing.T) {
	a := New()
	a.Jmp(Forward("never"))
	if _, err := a.Resolve(); !errors.Is(err, asm.ErrUnresolvedLabel) {
		t.Fatalf("err=%v, want %v", err, asm.ErrUnresolvedLabel)
	}
	expectPanic(t, func() { a.Dump() })
}

func TestGlobalCalls(t *testing.T) {
	a := New()
	a.Global("outer")
	a.Call(Global("inner"))
	a.Ret()
	a.Global("inner")
	a.Mov(EAX, Imm(1))
	a.Ret()
	obj := a.Dump()

	expectCode(t, obj.Code, "e801000000c3b801000000c3")
	want := []asm.ExportedFunction{{Offset: 0, Name: "outer"}, {Offset: 6, Name: "inner"}}
	if len(obj.Functions) != len(want) {
		t.Fatalf("functions=%v, want %v", obj.Functions, want)
	}
	for i := range want {
		if obj.Functions[i] != want[i] {
			t.Fatalf("function %d=%+v, want %+v", i, obj.Functions[i], want[i])
		}
	}
}

func TestDuplicateGlobalPanics(t *testing.T) {
	a := New()
	a.Global("f")
	recovered := expectPanic(t, func() { a.Global("f") })
	if err, ok := recovered.(error); !ok || !errors.Is(err, ErrDuplicateGlobal) {
		t.Fatalf("panic=%v, want %v", recovered, ErrDuplicateGlobal)
	}
}

func TestLocalTargets(t *testing.T) {
	obj := assemble(t, func(a *Assembler) {
		data := a.AllocateLocal()
		a.Lea(RAX, RipRelative(data))
		a.Ret()
		a.PlaceLocal(data)
		a.Constant([]byte{1, 2})
	})
	expectCode(t, obj.Code, "488d0501000000c30102")

	obj = assemble(t, func(a *Assembler) {
		loop := a.Local()
		a.Dec(ECX)
		a.Jmp(RipNonRelative(loop))
	})
	expectCode(t, obj.Code, "ffc9e9f9ffffff")
}

func TestAllocateLocalUnique(t *testing.T) {
	a := New()
	seen := make(map[asm.JumpTarget]bool)
	for i := 0; i < 10000; i++ {
		target := a.AllocateLocal()
		if seen[target] {
			t.Fatalf("allocation %d repeated target %d", i, target)
		}
		seen[target] = true
	}
}

func TestAlignPadsWithNops(t *testing.T) {
	obj := assemble(t, func(a *Assembler) {
		a.Ret()
		a.Align(8)
		a.Global("next")
		a.Ret()
	})
	expectCode(t, obj.Code, "c390909090909090c3")
	if got, want := obj.Functions[0].Offset, uint32(8); got != want {
		t.Fatalf("offset=%d, want %d", got, want)
	}
}

func TestEncodeIntoBuffer(t *testing.T) {
	buf := asm.NewBuffer(nil)
	if err := Encode(buf, "ret", nil, nil, DefaultTable["ret"]); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := Encode(buf, "jmp", nil, Collect(Forward("x")), DefaultTable["jmp"]); !errors.Is(err, ErrInvalidOperand) {
		t.Fatalf("err=%v, want %v", err, ErrInvalidOperand)
	}
	expectCode(t, buf.Dump().Code, "c3")
}

func TestCustomVariantTable(t *testing.T) {
	table := VariantTable{
		"trap": {{Args: "", Ops: []byte{0x0F, 0x0B}, Reg: NoReg}},
	}
	a := NewWithTable(table)
	a.Inst("trap")
	if err := a.Encode("ret"); !errors.Is(err, ErrUnknownMnemonic) {
		t.Fatalf("err=%v, want %v", err, ErrUnknownMnemonic)
	}
	expectCode(t, a.Dump().Code, "0f0b")

	extended := DefaultTable.Clone()
	extended["trap"] = table["trap"]
	if _, ok := DefaultTable.Lookup("trap"); ok {
		t.Fatalf("Clone shares storage with DefaultTable")
	}
	b := NewWithTable(extended)
	b.Inst("trap")
	b.Ret()
	expectCode(t, b.Dump().Code, "0f0bc3")
}

func TestCollectOperands(t *testing.T) {
	args := Collect(RAX, None(), Some(Imm(1)), Tuple{RBX, Some(EAX), None()}, nil)
	if got, want := len(args), 4; got != want {
		t.Fatalf("len(args)=%d, want %d", got, want)
	}
	if got, want := args[0], Arg(RAX.Register()); got != want {
		t.Fatalf("args[0]=%v, want %v", got, want)
	}
	if got, want := args[3], Arg(EAX.Register()); got != want {
		t.Fatalf("args[3]=%v, want %v", got, want)
	}
	if _, ok := args[1].(Immediate); !ok {
		t.Fatalf("args[1]=%T, want Immediate", args[1])
	}
}

func TestRegisterByName(t *testing.T) {
	for _, tc := range []struct {
		name string
		want Register
	}{
		{"rax", RAX.Register()},
		{"R9D", R9D.Register()},
		{"r9d", R9D.Register()},
		{"r0", RAX.Register()},
		{"r12b", R12B.Register()},
		{"ah", AH.Register()},
		{"xmm3", XMM3.Register()},
		{"ymm15", YMM15.Register()},
		{"cr0", CR0.Register()},
		{"dr7", DR7.Register()},
		{"fs", FS.Register()},
		{"st1", ST1.Register()},
	} {
		got, ok := RegisterByName(tc.name)
		if !ok {
			t.Fatalf("RegisterByName(%q) not found", tc.name)
		}
		if got != tc.want {
			t.Fatalf("RegisterByName(%q)=%v, want %v", tc.name, got, tc.want)
		}
	}
	if _, ok := RegisterByName("rzz"); ok {
		t.Fatalf("RegisterByName accepted an unknown name")
	}
	if got, want := R9D.Register().String(), "r9d"; got != want {
		t.Fatalf("String()=%q, want %q", got, want)
	}
	if got, want := CR3.Register().Size, asm.QWORD; got != want {
		t.Fatalf("cr3 size=%v, want %v", got, want)
	}
}
