package asm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestResolveConstAndVar(t *testing.T) {
	b := NewBuffer(nil)
	b.Push(
		Const(0xAA),
		Var{Value: I64(-1), Size: BYTE},
		Var{Value: I64(0x1234), Size: WORD},
		Var{Value: I64(-2), Size: DWORD},
		Var{Value: U64(0x1122334455667788), Size: QWORD},
		Var{Value: U64(0x7f), Size: BYTE},
	)

	obj := b.Dump()

	want := []byte{
		0xAA,
		0xFF,
		0x34, 0x12,
		0xFE, 0xFF, 0xFF, 0xFF,
		0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11,
		0x7F,
	}
	if !bytes.Equal(obj.Code, want) {
		t.Fatalf("code=% x, want % x", obj.Code, want)
	}
	if len(obj.Functions) != 0 {
		t.Fatalf("functions=%v, want none", obj.Functions)
	}
}

func TestResolveVarTruncates(t *testing.T) {
	b := NewBuffer(nil)
	b.Push(Var{Value: I64(0x1FF), Size: BYTE}, Var{Value: I64(-129), Size: DWORD})

	obj := b.Dump()
	want := []byte{0xFF, 0x7F, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(obj.Code, want) {
		t.Fatalf("code=% x, want % x", obj.Code, want)
	}
}

func TestResolveForwardJump(t *testing.T) {
	const target JumpTarget = 99

	b := NewBuffer(nil)
	b.Push(Const(0xE9), Var{Value: I64(0), Size: DWORD}, ForwardJumpTarget{Target: target, Size: DWORD})
	const p = 5
	b.PushBytes([]byte{0x90, 0x90, 0x90})
	const n = 8
	b.Push(LocalLabel(target), Const(0xC3))

	obj := b.Dump()
	got := int32(binary.LittleEndian.Uint32(obj.Code[p-4 : p]))
	if got != n-p {
		t.Fatalf("displacement=%d, want %d", got, n-p)
	}
}

func TestResolveBackwardJump(t *testing.T) {
	const target JumpTarget = 7

	b := NewBuffer(nil)
	b.Push(Const(0x90), LocalLabel(target), Const(0x90), Const(0x90))
	b.Push(Const(0xE9), Var{Value: I64(0), Size: DWORD}, ForwardJumpTarget{Target: target, Size: DWORD})

	obj := b.Dump()
	if got, want := int32(binary.LittleEndian.Uint32(obj.Code[4:8])), int32(1-8); got != want {
		t.Fatalf("displacement=%d, want %d", got, want)
	}
}

func TestResolveGlobalLabels(t *testing.T) {
	b := NewBuffer(nil)
	b.Push(GlobalLabel("first"), Const(0xC3), Const(0x90), GlobalLabel("second"), Const(0xC3))

	obj := b.Dump()
	want := []ExportedFunction{{Offset: 0, Name: "first"}, {Offset: 2, Name: "second"}}
	if len(obj.Functions) != len(want) {
		t.Fatalf("functions=%v, want %v", obj.Functions, want)
	}
	for i := range want {
		if obj.Functions[i] != want[i] {
			t.Fatalf("functions[%d]=%v, want %v", i, obj.Functions[i], want[i])
		}
	}
	fn, ok := obj.Function("second")
	if !ok || fn.Offset != 2 {
		t.Fatalf("Function(second)=%v,%v", fn, ok)
	}
}

func TestResolveUnresolvedLabel(t *testing.T) {
	b := NewBuffer(nil)
	b.Push(Var{Value: I64(0), Size: DWORD}, ForwardJumpTarget{Target: 1234, Size: DWORD})

	_, err := b.Resolve()
	if !errors.Is(err, ErrUnresolvedLabel) {
		t.Fatalf("err=%v, want %v", err, ErrUnresolvedLabel)
	}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("Dump did not panic")
		}
		if err, ok := r.(error); !ok || !errors.Is(err, ErrUnresolvedLabel) {
			t.Fatalf("panic=%v, want %v", r, ErrUnresolvedLabel)
		}
	}()
	b.Dump()
}

func TestResolveUnsupportedJumpSize(t *testing.T) {
	b := NewBuffer(nil)
	b.Push(Var{Value: I64(0), Size: BYTE}, ForwardJumpTarget{Target: 1, Size: BYTE}, LocalLabel(1))

	if _, err := b.Resolve(); !errors.Is(err, ErrUnimplementedJumpSize) {
		t.Fatalf("err=%v, want %v", err, ErrUnimplementedJumpSize)
	}
}

func TestResolveUnsupportedVarSize(t *testing.T) {
	b := NewBuffer(nil)
	b.Push(Var{Value: I64(0), Size: OWORD})

	if _, err := b.Resolve(); !errors.Is(err, ErrUnimplementedStatement) {
		t.Fatalf("err=%v, want %v", err, ErrUnimplementedStatement)
	}
}

func TestResolveAlign(t *testing.T) {
	for _, k := range []uint64{1, 2, 4, 8, 16} {
		for prefix := 0; prefix < 20; prefix++ {
			b := NewBuffer(nil)
			b.PushBytes(bytes.Repeat([]byte{0xCC}, prefix))
			b.Push(Align{Alignment: U64(k)})

			obj := b.Dump()
			if len(obj.Code)%int(k) != 0 {
				t.Fatalf("align %d after %d bytes: len=%d", k, prefix, len(obj.Code))
			}
			if pad := len(obj.Code) - prefix; pad < 0 || pad >= int(k) {
				t.Fatalf("align %d after %d bytes: pad=%d", k, prefix, pad)
			}
			for _, x := range obj.Code[prefix:] {
				if x != 0x90 {
					t.Fatalf("align %d after %d bytes: pad byte 0x%02x", k, prefix, x)
				}
			}
		}
	}
}

func TestResolveExcessiveAlignment(t *testing.T) {
	b := NewBuffer(nil)
	b.Push(Align{Alignment: U64(MaxAlignment)})
	if _, err := b.Resolve(); err != nil {
		t.Fatalf("align %d: %v", MaxAlignment, err)
	}

	b = NewBuffer(nil)
	b.Push(Align{Alignment: U64(MaxAlignment + 1)})
	if _, err := b.Resolve(); !errors.Is(err, ErrExcessiveAlignment) {
		t.Fatalf("err=%v, want %v", err, ErrExcessiveAlignment)
	}
}

func TestDumpDoesNotConsumeLog(t *testing.T) {
	b := NewBuffer(nil)
	b.Push(GlobalLabel("f"), Const(0xC3))

	first := b.Dump()
	second := b.Dump()
	if !bytes.Equal(first.Code, second.Code) || len(first.Functions) != len(second.Functions) {
		t.Fatalf("repeated Dump differs: %v vs %v", first, second)
	}
	if b.Len() != 2 {
		t.Fatalf("Len()=%d, want 2", b.Len())
	}
}

func TestImmediateFits(t *testing.T) {
	cases := []struct {
		v          ImmediateValue
		size       Size
		fits, sext bool
	}{
		{I64(-128), BYTE, true, true},
		{I64(-129), BYTE, false, false},
		{I64(255), BYTE, true, false},
		{U64(256), BYTE, false, false},
		{U64(0x7fffffff), DWORD, true, true},
		{U64(0xffffffff), DWORD, true, false},
		{I64(-1), QWORD, true, true},
	}
	for _, tc := range cases {
		if got := tc.v.Fits(tc.size); got != tc.fits {
			t.Fatalf("%s.Fits(%s)=%v, want %v", tc.v, tc.size, got, tc.fits)
		}
		if got := tc.v.FitsSigned(tc.size); got != tc.sext {
			t.Fatalf("%s.FitsSigned(%s)=%v, want %v", tc.v, tc.size, got, tc.sext)
		}
	}
}
