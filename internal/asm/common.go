package asm

import (
	"fmt"
	"math"
)

// Size is an operand width in bytes.
type Size uint8

const (
	BYTE  Size = 1
	WORD  Size = 2
	DWORD Size = 4
	QWORD Size = 8
	PWORD Size = 10
	OWORD Size = 16
	HWORD Size = 32
)

// InBytes returns the width in bytes. The zero Size reports 0 and means
// "no explicit size".
func (s Size) InBytes() int { return int(s) }

func (s Size) String() string {
	switch s {
	case 0:
		return "unsized"
	case BYTE:
		return "BYTE"
	case WORD:
		return "WORD"
	case DWORD:
		return "DWORD"
	case QWORD:
		return "QWORD"
	case PWORD:
		return "PWORD"
	case OWORD:
		return "OWORD"
	case HWORD:
		return "HWORD"
	default:
		return fmt.Sprintf("Size(%d)", uint8(s))
	}
}

// ImmediateValue is a tagged 64-bit constant, either signed or unsigned.
type ImmediateValue struct {
	bits     uint64
	unsigned bool
}

// I64 constructs a signed immediate.
func I64(v int64) ImmediateValue { return ImmediateValue{bits: uint64(v)} }

// U64 constructs an unsigned immediate.
func U64(v uint64) ImmediateValue { return ImmediateValue{bits: v, unsigned: true} }

func (v ImmediateValue) IsUnsigned() bool { return v.unsigned }
func (v ImmediateValue) Int64() int64     { return int64(v.bits) }
func (v ImmediateValue) Uint64() uint64   { return v.bits }

// FitsSigned reports whether the value can be represented as a sign-extended
// field of the given width.
func (v ImmediateValue) FitsSigned(size Size) bool {
	if v.unsigned {
		return v.bits <= uint64(signedMax(size))
	}
	x := int64(v.bits)
	return x >= signedMin(size) && x <= signedMax(size)
}

// Fits reports whether the value can be stored in a field of the given width
// when either a signed or an unsigned interpretation is acceptable.
func (v ImmediateValue) Fits(size Size) bool {
	if size >= QWORD {
		return true
	}
	if v.unsigned {
		return v.bits <= unsignedMax(size)
	}
	x := int64(v.bits)
	return x >= signedMin(size) && (x < 0 || uint64(x) <= unsignedMax(size))
}

func (v ImmediateValue) String() string {
	if v.unsigned {
		return fmt.Sprintf("U64(%d)", v.bits)
	}
	return fmt.Sprintf("I64(%d)", int64(v.bits))
}

func signedMin(size Size) int64 {
	if size >= QWORD {
		return math.MinInt64
	}
	return -1 << (8*uint(size) - 1)
}

func signedMax(size Size) int64 {
	if size >= QWORD {
		return math.MaxInt64
	}
	return 1<<(8*uint(size)-1) - 1
}

func unsignedMax(size Size) uint64 {
	if size >= QWORD {
		return math.MaxUint64
	}
	return 1<<(8*uint(size)) - 1
}

// ExportedFunction is a global label and its offset in the code buffer.
type ExportedFunction struct {
	Offset uint32
	Name   string
}

// ObjectFile is the resolved output of an assembly run.
type ObjectFile struct {
	Code      []byte
	Functions []ExportedFunction
}

// Function looks up an exported function by name.
func (o ObjectFile) Function(name string) (ExportedFunction, bool) {
	for _, fn := range o.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return ExportedFunction{}, false
}

// Clone returns a deep copy of the object file.
func (o ObjectFile) Clone() ObjectFile {
	return ObjectFile{
		Code:      append([]byte(nil), o.Code...),
		Functions: append([]ExportedFunction(nil), o.Functions...),
	}
}
