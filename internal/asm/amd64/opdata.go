package amd64

import (
	"fmt"

	"github.com/tinyrange/rasm/internal/asm"
)

// Flags select how a variant is encoded.
type Flags uint32

const (
	FlagVEX      Flags = 0x1     // VEX prefix; Ops[0] is the opcode map
	FlagXOP      Flags = 0x2     // XOP prefix; Ops[0] is the opcode map
	FlagAutoSize Flags = 0x4     // '*' is 16/32/64-bit: 0x66 or REX.W as needed
	FlagAutoNo32 Flags = 0x8     // '*' is 16/64-bit, 64-bit is the default
	FlagAutoREXW Flags = 0x10    // '*' is 32/64-bit selected by REX.W/VEX.W
	FlagAutoVEXL Flags = 0x20    // '*' is 128/256-bit selected by VEX.L
	FlagWordSize Flags = 0x40    // always 16-bit operand size
	FlagWithREXW Flags = 0x80    // always REX.W/VEX.W
	FlagWithVEXL Flags = 0x100   // always VEX.L
	FlagPref67   Flags = 0x200   // address size prefix
	FlagPrefF0   Flags = 0x400   // mandatory 0xF0
	FlagPrefF2   Flags = 0x800   // mandatory 0xF2
	FlagPrefF3   Flags = 0x1000  // mandatory 0xF3
	FlagLock     Flags = 0x2000  // lock prefix allowed
	FlagRep      Flags = 0x4000  // rep prefix allowed
	FlagRepe     Flags = 0x8000  // repe/repne prefixes allowed
	FlagShortArg Flags = 0x10000 // register is added to the last opcode byte
	FlagEncMR    Flags = 0x20000 // first operand goes in ModRM.rm
	FlagEncVM    Flags = 0x40000 // operands are reg, rm, vvvv

	// FlagPref66 is the mandatory 0x66 prefix of SSE encodings.
	FlagPref66 = FlagWordSize
)

func (f Flags) has(flag Flags) bool { return f&flag != 0 }

// NoReg marks a variant without a ModRM opcode extension.
const NoReg uint8 = 0xFF

// Opdata is one encoding variant of a mnemonic.
//
// Args is a list of two-character operand specs. The first character is the
// operand kind:
//
//	i immediate        o relative jump offset
//	r legacy register  m memory
//	v legacy register or memory
//	f x87 register     x mmx register       y xmm/ymm register
//	u mmx or memory    w xmm/ymm or memory
//	s segment register c control register  d debug register
//	A-P fixed legacy register 0-15 (not encoded)
//	Q-V fixed segment register ES-GS
//	W   CR8            X ST0
//
// The second character is the size: b w d q p o h for 1, 2, 4, 8, 10, 16 and
// 32 bytes, '*' for the variant's operand size and '?' for any size.
type Opdata struct {
	Args  string
	Ops   []byte
	Reg   uint8
	Flags Flags
}

// VariantTable maps a mnemonic to its candidate variants in priority order.
type VariantTable map[string][]Opdata

// Lookup returns the variants for a mnemonic.
func (t VariantTable) Lookup(mnemonic string) ([]Opdata, bool) {
	v, ok := t[mnemonic]
	return v, ok
}

// Clone returns a copy of the table that can be extended independently.
func (t VariantTable) Clone() VariantTable {
	out := make(VariantTable, len(t))
	for k, v := range t {
		out[k] = append([]Opdata(nil), v...)
	}
	return out
}

type argSpec struct {
	kind byte
	size byte
}

func (o Opdata) specs() ([]argSpec, error) {
	if len(o.Args)%2 != 0 {
		return nil, fmt.Errorf("malformed operand spec %q", o.Args)
	}
	out := make([]argSpec, 0, len(o.Args)/2)
	for i := 0; i < len(o.Args); i += 2 {
		out = append(out, argSpec{kind: o.Args[i], size: o.Args[i+1]})
	}
	return out, nil
}

func (o Opdata) String() string {
	return fmt.Sprintf("{%s % x /%d 0x%x}", o.Args, o.Ops, o.Reg, uint32(o.Flags))
}

func specSize(c byte) (asm.Size, bool) {
	switch c {
	case 'b':
		return asm.BYTE, true
	case 'w':
		return asm.WORD, true
	case 'd':
		return asm.DWORD, true
	case 'q':
		return asm.QWORD, true
	case 'p':
		return asm.PWORD, true
	case 'o':
		return asm.OWORD, true
	case 'h':
		return asm.HWORD, true
	}
	return 0, false
}

// fixedRegister resolves the uppercase fixed-register kinds.
func fixedRegister(kind byte) (RegId, bool) {
	switch {
	case kind >= 'A' && kind <= 'P':
		return RegId(kind - 'A'), true
	case kind >= 'Q' && kind <= 'V':
		return RegES + RegId(kind-'Q'), true
	case kind == 'W':
		return RegCR0 + 8, true
	case kind == 'X':
		return RegST0, true
	}
	return 0, false
}

func isFixed(kind byte) bool {
	_, ok := fixedRegister(kind)
	return ok
}

// encodable reports whether the operand kind occupies a ModRM, VEX.vvvv or
// short-form register field.
func encodable(kind byte) bool {
	switch kind {
	case 'r', 'm', 'v', 'f', 'x', 'y', 'u', 'w', 's', 'c', 'd':
		return true
	}
	return false
}

func familyFits(kind byte, reg Register) bool {
	fam := reg.Family()
	switch kind {
	case 'r', 'v':
		return fam == FamilyLegacy || (fam == FamilyHighByte && reg.Size == asm.BYTE)
	case 'f':
		return fam == FamilyFP
	case 'x', 'u':
		return fam == FamilyMMX
	case 'y', 'w':
		return fam == FamilyXMM
	case 's':
		return fam == FamilySegment
	case 'c':
		return fam == FamilyControl
	case 'd':
		return fam == FamilyDebug
	}
	return false
}

// match describes a variant selected for a concrete argument list.
type match struct {
	data   Opdata
	specs  []argSpec
	opsize asm.Size
}

func (m *match) argSize(spec argSpec) asm.Size {
	if spec.size == '*' {
		return m.opsize
	}
	size, _ := specSize(spec.size)
	return size
}

// immSize is the width of the encoded immediate field for spec.
func (m *match) immSize(spec argSpec) asm.Size {
	size := m.argSize(spec)
	if spec.size == '*' && size == asm.QWORD {
		return asm.DWORD
	}
	return size
}

// immSignExtended reports whether the CPU sign-extends the immediate to the
// operand size.
func (m *match) immSignExtended(spec argSpec) bool {
	if m.opsize == 0 {
		return false
	}
	return m.immSize(spec) < m.opsize
}

func (o Opdata) autoSizes() []asm.Size {
	switch {
	case o.Flags.has(FlagAutoSize):
		return []asm.Size{asm.WORD, asm.DWORD, asm.QWORD}
	case o.Flags.has(FlagAutoNo32):
		return []asm.Size{asm.WORD, asm.QWORD}
	case o.Flags.has(FlagAutoREXW):
		return []asm.Size{asm.DWORD, asm.QWORD}
	case o.Flags.has(FlagAutoVEXL):
		return []asm.Size{asm.OWORD, asm.HWORD}
	}
	return nil
}

// matchVariant checks whether args satisfy the variant's operand shape and
// resolves its operand size.
func matchVariant(data Opdata, args []Arg) (*match, bool) {
	specs, err := data.specs()
	if err != nil || len(specs) != len(args) {
		return nil, false
	}

	m := &match{data: data, specs: specs}

	hasRegister := false
	for _, arg := range args {
		if _, ok := arg.(Register); ok {
			hasRegister = true
		}
	}

	// Resolve '*' from registers and sized memory operands.
	for i, spec := range specs {
		if spec.size != '*' {
			continue
		}
		var size asm.Size
		switch a := args[i].(type) {
		case Register:
			size = a.Size
		case MemoryRef:
			size = a.Size
		case IndirectJump:
			size = a.Size
		}
		if size == 0 {
			continue
		}
		if m.opsize != 0 && m.opsize != size {
			return nil, false
		}
		m.opsize = size
	}

	if autos := data.autoSizes(); autos != nil && containsStar(specs) {
		if m.opsize == 0 {
			if !data.Flags.has(FlagAutoNo32) {
				return nil, false
			}
			m.opsize = asm.QWORD
		}
		if !containsSize(autos, m.opsize) {
			return nil, false
		}
	} else if containsStar(specs) && m.opsize == 0 {
		return nil, false
	}

	for i, spec := range specs {
		if !m.argMatches(spec, args[i], hasRegister) {
			return nil, false
		}
	}
	return m, true
}

func (m *match) argMatches(spec argSpec, arg Arg, hasRegister bool) bool {
	want := m.argSize(spec)
	anySize := spec.size == '?'

	if id, ok := fixedRegister(spec.kind); ok {
		reg, isReg := arg.(Register)
		if !isReg || !reg.Is(id) {
			return false
		}
		return anySize || reg.Size == want
	}

	switch a := arg.(type) {
	case Register:
		switch spec.kind {
		case 'r', 'v', 'f', 'x', 'u', 's', 'c', 'd':
		case 'y':
		case 'w':
			if !anySize && want < asm.OWORD {
				return familyFits(spec.kind, a) && a.Size == asm.OWORD
			}
		default:
			return false
		}
		if !familyFits(spec.kind, a) {
			return false
		}
		return anySize || a.Size == want

	case MemoryRef:
		return memoryMatches(spec, a.Size, want, anySize, hasRegister)

	case IndirectJump:
		return memoryMatches(spec, a.Size, want, anySize, hasRegister)

	case Immediate:
		if spec.kind != 'i' {
			return false
		}
		enc := m.immSize(spec)
		if enc == 0 {
			return false
		}
		if a.Size != 0 && a.Size != enc {
			return false
		}
		if m.immSignExtended(spec) {
			return a.Value.FitsSigned(enc)
		}
		return a.Value.Fits(enc)

	case Jump:
		if spec.kind != 'o' {
			return false
		}
		return a.Size == 0 || a.Size == want

	default:
		return false
	}
}

func memoryMatches(spec argSpec, size, want asm.Size, anySize, hasRegister bool) bool {
	switch spec.kind {
	case 'm', 'v', 'u', 'w':
	default:
		return false
	}
	if anySize {
		return true
	}
	if size == 0 {
		// An unsized memory operand takes its width from a register operand.
		return hasRegister || spec.size == '*'
	}
	return size == want
}

func containsStar(specs []argSpec) bool {
	for _, s := range specs {
		if s.size == '*' {
			return true
		}
	}
	return false
}

func containsSize(sizes []asm.Size, size asm.Size) bool {
	for _, s := range sizes {
		if s == size {
			return true
		}
	}
	return false
}
