package amd64

import (
	"fmt"
	"strings"

	"github.com/tinyrange/rasm/internal/asm"
)

// RegFamily classifies registers for prefix and validity rules.
type RegFamily uint8

const (
	FamilyLegacy RegFamily = iota
	FamilyRIP
	FamilyHighByte
	FamilyFP
	FamilyMMX
	FamilyXMM
	FamilySegment
	FamilyControl
	FamilyDebug
)

func (f RegFamily) String() string {
	switch f {
	case FamilyLegacy:
		return "legacy"
	case FamilyRIP:
		return "rip"
	case FamilyHighByte:
		return "highbyte"
	case FamilyFP:
		return "fp"
	case FamilyMMX:
		return "mmx"
	case FamilyXMM:
		return "xmm"
	case FamilySegment:
		return "segment"
	case FamilyControl:
		return "control"
	case FamilyDebug:
		return "debug"
	default:
		return fmt.Sprintf("RegFamily(%d)", uint8(f))
	}
}

// RegId is a physical register: the low nibble is the encoding code and the
// high nibble is the family.
type RegId uint8

const (
	RegRAX RegId = 0x00
	RegRCX RegId = 0x01
	RegRDX RegId = 0x02
	RegRBX RegId = 0x03
	RegRSP RegId = 0x04
	RegRBP RegId = 0x05
	RegRSI RegId = 0x06
	RegRDI RegId = 0x07
	RegR8  RegId = 0x08
	RegR9  RegId = 0x09
	RegR10 RegId = 0x0A
	RegR11 RegId = 0x0B
	RegR12 RegId = 0x0C
	RegR13 RegId = 0x0D
	RegR14 RegId = 0x0E
	RegR15 RegId = 0x0F

	RegRIP RegId = 0x15

	RegAH RegId = 0x24
	RegCH RegId = 0x25
	RegDH RegId = 0x26
	RegBH RegId = 0x27

	RegST0  RegId = 0x30
	RegMM0  RegId = 0x40
	RegXMM0 RegId = 0x50

	RegES RegId = 0x60
	RegCS RegId = 0x61
	RegSS RegId = 0x62
	RegDS RegId = 0x63
	RegFS RegId = 0x64
	RegGS RegId = 0x65

	RegCR0 RegId = 0x70
	RegDR0 RegId = 0x80
)

// Code returns the 4-bit register number used in ModRM, SIB, REX and VEX.
func (r RegId) Code() uint8 { return uint8(r) & 0xF }

// Family returns the register family.
func (r RegId) Family() RegFamily { return RegFamily(uint8(r) >> 4) }

// IsExtended reports whether encoding the register needs a REX/VEX extension
// bit.
func (r RegId) IsExtended() bool {
	switch r.Family() {
	case FamilyLegacy, FamilyXMM, FamilyControl, FamilyDebug:
		return r.Code() > 7
	}
	return false
}

func (RegId) regKind() {}

// RegKind identifies the register behind a Register. RegId is the only
// implementation; registers chosen at run time are not supported.
type RegKind interface {
	regKind()
}

// Register is a sized register reference.
type Register struct {
	Size asm.Size
	Kind RegKind
}

// NewRegister builds a register reference over a static RegId.
func NewRegister(size asm.Size, id RegId) Register {
	return Register{Size: size, Kind: id}
}

// IsZero reports whether r is the absent register.
func (r Register) IsZero() bool { return r.Kind == nil }

// ID returns the static register id.
func (r Register) ID() RegId {
	id, ok := r.Kind.(RegId)
	if !ok {
		panic(fmt.Sprintf("register kind %T has no static id", r.Kind))
	}
	return id
}

func (r Register) Family() RegFamily { return r.ID().Family() }
func (r Register) Code() uint8       { return r.ID().Code() }
func (r Register) IsExtended() bool  { return r.ID().IsExtended() }

// Is reports whether r names the given physical register at any width.
func (r Register) Is(id RegId) bool {
	got, ok := r.Kind.(RegId)
	return ok && got == id
}

func (r Register) String() string {
	if r.Kind == nil {
		return "<none>"
	}
	if name, ok := registerName(r); ok {
		return name
	}
	return fmt.Sprintf("reg(0x%02x,%s)", uint8(r.ID()), r.Size)
}

// Arg is a single, fully-resolved instruction argument.
type Arg interface {
	Operand
	isArg()
	String() string
}

// MemoryRef is a [base + index*scale + disp] memory operand.
type MemoryRef struct {
	Index Register
	Scale int
	Base  Register
	Disp  asm.ImmediateValue
	Size  asm.Size
}

// Mem returns a memory operand addressing [base].
func Mem(base Register) MemoryRef {
	return MemoryRef{Base: base}
}

// MemIndex returns a memory operand addressing [base + index*scale].
func MemIndex(base, index Register, scale int) MemoryRef {
	return MemoryRef{Base: base, Index: index, Scale: scale}
}

// WithDisp returns a copy of m with the displacement set.
func (m MemoryRef) WithDisp(disp int64) MemoryRef {
	m.Disp = asm.I64(disp)
	return m
}

// Sized returns a copy of m with an explicit operand size.
func (m MemoryRef) Sized(size asm.Size) MemoryRef {
	m.Size = size
	return m
}

func (m MemoryRef) String() string {
	var parts []string
	if !m.Base.IsZero() {
		parts = append(parts, m.Base.String())
	}
	if !m.Index.IsZero() {
		parts = append(parts, fmt.Sprintf("%s*%d", m.Index, m.Scale))
	}
	if d := m.Disp.Int64(); d != 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%d", d))
	}
	s := "[" + strings.Join(parts, " + ") + "]"
	if m.Size != 0 {
		s = m.Size.String() + " " + s
	}
	return s
}

// JumpKind selects how a JumpType names its destination.
type JumpKind uint8

const (
	JumpGlobal JumpKind = iota
	JumpBackward
	JumpForward
	JumpLocal
)

// JumpType names a jump destination: an exported symbol, the nearest named
// label before or after the reference, or an anonymous local target.
type JumpType struct {
	Kind   JumpKind
	Name   string
	Target asm.JumpTarget
}

// Global refers to the exported function name.
func Global(name string) JumpType { return JumpType{Kind: JumpGlobal, Name: name} }

// Backward refers to the most recent Label(name) placed before the reference.
func Backward(name string) JumpType { return JumpType{Kind: JumpBackward, Name: name} }

// Forward refers to the next Label(name) placed after the reference.
func Forward(name string) JumpType { return JumpType{Kind: JumpForward, Name: name} }

// Local refers to an anonymous target from AllocateLocal or Local.
func Local(target asm.JumpTarget) JumpType { return JumpType{Kind: JumpLocal, Target: target} }

func (j JumpType) String() string {
	switch j.Kind {
	case JumpGlobal:
		return "->" + j.Name
	case JumpBackward:
		return ">" + j.Name
	case JumpForward:
		return "<" + j.Name
	default:
		return fmt.Sprintf("local(%d)", uint64(j.Target))
	}
}

func (j JumpType) appendArgs(args []Arg) []Arg {
	return append(args, Jump{Target: j})
}

// Jump is a direct relative jump or call destination.
type Jump struct {
	Target JumpType
	Size   asm.Size
}

// IndirectJump is a RIP-relative memory reference to a label.
type IndirectJump struct {
	Target JumpType
	Size   asm.Size
}

// Immediate is a constant operand with an optional explicit size.
type Immediate struct {
	Value asm.ImmediateValue
	Size  asm.Size
}

// Invalid is a placeholder that never matches any variant.
type Invalid struct{}

// Imm builds a signed immediate operand.
func Imm(v int64) Immediate { return Immediate{Value: asm.I64(v)} }

// UImm builds an unsigned immediate operand.
func UImm(v uint64) Immediate { return Immediate{Value: asm.U64(v)} }

// ImmSized builds a signed immediate with an explicit size.
func ImmSized(v int64, size asm.Size) Immediate {
	return Immediate{Value: asm.I64(v), Size: size}
}

// RipRelative addresses the memory at a local target through RIP.
func RipRelative(target asm.JumpTarget) IndirectJump {
	return IndirectJump{Target: Local(target)}
}

// RipNonRelative uses a local target as a direct jump destination.
func RipNonRelative(target asm.JumpTarget) Jump {
	return Jump{Target: Local(target)}
}

func (Register) isArg()     {}
func (MemoryRef) isArg()    {}
func (Jump) isArg()         {}
func (IndirectJump) isArg() {}
func (Immediate) isArg()    {}
func (Invalid) isArg()      {}

func (j Jump) String() string { return sizedString(j.Size, j.Target.String()) }
func (j IndirectJump) String() string {
	return sizedString(j.Size, "[rip "+j.Target.String()+"]")
}
func (i Immediate) String() string { return sizedString(i.Size, i.Value.String()) }
func (Invalid) String() string     { return "<invalid>" }

func sizedString(size asm.Size, s string) string {
	if size == 0 {
		return s
	}
	return size.String() + " " + s
}

func (r Register) appendArgs(args []Arg) []Arg     { return append(args, r) }
func (m MemoryRef) appendArgs(args []Arg) []Arg    { return append(args, m) }
func (j Jump) appendArgs(args []Arg) []Arg         { return append(args, j) }
func (j IndirectJump) appendArgs(args []Arg) []Arg { return append(args, j) }
func (i Immediate) appendArgs(args []Arg) []Arg    { return append(args, i) }
func (v Invalid) appendArgs(args []Arg) []Arg      { return append(args, v) }

// Operand is anything that contributes zero or more arguments to an
// instruction.
type Operand interface {
	appendArgs([]Arg) []Arg
}

// Optional contributes one argument when present and none otherwise.
type Optional struct {
	op    Operand
	valid bool
}

// Some wraps a present operand.
func Some(op Operand) Optional { return Optional{op: op, valid: true} }

// None is an absent operand.
func None() Optional { return Optional{} }

func (o Optional) appendArgs(args []Arg) []Arg {
	if !o.valid || o.op == nil {
		return args
	}
	return o.op.appendArgs(args)
}

// Tuple groups operands so they can be passed as a single value.
type Tuple []Operand

func (t Tuple) appendArgs(args []Arg) []Arg {
	for _, op := range t {
		args = op.appendArgs(args)
	}
	return args
}

// Collect flattens operands left to right into an argument list.
func Collect(ops ...Operand) []Arg {
	args := make([]Arg, 0, len(ops))
	for _, op := range ops {
		if op == nil {
			continue
		}
		args = op.appendArgs(args)
	}
	return args
}
