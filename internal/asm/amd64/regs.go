package amd64

import (
	"fmt"
	"strings"

	"github.com/tinyrange/rasm/internal/asm"
)

// Register families as typed constants. Each converts to a sized Register
// and can be passed directly as an operand.
type (
	Byte     RegId
	HighByte RegId
	Word     RegId
	DWord    RegId
	QWord    RegId
	FP       RegId
	MMX      RegId
	XMM      RegId
	YMM      RegId
	Segment  RegId
	Control  RegId
	Debug    RegId
)

const (
	AL   = Byte(RegRAX)
	CL   = Byte(RegRCX)
	DL   = Byte(RegRDX)
	BL   = Byte(RegRBX)
	SPL  = Byte(RegRSP)
	BPL  = Byte(RegRBP)
	SIL  = Byte(RegRSI)
	DIL  = Byte(RegRDI)
	R8B  = Byte(RegR8)
	R9B  = Byte(RegR9)
	R10B = Byte(RegR10)
	R11B = Byte(RegR11)
	R12B = Byte(RegR12)
	R13B = Byte(RegR13)
	R14B = Byte(RegR14)
	R15B = Byte(RegR15)
)

const (
	AH = HighByte(RegAH)
	CH = HighByte(RegCH)
	DH = HighByte(RegDH)
	BH = HighByte(RegBH)
)

const (
	AX   = Word(RegRAX)
	CX   = Word(RegRCX)
	DX   = Word(RegRDX)
	BX   = Word(RegRBX)
	SP   = Word(RegRSP)
	BP   = Word(RegRBP)
	SI   = Word(RegRSI)
	DI   = Word(RegRDI)
	R8W  = Word(RegR8)
	R9W  = Word(RegR9)
	R10W = Word(RegR10)
	R11W = Word(RegR11)
	R12W = Word(RegR12)
	R13W = Word(RegR13)
	R14W = Word(RegR14)
	R15W = Word(RegR15)
)

const (
	EAX  = DWord(RegRAX)
	ECX  = DWord(RegRCX)
	EDX  = DWord(RegRDX)
	EBX  = DWord(RegRBX)
	ESP  = DWord(RegRSP)
	EBP  = DWord(RegRBP)
	ESI  = DWord(RegRSI)
	EDI  = DWord(RegRDI)
	R8D  = DWord(RegR8)
	R9D  = DWord(RegR9)
	R10D = DWord(RegR10)
	R11D = DWord(RegR11)
	R12D = DWord(RegR12)
	R13D = DWord(RegR13)
	R14D = DWord(RegR14)
	R15D = DWord(RegR15)
)

const (
	RAX = QWord(RegRAX)
	RCX = QWord(RegRCX)
	RDX = QWord(RegRDX)
	RBX = QWord(RegRBX)
	RSP = QWord(RegRSP)
	RBP = QWord(RegRBP)
	RSI = QWord(RegRSI)
	RDI = QWord(RegRDI)
	R8  = QWord(RegR8)
	R9  = QWord(RegR9)
	R10 = QWord(RegR10)
	R11 = QWord(RegR11)
	R12 = QWord(RegR12)
	R13 = QWord(RegR13)
	R14 = QWord(RegR14)
	R15 = QWord(RegR15)
	RIP = QWord(RegRIP)
)

const (
	ST0 = FP(RegST0 + iota)
	ST1
	ST2
	ST3
	ST4
	ST5
	ST6
	ST7
)

const (
	MM0 = MMX(RegMM0 + iota)
	MM1
	MM2
	MM3
	MM4
	MM5
	MM6
	MM7
)

const (
	XMM0 = XMM(RegXMM0 + iota)
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
	XMM8
	XMM9
	XMM10
	XMM11
	XMM12
	XMM13
	XMM14
	XMM15
)

const (
	YMM0 = YMM(RegXMM0 + iota)
	YMM1
	YMM2
	YMM3
	YMM4
	YMM5
	YMM6
	YMM7
	YMM8
	YMM9
	YMM10
	YMM11
	YMM12
	YMM13
	YMM14
	YMM15
)

const (
	ES = Segment(RegES)
	CS = Segment(RegCS)
	SS = Segment(RegSS)
	DS = Segment(RegDS)
	FS = Segment(RegFS)
	GS = Segment(RegGS)
)

const (
	CR0 = Control(RegCR0 + iota)
	CR1
	CR2
	CR3
	CR4
	CR5
	CR6
	CR7
	CR8
	CR9
	CR10
	CR11
	CR12
	CR13
	CR14
	CR15
)

const (
	DR0 = Debug(RegDR0 + iota)
	DR1
	DR2
	DR3
	DR4
	DR5
	DR6
	DR7
	DR8
	DR9
	DR10
	DR11
	DR12
	DR13
	DR14
	DR15
)

func (r Byte) Register() Register     { return NewRegister(asm.BYTE, RegId(r)) }
func (r HighByte) Register() Register { return NewRegister(asm.BYTE, RegId(r)) }
func (r Word) Register() Register     { return NewRegister(asm.WORD, RegId(r)) }
func (r DWord) Register() Register    { return NewRegister(asm.DWORD, RegId(r)) }
func (r QWord) Register() Register    { return NewRegister(asm.QWORD, RegId(r)) }
func (r FP) Register() Register       { return NewRegister(asm.PWORD, RegId(r)) }
func (r MMX) Register() Register      { return NewRegister(asm.QWORD, RegId(r)) }
func (r XMM) Register() Register      { return NewRegister(asm.OWORD, RegId(r)) }
func (r YMM) Register() Register      { return NewRegister(asm.HWORD, RegId(r)) }
func (r Segment) Register() Register  { return NewRegister(asm.WORD, RegId(r)) }
func (r Control) Register() Register  { return NewRegister(asm.QWORD, RegId(r)) }
func (r Debug) Register() Register    { return NewRegister(asm.QWORD, RegId(r)) }

func (r Byte) appendArgs(args []Arg) []Arg     { return append(args, r.Register()) }
func (r HighByte) appendArgs(args []Arg) []Arg { return append(args, r.Register()) }
func (r Word) appendArgs(args []Arg) []Arg     { return append(args, r.Register()) }
func (r DWord) appendArgs(args []Arg) []Arg    { return append(args, r.Register()) }
func (r QWord) appendArgs(args []Arg) []Arg    { return append(args, r.Register()) }
func (r FP) appendArgs(args []Arg) []Arg       { return append(args, r.Register()) }
func (r MMX) appendArgs(args []Arg) []Arg      { return append(args, r.Register()) }
func (r XMM) appendArgs(args []Arg) []Arg      { return append(args, r.Register()) }
func (r YMM) appendArgs(args []Arg) []Arg      { return append(args, r.Register()) }
func (r Segment) appendArgs(args []Arg) []Arg  { return append(args, r.Register()) }
func (r Control) appendArgs(args []Arg) []Arg  { return append(args, r.Register()) }
func (r Debug) appendArgs(args []Arg) []Arg    { return append(args, r.Register()) }

// ValueAt addresses the memory the register points at.
func (r QWord) ValueAt() MemoryRef { return r.ValueAtOffset(0) }

// ValueAtOffset addresses [r + offset].
func (r QWord) ValueAtOffset(offset int32) MemoryRef {
	return MemoryRef{Base: r.Register(), Disp: asm.I64(int64(offset))}
}

var legacyNames = [16][4]string{
	{"al", "ax", "eax", "rax"},
	{"cl", "cx", "ecx", "rcx"},
	{"dl", "dx", "edx", "rdx"},
	{"bl", "bx", "ebx", "rbx"},
	{"spl", "sp", "esp", "rsp"},
	{"bpl", "bp", "ebp", "rbp"},
	{"sil", "si", "esi", "rsi"},
	{"dil", "di", "edi", "rdi"},
}

var (
	registersByName = make(map[string]Register)
	namesByRegister = make(map[Register]string)
)

func addRegisterName(name string, reg Register) {
	registersByName[name] = reg
	if _, ok := namesByRegister[reg]; !ok {
		namesByRegister[reg] = name
	}
}

func init() {
	sizes := [4]asm.Size{asm.BYTE, asm.WORD, asm.DWORD, asm.QWORD}
	suffixes := [4]string{"b", "w", "d", ""}

	for code := 0; code < 16; code++ {
		id := RegId(code)
		for i, size := range sizes {
			reg := NewRegister(size, id)
			if code < 8 {
				addRegisterName(legacyNames[code][i], reg)
			}
			addRegisterName(fmt.Sprintf("r%d%s", code, suffixes[i]), reg)
		}
	}

	addRegisterName("rip", RIP.Register())
	for i, name := range []string{"ah", "ch", "dh", "bh"} {
		addRegisterName(name, HighByte(RegAH+RegId(i)).Register())
	}
	for i := 0; i < 8; i++ {
		addRegisterName(fmt.Sprintf("st%d", i), FP(RegST0+RegId(i)).Register())
		addRegisterName(fmt.Sprintf("mm%d", i), MMX(RegMM0+RegId(i)).Register())
		addRegisterName(fmt.Sprintf("mmx%d", i), MMX(RegMM0+RegId(i)).Register())
	}
	for i := 0; i < 16; i++ {
		addRegisterName(fmt.Sprintf("xmm%d", i), XMM(RegXMM0+RegId(i)).Register())
		addRegisterName(fmt.Sprintf("ymm%d", i), YMM(RegXMM0+RegId(i)).Register())
		addRegisterName(fmt.Sprintf("cr%d", i), Control(RegCR0+RegId(i)).Register())
		addRegisterName(fmt.Sprintf("dr%d", i), Debug(RegDR0+RegId(i)).Register())
	}
	for i, name := range []string{"es", "cs", "ss", "ds", "fs", "gs"} {
		addRegisterName(name, Segment(RegES+RegId(i)).Register())
	}
}

// RegisterByName looks up a register by its assembler name, e.g. "eax",
// "r9d", "xmm3" or "cr0". Names are case-insensitive.
func RegisterByName(name string) (Register, bool) {
	reg, ok := registersByName[strings.ToLower(name)]
	return reg, ok
}

func registerName(reg Register) (string, bool) {
	name, ok := namesByRegister[reg]
	return name, ok
}
