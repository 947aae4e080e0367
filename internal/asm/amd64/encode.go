package amd64

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/tinyrange/rasm/internal/asm"
)

var (
	ErrNoMatchingVariant = errors.New("no matching instruction variant")
	ErrUnknownMnemonic   = errors.New("unknown mnemonic")
	ErrInvalidOperand    = errors.New("invalid operand")
	ErrInvalidPrefix     = errors.New("invalid prefix")
)

// targetResolver lowers a jump destination to a numeric local target.
type targetResolver func(JumpType) (asm.JumpTarget, error)

func localTargetsOnly(j JumpType) (asm.JumpTarget, error) {
	if j.Kind != JumpLocal {
		return 0, fmt.Errorf("%w: label %s needs an Assembler", ErrInvalidOperand, j)
	}
	return j.Target, nil
}

// Encode appends one instruction to buf using the given candidate variants.
// Jump operands must be anonymous local targets; named labels are handled by
// Assembler.
func Encode(buf *asm.Buffer, mnemonic string, prefixes []string, args []Arg, variants []Opdata) error {
	stmts, err := compileOp(mnemonic, prefixes, args, variants, localTargetsOnly)
	if err != nil {
		return err
	}
	buf.Push(stmts...)
	return nil
}

func compileOp(mnemonic string, prefixes []string, args []Arg, variants []Opdata, resolve targetResolver) ([]asm.Stmt, error) {
	for _, data := range variants {
		m, ok := matchVariant(data, args)
		if !ok {
			continue
		}
		stmts, err := m.encode(prefixes, args, resolve)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", mnemonic, formatArgs(args), err)
		}
		return stmts, nil
	}
	return nil, fmt.Errorf("%w: %s %s", ErrNoMatchingVariant, mnemonic, formatArgs(args))
}

func formatArgs(args []Arg) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

type rexState struct {
	w     bool
	r     bool
	x     bool
	b     bool
	force bool
}

func (r rexState) prefix() byte {
	if !r.w && !r.r && !r.x && !r.b && !r.force {
		return 0
	}
	p := byte(0x40)
	if r.w {
		p |= 0x08
	}
	if r.r {
		p |= 0x04
	}
	if r.x {
		p |= 0x02
	}
	if r.b {
		p |= 0x01
	}
	return p
}

// needsByteREX reports whether an 8-bit register is only reachable with a
// REX prefix (SPL, BPL, SIL, DIL).
func needsByteREX(reg Register) bool {
	if reg.Size != asm.BYTE || reg.Family() != FamilyLegacy {
		return false
	}
	code := reg.Code()
	return code >= 4 && code <= 7
}

type memEncoding struct {
	mod      byte
	rm       byte
	sib      byte
	hasSIB   bool
	disp     int64
	dispSize asm.Size
	x        bool
	b        bool
	addr32   bool
}

func scaleBits(scale int) (byte, error) {
	switch scale {
	case 0, 1:
		return 0, nil
	case 2:
		return 1, nil
	case 4:
		return 2, nil
	case 8:
		return 3, nil
	}
	return 0, fmt.Errorf("%w: invalid scale %d", ErrInvalidOperand, scale)
}

func encodeMemoryOperand(mem MemoryRef) (memEncoding, error) {
	var enc memEncoding

	hasBase := !mem.Base.IsZero()
	hasIndex := !mem.Index.IsZero()

	var addrSize asm.Size
	for _, reg := range []Register{mem.Base, mem.Index} {
		if reg.IsZero() {
			continue
		}
		switch reg.Family() {
		case FamilyLegacy:
		case FamilyRIP:
			if hasIndex {
				return memEncoding{}, fmt.Errorf("%w: rip cannot be combined with an index", ErrInvalidOperand)
			}
		default:
			return memEncoding{}, fmt.Errorf("%w: %s cannot address memory", ErrInvalidOperand, reg)
		}
		if reg.Size != asm.QWORD && reg.Size != asm.DWORD {
			return memEncoding{}, fmt.Errorf("%w: %s-bit addressing is not supported", ErrInvalidOperand, reg.Size)
		}
		if addrSize != 0 && addrSize != reg.Size {
			return memEncoding{}, fmt.Errorf("%w: mixed address sizes in %s", ErrInvalidOperand, mem)
		}
		addrSize = reg.Size
	}
	enc.addr32 = addrSize == asm.DWORD

	disp := mem.Disp.Int64()
	if mem.Disp.IsUnsigned() {
		if !mem.Disp.Fits(asm.DWORD) {
			return memEncoding{}, fmt.Errorf("%w: displacement %s out of range", ErrInvalidOperand, mem.Disp)
		}
		disp = int64(int32(uint32(mem.Disp.Uint64())))
	} else if !mem.Disp.FitsSigned(asm.DWORD) {
		return memEncoding{}, fmt.Errorf("%w: displacement %s out of range", ErrInvalidOperand, mem.Disp)
	}

	scale, err := scaleBits(mem.Scale)
	if err != nil {
		return memEncoding{}, err
	}

	indexCode := byte(4)
	if hasIndex {
		if mem.Index.Code() == 4 && !mem.Index.IsExtended() {
			return memEncoding{}, fmt.Errorf("%w: rsp cannot be used as index register", ErrInvalidOperand)
		}
		indexCode = mem.Index.Code() & 7
		enc.x = mem.Index.IsExtended()
	}

	if hasBase && mem.Base.Family() == FamilyRIP {
		enc.mod = 0x00
		enc.rm = 5
		enc.disp = disp
		enc.dispSize = asm.DWORD
		return enc, nil
	}

	if !hasBase {
		// [index*scale + disp32] and absolute [disp32] both go through SIB
		// with base=101; mod=00 rm=101 would be RIP-relative.
		enc.mod = 0x00
		enc.rm = 4
		enc.hasSIB = true
		enc.sib = scale<<6 | indexCode<<3 | 5
		enc.disp = disp
		enc.dispSize = asm.DWORD
		return enc, nil
	}

	baseCode := mem.Base.Code() & 7
	enc.b = mem.Base.IsExtended()

	switch {
	case disp == 0 && baseCode != 5:
		enc.mod = 0x00
	case disp >= math.MinInt8 && disp <= math.MaxInt8:
		// [rbp] / [r13] with zero displacement must use 8-bit displacement zero.
		enc.mod = 0x40
		enc.disp = disp
		enc.dispSize = asm.BYTE
	default:
		enc.mod = 0x80
		enc.disp = disp
		enc.dispSize = asm.DWORD
	}

	if hasIndex || baseCode == 4 {
		enc.rm = 4
		enc.hasSIB = true
		enc.sib = scale<<6 | indexCode<<3 | baseCode
	} else {
		enc.rm = baseCode
	}
	return enc, nil
}

func userPrefix(p string, flags Flags) (byte, error) {
	switch strings.ToLower(p) {
	case "lock":
		if !flags.has(FlagLock) {
			return 0, fmt.Errorf("%w: lock is not allowed here", ErrInvalidPrefix)
		}
		return 0xF0, nil
	case "rep":
		if !flags.has(FlagRep) && !flags.has(FlagRepe) {
			return 0, fmt.Errorf("%w: rep is not allowed here", ErrInvalidPrefix)
		}
		return 0xF3, nil
	case "repe", "repz":
		if !flags.has(FlagRepe) {
			return 0, fmt.Errorf("%w: %s is not allowed here", ErrInvalidPrefix, p)
		}
		return 0xF3, nil
	case "repne", "repnz":
		if !flags.has(FlagRepe) {
			return 0, fmt.Errorf("%w: %s is not allowed here", ErrInvalidPrefix, p)
		}
		return 0xF2, nil
	case "cs":
		return 0x2E, nil
	case "ss":
		return 0x36, nil
	case "ds":
		return 0x3E, nil
	case "es":
		return 0x26, nil
	case "fs":
		return 0x64, nil
	case "gs":
		return 0x65, nil
	}
	return 0, fmt.Errorf("%w: unknown prefix %q", ErrInvalidPrefix, p)
}

func boolBit(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func vexPrefix(xop bool, mapSelect byte, rex rexState, vvvv byte, l bool, pp byte) []byte {
	tail := (^vvvv&0xF)<<3 | boolBit(l)<<2 | pp
	if !xop && !rex.x && !rex.b && !rex.w && mapSelect == 1 {
		return []byte{0xC5, boolBit(!rex.r)<<7 | tail}
	}
	lead := byte(0xC4)
	if xop {
		lead = 0x8F
	}
	return []byte{
		lead,
		boolBit(!rex.r)<<7 | boolBit(!rex.x)<<6 | boolBit(!rex.b)<<5 | mapSelect&0x1F,
		boolBit(rex.w)<<7 | tail,
	}
}

type stmtWriter struct {
	stmts []asm.Stmt
}

func (w *stmtWriter) bytes(b ...byte) {
	for _, x := range b {
		w.stmts = append(w.stmts, asm.Const(x))
	}
}

func (w *stmtWriter) imm(v asm.ImmediateValue, size asm.Size) {
	w.stmts = append(w.stmts, asm.Var{Value: v, Size: size})
}

func (w *stmtWriter) jump(target asm.JumpTarget) {
	w.stmts = append(w.stmts,
		asm.Var{Value: asm.I64(0), Size: asm.DWORD},
		asm.ForwardJumpTarget{Target: target, Size: asm.DWORD},
	)
}

// operandRoles assigns encodable operands to ModRM.reg, ModRM.rm, VEX.vvvv or
// the short-form opcode register. Unused roles are -1.
type operandRoles struct {
	reg, rm, vvvv, short int
}

func (m *match) roles() (operandRoles, error) {
	roles := operandRoles{reg: -1, rm: -1, vvvv: -1, short: -1}
	flags := m.data.Flags
	vexLike := flags.has(FlagVEX) || flags.has(FlagXOP)

	var idx []int
	for i, spec := range m.specs {
		if encodable(spec.kind) {
			idx = append(idx, i)
		}
	}

	switch {
	case flags.has(FlagShortArg):
		if len(idx) != 1 {
			return roles, fmt.Errorf("%w: short form takes exactly one register", ErrInvalidOperand)
		}
		roles.short = idx[0]
	case m.data.Reg != NoReg:
		switch {
		case len(idx) == 1:
			roles.rm = idx[0]
		case len(idx) == 2 && vexLike:
			roles.vvvv, roles.rm = idx[0], idx[1]
		case len(idx) > 0:
			return roles, fmt.Errorf("%w: too many register operands", ErrInvalidOperand)
		}
	default:
		switch len(idx) {
		case 0:
		case 1:
			roles.rm = idx[0]
		case 2:
			if flags.has(FlagEncMR) {
				roles.rm, roles.reg = idx[0], idx[1]
			} else {
				roles.reg, roles.rm = idx[0], idx[1]
			}
		case 3:
			if !vexLike {
				return roles, fmt.Errorf("%w: three register operands need a VEX encoding", ErrInvalidOperand)
			}
			switch {
			case flags.has(FlagEncMR):
				roles.rm, roles.vvvv, roles.reg = idx[0], idx[1], idx[2]
			case flags.has(FlagEncVM):
				roles.reg, roles.rm, roles.vvvv = idx[0], idx[1], idx[2]
			default:
				roles.reg, roles.vvvv, roles.rm = idx[0], idx[1], idx[2]
			}
		default:
			return roles, fmt.Errorf("%w: too many register operands", ErrInvalidOperand)
		}
	}
	return roles, nil
}

func (m *match) encode(prefixes []string, args []Arg, resolve targetResolver) ([]asm.Stmt, error) {
	flags := m.data.Flags
	vexLike := flags.has(FlagVEX) || flags.has(FlagXOP)

	roles, err := m.roles()
	if err != nil {
		return nil, err
	}

	var out stmtWriter

	for _, p := range prefixes {
		b, err := userPrefix(p, flags)
		if err != nil {
			return nil, err
		}
		out.bytes(b)
	}

	rex := rexState{
		w: flags.has(FlagWithREXW) ||
			(m.opsize == asm.QWORD && (flags.has(FlagAutoSize) || flags.has(FlagAutoREXW))),
	}
	vexL := flags.has(FlagWithVEXL) || (flags.has(FlagAutoVEXL) && m.opsize == asm.HWORD)
	wordSize := flags.has(FlagWordSize) ||
		(m.opsize == asm.WORD && (flags.has(FlagAutoSize) || flags.has(FlagAutoNo32)))

	highByte := false
	for _, arg := range args {
		if reg, ok := arg.(Register); ok {
			if needsByteREX(reg) {
				rex.force = true
			}
			if reg.Family() == FamilyHighByte {
				highByte = true
			}
		}
	}

	var (
		modrmReg byte
		modrm    byte
		mem      memEncoding
		hasModRM bool
		hasMem   bool
		ripJump  *JumpType
		vvvv     byte
	)

	if m.data.Reg != NoReg {
		modrmReg = m.data.Reg
	}
	if roles.reg >= 0 {
		reg := args[roles.reg].(Register)
		modrmReg = reg.Code() & 7
		rex.r = reg.IsExtended()
	}
	if roles.vvvv >= 0 {
		vvvv = args[roles.vvvv].(Register).Code()
	}
	if roles.short >= 0 {
		reg := args[roles.short].(Register)
		rex.b = reg.IsExtended()
	}
	if roles.rm >= 0 {
		hasModRM = true
		switch a := args[roles.rm].(type) {
		case Register:
			modrm = 0xC0 | modrmReg<<3 | a.Code()&7
			rex.b = a.IsExtended()
		case MemoryRef:
			mem, err = encodeMemoryOperand(a)
			if err != nil {
				return nil, err
			}
			hasMem = true
			rex.x = mem.x
			rex.b = mem.b
			modrm = mem.mod | modrmReg<<3 | mem.rm
		case IndirectJump:
			target := a.Target
			ripJump = &target
			modrm = modrmReg<<3 | 5
		default:
			return nil, fmt.Errorf("%w: %s cannot be encoded in ModRM", ErrInvalidOperand, a)
		}
	} else if m.data.Reg != NoReg {
		return nil, fmt.Errorf("%w: opcode extension without an r/m operand", ErrInvalidOperand)
	}

	if highByte && (rex.prefix() != 0 || vexLike) {
		return nil, fmt.Errorf("%w: ah, bh, ch and dh cannot be used with a REX prefix", ErrInvalidOperand)
	}

	if flags.has(FlagPrefF0) {
		out.bytes(0xF0)
	}
	if flags.has(FlagPref67) || (hasMem && mem.addr32) {
		out.bytes(0x67)
	}

	ops := m.data.Ops
	if vexLike {
		if len(ops) < 2 {
			return nil, fmt.Errorf("%w: VEX variant without opcode map", ErrInvalidOperand)
		}
		var pp byte
		switch {
		case flags.has(FlagPref66):
			pp = 1
		case flags.has(FlagPrefF3):
			pp = 2
		case flags.has(FlagPrefF2):
			pp = 3
		}
		out.bytes(vexPrefix(flags.has(FlagXOP), ops[0], rex, vvvv, vexL, pp)...)
		ops = ops[1:]
	} else {
		if wordSize {
			out.bytes(0x66)
		}
		if flags.has(FlagPrefF2) {
			out.bytes(0xF2)
		}
		if flags.has(FlagPrefF3) {
			out.bytes(0xF3)
		}
		if p := rex.prefix(); p != 0 {
			out.bytes(p)
		}
	}

	if len(ops) == 0 {
		return nil, fmt.Errorf("%w: variant has no opcode", ErrInvalidOperand)
	}
	if roles.short >= 0 {
		last := len(ops) - 1
		out.bytes(ops[:last]...)
		out.bytes(ops[last] + args[roles.short].(Register).Code()&7)
	} else {
		out.bytes(ops...)
	}

	if hasModRM {
		out.bytes(modrm)
		if hasMem {
			if mem.hasSIB {
				out.bytes(mem.sib)
			}
			if mem.dispSize != 0 {
				out.imm(asm.I64(mem.disp), mem.dispSize)
			}
		}
		if ripJump != nil {
			for _, spec := range m.specs {
				if spec.kind == 'i' {
					return nil, fmt.Errorf("%w: rip-relative label with a trailing immediate", ErrInvalidOperand)
				}
			}
			target, err := resolve(*ripJump)
			if err != nil {
				return nil, err
			}
			out.jump(target)
		}
	}

	for i, spec := range m.specs {
		switch spec.kind {
		case 'i':
			imm := args[i].(Immediate)
			out.imm(imm.Value, m.immSize(spec))
		case 'o':
			if m.argSize(spec) != asm.DWORD {
				return nil, fmt.Errorf("%w: only 32-bit relative jumps are supported", ErrInvalidOperand)
			}
			target, err := resolve(args[i].(Jump).Target)
			if err != nil {
				return nil, err
			}
			out.jump(target)
		}
	}

	return out.stmts, nil
}
