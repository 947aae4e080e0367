package asm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
)

// JumpTarget names an anonymous local label.
type JumpTarget uint64

// MaxAlignment is the largest alignment an Align statement may request.
const MaxAlignment = 1024

// alignPad is the single-byte x86 NOP used to pad alignment gaps.
const alignPad = 0x90

var (
	ErrUnresolvedLabel        = errors.New("unresolved address")
	ErrExcessiveAlignment     = errors.New("excessive alignment request")
	ErrUnimplementedStatement = errors.New("unimplemented statement")
	ErrUnimplementedJumpSize  = errors.New("unimplemented jump size")
)

// Stmt is one entry of the statement log.
type Stmt interface {
	isStmt()
	String() string
}

// Const is a single literal code byte.
type Const byte

// Var is an immediate materialized as a little-endian field of Size bytes.
type Var struct {
	Value ImmediateValue
	Size  Size
}

// GlobalLabel exports the current offset under Name.
type GlobalLabel string

// LocalLabel binds a JumpTarget to the current offset.
type LocalLabel JumpTarget

// ForwardJumpTarget marks the Size bytes ending at the current offset as a
// displacement to Target, patched once all labels are known.
type ForwardJumpTarget struct {
	Target JumpTarget
	Size   Size
}

// Align pads the code with NOPs up to a multiple of Alignment.
type Align struct {
	Alignment ImmediateValue
}

func (Const) isStmt()             {}
func (Var) isStmt()               {}
func (GlobalLabel) isStmt()       {}
func (LocalLabel) isStmt()        {}
func (ForwardJumpTarget) isStmt() {}
func (Align) isStmt()             {}

func (c Const) String() string       { return fmt.Sprintf("Const(0x%02x)", byte(c)) }
func (v Var) String() string         { return fmt.Sprintf("Var(%s, %s)", v.Value, v.Size) }
func (g GlobalLabel) String() string { return fmt.Sprintf("GlobalLabel(%q)", string(g)) }
func (l LocalLabel) String() string  { return fmt.Sprintf("LocalLabel(%d)", uint64(l)) }
func (f ForwardJumpTarget) String() string {
	return fmt.Sprintf("ForwardJumpTarget(%d, %s)", uint64(f.Target), f.Size)
}
func (a Align) String() string { return fmt.Sprintf("Align(%s)", a.Alignment) }

// Buffer is an append-only statement log.
type Buffer struct {
	stmts  []Stmt
	logger *slog.Logger
}

// NewBuffer creates an empty buffer. A nil logger uses slog.Default().
func NewBuffer(logger *slog.Logger) *Buffer {
	return &Buffer{logger: logger}
}

// SetLogger replaces the logger used while resolving.
func (b *Buffer) SetLogger(logger *slog.Logger) {
	b.logger = logger
}

func (b *Buffer) log() *slog.Logger {
	if b.logger == nil {
		return slog.Default()
	}
	return b.logger
}

// Push appends statements to the log.
func (b *Buffer) Push(stmts ...Stmt) {
	b.stmts = append(b.stmts, stmts...)
}

// PushBytes appends one Const statement per byte.
func (b *Buffer) PushBytes(data []byte) {
	for _, x := range data {
		b.stmts = append(b.stmts, Const(x))
	}
}

// Len returns the number of statements in the log.
func (b *Buffer) Len() int { return len(b.stmts) }

// Stmts returns a copy of the statement log.
func (b *Buffer) Stmts() []Stmt {
	return append([]Stmt(nil), b.stmts...)
}

type jumpToResolve struct {
	target JumpTarget
	from   int
	size   Size
}

// Dump resolves the log and panics if resolution fails.
func (b *Buffer) Dump() ObjectFile {
	obj, err := b.Resolve()
	if err != nil {
		panic(err)
	}
	return obj
}

// Resolve materializes the statement log into code bytes and an exported
// function table. The first pass emits bytes and records label offsets and
// pending displacement fields; the second pass patches each field with the
// distance from its end to its target label.
func (b *Buffer) Resolve() (ObjectFile, error) {
	var result ObjectFile

	logger := b.log()
	debug := logger.Enabled(context.Background(), slog.LevelDebug)

	labels := make(map[JumpTarget]int)
	var jumps []jumpToResolve

	for _, stmt := range b.stmts {
		if debug {
			logger.Debug("resolve statement", slog.Int("offset", len(result.Code)), slog.String("stmt", stmt.String()))
		}
		switch s := stmt.(type) {
		case Const:
			result.Code = append(result.Code, byte(s))
		case Var:
			code, err := appendVar(result.Code, s)
			if err != nil {
				return ObjectFile{}, err
			}
			result.Code = code
		case GlobalLabel:
			result.Functions = append(result.Functions, ExportedFunction{
				Offset: uint32(len(result.Code)),
				Name:   string(s),
			})
		case LocalLabel:
			labels[JumpTarget(s)] = len(result.Code)
		case ForwardJumpTarget:
			jumps = append(jumps, jumpToResolve{
				target: s.Target,
				size:   s.Size,
				from:   len(result.Code),
			})
		case Align:
			if s.Alignment.Uint64() > MaxAlignment {
				return ObjectFile{}, fmt.Errorf("%w: %d", ErrExcessiveAlignment, s.Alignment.Uint64())
			}
			if !s.Alignment.IsUnsigned() || s.Alignment.Uint64() == 0 {
				return ObjectFile{}, fmt.Errorf("%w: %s", ErrUnimplementedStatement, s)
			}
			n := int(s.Alignment.Uint64())
			for len(result.Code)%n != 0 {
				result.Code = append(result.Code, alignPad)
			}
		default:
			return ObjectFile{}, fmt.Errorf("%w: %v", ErrUnimplementedStatement, stmt)
		}
	}

	if debug {
		logger.Debug("resolve jumps", slog.Int("count", len(jumps)), slog.Int("labels", len(labels)))
	}

	for _, jump := range jumps {
		targetAddr, ok := labels[jump.target]
		if !ok {
			return ObjectFile{}, fmt.Errorf("%w: %d", ErrUnresolvedLabel, uint64(jump.target))
		}
		switch jump.size {
		case DWORD:
			if jump.from < 4 {
				return ObjectFile{}, fmt.Errorf("jump field for target %d starts before the code buffer", uint64(jump.target))
			}
			rel := targetAddr - jump.from
			if rel < math.MinInt32 || rel > math.MaxInt32 {
				return ObjectFile{}, fmt.Errorf("jump to target %d out of range", uint64(jump.target))
			}
			binary.LittleEndian.PutUint32(result.Code[jump.from-4:jump.from], uint32(int32(rel)))
		default:
			return ObjectFile{}, fmt.Errorf("%w: %s", ErrUnimplementedJumpSize, jump.size)
		}
	}

	return result, nil
}

func appendVar(code []byte, v Var) ([]byte, error) {
	x := v.Value.Uint64()
	switch v.Size {
	case BYTE:
		return append(code, byte(x)), nil
	case WORD:
		return binary.LittleEndian.AppendUint16(code, uint16(x)), nil
	case DWORD:
		return binary.LittleEndian.AppendUint32(code, uint32(x)), nil
	case QWORD:
		return binary.LittleEndian.AppendUint64(code, x), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnimplementedStatement, v)
	}
}
