package amd64

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tinyrange/rasm/internal/asm"
)

// jumpTargetSeed starts the label counter so ids from different assemblers
// in one build rarely coincide.
const jumpTargetSeed asm.JumpTarget = 5050

var (
	ErrUnknownLabel    = errors.New("unknown label")
	ErrDuplicateGlobal = errors.New("duplicate global")
)

// Assembler accumulates instructions and labels into a statement buffer.
type Assembler struct {
	buf      *asm.Buffer
	table    VariantTable
	prefixes []string

	counter   asm.JumpTarget
	allocated map[asm.JumpTarget]struct{}

	globals  map[string]asm.JumpTarget
	exported map[string]bool
	placed   map[string]asm.JumpTarget
	pending  map[string]asm.JumpTarget
}

// New returns an assembler using DefaultTable.
func New() *Assembler {
	return NewWithTable(DefaultTable)
}

// NewWithTable returns an assembler that encodes with the given variants.
func NewWithTable(table VariantTable) *Assembler {
	return &Assembler{
		buf:       asm.NewBuffer(nil),
		table:     table,
		counter:   jumpTargetSeed,
		allocated: make(map[asm.JumpTarget]struct{}),
		globals:   make(map[string]asm.JumpTarget),
		exported:  make(map[string]bool),
		placed:    make(map[string]asm.JumpTarget),
		pending:   make(map[string]asm.JumpTarget),
	}
}

// SetLogger sets the logger used when the buffer is resolved.
func (a *Assembler) SetLogger(logger *slog.Logger) {
	a.buf.SetLogger(logger)
}

// Len returns the number of statements emitted so far.
func (a *Assembler) Len() int { return a.buf.Len() }

// Stmts returns a copy of the statement log.
func (a *Assembler) Stmts() []asm.Stmt { return a.buf.Stmts() }

// Global exports the current position under name. Jumps and calls to
// Global(name) resolve here.
func (a *Assembler) Global(name string) {
	if a.exported[name] {
		panic(fmt.Errorf("%w: %s", ErrDuplicateGlobal, name))
	}
	a.exported[name] = true
	a.buf.Push(asm.GlobalLabel(name), asm.LocalLabel(a.globalTarget(name)))
}

// Constant emits raw bytes.
func (a *Assembler) Constant(data []byte) {
	a.buf.PushBytes(data)
}

// AllocateLocal reserves a fresh jump target without placing it.
func (a *Assembler) AllocateLocal() asm.JumpTarget {
	for {
		ret := a.counter
		a.counter = (a.counter + 47 + asm.JumpTarget(a.buf.Len())) * 199
		if _, ok := a.allocated[ret]; !ok {
			a.allocated[ret] = struct{}{}
			return ret
		}
	}
}

// PlaceLocal binds target to the current position.
func (a *Assembler) PlaceLocal(target asm.JumpTarget) {
	a.buf.Push(asm.LocalLabel(target))
}

// Local allocates a target and places it at the current position.
func (a *Assembler) Local() asm.JumpTarget {
	target := a.AllocateLocal()
	a.PlaceLocal(target)
	return target
}

// Label places a named local label. Earlier Forward(name) references resolve
// here, and later Backward(name) references resolve here until the name is
// placed again.
func (a *Assembler) Label(name string) {
	target, ok := a.pending[name]
	if ok {
		delete(a.pending, name)
	} else {
		target = a.AllocateLocal()
	}
	a.placed[name] = target
	a.PlaceLocal(target)
}

// Align pads with NOPs to a multiple of n bytes.
func (a *Assembler) Align(n uint64) {
	a.buf.Push(asm.Align{Alignment: asm.U64(n)})
}

// WithPrefixes sets prefixes (lock, rep, repne, segment overrides) for the
// next instruction only.
func (a *Assembler) WithPrefixes(prefixes ...string) *Assembler {
	a.prefixes = append([]string(nil), prefixes...)
	return a
}

func (a *Assembler) globalTarget(name string) asm.JumpTarget {
	target, ok := a.globals[name]
	if !ok {
		target = a.AllocateLocal()
		a.globals[name] = target
	}
	return target
}

func (a *Assembler) resolveTarget(j JumpType) (asm.JumpTarget, error) {
	switch j.Kind {
	case JumpLocal:
		return j.Target, nil
	case JumpGlobal:
		return a.globalTarget(j.Name), nil
	case JumpForward:
		target, ok := a.pending[j.Name]
		if !ok {
			target = a.AllocateLocal()
			a.pending[j.Name] = target
		}
		return target, nil
	case JumpBackward:
		target, ok := a.placed[j.Name]
		if !ok {
			return 0, fmt.Errorf("%w: no label %q before this point", ErrUnknownLabel, j.Name)
		}
		return target, nil
	}
	return 0, fmt.Errorf("%w: %v", ErrUnknownLabel, j)
}

// Encode assembles one instruction and appends it to the buffer.
func (a *Assembler) Encode(mnemonic string, ops ...Operand) error {
	prefixes := a.prefixes
	a.prefixes = nil

	variants, ok := a.table.Lookup(mnemonic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMnemonic, mnemonic)
	}
	stmts, err := compileOp(mnemonic, prefixes, Collect(ops...), variants, a.resolveTarget)
	if err != nil {
		return err
	}
	a.buf.Push(stmts...)
	return nil
}

// Inst is Encode that panics when no variant matches.
func (a *Assembler) Inst(mnemonic string, ops ...Operand) {
	if err := a.Encode(mnemonic, ops...); err != nil {
		panic(err)
	}
}

// Resolve runs both resolution passes over the buffer.
func (a *Assembler) Resolve() (asm.ObjectFile, error) {
	if len(a.pending) > 0 {
		names := make([]string, 0, len(a.pending))
		for name := range a.pending {
			names = append(names, name)
		}
		sort.Strings(names)
		return asm.ObjectFile{}, fmt.Errorf("%w: forward reference to %q never placed", asm.ErrUnresolvedLabel, names[0])
	}
	return a.buf.Resolve()
}

// Dump resolves the buffer and panics on unresolved labels or unsupported
// statements.
func (a *Assembler) Dump() asm.ObjectFile {
	obj, err := a.Resolve()
	if err != nil {
		panic(err)
	}
	return obj
}
