// Package manifest reads YAML program descriptions and assembles them.
//
// A manifest lists exported functions, each a sequence of steps. A step is
// one of: an instruction (op, args, prefixes), a named label, raw bytes, or
// an alignment request.
//
//	version: v1.0.0
//	name: demo
//	format: elf
//	functions:
//	  - name: add
//	    steps:
//	      - op: lea
//	        args: [rax, {mem: {base: rdi, index: rsi, scale: 1}}]
//	      - op: ret
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/tinyrange/rasm/internal/asm"
	"github.com/tinyrange/rasm/internal/asm/amd64"
	"github.com/tinyrange/rasm/internal/object"
)

const (
	// CurrentVersion is written into new manifests.
	CurrentVersion = "v1.0.0"

	supportedMajor = "v1"
)

var (
	ErrInvalidVersion     = errors.New("invalid manifest version")
	ErrUnsupportedVersion = errors.New("unsupported manifest version")
	ErrInvalidManifest    = errors.New("invalid manifest")
	ErrInvalidArg         = errors.New("invalid argument")
)

// Manifest is the top-level document.
type Manifest struct {
	Version string `yaml:"version"`
	// Name is the library name. Defaults to the manifest file name.
	Name    string `yaml:"name,omitempty"`
	Format  string `yaml:"format,omitempty"`
	Machine string `yaml:"machine,omitempty"`
	// Source is recorded as the ELF source file name.
	Source    string     `yaml:"source,omitempty"`
	Functions []Function `yaml:"functions"`
}

// Function is one exported symbol.
type Function struct {
	Name string `yaml:"name"`
	// Align pads before the function entry.
	Align uint64 `yaml:"align,omitempty"`
	Steps []Step `yaml:"steps"`
}

// Step is a single entry in a function body. Exactly one of Op, Label,
// Bytes and Align is set.
type Step struct {
	Op       string   `yaml:"op,omitempty"`
	Args     []Arg    `yaml:"args,omitempty"`
	Prefixes []string `yaml:"prefixes,omitempty"`

	Label string `yaml:"label,omitempty"`
	Bytes []int  `yaml:"bytes,omitempty"`
	Align uint64 `yaml:"align,omitempty"`
}

// Arg is one instruction operand. A bare scalar is shorthand: integers are
// immediates and strings are register names.
type Arg struct {
	Reg  string  `yaml:"reg,omitempty"`
	Imm  *int64  `yaml:"imm,omitempty"`
	UImm *uint64 `yaml:"uimm,omitempty"`
	// Size applies to immediates, memory operands and label references.
	Size string `yaml:"size,omitempty"`
	Mem  *Mem   `yaml:"mem,omitempty"`

	Forward  string `yaml:"forward,omitempty"`
	Backward string `yaml:"backward,omitempty"`
	Global   string `yaml:"global,omitempty"`

	// RIP addresses the memory at a label, e.g. {rip: {forward: table}}.
	RIP *Arg `yaml:"rip,omitempty"`
}

// Mem is a [base + index*scale + disp] memory operand.
type Mem struct {
	Base  string `yaml:"base,omitempty"`
	Index string `yaml:"index,omitempty"`
	Scale int    `yaml:"scale,omitempty"`
	Disp  int64  `yaml:"disp,omitempty"`
	Size  string `yaml:"size,omitempty"`
}

// UnmarshalYAML accepts both the scalar shorthand and the mapping form.
func (a *Arg) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		switch node.ShortTag() {
		case "!!int":
			var v int64
			if err := node.Decode(&v); err == nil {
				*a = Arg{Imm: &v}
				return nil
			}
			var u uint64
			if err := node.Decode(&u); err != nil {
				return fmt.Errorf("line %d: %w: %q", node.Line, ErrInvalidArg, node.Value)
			}
			*a = Arg{UImm: &u}
			return nil
		case "!!str":
			*a = Arg{Reg: node.Value}
			return nil
		default:
			return fmt.Errorf("line %d: %w: %q", node.Line, ErrInvalidArg, node.Value)
		}
	}

	type plain Arg
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*a = Arg(p)
	return nil
}

// ParseSize maps "byte", "word", "dword", "qword", "pword", "oword" and
// "hword" to operand sizes. The empty string is the zero size.
func ParseSize(s string) (asm.Size, error) {
	switch strings.ToLower(s) {
	case "":
		return 0, nil
	case "byte":
		return asm.BYTE, nil
	case "word":
		return asm.WORD, nil
	case "dword":
		return asm.DWORD, nil
	case "qword":
		return asm.QWORD, nil
	case "pword", "tword":
		return asm.PWORD, nil
	case "oword", "xmmword":
		return asm.OWORD, nil
	case "hword", "ymmword":
		return asm.HWORD, nil
	}
	return 0, fmt.Errorf("%w: unknown size %q", ErrInvalidArg, s)
}

func register(name string) (amd64.Register, error) {
	reg, ok := amd64.RegisterByName(name)
	if !ok {
		return amd64.Register{}, fmt.Errorf("%w: unknown register %q", ErrInvalidArg, name)
	}
	return reg, nil
}

func (a Arg) label() (amd64.JumpType, bool, error) {
	var (
		target amd64.JumpType
		count  int
	)
	if a.Forward != "" {
		target, count = amd64.Forward(a.Forward), count+1
	}
	if a.Backward != "" {
		target, count = amd64.Backward(a.Backward), count+1
	}
	if a.Global != "" {
		target, count = amd64.Global(a.Global), count+1
	}
	if count > 1 {
		return amd64.JumpType{}, false, fmt.Errorf("%w: more than one label reference", ErrInvalidArg)
	}
	return target, count == 1, nil
}

// Operand converts the argument into an assembler operand.
func (a Arg) Operand() (amd64.Operand, error) {
	size, err := ParseSize(a.Size)
	if err != nil {
		return nil, err
	}

	target, isLabel, err := a.label()
	if err != nil {
		return nil, err
	}

	var (
		op    amd64.Operand
		kinds int
	)
	if a.Reg != "" {
		reg, err := register(a.Reg)
		if err != nil {
			return nil, err
		}
		op, kinds = reg, kinds+1
	}
	if a.Imm != nil {
		op, kinds = amd64.Immediate{Value: asm.I64(*a.Imm), Size: size}, kinds+1
	}
	if a.UImm != nil {
		op, kinds = amd64.Immediate{Value: asm.U64(*a.UImm), Size: size}, kinds+1
	}
	if a.Mem != nil {
		mem, err := a.Mem.operand()
		if err != nil {
			return nil, err
		}
		if size != 0 {
			mem = mem.Sized(size)
		}
		op, kinds = mem, kinds+1
	}
	if isLabel {
		op, kinds = amd64.Jump{Target: target, Size: size}, kinds+1
	}
	if a.RIP != nil {
		inner, ok, err := a.RIP.label()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: rip operand needs a label reference", ErrInvalidArg)
		}
		op, kinds = amd64.IndirectJump{Target: inner, Size: size}, kinds+1
	}

	switch kinds {
	case 0:
		return nil, fmt.Errorf("%w: empty argument", ErrInvalidArg)
	case 1:
		return op, nil
	default:
		return nil, fmt.Errorf("%w: argument sets more than one operand kind", ErrInvalidArg)
	}
}

func (m Mem) operand() (amd64.MemoryRef, error) {
	var ref amd64.MemoryRef
	if m.Base != "" {
		base, err := register(m.Base)
		if err != nil {
			return ref, err
		}
		ref.Base = base
	}
	if m.Index != "" {
		index, err := register(m.Index)
		if err != nil {
			return ref, err
		}
		ref.Index = index
		ref.Scale = m.Scale
		if ref.Scale == 0 {
			ref.Scale = 1
		}
	} else if m.Scale != 0 {
		return ref, fmt.Errorf("%w: scale without index", ErrInvalidArg)
	}
	switch ref.Scale {
	case 0, 1, 2, 4, 8:
	default:
		return ref, fmt.Errorf("%w: scale %d", ErrInvalidArg, m.Scale)
	}
	if m.Disp != 0 {
		ref = ref.WithDisp(m.Disp)
	}
	size, err := ParseSize(m.Size)
	if err != nil {
		return ref, err
	}
	ref.Size = size
	return ref, nil
}

func checkVersion(version string) error {
	if version == "" {
		return fmt.Errorf("%w: missing version", ErrInvalidVersion)
	}
	v := version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}
	if semver.Major(v) != supportedMajor {
		return fmt.Errorf("%w: %s (want %s.x)", ErrUnsupportedVersion, version, supportedMajor)
	}
	return nil
}

// Validate checks the version and the shape of every step without
// encoding anything.
func (m Manifest) Validate() error {
	if err := checkVersion(m.Version); err != nil {
		return err
	}
	if len(m.Functions) == 0 {
		return fmt.Errorf("%w: no functions", ErrInvalidManifest)
	}

	seen := make(map[string]bool)
	for i, fn := range m.Functions {
		if fn.Name == "" {
			return fmt.Errorf("%w: function %d has no name", ErrInvalidManifest, i)
		}
		if seen[fn.Name] {
			return fmt.Errorf("%w: duplicate function %q", ErrInvalidManifest, fn.Name)
		}
		seen[fn.Name] = true

		for j, step := range fn.Steps {
			if err := step.validate(); err != nil {
				return fmt.Errorf("function %s step %d: %w", fn.Name, j, err)
			}
		}
	}
	return nil
}

func (s Step) validate() error {
	kinds := 0
	if s.Op != "" {
		kinds++
	}
	if s.Label != "" {
		kinds++
	}
	if len(s.Bytes) > 0 {
		kinds++
	}
	if s.Align != 0 {
		kinds++
	}
	if kinds != 1 {
		return fmt.Errorf("%w: step must set exactly one of op, label, bytes, align", ErrInvalidManifest)
	}
	if s.Op == "" && (len(s.Args) > 0 || len(s.Prefixes) > 0) {
		return fmt.Errorf("%w: args and prefixes need an op", ErrInvalidManifest)
	}
	for _, b := range s.Bytes {
		if b < 0 || b > 0xff {
			return fmt.Errorf("%w: byte value %d out of range", ErrInvalidManifest, b)
		}
	}
	return nil
}

// Build encodes every function into a fresh assembler using table.
func (m Manifest) Build(table amd64.VariantTable, logger *slog.Logger) (*amd64.Assembler, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	a := amd64.NewWithTable(table)
	if logger != nil {
		a.SetLogger(logger)
	}

	for _, fn := range m.Functions {
		if fn.Align != 0 {
			a.Align(fn.Align)
		}
		a.Global(fn.Name)
		for j, step := range fn.Steps {
			if err := emit(a, step); err != nil {
				return nil, fmt.Errorf("function %s step %d: %w", fn.Name, j, err)
			}
		}
	}
	return a, nil
}

func emit(a *amd64.Assembler, step Step) error {
	switch {
	case step.Label != "":
		a.Label(step.Label)
	case len(step.Bytes) > 0:
		data := make([]byte, len(step.Bytes))
		for i, b := range step.Bytes {
			data[i] = byte(b)
		}
		a.Constant(data)
	case step.Align != 0:
		a.Align(step.Align)
	default:
		ops := make([]amd64.Operand, 0, len(step.Args))
		for i, arg := range step.Args {
			op, err := arg.Operand()
			if err != nil {
				return fmt.Errorf("arg %d: %w", i, err)
			}
			ops = append(ops, op)
		}
		if len(step.Prefixes) > 0 {
			a.WithPrefixes(step.Prefixes...)
		}
		return a.Encode(step.Op, ops...)
	}
	return nil
}

// Assemble builds the manifest with the default table and resolves it.
func (m Manifest) Assemble(logger *slog.Logger) (asm.ObjectFile, error) {
	a, err := m.Build(amd64.DefaultTable, logger)
	if err != nil {
		return asm.ObjectFile{}, err
	}
	obj, err := a.Resolve()
	if err != nil {
		return asm.ObjectFile{}, fmt.Errorf("resolve: %w", err)
	}
	return obj, nil
}

// ObjectOptions returns the emission options named by the manifest.
func (m Manifest) ObjectOptions() (object.Options, error) {
	var opts object.Options
	if m.Format != "" {
		f, err := object.ParseFormat(m.Format)
		if err != nil {
			return opts, err
		}
		opts.Format = f
	}
	if m.Machine != "" {
		machine, err := object.ParseMachine(m.Machine)
		if err != nil {
			return opts, err
		}
		opts.Machine = machine
	}
	opts.SourceName = m.Source
	return opts, nil
}

// LibraryName returns m.Name, or the base name of path without extension.
func (m Manifest) LibraryName(path string) string {
	if m.Name != "" {
		return m.Name
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Parse decodes a manifest. Unknown fields are rejected.
func Parse(r io.Reader) (Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return Manifest{}, fmt.Errorf("%w: empty document", ErrInvalidManifest)
		}
		return Manifest{}, err
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read %s: %w", path, err)
	}
	m, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

// Write encodes m as YAML to path.
func Write(path string, m Manifest) error {
	if m.Version == "" {
		m.Version = CurrentVersion
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&m); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	// WriteFile reports errors from close as well as write.
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func int64p(v int64) *int64 { return &v }

// Template is a small manifest used by rasm -init.
func Template() Manifest {
	return Manifest{
		Version: CurrentVersion,
		Name:    "demo",
		Format:  object.FormatELF.String(),
		Functions: []Function{
			{
				Name: "add",
				Steps: []Step{
					{Op: "lea", Args: []Arg{{Reg: "rax"}, {Mem: &Mem{Base: "rdi", Index: "rsi", Scale: 1}}}},
					{Op: "ret"},
				},
			},
			{
				Name:  "countdown",
				Align: 16,
				Steps: []Step{
					{Op: "mov", Args: []Arg{{Reg: "rax"}, {Reg: "rdi"}}},
					{Label: "loop"},
					{Op: "dec", Args: []Arg{{Reg: "rax"}}},
					{Op: "jnz", Args: []Arg{{Backward: "loop"}}},
					{Op: "add", Args: []Arg{{Reg: "rax"}, {Imm: int64p(1)}}},
					{Op: "ret"},
				},
			},
		},
	}
}
