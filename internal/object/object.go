// Package object turns resolved assembler output into relocatable objects
// and wraps them in a static-library archive.
package object

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tinyrange/rasm/internal/archive"
	"github.com/tinyrange/rasm/internal/asm"
	"github.com/tinyrange/rasm/internal/coff"
	"github.com/tinyrange/rasm/internal/elfobj"
)

// DefaultSourceName is recorded as the source file of ELF objects.
const DefaultSourceName = "fooasm.asm"

var (
	ErrUnknownFormat  = errors.New("unknown object format")
	ErrUnknownMachine = errors.New("unknown machine")
)

// Format selects the object container.
type Format uint8

const (
	FormatCOFF Format = iota + 1
	FormatELF
)

func (f Format) String() string {
	switch f {
	case FormatCOFF:
		return "coff"
	case FormatELF:
		return "elf"
	default:
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
}

// ParseFormat accepts "coff" or "elf", case insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "coff", "pe":
		return FormatCOFF, nil
	case "elf":
		return FormatELF, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Set implements flag.Value.
func (f *Format) Set(s string) error {
	v, err := ParseFormat(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Machine is the target architecture recorded in the object header.
type Machine uint8

const (
	MachineAMD64 Machine = iota + 1
	MachineI386
)

func (m Machine) String() string {
	switch m {
	case MachineAMD64:
		return "amd64"
	case MachineI386:
		return "i386"
	default:
		return fmt.Sprintf("Machine(%d)", uint8(m))
	}
}

// ParseMachine accepts the common spellings of both machines.
func ParseMachine(s string) (Machine, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "amd64", "x86_64", "x86-64", "x64":
		return MachineAMD64, nil
	case "i386", "386", "x86":
		return MachineI386, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMachine, s)
}

func (m Machine) coff() uint16 {
	if m == MachineI386 {
		return coff.MachineI386
	}
	return coff.MachineAMD64
}

func (m Machine) elf() (elfobj.Architecture, elfobj.WordSize) {
	if m == MachineI386 {
		return elfobj.ArchX86, elfobj.Bits32
	}
	return elfobj.ArchX86_64, elfobj.Bits64
}

// Options controls object emission. Zero values are replaced by defaults.
type Options struct {
	Format  Format
	Machine Machine

	// WordSize and Endianness apply to ELF output only. WordSize defaults
	// to the machine's native width.
	WordSize   elfobj.WordSize
	Endianness elfobj.Endianness

	// SourceName is the file name recorded in the ELF FILE symbol.
	SourceName string

	// Timestamp is the COFF header timestamp.
	Timestamp uint32

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Format == 0 {
		o.Format = FormatCOFF
	}
	if o.Machine == 0 {
		o.Machine = MachineAMD64
	}
	if o.WordSize == 0 {
		_, o.WordSize = o.Machine.elf()
	}
	if o.Endianness == 0 {
		o.Endianness = elfobj.LittleEndian
	}
	if o.SourceName == "" {
		o.SourceName = DefaultSourceName
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) validate() error {
	switch o.Format {
	case FormatCOFF, FormatELF:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, o.Format)
	}
	switch o.Machine {
	case MachineAMD64, MachineI386:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownMachine, o.Machine)
	}
	return nil
}

// Encode builds a relocatable object holding obj's code in .text with one
// global function symbol per export.
func Encode(obj asm.ObjectFile, opts Options) ([]byte, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	var (
		data []byte
		err  error
	)
	switch opts.Format {
	case FormatCOFF:
		exports := make([]coff.Export, 0, len(obj.Functions))
		for _, fn := range obj.Functions {
			exports = append(exports, coff.Export{Offset: fn.Offset, Name: fn.Name})
		}
		data, err = coff.Text(opts.Machine.coff(), opts.Timestamp, obj.Code, exports).Encode()
	case FormatELF:
		arch, _ := opts.Machine.elf()
		file := elfobj.File{
			WordSize:     opts.WordSize,
			Endianness:   opts.Endianness,
			Architecture: arch,
			FileName:     opts.SourceName,
			Text:         obj.Code,
		}
		for _, fn := range obj.Functions {
			file.Functions = append(file.Functions, elfobj.Function{Offset: uint64(fn.Offset), Name: fn.Name})
		}
		data, err = file.Encode()
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s object: %w", opts.Format, err)
	}

	opts.Logger.Debug("encoded object",
		slog.String("format", opts.Format.String()),
		slog.String("machine", opts.Machine.String()),
		slog.Int("code", len(obj.Code)),
		slog.Int("functions", len(obj.Functions)),
		slog.Int("size", len(data)),
	)
	return data, nil
}

// Archive encodes obj and wraps it as the only member of an ar archive.
func Archive(obj asm.ObjectFile, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteArchive(&buf, obj, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteArchive writes the archive form of obj to w.
func WriteArchive(w io.Writer, obj asm.ObjectFile, opts Options) error {
	data, err := Encode(obj, opts)
	if err != nil {
		return err
	}
	if err := archive.WriteSingle(w, data); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return nil
}
