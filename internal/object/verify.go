package object

import (
	"bytes"
	"debug/elf"
	"debug/pe"
	"errors"
	"fmt"

	"github.com/tinyrange/rasm/internal/archive"
	"github.com/tinyrange/rasm/internal/asm"
)

var ErrVerify = errors.New("library verification failed")

// Verify re-reads a library produced by Archive and checks that it holds a
// single object whose .text and function symbols match obj.
func Verify(lib []byte, obj asm.ObjectFile, opts Options) error {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return err
	}

	members, err := archive.Read(lib)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerify, err)
	}
	if len(members) != 1 {
		return fmt.Errorf("%w: %d archive members, want 1", ErrVerify, len(members))
	}
	data := members[0].Data

	var (
		text    []byte
		symbols map[string]uint64
	)
	switch opts.Format {
	case FormatCOFF:
		text, symbols, err = readCOFF(data)
	case FormatELF:
		text, symbols, err = readELF(data)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerify, err)
	}

	if !bytes.Equal(text, obj.Code) {
		return fmt.Errorf("%w: .text differs from assembled code", ErrVerify)
	}
	for _, fn := range obj.Functions {
		off, ok := symbols[fn.Name]
		if !ok {
			return fmt.Errorf("%w: missing symbol %q", ErrVerify, fn.Name)
		}
		if off != uint64(fn.Offset) {
			return fmt.Errorf("%w: symbol %q at %#x, want %#x", ErrVerify, fn.Name, off, fn.Offset)
		}
	}
	return nil
}

func readCOFF(data []byte) ([]byte, map[string]uint64, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	sec := f.Section(".text")
	if sec == nil {
		return nil, nil, errors.New("no .text section")
	}
	text, err := sec.Data()
	if err != nil {
		return nil, nil, fmt.Errorf("read .text: %w", err)
	}

	symbols := make(map[string]uint64)
	for _, sym := range f.Symbols {
		if sym.SectionNumber == 1 && sym.StorageClass == 2 {
			symbols[sym.Name] = uint64(sym.Value)
		}
	}
	return text, symbols, nil
}

func readELF(data []byte) ([]byte, map[string]uint64, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	sec := f.Section(".text")
	if sec == nil {
		return nil, nil, errors.New("no .text section")
	}
	text, err := sec.Data()
	if err != nil {
		return nil, nil, fmt.Errorf("read .text: %w", err)
	}

	syms, err := f.Symbols()
	if err != nil {
		return nil, nil, fmt.Errorf("read symbols: %w", err)
	}
	symbols := make(map[string]uint64)
	for _, sym := range syms {
		if elf.ST_BIND(sym.Info) == elf.STB_GLOBAL {
			symbols[sym.Name] = sym.Value
		}
	}
	return text, symbols, nil
}
