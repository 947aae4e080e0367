// Package elfobj writes minimal ELF relocatable objects holding a single
// .text section and a symbol for each exported function.
package elfobj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
)

// WordSize selects the ELF class.
type WordSize uint8

const (
	Bits32 WordSize = 1
	Bits64 WordSize = 2
)

func (w WordSize) String() string {
	switch w {
	case Bits32:
		return "32-bit"
	case Bits64:
		return "64-bit"
	}
	return fmt.Sprintf("WordSize(%d)", uint8(w))
}

// Endianness selects the data encoding of every multi-byte field.
type Endianness uint8

const (
	LittleEndian Endianness = 1
	BigEndian    Endianness = 2
)

func (e Endianness) byteOrder() binary.AppendByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Architecture is the e_machine value.
type Architecture uint16

const (
	ArchX86    = Architecture(elf.EM_386)
	ArchARM    = Architecture(elf.EM_ARM)
	ArchX86_64 = Architecture(elf.EM_X86_64)
	ArchAVR    = Architecture(elf.EM_AVR)
)

const (
	sectionCount = 5
	shstrndx     = 2

	// bodyBase is the file offset of the first section body. Both header
	// layouts fit below it.
	bodyBase  = 0x180
	bodyAlign = 16

	textFlags = uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR)
)

// Function is an exported symbol in .text.
type Function struct {
	Offset uint64
	Name   string
}

// File describes one relocatable object.
type File struct {
	WordSize     WordSize
	Endianness   Endianness
	Architecture Architecture
	// FileName is recorded in the STT_FILE symbol.
	FileName  string
	Functions []Function
	Text      []byte
}

func (f File) withDefaults() File {
	if f.WordSize == 0 {
		f.WordSize = Bits64
	}
	if f.Endianness == 0 {
		f.Endianness = LittleEndian
	}
	if f.Architecture == 0 {
		f.Architecture = ArchX86_64
	}
	return f
}

func (f File) validate() error {
	switch f.WordSize {
	case Bits32, Bits64:
	default:
		return fmt.Errorf("unsupported word size %d", uint8(f.WordSize))
	}
	switch f.Endianness {
	case LittleEndian, BigEndian:
	default:
		return fmt.Errorf("unsupported endianness %d", uint8(f.Endianness))
	}
	for _, fn := range f.Functions {
		if fn.Offset > uint64(len(f.Text)) {
			return fmt.Errorf("function %q offset %#x beyond .text (%#x bytes)", fn.Name, fn.Offset, len(f.Text))
		}
	}
	if f.WordSize == Bits32 && uint64(len(f.Text)) > 0xFFFFFFFF {
		return fmt.Errorf(".text too large for a 32-bit object")
	}
	return nil
}

func (f File) headerSize() uint64 {
	if f.WordSize == Bits32 {
		return 0x34
	}
	return 0x40
}

func (f File) sectionHeaderSize() uint64 {
	if f.WordSize == Bits32 {
		return 0x28
	}
	return 0x40
}

func (f File) symbolSize() uint64 {
	if f.WordSize == Bits32 {
		return 0x10
	}
	return 0x18
}

// stringTable is an ELF string table. Offset 0 is the empty string.
type stringTable struct {
	data []byte
}

func newStringTable() *stringTable {
	return &stringTable{data: []byte{0}}
}

func (s *stringTable) append(str string) uint32 {
	if str == "" {
		return 0
	}
	off := uint32(len(s.data))
	s.data = append(s.data, str...)
	s.data = append(s.data, 0)
	return off
}

type symbol struct {
	name  string
	value uint64
	size  uint64
	info  uint8
	other uint8
	shndx uint16
}

type sectionHeader struct {
	name    string
	typ     elf.SectionType
	flags   uint64
	addr    uint64
	content []byte
	link    uint32
	info    uint32
	align   uint64
	entsize uint64
}

// writer emits fields in the file's word size and byte order.
type writer struct {
	buf   bytes.Buffer
	order binary.AppendByteOrder
	wide  bool
}

func (w *writer) u8(v uint8) { w.buf.WriteByte(v) }

func (w *writer) u16(v uint16) {
	w.buf.Write(w.order.AppendUint16(nil, v))
}

func (w *writer) u32(v uint32) {
	w.buf.Write(w.order.AppendUint32(nil, v))
}

func (w *writer) u64(v uint64) {
	w.buf.Write(w.order.AppendUint64(nil, v))
}

func (w *writer) word(v uint64) {
	if w.wide {
		w.u64(v)
	} else {
		w.u32(uint32(v))
	}
}

func (w *writer) padTo(offset int) {
	for w.buf.Len() < offset {
		w.buf.WriteByte(0)
	}
}

func (f File) symbols() []symbol {
	syms := []symbol{
		{},
		{name: f.FileName, info: uint8(elf.STT_FILE), shndx: uint16(elf.SHN_ABS)},
		{info: uint8(elf.STT_SECTION), shndx: 1},
	}
	for _, fn := range f.Functions {
		syms = append(syms, symbol{
			name:  fn.Name,
			value: fn.Offset,
			info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_NOTYPE),
			shndx: 1,
		})
	}
	return syms
}

func (f File) symbolTable(strtab *stringTable) []byte {
	w := &writer{order: f.Endianness.byteOrder(), wide: f.WordSize == Bits64}
	for _, sym := range f.symbols() {
		name := strtab.append(sym.name)
		if w.wide {
			w.u32(name)
			w.u8(sym.info)
			w.u8(sym.other)
			w.u16(sym.shndx)
			w.u64(sym.value)
			w.u64(sym.size)
		} else {
			w.u32(name)
			w.u32(uint32(sym.value))
			w.u32(uint32(sym.size))
			w.u8(sym.info)
			w.u8(sym.other)
			w.u16(sym.shndx)
		}
	}
	return w.buf.Bytes()
}

// Encode serializes the object.
func (f File) Encode() ([]byte, error) {
	f = f.withDefaults()
	if err := f.validate(); err != nil {
		return nil, err
	}

	strtab := newStringTable()
	symtab := f.symbolTable(strtab)

	symAlign := uint64(4)
	if f.WordSize == Bits64 {
		symAlign = 8
	}

	sections := [sectionCount]sectionHeader{
		{},
		{name: ".text", typ: elf.SHT_PROGBITS, flags: textFlags, content: f.Text, align: 16},
		{name: ".shstrtab", typ: elf.SHT_STRTAB, align: 1},
		{name: ".symtab", typ: elf.SHT_SYMTAB, content: symtab, link: 4, info: 3, align: symAlign, entsize: f.symbolSize()},
		{name: ".strtab", typ: elf.SHT_STRTAB, content: strtab.data, align: 1},
	}

	shstrtab := newStringTable()
	var nameOffsets [sectionCount]uint32
	for i, sec := range sections {
		nameOffsets[i] = shstrtab.append(sec.name)
	}
	sections[shstrndx].content = shstrtab.data

	w := &writer{order: f.Endianness.byteOrder(), wide: f.WordSize == Bits64}

	w.buf.Write([]byte(elf.ELFMAG))
	w.u8(uint8(f.WordSize))
	w.u8(uint8(f.Endianness))
	w.u8(uint8(elf.EV_CURRENT))
	w.u8(uint8(elf.ELFOSABI_NONE))
	w.buf.Write(make([]byte, 8))
	w.u16(uint16(elf.ET_REL))
	w.u16(uint16(f.Architecture))
	w.u32(uint32(elf.EV_CURRENT))
	w.word(0) // entry
	w.word(0) // program headers
	w.word(f.headerSize())
	w.u32(0) // flags
	w.u16(uint16(f.headerSize()))
	w.u16(0)
	w.u16(0)
	w.u16(uint16(f.sectionHeaderSize()))
	w.u16(sectionCount)
	w.u16(shstrndx)

	offset := uint64(bodyBase)
	for i, sec := range sections {
		size := uint64(len(sec.content))
		if size != 0 {
			offset = alignUp(offset, bodyAlign)
		}
		fileOffset := uint64(0)
		if size != 0 {
			fileOffset = offset
		}
		w.u32(nameOffsets[i])
		w.u32(uint32(sec.typ))
		w.word(sec.flags)
		w.word(sec.addr)
		w.word(fileOffset)
		w.word(size)
		w.u32(sec.link)
		w.u32(sec.info)
		w.word(sec.align)
		w.word(sec.entsize)
		offset += size
	}

	w.padTo(bodyBase)
	for _, sec := range sections {
		w.buf.Write(sec.content)
		w.padTo(int(alignUp(uint64(w.buf.Len()), bodyAlign)))
	}

	return w.buf.Bytes(), nil
}

// WriteTo writes the encoded object to dst.
func (f File) WriteTo(dst io.Writer) (int64, error) {
	data, err := f.Encode()
	if err != nil {
		return 0, err
	}
	n, err := dst.Write(data)
	return int64(n), err
}

func alignUp(v, boundary uint64) uint64 {
	return (v + boundary - 1) &^ (boundary - 1)
}
