// Package coff writes COFF relocatable object files.
package coff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

const (
	MachineI386  uint16 = 0x014c
	MachineIA64  uint16 = 0x0200
	MachineAMD64 uint16 = 0x8664
)

// File header characteristics.
const (
	CharacteristicsLineNumsStripped uint16 = 0x0004
)

// Section characteristics.
const (
	SectionCode            uint32 = 0x00000020
	SectionInitializedData uint32 = 0x00000040
	SectionAlign16Bytes    uint32 = 0x00500000
	SectionMemExecute      uint32 = 0x20000000
	SectionMemRead         uint32 = 0x40000000
	SectionMemWrite        uint32 = 0x80000000

	// TextCharacteristics marks an executable, readable, 16-byte aligned
	// code section.
	TextCharacteristics = SectionCode | SectionAlign16Bytes | SectionMemExecute | SectionMemRead
)

// Symbol type and storage class values.
const (
	TypeFunction uint16 = 0x20

	ClassExternal uint8 = 2
	ClassStatic   uint8 = 3
	ClassFile     uint8 = 0x67
)

const (
	fileHeaderSize    = 20
	sectionHeaderSize = 40
	relocationSize    = 10
	symbolSize        = 18
	nameFieldSize     = 8

	// AuxSymbolSize is the size of one auxiliary symbol record.
	AuxSymbolSize = symbolSize
)

var (
	ErrTooManySections           = errors.New("too many sections in COFF")
	ErrOptionalHeaderTooLarge    = errors.New("optional header too large")
	ErrOptionalHeaderUnsupported = errors.New("optional header is not supported")
	ErrSectionTooLarge           = errors.New("data for COFF section too long")
	ErrTooManyRelocations        = errors.New("too many relocations in COFF section")
	ErrTooManyAuxSymbols         = errors.New("too many auxiliary symbols")
	ErrSectionNameOffset         = errors.New("section name offset does not fit in header")
)

// Relocation is one fixup entry of a section.
type Relocation struct {
	VirtualAddress uint32
	SymbolIndex    uint32
	Type           uint16
}

// Section is a named block of raw data.
type Section struct {
	Name            string
	Data            []byte
	Characteristics uint32
	Relocations     []Relocation
}

// Symbol is a symbol table entry followed by its auxiliary records.
type Symbol struct {
	Name          string
	Value         uint32
	SectionNumber int16
	Type          uint16
	StorageClass  uint8
	Aux           [][AuxSymbolSize]byte
}

// File is a COFF object.
type File struct {
	Machine         uint16
	Timestamp       uint32
	Sections        []Section
	Symbols         []Symbol
	OptionalHeader  []byte
	Characteristics uint16
}

// stringTable queues names too long for an 8-byte field. Offsets count the
// 4-byte length prefix.
type stringTable struct {
	names [][]byte
	size  uint32
}

func newStringTable() *stringTable {
	return &stringTable{size: 4}
}

func (s *stringTable) add(name string) uint32 {
	off := s.size
	s.names = append(s.names, []byte(name))
	s.size += uint32(len(name)) + 1
	return off
}

func (s *stringTable) writeTo(buf *bytes.Buffer) {
	buf.Write(binary.LittleEndian.AppendUint32(nil, s.size))
	for _, name := range s.names {
		buf.Write(name)
		buf.WriteByte(0)
	}
}

func (f *File) validate() error {
	if len(f.OptionalHeader) > math.MaxUint16 {
		return fmt.Errorf("%w: %d bytes", ErrOptionalHeaderTooLarge, len(f.OptionalHeader))
	}
	if len(f.OptionalHeader) != 0 {
		return fmt.Errorf("%w: %d bytes", ErrOptionalHeaderUnsupported, len(f.OptionalHeader))
	}
	if len(f.Sections) > math.MaxUint16 {
		return fmt.Errorf("%w: %d", ErrTooManySections, len(f.Sections))
	}
	for _, sec := range f.Sections {
		if uint64(len(sec.Data)) > math.MaxUint32 {
			return fmt.Errorf("%w: %s has %d bytes", ErrSectionTooLarge, sec.Name, len(sec.Data))
		}
		if len(sec.Relocations) > math.MaxUint16 {
			return fmt.Errorf("%w: %s has %d", ErrTooManyRelocations, sec.Name, len(sec.Relocations))
		}
	}
	for _, sym := range f.Symbols {
		if len(sym.Aux) > math.MaxUint8 {
			return fmt.Errorf("%w: %s has %d", ErrTooManyAuxSymbols, sym.Name, len(sym.Aux))
		}
	}
	return nil
}

func putName(field []byte, name string) {
	copy(field[:nameFieldSize], name)
}

// longSectionName returns the "/offset" reference to a section name stored in
// the string table. The decimal form must fit the eight-byte name field.
func longSectionName(offset uint32) (string, error) {
	name := "/" + strconv.FormatUint(uint64(offset), 10)
	if len(name) > nameFieldSize {
		return "", fmt.Errorf("%w: %d", ErrSectionNameOffset, offset)
	}
	return name, nil
}

// Encode serializes the object. Section bodies are concatenated without
// padding between them.
func (f *File) Encode() ([]byte, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}

	bodyStart := uint64(fileHeaderSize + sectionHeaderSize*len(f.Sections))
	var bodyLen, relocCount uint64
	for _, sec := range f.Sections {
		bodyLen += uint64(len(sec.Data))
		relocCount += uint64(len(sec.Relocations))
	}
	relocStart := bodyStart + bodyLen
	symbolStart := relocStart + relocCount*relocationSize
	var symbolCount uint64
	for _, sym := range f.Symbols {
		symbolCount += 1 + uint64(len(sym.Aux))
	}
	if symbolStart > math.MaxUint32 || symbolCount > math.MaxUint32 {
		return nil, fmt.Errorf("%w: symbol table at %#x", ErrSectionTooLarge, symbolStart)
	}

	var buf bytes.Buffer
	le := binary.LittleEndian
	strtab := newStringTable()

	var hdr [fileHeaderSize]byte
	le.PutUint16(hdr[0:], f.Machine)
	le.PutUint16(hdr[2:], uint16(len(f.Sections)))
	le.PutUint32(hdr[4:], f.Timestamp)
	le.PutUint32(hdr[8:], uint32(symbolStart))
	le.PutUint32(hdr[12:], uint32(symbolCount))
	le.PutUint16(hdr[16:], uint16(len(f.OptionalHeader)))
	le.PutUint16(hdr[18:], f.Characteristics)
	buf.Write(hdr[:])
	buf.Write(f.OptionalHeader)

	dataOffset := uint32(bodyStart)
	relocOffset := uint32(relocStart)
	for _, sec := range f.Sections {
		var sh [sectionHeaderSize]byte
		if len(sec.Name) <= nameFieldSize {
			putName(sh[:], sec.Name)
		} else {
			name, err := longSectionName(strtab.add(sec.Name))
			if err != nil {
				return nil, fmt.Errorf("section %.16s: %w", sec.Name, err)
			}
			putName(sh[:], name)
		}
		// Virtual size and address stay zero in object files.
		le.PutUint32(sh[16:], uint32(len(sec.Data)))
		if len(sec.Data) > 0 {
			le.PutUint32(sh[20:], dataOffset)
		}
		if len(sec.Relocations) > 0 {
			le.PutUint32(sh[24:], relocOffset)
		}
		le.PutUint16(sh[32:], uint16(len(sec.Relocations)))
		le.PutUint32(sh[36:], sec.Characteristics)
		buf.Write(sh[:])

		dataOffset += uint32(len(sec.Data))
		relocOffset += uint32(len(sec.Relocations)) * relocationSize
	}

	for _, sec := range f.Sections {
		buf.Write(sec.Data)
	}

	for _, sec := range f.Sections {
		for _, rel := range sec.Relocations {
			var r [relocationSize]byte
			le.PutUint32(r[0:], rel.VirtualAddress)
			le.PutUint32(r[4:], rel.SymbolIndex)
			le.PutUint16(r[8:], rel.Type)
			buf.Write(r[:])
		}
	}

	for _, sym := range f.Symbols {
		var s [symbolSize]byte
		if len(sym.Name) <= nameFieldSize {
			putName(s[:], sym.Name)
		} else {
			le.PutUint32(s[4:], strtab.add(sym.Name))
		}
		le.PutUint32(s[8:], sym.Value)
		le.PutUint16(s[12:], uint16(sym.SectionNumber))
		le.PutUint16(s[14:], sym.Type)
		s[16] = sym.StorageClass
		s[17] = uint8(len(sym.Aux))
		buf.Write(s[:])
		for _, aux := range sym.Aux {
			buf.Write(aux[:])
		}
	}

	strtab.writeTo(&buf)
	return buf.Bytes(), nil
}

// WriteTo writes the encoded object to w.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	data, err := f.Encode()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// SectionAux builds the auxiliary record of a section symbol.
func SectionAux(length uint32, relocations, lineNumbers uint16) [AuxSymbolSize]byte {
	var aux [AuxSymbolSize]byte
	binary.LittleEndian.PutUint32(aux[0:], length)
	binary.LittleEndian.PutUint16(aux[4:], relocations)
	binary.LittleEndian.PutUint16(aux[6:], lineNumbers)
	return aux
}

// Text builds the single-section object used for assembled code: a .text
// section, its section symbol, and one external function symbol per export.
func Text(machine uint16, timestamp uint32, code []byte, exports []Export) *File {
	f := &File{
		Machine:         machine,
		Timestamp:       timestamp,
		Characteristics: CharacteristicsLineNumsStripped,
		Sections: []Section{{
			Name:            ".text",
			Data:            code,
			Characteristics: TextCharacteristics,
		}},
		Symbols: []Symbol{{
			Name:          ".text",
			SectionNumber: 1,
			StorageClass:  ClassStatic,
			Aux:           [][AuxSymbolSize]byte{SectionAux(uint32(len(code)), 0, 0)},
		}},
	}
	for _, exp := range exports {
		f.Symbols = append(f.Symbols, Symbol{
			Name:          exp.Name,
			Value:         exp.Offset,
			SectionNumber: 1,
			Type:          TypeFunction,
			StorageClass:  ClassExternal,
			Aux:           [][AuxSymbolSize]byte{{}},
		})
	}
	return f
}

// Export is a function symbol in the .text section.
type Export struct {
	Offset uint32
	Name   string
}
