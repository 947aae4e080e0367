package object

import (
	"bytes"
	"debug/elf"
	"debug/pe"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tinyrange/rasm/internal/archive"
	"github.com/tinyrange/rasm/internal/asm"
)

func sampleObject() asm.ObjectFile {
	return asm.ObjectFile{
		// mov eax, 1; ret; mov eax, 2; ret
		Code: []byte{0xb8, 0x01, 0x00, 0x00, 0x00, 0xc3, 0xb8, 0x02, 0x00, 0x00, 0x00, 0xc3},
		Functions: []asm.ExportedFunction{
			{Offset: 0, Name: "one"},
			{Offset: 6, Name: "two_with_long_name"},
		},
	}
}

func TestEncodeCOFFDefault(t *testing.T) {
	data, err := Encode(sampleObject(), Options{Timestamp: 77})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("pe.NewFile: %v", err)
	}
	if f.Machine != pe.IMAGE_FILE_MACHINE_AMD64 {
		t.Fatalf("machine=%#x, want %#x", f.Machine, pe.IMAGE_FILE_MACHINE_AMD64)
	}
	if f.TimeDateStamp != 77 {
		t.Fatalf("timestamp=%d, want 77", f.TimeDateStamp)
	}
	text := f.Section(".text")
	if text == nil {
		t.Fatalf("missing .text")
	}
	code, err := text.Data()
	if err != nil {
		t.Fatalf("text data: %v", err)
	}
	if !bytes.Equal(code, sampleObject().Code) {
		t.Fatalf("code=%x", code)
	}

	want := map[string]uint32{"one": 0, "two_with_long_name": 6}
	for _, sym := range f.Symbols {
		off, ok := want[sym.Name]
		if !ok {
			continue
		}
		if sym.Value != off || sym.SectionNumber != 1 || sym.StorageClass != 2 {
			t.Fatalf("symbol %s=%+v", sym.Name, sym)
		}
		delete(want, sym.Name)
	}
	if len(want) != 0 {
		t.Fatalf("missing symbols %v", want)
	}
}

func TestEncodeELF(t *testing.T) {
	data, err := Encode(sampleObject(), Options{Format: FormatELF, SourceName: "prog.yaml"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_X86_64 || f.Type != elf.ET_REL {
		t.Fatalf("header class=%v machine=%v type=%v", f.Class, f.Machine, f.Type)
	}
	syms, err := f.Symbols()
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}
	var names []string
	for _, s := range syms {
		names = append(names, s.Name)
	}
	if len(names) != 4 || names[0] != "prog.yaml" || names[2] != "one" || names[3] != "two_with_long_name" {
		t.Fatalf("symbols=%q", names)
	}
	if syms[3].Value != 6 {
		t.Fatalf("two value=%d, want 6", syms[3].Value)
	}
}

func TestEncodeELFI386(t *testing.T) {
	data, err := Encode(sampleObject(), Options{Format: FormatELF, Machine: MachineI386})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	if f.Class != elf.ELFCLASS32 || f.Machine != elf.EM_386 {
		t.Fatalf("class=%v machine=%v", f.Class, f.Machine)
	}
}

func TestArchiveWrapsObject(t *testing.T) {
	for _, format := range []Format{FormatCOFF, FormatELF} {
		opts := Options{Format: format}
		obj, err := Encode(sampleObject(), opts)
		if err != nil {
			t.Fatalf("%s: Encode: %v", format, err)
		}
		lib, err := Archive(sampleObject(), opts)
		if err != nil {
			t.Fatalf("%s: Archive: %v", format, err)
		}
		members, err := archive.Read(lib)
		if err != nil {
			t.Fatalf("%s: archive.Read: %v", format, err)
		}
		if len(members) != 1 || members[0].Name != archive.DefaultMemberName {
			t.Fatalf("%s: members=%+v", format, members)
		}
		if !bytes.Equal(members[0].Data, obj) {
			t.Fatalf("%s: member does not match encoded object", format)
		}
	}
}

func TestOptionErrors(t *testing.T) {
	if _, err := Encode(sampleObject(), Options{Format: Format(9)}); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("err=%v, want ErrUnknownFormat", err)
	}
	if _, err := Encode(sampleObject(), Options{Machine: Machine(9)}); !errors.Is(err, ErrUnknownMachine) {
		t.Fatalf("err=%v, want ErrUnknownMachine", err)
	}

	bad := sampleObject()
	bad.Functions = append(bad.Functions, asm.ExportedFunction{Offset: 100, Name: "past_end"})
	if _, err := Encode(bad, Options{Format: FormatELF}); err == nil {
		t.Fatalf("function past end of code encoded without error")
	}
}

func TestParseFormatAndMachine(t *testing.T) {
	for in, want := range map[string]Format{"coff": FormatCOFF, "ELF": FormatELF, " pe ": FormatCOFF} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q)=%v, %v, want %v", in, got, err, want)
		}
	}
	if _, err := ParseFormat("macho"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("err=%v, want ErrUnknownFormat", err)
	}
	if m, err := ParseMachine("x86_64"); err != nil || m != MachineAMD64 {
		t.Fatalf("ParseMachine=%v, %v", m, err)
	}
	if _, err := ParseMachine("arm64"); !errors.Is(err, ErrUnknownMachine) {
		t.Fatalf("err=%v, want ErrUnknownMachine", err)
	}

	var f Format
	if err := f.Set("elf"); err != nil || f.String() != "elf" {
		t.Fatalf("Set: f=%v err=%v", f, err)
	}
}

func TestDirSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	sink := DirSink{Dir: dir}

	path, err := Emit(sink, "foo", sampleObject(), Options{})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if path != filepath.Join(dir, "libfoo.a") {
		t.Fatalf("path=%q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.HasPrefix(data, []byte(archive.Magic)) {
		t.Fatalf("library missing archive magic")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries=%d, want 1 (temp file left behind?)", len(entries))
	}

	if got := sink.LinkFlags("foo"); got != "-L native="+dir+" -l static=foo" {
		t.Fatalf("LinkFlags=%q", got)
	}
}

func TestMemorySinkAndNames(t *testing.T) {
	var sink MemorySink
	for _, name := range []string{"b", "a"} {
		if _, err := Emit(&sink, name, sampleObject(), Options{Format: FormatELF}); err != nil {
			t.Fatalf("Emit(%s): %v", name, err)
		}
	}
	if names := sink.Names(); len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("names=%v", names)
	}
	if _, ok := sink.Get("missing"); ok {
		t.Fatalf("Get(missing) ok")
	}

	for _, name := range []string{"", "a/b", ".."} {
		if _, err := Emit(&sink, name, sampleObject(), Options{}); !errors.Is(err, ErrInvalidLibraryName) {
			t.Fatalf("name %q: err=%v, want ErrInvalidLibraryName", name, err)
		}
	}
}

func TestOutDirFromEnv(t *testing.T) {
	t.Setenv(OutDirEnv, "")
	if got := OutDirFromEnv(); got != "." {
		t.Fatalf("OutDirFromEnv()=%q, want .", got)
	}
	t.Setenv(OutDirEnv, "/tmp/build")
	if got := OutDirFromEnv(); got != "/tmp/build" {
		t.Fatalf("OutDirFromEnv()=%q, want /tmp/build", got)
	}
}

func TestVerify(t *testing.T) {
	for _, format := range []Format{FormatCOFF, FormatELF} {
		opts := Options{Format: format}
		lib, err := Archive(sampleObject(), opts)
		if err != nil {
			t.Fatalf("%s: Archive: %v", format, err)
		}
		if err := Verify(lib, sampleObject(), opts); err != nil {
			t.Fatalf("%s: Verify: %v", format, err)
		}

		other := sampleObject()
		other.Functions[1].Offset = 5
		if err := Verify(lib, other, opts); !errors.Is(err, ErrVerify) {
			t.Fatalf("%s: err=%v, want ErrVerify", format, err)
		}

		if err := Verify(lib[:len(lib)-4], sampleObject(), opts); !errors.Is(err, ErrVerify) {
			t.Fatalf("%s: truncated: err=%v, want ErrVerify", format, err)
		}
	}
}
