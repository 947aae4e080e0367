package manifest

import (
	"encoding/hex"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinyrange/rasm/internal/asm"
	"github.com/tinyrange/rasm/internal/asm/amd64"
	"github.com/tinyrange/rasm/internal/object"
)

func parse(t *testing.T, doc string) Manifest {
	t.Helper()
	m, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return m
}

func assemble(t *testing.T, doc string) asm.ObjectFile {
	t.Helper()
	obj, err := parse(t, doc).Assemble(nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return obj
}

func expectCode(t *testing.T, got []byte, want string) {
	t.Helper()
	if hex.EncodeToString(got) != want {
		t.Fatalf("code=%x, want %s", got, want)
	}
}

func TestAssembleFunctions(t *testing.T) {
	obj := assemble(t, `
version: v1.2.0
name: demo
functions:
  - name: five
    steps:
      - op: mov
        args: [rax, 5]
      - op: ret
  - name: spin
    steps:
      - label: top
      - op: jmp
        args: [{backward: top}]
`)
	expectCode(t, obj.Code, "48c7c005000000"+"c3"+"e9fbffffff")

	if len(obj.Functions) != 2 {
		t.Fatalf("functions=%v", obj.Functions)
	}
	if fn, ok := obj.Function("spin"); !ok || fn.Offset != 8 {
		t.Fatalf("spin=%+v ok=%v, want offset 8", fn, ok)
	}
}

func TestRipLabelAndBytes(t *testing.T) {
	obj := assemble(t, `
version: "1.0.0"
functions:
  - name: table
    steps:
      - op: lea
        args: [rax, {rip: {forward: data}}]
      - op: ret
      - label: data
      - bytes: [1, 2]
`)
	expectCode(t, obj.Code, "488d0501000000c30102")
}

func TestMemoryAndSizedOperands(t *testing.T) {
	obj := assemble(t, `
version: v1.0.0
functions:
  - name: store
    steps:
      - op: mov
        args: [{mem: {base: rsp, disp: 0x28}}, rax]
      - op: mov
        args: [{mem: {base: rdx, disp: 5, size: byte}}, 0x7f]
      - op: add
        args: [rcx, {imm: 0x7f}]
`)
	expectCode(t, obj.Code, "4889442428"+"c642057f"+"4883c17f")
}

func TestPrefixesAndAlign(t *testing.T) {
	obj := assemble(t, `
version: v1.0.0
functions:
  - name: first
    steps:
      - op: ret
  - name: second
    align: 8
    steps:
      - op: add
        prefixes: [lock]
        args: [{mem: {base: rcx}}, bl]
`)
	expectCode(t, obj.Code, "c3"+"90909090909090"+"f00019")
	if fn, _ := obj.Function("second"); fn.Offset != 8 {
		t.Fatalf("second offset=%d, want 8", fn.Offset)
	}
}

func TestVersionChecks(t *testing.T) {
	for _, tc := range []struct {
		version string
		want    error
	}{
		{"", ErrInvalidVersion},
		{"banana", ErrInvalidVersion},
		{"v2.0.0", ErrUnsupportedVersion},
		{"v0.9.0", ErrUnsupportedVersion},
	} {
		m := Manifest{Version: tc.version, Functions: []Function{{Name: "f"}}}
		if err := m.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("version %q: err=%v, want %v", tc.version, err, tc.want)
		}
	}
}

func TestValidationErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"no functions": "version: v1.0.0\nfunctions: []\n",
		"duplicate":    "version: v1.0.0\nfunctions:\n  - name: f\n  - name: f\n",
		"two kinds":    "version: v1.0.0\nfunctions:\n  - name: f\n    steps:\n      - op: ret\n        label: x\n",
		"empty step":   "version: v1.0.0\nfunctions:\n  - name: f\n    steps:\n      - {}\n",
		"byte range":   "version: v1.0.0\nfunctions:\n  - name: f\n    steps:\n      - bytes: [256]\n",
		"args no op":   "version: v1.0.0\nfunctions:\n  - name: f\n    steps:\n      - label: x\n        args: [rax]\n",
		"unnamed":      "version: v1.0.0\nfunctions:\n  - steps: []\n",
		"empty":        "",
	} {
		_, err := Parse(strings.NewReader(doc))
		if !errors.Is(err, ErrInvalidManifest) {
			t.Fatalf("%s: err=%v, want ErrInvalidManifest", name, err)
		}
	}

	if _, err := Parse(strings.NewReader("version: v1.0.0\nbogus: 1\nfunctions:\n  - name: f\n")); err == nil {
		t.Fatalf("unknown field parsed without error")
	}
}

func TestOperandErrors(t *testing.T) {
	imm := int64(1)
	for name, arg := range map[string]Arg{
		"empty":          {},
		"unknown reg":    {Reg: "rzz"},
		"two kinds":      {Reg: "rax", Imm: &imm},
		"two labels":     {Forward: "a", Backward: "b"},
		"bad size":       {Imm: &imm, Size: "huge"},
		"rip no label":   {RIP: &Arg{Reg: "rax"}},
		"scale no index": {Mem: &Mem{Base: "rax", Scale: 4}},
		"bad scale":      {Mem: &Mem{Base: "rax", Index: "rcx", Scale: 3}},
	} {
		if _, err := arg.Operand(); !errors.Is(err, ErrInvalidArg) {
			t.Fatalf("%s: err=%v, want ErrInvalidArg", name, err)
		}
	}
}

func TestAssembleErrors(t *testing.T) {
	m := parse(t, "version: v1.0.0\nfunctions:\n  - name: f\n    steps:\n      - op: frobnicate\n")
	if _, err := m.Assemble(nil); !errors.Is(err, amd64.ErrUnknownMnemonic) {
		t.Fatalf("err=%v, want ErrUnknownMnemonic", err)
	}

	m = parse(t, "version: v1.0.0\nfunctions:\n  - name: f\n    steps:\n      - op: jmp\n        args: [{forward: nowhere}]\n")
	if _, err := m.Assemble(nil); !errors.Is(err, asm.ErrUnresolvedLabel) {
		t.Fatalf("err=%v, want ErrUnresolvedLabel", err)
	}

	m = parse(t, "version: v1.0.0\nfunctions:\n  - name: f\n    steps:\n      - op: push\n        args: [nope]\n")
	if _, err := m.Assemble(nil); !errors.Is(err, ErrInvalidArg) {
		t.Fatalf("err=%v, want ErrInvalidArg", err)
	}
}

func TestObjectOptionsAndLibraryName(t *testing.T) {
	m := Manifest{Format: "elf", Machine: "x86_64", Source: "demo.yaml"}
	opts, err := m.ObjectOptions()
	if err != nil {
		t.Fatalf("ObjectOptions: %v", err)
	}
	if opts.Format != object.FormatELF || opts.Machine != object.MachineAMD64 || opts.SourceName != "demo.yaml" {
		t.Fatalf("opts=%+v", opts)
	}

	if _, err := (Manifest{Format: "wasm"}).ObjectOptions(); !errors.Is(err, object.ErrUnknownFormat) {
		t.Fatalf("err=%v, want ErrUnknownFormat", err)
	}

	if got := (Manifest{}).LibraryName("/src/fast_math.yaml"); got != "fast_math" {
		t.Fatalf("LibraryName=%q, want fast_math", got)
	}
	if got := (Manifest{Name: "explicit"}).LibraryName("/src/x.yaml"); got != "explicit" {
		t.Fatalf("LibraryName=%q, want explicit", got)
	}
}

func TestTemplateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.yaml")
	if err := Write(path, Template()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Version != CurrentVersion || len(m.Functions) != 2 {
		t.Fatalf("manifest=%+v", m)
	}

	obj, err := m.Assemble(nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	// lea rax, [rdi+rsi*1]; ret
	expectCode(t, obj.Code[:5], "488d0437c3")
	if fn, _ := obj.Function("countdown"); fn.Offset != 16 {
		t.Fatalf("countdown offset=%d, want 16", fn.Offset)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("Load of missing file succeeded")
	}
}

func TestWriteErrors(t *testing.T) {
	dir := t.TempDir()
	if err := Write(filepath.Join(dir, "missing", "demo.yaml"), Template()); err == nil {
		t.Fatalf("Write into missing directory succeeded")
	}
	if err := Write(dir, Template()); err == nil {
		t.Fatalf("Write over a directory succeeded")
	}
}
