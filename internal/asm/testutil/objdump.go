package testutil

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"

	"github.com/tinyrange/rasm/internal/asm"
	"github.com/tinyrange/rasm/internal/elfobj"
)

const (
	// MachineX86_64 is the ELF e_machine value for AMD64.
	MachineX86_64 = uint16(elfobj.ArchX86_64)
	// MachineX86 is the ELF e_machine value for i386.
	MachineX86 = uint16(elfobj.ArchX86)
)

// DisasmLine represents a single instruction line emitted by objdump.
type DisasmLine struct {
	// Offset is the instruction address within .text.
	Offset     uint64
	Text       string
	Normalized string
	Mnemonic   string
}

// Contains reports whether the normalized instruction text contains the provided substring.
func (l DisasmLine) Contains(substr string) bool {
	return strings.Contains(l.Normalized, substr)
}

// DisassembleWithObjdump wraps the provided code bytes into a relocatable ELF
// object for the supplied machine type and runs GNU objdump -d
// --no-show-raw-insn.
func DisassembleWithObjdump(t *testing.T, code []byte, machine uint16, extraArgs ...string) []DisasmLine {
	t.Helper()
	return DisassembleObject(t, asm.ObjectFile{Code: code}, machine, extraArgs...)
}

// DisassembleObject is DisassembleWithObjdump for a resolved object; its
// exported functions become symbols in the disassembled file.
func DisassembleObject(t *testing.T, obj asm.ObjectFile, machine uint16, extraArgs ...string) []DisasmLine {
	t.Helper()
	args := []string{"-d", "--no-show-raw-insn"}
	args = append(args, extraArgs...)
	return disassemble(t, "objdump", obj, machine, args...)
}

func disassemble(t *testing.T, tool string, obj asm.ObjectFile, machine uint16, args ...string) []DisasmLine {
	t.Helper()

	toolPath, err := exec.LookPath(tool)
	if err != nil {
		t.Skipf("%s not found: %v", tool, err)
	}

	elf, err := buildObject(obj, machine)
	if err != nil {
		t.Fatalf("build ELF object: %v", err)
	}

	tmp, err := os.CreateTemp("", "rasm-objdump-*.o")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(elf); err != nil {
		t.Fatalf("write temp ELF: %v", err)
	}
	if err := tmp.Close(); err != nil {
		t.Fatalf("close temp ELF: %v", err)
	}

	cmdArgs := append([]string{}, args...)
	cmdArgs = append(cmdArgs, tmp.Name())
	cmd := exec.Command(toolPath, cmdArgs...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("%s failed: %v\n\n%s", tool, err, output)
	}

	lines, err := parseObjdumpOutput(string(output))
	if err != nil {
		t.Fatalf("parse objdump output: %v", err)
	}
	if len(lines) == 0 {
		t.Fatalf("objdump produced no instructions:\n%s", output)
	}
	if len(lines) < 5 {
		t.Logf("objdump output:\n%s", output)
	}
	return lines
}

func buildObject(obj asm.ObjectFile, machine uint16) ([]byte, error) {
	file := elfobj.File{
		WordSize:     elfobj.Bits64,
		Endianness:   elfobj.LittleEndian,
		Architecture: elfobj.Architecture(machine),
		FileName:     "disasm.asm",
		Text:         obj.Code,
	}
	if machine == MachineX86 {
		file.WordSize = elfobj.Bits32
	}
	for _, fn := range obj.Functions {
		file.Functions = append(file.Functions, elfobj.Function{Offset: uint64(fn.Offset), Name: fn.Name})
	}
	return file.Encode()
}

func parseObjdumpOutput(out string) ([]DisasmLine, error) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	var lines []DisasmLine
	for scanner.Scan() {
		line := scanner.Text()
		colon := strings.IndexRune(line, ':')
		if colon == -1 {
			continue
		}
		text := strings.TrimSpace(line[colon+1:])
		if text == "" || strings.HasPrefix(text, "<") {
			continue
		}
		if strings.HasPrefix(text, ".") || strings.HasPrefix(text, "file format") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		offset, err := strconv.ParseUint(strings.TrimSpace(line[:colon]), 16, 64)
		if err != nil {
			continue
		}
		normalized := strings.Join(fields, " ")
		lines = append(lines, DisasmLine{
			Offset:     offset,
			Text:       text,
			Normalized: normalized,
			Mnemonic:   strings.ToLower(fields[0]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}
	return lines, nil
}
