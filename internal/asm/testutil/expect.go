package testutil

import (
	"fmt"
	"testing"
)

// Expectation describes one instruction expected in the disassembly.
type Expectation struct {
	Name     string
	Mnemonic string
	Contains []string

	offset      uint64
	checkOffset bool
}

// At returns a copy of e that also requires the instruction to start at
// offset within .text.
func (e Expectation) At(offset uint64) Expectation {
	e.offset = offset
	e.checkOffset = true
	return e
}

func (e Expectation) match(line DisasmLine) error {
	if e.checkOffset && line.Offset != e.offset {
		return fmt.Errorf("offset=%#x, want %#x", line.Offset, e.offset)
	}
	if e.Mnemonic != "" && line.Mnemonic != e.Mnemonic {
		return fmt.Errorf("mnemonic=%s, want %s", line.Mnemonic, e.Mnemonic)
	}
	for _, needle := range e.Contains {
		if !line.Contains(needle) {
			return fmt.Errorf("missing %q in %q", needle, line.Normalized)
		}
	}
	return nil
}

// VerifyExpectations matches expectations against the leading disassembled
// instructions in order. Trailing instructions such as alignment padding are
// ignored.
func VerifyExpectations(t *testing.T, lines []DisasmLine, expect []Expectation) {
	t.Helper()
	if len(lines) < len(expect) {
		t.Fatalf("objdump returned %d instructions, want at least %d", len(lines), len(expect))
	}
	for idx, exp := range expect {
		line := lines[idx]
		if err := exp.match(line); err != nil {
			t.Fatalf("instruction %q mismatch at line %d: %v\nline: %s", exp.Name, idx, err, line.Text)
		}
	}
}
