//go:build linux && amd64

package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunCall(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "add.yaml", `version: v1.0.0
functions:
  - name: add
    steps:
      - op: lea
        args: [rax, {mem: {base: rdi, index: rsi, scale: 1}}]
      - op: ret
`)

	var stdout, stderr bytes.Buffer
	if err := run([]string{"-out", dir, "-call", "add", "-args", "40,2", path}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr.String())
	}
	if got := strings.TrimSpace(stdout.String()); got != "add(40,2) = 42" {
		t.Fatalf("stdout=%q, want %q", got, "add(40,2) = 42")
	}

	stdout.Reset()
	if err := run([]string{"-out", dir, "-call", "missing", path}, &stdout, &stderr); err == nil {
		t.Fatalf("call of missing function succeeded")
	}
}
