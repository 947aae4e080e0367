//go:build linux && amd64

package amd64

import (
	"fmt"

	"github.com/tinyrange/rasm/internal/asm"
)

// MustLoad resolves the assembler and loads the result, panicking on error.
// The module stays mapped for the life of the process.
func MustLoad(a *Assembler) *Module {
	mod, err := Load(a.Dump())
	if err != nil {
		panic(err)
	}
	return mod
}

// MustFunc looks up an exported function, panicking if it is missing.
func (m *Module) MustFunc(name string) Func {
	fn, err := m.Func(name)
	if err != nil {
		panic(err)
	}
	return fn
}

// UnaryInt64 returns the named function as a Go func(int64) int64.
func (m *Module) UnaryInt64(name string) (func(int64) int64, error) {
	fn, err := m.Func(name)
	if err != nil {
		return nil, err
	}
	return func(arg int64) int64 {
		return int64(fn.Call(arg))
	}, nil
}

// BinaryInt64 returns the named function as a Go func(int64, int64) int64.
func (m *Module) BinaryInt64(name string) (func(int64, int64) int64, error) {
	fn, err := m.Func(name)
	if err != nil {
		return nil, err
	}
	return func(a, b int64) int64 {
		return int64(fn.Call(a, b))
	}, nil
}

// Funcs returns every exported function of obj loaded from m, in export
// order.
func (m *Module) Funcs() ([]asm.NativeFunc, error) {
	out := make([]asm.NativeFunc, 0, len(m.obj.Functions))
	for _, exported := range m.obj.Functions {
		fn, err := m.Func(exported.Name)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", exported.Name, err)
		}
		out = append(out, fn)
	}
	return out, nil
}
