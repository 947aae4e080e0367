//go:build linux && amd64

package amd64

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/tinyrange/rasm/internal/asm"
	"golang.org/x/sys/unix"
)

const maxCallArguments = 6

// Module is a resolved object file mapped read-execute into this process.
type Module struct {
	mu   sync.Mutex
	mem  []byte
	base uintptr
	obj  asm.ObjectFile
}

// Func is a callable exported function of a Module.
type Func struct {
	name  string
	entry uintptr
}

var _ asm.NativeFunc = Func{}

// Load copies the object's code into fresh anonymous memory and makes it
// executable.
func Load(obj asm.ObjectFile) (*Module, error) {
	size := len(obj.Code)
	if size == 0 {
		return nil, fmt.Errorf("empty code")
	}

	pageSize := unix.Getpagesize()
	allocSize := ((size + pageSize - 1) / pageSize) * pageSize

	mem, err := unix.Mmap(-1, 0, allocSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap code region: %w", err)
	}
	release := true
	defer func() {
		if release {
			_ = unix.Munmap(mem)
		}
	}()

	copy(mem, obj.Code)

	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return nil, fmt.Errorf("mprotect code region: %w", err)
	}

	release = false

	return &Module{
		mem:  mem,
		base: uintptr(unsafe.Pointer(&mem[0])),
		obj:  obj.Clone(),
	}, nil
}

// Func looks up an exported function.
func (m *Module) Func(name string) (Func, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mem == nil {
		return Func{}, fmt.Errorf("module is closed")
	}
	fn, ok := m.obj.Function(name)
	if !ok {
		return Func{}, fmt.Errorf("no exported function %q", name)
	}
	return Func{name: name, entry: m.base + uintptr(fn.Offset)}, nil
}

// Close unmaps the code. Funcs obtained from the module must not be called
// afterwards.
func (m *Module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mem == nil {
		return nil
	}
	err := unix.Munmap(m.mem)
	m.mem = nil
	return err
}

// Call executes the function with up to six integer or pointer arguments
// (System V calling convention) and returns RAX.
func (fn Func) Call(args ...any) uintptr {
	if fn.entry == 0 {
		panic("amd64.Func: call on zero value")
	}
	if len(args) > maxCallArguments {
		panic(fmt.Sprintf("native call accepts at most %d arguments, got %d", maxCallArguments, len(args)))
	}

	buf := make([]uintptr, len(args))
	for idx, arg := range args {
		value, err := callArgValue(arg)
		if err != nil {
			panic(err)
		}
		buf[idx] = value
	}

	r1, _, _ := purego.SyscallN(fn.entry, buf...)
	return r1
}

// Entry returns the function's address.
func (fn Func) Entry() uintptr { return fn.entry }

// Name returns the exported name.
func (fn Func) Name() string { return fn.name }

func callArgValue(arg any) (uintptr, error) {
	switch v := arg.(type) {
	case nil:
		return 0, nil
	case uintptr:
		return v, nil
	case unsafe.Pointer:
		return uintptr(v), nil
	case int:
		return uintptr(v), nil
	case int8:
		return uintptr(uint8(v)), nil
	case int16:
		return uintptr(uint16(v)), nil
	case int32:
		return uintptr(uint32(v)), nil
	case int64:
		return uintptr(v), nil
	case uint:
		return uintptr(v), nil
	case uint8:
		return uintptr(v), nil
	case uint16:
		return uintptr(v), nil
	case uint32:
		return uintptr(v), nil
	case uint64:
		return uintptr(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}

	val := reflect.ValueOf(arg)
	switch val.Kind() {
	case reflect.Pointer, reflect.UnsafePointer:
		if val.IsNil() {
			return 0, nil
		}
		return uintptr(val.Pointer()), nil
	}

	return 0, fmt.Errorf("unsupported argument type %T", arg)
}
