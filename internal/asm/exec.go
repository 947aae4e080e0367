package asm

// NativeFunc is an exported function of an ObjectFile mapped into executable
// memory. It is implemented by architecture-specific loaders.
type NativeFunc interface {
	// Call executes the function with integer or pointer arguments passed
	// in the platform's C calling convention registers.
	Call(args ...any) uintptr

	// Entry returns the address of the function's first instruction.
	Entry() uintptr

	// Name returns the exported name the function was loaded from.
	Name() string
}
