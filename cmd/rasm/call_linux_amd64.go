//go:build linux && amd64

package main

import (
	"github.com/tinyrange/rasm/internal/asm"
	"github.com/tinyrange/rasm/internal/asm/amd64"
)

func callNative(obj asm.ObjectFile, name string, args []int64) (uintptr, error) {
	mod, err := amd64.Load(obj)
	if err != nil {
		return 0, err
	}
	defer mod.Close()

	fn, err := mod.Func(name)
	if err != nil {
		return 0, err
	}
	callArgs := make([]any, len(args))
	for i, v := range args {
		callArgs[i] = v
	}
	return fn.Call(callArgs...), nil
}
