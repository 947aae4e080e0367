//go:build !(linux && amd64)

package main

import (
	"fmt"
	"runtime"

	"github.com/tinyrange/rasm/internal/asm"
)

func callNative(asm.ObjectFile, string, []int64) (uintptr, error) {
	return 0, fmt.Errorf("native calls are not supported on %s/%s", runtime.GOOS, runtime.GOARCH)
}
