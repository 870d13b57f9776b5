//go:build !unix

package main

import (
	"fmt"
	"runtime"

	"github.com/tinyrange/rtirq/internal/board"
)

const devmemPath = "/dev/mem"

func (a *app) dumpDevmem(*board.Board) error {
	return fmt.Errorf("physical memory access is not supported on %s", runtime.GOOS)
}
