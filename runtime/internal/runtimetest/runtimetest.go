// Package runtimetest provides the small amount of scaffolding every
// runtime-kernel test needs: a fresh module with memory and a bump
// allocator wired up, ready to pass to compctx.New. Kept separate from
// govm (which only knows how to run an already-built module) so that
// package doesn't need to know anything about compctx or alloc.
package runtimetest

import (
	"github.com/sourcevm/wasmgen/compctx"
	"github.com/sourcevm/wasmgen/runtime/alloc"
	"github.com/sourcevm/wasmgen/wasmmod"
)

// NewContext returns a *compctx.Context over a fresh module: memory
// declared with pages 64KiB pages (min and max both pages), exported as "memory", and a
// bump allocator starting right after the fixed scratch region.
func NewContext(pages uint32) *compctx.Context {
	m := wasmmod.NewModule()
	m.SetMemory(pages, pages, true)
	m.ExportMemory("memory")
	allocFn := alloc.New(m, compctx.ScratchReservedBytes)
	return compctx.New(m, allocFn)
}
