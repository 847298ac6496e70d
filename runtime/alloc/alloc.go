// Package alloc emits the bump allocator that backs compctx.Context's
// Allocator field. original_source's own test fixtures (runtime/storage.rs's
// build_module helper) construct one as an ordinary emitted function and
// simply pass its FuncID around as allocator_func - there is no host import
// for it anywhere in the filtered source, and hostio's own four-import
// table has no fifth entry for allocation. This package is that function:
// the simplest possible watermark bump. Emitters never free; memory only
// grows for the lifetime of the module instance.
package alloc

import "github.com/sourcevm/wasmgen/wasmmod"

const i32 = wasmmod.ValTypeI32

// New declares a mutable i32 global initialized to start (the first
// free byte, typically compctx.ScratchReservedBytes) and emits
// bump_alloc(size) -> ptr: returns the current watermark, then advances
// it by size. Never bounds-checks against the memory's declared limit;
// growing past it traps at the memory-access site of whatever uses the
// returned pointer, which is how every other kernel in this repo
// already surfaces an out-of-memory condition.
func New(m *wasmmod.Module, start int32) wasmmod.FuncID {
	watermark := m.AddGlobal(i32, true, int64(start))

	fb := m.NewFunction("bump_alloc", wasmmod.FuncType{Params: []wasmmod.ValType{i32}, Results: []wasmmod.ValType{i32}})
	size := fb.Param(0)
	ptr := fb.NewLocal(i32)
	b := fb.Body()

	b.GlobalGet(watermark).LocalSet(ptr)
	b.GlobalGet(watermark).LocalGet(size).I32Add().GlobalSet(watermark)
	b.LocalGet(ptr)

	return fb.ID()
}
