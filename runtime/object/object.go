// Package object implements the C6 object-space protocol: the lifecycle
// operations (create, transfer, share, freeze, read, delete) that sit on
// top of storage's slot-location primitives and structcodec's per-type
// field encoders. Every object instance in memory is a 32-byte C6 header
// (the owner key) immediately followed by its field data, the layout
// locate_struct_slot and delete_struct_from_storage (both grounded on
// original_source's runtime/storage.rs) already assume via their
// struct_ptr-32 convention.
//
// original_source has no dedicated transfer/share/freeze functions of its
// own - those are expressed at the Move-bytecode call site as a delete
// followed by a save under a new owner key. This package gives that
// composition a name and a single emitted function per concrete type
// (transfer, share, freeze) rather than a literal Rust counterpart.
package object

import (
	"github.com/sourcevm/wasmgen/compctx"
	"github.com/sourcevm/wasmgen/hostio"
	"github.com/sourcevm/wasmgen/ir"
	"github.com/sourcevm/wasmgen/runtime/storage"
	"github.com/sourcevm/wasmgen/runtime/structcodec"
	"github.com/sourcevm/wasmgen/runtime/wideint"
	"github.com/sourcevm/wasmgen/wasmmod"
)

const i32 = wasmmod.ValTypeI32

// CreateOwned emits/returns create_owned$<type>(struct_ptr) -> (): takes
// ownership of a freshly built object on behalf of the tx signer and
// persists it. struct_ptr points at the object's field data; the 32 bytes
// immediately before it are the C6 header, which this function overwrites
// with the signer's address before deriving the slot and saving.
func CreateOwned(c *compctx.Context, t ir.Type) wasmmod.FuncID {
	name := "create_owned$" + t.MangledName()
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		txOrigin := hostio.TxOriginFn(c.Module)
		locateSlot := storage.LocateStructSlot(c)
		save := structcodec.SaveStruct(c, t)

		fb := c.Module.NewFunction(name, wasmmod.FuncType{Params: []wasmmod.ValType{i32}})
		structPtr := fb.Param(0)
		owner := fb.NewLocal(i32)
		b := fb.Body()

		b.LocalGet(structPtr).I32Const(32).I32Sub().LocalSet(owner)
		b.LocalGet(owner).I32Const(0).I32Const(12).MemoryFill()
		b.LocalGet(owner).I32Const(12).I32Add().Call(txOrigin)

		b.LocalGet(structPtr).Call(locateSlot)
		b.LocalGet(structPtr).I32Const(compctx.DataObjectsMappingSlotNumOffset).Call(save)

		return fb.ID()
	})
}

// Transfer emits/returns transfer$<type>(struct_ptr, new_owner_ptr) -> ():
// traps if the object is frozen; otherwise clears its current slot,
// overwrites its C6 header with the 32 bytes at new_owner_ptr, and saves it
// under the newly derived slot.
func Transfer(c *compctx.Context, t ir.Type) wasmmod.FuncID {
	name := "transfer$" + t.MangledName()
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		eq := wideint.Equal(c)
		del := structcodec.DeleteStruct(c, t)
		locateSlot := storage.LocateStructSlot(c)
		save := structcodec.SaveStruct(c, t)

		fb := c.Module.NewFunction(name, wasmmod.FuncType{Params: []wasmmod.ValType{i32, i32}})
		structPtr, newOwnerPtr := fb.Param(0), fb.Param(1)
		owner := fb.NewLocal(i32)
		b := fb.Body()

		b.LocalGet(structPtr).I32Const(32).I32Sub().LocalTee(owner)
		b.I32Const(compctx.DataFrozenObjectsKeyOffset).I32Const(32).Call(eq)
		frozenIf := b.BeginIf()
		b.Unreachable()
		b.Else()

		b.LocalGet(structPtr).Call(del)
		b.LocalGet(owner).LocalGet(newOwnerPtr).I32Const(32).MemoryCopy()
		b.LocalGet(structPtr).Call(locateSlot)
		b.LocalGet(structPtr).I32Const(compctx.DataObjectsMappingSlotNumOffset).Call(save)

		b.End() // frozenIf/else
		_ = frozenIf

		return fb.ID()
	})
}

// Share emits/returns share$<type>(struct_ptr) -> (): transfers the object
// to the well-known shared-objects owner key, after which any signer may
// look it up (via Read with search_frozen left unset) but mutation still
// goes through the normal owner-gated path at the Move call site.
func Share(c *compctx.Context, t ir.Type) wasmmod.FuncID {
	name := "share$" + t.MangledName()
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		transfer := Transfer(c, t)

		fb := c.Module.NewFunction(name, wasmmod.FuncType{Params: []wasmmod.ValType{i32}})
		structPtr := fb.Param(0)
		b := fb.Body()
		b.LocalGet(structPtr).I32Const(compctx.DataSharedObjectsKeyOffset).Call(transfer)
		return fb.ID()
	})
}

// Freeze emits/returns freeze$<type>(struct_ptr) -> (): transfers the
// object to the well-known frozen-objects owner key. Once there, Transfer,
// Share and Delete on the same object all trap, since each checks its
// owner window against DataFrozenObjectsKeyOffset before mutating.
func Freeze(c *compctx.Context, t ir.Type) wasmmod.FuncID {
	name := "freeze$" + t.MangledName()
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		transfer := Transfer(c, t)

		fb := c.Module.NewFunction(name, wasmmod.FuncType{Params: []wasmmod.ValType{i32}})
		structPtr := fb.Param(0)
		b := fb.Body()
		b.LocalGet(structPtr).I32Const(compctx.DataFrozenObjectsKeyOffset).Call(transfer)
		return fb.ID()
	})
}

// Read emits/returns read_object$<type>(uid_ptr, search_frozen) ->
// struct_ptr: finds the object by id across the signer's own space, the
// shared space, and (if search_frozen is nonzero) the frozen space, then
// allocates a header+fields block and decodes it, leaving struct_ptr at
// the start of the field data (the C6 header precedes it, populated with
// whichever owner key the object was found under).
func Read(c *compctx.Context, t ir.Type) wasmmod.FuncID {
	name := "read_object$" + t.MangledName()
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		locate := storage.LocateStorageData(c)
		decode := structcodec.DecodeStructFields(c, t)
		fieldsSize := structcodec.InMemorySize(c, t)

		fb := c.Module.NewFunction(name, wasmmod.FuncType{Params: []wasmmod.ValType{i32, i32}, Results: []wasmmod.ValType{i32}})
		uidPtr, searchFrozen := fb.Param(0), fb.Param(1)
		base := fb.NewLocal(i32)
		structPtr := fb.NewLocal(i32)
		b := fb.Body()

		b.LocalGet(uidPtr).LocalGet(searchFrozen).Call(locate)

		b.I32Const(int32(32 + fieldsSize)).Call(c.Allocator).LocalTee(base)
		b.I32Const(32).I32Add().LocalSet(structPtr)

		b.LocalGet(base).I32Const(compctx.DataStorageObjectOwnerOffset).I32Const(32).MemoryCopy()
		b.I32Const(compctx.DataObjectsMappingSlotNumOffset).LocalGet(structPtr).Call(decode)

		b.LocalGet(structPtr)
		return fb.ID()
	})
}

// Delete emits/returns delete_struct$<type>(struct_ptr) -> (), the same
// function structcodec.DeleteStruct emits: deleting an object is exactly
// clearing its slots, with no header rewrite needed.
func Delete(c *compctx.Context, t ir.Type) wasmmod.FuncID {
	return structcodec.DeleteStruct(c, t)
}
