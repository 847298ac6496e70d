// Package structcodec implements the C7 runtime kernel: per-struct-type
// storage encoders and decoders. Each concrete struct type (struct id plus,
// for a generic instantiation, its type arguments) gets its own save/read/
// delete function, emitted once and memoized by the type's mangled name.
//
// Grounded on add_save_struct_into_storage_fn, add_read_struct_from_storage_fn
// and add_delete_struct_from_storage_fn in original_source's
// runtime/storage.rs: walk the struct's fields in declaration order,
// tiling them into 32-byte slots with a Solidity-style right-alignment
// rule (a field that would straddle a slot boundary starts a new slot).
// Unlike the original, which builds this walk as a Rust
// for-loop emitting instructions with statically-known offsets, this
// package does exactly the same thing in Go: every field's byte offset
// (both within its struct instance, and within its storage slot) is a
// compile-time constant, so no wasm-level loop is needed to tile fields -
// only to walk bytes within a single field's fixed-width encoding, and even
// those are fully unrolled here since their width is compile-time-known
// too.
//
// Scope decision (see DESIGN.md): only scalar, wide-integer, and address
// fields are given a storage encoding. A struct with a nested-struct-typed
// or vector-typed field panics at emit time with a diagnostic, the same
// treatment an Enum or ExternalUserData type gets at a lowering site -
// a clearly named follow-up, not a silent gap.
package structcodec

import (
	"github.com/sourcevm/wasmgen/compctx"
	"github.com/sourcevm/wasmgen/hostio"
	"github.com/sourcevm/wasmgen/ir"
	"github.com/sourcevm/wasmgen/runtime/storage"
	"github.com/sourcevm/wasmgen/runtime/wideint"
	"github.com/sourcevm/wasmgen/wasmmod"
)

const (
	i32 = wasmmod.ValTypeI32
	i64 = wasmmod.ValTypeI64
)

// fieldStorageSize returns the number of bytes field type t occupies when
// tiled into a storage slot.
func fieldStorageSize(t ir.Type) int {
	switch t.Kind() {
	case ir.KindBool, ir.KindU8:
		return 1
	case ir.KindU16:
		return 2
	case ir.KindU32:
		return 4
	case ir.KindU64:
		return 8
	case ir.KindU128:
		return 16
	case ir.KindU256, ir.KindAddress:
		return 32
	default:
		panic("BUG: struct field type " + t.String() + " has no storage-slot encoding yet (nested struct and vector fields are not supported by structcodec)")
	}
}

// inMemoryOffset returns the byte offset of def.Fields[index] within one
// instance of the struct in linear memory: fields are laid out
// consecutively in declaration order, each occupying its StackDataSize (4
// bytes for every i32-classified field including heap pointers, 8 for U64).
func inMemoryOffset(def compctx.StructDef, index int) int {
	off := 0
	for i := 0; i < index; i++ {
		off += def.Fields[i].Type.StackDataSize()
	}
	return off
}

func totalInMemorySize(def compctx.StructDef) int {
	return inMemoryOffset(def, len(def.Fields))
}

// InMemorySize returns the number of bytes one field-data instance of t
// occupies, excluding the 32-byte C6 object header object.go prepends to
// it. Exported so object.go can size a combined header+fields allocation.
func InMemorySize(c *compctx.Context, t ir.Type) int {
	return totalInMemorySize(c.Struct(t.StructID()))
}

// emitStoreScalarBE writes the low numBytes bytes of value, most-significant
// byte first, into the fixed scratch address [base, base+numBytes). value
// is an i32 local unless wide is set, in which case it is an i64 local
// (only U64 fields use the wide path).
func emitStoreScalarBE(b *wasmmod.InstrBuilder, base int, value wasmmod.LocalID, wide bool, numBytes int) {
	for i := 0; i < numBytes; i++ {
		shift := 8 * (numBytes - 1 - i)
		b.I32Const(0)
		b.LocalGet(value)
		if wide {
			if shift > 0 {
				b.I64Const(int64(shift)).I64ShrU()
			}
			b.I32WrapI64()
		} else if shift > 0 {
			b.I32Const(int32(shift)).I32ShrU()
		}
		b.I32Store8(uint32(base + i))
	}
}

// emitLoadScalarBE reconstructs a numBytes-wide big-endian scalar from the
// fixed scratch address base, leaving it on the stack (i32, or i64 if wide).
func emitLoadScalarBE(b *wasmmod.InstrBuilder, base int, numBytes int, wide bool) {
	for i := 0; i < numBytes; i++ {
		shift := 8 * (numBytes - 1 - i)
		b.I32Const(0).I32Load8U(uint32(base + i))
		if wide {
			b.I64ExtendI32U()
			if shift > 0 {
				b.I64Const(int64(shift)).I64Shl()
			}
		} else if shift > 0 {
			b.I32Const(int32(shift)).I32Shl()
		}
		if i > 0 {
			if wide {
				b.I64Add()
			} else {
				b.I32Add()
			}
		}
	}
}

// emitCopyReversedBytesToScratch copies n bytes from the heap buffer at
// srcPtr into the fixed scratch address base, reversing byte order (the
// heap representation is little-endian; storage slots are big-endian).
func emitCopyReversedBytesToScratch(b *wasmmod.InstrBuilder, base int, srcPtr wasmmod.LocalID, n int) {
	for i := 0; i < n; i++ {
		b.I32Const(0)
		b.LocalGet(srcPtr).I32Load8U(uint32(n - 1 - i))
		b.I32Store8(uint32(base + i))
	}
}

// emitCopyReversedBytesFromScratch is the inverse of
// emitCopyReversedBytesToScratch: n bytes from the fixed scratch address
// base are reversed into the heap buffer at dstPtr.
func emitCopyReversedBytesFromScratch(b *wasmmod.InstrBuilder, dstPtr wasmmod.LocalID, base int, n int) {
	for i := 0; i < n; i++ {
		b.LocalGet(dstPtr)
		b.I32Const(0).I32Load8U(uint32(base + (n - 1 - i)))
		b.I32Store8(uint32(i))
	}
}

func emitEncodeField(b *wasmmod.InstrBuilder, structPtr wasmmod.LocalID, memOffset int, ft ir.Type, scratchBase int, i32Tmp, i64Tmp wasmmod.LocalID) {
	switch ft.Kind() {
	case ir.KindBool, ir.KindU8:
		b.LocalGet(structPtr).I32Load(uint32(memOffset)).LocalSet(i32Tmp)
		emitStoreScalarBE(b, scratchBase, i32Tmp, false, 1)
	case ir.KindU16:
		b.LocalGet(structPtr).I32Load(uint32(memOffset)).LocalSet(i32Tmp)
		emitStoreScalarBE(b, scratchBase, i32Tmp, false, 2)
	case ir.KindU32:
		b.LocalGet(structPtr).I32Load(uint32(memOffset)).LocalSet(i32Tmp)
		emitStoreScalarBE(b, scratchBase, i32Tmp, false, 4)
	case ir.KindU64:
		b.LocalGet(structPtr).I64Load(uint32(memOffset)).LocalSet(i64Tmp)
		emitStoreScalarBE(b, scratchBase, i64Tmp, true, 8)
	case ir.KindU128:
		b.LocalGet(structPtr).I32Load(uint32(memOffset)).LocalSet(i32Tmp)
		emitCopyReversedBytesToScratch(b, scratchBase, i32Tmp, 16)
	case ir.KindU256, ir.KindAddress:
		b.LocalGet(structPtr).I32Load(uint32(memOffset)).LocalSet(i32Tmp)
		emitCopyReversedBytesToScratch(b, scratchBase, i32Tmp, 32)
	default:
		panic("BUG: struct field type " + ft.String() + " has no storage encoding yet (nested struct and vector fields are not supported by structcodec)")
	}
}

func emitDecodeField(c *compctx.Context, b *wasmmod.InstrBuilder, structPtr wasmmod.LocalID, memOffset int, ft ir.Type, scratchBase int, ptrTmp wasmmod.LocalID) {
	switch ft.Kind() {
	case ir.KindBool, ir.KindU8:
		b.LocalGet(structPtr)
		emitLoadScalarBE(b, scratchBase, 1, false)
		b.I32Store(uint32(memOffset))
	case ir.KindU16:
		b.LocalGet(structPtr)
		emitLoadScalarBE(b, scratchBase, 2, false)
		b.I32Store(uint32(memOffset))
	case ir.KindU32:
		b.LocalGet(structPtr)
		emitLoadScalarBE(b, scratchBase, 4, false)
		b.I32Store(uint32(memOffset))
	case ir.KindU64:
		b.LocalGet(structPtr)
		emitLoadScalarBE(b, scratchBase, 8, true)
		b.I64Store(uint32(memOffset))
	case ir.KindU128:
		b.I32Const(16).Call(c.Allocator).LocalSet(ptrTmp)
		emitCopyReversedBytesFromScratch(b, ptrTmp, scratchBase, 16)
		b.LocalGet(structPtr).LocalGet(ptrTmp).I32Store(uint32(memOffset))
	case ir.KindU256, ir.KindAddress:
		b.I32Const(32).Call(c.Allocator).LocalSet(ptrTmp)
		emitCopyReversedBytesFromScratch(b, ptrTmp, scratchBase, 32)
		b.LocalGet(structPtr).LocalGet(ptrTmp).I32Store(uint32(memOffset))
	default:
		panic("BUG: struct field type " + ft.String() + " has no storage encoding yet (nested struct and vector fields are not supported by structcodec)")
	}
}

// storedFieldsStart returns the index of the first field that actually
// occupies a storage slot: fields[0] is excluded when the struct has the
// key ability, since that field is always the object's UID, a value
// derived from (and consumed to compute) the slot address itself rather
// than data living inside it - encoding it back into the slot would be
// redundant and, for a UID's actual Move shape (a struct wrapping an
// address), unencodable by this package's flat-fields-only scope anyway.
func storedFieldsStart(def compctx.StructDef) int {
	if def.HasKey {
		return 1
	}
	return 0
}

// SaveStruct emits/returns save_struct$<type>(struct_ptr, slot_ptr) -> ():
// tiles struct_ptr's fields into 32-byte slots starting at slot_ptr (a
// big-endian storage key), caching each finished slot via
// storage_cache_bytes32. The key at slot_ptr is advanced in place
// (StorageNextSlot) at each slot boundary, so on return it holds the last
// slot written.
func SaveStruct(c *compctx.Context, t ir.Type) wasmmod.FuncID {
	name := "save_struct$" + t.MangledName()
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		def := c.Struct(t.StructID())
		storageCache := hostio.StorageCacheBytes32Fn(c.Module)
		nextSlot := storage.StorageNextSlot(c)

		fb := c.Module.NewFunction(name, wasmmod.FuncType{Params: []wasmmod.ValType{i32, i32}})
		structPtr, slotPtr := fb.Param(0), fb.Param(1)
		slot := fb.NewLocal(i32)
		i32Tmp := fb.NewLocal(i32)
		i64Tmp := fb.NewLocal(i64)
		b := fb.Body()

		b.LocalGet(slotPtr).LocalSet(slot)
		b.I32Const(compctx.DataSlotDataPtrOffset).I32Const(0).I32Const(32).MemoryFill()

		usedBytes := 0
		for idx := storedFieldsStart(def); idx < len(def.Fields); idx++ {
			field := def.Fields[idx]
			size := fieldStorageSize(field.Type)
			if usedBytes+size > 32 {
				b.LocalGet(slot).I32Const(compctx.DataSlotDataPtrOffset).Call(storageCache)
				b.LocalGet(slot).Call(nextSlot).LocalSet(slot)
				b.I32Const(compctx.DataSlotDataPtrOffset).I32Const(0).I32Const(32).MemoryFill()
				usedBytes = 0
			}
			offsetInSlot := 32 - usedBytes - size
			emitEncodeField(b, structPtr, inMemoryOffset(def, idx), field.Type, compctx.DataSlotDataPtrOffset+offsetInSlot, i32Tmp, i64Tmp)
			usedBytes += size
		}
		b.LocalGet(slot).I32Const(compctx.DataSlotDataPtrOffset).Call(storageCache)

		return fb.ID()
	})
}

// DecodeStructFields emits/returns decode_struct_fields$<type>(slot_ptr,
// struct_ptr) -> (): the inverse of SaveStruct, decoding fields from the
// slots starting at slot_ptr directly into an already-allocated struct_ptr;
// like SaveStruct, it advances the key at slot_ptr in place.
// Split out from ReadStruct so callers that need control over the
// allocation surrounding struct_ptr (the C6 object header, 32 bytes of
// owner immediately before the field data) can lay that memory out
// themselves instead of getting back an isolated, header-less block.
func DecodeStructFields(c *compctx.Context, t ir.Type) wasmmod.FuncID {
	name := "decode_struct_fields$" + t.MangledName()
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		def := c.Struct(t.StructID())
		storageLoad := hostio.StorageLoadBytes32Fn(c.Module)
		nextSlot := storage.StorageNextSlot(c)

		fb := c.Module.NewFunction(name, wasmmod.FuncType{Params: []wasmmod.ValType{i32, i32}})
		slotPtr, structPtr := fb.Param(0), fb.Param(1)
		slot := fb.NewLocal(i32)
		ptrTmp := fb.NewLocal(i32)
		b := fb.Body()

		b.LocalGet(slotPtr).LocalSet(slot)
		b.LocalGet(slot).I32Const(compctx.DataSlotDataPtrOffset).Call(storageLoad)

		usedBytes := 0
		for idx := storedFieldsStart(def); idx < len(def.Fields); idx++ {
			field := def.Fields[idx]
			size := fieldStorageSize(field.Type)
			if usedBytes+size > 32 {
				b.LocalGet(slot).Call(nextSlot).LocalSet(slot)
				b.LocalGet(slot).I32Const(compctx.DataSlotDataPtrOffset).Call(storageLoad)
				usedBytes = 0
			}
			offsetInSlot := 32 - usedBytes - size
			emitDecodeField(c, b, structPtr, inMemoryOffset(def, idx), field.Type, compctx.DataSlotDataPtrOffset+offsetInSlot, ptrTmp)
			usedBytes += size
		}

		return fb.ID()
	})
}

// ReadStruct emits/returns read_struct$<type>(slot_ptr) -> struct_ptr: the
// inverse of SaveStruct, allocating a fresh header-less struct instance and
// decoding its fields from the slots starting at slot_ptr. Used where a
// decoded struct is consumed as a plain Move value rather than as an
// object with an owner header; see DecodeStructFields for the latter.
func ReadStruct(c *compctx.Context, t ir.Type) wasmmod.FuncID {
	name := "read_struct$" + t.MangledName()
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		def := c.Struct(t.StructID())
		decode := DecodeStructFields(c, t)

		fb := c.Module.NewFunction(name, wasmmod.FuncType{Params: []wasmmod.ValType{i32}, Results: []wasmmod.ValType{i32}})
		slotPtr := fb.Param(0)
		structPtr := fb.NewLocal(i32)
		b := fb.Body()

		b.I32Const(int32(totalInMemorySize(def))).Call(c.Allocator).LocalSet(structPtr)
		b.LocalGet(slotPtr).LocalGet(structPtr).Call(decode)

		b.LocalGet(structPtr)
		return fb.ID()
	})
}

// DeleteStruct emits/returns delete_struct$<type>(struct_ptr) -> (): traps
// if the object is frozen (the owner-key window 32 bytes before struct_ptr
// equals the frozen constant); otherwise zeroes every slot the struct
// occupies. Grounded on add_delete_struct_from_storage_fn.
func DeleteStruct(c *compctx.Context, t ir.Type) wasmmod.FuncID {
	name := "delete_struct$" + t.MangledName()
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		def := c.Struct(t.StructID())
		eq := wideint.Equal(c)
		locateSlot := storage.LocateStructSlot(c)
		nextSlot := storage.StorageNextSlot(c)
		storageCache := hostio.StorageCacheBytes32Fn(c.Module)

		fb := c.Module.NewFunction(name, wasmmod.FuncType{Params: []wasmmod.ValType{i32}})
		structPtr := fb.Param(0)
		slot := fb.NewLocal(i32)
		b := fb.Body()

		b.LocalGet(structPtr).I32Const(32).I32Sub()
		b.I32Const(compctx.DataFrozenObjectsKeyOffset).I32Const(32).Call(eq)
		frozenIf := b.BeginIf()
		b.Unreachable()
		b.Else()

		b.LocalGet(structPtr).Call(locateSlot)
		b.I32Const(compctx.DataObjectsMappingSlotNumOffset).LocalSet(slot)

		b.I32Const(compctx.DataSlotDataPtrOffset).I32Const(0).I32Const(32).MemoryFill()
		b.LocalGet(slot).I32Const(compctx.DataSlotDataPtrOffset).Call(storageCache)

		usedBytes := 0
		for idx := storedFieldsStart(def); idx < len(def.Fields); idx++ {
			size := fieldStorageSize(def.Fields[idx].Type)
			if usedBytes+size > 32 {
				b.LocalGet(slot).Call(nextSlot).LocalSet(slot)
				b.LocalGet(slot).I32Const(compctx.DataSlotDataPtrOffset).Call(storageCache)
				usedBytes = size
			} else {
				usedBytes += size
			}
		}
		b.End() // frozenIf/else
		_ = frozenIf

		return fb.ID()
	})
}
