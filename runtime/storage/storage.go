// Package storage implements the C5 runtime kernel: Solidity-style storage
// slot derivation via keccak256. Grounded on derive_mapping_slot and
// derive_dyn_array_slot in original_source's runtime/storage.rs.
package storage

import (
	"github.com/sourcevm/wasmgen/compctx"
	"github.com/sourcevm/wasmgen/hostio"
	"github.com/sourcevm/wasmgen/runtime/wideint"
	"github.com/sourcevm/wasmgen/wasmmod"
)

const i32 = wasmmod.ValTypeI32

// DeriveMappingSlot emits/returns derive_mapping_slot(mapping_slot_ptr,
// key_ptr, out_ptr) -> (): out = keccak256(key ∥ mapping_slot), the
// Solidity mapping-slot formula. Both inputs and the output are 32-byte
// big-endian buffers.
func DeriveMappingSlot(c *compctx.Context) wasmmod.FuncID {
	const name = "derive_mapping_slot"
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		keccak := hostio.NativeKeccak256Fn(c.Module)

		fb := c.Module.NewFunction(name, wasmmod.FuncType{Params: []wasmmod.ValType{i32, i32, i32}})
		slotPtr, keyPtr, outPtr := fb.Param(0), fb.Param(1), fb.Param(2)
		data := fb.NewLocal(i32)
		b := fb.Body()

		b.I32Const(64).Call(c.Allocator).LocalSet(data)

		b.LocalGet(data).LocalGet(keyPtr).I32Const(32).MemoryCopy()
		b.LocalGet(data).I32Const(32).I32Add().LocalGet(slotPtr).I32Const(32).MemoryCopy()

		b.LocalGet(data).I32Const(64).LocalGet(outPtr).Call(keccak)

		return fb.ID()
	})
}

// DeriveDynArraySlot emits/returns derive_dyn_array_slot(array_slot_ptr,
// elem_index_ptr, elem_size_ptr, out_ptr) -> (): element_slot =
// keccak256(array_slot) + floor(index / elemsPerSlot) when elements pack
// (elem_size < 32), or + index*ceil(elem_size/32) slots otherwise.
// elem_index_ptr and elem_size_ptr point at little-endian u32 values;
// array_slot_ptr and out_ptr are 32-byte big-endian buffers.
func DeriveDynArraySlot(c *compctx.Context, add wasmmod.FuncID) wasmmod.FuncID {
	const name = "derive_dyn_array_slot"
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		keccak := hostio.NativeKeccak256Fn(c.Module)
		swap := swapBytes32(c)

		fb := c.Module.NewFunction(name, wasmmod.FuncType{Params: []wasmmod.ValType{i32, i32, i32, i32}})
		arraySlotPtr := fb.Param(0)
		elemIndexPtr := fb.Param(1)
		elemSizePtr := fb.Param(2)
		outPtr := fb.Param(3)

		baseSlot := fb.NewLocal(i32)
		offset := fb.NewLocal(i32)
		offsetPtr := fb.NewLocal(i32)
		b := fb.Body()

		b.LocalGet(elemSizePtr).I32Load(0).I32Const(0).I32LeU()
		zeroSizeIf := b.BeginIf()
		b.Unreachable()
		b.End()
		_ = zeroSizeIf

		b.I32Const(32).Call(c.Allocator).LocalSet(baseSlot)
		b.LocalGet(arraySlotPtr).I32Const(32).LocalGet(baseSlot).Call(keccak)

		b.LocalGet(elemSizePtr).I32Load(0).I32Const(32).I32LtU()
		packedIf := b.BeginIf()
		// offset = index / (32 / elem_size)
		b.LocalGet(elemIndexPtr).I32Load(0)
		b.I32Const(32).LocalGet(elemSizePtr).I32Load(0).I32DivU()
		b.I32DivU()
		b.LocalSet(offset)
		b.Else()
		// offset = index * ceil(elem_size/32)
		b.LocalGet(elemIndexPtr).I32Load(0)
		b.LocalGet(elemSizePtr).I32Load(0).I32Const(31).I32Add().I32Const(32).I32DivU()
		b.I32Mul()
		b.LocalSet(offset)
		b.End()
		_ = packedIf

		// Stage offset as a little-endian u256 in a fresh 32-byte buffer,
		// byte-swap base_slot into the same little-endian form so the
		// limb-wise add carries in the right direction, then swap the sum
		// back into a big-endian slot.
		b.I32Const(32).Call(c.Allocator).LocalSet(offsetPtr)
		b.LocalGet(offsetPtr).I32Const(0).I32Const(32).MemoryFill()
		b.LocalGet(offsetPtr).LocalGet(offset).I32Store(0)

		b.LocalGet(baseSlot).LocalGet(baseSlot).Call(swap)
		b.LocalGet(outPtr).LocalGet(baseSlot).LocalGet(offsetPtr).I32Const(32).Call(add)
		b.LocalGet(outPtr).LocalGet(outPtr).Call(swap)

		return fb.ID()
	})
}

// GetIdBytesPtr emits/returns get_id_bytes_ptr(struct_ptr) -> bytes_ptr.
// The first field of any struct with the key ability is a UID, whose first
// field is an ID, whose first field is the 32-byte id itself; this walks
// that chain of three pointer indirections.
func GetIdBytesPtr(c *compctx.Context) wasmmod.FuncID {
	const name = "get_id_bytes_ptr"
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		fb := c.Module.NewFunction(name, wasmmod.FuncType{Params: []wasmmod.ValType{i32}, Results: []wasmmod.ValType{i32}})
		structPtr := fb.Param(0)
		b := fb.Body()

		b.LocalGet(structPtr).I32Load(0).I32Load(0).I32Load(0)

		return fb.ID()
	})
}

// WriteObjectSlot emits/returns write_object_slot(owner_ptr, uid_ptr) -> ():
// derives the two-level moveObjects[owner][uid] storage slot, leaving the
// result in the DataObjectsMappingSlotNumOffset scratch buffer.
func WriteObjectSlot(c *compctx.Context) wasmmod.FuncID {
	const name = "write_object_slot"
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		derive := DeriveMappingSlot(c)

		fb := c.Module.NewFunction(name, wasmmod.FuncType{Params: []wasmmod.ValType{i32, i32}})
		ownerPtr, uidPtr := fb.Param(0), fb.Param(1)
		b := fb.Body()

		b.I32Const(compctx.DataObjectsSlotOffset).LocalGet(ownerPtr).I32Const(compctx.DataObjectsMappingSlotNumOffset).Call(derive)
		b.I32Const(compctx.DataObjectsMappingSlotNumOffset).LocalGet(uidPtr).I32Const(compctx.DataObjectsMappingSlotNumOffset).Call(derive)

		return fb.ID()
	})
}

// LocateStructSlot emits/returns locate_struct_slot(struct_ptr) -> (): the
// struct's owner is laid out 32 bytes before struct_ptr in memory (the C6
// object header); this derives its storage slot and leaves it in the
// DataObjectsMappingSlotNumOffset scratch buffer.
func LocateStructSlot(c *compctx.Context) wasmmod.FuncID {
	const name = "locate_struct_slot"
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		writeSlot := WriteObjectSlot(c)
		getID := GetIdBytesPtr(c)

		fb := c.Module.NewFunction(name, wasmmod.FuncType{Params: []wasmmod.ValType{i32}})
		structPtr := fb.Param(0)
		b := fb.Body()

		b.LocalGet(structPtr).I32Const(32).I32Sub()
		b.LocalGet(structPtr).Call(getID)
		b.Call(writeSlot)

		return fb.ID()
	})
}

// swapBytes32 emits/returns swap_bytes_32(in_ptr, out_ptr) -> (): reverses
// the byte order of a 32-byte buffer, converting a big-endian slot to its
// little-endian arithmetic form or back. in_ptr and out_ptr may be equal
// (every call site here passes the same pointer twice); each of the 16
// byte-pairs swapped is disjoint, so the in-place case needs no scratch
// buffer beyond the single-byte local.
func swapBytes32(c *compctx.Context) wasmmod.FuncID {
	const name = "swap_bytes_32"
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		fb := c.Module.NewFunction(name, wasmmod.FuncType{Params: []wasmmod.ValType{i32, i32}})
		inPtr, outPtr := fb.Param(0), fb.Param(1)
		i := fb.NewLocal(i32)
		tmp := fb.NewLocal(i32)
		b := fb.Body()

		b.I32Const(0).LocalSet(i)
		exit := b.BeginBlock()
		loop := b.BeginLoop()
		b.LocalGet(i).I32Const(16).I32GeU().BrIf(exit)

		b.LocalGet(inPtr).LocalGet(i).I32Add().I32Load8U(0).LocalSet(tmp)

		b.LocalGet(outPtr).LocalGet(i).I32Add()
		b.LocalGet(inPtr).I32Const(31).LocalGet(i).I32Sub().I32Add().I32Load8U(0)
		b.I32Store8(0)

		b.LocalGet(outPtr).I32Const(31).LocalGet(i).I32Sub().I32Add()
		b.LocalGet(tmp)
		b.I32Store8(0)

		b.LocalGet(i).I32Const(1).I32Add().LocalSet(i)
		b.Br(loop)
		b.End() // loop
		b.End() // block

		return fb.ID()
	})
}

// StorageNextSlot emits/returns storage_next_slot(slot_ptr) -> slot_ptr:
// given a big-endian 32-byte slot, returns the next slot (slot+1), also
// big-endian, for iterating across the multiple slots a struct's fields may
// occupy.
func StorageNextSlot(c *compctx.Context) wasmmod.FuncID {
	const name = "storage_next_slot"
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		swap := swapBytes32(c)
		add := wideint.Add(c)

		fb := c.Module.NewFunction(name, wasmmod.FuncType{Params: []wasmmod.ValType{i32}, Results: []wasmmod.ValType{i32}})
		slotPtr := fb.Param(0)
		b := fb.Body()

		b.LocalGet(slotPtr).LocalGet(slotPtr).Call(swap)
		b.LocalGet(slotPtr).I32Const(compctx.DataU256OneOffset).LocalGet(slotPtr).I32Const(32).Call(add)
		b.LocalGet(slotPtr).LocalGet(slotPtr).Call(swap)

		b.LocalGet(slotPtr)
		return fb.ID()
	})
}

// LocateStorageData emits/returns locate_storage_data(uid_ptr,
// search_frozen) -> (): looks up an object's encoded struct in the
// moveObjects nested mapping, trying the tx signer's own objects, then the
// shared-objects key, then (if search_frozen is nonzero) the frozen-objects
// key. Traps if none of the three spaces holds the object. On success the
// owner id is left at DataStorageObjectOwnerOffset and the object's storage
// slot at DataObjectsMappingSlotNumOffset.
func LocateStorageData(c *compctx.Context) wasmmod.FuncID {
	const name = "locate_storage_data"
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		isZero := wideint.IsZero(c)
		writeSlot := WriteObjectSlot(c)
		txOrigin := hostio.TxOriginFn(c.Module)
		storageLoad := hostio.StorageLoadBytes32Fn(c.Module)

		fb := c.Module.NewFunction(name, wasmmod.FuncType{Params: []wasmmod.ValType{i32, i32}})
		uidPtr, searchFrozen := fb.Param(0), fb.Param(1)
		b := fb.Body()

		// Wipe the top 12 bytes and left-pad the 20-byte tx signer address
		// into the owner scratch buffer.
		b.I32Const(compctx.DataStorageObjectOwnerOffset).I32Const(0).I32Const(12).MemoryFill()
		b.I32Const(compctx.DataStorageObjectOwnerOffset + 12).Call(txOrigin)

		exit := b.BeginBlock()

		// Signer's objects.
		b.I32Const(compctx.DataStorageObjectOwnerOffset).LocalGet(uidPtr).Call(writeSlot)
		b.I32Const(compctx.DataObjectsMappingSlotNumOffset).I32Const(compctx.DataSlotDataPtrOffset).Call(storageLoad)
		b.I32Const(compctx.DataSlotDataPtrOffset).I32Const(32).Call(isZero).I32Eqz().BrIf(exit)

		// Shared objects.
		b.I32Const(compctx.DataStorageObjectOwnerOffset).I32Const(compctx.DataSharedObjectsKeyOffset).I32Const(32).MemoryCopy()
		b.I32Const(compctx.DataStorageObjectOwnerOffset).LocalGet(uidPtr).Call(writeSlot)
		b.I32Const(compctx.DataObjectsMappingSlotNumOffset).I32Const(compctx.DataSlotDataPtrOffset).Call(storageLoad)
		b.I32Const(compctx.DataSlotDataPtrOffset).I32Const(32).Call(isZero).I32Eqz().BrIf(exit)

		// Frozen objects, only searched when the caller opted in.
		frozenExit := b.BeginBlock()
		b.LocalGet(searchFrozen).I32Eqz().BrIf(frozenExit)

		b.I32Const(compctx.DataStorageObjectOwnerOffset).I32Const(compctx.DataFrozenObjectsKeyOffset).I32Const(32).MemoryCopy()
		b.I32Const(compctx.DataFrozenObjectsKeyOffset).LocalGet(uidPtr).Call(writeSlot)
		b.I32Const(compctx.DataObjectsMappingSlotNumOffset).I32Const(compctx.DataSlotDataPtrOffset).Call(storageLoad)
		b.I32Const(compctx.DataSlotDataPtrOffset).I32Const(32).Call(isZero).I32Eqz().BrIf(exit)
		b.End() // frozenExit
		_ = frozenExit

		// Exhausted all three spaces without finding the object.
		b.Unreachable()
		b.End() // exit

		return fb.ID()
	})
}
