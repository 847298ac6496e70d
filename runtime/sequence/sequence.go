// Package sequence implements the C3 runtime kernel: a length/capacity
// prefixed dynamic sequence, laid out in linear memory as
// [len:u32][cap:u32][elements...], matching the header shape in
// original_source's translation/intermediate_types/vector.rs
// (allocate_vector_with_header).
//
// The kernel is generic over the element's storage shape: stack elements
// (fixed-width scalars) are byte-copied in place; heap elements (pointers
// to further heap structures) are deep-copied through a caller-supplied
// clone function, so no two sequences ever alias the same payload. C4's
// Dispatcher decides, per ir.Type, which ElemKind to pass in.
package sequence

import (
	"fmt"

	"github.com/sourcevm/wasmgen/compctx"
	"github.com/sourcevm/wasmgen/wasmmod"
)

const (
	i32 = wasmmod.ValTypeI32

	headerBytes = 8
	lenOffset   = 0
	capOffset   = 4
	elemsOffset = 8
)

// ElemKind describes how one element of a sequence is stored and,
// crucially, how to copy one: StackSize bytes in place for a stack
// element, or a call to CloneFn (ptr -> ptr) for a heap element whose
// CloneFn is responsible for producing an independent deep copy.
type ElemKind struct {
	// Tag uniquely identifies the element type for memoization purposes
	// (ir.Type.MangledName() in practice).
	Tag string
	// StackSize is the number of bytes a stack element occupies inline;
	// ignored when IsHeap is true (heap elements always occupy one i32
	// pointer slot).
	StackSize int
	IsHeap    bool
	// CloneFn deep-copies one heap element (ptr) -> ptr. Required when
	// IsHeap is true.
	CloneFn wasmmod.FuncID
	// EqFn compares two elements (ptr_or_value_a, ptr_or_value_b) -> i32
	// bool. Required by Equal.
	EqFn wasmmod.FuncID
}

func (k ElemKind) elemSize() int {
	if k.IsHeap {
		return 4
	}
	return k.StackSize
}

func (k ElemKind) valType() wasmmod.ValType {
	if !k.IsHeap && k.StackSize == 8 {
		return wasmmod.ValTypeI64
	}
	return i32
}

func fname(op, tag string) string { return fmt.Sprintf("seq$%s$%s", op, tag) }

// Allocate emits/returns seq$allocate$<tag>(len, cap) -> ptr: allocates a
// header-prefixed buffer sized for cap elements and writes len/cap,
// trapping if len > cap.
func Allocate(c *compctx.Context, k ElemKind) wasmmod.FuncID {
	n := fname("allocate", k.Tag)
	return c.GetOrEmit(n, func(c *compctx.Context) wasmmod.FuncID {
		fb := c.Module.NewFunction(n, wasmmod.FuncType{Params: []wasmmod.ValType{i32, i32}, Results: []wasmmod.ValType{i32}})
		ln, cap_ := fb.Param(0), fb.Param(1)
		ptr := fb.NewLocal(i32)
		b := fb.Body()

		b.LocalGet(ln).LocalGet(cap_).I32GtU()
		invIf := b.BeginIf()
		b.Unreachable()
		b.End()
		_ = invIf

		b.LocalGet(cap_).I32Const(int32(k.elemSize())).I32Mul().I32Const(headerBytes).I32Add()
		b.Call(c.Allocator)
		b.LocalSet(ptr)

		b.LocalGet(ptr).LocalGet(ln).I32Store(lenOffset)
		b.LocalGet(ptr).LocalGet(cap_).I32Store(capOffset)
		b.LocalGet(ptr)

		return fb.ID()
	})
}

// EmitLoadLen pushes len(ptr) as an i32, a shared, non-memoized helper
// inlined by callers: exposed as a package function rather than an emitted
// wasm function since it is only a local.get and a load.
func EmitLoadLen(b *wasmmod.InstrBuilder, ptr wasmmod.LocalID) {
	b.LocalGet(ptr).I32Load(lenOffset)
}

func EmitLoadCap(b *wasmmod.InstrBuilder, ptr wasmmod.LocalID) {
	b.LocalGet(ptr).I32Load(capOffset)
}

// elemAddr pushes the address of element idx, reading both ptr and idx
// from already-declared locals itself; used internally by
// Borrow/Swap/Push/Pop/Equal.
func elemAddr(b *wasmmod.InstrBuilder, ptr, idx wasmmod.LocalID, elemSize int) {
	b.LocalGet(ptr).LocalGet(idx).I32Const(int32(elemSize)).I32Mul().I32Add().I32Const(elemsOffset).I32Add()
}

// Borrow emits/returns seq$borrow$<tag>(ptr, idx) -> elem_addr: the
// address of element idx (an i32 pointer for heap elements; the address
// to load/store a stack value otherwise), trapping if idx >= len.
func Borrow(c *compctx.Context, k ElemKind) wasmmod.FuncID {
	n := fname("borrow", k.Tag)
	return c.GetOrEmit(n, func(c *compctx.Context) wasmmod.FuncID {
		fb := c.Module.NewFunction(n, wasmmod.FuncType{Params: []wasmmod.ValType{i32, i32}, Results: []wasmmod.ValType{i32}})
		ptr, idx := fb.Param(0), fb.Param(1)
		b := fb.Body()

		b.LocalGet(idx).LocalGet(ptr).I32Load(lenOffset).I32GeU()
		oobIf := b.BeginIf()
		b.Unreachable()
		b.End()
		_ = oobIf

		elemAddr(b, ptr, idx, k.elemSize())
		return fb.ID()
	})
}

// Swap emits/returns seq$swap$<tag>(ptr, i, j) -> (), exchanging elements
// i and j in place, trapping if either index is out of bounds.
func Swap(c *compctx.Context, k ElemKind) wasmmod.FuncID {
	n := fname("swap", k.Tag)
	return c.GetOrEmit(n, func(c *compctx.Context) wasmmod.FuncID {
		fb := c.Module.NewFunction(n, wasmmod.FuncType{Params: []wasmmod.ValType{i32, i32, i32}})
		ptr, ii, jj := fb.Param(0), fb.Param(1), fb.Param(2)
		tmp := fb.NewLocal(k.valType())
		b := fb.Body()

		b.LocalGet(ii).LocalGet(ptr).I32Load(lenOffset).I32GeU()
		b.LocalGet(jj).LocalGet(ptr).I32Load(lenOffset).I32GeU()
		b.I32Or()
		oobIf := b.BeginIf()
		b.Unreachable()
		b.End()
		_ = oobIf

		loadElem := func(idx wasmmod.LocalID) {
			elemAddr(b, ptr, idx, k.elemSize())
			if k.valType() == wasmmod.ValTypeI64 {
				b.I64Load(0)
			} else {
				b.I32Load(0)
			}
		}
		storeElem := func(idx wasmmod.LocalID) {
			elemAddr(b, ptr, idx, k.elemSize())
			b.LocalGet(tmp)
			if k.valType() == wasmmod.ValTypeI64 {
				b.I64Store(0)
			} else {
				b.I32Store(0)
			}
		}

		loadElem(ii)
		b.LocalSet(tmp)

		elemAddr(b, ptr, ii, k.elemSize())
		elemAddr(b, ptr, jj, k.elemSize())
		if k.valType() == wasmmod.ValTypeI64 {
			b.I64Load(0)
		} else {
			b.I32Load(0)
		}
		if k.valType() == wasmmod.ValTypeI64 {
			b.I64Store(0)
		} else {
			b.I32Store(0)
		}

		storeElem(jj)

		return fb.ID()
	})
}

// PushBack emits/returns seq$push$<tag>(ptr, value_or_ptr) -> new_ptr.
// The sequence's backing buffer never grows in place (the bump allocator
// never frees); if len == cap, a fresh, larger buffer is allocated and the
// existing elements are copied (by value for stack elements, by cloning
// for heap elements - never aliased) before appending.
func PushBack(c *compctx.Context, k ElemKind) wasmmod.FuncID {
	n := fname("push", k.Tag)
	allocFn := Allocate(c, k)
	return c.GetOrEmit(n, func(c *compctx.Context) wasmmod.FuncID {
		fb := c.Module.NewFunction(n, wasmmod.FuncType{Params: []wasmmod.ValType{i32, k.valType()}, Results: []wasmmod.ValType{i32}})
		ptr, val := fb.Param(0), fb.Param(1)
		ln := fb.NewLocal(i32)
		cp := fb.NewLocal(i32)
		dst := fb.NewLocal(i32)
		i := fb.NewLocal(i32)
		b := fb.Body()

		b.LocalGet(ptr).I32Load(lenOffset).LocalSet(ln)
		b.LocalGet(ptr).I32Load(capOffset).LocalSet(cp)

		b.LocalGet(ln).LocalGet(cp).I32Eq()
		growIf := b.BeginIf()

		newCap := fb.NewLocal(i32)
		b.LocalGet(cp).I32Const(2).I32Mul().LocalGet(cp).I32Eqz().I32Add().LocalSet(newCap) // grow factor 2, +1 to handle cap==0
		b.LocalGet(ln).LocalGet(newCap).Call(allocFn).LocalSet(dst)

		b.I32Const(0).LocalSet(i)
		copyExit := b.BeginBlock()
		copyLoop := b.BeginLoop()
		b.LocalGet(i).LocalGet(ln).I32GeU().BrIf(copyExit)

		elemAddr(b, dst, i, k.elemSize())
		if k.IsHeap {
			elemAddr(b, ptr, i, k.elemSize())
			b.I32Load(0)
			b.Call(k.CloneFn)
			b.I32Store(0)
		} else if k.valType() == wasmmod.ValTypeI64 {
			elemAddr(b, ptr, i, k.elemSize())
			b.I64Load(0)
			b.I64Store(0)
		} else {
			elemAddr(b, ptr, i, k.elemSize())
			b.I32Load(0)
			b.I32Store(0)
		}

		b.LocalGet(i).I32Const(1).I32Add().LocalSet(i)
		b.Br(copyLoop)
		b.End()
		b.End()

		b.Else()
		b.LocalGet(ptr).LocalSet(dst)
		b.End()
		_ = growIf

		// Append the new element and bump the length.
		elemAddr(b, dst, ln, k.elemSize())
		b.LocalGet(val)
		if k.valType() == wasmmod.ValTypeI64 {
			b.I64Store(0)
		} else {
			b.I32Store(0)
		}
		b.LocalGet(dst).LocalGet(ln).I32Const(1).I32Add().I32Store(lenOffset)

		b.LocalGet(dst)
		return fb.ID()
	})
}

// PopBack emits/returns seq$pop$<tag>(ptr) -> value_or_ptr, trapping on
// an empty sequence.
func PopBack(c *compctx.Context, k ElemKind) wasmmod.FuncID {
	n := fname("pop", k.Tag)
	return c.GetOrEmit(n, func(c *compctx.Context) wasmmod.FuncID {
		fb := c.Module.NewFunction(n, wasmmod.FuncType{Params: []wasmmod.ValType{i32}, Results: []wasmmod.ValType{k.valType()}})
		ptr := fb.Param(0)
		ln := fb.NewLocal(i32)
		b := fb.Body()

		b.LocalGet(ptr).I32Load(lenOffset).LocalTee(ln)
		b.I32Eqz()
		emptyIf := b.BeginIf()
		b.Unreachable()
		b.End()
		_ = emptyIf

		newLen := fb.NewLocal(i32)
		b.LocalGet(ln).I32Const(1).I32Sub().LocalSet(newLen)
		b.LocalGet(ptr).LocalGet(newLen).I32Store(lenOffset)

		elemAddr(b, ptr, newLen, k.elemSize())
		if k.valType() == wasmmod.ValTypeI64 {
			b.I64Load(0)
		} else {
			b.I32Load(0)
		}

		return fb.ID()
	})
}

// Equal emits/returns seq$eq$<tag>(a_ptr, b_ptr) -> i32 bool: equal
// length and every element equal per k.EqFn.
func Equal(c *compctx.Context, k ElemKind) wasmmod.FuncID {
	n := fname("eq", k.Tag)
	return c.GetOrEmit(n, func(c *compctx.Context) wasmmod.FuncID {
		fb := c.Module.NewFunction(n, wasmmod.FuncType{Params: []wasmmod.ValType{i32, i32}, Results: []wasmmod.ValType{i32}})
		aPtr, bPtr := fb.Param(0), fb.Param(1)
		i := fb.NewLocal(i32)
		mismatch := fb.NewLocal(i32)
		b := fb.Body()

		b.LocalGet(aPtr).I32Load(lenOffset).LocalGet(bPtr).I32Load(lenOffset).I32Ne()
		lenMismatchIf := b.BeginIf()
		b.I32Const(1).LocalSet(mismatch)
		b.Else()
		b.I32Const(0).LocalSet(i)
		b.I32Const(0).LocalSet(mismatch)

		exit := b.BeginBlock()
		loop := b.BeginLoop()
		b.LocalGet(i).LocalGet(aPtr).I32Load(lenOffset).I32GeU().BrIf(exit)

		elemAddr(b, aPtr, i, k.elemSize())
		if !k.IsHeap {
			if k.valType() == wasmmod.ValTypeI64 {
				b.I64Load(0)
			} else {
				b.I32Load(0)
			}
		} else {
			b.I32Load(0)
		}
		elemAddr(b, bPtr, i, k.elemSize())
		if !k.IsHeap {
			if k.valType() == wasmmod.ValTypeI64 {
				b.I64Load(0)
			} else {
				b.I32Load(0)
			}
		} else {
			b.I32Load(0)
		}
		b.Call(k.EqFn)
		b.I32Eqz()
		neIf := b.BeginIf()
		b.I32Const(1).LocalSet(mismatch)
		b.Br(exit)
		b.End()
		_ = neIf

		b.LocalGet(i).I32Const(1).I32Add().LocalSet(i)
		b.Br(loop)
		b.End()
		b.End()

		b.End() // lenMismatchIf/else
		_ = lenMismatchIf

		b.LocalGet(mismatch).I32Eqz()
		return fb.ID()
	})
}
