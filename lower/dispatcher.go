// Package lower implements the C4 runtime kernel: type dispatch. Dispatcher
// is the direct analogue of wazero's frontend.Compiler, a
// per-compilation-unit struct that exposes one method per value-model
// operation and fans each one out to C1 (wideint), C2 (stackint), C3
// (sequence), or C7 (structcodec) based on the ir.Type of the value being
// lowered.
//
// Every method here emits instructions inline into a caller-supplied
// wasmmod.InstrBuilder rather than defining its own named function; the
// operations are too cheap (one or two instructions for scalars) or too
// context-dependent (the current locals of the enclosing function) to be
// worth memoizing on their own. Where a fan-out target is itself a memoized
// emitted function (wideint.Equal, sequence.PushBack, ...), Dispatcher calls
// it the same way any other caller would.
package lower

import (
	"fmt"

	"github.com/sourcevm/wasmgen/compctx"
	"github.com/sourcevm/wasmgen/ir"
	"github.com/sourcevm/wasmgen/runtime/sequence"
	"github.com/sourcevm/wasmgen/runtime/stackint"
	"github.com/sourcevm/wasmgen/runtime/structcodec"
	"github.com/sourcevm/wasmgen/runtime/wideint"
	"github.com/sourcevm/wasmgen/wasmmod"
)

const (
	i32 = wasmmod.ValTypeI32
	i64 = wasmmod.ValTypeI64
)

// Dispatcher fans the source-VM value-model operations out to their
// concrete C1/C2/C3/C7 emitters, memoizing any helper function it
// defines along the way through C.
type Dispatcher struct {
	C *compctx.Context
}

// New returns a Dispatcher wired to c.
func New(c *compctx.Context) *Dispatcher {
	return &Dispatcher{C: c}
}

// unsupported panics the way frontend.Compiler does for a lowering case it
// doesn't implement yet: a TODO-prefixed message for the two type kinds
// left unhandled here (Enum, ExternalUserData), a BUG-prefixed one for
// anything else that should never reach a lowering call.
func unsupported(op string, t ir.Type) {
	switch t.Kind() {
	case ir.KindEnum, ir.KindExternalUserData:
		panic(fmt.Sprintf("TODO: unsupported in lower.Dispatcher yet: %s on %s", op, t))
	case ir.KindTypeParameter:
		panic(fmt.Sprintf("BUG: TypeParameter reached %s; must be eliminated by instantiation first", op))
	default:
		panic(fmt.Sprintf("BUG: %s has no lowering for %s", op, t))
	}
}

// ValType returns the wasm local type a value of t occupies: i64 for U64,
// i32 for every other stack-resident scalar and for every heap-resident
// type (always represented as a single i32 pointer).
func ValType(t ir.Type) wasmmod.ValType {
	if t.Kind() == ir.KindTypeParameter {
		unsupported("ValType", t)
	}
	if t.StackDataSize() == 8 {
		return i64
	}
	return i32
}

// StackToLocal declares a fresh local of the wasm type matching t on fb and
// stores the value currently on top of the operand stack into it, returning
// the new LocalID. Used at the start of a basic block to pin an operand the
// rest of the block will reference more than once.
func (d *Dispatcher) StackToLocal(fb *wasmmod.FuncBuilder, t ir.Type) wasmmod.LocalID {
	id := fb.NewLocal(ValType(t))
	fb.Body().LocalSet(id)
	return id
}

// MemToLocal emits the load of field/slot offset within the struct instance
// at ptr, leaving the value on the stack in its native local representation.
// This is the same width rule every C7 field walk already open-codes
// (4-byte load for everything except U64, including heap-resident fields,
// which are stored as a plain i32 pointer) generalized into one entry point
// so a future in-memory (non-storage) struct layout can reuse it for nested
// struct fields, which structcodec's storage codec does not support.
func (d *Dispatcher) MemToLocal(b *wasmmod.InstrBuilder, t ir.Type, ptr wasmmod.LocalID, offset int) {
	b.LocalGet(ptr)
	if ValType(t) == i64 {
		b.I64Load(uint32(offset))
	} else {
		b.I32Load(uint32(offset))
	}
}

// LocalToMem is MemToLocal's inverse: stores val (already on the stack, in
// its native local representation) into offset within the struct instance
// at ptr. val must be pushed by the caller immediately before this call.
func (d *Dispatcher) LocalToMem(b *wasmmod.InstrBuilder, t ir.Type, ptr wasmmod.LocalID, offset int, pushVal func()) {
	b.LocalGet(ptr)
	pushVal()
	if ValType(t) == i64 {
		b.I64Store(uint32(offset))
	} else {
		b.I32Store(uint32(offset))
	}
}

// LoadConstant pushes a literal value of type t. Scalars take value as a
// uint64 (truncated/widened to t's width by the caller); wide integers and
// addresses take value as a little-endian []byte of exactly t.HeapSize()
// bytes, copied byte-by-byte into a freshly allocated heap cell since every
// byte of a compile-time constant is itself compile-time known and needs no
// runtime encoding step. Takes fb rather than just its InstrBuilder because
// the wide-value case needs a scratch local, declarable only on fb.
func (d *Dispatcher) LoadConstant(fb *wasmmod.FuncBuilder, t ir.Type, value any) {
	b := fb.Body()
	switch t.Kind() {
	case ir.KindBool, ir.KindU8, ir.KindU16, ir.KindU32:
		v, ok := value.(uint64)
		if !ok {
			panic("BUG: LoadConstant: expected uint64 for " + t.String())
		}
		b.I32Const(int32(uint32(v)))
	case ir.KindU64:
		v, ok := value.(uint64)
		if !ok {
			panic("BUG: LoadConstant: expected uint64 for " + t.String())
		}
		b.I64Const(int64(v))
	case ir.KindU128, ir.KindU256, ir.KindAddress:
		bytes, ok := value.([]byte)
		if !ok || len(bytes) != t.HeapSize() {
			panic(fmt.Sprintf("BUG: LoadConstant: expected %d-byte []byte for %s", t.HeapSize(), t))
		}
		ptr := fb.NewLocal(i32)
		b.I32Const(int32(t.HeapSize())).Call(d.C.Allocator).LocalSet(ptr)
		for i, byt := range bytes {
			b.LocalGet(ptr).I32Const(int32(byt)).I32Store8(uint32(i))
		}
		b.LocalGet(ptr)
	default:
		unsupported("LoadConstant", t)
	}
}

// CopyLocal pushes an independent copy of the value in src: the value
// itself for every stack-resident scalar and for references (Move
// references are always copyable by aliasing, never by cloning the
// referent); a deep copy for heap-resident value types, so no two locals
// ever end up aliasing the same allocation after a Move bytecode CopyLoc.
func (d *Dispatcher) CopyLocal(b *wasmmod.InstrBuilder, t ir.Type, src wasmmod.LocalID) {
	switch t.Kind() {
	case ir.KindRef, ir.KindMutRef:
		b.LocalGet(src)
	default:
		if !t.IsHeap() {
			b.LocalGet(src)
			return
		}
		b.LocalGet(src).Call(d.cloneFn(t))
	}
}

// MoveLocal pushes the value in src, transferring ownership without
// cloning. The wasm-level representation of a moved value is identical to
// a copied reference's; the difference is purely in the source VM's static
// linearity check, which has already run by the time a value reaches this
// package.
func (d *Dispatcher) MoveLocal(b *wasmmod.InstrBuilder, t ir.Type, src wasmmod.LocalID) {
	if t.Kind() == ir.KindTypeParameter {
		unsupported("MoveLocal", t)
	}
	b.LocalGet(src)
}

// Box produces an address that can be taken as a Ref/MutRef to t's value in
// src: for a stack-resident scalar, a freshly allocated one-slot heap cell
// holding a copy of it (scalars have no stable address of their own); for a
// heap-resident type, src's own pointer, since it is already an address.
// Takes fb rather than just its InstrBuilder because the scalar case needs
// a scratch local, declarable only on fb.
func (d *Dispatcher) Box(fb *wasmmod.FuncBuilder, t ir.Type, src wasmmod.LocalID) {
	b := fb.Body()
	if t.Kind() == ir.KindTypeParameter {
		unsupported("Box", t)
	}
	if t.IsHeap() {
		b.LocalGet(src)
		return
	}
	vt := ValType(t)
	size := t.StackDataSize()
	ptr := fb.NewLocal(i32)
	b.I32Const(int32(size)).Call(d.C.Allocator).LocalSet(ptr)
	b.LocalGet(ptr).LocalGet(src)
	if vt == i64 {
		b.I64Store(0)
	} else {
		b.I32Store(0)
	}
	b.LocalGet(ptr)
}

// Borrow produces a Ref/MutRef value over src, identical in representation
// to Box: this package draws no distinction between "the address of an
// owned value" and "a reference to it".
func (d *Dispatcher) Borrow(fb *wasmmod.FuncBuilder, t ir.Type, src wasmmod.LocalID) {
	d.Box(fb, t, src)
}

// ReadRef dereferences a Ref/MutRef(referent) value at ptr, pushing the
// referent's value in its native representation: a scalar load out of the
// boxed cell Box created, or, for a heap-resident referent, the pointer
// itself (a Ref to a heap value is the same address as the value).
func (d *Dispatcher) ReadRef(b *wasmmod.InstrBuilder, refT ir.Type, ptr wasmmod.LocalID) {
	if refT.Kind() != ir.KindRef && refT.Kind() != ir.KindMutRef {
		panic("BUG: ReadRef: " + refT.String() + " is not a reference type")
	}
	referent := refT.Elem()
	if referent.Kind() == ir.KindTypeParameter {
		unsupported("ReadRef", referent)
	}
	if referent.IsHeap() {
		b.LocalGet(ptr)
		return
	}
	b.LocalGet(ptr)
	if ValType(referent) == i64 {
		b.I64Load(0)
	} else {
		b.I32Load(0)
	}
}

// WriteRef writes pushVal() through a MutRef(referent) value at ptr: a
// scalar store into the boxed cell for a stack-resident referent, or an
// in-place byte-for-byte overwrite for a fixed-size heap-resident one
// (wide integers, addresses, and flat structs), which preserves ptr's
// identity for every other outstanding reference to the same value.
// Vector referents are not supported: PushBack/PopBack can change a
// vector's backing allocation, so a WriteRef through an existing pointer
// cannot, in general, preserve every alias the way the fixed-size case
// does without an extra level of indirection this package does not model.
func (d *Dispatcher) WriteRef(b *wasmmod.InstrBuilder, refT ir.Type, ptr wasmmod.LocalID, pushVal func()) {
	if refT.Kind() != ir.KindMutRef {
		panic("BUG: WriteRef: " + refT.String() + " is not a mutable reference type")
	}
	referent := refT.Elem()
	switch referent.Kind() {
	case ir.KindVector:
		panic("TODO: WriteRef through a MutRef(Vector) is not supported; the backing allocation can move under push/pop")
	case ir.KindTypeParameter, ir.KindEnum, ir.KindExternalUserData:
		unsupported("WriteRef", referent)
	}
	if !referent.IsHeap() {
		b.LocalGet(ptr)
		pushVal()
		if ValType(referent) == i64 {
			b.I64Store(0)
		} else {
			b.I32Store(0)
		}
		return
	}
	size := fixedHeapSize(d.C, referent)
	b.LocalGet(ptr)
	pushVal()
	b.I32Const(int32(size)).MemoryCopy()
}

// Equality pushes an i32 bool: whether the values in a and b are equal.
// Stack integers (and Bool) compare with stackint's checked-width
// comparator; references compare pointer-wise with stackint's 32-bit
// comparator; wide integers, addresses, and flat structs compare byte-wise
// via wideint.Equal, the general fixed-size comparator; vectors compare
// length and element-wise via sequence.Equal.
func (d *Dispatcher) Equality(b *wasmmod.InstrBuilder, t ir.Type, a, bb wasmmod.LocalID) {
	b.LocalGet(a).LocalGet(bb).Call(d.equalityFn(t))
}

// equalityFn returns the memoized (a, b) -> i32 bool comparator for t,
// reused both by Equality and by ElemKind(t).EqFn for vectors of t.
func (d *Dispatcher) equalityFn(t ir.Type) wasmmod.FuncID {
	switch t.Kind() {
	case ir.KindBool, ir.KindU8, ir.KindU16, ir.KindU32, ir.KindU64:
		return stackint.Equal(d.C, stackint.WidthOf(t))
	case ir.KindRef, ir.KindMutRef:
		return stackint.Equal(d.C, stackint.W32)
	case ir.KindU128, ir.KindU256, ir.KindAddress, ir.KindStruct, ir.KindGenericStructInstance:
		return d.fixedSizeEqualityFn(t)
	case ir.KindVector:
		return sequence.Equal(d.C, d.ElemKind(t.Elem()))
	default:
		unsupported("Equality", t)
		panic("unreachable")
	}
}

// fixedSizeEqualityFn wraps wideint.Equal (a_ptr, b_ptr, size) -> i32 into
// a fixed-arity (a_ptr, b_ptr) -> i32 comparator for one concrete t, so it
// can be used anywhere a plain two-argument EqFn/FuncID is expected.
func (d *Dispatcher) fixedSizeEqualityFn(t ir.Type) wasmmod.FuncID {
	name := "eq$" + t.MangledName()
	return d.C.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		size := fixedHeapSize(c, t)
		eq := wideint.Equal(c)
		fb := c.Module.NewFunction(name, wasmmod.FuncType{Params: []wasmmod.ValType{i32, i32}, Results: []wasmmod.ValType{i32}})
		a, bb := fb.Param(0), fb.Param(1)
		fb.Body().LocalGet(a).LocalGet(bb).I32Const(int32(size)).Call(eq)
		return fb.ID()
	})
}

// fixedHeapSize returns the number of bytes a fixed-size heap-resident
// value of t occupies: HeapSize for wide integers/addresses, the in-memory
// field size for a flat struct.
func fixedHeapSize(c *compctx.Context, t ir.Type) int {
	switch t.Kind() {
	case ir.KindU128, ir.KindU256, ir.KindAddress:
		return t.HeapSize()
	case ir.KindStruct, ir.KindGenericStructInstance:
		return structcodec.InMemorySize(c, t)
	default:
		panic("BUG: " + t.String() + " has no fixed heap size")
	}
}

// cloneFn returns the memoized (ptr) -> ptr deep-copy function for a
// heap-resident type t, used by CopyLocal and by ElemKind(t).CloneFn for
// vectors of t.
func (d *Dispatcher) cloneFn(t ir.Type) wasmmod.FuncID {
	name := "clone$" + t.MangledName()
	return d.C.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		switch t.Kind() {
		case ir.KindU128, ir.KindU256, ir.KindAddress, ir.KindStruct, ir.KindGenericStructInstance:
			return d.emitMemcpyClone(t, fixedHeapSize(c, t))
		case ir.KindVector:
			return d.emitVectorClone(t)
		default:
			unsupported("CopyLocal", t)
			panic("unreachable")
		}
	})
}

func (d *Dispatcher) emitMemcpyClone(t ir.Type, size int) wasmmod.FuncID {
	name := "clone$" + t.MangledName()
	c := d.C
	fb := c.Module.NewFunction(name, wasmmod.FuncType{Params: []wasmmod.ValType{i32}, Results: []wasmmod.ValType{i32}})
	src := fb.Param(0)
	dst := fb.NewLocal(i32)
	b := fb.Body()

	b.I32Const(int32(size)).Call(c.Allocator).LocalSet(dst)
	b.LocalGet(dst).LocalGet(src).I32Const(int32(size)).MemoryCopy()
	b.LocalGet(dst)

	return fb.ID()
}

// emitVectorClone deep-copies a Vector(elem) by allocating a destination
// with cap == source len but len == 0 (so the PushBack loop below fills it
// without ever triggering a grow) and copying or cloning each element
// through the element's own ElemKind, so no two independent vector values
// ever alias a shared element.
func (d *Dispatcher) emitVectorClone(t ir.Type) wasmmod.FuncID {
	name := "clone$" + t.MangledName()
	c := d.C
	k := d.ElemKind(t.Elem())
	allocFn := sequence.Allocate(c, k)

	fb := c.Module.NewFunction(name, wasmmod.FuncType{Params: []wasmmod.ValType{i32}, Results: []wasmmod.ValType{i32}})
	src := fb.Param(0)
	dst := fb.NewLocal(i32)
	i := fb.NewLocal(i32)
	b := fb.Body()

	sequence.EmitLoadLen(b, src)
	b.LocalSet(i)
	b.I32Const(0)
	b.LocalGet(i)
	b.Call(allocFn).LocalSet(dst)

	b.I32Const(0).LocalSet(i)
	exit := b.BeginBlock()
	loop := b.BeginLoop()
	b.LocalGet(i)
	sequence.EmitLoadLen(b, src)
	b.I32GeU().BrIf(exit)

	b.LocalGet(dst)
	b.LocalGet(src).LocalGet(i).Call(sequence.Borrow(c, k))
	if k.IsHeap {
		b.I32Load(0).Call(k.CloneFn)
	} else if ValType(t.Elem()) == i64 {
		b.I64Load(0)
	} else {
		b.I32Load(0)
	}
	b.Call(sequence.PushBack(c, k)).LocalSet(dst)

	b.LocalGet(i).I32Const(1).I32Add().LocalSet(i)
	b.Br(loop)
	b.End()
	b.End()

	b.LocalGet(dst)
	return fb.ID()
}

// ElemKind builds the sequence.ElemKind describing how a Vector's elements
// of type t are stored, copied, and compared, recursing through cloneFn/
// equalityFn for heap-resident elements (including nested vectors).
func (d *Dispatcher) ElemKind(t ir.Type) sequence.ElemKind {
	if t.Kind() == ir.KindTypeParameter {
		unsupported("ElemKind", t)
	}
	k := sequence.ElemKind{Tag: t.MangledName(), EqFn: d.equalityFn(t)}
	if t.IsHeap() {
		k.IsHeap = true
		k.CloneFn = d.cloneFn(t)
	} else {
		k.StackSize = t.StackDataSize()
	}
	return k
}
