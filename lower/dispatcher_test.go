package lower_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sourcevm/wasmgen/compctx"
	"github.com/sourcevm/wasmgen/govm"
	"github.com/sourcevm/wasmgen/ir"
	"github.com/sourcevm/wasmgen/lower"
	"github.com/sourcevm/wasmgen/runtime/internal/runtimetest"
	"github.com/sourcevm/wasmgen/runtime/sequence"
	"github.com/sourcevm/wasmgen/wasmmod"
)

const (
	i32 = wasmmod.ValTypeI32
	i64 = wasmmod.ValTypeI64
)

func u256Bytes(fill byte) []byte {
	b := make([]byte, 32)
	b[31] = fill
	return b
}

func TestLoadConstantScalarAndWideInt(t *testing.T) {
	c := runtimetest.NewContext(1)
	d := lower.New(c)

	u32Fn := c.Module.NewFunction("load_u32", wasmmod.FuncType{Results: []wasmmod.ValType{i32}})
	d.LoadConstant(u32Fn, ir.U32(), uint64(7))
	c.Module.Export("load_u32", u32Fn.ID())

	u64Fn := c.Module.NewFunction("load_u64", wasmmod.FuncType{Results: []wasmmod.ValType{i64}})
	d.LoadConstant(u64Fn, ir.U64(), uint64(1)<<40)
	c.Module.Export("load_u64", u64Fn.ID())

	u256Fn := c.Module.NewFunction("load_u256", wasmmod.FuncType{Results: []wasmmod.ValType{i32}})
	d.LoadConstant(u256Fn, ir.U256(), u256Bytes(42))
	c.Module.Export("load_u256", u256Fn.ID())

	h, err := govm.New(c.Module, [20]byte{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	res, err := h.Call("load_u32")
	require.NoError(t, err)
	require.Equal(t, uint64(7), res[0])

	res, err = h.Call("load_u64")
	require.NoError(t, err)
	require.Equal(t, uint64(1)<<40, res[0])

	res, err = h.Call("load_u256")
	require.NoError(t, err)
	require.Equal(t, u256Bytes(42), h.ReadMemory(uint32(res[0]), 32))
}

func TestLoadConstantWrongValueTypePanics(t *testing.T) {
	c := runtimetest.NewContext(1)
	d := lower.New(c)
	fb := c.Module.NewFunction("bad", wasmmod.FuncType{Results: []wasmmod.ValType{i32}})
	require.Panics(t, func() { d.LoadConstant(fb, ir.U256(), uint64(1)) })
}

// TestBoxBorrowReadWriteScalar round-trips a non-heap U32 through
// Box/ReadRef/WriteRef: Box allocates a one-slot cell, ReadRef reads it
// back, and WriteRef overwrites it in place.
func TestBoxBorrowReadWriteScalar(t *testing.T) {
	c := runtimetest.NewContext(1)
	d := lower.New(c)

	boxFn := c.Module.NewFunction("box_u32", wasmmod.FuncType{Params: []wasmmod.ValType{i32}, Results: []wasmmod.ValType{i32}})
	d.Box(boxFn, ir.U32(), boxFn.Param(0))
	c.Module.Export("box_u32", boxFn.ID())

	readFn := c.Module.NewFunction("read_u32_ref", wasmmod.FuncType{Params: []wasmmod.ValType{i32}, Results: []wasmmod.ValType{i32}})
	d.ReadRef(readFn.Body(), ir.Ref(ir.U32()), readFn.Param(0))
	c.Module.Export("read_u32_ref", readFn.ID())

	writeFn := c.Module.NewFunction("write_u32_ref", wasmmod.FuncType{Params: []wasmmod.ValType{i32, i32}})
	newVal := writeFn.Param(1)
	d.WriteRef(writeFn.Body(), ir.MutRef(ir.U32()), writeFn.Param(0), func() { writeFn.Body().LocalGet(newVal) })
	c.Module.Export("write_u32_ref", writeFn.ID())

	h, err := govm.New(c.Module, [20]byte{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	res, err := h.Call("box_u32", 99)
	require.NoError(t, err)
	ptr := res[0]

	res, err = h.Call("read_u32_ref", ptr)
	require.NoError(t, err)
	require.Equal(t, uint64(99), res[0])

	_, err = h.Call("write_u32_ref", ptr, 123)
	require.NoError(t, err)

	res, err = h.Call("read_u32_ref", ptr)
	require.NoError(t, err)
	require.Equal(t, uint64(123), res[0])
}

// TestBoxIsIdentityForHeapTypes checks that Box on an already-heap type
// (U256) returns src unchanged rather than allocating a new cell.
func TestBoxIsIdentityForHeapTypes(t *testing.T) {
	c := runtimetest.NewContext(1)
	d := lower.New(c)

	boxFn := c.Module.NewFunction("box_u256", wasmmod.FuncType{Params: []wasmmod.ValType{i32}, Results: []wasmmod.ValType{i32}})
	d.Box(boxFn, ir.U256(), boxFn.Param(0))
	c.Module.Export("box_u256", boxFn.ID())

	h, err := govm.New(c.Module, [20]byte{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	res, err := h.Call("box_u256", 4096)
	require.NoError(t, err)
	require.Equal(t, uint64(4096), res[0])
}

// TestWriteRefHeapOverwritesInPlace checks that WriteRef through a
// MutRef(U256) copies bytes into the existing cell rather than rebinding
// the pointer, so other aliases of ptr observe the update.
func TestWriteRefHeapOverwritesInPlace(t *testing.T) {
	c := runtimetest.NewContext(1)
	d := lower.New(c)

	allocFn := c.Module.NewFunction("alloc_u256", wasmmod.FuncType{Results: []wasmmod.ValType{i32}})
	allocFn.Body().I32Const(32).Call(c.Allocator)
	c.Module.Export("alloc_u256", allocFn.ID())

	writeFn := c.Module.NewFunction("write_u256_ref", wasmmod.FuncType{Params: []wasmmod.ValType{i32, i32}})
	src := writeFn.Param(1)
	d.WriteRef(writeFn.Body(), ir.MutRef(ir.U256()), writeFn.Param(0), func() { writeFn.Body().LocalGet(src) })
	c.Module.Export("write_u256_ref", writeFn.ID())

	h, err := govm.New(c.Module, [20]byte{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	res, err := h.Call("alloc_u256")
	require.NoError(t, err)
	dst := uint32(res[0])

	srcBytes := u256Bytes(7)
	res, err = h.Call("alloc_u256")
	require.NoError(t, err)
	src2 := uint32(res[0])
	h.WriteMemory(src2, srcBytes)

	_, err = h.Call("write_u256_ref", uint64(dst), uint64(src2))
	require.NoError(t, err)
	require.Equal(t, srcBytes, h.ReadMemory(dst, 32))
}

func TestWriteRefVectorReferentUnsupported(t *testing.T) {
	c := runtimetest.NewContext(1)
	d := lower.New(c)
	fb := c.Module.NewFunction("noop", wasmmod.FuncType{Params: []wasmmod.ValType{i32}})
	require.Panics(t, func() {
		d.WriteRef(fb.Body(), ir.MutRef(ir.Vector(ir.U32())), fb.Param(0), func() {})
	})
}

// TestMemToLocalLocalToMemFieldRoundTrip builds a two-U64-field struct by
// hand (the way a real struct constructor would) and reads it back
// through MemToLocal, exercising both halves of C4's in-memory field
// accessors.
func TestMemToLocalLocalToMemFieldRoundTrip(t *testing.T) {
	c := runtimetest.NewContext(1)
	d := lower.New(c)
	structID := c.DeclareStruct(compctx.StructDef{
		Name: "Pair",
		Fields: []compctx.StructField{
			{Name: "a", Type: ir.U64()},
			{Name: "b", Type: ir.U64()},
		},
	})
	structType := ir.Struct(structID)

	makeFn := c.Module.NewFunction("make_pair", wasmmod.FuncType{Params: []wasmmod.ValType{i64, i64}, Results: []wasmmod.ValType{i32}})
	a, b := makeFn.Param(0), makeFn.Param(1)
	ptr := makeFn.NewLocal(i32)
	makeFn.Body().I32Const(16).Call(c.Allocator).LocalSet(ptr)
	d.LocalToMem(makeFn.Body(), ir.U64(), ptr, 0, func() { makeFn.Body().LocalGet(a) })
	d.LocalToMem(makeFn.Body(), ir.U64(), ptr, 8, func() { makeFn.Body().LocalGet(b) })
	makeFn.Body().LocalGet(ptr)
	c.Module.Export("make_pair", makeFn.ID())

	readAFn := c.Module.NewFunction("read_a", wasmmod.FuncType{Params: []wasmmod.ValType{i32}, Results: []wasmmod.ValType{i64}})
	d.MemToLocal(readAFn.Body(), ir.U64(), readAFn.Param(0), 0)
	c.Module.Export("read_a", readAFn.ID())

	readBFn := c.Module.NewFunction("read_b", wasmmod.FuncType{Params: []wasmmod.ValType{i32}, Results: []wasmmod.ValType{i64}})
	d.MemToLocal(readBFn.Body(), ir.U64(), readBFn.Param(0), 8)
	c.Module.Export("read_b", readBFn.ID())

	cloneFn := c.Module.NewFunction("clone_pair", wasmmod.FuncType{Params: []wasmmod.ValType{i32}, Results: []wasmmod.ValType{i32}})
	d.CopyLocal(cloneFn.Body(), structType, cloneFn.Param(0))
	c.Module.Export("clone_pair", cloneFn.ID())

	eqFn := c.Module.NewFunction("eq_pair", wasmmod.FuncType{Params: []wasmmod.ValType{i32, i32}, Results: []wasmmod.ValType{i32}})
	d.Equality(eqFn.Body(), structType, eqFn.Param(0), eqFn.Param(1))
	c.Module.Export("eq_pair", eqFn.ID())

	h, err := govm.New(c.Module, [20]byte{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	res, err := h.Call("make_pair", 10, 20)
	require.NoError(t, err)
	p1 := res[0]

	res, err = h.Call("read_a", p1)
	require.NoError(t, err)
	require.Equal(t, uint64(10), res[0])
	res, err = h.Call("read_b", p1)
	require.NoError(t, err)
	require.Equal(t, uint64(20), res[0])

	res, err = h.Call("clone_pair", p1)
	require.NoError(t, err)
	p2 := res[0]
	require.NotEqual(t, p1, p2, "CopyLocal must produce an independent allocation")

	res, err = h.Call("eq_pair", p1, p2)
	require.NoError(t, err)
	require.Equal(t, uint64(1), res[0])

	res, err = h.Call("make_pair", 10, 21)
	require.NoError(t, err)
	p3 := res[0]
	res, err = h.Call("eq_pair", p1, p3)
	require.NoError(t, err)
	require.Equal(t, uint64(0), res[0])
}

// TestCopyLocalClonesVectorElements checks that CopyLocal on a Vector type
// deep-copies: the clone is a distinct allocation and compares equal to
// its source, but later pushes to the source are not observed by the clone.
func TestCopyLocalClonesVectorElements(t *testing.T) {
	c := runtimetest.NewContext(1)
	d := lower.New(c)

	k := d.ElemKind(ir.U32())

	allocFn := c.Module.NewFunction("alloc_vec", wasmmod.FuncType{Params: []wasmmod.ValType{i32, i32}, Results: []wasmmod.ValType{i32}})
	allocFn.Body().LocalGet(allocFn.Param(0)).LocalGet(allocFn.Param(1)).Call(sequence.Allocate(c, k))
	c.Module.Export("alloc_vec", allocFn.ID())

	pushFn := c.Module.NewFunction("push_vec", wasmmod.FuncType{Params: []wasmmod.ValType{i32, i32}, Results: []wasmmod.ValType{i32}})
	pushFn.Body().LocalGet(pushFn.Param(0)).LocalGet(pushFn.Param(1)).Call(sequence.PushBack(c, k))
	c.Module.Export("push_vec", pushFn.ID())

	cloneFn := c.Module.NewFunction("clone_vec", wasmmod.FuncType{Params: []wasmmod.ValType{i32}, Results: []wasmmod.ValType{i32}})
	d.CopyLocal(cloneFn.Body(), ir.Vector(ir.U32()), cloneFn.Param(0))
	c.Module.Export("clone_vec", cloneFn.ID())

	eqFn := c.Module.NewFunction("eq_vec", wasmmod.FuncType{Params: []wasmmod.ValType{i32, i32}, Results: []wasmmod.ValType{i32}})
	d.Equality(eqFn.Body(), ir.Vector(ir.U32()), eqFn.Param(0), eqFn.Param(1))
	c.Module.Export("eq_vec", eqFn.ID())

	h, err := govm.New(c.Module, [20]byte{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	res, err := h.Call("alloc_vec", 0, 2)
	require.NoError(t, err)
	src := res[0]
	for _, v := range []uint64{11, 22} {
		res, err = h.Call("push_vec", src, v)
		require.NoError(t, err)
		src = res[0]
	}

	res, err = h.Call("clone_vec", src)
	require.NoError(t, err)
	clone := res[0]
	require.NotEqual(t, src, clone)

	res, err = h.Call("eq_vec", src, clone)
	require.NoError(t, err)
	require.Equal(t, uint64(1), res[0])

	res, err = h.Call("push_vec", src, 33)
	require.NoError(t, err)
	grownSrc := res[0]

	res, err = h.Call("eq_vec", grownSrc, clone)
	require.NoError(t, err)
	require.Equal(t, uint64(0), res[0], "the clone must not observe elements pushed to the source afterwards")
}

