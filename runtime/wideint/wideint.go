// Package wideint implements the C1 runtime kernels: add, subtract,
// multiply, and divmod over heap-resident wide integers
// (U128/U256/Address), plus the comparison and zero-test helpers the rest
// of the core builds on. Every value is a little-endian byte buffer in
// linear memory; size is always a multiple of 4 (limb width for add/sub/mul)
// and of 8 (limb width for divmod).
//
// Grounded on the long-addition/long-multiplication/long-division
// algorithms in original_source's runtime/integers/{mul,div}.rs, expressed
// against this repo's own wasmmod/compctx builder rather than walrus.
package wideint

import (
	"fmt"

	"github.com/sourcevm/wasmgen/compctx"
	"github.com/sourcevm/wasmgen/wasmmod"
)

const (
	i32 = wasmmod.ValTypeI32
	i64 = wasmmod.ValTypeI64
)

func sig(params ...wasmmod.ValType) wasmmod.FuncType {
	return wasmmod.FuncType{Params: params}
}

func sigRet(params []wasmmod.ValType, results ...wasmmod.ValType) wasmmod.FuncType {
	return wasmmod.FuncType{Params: params, Results: results}
}

// IsZero emits/returns heap_int_is_zero(ptr, size) -> i32 bool: true iff
// every byte in [ptr, ptr+size) is zero.
func IsZero(c *compctx.Context) wasmmod.FuncID {
	const name = "heap_int_is_zero"
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		fb := c.Module.NewFunction(name, sigRet([]wasmmod.ValType{i32, i32}, i32))
		ptr, size := fb.Param(0), fb.Param(1)
		i := fb.NewLocal(i32)
		acc := fb.NewLocal(i32)
		b := fb.Body()

		b.I32Const(0).LocalSet(i)
		b.I32Const(0).LocalSet(acc)

		exit := b.BeginBlock()
		loop := b.BeginLoop()
		b.LocalGet(i).LocalGet(size).I32GeU().BrIf(exit)
		b.LocalGet(ptr).LocalGet(i).I32Add().I32Load8U(0)
		b.LocalGet(acc).I32Or().LocalSet(acc)
		b.LocalGet(i).I32Const(1).I32Add().LocalSet(i)
		b.Br(loop)
		b.End() // loop
		b.End() // block

		b.LocalGet(acc).I32Eqz()
		return fb.ID()
	})
}

// Equal emits/returns heap_int_eq(a_ptr, b_ptr, size) -> i32 bool: byte-wise
// equality over [0, size). Used both for wide-integer equality and, more
// generally, for fixed-size struct/address/object-key comparisons (the C4
// dispatcher's Equality operation delegates here for wide integers,
// addresses and flat structs).
func Equal(c *compctx.Context) wasmmod.FuncID {
	const name = "heap_int_eq"
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		fb := c.Module.NewFunction(name, sigRet([]wasmmod.ValType{i32, i32, i32}, i32))
		aPtr, bPtr, size := fb.Param(0), fb.Param(1), fb.Param(2)
		i := fb.NewLocal(i32)
		mismatch := fb.NewLocal(i32)
		b := fb.Body()

		b.I32Const(0).LocalSet(i)
		b.I32Const(0).LocalSet(mismatch)

		exit := b.BeginBlock()
		loop := b.BeginLoop()
		b.LocalGet(i).LocalGet(size).I32GeU().BrIf(exit)
		b.LocalGet(aPtr).LocalGet(i).I32Add().I32Load8U(0)
		b.LocalGet(bPtr).LocalGet(i).I32Add().I32Load8U(0)
		b.I32Ne()
		mismatchIf := b.BeginIf()
		b.I32Const(1).LocalSet(mismatch)
		b.Br(exit)
		b.End()
		_ = mismatchIf
		b.LocalGet(i).I32Const(1).I32Add().LocalSet(i)
		b.Br(loop)
		b.End() // loop
		b.End() // block

		b.LocalGet(mismatch).I32Eqz()
		return fb.ID()
	})
}

// greaterEqual emits/returns heap_int_ge(a_ptr, b_ptr, size) -> i32 bool,
// an unsigned n-limb (8-byte limb) comparison starting from the most
// significant limb, used internally by divmod's subtract-while-ge loop.
func greaterEqual(c *compctx.Context) wasmmod.FuncID {
	const name = "heap_int_ge64"
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		fb := c.Module.NewFunction(name, sigRet([]wasmmod.ValType{i32, i32, i32}, i32))
		aPtr, bPtr, size := fb.Param(0), fb.Param(1), fb.Param(2)
		i := fb.NewLocal(i32) // byte offset of the limb under comparison, counting down
		av := fb.NewLocal(i64)
		bv := fb.NewLocal(i64)
		result := fb.NewLocal(i32)
		b := fb.Body()

		b.LocalGet(size).I32Const(8).I32Sub().LocalSet(i)
		b.I32Const(1).LocalSet(result) // all limbs equal => a >= b

		outer := b.BeginBlock()
		loop := b.BeginLoop()
		b.LocalGet(i).I32Const(0).I32LtS().BrIf(outer) // consumed all limbs: keep result

		b.LocalGet(aPtr).LocalGet(i).I32Add().I64Load(0).LocalSet(av)
		b.LocalGet(bPtr).LocalGet(i).I32Add().I64Load(0).LocalSet(bv)

		b.LocalGet(av).LocalGet(bv).I64GtU()
		gtIf := b.BeginIf()
		b.I32Const(1).LocalSet(result)
		b.Br(outer)
		b.End()
		_ = gtIf

		b.LocalGet(av).LocalGet(bv).I64LtU()
		ltIf := b.BeginIf()
		b.I32Const(0).LocalSet(result)
		b.Br(outer)
		b.End()
		_ = ltIf

		b.LocalGet(i).I32Const(8).I32Sub().LocalSet(i)
		b.Br(loop)
		b.End() // loop
		b.End() // block

		b.LocalGet(result)
		return fb.ID()
	})
}

// Add emits/returns heap_int_add(out_ptr, a_ptr, b_ptr, size) -> (),
// computing out = a + b over 4-byte limbs, little-endian, and trapping on
// carry out of the most significant limb.
func Add(c *compctx.Context) wasmmod.FuncID {
	const name = "heap_int_add"
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		fb := c.Module.NewFunction(name, sig(i32, i32, i32, i32))
		out, aPtr, bPtr, size := fb.Param(0), fb.Param(1), fb.Param(2), fb.Param(3)
		i := fb.NewLocal(i32)
		carry := fb.NewLocal(i64)
		av := fb.NewLocal(i64)
		bv := fb.NewLocal(i64)
		sum := fb.NewLocal(i64)
		b := fb.Body()

		b.I32Const(0).LocalSet(i)
		b.I64Const(0).LocalSet(carry)

		exit := b.BeginBlock()
		loop := b.BeginLoop()
		b.LocalGet(i).LocalGet(size).I32GeU().BrIf(exit)

		b.LocalGet(aPtr).LocalGet(i).I32Add().I32Load(0).I64ExtendI32U().LocalSet(av)
		b.LocalGet(bPtr).LocalGet(i).I32Add().I32Load(0).I64ExtendI32U().LocalSet(bv)
		b.LocalGet(av).LocalGet(bv).I64Add().LocalGet(carry).I64Add().LocalSet(sum)

		b.LocalGet(out).LocalGet(i).I32Add()
		b.LocalGet(sum).I32WrapI64()
		b.I32Store(0)

		b.LocalGet(sum).I64Const(32).I64ShrU().LocalSet(carry)

		b.LocalGet(i).I32Const(4).I32Add().LocalSet(i)
		b.Br(loop)
		b.End() // loop
		b.End() // block

		b.LocalGet(carry).I64Const(0).I64Ne()
		overflowIf := b.BeginIf()
		b.Unreachable()
		b.End()
		_ = overflowIf

		return fb.ID()
	})
}

// Sub emits/returns heap_int_sub(out_ptr, a_ptr, b_ptr, size) -> (),
// computing out = a - b over 4-byte limbs and trapping if a < b.
func Sub(c *compctx.Context) wasmmod.FuncID {
	const name = "heap_int_sub"
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		fb := c.Module.NewFunction(name, sig(i32, i32, i32, i32))
		out, aPtr, bPtr, size := fb.Param(0), fb.Param(1), fb.Param(2), fb.Param(3)
		i := fb.NewLocal(i32)
		borrow := fb.NewLocal(i64)
		av := fb.NewLocal(i64)
		bv := fb.NewLocal(i64)
		diff := fb.NewLocal(i64)
		b := fb.Body()

		b.I32Const(0).LocalSet(i)
		b.I64Const(0).LocalSet(borrow)

		exit := b.BeginBlock()
		loop := b.BeginLoop()
		b.LocalGet(i).LocalGet(size).I32GeU().BrIf(exit)

		b.LocalGet(aPtr).LocalGet(i).I32Add().I32Load(0).I64ExtendI32U().LocalSet(av)
		b.LocalGet(bPtr).LocalGet(i).I32Add().I32Load(0).I64ExtendI32U().LocalSet(bv)
		b.LocalGet(bv).LocalGet(borrow).I64Add().LocalSet(bv)

		b.LocalGet(av).LocalGet(bv).I64LtU() // new borrow, as i32
		newBorrowTmp := fb.NewLocal(i32)
		b.LocalSet(newBorrowTmp)

		b.LocalGet(av).LocalGet(bv).I64Sub().LocalSet(diff)

		b.LocalGet(out).LocalGet(i).I32Add()
		b.LocalGet(diff).I32WrapI64()
		b.I32Store(0)

		b.LocalGet(newBorrowTmp).I64ExtendI32U().LocalSet(borrow)

		b.LocalGet(i).I32Const(4).I32Add().LocalSet(i)
		b.Br(loop)
		b.End() // loop
		b.End() // block

		b.LocalGet(borrow).I64Const(0).I64Ne()
		underflowIf := b.BeginIf()
		b.Unreachable()
		b.End()
		_ = underflowIf

		return fb.ID()
	})
}

// Mul emits/returns heap_int_mul(out_ptr, a_ptr, b_ptr, size) -> (),
// computing out = a * b with fixed output width `size` (4-byte limbs),
// trapping if any partial product would carry past the top limb.
// Grounded on heap_integers_mul in original_source's mul.rs: an O(n^2)
// schoolbook multiply accumulating directly into the result buffer.
func Mul(c *compctx.Context) wasmmod.FuncID {
	const name = "heap_int_mul"
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		fb := c.Module.NewFunction(name, sig(i32, i32, i32, i32))
		out, aPtr, bPtr, size := fb.Param(0), fb.Param(1), fb.Param(2), fb.Param(3)

		aOff := fb.NewLocal(i32)
		bOff := fb.NewLocal(i32)
		carryMul := fb.NewLocal(i64)
		carrySum := fb.NewLocal(i64)
		av := fb.NewLocal(i64)
		bv := fb.NewLocal(i64)
		partialMul := fb.NewLocal(i64)
		partialSum := fb.NewLocal(i64)

		b := fb.Body()

		// Zero the result buffer; partial sums accumulate into it in place.
		b.LocalGet(out).I32Const(0).LocalGet(size).MemoryFill()

		b.I32Const(0).LocalSet(bOff)

		outerExit := b.BeginBlock()
		outerLoop := b.BeginLoop()
		b.LocalGet(bOff).LocalGet(size).I32Eq().BrIf(outerExit)

		b.I32Const(0).LocalSet(aOff)
		b.I64Const(0).LocalSet(carrySum)
		b.I64Const(0).LocalSet(carryMul)

		b.LocalGet(bPtr).LocalGet(bOff).I32Add().I32Load(0).I64ExtendI32U().LocalSet(bv)

		innerExit := b.BeginBlock()
		innerLoop := b.BeginLoop()

		// Once a_offset + b_offset reaches size, the rest of this row lies
		// past the top limb: a leftover multiply or column-add carry, or
		// any nonzero a_i * b_j from here on, means the product overflowed
		// size. The row ends when a_offset itself reaches size.
		b.LocalGet(aOff).LocalGet(bOff).I32Add().LocalGet(size).I32GeU()
		doneIf := b.BeginIf()
		b.LocalGet(carryMul).LocalGet(carrySum).I64Or().I64Const(0).I64Ne()
		overflowIf := b.BeginIf()
		b.Unreachable()
		b.End()
		b.LocalGet(aOff).LocalGet(size).I32Eq().BrIf(innerExit)
		b.LocalGet(aPtr).LocalGet(aOff).I32Add().I32Load(0).I64ExtendI32U().LocalGet(bv).I64Mul().I64Const(0).I64Ne()
		highIf := b.BeginIf()
		b.Unreachable()
		b.End()
		b.LocalGet(aOff).I32Const(4).I32Add().LocalSet(aOff)
		b.Br(innerLoop)
		b.End()
		_ = doneIf
		_ = overflowIf
		_ = highIf

		b.LocalGet(aPtr).LocalGet(aOff).I32Add().I32Load(0).I64ExtendI32U().LocalTee(av)
		b.LocalGet(bv).I64Mul().LocalGet(carryMul).I64Add().LocalTee(partialMul)
		b.I64Const(32).I64ShrU().LocalSet(carryMul)
		b.LocalGet(partialMul).I64Const(0xFFFFFFFF).I64And()

		// Add the low 32 bits of partial_mul into the result buffer at
		// (a_offset + b_offset), propagating carry_sum across this row.
		b.LocalGet(aOff).LocalGet(bOff).I32Add().LocalGet(out).I32Add().I32Load(0).I64ExtendI32U()
		b.I64Add().LocalGet(carrySum).I64Add().LocalSet(partialSum)

		b.LocalGet(aOff).LocalGet(bOff).I32Add().LocalGet(out).I32Add()
		b.LocalGet(partialSum).I64Const(0xFFFFFFFF).I64And().I32WrapI64()
		b.I32Store(0)

		b.LocalGet(partialSum).I64Const(32).I64ShrU().LocalSet(carrySum)

		b.LocalGet(aOff).I32Const(4).I32Add().LocalSet(aOff)
		b.Br(innerLoop)
		b.End() // inner loop
		b.End() // inner block

		b.LocalGet(bOff).I32Const(4).I32Add().LocalSet(bOff)
		b.Br(outerLoop)
		b.End() // outer loop
		b.End() // outer block

		return fb.ID()
	})
}

// DivMod emits/returns heap_int_divmod(out_quot_ptr, out_rem_ptr, a_ptr,
// b_ptr, size) -> (), computing the quotient and remainder of a / b with
// 8-byte limbs via subtraction-counted digits, most-significant limb
// first. Traps (the canonical i32 1/0 idiom) if the divisor is zero.
//
// Grounded on heap_integers_div_mod in original_source's div.rs.
func DivMod(c *compctx.Context) wasmmod.FuncID {
	const name = "heap_int_divmod"
	return c.GetOrEmit(name, func(c *compctx.Context) wasmmod.FuncID {
		geFn := greaterEqual(c)
		subFn := Sub(c)

		fb := c.Module.NewFunction(name, sig(i32, i32, i32, i32, i32))
		outQuot := fb.Param(0)
		outRem := fb.Param(1)
		aPtr := fb.Param(2)
		bPtr := fb.Param(3)
		size := fb.Param(4)

		i := fb.NewLocal(i32)
		acc := fb.NewLocal(i64) // OR-reduction for the zero-divisor check
		count := fb.NewLocal(i64)
		b := fb.Body()

		// Divisor-is-zero guard.
		b.I32Const(0).LocalSet(i)
		b.I64Const(0).LocalSet(acc)
		zeroExit := b.BeginBlock()
		zeroLoop := b.BeginLoop()
		b.LocalGet(i).LocalGet(size).I32GeU().BrIf(zeroExit)
		b.LocalGet(bPtr).LocalGet(i).I32Add().I64Load(0).LocalGet(acc).I64Or().LocalSet(acc)
		b.LocalGet(i).I32Const(8).I32Add().LocalSet(i)
		b.Br(zeroLoop)
		b.End()
		b.End()
		b.LocalGet(acc).I64Eqz()
		zeroDivisorIf := b.BeginIf()
		b.DivU32TrapByZero()
		b.End()
		_ = zeroDivisorIf

		// Zero the quotient and remainder output buffers.
		b.LocalGet(outQuot).I32Const(0).LocalGet(size).MemoryFill()
		b.LocalGet(outRem).I32Const(0).LocalGet(size).MemoryFill()

		b.LocalGet(size).I32Const(8).I32Sub().LocalSet(i)

		digitExit := b.BeginBlock()
		digitLoop := b.BeginLoop()
		b.LocalGet(i).I32Const(0).I32LtS().BrIf(digitExit)

		// Shift the remainder left by one 8-byte limb (toward higher
		// offsets), then bring in the next dividend limb at offset 0.
		shiftI := fb.NewLocal(i32)
		b.LocalGet(size).I32Const(8).I32Sub().LocalSet(shiftI)
		shiftExit := b.BeginBlock()
		shiftLoop := b.BeginLoop()
		b.LocalGet(shiftI).I32Const(0).I32LeS().BrIf(shiftExit)
		b.LocalGet(outRem).LocalGet(shiftI).I32Add()
		b.LocalGet(outRem).LocalGet(shiftI).I32Const(8).I32Sub().I32Add().I64Load(0)
		b.I64Store(0)
		b.LocalGet(shiftI).I32Const(8).I32Sub().LocalSet(shiftI)
		b.Br(shiftLoop)
		b.End()
		b.End()
		b.LocalGet(outRem).I64Const(0).I64Store(0)

		b.LocalGet(outRem).LocalGet(aPtr).LocalGet(i).I32Add().I64Load(0).I64Store(0)

		// If remainder < divisor, this digit is 0; otherwise count how
		// many times the divisor can be subtracted out.
		b.LocalGet(outRem).LocalGet(bPtr).LocalGet(size).Call(geFn)
		geIf := b.BeginIf()
		b.I64Const(0).LocalSet(count)
		subExit := b.BeginBlock()
		subLoop := b.BeginLoop()
		b.LocalGet(outRem).LocalGet(bPtr).LocalGet(size).Call(geFn).I32Eqz().BrIf(subExit)
		b.LocalGet(outRem).LocalGet(outRem).LocalGet(bPtr).LocalGet(size).Call(subFn)
		b.LocalGet(count).I64Const(1).I64Add().LocalSet(count)
		b.Br(subLoop)
		b.End()
		b.End()
		b.LocalGet(outQuot).LocalGet(i).I32Add().LocalGet(count).I64Store(0)
		b.End() // geIf (no else: digit stays 0)
		_ = geIf

		b.LocalGet(i).I32Const(8).I32Sub().LocalSet(i)
		b.Br(digitLoop)
		b.End() // digit loop
		b.End() // digit block

		return fb.ID()
	})
}

// mangledName builds the deterministic per-width emitter name used when a
// caller needs a width-specialized wrapper (the core kernels above are
// already generic over size and never need one). Nothing else in this
// module calls it or MangledName.
func mangledName(op string, bitWidth int) string {
	return fmt.Sprintf("%s$%d", op, bitWidth)
}

// MangledName exposes mangledName for other packages building diagnostic
// or memoization-adjacent names from a wide-integer operation and width.
func MangledName(op string, bitWidth int) string { return mangledName(op, bitWidth) }
