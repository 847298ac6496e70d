// Package stackint implements the C2 runtime kernels: checked arithmetic
// over the native stack-resident integer widths (u8/u16/u32/u64). Every
// operation traps on overflow rather than wrapping.
//
// Grounded on the overflow-check idiom in original_source's mul_u32/mul_u64
// (runtime/integers/mul.rs): "given n2 != 0, overflow iff n1 > MAX/n2",
// generalized here to add/sub/shl as well as mul, and to u8/u16 by
// comparing the result of a wider operation against the width's max value.
package stackint

import (
	"github.com/sourcevm/wasmgen/compctx"
	"github.com/sourcevm/wasmgen/ir"
	"github.com/sourcevm/wasmgen/wasmmod"
)

const (
	i32 = wasmmod.ValTypeI32
	i64 = wasmmod.ValTypeI64
)

// Width identifies a stack-integer's bit width.
type Width int

const (
	W8 Width = 8
	W16 Width = 16
	W32 Width = 32
	W64 Width = 64
)

func WidthOf(t ir.Type) Width {
	switch t.Kind() {
	case ir.KindBool, ir.KindU8:
		return W8
	case ir.KindU16:
		return W16
	case ir.KindU32:
		return W32
	case ir.KindU64:
		return W64
	default:
		panic("BUG: not a stack-int type: " + t.String())
	}
}

func (w Width) valType() wasmmod.ValType {
	if w == W64 {
		return i64
	}
	return i32
}

// maxValue32 returns the maximum value for widths below 32, or -1 for the
// 32/64-bit widths, which callers do not bound-check through this value.
func (w Width) maxValue32() int32 {
	switch w {
	case W8:
		return 0xFF
	case W16:
		return 0xFFFF
	default:
		return -1 // unused: 32/64 bit widths don't mask via this path
	}
}

func name(op string, w Width) string {
	switch w {
	case W8:
		return op + "_u8"
	case W16:
		return op + "_u16"
	case W32:
		return op + "_u32"
	default:
		return op + "_u64"
	}
}

// Add emits/returns a checked add for the given width: (a, b) -> sum,
// trapping if the true sum exceeds the width's max value.
func Add(c *compctx.Context, w Width) wasmmod.FuncID {
	n := name("checked_add", w)
	return c.GetOrEmit(n, func(c *compctx.Context) wasmmod.FuncID {
		vt := w.valType()
		fb := c.Module.NewFunction(n, wasmmod.FuncType{Params: []wasmmod.ValType{vt, vt}, Results: []wasmmod.ValType{vt}})
		a, bb := fb.Param(0), fb.Param(1)
		bd := fb.Body()

		if w == W64 {
			sum := fb.NewLocal(i64)
			bd.LocalGet(a).LocalGet(bb).I64Add().LocalTee(sum)
			bd.LocalGet(a).I64LtU() // sum < a  <=>  wrapped around => overflow
			ovIf := bd.BeginIf()
			bd.Unreachable()
			bd.End()
			_ = ovIf
			bd.LocalGet(sum)
		} else {
			// Widen to i64, add, compare against the width's max value.
			sum := fb.NewLocal(i64)
			bd.LocalGet(a).I64ExtendI32U().LocalGet(bb).I64ExtendI32U().I64Add().LocalSet(sum)
			bd.LocalGet(sum).I64Const(int64(uint32(w.maxValue32()))).I64GtU()
			ovIf := bd.BeginIf()
			bd.Unreachable()
			bd.End()
			_ = ovIf
			bd.LocalGet(sum).I32WrapI64()
		}
		return fb.ID()
	})
}

// Sub emits/returns a checked sub for the given width: (a, b) -> a-b,
// trapping if b > a.
func Sub(c *compctx.Context, w Width) wasmmod.FuncID {
	n := name("checked_sub", w)
	return c.GetOrEmit(n, func(c *compctx.Context) wasmmod.FuncID {
		vt := w.valType()
		fb := c.Module.NewFunction(n, wasmmod.FuncType{Params: []wasmmod.ValType{vt, vt}, Results: []wasmmod.ValType{vt}})
		a, bb := fb.Param(0), fb.Param(1)
		bd := fb.Body()

		if w == W64 {
			bd.LocalGet(a).LocalGet(bb).I64LtU()
			ovIf := bd.BeginIf()
			bd.Unreachable()
			bd.End()
			_ = ovIf
			bd.LocalGet(a).LocalGet(bb).I64Sub()
		} else {
			bd.LocalGet(a).LocalGet(bb).I32LtU()
			ovIf := bd.BeginIf()
			bd.Unreachable()
			bd.End()
			_ = ovIf
			bd.LocalGet(a).LocalGet(bb).I32Sub()
		}
		return fb.ID()
	})
}

// Mul emits/returns a checked mul for the given width. Grounded directly
// on original_source's mul_u32/mul_u64: overflow iff b != 0 && a > MAX/b.
func Mul(c *compctx.Context, w Width) wasmmod.FuncID {
	n := name("checked_mul", w)
	return c.GetOrEmit(n, func(c *compctx.Context) wasmmod.FuncID {
		vt := w.valType()
		fb := c.Module.NewFunction(n, wasmmod.FuncType{Params: []wasmmod.ValType{vt, vt}, Results: []wasmmod.ValType{vt}})
		a, bb := fb.Param(0), fb.Param(1)
		bd := fb.Body()

		if w == W64 {
			bd.LocalGet(bb).I64Const(0).I64Ne()
			nzIf := bd.BeginIf()
			bd.LocalGet(a).I64Const(-1 /* u64::MAX */).LocalGet(bb).I64DivU().I64GtU()
			ovIf := bd.BeginIf()
			bd.Unreachable()
			bd.End()
			bd.End()
			_, _ = nzIf, ovIf
			bd.LocalGet(a).LocalGet(bb).I64Mul()
			return fb.ID()
		}

		// u8/u16/u32: do the multiply in 64-bit, widened from the operand
		// width, then check the product against the target width's max
		// value (0xFFFFFFFF for u32, maxValue32 for u8/u16).
		prod := fb.NewLocal(i64)
		bd.LocalGet(a).I64ExtendI32U().LocalGet(bb).I64ExtendI32U().I64Mul().LocalSet(prod)
		limit := int64(0xFFFFFFFF)
		if w != W32 {
			limit = int64(uint32(w.maxValue32()))
		}
		bd.LocalGet(prod).I64Const(limit).I64GtU()
		ovIf := bd.BeginIf()
		bd.Unreachable()
		bd.End()
		_ = ovIf
		bd.LocalGet(prod).I32WrapI64()
		return fb.ID()
	})
}

// Shl emits/returns a checked left shift for the given width: traps if
// the shift amount is >= the width, or if any set bit would be shifted
// past the top of the width.
func Shl(c *compctx.Context, w Width) wasmmod.FuncID {
	n := name("checked_shl", w)
	return c.GetOrEmit(n, func(c *compctx.Context) wasmmod.FuncID {
		vt := w.valType()
		fb := c.Module.NewFunction(n, wasmmod.FuncType{Params: []wasmmod.ValType{vt, i32}, Results: []wasmmod.ValType{vt}})
		v, shift := fb.Param(0), fb.Param(1)
		bd := fb.Body()

		if w == W64 {
			bd.LocalGet(shift).I32Const(64).I32GeU()
			rangeIf := bd.BeginIf()
			bd.Unreachable()
			bd.End()
			_ = rangeIf

			shifted := fb.NewLocal(i64)
			bd.LocalGet(v).LocalGet(shift).I64ExtendI32U().I64Shl().LocalTee(shifted)
			bd.LocalGet(shifted).LocalGet(shift).I64ExtendI32U().I64ShrU().LocalGet(v).I64Ne()
			ovIf := bd.BeginIf()
			bd.Unreachable()
			bd.End()
			_ = ovIf
			bd.LocalGet(shifted)
			return fb.ID()
		}

		bd.LocalGet(shift).I32Const(int32(w)).I32GeU()
		rangeIf := bd.BeginIf()
		bd.Unreachable()
		bd.End()
		_ = rangeIf

		shifted := fb.NewLocal(i32)
		bd.LocalGet(v).LocalGet(shift).I32Shl().LocalTee(shifted)
		bd.LocalGet(shifted).LocalGet(shift).I32ShrU().LocalGet(v).I32Ne()
		ovIf := bd.BeginIf()
		bd.Unreachable()
		bd.End()
		_ = ovIf
		if w != W32 {
			bd.LocalGet(shifted).I32Const(w.maxValue32()).I32GtU()
			maskIf := bd.BeginIf()
			bd.Unreachable()
			bd.End()
			_ = maskIf
		}
		bd.LocalGet(shifted)
		return fb.ID()
	})
}

// Equal emits/returns a same-width equality test (used by the C4
// dispatcher for stack-int types, and directly for Bool).
func Equal(c *compctx.Context, w Width) wasmmod.FuncID {
	n := name("eq", w)
	return c.GetOrEmit(n, func(c *compctx.Context) wasmmod.FuncID {
		vt := w.valType()
		fb := c.Module.NewFunction(n, wasmmod.FuncType{Params: []wasmmod.ValType{vt, vt}, Results: []wasmmod.ValType{i32}})
		a, bb := fb.Param(0), fb.Param(1)
		bd := fb.Body()
		bd.LocalGet(a).LocalGet(bb)
		if w == W64 {
			bd.I64Eq()
		} else {
			bd.I32Eq()
		}
		return fb.ID()
	})
}
