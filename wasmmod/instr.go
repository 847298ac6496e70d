package wasmmod

import (
	"bytes"

	"github.com/sourcevm/wasmgen/internal/leb128"
)

// Label identifies a structured control-flow target (a block, loop, or if)
// for Br/BrIf. It is only valid between the Begin* call that produced it
// and the matching End.
type Label struct {
	depth int
}

const (
	opUnreachable = 0x00
	opBlock       = 0x02
	opLoop        = 0x03
	opIf          = 0x04
	opElse        = 0x05
	opEnd         = 0x0B
	opBr          = 0x0C
	opBrIf        = 0x0D
	opCall        = 0x10
	opDrop        = 0x1A

	opLocalGet  = 0x20
	opLocalSet  = 0x21
	opLocalTee  = 0x22
	opGlobalGet = 0x23
	opGlobalSet = 0x24

	opI32Load    = 0x28
	opI64Load    = 0x29
	opI32Load8U  = 0x2D
	opI32Load16U = 0x2F
	opI64Load8U  = 0x31
	opI64Load16U = 0x33
	opI64Load32U = 0x35

	opI32Store    = 0x36
	opI64Store    = 0x37
	opI32Store8   = 0x3A
	opI32Store16  = 0x3B
	opI64Store8   = 0x3C
	opI64Store16  = 0x3D
	opI64Store32  = 0x3E

	opI32Const = 0x41
	opI64Const = 0x42

	opI32Eqz = 0x45
	opI32Eq  = 0x46
	opI32Ne  = 0x47
	opI32LtS = 0x48
	opI32LtU = 0x49
	opI32GtS = 0x4A
	opI32GtU = 0x4B
	opI32LeS = 0x4C
	opI32LeU = 0x4D
	opI32GeS = 0x4E
	opI32GeU = 0x4F

	opI64Eqz = 0x50
	opI64Eq  = 0x51
	opI64Ne  = 0x52
	opI64LtS = 0x53
	opI64LtU = 0x54
	opI64GtS = 0x55
	opI64GtU = 0x56
	opI64LeS = 0x57
	opI64LeU = 0x58
	opI64GeS = 0x59
	opI64GeU = 0x5A

	opI32Clz    = 0x67
	opI32Ctz    = 0x68
	opI32Popcnt = 0x69
	opI32Add    = 0x6A
	opI32Sub    = 0x6B
	opI32Mul    = 0x6C
	opI32DivS   = 0x6D
	opI32DivU   = 0x6E
	opI32RemS   = 0x6F
	opI32RemU   = 0x70
	opI32And    = 0x71
	opI32Or     = 0x72
	opI32Xor    = 0x73
	opI32Shl    = 0x74
	opI32ShrS   = 0x75
	opI32ShrU   = 0x76
	opI32Rotl   = 0x77
	opI32Rotr   = 0x78

	opI64Clz    = 0x79
	opI64Ctz    = 0x7A
	opI64Popcnt = 0x7B
	opI64Add    = 0x7C
	opI64Sub    = 0x7D
	opI64Mul    = 0x7E
	opI64DivS   = 0x7F
	opI64DivU   = 0x80
	opI64RemS   = 0x81
	opI64RemU   = 0x82
	opI64And    = 0x83
	opI64Or     = 0x84
	opI64Xor    = 0x85
	opI64Shl    = 0x86
	opI64ShrS   = 0x87
	opI64ShrU   = 0x88
	opI64Rotl   = 0x89
	opI64Rotr   = 0x8A

	opI32WrapI64    = 0xA7
	opI64ExtendI32S = 0xAC
	opI64ExtendI32U = 0xAD

	opMiscPrefix  = 0xFC
	opMemoryCopy  = 0x0A
	opMemoryFill  = 0x0B
)

const blockTypeEmpty = 0x40

// InstrBuilder appends instructions to one function's body, tracking
// structured control-flow nesting so Br/BrIf can be expressed in terms of
// Label handles instead of raw relative depths.
type InstrBuilder struct {
	fb    *FuncBuilder
	buf   bytes.Buffer
	depth int
}

func (b *InstrBuilder) u32(v uint32) { b.buf.Write(leb128.EncodeUint32(v)) }
func (b *InstrBuilder) i32(v int32)  { b.buf.Write(leb128.EncodeInt32(v)) }
func (b *InstrBuilder) i64(v int64)  { b.buf.Write(leb128.EncodeInt64(v)) }

func (b *InstrBuilder) memarg(offset uint32) {
	b.buf.WriteByte(0) // align hint, unused by interpretation
	b.u32(offset)
}

// Unreachable emits the trap instruction used for every emit-time-checked
// runtime failure (overflow, out-of-bounds, object-not-found, frozen
// mutation, len>cap); a zero divisor traps via DivU32TrapByZero instead.
func (b *InstrBuilder) Unreachable() *InstrBuilder {
	b.buf.WriteByte(opUnreachable)
	return b
}

// Drop discards the top-of-stack value.
func (b *InstrBuilder) Drop() *InstrBuilder {
	b.buf.WriteByte(opDrop)
	return b
}

// BeginBlock opens a `block` with an empty result type and returns its Label.
func (b *InstrBuilder) BeginBlock() *Label {
	b.buf.WriteByte(opBlock)
	b.buf.WriteByte(blockTypeEmpty)
	b.depth++
	return &Label{depth: b.depth}
}

// BeginLoop opens a `loop` with an empty result type and returns its Label.
// Branching to a loop's label jumps to the top of the loop, matching wasm
// semantics (unlike block, where branching jumps to the end).
func (b *InstrBuilder) BeginLoop() *Label {
	b.buf.WriteByte(opLoop)
	b.buf.WriteByte(blockTypeEmpty)
	b.depth++
	return &Label{depth: b.depth}
}

// BeginIf pops an i32 condition and opens an `if` with an empty result
// type, returning its Label (branching out of either arm targets the end,
// same as a block).
func (b *InstrBuilder) BeginIf() *Label {
	b.buf.WriteByte(opIf)
	b.buf.WriteByte(blockTypeEmpty)
	b.depth++
	return &Label{depth: b.depth}
}

// Else starts the else-arm of the innermost open `if`.
func (b *InstrBuilder) Else() *InstrBuilder {
	b.buf.WriteByte(opElse)
	return b
}

// End closes the innermost open block/loop/if.
func (b *InstrBuilder) End() *InstrBuilder {
	b.buf.WriteByte(opEnd)
	b.depth--
	return b
}

// Br emits an unconditional branch to label.
func (b *InstrBuilder) Br(label *Label) *InstrBuilder {
	b.buf.WriteByte(opBr)
	b.u32(uint32(b.depth - label.depth))
	return b
}

// BrIf pops an i32 condition and, if nonzero, branches to label.
func (b *InstrBuilder) BrIf(label *Label) *InstrBuilder {
	b.buf.WriteByte(opBrIf)
	b.u32(uint32(b.depth - label.depth))
	return b
}

// Call emits a call to the given function.
func (b *InstrBuilder) Call(id FuncID) *InstrBuilder {
	b.buf.WriteByte(opCall)
	b.u32(uint32(id))
	return b
}

// CallByName looks up fn by name (memoized emitter convention) and calls
// it; it panics if fn is undefined, since that indicates the caller forgot
// to emit the callee first.
func (b *InstrBuilder) CallByName(m *Module, fn string) *InstrBuilder {
	id, ok := m.LookupFunction(fn)
	if !ok {
		panic("BUG: call to undefined runtime function " + fn)
	}
	return b.Call(id)
}

func (b *InstrBuilder) LocalGet(id LocalID) *InstrBuilder {
	b.buf.WriteByte(opLocalGet)
	b.u32(uint32(id))
	return b
}

func (b *InstrBuilder) LocalSet(id LocalID) *InstrBuilder {
	b.buf.WriteByte(opLocalSet)
	b.u32(uint32(id))
	return b
}

func (b *InstrBuilder) LocalTee(id LocalID) *InstrBuilder {
	b.buf.WriteByte(opLocalTee)
	b.u32(uint32(id))
	return b
}

func (b *InstrBuilder) GlobalGet(id GlobalID) *InstrBuilder {
	b.buf.WriteByte(opGlobalGet)
	b.u32(uint32(id))
	return b
}

func (b *InstrBuilder) GlobalSet(id GlobalID) *InstrBuilder {
	b.buf.WriteByte(opGlobalSet)
	b.u32(uint32(id))
	return b
}

func (b *InstrBuilder) I32Const(v int32) *InstrBuilder {
	b.buf.WriteByte(opI32Const)
	b.i32(v)
	return b
}

func (b *InstrBuilder) I64Const(v int64) *InstrBuilder {
	b.buf.WriteByte(opI64Const)
	b.i64(v)
	return b
}

// I32Load loads a 4-byte little-endian value from address (top-of-stack) + offset.
func (b *InstrBuilder) I32Load(offset uint32) *InstrBuilder {
	b.buf.WriteByte(opI32Load)
	b.memarg(offset)
	return b
}

func (b *InstrBuilder) I64Load(offset uint32) *InstrBuilder {
	b.buf.WriteByte(opI64Load)
	b.memarg(offset)
	return b
}

func (b *InstrBuilder) I32Load8U(offset uint32) *InstrBuilder {
	b.buf.WriteByte(opI32Load8U)
	b.memarg(offset)
	return b
}

func (b *InstrBuilder) I32Load16U(offset uint32) *InstrBuilder {
	b.buf.WriteByte(opI32Load16U)
	b.memarg(offset)
	return b
}

func (b *InstrBuilder) I64Load8U(offset uint32) *InstrBuilder {
	b.buf.WriteByte(opI64Load8U)
	b.memarg(offset)
	return b
}

func (b *InstrBuilder) I64Load16U(offset uint32) *InstrBuilder {
	b.buf.WriteByte(opI64Load16U)
	b.memarg(offset)
	return b
}

func (b *InstrBuilder) I64Load32U(offset uint32) *InstrBuilder {
	b.buf.WriteByte(opI64Load32U)
	b.memarg(offset)
	return b
}

func (b *InstrBuilder) I32Store(offset uint32) *InstrBuilder {
	b.buf.WriteByte(opI32Store)
	b.memarg(offset)
	return b
}

func (b *InstrBuilder) I64Store(offset uint32) *InstrBuilder {
	b.buf.WriteByte(opI64Store)
	b.memarg(offset)
	return b
}

func (b *InstrBuilder) I32Store8(offset uint32) *InstrBuilder {
	b.buf.WriteByte(opI32Store8)
	b.memarg(offset)
	return b
}

func (b *InstrBuilder) I32Store16(offset uint32) *InstrBuilder {
	b.buf.WriteByte(opI32Store16)
	b.memarg(offset)
	return b
}

func (b *InstrBuilder) I64Store8(offset uint32) *InstrBuilder {
	b.buf.WriteByte(opI64Store8)
	b.memarg(offset)
	return b
}

func (b *InstrBuilder) I64Store16(offset uint32) *InstrBuilder {
	b.buf.WriteByte(opI64Store16)
	b.memarg(offset)
	return b
}

func (b *InstrBuilder) I64Store32(offset uint32) *InstrBuilder {
	b.buf.WriteByte(opI64Store32)
	b.memarg(offset)
	return b
}

// MemoryCopy copies (dst, src, len: i32 each, pushed in that order by the
// caller) within the module's single memory.
func (b *InstrBuilder) MemoryCopy() *InstrBuilder {
	b.buf.WriteByte(opMiscPrefix)
	b.u32(opMemoryCopy)
	b.buf.WriteByte(0) // dst memidx
	b.buf.WriteByte(0) // src memidx
	return b
}

// MemoryFill fills (dst, val, len: i32 each) within the module's single memory.
func (b *InstrBuilder) MemoryFill() *InstrBuilder {
	b.buf.WriteByte(opMiscPrefix)
	b.u32(opMemoryFill)
	b.buf.WriteByte(0) // memidx
	return b
}

func simple(op byte) func(*InstrBuilder) *InstrBuilder {
	return func(b *InstrBuilder) *InstrBuilder {
		b.buf.WriteByte(op)
		return b
	}
}

var (
	i32EqzFn = simple(opI32Eqz)
	i64EqzFn = simple(opI64Eqz)
)

func (b *InstrBuilder) I32Eqz() *InstrBuilder { return i32EqzFn(b) }
func (b *InstrBuilder) I32Eq() *InstrBuilder  { return simple(opI32Eq)(b) }
func (b *InstrBuilder) I32Ne() *InstrBuilder  { return simple(opI32Ne)(b) }
func (b *InstrBuilder) I32LtU() *InstrBuilder { return simple(opI32LtU)(b) }
func (b *InstrBuilder) I32LtS() *InstrBuilder { return simple(opI32LtS)(b) }
func (b *InstrBuilder) I32GtU() *InstrBuilder { return simple(opI32GtU)(b) }
func (b *InstrBuilder) I32LeU() *InstrBuilder { return simple(opI32LeU)(b) }
func (b *InstrBuilder) I32GeU() *InstrBuilder { return simple(opI32GeU)(b) }

func (b *InstrBuilder) I64Eqz() *InstrBuilder { return i64EqzFn(b) }
func (b *InstrBuilder) I64Eq() *InstrBuilder  { return simple(opI64Eq)(b) }
func (b *InstrBuilder) I64Ne() *InstrBuilder  { return simple(opI64Ne)(b) }
func (b *InstrBuilder) I64LtU() *InstrBuilder { return simple(opI64LtU)(b) }
func (b *InstrBuilder) I64GtU() *InstrBuilder { return simple(opI64GtU)(b) }
func (b *InstrBuilder) I64LeU() *InstrBuilder { return simple(opI64LeU)(b) }
func (b *InstrBuilder) I64GeU() *InstrBuilder { return simple(opI64GeU)(b) }

func (b *InstrBuilder) I32Add() *InstrBuilder  { return simple(opI32Add)(b) }
func (b *InstrBuilder) I32Sub() *InstrBuilder  { return simple(opI32Sub)(b) }
func (b *InstrBuilder) I32Mul() *InstrBuilder  { return simple(opI32Mul)(b) }
func (b *InstrBuilder) I32DivU() *InstrBuilder { return simple(opI32DivU)(b) }
func (b *InstrBuilder) I32RemU() *InstrBuilder { return simple(opI32RemU)(b) }
func (b *InstrBuilder) I32And() *InstrBuilder  { return simple(opI32And)(b) }
func (b *InstrBuilder) I32Or() *InstrBuilder   { return simple(opI32Or)(b) }
func (b *InstrBuilder) I32Xor() *InstrBuilder  { return simple(opI32Xor)(b) }
func (b *InstrBuilder) I32Shl() *InstrBuilder  { return simple(opI32Shl)(b) }
func (b *InstrBuilder) I32ShrU() *InstrBuilder { return simple(opI32ShrU)(b) }

func (b *InstrBuilder) I64Add() *InstrBuilder  { return simple(opI64Add)(b) }
func (b *InstrBuilder) I64Sub() *InstrBuilder  { return simple(opI64Sub)(b) }
func (b *InstrBuilder) I64Mul() *InstrBuilder  { return simple(opI64Mul)(b) }
func (b *InstrBuilder) I64DivU() *InstrBuilder { return simple(opI64DivU)(b) }
func (b *InstrBuilder) I64RemU() *InstrBuilder { return simple(opI64RemU)(b) }
func (b *InstrBuilder) I64And() *InstrBuilder  { return simple(opI64And)(b) }
func (b *InstrBuilder) I64Or() *InstrBuilder   { return simple(opI64Or)(b) }
func (b *InstrBuilder) I64Xor() *InstrBuilder  { return simple(opI64Xor)(b) }
func (b *InstrBuilder) I64Shl() *InstrBuilder  { return simple(opI64Shl)(b) }
func (b *InstrBuilder) I64ShrU() *InstrBuilder { return simple(opI64ShrU)(b) }

func (b *InstrBuilder) I32WrapI64() *InstrBuilder     { return simple(opI32WrapI64)(b) }
func (b *InstrBuilder) I64ExtendI32U() *InstrBuilder  { return simple(opI64ExtendI32U)(b) }

// DivU32TrapByZero emits the canonical i32 1 / i32 0 idiom used to raise
// the host's own divide-by-zero trap with stable behavior, rather than
// an explicit unreachable.
func (b *InstrBuilder) DivU32TrapByZero() *InstrBuilder {
	b.I32Const(1).I32Const(0).I32DivU().Drop()
	return b
}
