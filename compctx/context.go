// Package compctx holds the per-compilation-unit state threaded through
// every emitter: the target module, fixed linear-memory layout constants,
// the struct table, and the name-based memoization table for generated
// runtime functions.
//
// This mirrors wazero's frontend.Compiler, which likewise carries a
// single struct (ssa.Builder, current module, per-function bookkeeping)
// through every lowering call instead of passing a dozen loose arguments.
package compctx

import (
	"fmt"

	"github.com/sourcevm/wasmgen/ir"
	"github.com/sourcevm/wasmgen/wasmmod"
)

// Fixed scratch offsets in linear memory, below the bump allocator's
// watermark. Storage slot derivation and object lookup need stable
// addresses to stage 32/64-byte buffers without going through the
// allocator on every call; this is grounded on the DATA_* offset constants
// referenced throughout the original storage runtime.
const (
	DataSlotDataPtrOffset            = 0
	DataObjectsMappingSlotNumOffset  = 32
	DataStorageObjectOwnerOffset     = 64
	DataSharedObjectsKeyOffset       = 96
	DataFrozenObjectsKeyOffset       = 128
	DataU256OneOffset                = 160
	DataObjectsSlotOffset            = 192
	// ScratchReservedBytes is how much of linear memory is carved out for
	// the fixed offsets above before the bump allocator's arena begins.
	ScratchReservedBytes = 256
)

// StructField describes one field of a struct in the struct table.
type StructField struct {
	Name string
	Type ir.Type
}

// StructDef describes a nominal struct's field layout and abilities.
type StructDef struct {
	Name     string
	Fields   []StructField
	HasKey   bool // has the "key" ability: objects of this type are storable
	NumTypeParams int
}

// StructID indexes into the struct table; re-exported for convenience so
// callers need not import ir just to build one.
type StructID = ir.StructID

// Context is the compilation context threaded through every emitter: the
// module under construction, its single linear memory, the allocator
// function, the struct table, and the memoization table for emitted
// runtime functions.
//
// A Context is reusable across compiler runs via Reset, but a single
// instance is never shared across goroutines, matching wazero's
// single-threaded-by-convention stance on ssa.Builder.
type Context struct {
	Module   *wasmmod.Module
	Allocator wasmmod.FuncID

	structs []StructDef

	// memo maps a deterministic emitter name to its already-emitted FuncID,
	// so repeated calls to the same emitter for the same concrete type
	// return the existing function instead of redefining it.
	memo map[string]wasmmod.FuncID
}

// New returns a Context wired to module, whose allocator function has
// already been declared (signature: (size i32) -> (ptr i32)).
func New(module *wasmmod.Module, allocator wasmmod.FuncID) *Context {
	return &Context{
		Module:    module,
		Allocator: allocator,
		memo:      make(map[string]wasmmod.FuncID),
	}
}

// Reset clears per-run state (struct table, memoization table) so the
// Context can be reused for a new compilation against a fresh Module,
// mirroring ssa.Builder.Init's reuse pattern.
func (c *Context) Reset(module *wasmmod.Module, allocator wasmmod.FuncID) {
	c.Module = module
	c.Allocator = allocator
	c.structs = c.structs[:0]
	c.memo = make(map[string]wasmmod.FuncID)
}

// DeclareStruct registers a struct definition and returns its StructID.
func (c *Context) DeclareStruct(def StructDef) StructID {
	id := StructID(len(c.structs))
	c.structs = append(c.structs, def)
	return id
}

// Struct returns the definition of a previously declared struct.
func (c *Context) Struct(id StructID) StructDef {
	if int(id) < 0 || int(id) >= len(c.structs) {
		panic(fmt.Sprintf("BUG: unknown struct id %d", id))
	}
	return c.structs[id]
}

// Memoized looks up a previously emitted function by deterministic name.
func (c *Context) Memoized(name string) (wasmmod.FuncID, bool) {
	if id, ok := c.memo[name]; ok {
		return id, true
	}
	if id, ok := c.Module.LookupFunction(name); ok {
		c.memo[name] = id
		return id, true
	}
	return 0, false
}

// Remember records that name now resolves to id, so future Memoized calls
// for the same name short-circuit without re-emitting.
func (c *Context) Remember(name string, id wasmmod.FuncID) {
	c.memo[name] = id
}

// GetOrEmit returns the memoized function named name, calling build to
// define it on a cache miss. build must call c.Module.NewFunction(name, ...)
// exactly once. This is the single chokepoint every C1-C7 emitter goes
// through, matching original_source's RuntimeFunction::get dispatch-by-name
// pattern.
func (c *Context) GetOrEmit(name string, build func(c *Context) wasmmod.FuncID) wasmmod.FuncID {
	if id, ok := c.Memoized(name); ok {
		return id
	}
	id := build(c)
	c.Remember(name, id)
	return id
}
