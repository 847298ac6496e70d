// Package wasmmod is the wasm-module-under-construction collaborator.
// It is intentionally minimal: add
// function types, named function definitions, basic-block control flow,
// locals, memory/global access, and a lookup-function-by-name table for
// memoization. Module.Encode produces a real WebAssembly binary, so the
// modules this package builds can be loaded by any standard-conformant
// wasm runtime - in this repo's tests, by github.com/tetratelabs/wazero
// itself.
//
// The shape mirrors wazero's internal/engine/wazevo split between an
// SSA builder (here, InstrBuilder) and a per-function compilation unit
// (here, FuncBuilder), and reuses its memoize-by-name convention from
// ssa.Builder.DeclareSignature/ResolveSignature.
package wasmmod

import (
	"bytes"
	"fmt"
)

// ValType is a wasm value type.
type ValType byte

const (
	ValTypeI32 ValType = 0x7F
	ValTypeI64 ValType = 0x7E
	ValTypeF32 ValType = 0x7D
	ValTypeF64 ValType = 0x7C
)

// FuncType is a wasm function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (f FuncType) key() string {
	var b bytes.Buffer
	for _, p := range f.Params {
		b.WriteByte(byte(p))
	}
	b.WriteByte('-')
	for _, r := range f.Results {
		b.WriteByte(byte(r))
	}
	return b.String()
}

// FuncID is an opaque function index, valid across the whole module
// (imports come first, then module-defined functions, per the wasm binary
// format's shared function index space).
type FuncID int

// GlobalID is an opaque global index.
type GlobalID int

// LocalID is a local-variable index, scoped to one FuncBuilder: 0..len(Params)-1
// are the function's parameters, after which come declared locals in
// declaration order.
type LocalID int

type importFunc struct {
	module, name string
	typ          FuncType
}

type exportEntry struct {
	name string
	kind byte // 0x00 func, 0x02 mem
	id   int
}

type globalEntry struct {
	typ     ValType
	mutable bool
	initI64 int64
	initI32 int32
}

// Module is the wasm-module-under-construction. The zero value is not
// usable; construct one with NewModule.
type Module struct {
	types    []FuncType
	typeIdx  map[string]int
	imports  []importFunc
	funcs    []*FuncBuilder
	exports  []exportEntry
	globals  []globalEntry
	byName   map[string]FuncID

	hasMemory             bool
	memoryMinPages        uint32
	memoryMaxPages        uint32
	memoryHasMax          bool
}

// NewModule returns an empty module under construction.
func NewModule() *Module {
	return &Module{
		typeIdx: make(map[string]int),
		byName:  make(map[string]FuncID),
	}
}

// SetMemory declares (or redeclares) the module's single linear memory, in
// 64KiB pages.
func (m *Module) SetMemory(minPages uint32, maxPages uint32, hasMax bool) {
	m.hasMemory = true
	m.memoryMinPages = minPages
	m.memoryMaxPages = maxPages
	m.memoryHasMax = hasMax
}

// ExportMemory exports the module's memory under the given name.
func (m *Module) ExportMemory(name string) {
	m.exports = append(m.exports, exportEntry{name: name, kind: 0x02, id: 0})
}

func (m *Module) internType(t FuncType) int {
	k := t.key()
	if idx, ok := m.typeIdx[k]; ok {
		return idx
	}
	idx := len(m.types)
	m.types = append(m.types, t)
	m.typeIdx[k] = idx
	return idx
}

// AddImport declares a host-imported function and returns its FuncID. This
// is how the four host primitives (native_keccak256, storage_load_bytes32,
// storage_cache_bytes32, tx_origin) enter the module.
func (m *Module) AddImport(module, name string, sig FuncType) FuncID {
	m.internType(sig)
	id := FuncID(len(m.imports))
	m.imports = append(m.imports, importFunc{module: module, name: name, typ: sig})
	return id
}

// AddGlobal declares a module-level global of integer type.
func (m *Module) AddGlobal(typ ValType, mutable bool, init int64) GlobalID {
	m.globals = append(m.globals, globalEntry{typ: typ, mutable: mutable, initI64: init})
	return GlobalID(len(m.globals) - 1)
}

// NewFunction allocates a new, empty function definition named `name` and
// returns a builder for its body. The FuncID is stable and may be called
// via Call before the body is finished.
//
// NewFunction does not itself memoize: callers that want "defined at most
// once per module" semantics call LookupFunction first, and only call
// NewFunction on a miss. This mirrors ssa.Builder.DeclareSignature, which
// likewise leaves caching up to the frontend.
func (m *Module) NewFunction(name string, sig FuncType) *FuncBuilder {
	if _, exists := m.byName[name]; exists {
		panic(fmt.Sprintf("BUG: function %q already defined in this module", name))
	}
	m.internType(sig)
	id := FuncID(len(m.imports) + len(m.funcs))
	fb := &FuncBuilder{
		module: m,
		id:     id,
		name:   name,
		sig:    sig,
		instr:  &InstrBuilder{},
	}
	fb.instr.fb = fb
	m.funcs = append(m.funcs, fb)
	m.byName[name] = id
	return fb
}

// LookupFunction returns the FuncID of a previously defined or imported
// function by name, for memoization. Imports are looked up by their import
// name; defined functions by the name passed to NewFunction.
func (m *Module) LookupFunction(name string) (FuncID, bool) {
	if id, ok := m.byName[name]; ok {
		return id, true
	}
	for i, imp := range m.imports {
		if imp.name == name {
			return FuncID(i), true
		}
	}
	return 0, false
}

// Export exports a defined or imported function under the given name.
func (m *Module) Export(name string, id FuncID) {
	m.exports = append(m.exports, exportEntry{name: name, kind: 0x00, id: int(id)})
}

// Signature returns the declared signature of a function by id.
func (m *Module) Signature(id FuncID) FuncType {
	if int(id) < len(m.imports) {
		return m.imports[id].typ
	}
	return m.funcs[int(id)-len(m.imports)].sig
}
