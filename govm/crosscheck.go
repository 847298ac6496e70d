//go:build amd64 && cgo

// Package govm: CrossHarness is a second execution backend for the exact
// same compiled module, built on github.com/bytecodealliance/wasmtime-go
// instead of github.com/tetratelabs/wazero. It is wired to the same four
// env imports as Harness so a test can run one compiled module through
// both and assert the results agree, the same wazero-vs-wasmtime
// comparison the teacher itself runs in its own vs/ package, just with
// the runtime under test swapped from "the wasm source" to "the wasm
// consumer."
package govm

import (
	"fmt"

	"github.com/bytecodealliance/wasmtime-go"
	"golang.org/x/crypto/sha3"

	"github.com/sourcevm/wasmgen/hostio"
	"github.com/sourcevm/wasmgen/wasmmod"
)

// CrossHarness mirrors Harness field for field, swapping the wazero
// runtime/module/memory handles for their wasmtime equivalents.
type CrossHarness struct {
	store    *wasmtime.Store
	instance *wasmtime.Instance
	mem      *wasmtime.Memory
	storage  map[[32]byte][32]byte
	origin   [20]byte
}

// NewCrossHarness encodes module and instantiates it under wasmtime,
// wiring the same env imports Harness wires under wazero. Wasmtime
// exposes no Caller-scoped memory lookup usable before the module is
// instantiated, so each host callback closes over h and reads h.mem at
// call time, set once instantiation completes below -- the same
// work-around the teacher's own vs/wasmtime wrapper uses.
func NewCrossHarness(module *wasmmod.Module, origin [20]byte) (*CrossHarness, error) {
	engine := wasmtime.NewEngine()
	store := wasmtime.NewStore(engine)
	h := &CrossHarness{store: store, storage: make(map[[32]byte][32]byte), origin: origin}

	m, err := wasmtime.NewModule(engine, module.Encode())
	if err != nil {
		return nil, fmt.Errorf("govm: wasmtime compile: %w", err)
	}

	linker := wasmtime.NewLinker(engine)
	i32 := wasmtime.NewValType(wasmtime.KindI32)
	define := func(name string, arity int, fn func(*wasmtime.Caller, []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap)) error {
		params := make([]*wasmtime.ValType, arity)
		for i := range params {
			params[i] = i32
		}
		ft := wasmtime.NewFuncType(params, []*wasmtime.ValType{})
		return linker.Define(hostio.ModuleName, name, wasmtime.NewFunc(store, ft, fn))
	}
	if err := define(hostio.NativeKeccak256, 3, h.nativeKeccak256); err != nil {
		return nil, fmt.Errorf("govm: define %s: %w", hostio.NativeKeccak256, err)
	}
	if err := define(hostio.StorageLoadBytes32, 2, h.storageLoadBytes32); err != nil {
		return nil, fmt.Errorf("govm: define %s: %w", hostio.StorageLoadBytes32, err)
	}
	if err := define(hostio.StorageCacheBytes32, 2, h.storageCacheBytes32); err != nil {
		return nil, fmt.Errorf("govm: define %s: %w", hostio.StorageCacheBytes32, err)
	}
	if err := define(hostio.TxOrigin, 1, h.txOrigin); err != nil {
		return nil, fmt.Errorf("govm: define %s: %w", hostio.TxOrigin, err)
	}

	instance, err := linker.Instantiate(store, m)
	if err != nil {
		return nil, fmt.Errorf("govm: wasmtime instantiate: %w", err)
	}
	h.instance = instance

	memExport := instance.GetExport(store, "memory")
	if memExport == nil || memExport.Memory() == nil {
		return nil, fmt.Errorf("govm: compiled module does not export memory")
	}
	h.mem = memExport.Memory()
	return h, nil
}

// Close releases the wasmtime store. wasmtime-go has no explicit
// instance-close API; resources are reclaimed by the Go garbage
// collector's finalizers on the store, same as the teacher's own
// vs/wasmtime wrapper notes.
func (h *CrossHarness) Close() error {
	h.store = nil
	h.instance = nil
	return nil
}

// Call invokes the exported function named name, converting each raw
// uint64 lane to the i32/i64 wasmtime expects per the callee's declared
// parameter kind, and returns the single result lane (if any) widened
// back to uint64.
func (h *CrossHarness) Call(name string, args ...uint64) ([]uint64, error) {
	fn := h.instance.GetFunc(h.store, name)
	if fn == nil {
		return nil, fmt.Errorf("govm: no exported function %q", name)
	}
	params := fn.Type(h.store).Params()
	iargs := make([]interface{}, len(args))
	for i, a := range args {
		if i < len(params) && params[i].Kind() == wasmtime.KindI64 {
			iargs[i] = int64(a)
		} else {
			iargs[i] = int32(a)
		}
	}
	result, err := fn.Call(h.store, iargs...)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	switch v := result.(type) {
	case int32:
		return []uint64{uint64(uint32(v))}, nil
	case int64:
		return []uint64{uint64(v)}, nil
	default:
		return nil, fmt.Errorf("govm: unsupported wasmtime result type %T", result)
	}
}

// ReadMemory returns a copy of n bytes at offset.
func (h *CrossHarness) ReadMemory(offset, n uint32) []byte {
	data := h.mem.UnsafeData(h.store)
	out := make([]byte, n)
	copy(out, data[offset:offset+n])
	return out
}

// WriteMemory writes data at offset.
func (h *CrossHarness) WriteMemory(offset uint32, data []byte) {
	mem := h.mem.UnsafeData(h.store)
	copy(mem[offset:], data)
}

// SetStorage seeds the in-process storage map.
func (h *CrossHarness) SetStorage(slot, value [32]byte) {
	h.storage[slot] = value
}

// Storage returns the current value at slot, the zero value if unset.
func (h *CrossHarness) Storage(slot [32]byte) [32]byte {
	return h.storage[slot]
}

func (h *CrossHarness) nativeKeccak256(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	mem := h.mem.UnsafeData(h.store)
	dataPtr, length, outPtr := int(args[0].I32()), int(args[1].I32()), int(args[2].I32())
	sum := sha3.NewLegacyKeccak256()
	sum.Write(mem[dataPtr : dataPtr+length])
	copy(mem[outPtr:], sum.Sum(nil))
	return nil, nil
}

func (h *CrossHarness) storageLoadBytes32(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	mem := h.mem.UnsafeData(h.store)
	keyPtr, outPtr := int(args[0].I32()), int(args[1].I32())
	var key [32]byte
	copy(key[:], mem[keyPtr:keyPtr+32])
	val := h.storage[key]
	copy(mem[outPtr:], val[:])
	return nil, nil
}

func (h *CrossHarness) storageCacheBytes32(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	mem := h.mem.UnsafeData(h.store)
	keyPtr, valPtr := int(args[0].I32()), int(args[1].I32())
	var key, val [32]byte
	copy(key[:], mem[keyPtr:keyPtr+32])
	copy(val[:], mem[valPtr:valPtr+32])
	h.storage[key] = val
	return nil, nil
}

func (h *CrossHarness) txOrigin(_ *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	mem := h.mem.UnsafeData(h.store)
	outPtr := int(args[0].I32())
	copy(mem[outPtr:], h.origin[:])
	return nil, nil
}
