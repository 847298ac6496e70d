// Package govm is the end-to-end test harness: it loads a module built
// by wasmmod/compctx/the runtime kernels into a real
// github.com/tetratelabs/wazero runtime, backs the
// four env imports from hostio with working implementations (real
// Keccak256 via golang.org/x/crypto/sha3, an in-process storage map, a
// fixed tx origin), and exposes just enough of wazero's api.Module to
// drive a test scenario: call an exported function, peek/poke linear
// memory.
//
// This is the only package in the repo that touches a real wasm
// runtime; every C1-C7 emitter package only ever builds a
// *wasmmod.Module and is otherwise runtime-agnostic.
package govm

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"golang.org/x/crypto/sha3"

	"github.com/sourcevm/wasmgen/hostio"
	"github.com/sourcevm/wasmgen/wasmmod"
)

// Harness runs one compiled module against a fresh, in-memory EVM-like
// host: a single signer address and a storage map keyed by 32-byte
// slots, both scoped to this Harness instance.
type Harness struct {
	ctx     context.Context
	rt      wazero.Runtime
	mod     api.Module
	mem     api.Memory
	storage map[[32]byte][32]byte
	origin  [20]byte
}

// New encodes module, instantiates it against live env imports, and
// returns a ready Harness. The module must export its memory (under
// any name; Harness locates it via api.Module.Memory) and whichever
// functions the caller intends to invoke via Call. origin is the
// 20-byte address tx_origin reports to the compiled module.
func New(module *wasmmod.Module, origin [20]byte) (*Harness, error) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)

	h := &Harness{ctx: ctx, rt: rt, storage: make(map[[32]byte][32]byte), origin: origin}

	envBuilder := rt.NewHostModuleBuilder(hostio.ModuleName)
	envBuilder.NewFunctionBuilder().WithFunc(h.nativeKeccak256).Export(hostio.NativeKeccak256)
	envBuilder.NewFunctionBuilder().WithFunc(h.storageLoadBytes32).Export(hostio.StorageLoadBytes32)
	envBuilder.NewFunctionBuilder().WithFunc(h.storageCacheBytes32).Export(hostio.StorageCacheBytes32)
	envBuilder.NewFunctionBuilder().WithFunc(h.txOrigin).Export(hostio.TxOrigin)
	if _, err := envBuilder.Instantiate(ctx); err != nil {
		return nil, fmt.Errorf("govm: instantiate env host module: %w", err)
	}

	bin := module.Encode()
	mod, err := rt.Instantiate(ctx, bin)
	if err != nil {
		return nil, fmt.Errorf("govm: instantiate compiled module: %w", err)
	}
	h.mod = mod
	h.mem = mod.Memory()
	if h.mem == nil {
		return nil, fmt.Errorf("govm: compiled module does not export memory")
	}
	return h, nil
}

// Close releases the underlying wazero runtime.
func (h *Harness) Close() error {
	return h.rt.Close(h.ctx)
}

// Call invokes the exported function named name with the given i32/i64
// args (as raw uint64 lanes, little-endian-decoded by the callee's
// declared param types) and returns its raw result lanes.
func (h *Harness) Call(name string, args ...uint64) ([]uint64, error) {
	fn := h.mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("govm: no exported function %q", name)
	}
	return fn.Call(h.ctx, args...)
}

// ReadMemory returns a copy of n bytes at offset.
func (h *Harness) ReadMemory(offset uint32, n uint32) []byte {
	buf, ok := h.mem.Read(offset, n)
	if !ok {
		panic(fmt.Sprintf("govm: read out of range: offset=%d len=%d", offset, n))
	}
	out := make([]byte, n)
	copy(out, buf)
	return out
}

// WriteMemory writes data at offset.
func (h *Harness) WriteMemory(offset uint32, data []byte) {
	if !h.mem.Write(offset, data) {
		panic(fmt.Sprintf("govm: write out of range: offset=%d len=%d", offset, len(data)))
	}
}

// SetStorage seeds the in-process storage map, for tests that need to
// pre-populate a slot before calling into the module.
func (h *Harness) SetStorage(slot, value [32]byte) {
	h.storage[slot] = value
}

// Storage returns the current value at slot, the zero value if unset.
func (h *Harness) Storage(slot [32]byte) [32]byte {
	return h.storage[slot]
}

func (h *Harness) nativeKeccak256(ctx context.Context, m api.Module, dataPtr, length, outPtr uint32) {
	data := must(m.Memory().Read(dataPtr, length))
	sum := sha3.NewLegacyKeccak256()
	sum.Write(data)
	digest := sum.Sum(nil)
	if !m.Memory().Write(outPtr, digest) {
		panic("govm: native_keccak256: out_ptr out of range")
	}
}

func (h *Harness) storageLoadBytes32(ctx context.Context, m api.Module, keyPtr, outPtr uint32) {
	var key [32]byte
	copy(key[:], must(m.Memory().Read(keyPtr, 32)))
	val := h.storage[key]
	if !m.Memory().Write(outPtr, val[:]) {
		panic("govm: storage_load_bytes32: out_ptr out of range")
	}
}

func (h *Harness) storageCacheBytes32(ctx context.Context, m api.Module, keyPtr, valPtr uint32) {
	var key, val [32]byte
	copy(key[:], must(m.Memory().Read(keyPtr, 32)))
	copy(val[:], must(m.Memory().Read(valPtr, 32)))
	h.storage[key] = val
}

func (h *Harness) txOrigin(ctx context.Context, m api.Module, outPtr uint32) {
	if !m.Memory().Write(outPtr, h.origin[:]) {
		panic("govm: tx_origin: out_ptr out of range")
	}
}

// Origin returns the raw 20-byte address this Harness reports via
// tx_origin, without the 12 bytes of zero padding CreateOwned adds in
// front of it to fill a 32-byte owner header.
func (h *Harness) Origin() [20]byte {
	return h.origin
}

func must(b []byte, ok bool) []byte {
	if !ok {
		panic("govm: memory access out of range")
	}
	return b
}

// PutU256BE writes a big-endian 32-byte encoding of v at offset.
func PutU256BE(h *Harness, offset uint32, v [32]byte) {
	h.WriteMemory(offset, v[:])
}

// Uint64ToBEBytes renders v as the low 8 bytes of a big-endian buffer of
// the given width, useful for building small test fixtures without
// pulling in math/big.
func Uint64ToBEBytes(v uint64, width int) []byte {
	out := make([]byte, width)
	binary.BigEndian.PutUint64(out[width-8:], v)
	return out
}
