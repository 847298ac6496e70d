// Package hostio declares the four host-imported functions consumed by
// the core. Declaring an import is idempotent:
// calling the same Ensure* function twice against the same module returns
// the same FuncID, since wasmmod.Module.LookupFunction finds imports by
// name.
package hostio

import "github.com/sourcevm/wasmgen/wasmmod"

const (
	ModuleName = "env"

	NativeKeccak256     = "native_keccak256"
	StorageLoadBytes32  = "storage_load_bytes32"
	StorageCacheBytes32 = "storage_cache_bytes32"
	TxOrigin            = "tx_origin"
)

func i32s(n int) []wasmmod.ValType {
	out := make([]wasmmod.ValType, n)
	for i := range out {
		out[i] = wasmmod.ValTypeI32
	}
	return out
}

func ensure(m *wasmmod.Module, name string, sig wasmmod.FuncType) wasmmod.FuncID {
	if id, ok := m.LookupFunction(name); ok {
		return id
	}
	return m.AddImport(ModuleName, name, sig)
}

// NativeKeccak256Fn declares/returns (data_ptr, len, out_ptr) -> ().
func NativeKeccak256Fn(m *wasmmod.Module) wasmmod.FuncID {
	return ensure(m, NativeKeccak256, wasmmod.FuncType{Params: i32s(3)})
}

// StorageLoadBytes32Fn declares/returns (key_ptr, out_ptr) -> ().
func StorageLoadBytes32Fn(m *wasmmod.Module) wasmmod.FuncID {
	return ensure(m, StorageLoadBytes32, wasmmod.FuncType{Params: i32s(2)})
}

// StorageCacheBytes32Fn declares/returns (key_ptr, val_ptr) -> ().
func StorageCacheBytes32Fn(m *wasmmod.Module) wasmmod.FuncID {
	return ensure(m, StorageCacheBytes32, wasmmod.FuncType{Params: i32s(2)})
}

// TxOriginFn declares/returns (out_ptr) -> ().
func TxOriginFn(m *wasmmod.Module) wasmmod.FuncID {
	return ensure(m, TxOrigin, wasmmod.FuncType{Params: i32s(1)})
}
