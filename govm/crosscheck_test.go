//go:build amd64 && cgo

package govm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sourcevm/wasmgen/govm"
	"github.com/sourcevm/wasmgen/runtime/internal/runtimetest"
	"github.com/sourcevm/wasmgen/runtime/wideint"
)

// TestCrossHarnessAgreesWithHarness compiles one module containing the
// wideint add kernel and runs it through both Harness (wazero) and
// CrossHarness (wasmtime), asserting the two runtimes compute the same
// result for the same module -- catching any bug that happens to depend
// on wazero-specific interpreter behavior rather than the wasm spec.
func TestCrossHarnessAgreesWithHarness(t *testing.T) {
	const addrA, addrB, addrOut = 300, 400, 500

	c := runtimetest.NewContext(1)
	c.Module.Export("add", wideint.Add(c))

	a := make([]byte, 32)
	a[0] = 100
	b := make([]byte, 32)
	b[0] = 50

	wz, err := govm.New(c.Module, [20]byte{})
	require.NoError(t, err)
	defer wz.Close()
	wz.WriteMemory(addrA, a)
	wz.WriteMemory(addrB, b)
	_, err = wz.Call("add", addrOut, addrA, addrB, 32)
	require.NoError(t, err)
	wzResult := wz.ReadMemory(addrOut, 32)

	wt, err := govm.NewCrossHarness(c.Module, [20]byte{})
	require.NoError(t, err)
	defer wt.Close()
	wt.WriteMemory(addrA, a)
	wt.WriteMemory(addrB, b)
	_, err = wt.Call("add", addrOut, addrA, addrB, 32)
	require.NoError(t, err)
	wtResult := wt.ReadMemory(addrOut, 32)

	require.Equal(t, wzResult, wtResult)
}
