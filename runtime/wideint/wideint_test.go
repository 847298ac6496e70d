package wideint_test

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/sourcevm/wasmgen/govm"
	"github.com/sourcevm/wasmgen/runtime/internal/runtimetest"
	"github.com/sourcevm/wasmgen/runtime/wideint"
)

const (
	addrA   = 300
	addrB   = 400
	addrOut = 500
)

// le renders v as a width-byte little-endian buffer, matching the layout
// every C1 kernel assumes for its heap-resident operands.
func le(v *big.Int, width int) []byte {
	be := make([]byte, width)
	v.FillBytes(be)
	out := make([]byte, width)
	for i := range be {
		out[i] = be[width-1-i]
	}
	return out
}

func fromLE(b []byte) *big.Int {
	be := make([]byte, len(b))
	for i := range b {
		be[i] = b[len(b)-1-i]
	}
	return new(big.Int).SetBytes(be)
}

func newHarness(t *testing.T) *govm.Harness {
	t.Helper()
	c := runtimetest.NewContext(1)

	c.Module.Export("add", wideint.Add(c))
	c.Module.Export("sub", wideint.Sub(c))
	c.Module.Export("mul", wideint.Mul(c))
	c.Module.Export("is_zero", wideint.IsZero(c))
	c.Module.Export("eq", wideint.Equal(c))
	c.Module.Export("divmod", wideint.DivMod(c))

	h, err := govm.New(c.Module, [20]byte{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestAddU256(t *testing.T) {
	h := newHarness(t)

	a := big.NewInt(350)
	b := big.NewInt(13)
	h.WriteMemory(addrA, le(a, 32))
	h.WriteMemory(addrB, le(b, 32))

	_, err := h.Call("add", addrOut, addrA, addrB, 32)
	require.NoError(t, err)

	got := fromLE(h.ReadMemory(addrOut, 32))
	require.Equal(t, big.NewInt(363), got)
}

func TestAddOverflowTraps(t *testing.T) {
	h := newHarness(t)

	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	h.WriteMemory(addrA, le(max, 32))
	h.WriteMemory(addrB, le(big.NewInt(1), 32))

	_, err := h.Call("add", addrOut, addrA, addrB, 32)
	require.Error(t, err)
}

func TestSubUnderflowTraps(t *testing.T) {
	h := newHarness(t)

	h.WriteMemory(addrA, le(big.NewInt(1), 32))
	h.WriteMemory(addrB, le(big.NewInt(2), 32))

	_, err := h.Call("sub", addrOut, addrA, addrB, 32)
	require.Error(t, err)
}

func TestMulU256(t *testing.T) {
	h := newHarness(t)

	a, _ := new(big.Int).SetString("79228162514264337593543950336", 10) // 2^96
	b := big.NewInt(4294967296) // 2^32
	h.WriteMemory(addrA, le(a, 32))
	h.WriteMemory(addrB, le(b, 32))

	_, err := h.Call("mul", addrOut, addrA, addrB, 32)
	require.NoError(t, err)

	want := new(big.Int).Mul(a, b)
	got := fromLE(h.ReadMemory(addrOut, 32))
	require.Equal(t, want, got)
}

// TestMulU256MatchesHoliman cross-checks the emitted heap_int_mul kernel (size 32)
// against github.com/holiman/uint256, the 256-bit integer type real go
// EVM implementations use, not just against math/big.
func TestMulU256MatchesHoliman(t *testing.T) {
	h := newHarness(t)

	a := uint256.NewInt(1).Lsh(uint256.NewInt(1), 96)
	b := uint256.NewInt(4294967296) // 2^32

	aBytes := a.Bytes32()
	bBytes := b.Bytes32()
	h.WriteMemory(addrA, reverse(aBytes[:]))
	h.WriteMemory(addrB, reverse(bBytes[:]))

	_, err := h.Call("mul", addrOut, addrA, addrB, 32)
	require.NoError(t, err)

	want := new(uint256.Int).Mul(a, b)
	wantBytes := want.Bytes32()
	require.Equal(t, reverse(wantBytes[:]), h.ReadMemory(addrOut, 32))
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[len(b)-1-i]
	}
	return out
}

func TestDivMod(t *testing.T) {
	h := newHarness(t)
	const outQuot, outRem = 600, 700

	a := big.NewInt(350)
	b := big.NewInt(13)
	h.WriteMemory(addrA, le(a, 32))
	h.WriteMemory(addrB, le(b, 32))

	_, err := h.Call("divmod", outQuot, outRem, addrA, addrB, 32)
	require.NoError(t, err)

	require.Equal(t, big.NewInt(26), fromLE(h.ReadMemory(outQuot, 32)))
	require.Equal(t, big.NewInt(12), fromLE(h.ReadMemory(outRem, 32)))
}

func TestDivModLargeExact(t *testing.T) {
	h := newHarness(t)
	const outQuot, outRem = 600, 700

	a, _ := new(big.Int).SetString("79228162514264337593543950336", 10) // 2^96
	b := big.NewInt(4294967296)                                        // 2^32

	// DivMod operates on 8-byte limbs; use a 32-byte width for both.
	h.WriteMemory(addrA, le(a, 32))
	h.WriteMemory(addrB, le(b, 32))

	_, err := h.Call("divmod", outQuot, outRem, addrA, addrB, 32)
	require.NoError(t, err)

	want, _ := new(big.Int).SetString("18446744073709551616", 10) // 2^64
	require.Equal(t, want, fromLE(h.ReadMemory(outQuot, 32)))
	require.Equal(t, big.NewInt(0), fromLE(h.ReadMemory(outRem, 32)))
}

func TestDivByZeroTraps(t *testing.T) {
	h := newHarness(t)
	const outQuot, outRem = 600, 700

	h.WriteMemory(addrA, le(big.NewInt(10), 32))
	h.WriteMemory(addrB, le(big.NewInt(0), 32))

	_, err := h.Call("divmod", outQuot, outRem, addrA, addrB, 32)
	require.Error(t, err)
}

func TestIsZero(t *testing.T) {
	h := newHarness(t)

	h.WriteMemory(addrA, le(big.NewInt(0), 32))
	res, err := h.Call("is_zero", addrA, 32)
	require.NoError(t, err)
	require.Equal(t, uint64(1), res[0])

	h.WriteMemory(addrA, le(big.NewInt(1), 32))
	res, err = h.Call("is_zero", addrA, 32)
	require.NoError(t, err)
	require.Equal(t, uint64(0), res[0])
}

func TestEqual(t *testing.T) {
	h := newHarness(t)

	h.WriteMemory(addrA, le(big.NewInt(42), 32))
	h.WriteMemory(addrB, le(big.NewInt(42), 32))
	res, err := h.Call("eq", addrA, addrB, 32)
	require.NoError(t, err)
	require.Equal(t, uint64(1), res[0])

	h.WriteMemory(addrB, le(big.NewInt(43), 32))
	res, err = h.Call("eq", addrA, addrB, 32)
	require.NoError(t, err)
	require.Equal(t, uint64(0), res[0])
}
