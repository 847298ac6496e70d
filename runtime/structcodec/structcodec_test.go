package structcodec_test

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sourcevm/wasmgen/compctx"
	"github.com/sourcevm/wasmgen/govm"
	"github.com/sourcevm/wasmgen/ir"
	"github.com/sourcevm/wasmgen/runtime/internal/runtimetest"
	"github.com/sourcevm/wasmgen/runtime/structcodec"
)

func le32(v *big.Int) []byte {
	be := make([]byte, 32)
	v.FillBytes(be)
	out := make([]byte, 32)
	for i := range be {
		out[i] = be[31-i]
	}
	return out
}

func fromLE32(b []byte) *big.Int {
	be := make([]byte, 32)
	for i := range b {
		be[i] = b[31-i]
	}
	return new(big.Int).SetBytes(be)
}

// writeU256One seeds the U256_ONE_OFFSET scratch constant that
// storage.StorageNextSlot's slot-cursor advance reads on every call.
// Production code would get this from the embedding driver's data layer;
// a test harness plays that role itself.
func writeU256One(h *govm.Harness) {
	h.WriteMemory(compctx.DataU256OneOffset, le32(big.NewInt(1)))
}

// A flat struct deliberately spanning two storage slots: count(4) +
// flag(1) + amount(8) = 13 bytes fit in the first slot, balance(32 bytes)
// alone doesn't fit alongside them and starts a fresh one.
func declareCounter(c *compctx.Context) ir.Type {
	id := c.DeclareStruct(compctx.StructDef{
		Name: "Counter",
		Fields: []compctx.StructField{
			{Name: "count", Type: ir.U32()},
			{Name: "flag", Type: ir.Bool()},
			{Name: "amount", Type: ir.U64()},
			{Name: "balance", Type: ir.U256()},
		},
	})
	return ir.Struct(id)
}

func TestSaveAndReadStructRoundTrip(t *testing.T) {
	c := runtimetest.NewContext(1)
	t_ := declareCounter(c)

	c.Module.Export("save", structcodec.SaveStruct(c, t_))
	c.Module.Export("read", structcodec.ReadStruct(c, t_))

	h, err := govm.New(c.Module, [20]byte{})
	require.NoError(t, err)
	defer h.Close()
	writeU256One(h)

	const structPtr = 2000
	const balancePtr = 2100
	const slotPtr = 2200

	balance, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	h.WriteMemory(balancePtr, le32(balance))

	buf := make([]byte, 20)
	binary.LittleEndian.PutUint32(buf[0:4], 42)    // count
	binary.LittleEndian.PutUint32(buf[4:8], 1)     // flag = true
	binary.LittleEndian.PutUint64(buf[8:16], 123456789012345) // amount
	binary.LittleEndian.PutUint32(buf[16:20], balancePtr)     // balance (heap ptr)
	h.WriteMemory(structPtr, buf)

	h.WriteMemory(slotPtr, make([]byte, 32)) // all-zero storage key

	_, err = h.Call("save", structPtr, slotPtr)
	require.NoError(t, err)

	h.WriteMemory(slotPtr, make([]byte, 32)) // save advanced the key in place; point read back at the first slot
	res, err := h.Call("read", slotPtr)
	require.NoError(t, err)
	newStructPtr := uint32(res[0])
	require.NotEqual(t, uint32(structPtr), newStructPtr)

	got := h.ReadMemory(newStructPtr, 20)
	require.Equal(t, uint32(42), binary.LittleEndian.Uint32(got[0:4]))
	require.Equal(t, uint32(1), binary.LittleEndian.Uint32(got[4:8]))
	require.Equal(t, uint64(123456789012345), binary.LittleEndian.Uint64(got[8:16]))

	newBalancePtr := binary.LittleEndian.Uint32(got[16:20])
	require.Equal(t, balance, fromLE32(h.ReadMemory(newBalancePtr, 32)))
}

func TestSaveStructOccupiesTwoSlots(t *testing.T) {
	c := runtimetest.NewContext(1)
	t_ := declareCounter(c)

	saveID := structcodec.SaveStruct(c, t_)
	c.Module.Export("save", saveID)

	h, err := govm.New(c.Module, [20]byte{})
	require.NoError(t, err)
	defer h.Close()
	writeU256One(h)

	const structPtr, balancePtr, slotPtr = 2000, 2100, 2200
	h.WriteMemory(balancePtr, le32(big.NewInt(7)))
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint32(buf[0:4], 42) // count
	binary.LittleEndian.PutUint32(buf[16:20], balancePtr)
	h.WriteMemory(structPtr, buf)
	h.WriteMemory(slotPtr, make([]byte, 32))

	_, err = h.Call("save", structPtr, slotPtr)
	require.NoError(t, err)

	var slot0, slot1 [32]byte
	copy(slot1[:], make([]byte, 32))
	slot1[31] = 1 // slot+1, big-endian
	require.NotEqual(t, [32]byte{}, h.Storage(slot0)) // first slot non-empty (count/flag/amount live here)
	val := h.Storage(slot1)
	require.Equal(t, big.NewInt(7), new(big.Int).SetBytes(val[:])) // storage slots are big-endian
}

func TestDeleteStructTrapsWhenFrozen(t *testing.T) {
	c := runtimetest.NewContext(1)
	t_ := declareCounter(c)

	c.Module.Export("delete", structcodec.DeleteStruct(c, t_))

	h, err := govm.New(c.Module, [20]byte{})
	require.NoError(t, err)
	defer h.Close()

	const structPtr = 2000
	const ownerPtr = structPtr - 32

	frozenKey := make([]byte, 32)
	frozenKey[31] = 0xAA
	h.WriteMemory(compctx.DataFrozenObjectsKeyOffset, frozenKey)
	h.WriteMemory(ownerPtr, frozenKey) // owner == frozen constant

	_, err = h.Call("delete", structPtr)
	require.Error(t, err)
}
