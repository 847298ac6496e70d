package object_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sourcevm/wasmgen/compctx"
	"github.com/sourcevm/wasmgen/govm"
	"github.com/sourcevm/wasmgen/ir"
	"github.com/sourcevm/wasmgen/runtime/internal/runtimetest"
	"github.com/sourcevm/wasmgen/runtime/object"
)

const (
	idBytesAddr = 40000
	idInstAddr  = 40100
	uidInstAddr = 40200
	structAddr  = 40300
)

// declareItem registers a key-able struct whose first field is a UID -
// never itself encoded into storage, per structcodec's HasKey convention -
// followed by one plain stored field.
func declareItem(c *compctx.Context) ir.Type {
	uidID := c.DeclareStruct(compctx.StructDef{Name: "Uid"})
	itemID := c.DeclareStruct(compctx.StructDef{
		Name:   "Item",
		HasKey: true,
		Fields: []compctx.StructField{
			{Name: "id", Type: ir.Struct(uidID)},
			{Name: "value", Type: ir.U64()},
		},
	})
	return ir.Struct(itemID)
}

// writeItemFixture lays out the pointer chain get_id_bytes_ptr walks
// (struct_ptr[0] -> uid[0] -> id[0] -> the 32 raw id bytes) and the Item
// instance itself, with value as its only stored field.
func writeItemFixture(h *govm.Harness, idByte byte, value uint64) {
	idBytes := make([]byte, 32)
	idBytes[31] = idByte
	h.WriteMemory(idBytesAddr, idBytes)

	idInst := make([]byte, 4)
	binary.LittleEndian.PutUint32(idInst, idBytesAddr)
	h.WriteMemory(idInstAddr, idInst)

	uidInst := make([]byte, 4)
	binary.LittleEndian.PutUint32(uidInst, idInstAddr)
	h.WriteMemory(uidInstAddr, uidInst)

	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], uidInstAddr)
	binary.LittleEndian.PutUint64(buf[4:12], value)
	h.WriteMemory(structAddr, buf)
}

func TestCreateOwnedThenReadRoundTrip(t *testing.T) {
	c := runtimetest.NewContext(1)
	item := declareItem(c)
	c.Module.Export("create_owned", object.CreateOwned(c, item))
	c.Module.Export("read_object", object.Read(c, item))

	h, err := govm.New(c.Module, [20]byte{0xAB})
	require.NoError(t, err)
	defer h.Close()

	writeItemFixture(h, 0x2A, 42424242)

	_, err = h.Call("create_owned", structAddr)
	require.NoError(t, err)

	res, err := h.Call("read_object", idBytesAddr, 0)
	require.NoError(t, err)
	newStructPtr := uint32(res[0])
	require.NotEqual(t, uint32(structAddr), newStructPtr)

	got := h.ReadMemory(newStructPtr+4, 8)
	require.Equal(t, uint64(42424242), binary.LittleEndian.Uint64(got))
}

func TestShareMakesObjectReadableViaSharedSpace(t *testing.T) {
	c := runtimetest.NewContext(1)
	item := declareItem(c)
	c.Module.Export("create_owned", object.CreateOwned(c, item))
	c.Module.Export("share", object.Share(c, item))
	c.Module.Export("read_object", object.Read(c, item))

	h, err := govm.New(c.Module, [20]byte{0xCD})
	require.NoError(t, err)
	defer h.Close()

	sharedKey := make([]byte, 32)
	sharedKey[31] = 0xBB
	h.WriteMemory(compctx.DataSharedObjectsKeyOffset, sharedKey)

	writeItemFixture(h, 0x2A, 777)

	_, err = h.Call("create_owned", structAddr)
	require.NoError(t, err)

	_, err = h.Call("share", structAddr)
	require.NoError(t, err)

	// The signer's own slot was cleared by share's underlying
	// delete-then-save-elsewhere; this only succeeds by falling through
	// to the shared-objects space.
	res, err := h.Call("read_object", idBytesAddr, 0)
	require.NoError(t, err)
	newStructPtr := uint32(res[0])
	got := h.ReadMemory(newStructPtr+4, 8)
	require.Equal(t, uint64(777), binary.LittleEndian.Uint64(got))
}

func TestFreezeThenDeleteTraps(t *testing.T) {
	c := runtimetest.NewContext(1)
	item := declareItem(c)
	c.Module.Export("create_owned", object.CreateOwned(c, item))
	c.Module.Export("freeze", object.Freeze(c, item))
	c.Module.Export("read_object", object.Read(c, item))
	c.Module.Export("delete", object.Delete(c, item))

	h, err := govm.New(c.Module, [20]byte{0xEF})
	require.NoError(t, err)
	defer h.Close()

	frozenKey := make([]byte, 32)
	frozenKey[31] = 0xAA
	h.WriteMemory(compctx.DataFrozenObjectsKeyOffset, frozenKey)

	writeItemFixture(h, 0x2A, 99)

	_, err = h.Call("create_owned", structAddr)
	require.NoError(t, err)

	_, err = h.Call("freeze", structAddr)
	require.NoError(t, err)

	res, err := h.Call("read_object", idBytesAddr, 1) // search_frozen=1
	require.NoError(t, err)
	newStructPtr := uint32(res[0])
	got := h.ReadMemory(newStructPtr+4, 8)
	require.Equal(t, uint64(99), binary.LittleEndian.Uint64(got))

	// freeze overwrote struct_addr's owner header (struct_addr-32) with
	// the frozen constant in place, so deleting the same instance now traps.
	_, err = h.Call("delete", structAddr)
	require.Error(t, err)
}
