package stackint_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sourcevm/wasmgen/govm"
	"github.com/sourcevm/wasmgen/runtime/internal/runtimetest"
	"github.com/sourcevm/wasmgen/runtime/stackint"
)

var widths = []stackint.Width{stackint.W8, stackint.W16, stackint.W32, stackint.W64}

// maxOf relies on Go's shift semantics wrapping 1<<64 to 0 for w64, giving
// the correct all-ones uint64 max via the same -1 wraparound.
func maxOf(w stackint.Width) uint64 {
	return (uint64(1) << uint(w)) - 1
}

func TestCheckedAddOverflow(t *testing.T) {
	for _, w := range widths {
		w := w
		t.Run(fmt.Sprintf("w%d", w), func(t *testing.T) {
			c := runtimetest.NewContext(1)
			c.Module.Export("add", stackint.Add(c, w))
			h, err := govm.New(c.Module, [20]byte{})
			require.NoError(t, err)
			defer h.Close()

			max := maxOf(w)

			_, err = h.Call("add", max, 1)
			require.Error(t, err)

			res, err := h.Call("add", max-1, 1)
			require.NoError(t, err)
			require.Equal(t, max, res[0])
		})
	}
}

func TestCheckedSubUnderflow(t *testing.T) {
	for _, w := range widths {
		w := w
		t.Run(fmt.Sprintf("w%d", w), func(t *testing.T) {
			c := runtimetest.NewContext(1)
			c.Module.Export("sub", stackint.Sub(c, w))
			h, err := govm.New(c.Module, [20]byte{})
			require.NoError(t, err)
			defer h.Close()

			_, err = h.Call("sub", 1, 2)
			require.Error(t, err)

			res, err := h.Call("sub", 5, 2)
			require.NoError(t, err)
			require.Equal(t, uint64(3), res[0])
		})
	}
}

func TestCheckedMulOverflow(t *testing.T) {
	for _, w := range widths {
		w := w
		t.Run(fmt.Sprintf("w%d", w), func(t *testing.T) {
			c := runtimetest.NewContext(1)
			c.Module.Export("mul", stackint.Mul(c, w))
			h, err := govm.New(c.Module, [20]byte{})
			require.NoError(t, err)
			defer h.Close()

			max := maxOf(w)
			ok := max / 2
			overflow := ok + 1

			_, err = h.Call("mul", overflow, 2)
			require.Error(t, err)

			res, err := h.Call("mul", ok, 2)
			require.NoError(t, err)
			require.Equal(t, ok*2, res[0])
		})
	}
}

func TestCheckedShlOverflow(t *testing.T) {
	for _, w := range widths {
		w := w
		t.Run(fmt.Sprintf("w%d", w), func(t *testing.T) {
			c := runtimetest.NewContext(1)
			c.Module.Export("shl", stackint.Shl(c, w))
			h, err := govm.New(c.Module, [20]byte{})
			require.NoError(t, err)
			defer h.Close()

			// Shifting by the full width always traps, regardless of value.
			_, err = h.Call("shl", 1, uint64(w))
			require.Error(t, err)

			// Shifting a single set bit up to the top of the width fits.
			res, err := h.Call("shl", 1, uint64(w)-1)
			require.NoError(t, err)
			require.Equal(t, uint64(1)<<(uint(w)-1), res[0])

			// Shifting a value with a second set bit the same distance
			// pushes a bit past the top of the width.
			_, err = h.Call("shl", 2, uint64(w)-1)
			require.Error(t, err)
		})
	}
}

func TestEqual(t *testing.T) {
	for _, w := range widths {
		w := w
		t.Run(fmt.Sprintf("w%d", w), func(t *testing.T) {
			c := runtimetest.NewContext(1)
			c.Module.Export("eq", stackint.Equal(c, w))
			h, err := govm.New(c.Module, [20]byte{})
			require.NoError(t, err)
			defer h.Close()

			res, err := h.Call("eq", 42, 42)
			require.NoError(t, err)
			require.Equal(t, uint64(1), res[0])

			res, err = h.Call("eq", 42, 43)
			require.NoError(t, err)
			require.Equal(t, uint64(0), res[0])
		})
	}
}
