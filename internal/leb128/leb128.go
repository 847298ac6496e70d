// Package leb128 encodes and decodes the LEB128 variable-length integers
// used throughout the WebAssembly binary format.
package leb128

import (
	"fmt"
	"io"
)

// EncodeUint32 encodes v as unsigned LEB128.
func EncodeUint32(v uint32) []byte {
	return EncodeUint64(uint64(v))
}

// EncodeUint64 encodes v as unsigned LEB128.
func EncodeUint64(v uint64) []byte {
	out := make([]byte, 0, 10)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			return out
		}
	}
}

// EncodeInt32 encodes v as signed LEB128.
func EncodeInt32(v int32) []byte {
	return EncodeInt64(int64(v))
}

// EncodeInt64 encodes v as signed LEB128.
func EncodeInt64(v int64) []byte {
	out := make([]byte, 0, 10)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}

// LoadUint32 decodes an unsigned LEB128 value from the head of buf,
// returning the value and the number of bytes consumed.
func LoadUint32(buf []byte) (uint32, uint64, error) {
	v, n, err := LoadUint64(buf)
	if err != nil {
		return 0, 0, err
	}
	if n > 5 {
		return 0, 0, fmt.Errorf("leb128: uint32 too long")
	}
	if v > 0xffffffff {
		return 0, 0, fmt.Errorf("leb128: value %d overflows uint32", v)
	}
	return uint32(v), n, nil
}

// LoadUint64 decodes an unsigned LEB128 value from the head of buf,
// returning the value and the number of bytes consumed.
func LoadUint64(buf []byte) (uint64, uint64, error) {
	var result uint64
	var shift uint
	for i := 0; ; i++ {
		if i >= len(buf) {
			return 0, 0, io.ErrUnexpectedEOF
		}
		b := buf[i]
		if shift == 63 && b > 1 {
			return 0, 0, fmt.Errorf("leb128: value overflows uint64")
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, uint64(i + 1), nil
		}
		shift += 7
		if shift >= 64 {
			return 0, 0, fmt.Errorf("leb128: uint64 too long")
		}
	}
}

// LoadInt32 decodes a signed LEB128 value from the head of buf, returning
// the value and the number of bytes consumed.
func LoadInt32(buf []byte) (int32, uint64, error) {
	v, n, err := LoadInt64(buf)
	if err != nil {
		return 0, 0, err
	}
	if v > 0x7fffffff || v < -0x80000000 {
		return 0, 0, fmt.Errorf("leb128: value %d overflows int32", v)
	}
	return int32(v), n, nil
}

// LoadInt64 decodes a signed LEB128 value from the head of buf, returning
// the value and the number of bytes consumed.
func LoadInt64(buf []byte) (int64, uint64, error) {
	var result int64
	var shift uint
	var b byte
	i := 0
	for {
		if i >= len(buf) {
			return 0, 0, io.ErrUnexpectedEOF
		}
		b = buf[i]
		result |= int64(b&0x7f) << shift
		shift += 7
		i++
		if b&0x80 == 0 {
			break
		}
		if shift >= 64 {
			return 0, 0, fmt.Errorf("leb128: int64 too long")
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, uint64(i), nil
}

// DecodeInt33AsInt64 reads a signed 33-bit LEB128 (used by wasm block
// types) from r as an int64.
func DecodeInt33AsInt64(r io.ByteReader) (int64, uint64, error) {
	var result int64
	var shift uint
	var b byte
	var n uint64
	for {
		nb, err := r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		b = nb
		n++
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= 33 {
			return 0, 0, fmt.Errorf("leb128: int33 too long")
		}
	}
	if shift < 33 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, n, nil
}
