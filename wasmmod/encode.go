package wasmmod

import (
	"bytes"

	"github.com/sourcevm/wasmgen/internal/leb128"
)

const (
	secType     = 1
	secImport   = 2
	secFunction = 3
	secMemory   = 5
	secGlobal   = 6
	secExport   = 7
	secCode     = 10
)

func vec(n int) []byte { return leb128.EncodeUint32(uint32(n)) }

func writeSection(out *bytes.Buffer, id byte, body []byte) {
	if len(body) == 0 {
		return
	}
	out.WriteByte(id)
	out.Write(leb128.EncodeUint32(uint32(len(body))))
	out.Write(body)
}

func encodeFuncType(t FuncType) []byte {
	var b bytes.Buffer
	b.WriteByte(0x60)
	b.Write(vec(len(t.Params)))
	for _, p := range t.Params {
		b.WriteByte(byte(p))
	}
	b.Write(vec(len(t.Results)))
	for _, r := range t.Results {
		b.WriteByte(byte(r))
	}
	return b.Bytes()
}

func encodeLimits(min, max uint32, hasMax bool) []byte {
	var b bytes.Buffer
	if hasMax {
		b.WriteByte(0x01)
		b.Write(leb128.EncodeUint32(min))
		b.Write(leb128.EncodeUint32(max))
	} else {
		b.WriteByte(0x00)
		b.Write(leb128.EncodeUint32(min))
	}
	return b.Bytes()
}

// Encode serializes the module under construction into a standard
// WebAssembly binary module.
func (m *Module) Encode() []byte {
	var out bytes.Buffer
	out.WriteString("\x00asm")
	out.Write([]byte{0x01, 0x00, 0x00, 0x00})

	// Type section.
	var typeSec bytes.Buffer
	typeSec.Write(vec(len(m.types)))
	for _, t := range m.types {
		typeSec.Write(encodeFuncType(t))
	}
	writeSection(&out, secType, typeSec.Bytes())

	// Import section.
	var importSec bytes.Buffer
	importSec.Write(vec(len(m.imports)))
	for _, imp := range m.imports {
		importSec.Write(vec(len(imp.module)))
		importSec.WriteString(imp.module)
		importSec.Write(vec(len(imp.name)))
		importSec.WriteString(imp.name)
		importSec.WriteByte(0x00) // func import
		importSec.Write(leb128.EncodeUint32(uint32(m.internType(imp.typ))))
	}
	writeSection(&out, secImport, importSec.Bytes())

	// Function section.
	var funcSec bytes.Buffer
	funcSec.Write(vec(len(m.funcs)))
	for _, fb := range m.funcs {
		funcSec.Write(leb128.EncodeUint32(uint32(m.internType(fb.sig))))
	}
	writeSection(&out, secFunction, funcSec.Bytes())

	// Memory section.
	var memSec bytes.Buffer
	if m.hasMemory {
		memSec.Write(vec(1))
		memSec.Write(encodeLimits(m.memoryMinPages, m.memoryMaxPages, m.memoryHasMax))
	}
	writeSection(&out, secMemory, memSec.Bytes())

	// Global section.
	var globalSec bytes.Buffer
	globalSec.Write(vec(len(m.globals)))
	for _, g := range m.globals {
		globalSec.WriteByte(byte(g.typ))
		if g.mutable {
			globalSec.WriteByte(0x01)
		} else {
			globalSec.WriteByte(0x00)
		}
		switch g.typ {
		case ValTypeI64:
			globalSec.WriteByte(opI64Const)
			globalSec.Write(leb128.EncodeInt64(g.initI64))
		default:
			globalSec.WriteByte(opI32Const)
			globalSec.Write(leb128.EncodeInt32(int32(g.initI64)))
		}
		globalSec.WriteByte(opEnd)
	}
	writeSection(&out, secGlobal, globalSec.Bytes())

	// Export section.
	var exportSec bytes.Buffer
	exportSec.Write(vec(len(m.exports)))
	for _, e := range m.exports {
		exportSec.Write(vec(len(e.name)))
		exportSec.WriteString(e.name)
		exportSec.WriteByte(e.kind)
		exportSec.Write(leb128.EncodeUint32(uint32(e.id)))
	}
	writeSection(&out, secExport, exportSec.Bytes())

	// Code section.
	var codeSec bytes.Buffer
	codeSec.Write(vec(len(m.funcs)))
	for _, fb := range m.funcs {
		codeSec.Write(encodeFuncBody(fb))
	}
	writeSection(&out, secCode, codeSec.Bytes())

	return out.Bytes()
}

// encodeFuncBody encodes one function's locals declarations and
// instruction stream, grouping consecutive same-typed locals the way the
// wasm binary format requires (a list of (count, type) runs rather than
// one entry per local).
func encodeFuncBody(fb *FuncBuilder) []byte {
	var runs []struct {
		count uint32
		typ   ValType
	}
	for _, lt := range fb.locals {
		if len(runs) > 0 && runs[len(runs)-1].typ == lt {
			runs[len(runs)-1].count++
			continue
		}
		runs = append(runs, struct {
			count uint32
			typ   ValType
		}{count: 1, typ: lt})
	}

	var body bytes.Buffer
	body.Write(vec(len(runs)))
	for _, r := range runs {
		body.Write(leb128.EncodeUint32(r.count))
		body.WriteByte(byte(r.typ))
	}
	body.Write(fb.instr.buf.Bytes())
	body.WriteByte(opEnd)

	var framed bytes.Buffer
	framed.Write(leb128.EncodeUint32(uint32(body.Len())))
	framed.Write(body.Bytes())
	return framed.Bytes()
}
