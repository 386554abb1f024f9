// Package wasmgen assembles small WebAssembly modules for tests.
//
// It covers the subset of the binary format needed to author contract and
// delegate guests by hand: function imports, one memory, mutable i32
// globals, active data segments and exports.
package wasmgen

// ValType is a WebAssembly value type.
type ValType byte

const (
	I32 ValType = 0x7F
	I64 ValType = 0x7E
)

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Sig builds a FuncType of n i32 params returning the given results.
func Sig(n int, results ...ValType) FuncType {
	params := make([]ValType, n)
	for i := range params {
		params[i] = I32
	}
	return FuncType{Params: params, Results: results}
}

func (f FuncType) key() string {
	b := make([]byte, 0, len(f.Params)+len(f.Results)+1)
	for _, p := range f.Params {
		b = append(b, byte(p))
	}
	b = append(b, '|')
	for _, r := range f.Results {
		b = append(b, byte(r))
	}
	return string(b)
}

// Import is a function import.
type Import struct {
	Module string
	Name   string
	Type   FuncType
}

// Func is a module-defined function. Body must end with End.
type Func struct {
	Export string
	Type   FuncType
	Locals []ValType
	Body   []byte
}

// Global is a mutable i32 global.
type Global struct {
	Init int32
}

// Data is an active data segment in memory 0.
type Data struct {
	Offset uint32
	Bytes  []byte
}

// Module is a module under construction. Function indices start with
// the imports, followed by Funcs in order.
type Module struct {
	Imports  []Import
	Funcs    []Func
	Globals  []Global
	Data     []Data
	MinPages uint32
	// MaxPages is the declared memory maximum; 0 means none.
	MaxPages uint32
	// MemoryExport names the memory export; empty means not exported.
	MemoryExport string
	// NoMemory omits the memory section entirely.
	NoMemory bool
}

// FuncIndex returns the index of the i-th defined function.
func (m *Module) FuncIndex(i int) uint32 {
	return uint32(len(m.Imports) + i)
}

// Encode returns the binary encoding of the module.
func (m *Module) Encode() []byte {
	var types []FuncType
	typeIdx := map[string]uint32{}
	typeOf := func(f FuncType) uint32 {
		k := f.key()
		if i, ok := typeIdx[k]; ok {
			return i
		}
		i := uint32(len(types))
		types = append(types, f)
		typeIdx[k] = i
		return i
	}
	importTypes := make([]uint32, len(m.Imports))
	for i, imp := range m.Imports {
		importTypes[i] = typeOf(imp.Type)
	}
	funcTypes := make([]uint32, len(m.Funcs))
	for i, f := range m.Funcs {
		funcTypes[i] = typeOf(f.Type)
	}

	var w writer
	w.raw([]byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00})

	if len(types) > 0 {
		var sec writer
		sec.u32(uint32(len(types)))
		for _, t := range types {
			sec.byte(0x60)
			writeValTypes(&sec, t.Params)
			writeValTypes(&sec, t.Results)
		}
		w.section(1, &sec)
	}

	if len(m.Imports) > 0 {
		var sec writer
		sec.u32(uint32(len(m.Imports)))
		for i, imp := range m.Imports {
			sec.name(imp.Module)
			sec.name(imp.Name)
			sec.byte(0x00)
			sec.u32(importTypes[i])
		}
		w.section(2, &sec)
	}

	if len(m.Funcs) > 0 {
		var sec writer
		sec.u32(uint32(len(m.Funcs)))
		for _, t := range funcTypes {
			sec.u32(t)
		}
		w.section(3, &sec)
	}

	if !m.NoMemory {
		var sec writer
		sec.u32(1)
		if m.MaxPages > 0 {
			sec.byte(0x01)
			sec.u32(m.MinPages)
			sec.u32(m.MaxPages)
		} else {
			sec.byte(0x00)
			sec.u32(m.MinPages)
		}
		w.section(5, &sec)
	}

	if len(m.Globals) > 0 {
		var sec writer
		sec.u32(uint32(len(m.Globals)))
		for _, g := range m.Globals {
			sec.byte(byte(I32))
			sec.byte(0x01)
			sec.byte(0x41)
			sec.s64(int64(g.Init))
			sec.byte(0x0B)
		}
		w.section(6, &sec)
	}

	var exports writer
	n := uint32(0)
	if m.MemoryExport != "" && !m.NoMemory {
		exports.name(m.MemoryExport)
		exports.byte(0x02)
		exports.u32(0)
		n++
	}
	for i, f := range m.Funcs {
		if f.Export == "" {
			continue
		}
		exports.name(f.Export)
		exports.byte(0x00)
		exports.u32(m.FuncIndex(i))
		n++
	}
	if n > 0 {
		var sec writer
		sec.u32(n)
		sec.raw(exports.bytes())
		w.section(7, &sec)
	}

	if len(m.Funcs) > 0 {
		var sec writer
		sec.u32(uint32(len(m.Funcs)))
		for _, f := range m.Funcs {
			var body writer
			writeLocals(&body, f.Locals)
			body.raw(f.Body)
			sec.u32(uint32(len(body.bytes())))
			sec.raw(body.bytes())
		}
		w.section(10, &sec)
	}

	if len(m.Data) > 0 {
		var sec writer
		sec.u32(uint32(len(m.Data)))
		for _, d := range m.Data {
			sec.byte(0x00)
			sec.byte(0x41)
			sec.s64(int64(int32(d.Offset)))
			sec.byte(0x0B)
			sec.u32(uint32(len(d.Bytes)))
			sec.raw(d.Bytes)
		}
		w.section(11, &sec)
	}

	return w.bytes()
}

func writeValTypes(w *writer, types []ValType) {
	w.u32(uint32(len(types)))
	for _, t := range types {
		w.byte(byte(t))
	}
}

// writeLocals emits local declarations, grouping runs of the same type.
func writeLocals(w *writer, locals []ValType) {
	type group struct {
		n uint32
		t ValType
	}
	var groups []group
	for _, l := range locals {
		if len(groups) > 0 && groups[len(groups)-1].t == l {
			groups[len(groups)-1].n++
			continue
		}
		groups = append(groups, group{n: 1, t: l})
	}
	w.u32(uint32(len(groups)))
	for _, g := range groups {
		w.u32(g.n)
		w.byte(byte(g.t))
	}
}
