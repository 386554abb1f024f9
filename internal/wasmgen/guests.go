package wasmgen

// Memory layout shared by the generated guests.
const (
	DescAddr   = 16   // result descriptor
	StaticBase = 256  // data segments placed by Guest.Data
	MsgBuf     = 2040 // runtime-built message list
	HeapBase   = 4096 // first address handed out by alloc
)

// Names of the secret host imports, in import order.
var SecretImports = []Import{
	{Module: "secrets", Name: "get_secret", Type: Sig(4, I64)},
	{Module: "secrets", Name: "set_secret", Type: Sig(4, I32)},
	{Module: "secrets", Name: "remove_secret", Type: Sig(2, I32)},
}

// Body produces the instructions of one export.
type Body func(g *Guest) *Code

type export struct {
	name string
	typ  FuncType
	body Body
}

// Guest assembles a contract or delegate guest with a bump allocator
// exported as alloc and a no-op helper function.
type Guest struct {
	imports []Import
	exports []export
	data    []Data
	next    uint32
	min     uint32
	max     uint32
	noMem   bool
	memName string
}

// NewContract returns a guest exporting every contract entry point, each
// answering status 0 with an empty payload.
func NewContract() *Guest {
	g := &Guest{next: StaticBase, min: 1, memName: "memory"}
	g.Export("validate_state", 6, Status(0))
	g.Export("update_state", 6, Status(3))
	g.Export("summarize_state", 4, Status(0))
	g.Export("get_state_delta", 6, Status(0))
	return g
}

// NewDelegate returns a delegate guest. With secrets set, the three secret
// host functions are imported at indices 0, 1 and 2.
func NewDelegate(secrets bool) *Guest {
	g := &Guest{next: StaticBase, min: 1, memName: "memory"}
	if secrets {
		g.imports = append(g.imports, SecretImports...)
	}
	g.Export("process", 4, Payload(0, []byte{0, 0, 0, 0}))
	return g
}

// Export sets the body of an export with n i32 params and an i32 result,
// replacing any previous definition.
func (g *Guest) Export(name string, n int, body Body) *Guest {
	return g.ExportType(name, Sig(n, I32), body)
}

// ExportType is Export with an explicit signature.
func (g *Guest) ExportType(name string, t FuncType, body Body) *Guest {
	for i := range g.exports {
		if g.exports[i].name == name {
			g.exports[i] = export{name: name, typ: t, body: body}
			return g
		}
	}
	g.exports = append(g.exports, export{name: name, typ: t, body: body})
	return g
}

// Without drops an export.
func (g *Guest) Without(name string) *Guest {
	for i := range g.exports {
		if g.exports[i].name == name {
			g.exports = append(g.exports[:i], g.exports[i+1:]...)
			break
		}
	}
	return g
}

// Import adds a function import after any secret imports.
func (g *Guest) Import(module, name string, t FuncType) *Guest {
	g.imports = append(g.imports, Import{Module: module, Name: name, Type: t})
	return g
}

// Pages sets the initial and maximum memory size. max 0 means unbounded.
func (g *Guest) Pages(min, max uint32) *Guest {
	g.min, g.max = min, max
	return g
}

// MemoryName renames the memory export; empty hides it.
func (g *Guest) MemoryName(name string) *Guest {
	g.memName = name
	return g
}

// NoMemory drops the memory section.
func (g *Guest) NoMemory() *Guest {
	g.noMem = true
	return g
}

// Data places bytes in the static area and returns their address.
func (g *Guest) Data(b []byte) uint32 {
	addr := g.next
	g.data = append(g.data, Data{Offset: addr, Bytes: append([]byte(nil), b...)})
	g.next += uint32(len(b))
	g.next = (g.next + 3) &^ 3
	return addr
}

// AllocIndex returns the function index of alloc.
func (g *Guest) AllocIndex() uint32 { return uint32(len(g.imports)) }

// NopIndex returns the function index of the no-op helper.
func (g *Guest) NopIndex() uint32 { return uint32(len(g.imports)) + 1 }

// Bytes encodes the guest.
func (g *Guest) Bytes() []byte {
	m := Module{
		Imports:      g.imports,
		Globals:      []Global{{Init: HeapBase}},
		MinPages:     g.min,
		MaxPages:     g.max,
		MemoryExport: g.memName,
		NoMemory:     g.noMem,
	}

	alloc := NewCode().
		GlobalGet(0).LocalSet(1).
		GlobalGet(0).LocalGet(0).I32Add().GlobalSet(0).
		LocalGet(1).
		End()
	m.Funcs = append(m.Funcs,
		Func{Export: "alloc", Type: Sig(1, I32), Locals: []ValType{I32}, Body: alloc.Bytes()},
		Func{Type: FuncType{}, Body: NewCode().End().Bytes()},
	)

	for _, e := range g.exports {
		body := e.body(g)
		m.Funcs = append(m.Funcs, Func{
			Export: e.name,
			Type:   e.typ,
			Locals: []ValType{I64, I32},
			Body:   body.Bytes(),
		})
	}
	m.Data = g.data
	return m.Encode()
}

// WithoutAlloc returns a copy of the encoded guest whose allocator is not
// exported.
func (g *Guest) WithoutAlloc() []byte {
	m := Module{
		Imports:      g.imports,
		MinPages:     g.min,
		MemoryExport: g.memName,
	}
	m.Funcs = append(m.Funcs, Func{Type: Sig(1, I32), Body: NewCode().LocalGet(0).End().Bytes()})
	for _, e := range g.exports {
		m.Funcs = append(m.Funcs, Func{Export: e.name, Type: e.typ, Body: e.body(g).Bytes()})
	}
	m.Data = g.data
	return m.Encode()
}

// descriptor writes {status, ptr, len} at DescAddr and leaves its address
// on the stack.
func descriptor(c *Code, status int32, ptr, length func(*Code)) *Code {
	c.I32Const(DescAddr).I32Const(status).I32Store(0)
	c.I32Const(DescAddr)
	ptr(c)
	c.I32Store(4)
	c.I32Const(DescAddr)
	length(c)
	c.I32Store(8)
	return c.I32Const(DescAddr)
}

func constant(v int32) func(*Code) {
	return func(c *Code) { c.I32Const(v) }
}

func local(i uint32) func(*Code) {
	return func(c *Code) { c.LocalGet(i) }
}

// Status answers status with an empty payload.
func Status(status int32) Body {
	return func(g *Guest) *Code {
		return descriptor(NewCode(), status, constant(0), constant(0)).End()
	}
}

// Payload answers status with a fixed payload.
func Payload(status int32, b []byte) Body {
	return func(g *Guest) *Code {
		addr := g.Data(b)
		return descriptor(NewCode(), status, constant(int32(addr)), constant(int32(len(b)))).End()
	}
}

// Echo answers status with the arg-th buffer argument as payload.
func Echo(status int32, arg int) Body {
	return func(g *Guest) *Code {
		return descriptor(NewCode(), status, local(uint32(2*arg)), local(uint32(2*arg+1))).End()
	}
}

// RequireRelated answers RequiresRelated with ids until the host supplies a
// non-empty related set, then answers Valid.
func RequireRelated(ids []byte) Body {
	return func(g *Guest) *Code {
		addr := g.Data(ids)
		c := NewCode()
		c.LocalGet(5).I32Const(4).I32GtU().If()
		descriptor(c, 0, constant(0), constant(0)).Return()
		c.End()
		return descriptor(c, 2, constant(int32(addr)), constant(int32(len(ids)))).End()
	}
}

// Trap executes unreachable.
func Trap() Body {
	return func(g *Guest) *Code {
		return NewCode().Unreachable().End()
	}
}

// DivideByZero executes an integer division by zero.
func DivideByZero() Body {
	return func(g *Guest) *Code {
		return NewCode().I32Const(1).I32Const(0).I32DivS().End()
	}
}

// OutOfBounds loads from an address past the end of memory.
func OutOfBounds() Body {
	return func(g *Guest) *Code {
		return NewCode().I32Const(-16).I32Load(0).End()
	}
}

// Spin loops forever without calling any function.
func Spin() Body {
	return func(g *Guest) *Code {
		return NewCode().Loop().Br(0).End().Unreachable().End()
	}
}

// Burn calls the no-op helper forever.
func Burn() Body {
	return func(g *Guest) *Code {
		return NewCode().Loop().Call(g.NopIndex()).Br(0).End().Unreachable().End()
	}
}

// DanglingDescriptor returns a descriptor pointer past the end of memory.
func DanglingDescriptor() Body {
	return func(g *Guest) *Code {
		return NewCode().I32Const(0x7FFFFFF0).End()
	}
}

// Region answers status with an arbitrary region.
func Region(status, ptr, length int32) Body {
	return func(g *Guest) *Code {
		return descriptor(NewCode(), status, constant(ptr), constant(length)).End()
	}
}

// SecretEcho is a delegate process body. On the first call it stores the
// call parameters under key "k" and emits no messages. Once the secret
// exists it emits one message holding the secret value.
func SecretEcho() Body {
	return func(g *Guest) *Code {
		key := g.Data([]byte("k"))
		empty := g.Data([]byte{0, 0, 0, 0})
		c := NewCode()
		c.I32Const(int32(key)).I32Const(1).I32Const(MsgBuf + 8).I32Const(1024).
			Call(0).LocalTee(4).
			I64Const(0).I64LtS().If()
		c.I32Const(int32(key)).I32Const(1).LocalGet(0).LocalGet(1).Call(1).Drop()
		descriptor(c, 0, constant(int32(empty)), constant(4)).Return()
		c.End()

		c.I32Const(MsgBuf).I32Const(1).I32Store(0)
		c.I32Const(MsgBuf).LocalGet(4).I32WrapI64().I32Store(4)
		return descriptor(c, 0, constant(MsgBuf), func(c *Code) {
			c.LocalGet(4).I32WrapI64().I32Const(8).I32Add()
		}).End()
	}
}

// SecretForget is a delegate process body removing key "k". It emits one
// message, "removed" or "missing".
func SecretForget() Body {
	return func(g *Guest) *Code {
		key := g.Data([]byte("k"))
		removed := g.Data([]byte{1, 0, 0, 0, 7, 0, 0, 0, 'r', 'e', 'm', 'o', 'v', 'e', 'd'})
		missing := g.Data([]byte{1, 0, 0, 0, 7, 0, 0, 0, 'm', 'i', 's', 's', 'i', 'n', 'g'})
		c := NewCode()
		c.I32Const(int32(key)).I32Const(1).Call(2).I32Eqz().If()
		descriptor(c, 0, constant(int32(removed)), constant(15)).Return()
		c.End()
		return descriptor(c, 0, constant(int32(missing)), constant(15)).End()
	}
}

// SecretWild passes a key pointer past the end of memory to get_secret.
func SecretWild() Body {
	return func(g *Guest) *Code {
		return NewCode().
			I32Const(-16).I32Const(8).I32Const(MsgBuf).I32Const(16).
			Call(0).I32WrapI64().End()
	}
}
