package wasmgen

// Code builds a function body one instruction at a time.
type Code struct {
	w writer
}

// NewCode returns an empty function body.
func NewCode() *Code { return &Code{} }

// Bytes returns the encoded instructions.
func (c *Code) Bytes() []byte { return c.w.bytes() }

func (c *Code) op(b byte) *Code {
	c.w.byte(b)
	return c
}

func (c *Code) memarg(align, offset uint32) *Code {
	c.w.u32(align)
	c.w.u32(offset)
	return c
}

func (c *Code) Unreachable() *Code { return c.op(0x00) }
func (c *Code) Nop() *Code         { return c.op(0x01) }
func (c *Code) Else() *Code        { return c.op(0x05) }
func (c *Code) End() *Code         { return c.op(0x0B) }
func (c *Code) Return() *Code      { return c.op(0x0F) }
func (c *Code) Drop() *Code        { return c.op(0x1A) }

// Block, Loop and If open a structured block with no result.
func (c *Code) Block() *Code { return c.op(0x02).op(0x40) }
func (c *Code) Loop() *Code  { return c.op(0x03).op(0x40) }
func (c *Code) If() *Code    { return c.op(0x04).op(0x40) }

func (c *Code) Br(depth uint32) *Code {
	c.op(0x0C)
	c.w.u32(depth)
	return c
}

func (c *Code) BrIf(depth uint32) *Code {
	c.op(0x0D)
	c.w.u32(depth)
	return c
}

func (c *Code) Call(fn uint32) *Code {
	c.op(0x10)
	c.w.u32(fn)
	return c
}

func (c *Code) LocalGet(i uint32) *Code {
	c.op(0x20)
	c.w.u32(i)
	return c
}

func (c *Code) LocalSet(i uint32) *Code {
	c.op(0x21)
	c.w.u32(i)
	return c
}

func (c *Code) LocalTee(i uint32) *Code {
	c.op(0x22)
	c.w.u32(i)
	return c
}

func (c *Code) GlobalGet(i uint32) *Code {
	c.op(0x23)
	c.w.u32(i)
	return c
}

func (c *Code) GlobalSet(i uint32) *Code {
	c.op(0x24)
	c.w.u32(i)
	return c
}

func (c *Code) I32Load(offset uint32) *Code   { return c.op(0x28).memarg(2, offset) }
func (c *Code) I32Store(offset uint32) *Code  { return c.op(0x36).memarg(2, offset) }
func (c *Code) I32Store8(offset uint32) *Code { return c.op(0x3A).memarg(0, offset) }

func (c *Code) MemorySize() *Code { return c.op(0x3F).op(0x00) }
func (c *Code) MemoryGrow() *Code { return c.op(0x40).op(0x00) }

func (c *Code) I32Const(v int32) *Code {
	c.op(0x41)
	c.w.s64(int64(v))
	return c
}

func (c *Code) I64Const(v int64) *Code {
	c.op(0x42)
	c.w.s64(v)
	return c
}

func (c *Code) I32Eqz() *Code      { return c.op(0x45) }
func (c *Code) I32GtU() *Code      { return c.op(0x4B) }
func (c *Code) I64LtS() *Code      { return c.op(0x53) }
func (c *Code) I32Add() *Code      { return c.op(0x6A) }
func (c *Code) I32Sub() *Code      { return c.op(0x6B) }
func (c *Code) I32DivS() *Code     { return c.op(0x6D) }
func (c *Code) I32WrapI64() *Code  { return c.op(0xA7) }
func (c *Code) I64ExtendI32U() *Code { return c.op(0xAD) }

// Append copies the instructions of other onto c.
func (c *Code) Append(other *Code) *Code {
	c.w.raw(other.Bytes())
	return c
}
