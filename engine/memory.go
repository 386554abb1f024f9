package engine

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"

	contractruntime "github.com/wippyai/contract-runtime"
)

var _ contractruntime.Memory = (*Memory)(nil)

// Memory wraps a guest's linear memory. Reads return copies so results
// survive instance teardown.
type Memory struct {
	mem api.Memory
}

func (m *Memory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Memory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d", offset)
	}
	return val, nil
}

func (m *Memory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return fmt.Errorf("write out of bounds: offset=%d", offset)
	}
	return nil
}

// Size returns the memory size in bytes.
func (m *Memory) Size() uint32 {
	return m.mem.Size()
}

// Pages returns the memory size in pages.
func (m *Memory) Pages() uint32 {
	return m.mem.Size() / PageSize
}

// Contains reports whether [offset, offset+length) is backed.
func (m *Memory) Contains(offset, length uint32) bool {
	return uint64(offset)+uint64(length) <= uint64(m.mem.Size())
}
