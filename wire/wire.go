// Package wire implements the length-prefixed encodings exchanged between
// the host and guest modules.
//
// Every integer is a u32 in little-endian order:
//
//	buffer    len || bytes
//	id set    count || (len || id)*
//	related   count || (len || id || present u8 || [len || state])*
//	messages  count || (len || payload)*
//	code      len || version || kind u8 || len || wasm
//
// Result descriptors returned by ABI exports are a fixed 12-byte record
// {status, ptr, len}.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	contractruntime "github.com/wippyai/contract-runtime"
	"github.com/wippyai/contract-runtime/identity"
)

// DescriptorSize is the encoded size of a Descriptor.
const DescriptorSize = 12

var (
	// ErrTruncated is returned when the input ends before a declared length.
	ErrTruncated = errors.New("wire: truncated input")
	// ErrTrailing is returned when bytes remain after a complete value.
	ErrTrailing = errors.New("wire: trailing bytes")
	// ErrBadKey is returned when an id has the wrong length.
	ErrBadKey = errors.New("wire: malformed key")
	// ErrBadKind is returned when a code container names an unknown kind.
	ErrBadKind = errors.New("wire: unknown module kind")
)

var le = binary.LittleEndian

// Descriptor is the record an ABI export returns a pointer to.
type Descriptor struct {
	Status uint32
	Ptr    uint32
	Len    uint32
}

// End returns the first byte past the described region, or false if the
// region wraps the 32-bit address space.
func (d Descriptor) End() (uint32, bool) {
	end := uint64(d.Ptr) + uint64(d.Len)
	if end > 1<<32-1 {
		return 0, false
	}
	return uint32(end), true
}

// AppendDescriptor appends the encoded descriptor to dst.
func AppendDescriptor(dst []byte, d Descriptor) []byte {
	dst = le.AppendUint32(dst, d.Status)
	dst = le.AppendUint32(dst, d.Ptr)
	return le.AppendUint32(dst, d.Len)
}

// DecodeDescriptor decodes a 12-byte descriptor.
func DecodeDescriptor(b []byte) (Descriptor, error) {
	if len(b) < DescriptorSize {
		return Descriptor{}, fmt.Errorf("descriptor of %d bytes: %w", len(b), ErrTruncated)
	}
	return Descriptor{
		Status: le.Uint32(b[0:]),
		Ptr:    le.Uint32(b[4:]),
		Len:    le.Uint32(b[8:]),
	}, nil
}

// AppendBuffer appends len || b to dst.
func AppendBuffer(dst, b []byte) []byte {
	dst = le.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

// DecodeBuffer decodes exactly one length-prefixed buffer.
func DecodeBuffer(b []byte) ([]byte, error) {
	r := reader{buf: b}
	out, err := r.buffer()
	if err != nil {
		return nil, err
	}
	return out, r.done()
}

// EncodeIDSet encodes a list of keys.
func EncodeIDSet(keys []identity.Key) []byte {
	out := make([]byte, 0, 4+len(keys)*(4+identity.Size))
	out = le.AppendUint32(out, uint32(len(keys)))
	for _, k := range keys {
		out = AppendBuffer(out, k[:])
	}
	return out
}

// DecodeIDSet decodes a list of keys. Duplicates are dropped, first
// occurrence wins.
func DecodeIDSet(b []byte) ([]identity.Key, error) {
	r := reader{buf: b}
	n, err := r.count(4)
	if err != nil {
		return nil, err
	}
	keys := make([]identity.Key, 0, n)
	seen := make(map[identity.Key]struct{}, n)
	for i := 0; i < n; i++ {
		k, err := r.key()
		if err != nil {
			return nil, fmt.Errorf("id %d: %w", i, err)
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys, r.done()
}

// EncodeRelated encodes related contract states in ascending key order.
func EncodeRelated(related contractruntime.RelatedContracts) []byte {
	keys := make([]identity.Key, 0, len(related))
	size := 4
	for k, s := range related {
		keys = append(keys, k)
		size += 4 + identity.Size + 1 + 4 + len(s)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})

	out := make([]byte, 0, size)
	out = le.AppendUint32(out, uint32(len(keys)))
	for _, k := range keys {
		out = AppendBuffer(out, k[:])
		s := related[k]
		if s == nil {
			out = append(out, 0)
			continue
		}
		out = append(out, 1)
		out = AppendBuffer(out, s)
	}
	return out
}

// DecodeRelated decodes related contract states.
func DecodeRelated(b []byte) (contractruntime.RelatedContracts, error) {
	r := reader{buf: b}
	n, err := r.count(4 + 1)
	if err != nil {
		return nil, err
	}
	out := make(contractruntime.RelatedContracts, n)
	for i := 0; i < n; i++ {
		k, err := r.key()
		if err != nil {
			return nil, fmt.Errorf("related %d: %w", i, err)
		}
		present, err := r.u8()
		if err != nil {
			return nil, err
		}
		switch present {
		case 0:
			out[k] = nil
		case 1:
			s, err := r.buffer()
			if err != nil {
				return nil, fmt.Errorf("related %d state: %w", i, err)
			}
			out[k] = contractruntime.State(s)
		default:
			return nil, fmt.Errorf("related %d: presence flag %d", i, present)
		}
	}
	return out, r.done()
}

// EncodeMessages encodes a list of delegate messages.
func EncodeMessages(msgs []contractruntime.Message) []byte {
	size := 4
	for _, m := range msgs {
		size += 4 + len(m)
	}
	out := make([]byte, 0, size)
	out = le.AppendUint32(out, uint32(len(msgs)))
	for _, m := range msgs {
		out = AppendBuffer(out, m)
	}
	return out
}

// DecodeMessages decodes a list of delegate messages.
func DecodeMessages(b []byte) ([]contractruntime.Message, error) {
	r := reader{buf: b}
	n, err := r.count(4)
	if err != nil {
		return nil, err
	}
	out := make([]contractruntime.Message, 0, n)
	for i := 0; i < n; i++ {
		m, err := r.buffer()
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, contractruntime.Message(m))
	}
	return out, r.done()
}

// EncodeCode wraps a module binary with its declared version and kind.
func EncodeCode(c contractruntime.Code) []byte {
	out := make([]byte, 0, 4+len(c.Version)+1+4+len(c.Bytes))
	out = AppendBuffer(out, []byte(c.Version))
	out = append(out, byte(c.Kind))
	return AppendBuffer(out, c.Bytes)
}

// DecodeCode unwraps a code container.
func DecodeCode(b []byte) (contractruntime.Code, error) {
	r := reader{buf: b}
	version, err := r.buffer()
	if err != nil {
		return contractruntime.Code{}, fmt.Errorf("version: %w", err)
	}
	kb, err := r.u8()
	if err != nil {
		return contractruntime.Code{}, fmt.Errorf("kind: %w", err)
	}
	kind := contractruntime.Kind(kb)
	if !kind.Valid() {
		return contractruntime.Code{}, fmt.Errorf("kind %d: %w", kb, ErrBadKind)
	}
	wasm, err := r.buffer()
	if err != nil {
		return contractruntime.Code{}, fmt.Errorf("module: %w", err)
	}
	if err := r.done(); err != nil {
		return contractruntime.Code{}, err
	}
	return contractruntime.Code{
		Version: string(version),
		Kind:    kind,
		Bytes:   wasm,
	}, nil
}

// reader walks an input buffer. Decoded slices are copies so callers may
// keep them after the source is reused.
type reader struct {
	buf []byte
	off int
}

func (r *reader) u32() (uint32, error) {
	if len(r.buf)-r.off < 4 {
		return 0, ErrTruncated
	}
	v := le.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) u8() (byte, error) {
	if r.off >= len(r.buf) {
		return 0, ErrTruncated
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) buffer() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(len(r.buf)-r.off) {
		return nil, ErrTruncated
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:])
	r.off += int(n)
	return out, nil
}

func (r *reader) key() (identity.Key, error) {
	b, err := r.buffer()
	if err != nil {
		return identity.Key{}, err
	}
	k, err := identity.FromBytes(b)
	if err != nil {
		return identity.Key{}, ErrBadKey
	}
	return k, nil
}

// count reads an element count and rejects counts the remaining input
// cannot possibly hold, given each element needs at least minElem bytes.
func (r *reader) count(minElem int) (int, error) {
	n, err := r.u32()
	if err != nil {
		return 0, err
	}
	if uint64(n)*uint64(minElem) > uint64(len(r.buf)-r.off) {
		return 0, ErrTruncated
	}
	return int(n), nil
}

func (r *reader) done() error {
	if r.off != len(r.buf) {
		return fmt.Errorf("%d bytes: %w", len(r.buf)-r.off, ErrTrailing)
	}
	return nil
}
