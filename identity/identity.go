// Package identity defines content-derived keys for contracts and delegates.
//
// The runtime never hashes on its own: every digest is requested from a
// Hasher supplied by the caller, so nodes can plug in whatever primitive the
// network agreed on. Blake2b is the default.
package identity

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Size is the length of every key in bytes.
const Size = 32

// Key is a fixed-length opaque digest.
type Key [Size]byte

// String returns the lowercase hex form of the key.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Short returns the first 8 hex characters, for logs.
func (k Key) Short() string {
	return hex.EncodeToString(k[:4])
}

// IsZero reports whether the key is unset.
func (k Key) IsZero() bool {
	return k == Key{}
}

// Bytes returns a copy of the key as a slice.
func (k Key) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, k[:])
	return b
}

// FromBytes converts a Size-byte slice into a Key.
func FromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != Size {
		return k, fmt.Errorf("identity: key must be %d bytes, got %d", Size, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// Parse decodes the hex form produced by String.
func Parse(s string) (Key, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("identity: decode %q: %w", s, err)
	}
	return FromBytes(b)
}

// Hasher is the cryptography collaborator. Hash must be deterministic and
// must treat parts as a plain concatenation.
type Hasher interface {
	Hash(parts ...[]byte) Key
}

// HasherFunc adapts a function to Hasher.
type HasherFunc func(parts ...[]byte) Key

func (f HasherFunc) Hash(parts ...[]byte) Key { return f(parts...) }

// Blake2b hashes with BLAKE2b-256.
type Blake2b struct{}

func (Blake2b) Hash(parts ...[]byte) Key {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write(p)
	}
	var k Key
	h.Sum(k[:0])
	return k
}

// DefaultHasher is used when a caller does not provide one.
var DefaultHasher Hasher = Blake2b{}

// ContractKey identifies one contract instance: the code it runs and the
// parameters it was bound with.
type ContractKey struct {
	ID       Key
	CodeHash Key
}

// NewContractKey hashes code and derives the instance identity from the code
// hash and parameters.
func NewContractKey(h Hasher, code, params []byte) ContractKey {
	codeHash := h.Hash(code)
	return ContractKey{
		ID:       h.Hash(codeHash[:], params),
		CodeHash: codeHash,
	}
}

// ContractKeyFromCodeHash derives the instance identity when only the code
// hash is known.
func ContractKeyFromCodeHash(h Hasher, codeHash Key, params []byte) ContractKey {
	return ContractKey{
		ID:       h.Hash(codeHash[:], params),
		CodeHash: codeHash,
	}
}

func (k ContractKey) String() string {
	return k.ID.String()
}

// DelegateKey identifies one delegate instance. Secrets are partitioned by ID.
type DelegateKey struct {
	ID       Key
	CodeHash Key
}

// NewDelegateKey hashes code and derives the delegate identity from the code
// hash and parameters.
func NewDelegateKey(h Hasher, code, params []byte) DelegateKey {
	codeHash := h.Hash(code)
	return DelegateKey{
		ID:       h.Hash(codeHash[:], params),
		CodeHash: codeHash,
	}
}

// DelegateKeyFromCodeHash derives the delegate identity when only the code
// hash is known.
func DelegateKeyFromCodeHash(h Hasher, codeHash Key, params []byte) DelegateKey {
	return DelegateKey{
		ID:       h.Hash(codeHash[:], params),
		CodeHash: codeHash,
	}
}

func (k DelegateKey) String() string {
	return k.ID.String()
}
