package identity

import (
	"bytes"
	"testing"
)

func TestBlake2bDeterministic(t *testing.T) {
	h := Blake2b{}
	a := h.Hash([]byte("hello"), []byte("world"))
	b := h.Hash([]byte("helloworld"))
	if a != b {
		t.Fatalf("hash of parts must equal hash of concatenation: %s != %s", a, b)
	}
	if a.IsZero() {
		t.Fatal("hash must not be zero")
	}
}

func TestContractKeyDependsOnParams(t *testing.T) {
	code := []byte("\x00asm\x01\x00\x00\x00")
	k1 := NewContractKey(DefaultHasher, code, []byte("p1"))
	k2 := NewContractKey(DefaultHasher, code, []byte("p2"))

	if k1.CodeHash != k2.CodeHash {
		t.Error("code hash must not depend on parameters")
	}
	if k1.ID == k2.ID {
		t.Error("instance identity must depend on parameters")
	}

	k3 := ContractKeyFromCodeHash(DefaultHasher, k1.CodeHash, []byte("p1"))
	if k3 != k1 {
		t.Errorf("derived key mismatch: %v != %v", k3, k1)
	}
}

func TestParseRoundTrip(t *testing.T) {
	k := DefaultHasher.Hash([]byte("x"))
	parsed, err := Parse(k.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != k {
		t.Errorf("got %s, want %s", parsed, k)
	}
	if !bytes.Equal(k.Bytes(), k[:]) {
		t.Error("Bytes must copy the key")
	}
}

func TestFromBytesRejectsWrongLength(t *testing.T) {
	if _, err := FromBytes([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short key")
	}
	if _, err := Parse("zz"); err == nil {
		t.Fatal("expected error for invalid hex")
	}
}
