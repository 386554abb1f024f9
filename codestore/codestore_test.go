package codestore

import (
	"bytes"
	stderrors "errors"
	"path/filepath"
	"testing"

	contractruntime "github.com/wippyai/contract-runtime"
	"github.com/wippyai/contract-runtime/errors"
	"github.com/wippyai/contract-runtime/identity"
)

func sample(n int) contractruntime.Code {
	return contractruntime.Code{
		Version: "0.1.0",
		Kind:    contractruntime.KindContract,
		Bytes:   bytes.Repeat([]byte{0x00, 0x61, 0x73, 0x6d}, n),
	}
}

func TestPutGet(t *testing.T) {
	tests := []struct {
		name string
		code contractruntime.Code
	}{
		{"small", sample(4)},
		{"larger than one chunk", sample(64 << 10)},
		{"delegate", contractruntime.Code{Version: "0.1.0", Kind: contractruntime.KindDelegate, Bytes: []byte("delegate")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(Config{})
			defer r.Close()

			h, err := r.Put(tt.code)
			if err != nil {
				t.Fatal(err)
			}
			if h != identity.DefaultHasher.Hash(tt.code.Bytes) {
				t.Errorf("hash = %s", h)
			}
			if !r.Has(h) {
				t.Error("Has = false after Put")
			}
			got, ok, err := r.Get(h)
			if err != nil || !ok {
				t.Fatalf("Get: ok=%v err=%v", ok, err)
			}
			if got.Kind != tt.code.Kind || got.Version != tt.code.Version || !bytes.Equal(got.Bytes, tt.code.Bytes) {
				t.Errorf("Get returned a different module")
			}
		})
	}
}

func TestPutReplacesKindAndVersion(t *testing.T) {
	r := New(Config{})
	defer r.Close()

	code := sample(4)
	h, err := r.Put(code)
	if err != nil {
		t.Fatal(err)
	}
	code.Version = "0.1.1"
	code.Kind = contractruntime.KindDelegate
	if _, err := r.Put(code); err != nil {
		t.Fatal(err)
	}
	got, ok, err := r.Get(h)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Version != "0.1.1" || got.Kind != contractruntime.KindDelegate {
		t.Errorf("Get = %s %s, want the second registration", got.Kind, got.Version)
	}
}

func TestGetMissing(t *testing.T) {
	r := New(Config{})
	defer r.Close()
	_, ok, err := r.Get(identity.DefaultHasher.Hash([]byte("nothing")))
	if ok || err != nil {
		t.Errorf("ok=%v err=%v", ok, err)
	}
}

func TestPutRejects(t *testing.T) {
	r := New(Config{})
	defer r.Close()

	tests := []struct {
		name string
		code contractruntime.Code
	}{
		{"unknown kind", contractruntime.Code{Version: "0.1.0", Bytes: []byte("x")}},
		{"empty", contractruntime.Code{Version: "0.1.0", Kind: contractruntime.KindContract}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Put(tt.code)
			if !stderrors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestPutVerified(t *testing.T) {
	r := New(Config{})
	defer r.Close()
	code := sample(8)

	wrong := identity.DefaultHasher.Hash([]byte("other"))
	if err := r.PutVerified(wrong, code); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
	if r.Has(wrong) || r.Has(identity.DefaultHasher.Hash(code.Bytes)) {
		t.Fatal("mismatched code was stored")
	}

	if err := r.PutVerified(identity.DefaultHasher.Hash(code.Bytes), code); err != nil {
		t.Fatal(err)
	}
}

func TestCorruptEntryDropped(t *testing.T) {
	r := New(Config{})
	defer r.Close()
	h := identity.DefaultHasher.Hash([]byte("forged"))
	r.cache.SetBig(h[:], []byte("not snappy at all"))

	_, ok, err := r.Get(h)
	if ok || !stderrors.Is(err, errors.ErrStore) {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if r.Has(h) {
		t.Error("corrupt entry kept")
	}
}

func TestJournal(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "codes")
	code := sample(16)

	r := New(Config{Journal: dir})
	h, err := r.Put(code)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := New(Config{Journal: dir})
	defer reopened.Close()
	got, ok, err := reopened.Get(h)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got.Bytes, code.Bytes) {
		t.Error("journal returned different bytes")
	}
}

func TestStats(t *testing.T) {
	r := New(Config{})
	defer r.Close()
	h, _ := r.Put(sample(2))
	r.Get(h)
	r.Get(identity.DefaultHasher.Hash([]byte("missing")))

	s := r.Stats()
	if s.Gets < 2 {
		t.Errorf("Gets = %d", s.Gets)
	}
	if s.Entries == 0 {
		t.Errorf("Entries = %d", s.Entries)
	}
}
