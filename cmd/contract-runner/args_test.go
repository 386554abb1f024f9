package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	contractruntime "github.com/wippyai/contract-runtime"
	"github.com/wippyai/contract-runtime/engine"
	"github.com/wippyai/contract-runtime/identity"
	"github.com/wippyai/contract-runtime/internal/wasmgen"
	"github.com/wippyai/contract-runtime/wire"
)

func TestDecodeArg(t *testing.T) {
	file := filepath.Join(t.TempDir(), "state.bin")
	if err := os.WriteFile(file, []byte{1, 2, 3}, 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		in      string
		want    []byte
		wantErr bool
	}{
		{"empty", "", []byte{}, false},
		{"literal", "hello", []byte("hello"), false},
		{"hex", "hex:deadbeef", []byte{0xde, 0xad, 0xbe, 0xef}, false},
		{"bad hex", "hex:zz", nil, true},
		{"base64", "base64:AQID", []byte{1, 2, 3}, false},
		{"bad base64", "base64:!!", nil, true},
		{"file", "@" + file, []byte{1, 2, 3}, false},
		{"missing file", "@" + file + ".absent", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeArg(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeCode(t *testing.T) {
	raw := wasmgen.NewContract().Bytes()
	container := wire.EncodeCode(contractruntime.Code{Version: "0.1.0", Kind: contractruntime.KindDelegate, Bytes: raw})

	tests := []struct {
		name     string
		in       []byte
		kind     string
		wantKind contractruntime.Kind
		wantErr  string
	}{
		{"raw contract", raw, "contract", contractruntime.KindContract, ""},
		{"raw delegate, any case", raw, "Delegate", contractruntime.KindDelegate, ""},
		{"raw without kind", raw, "", 0, "--kind"},
		{"raw with bad kind", raw, "plugin", 0, "unknown module kind"},
		{"container", container, "", contractruntime.KindDelegate, ""},
		{"container kind agrees", container, "delegate", contractruntime.KindDelegate, ""},
		{"container kind disagrees", container, "contract", 0, "container holds"},
		{"garbage", []byte("not a module"), "", 0, "neither wasm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := decodeCode(tt.in, tt.kind, engine.HostABIVersion)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if code.Kind != tt.wantKind || !bytes.Equal(code.Bytes, raw) {
				t.Errorf("code = %s, %d bytes", code.Kind, len(code.Bytes))
			}
		})
	}
}

func TestParseRelated(t *testing.T) {
	a := identity.DefaultHasher.Hash([]byte("a"))
	b := identity.DefaultHasher.Hash([]byte("b"))

	rel, err := parseRelated([]string{a.String() + "=hex:0102", b.String()})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(rel[a], []byte{1, 2}) {
		t.Errorf("rel[a] = %v", rel[a])
	}
	if v, ok := rel[b]; !ok || v != nil {
		t.Errorf("rel[b] = %v, present %v", v, ok)
	}

	for _, bad := range []string{"nothex=1", "abcd=1", a.String() + "=hex:x"} {
		if _, err := parseRelated([]string{bad}); err == nil {
			t.Errorf("parseRelated(%q) succeeded", bad)
		}
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{nil, "(empty)"},
		{[]byte("ok"), `"ok"`},
		{[]byte("two\nlines"), `"two\nlines"`},
		{[]byte{0, 1, 0xff}, "hex:0001ff"},
	}
	for _, tt := range tests {
		if got := render(tt.in); got != tt.want {
			t.Errorf("render(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFieldsFor(t *testing.T) {
	for _, kind := range []contractruntime.Kind{contractruntime.KindContract, contractruntime.KindDelegate} {
		for _, export := range entryPoints(kind) {
			if len(fieldsFor(export)) == 0 {
				t.Errorf("%s offers no inputs", export)
			}
		}
	}
}
