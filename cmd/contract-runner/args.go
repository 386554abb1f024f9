package main

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	contractruntime "github.com/wippyai/contract-runtime"
	"github.com/wippyai/contract-runtime/identity"
	"github.com/wippyai/contract-runtime/wire"
)

// wasmMagic starts every WebAssembly binary.
var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

// decodeArg turns a command-line buffer into bytes.
func decodeArg(s string) ([]byte, error) {
	switch {
	case strings.HasPrefix(s, "hex:"):
		b, err := hex.DecodeString(strings.TrimPrefix(s, "hex:"))
		if err != nil {
			return nil, fmt.Errorf("decode %q: %w", s, err)
		}
		return b, nil
	case strings.HasPrefix(s, "base64:"):
		b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, "base64:"))
		if err != nil {
			return nil, fmt.Errorf("decode %q: %w", s, err)
		}
		return b, nil
	case strings.HasPrefix(s, "@"):
		b, err := os.ReadFile(strings.TrimPrefix(s, "@"))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", strings.TrimPrefix(s, "@"), err)
		}
		return b, nil
	default:
		return []byte(s), nil
	}
}

func parseKind(s string) (contractruntime.Kind, error) {
	switch strings.ToLower(s) {
	case "contract":
		return contractruntime.KindContract, nil
	case "delegate":
		return contractruntime.KindDelegate, nil
	default:
		return 0, fmt.Errorf("unknown module kind %q (want contract or delegate)", s)
	}
}

// decodeCode reads a code container, or raw WebAssembly described by kind
// and version.
func decodeCode(b []byte, kind, version string) (contractruntime.Code, error) {
	if len(b) >= len(wasmMagic) && string(b[:len(wasmMagic)]) == string(wasmMagic) {
		if kind == "" {
			return contractruntime.Code{}, fmt.Errorf("raw wasm needs --kind")
		}
		k, err := parseKind(kind)
		if err != nil {
			return contractruntime.Code{}, err
		}
		return contractruntime.Code{Version: version, Kind: k, Bytes: b}, nil
	}
	code, err := wire.DecodeCode(b)
	if err != nil {
		return contractruntime.Code{}, fmt.Errorf("neither wasm nor a code container: %w", err)
	}
	if kind != "" {
		k, err := parseKind(kind)
		if err != nil {
			return contractruntime.Code{}, err
		}
		if k != code.Kind {
			return contractruntime.Code{}, fmt.Errorf("container holds %s code, --kind says %s", code.Kind, k)
		}
	}
	return code, nil
}

func readCode(path string) (contractruntime.Code, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return contractruntime.Code{}, fmt.Errorf("read module: %w", err)
	}
	return decodeCode(b, kindFlag, abiVersion)
}

// parseRelated decodes id=state pairs. An id without "=" is declared
// with no state.
func parseRelated(pairs []string) (contractruntime.RelatedContracts, error) {
	out := make(contractruntime.RelatedContracts, len(pairs))
	for _, p := range pairs {
		id, value, hasState := strings.Cut(p, "=")
		key, err := identity.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("related %q: %w", p, err)
		}
		if !hasState {
			out[key] = nil
			continue
		}
		state, err := decodeArg(value)
		if err != nil {
			return nil, err
		}
		out[key] = state
	}
	return out, nil
}

func decodeMessages(args []string) ([]contractruntime.Message, error) {
	out := make([]contractruntime.Message, 0, len(args))
	for _, a := range args {
		b, err := decodeArg(a)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// render shows b as quoted text when it is printable UTF-8, as hex otherwise.
func render(b []byte) string {
	if len(b) == 0 {
		return "(empty)"
	}
	if utf8.Valid(b) {
		printable := true
		for _, r := range string(b) {
			if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
				printable = false
				break
			}
		}
		if printable {
			return fmt.Sprintf("%q", b)
		}
	}
	return "hex:" + hex.EncodeToString(b)
}
