package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/wippyai/contract-runtime/engine"
	"github.com/wippyai/contract-runtime/internal/wasmgen"
)

// execute runs one command line. Flags left over from an earlier
// invocation are reset first, since the commands are package globals.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func writeModule(t *testing.T, g *wasmgen.Guest) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "module.wasm")
	if err := os.WriteFile(path, g.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCommands(t *testing.T) {
	contract := writeModule(t, wasmgen.NewContract().
		Export(engine.ExportUpdateState, 6, wasmgen.Echo(0, 2)).
		Export(engine.ExportGetStateDelta, 6, wasmgen.Echo(0, 1)).
		Export(engine.ExportUpdateFromSummary, 6, wasmgen.Echo(0, 2)))
	delegate := writeModule(t, wasmgen.NewDelegate(false).Export(engine.ExportProcess, 4, wasmgen.Echo(0, 1)))

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"validate", []string{"validate", contract, "--kind", "contract", "--state", "s"}, []string{"valid"}},
		{"update", []string{"update", contract, "--kind", "contract", "--delta", "next"}, []string{`"next"`}},
		{"summarize", []string{"summarize", contract, "--kind", "contract", "--state", "abc"}, []string{"(empty)"}},
		{"delta", []string{"delta", contract, "--kind", "contract", "--state", "hex:00ff"}, []string{"hex:00ff"}},
		{"merge", []string{"merge", contract, "--kind", "contract", "--state", "old", "--summary", "merged"}, []string{`"merged"`}},
		{"process", []string{"process", delegate, "--kind", "delegate", "--message", "a", "--message", "b"}, []string{"2", `"a"`, `"b"`}},
		{"inspect", []string{"inspect", contract, "--kind", "contract"}, []string{"validate_state", "code hash"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if err != nil {
				t.Fatal(err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output %q lacks %q", out, w)
				}
			}
		})
	}
}

func TestInspectPack(t *testing.T) {
	contract := writeModule(t, wasmgen.NewContract())
	packed := filepath.Join(t.TempDir(), "module.code")

	if _, err := execute(t, "inspect", contract, "--kind", "contract", "--pack", packed); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "summarize", packed, "--state", "abc")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "summary") {
		t.Errorf("output = %q", out)
	}
}

func TestCommandErrors(t *testing.T) {
	contract := writeModule(t, wasmgen.NewContract().Without(engine.ExportSummarizeState))

	if _, err := execute(t, "summarize", contract, "--kind", "contract"); err == nil || !strings.Contains(err.Error(), "missing_export") {
		t.Errorf("err = %v", err)
	}
	if _, err := execute(t, "validate", contract); err == nil || !strings.Contains(err.Error(), "--kind") {
		t.Errorf("flags leaked into the next invocation: err = %v", err)
	}

	plain := writeModule(t, wasmgen.NewContract())
	if _, err := execute(t, "merge", plain, "--kind", "contract"); err == nil || !strings.Contains(err.Error(), engine.ExportUpdateFromSummary) {
		t.Errorf("err = %v", err)
	}
}
