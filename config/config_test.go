package config

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wippyai/contract-runtime/errors"
	"github.com/wippyai/contract-runtime/secrets"
	"github.com/wippyai/contract-runtime/statestore"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runtime.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Limits.Timeout != Duration(5*time.Second) {
		t.Errorf("Timeout = %v", time.Duration(cfg.Limits.Timeout))
	}
	if cfg.Related.MaxRounds != 3 {
		t.Errorf("MaxRounds = %d", cfg.Related.MaxRounds)
	}
	if cfg.Cache.Shards != 16 {
		t.Errorf("Shards = %d", cfg.Cache.Shards)
	}
}

func TestLoadFile_Overlay(t *testing.T) {
	path := writeFile(t, `
[Engine]
MaxInstances = 8

[Limits]
Fuel = 5000
Timeout = "250ms"

[Cache]
MaxCost = 1048576

[State]
Backend = "dir"
Dir = "/var/lib/states"
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.MaxInstances != 8 || cfg.Cache.MaxCost != 1<<20 {
		t.Errorf("overlay not applied: %+v %+v", cfg.Engine, cfg.Cache)
	}
	if cfg.Cache.Shards != 16 {
		t.Errorf("unset field lost its default: Shards = %d", cfg.Cache.Shards)
	}
	lim := cfg.EngineLimits()
	if lim.Fuel != 5000 || lim.Timeout != 250*time.Millisecond {
		t.Errorf("limits = %+v", lim)
	}
	if got := cfg.ABIConfig().Limits; got != lim {
		t.Errorf("ABI limits = %+v", got)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", "[Cache]\nBogus = 1\n", "Bogus"},
		{"bad duration", "[Limits]\nTimeout = \"soon\"\n", "decode config"},
		{"unknown backend", "[Secrets]\nBackend = \"vault\"\n", "unknown backend"},
		{"leveldb without path", "[Secrets]\nBackend = \"leveldb\"\n", "needs Path"},
		{"postgres without url", "[State]\nBackend = \"postgres\"\n", "needs DatabaseURL"},
		{"bad log level", "[Log]\nLevel = \"loud\"\n", "log"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeFile(t, tt.body))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !stderrors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("err = %v, want invalid input", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	if !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Limits.Timeout = Duration(time.Minute)
	cfg.Secrets = SecretsConfig{Backend: BackendLevelDB, Path: "/tmp/secrets"}

	out, err := Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "1m0s") {
		t.Errorf("duration not rendered as text:\n%s", out)
	}

	back := Default()
	if err := Load(writeFile(t, string(out)), &back); err != nil {
		t.Fatal(err)
	}
	if back.Limits.Timeout != cfg.Limits.Timeout || back.Secrets != cfg.Secrets {
		t.Errorf("round trip changed config: %+v", back)
	}
}

func TestOpenCollaborators(t *testing.T) {
	ctx := context.Background()

	cfg := Default()
	store, err := cfg.OpenSecrets()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*secrets.Memory); !ok {
		t.Errorf("store = %T", store)
	}

	cfg.Secrets = SecretsConfig{Backend: BackendLevelDB, Path: filepath.Join(t.TempDir(), "db")}
	store, err = cfg.OpenSecrets()
	if err != nil {
		t.Fatal(err)
	}
	store.Close()

	fetcher, closeFn, err := cfg.OpenState(ctx)
	if err != nil || fetcher != nil {
		t.Fatalf("none backend = %v, %v", fetcher, err)
	}
	closeFn()

	cfg.State = StateConfig{Backend: BackendDir, Dir: t.TempDir(), Concurrency: 2}
	fetcher, closeFn, err = cfg.OpenState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if f, ok := fetcher.(statestore.Fanout); !ok || f.Limit != 2 {
		t.Errorf("fetcher = %#v", fetcher)
	}

	rc := cfg.RuntimeConfig(nil, fetcher, store)
	if rc.MaxRelatedRounds != 3 || rc.Fetcher == nil {
		t.Errorf("runtime config = %+v", rc)
	}
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "debug"
	log, err := cfg.Logger()
	if err != nil {
		t.Fatal(err)
	}
	if !log.Core().Enabled(-1) {
		t.Error("debug level not enabled")
	}
}
