package engine

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/wippyai/contract-runtime/errors"
	"github.com/wippyai/contract-runtime/internal/wasmgen"
	"github.com/wippyai/contract-runtime/wire"
)

type mapSecrets struct {
	m    map[string][]byte
	fail error
	mu   sync.Mutex
}

func newMapSecrets() *mapSecrets {
	return &mapSecrets{m: make(map[string][]byte)}
}

func (s *mapSecrets) Get(_ context.Context, name []byte) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, false, s.fail
	}
	v, ok := s.m[string(name)]
	return v, ok, nil
}

func (s *mapSecrets) Set(_ context.Context, name, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.m[string(name)] = append([]byte(nil), value...)
	return nil
}

func (s *mapSecrets) Remove(_ context.Context, name []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return false, s.fail
	}
	_, ok := s.m[string(name)]
	delete(s.m, string(name))
	return ok, nil
}

// process runs a delegate's process export and returns the decoded messages.
func process(ctx context.Context, eng *Engine, art *Artifact, params []byte) ([][]byte, error) {
	var out [][]byte
	err := eng.Run(ctx, art, DefaultLimits(), func(inst *Instance) error {
		ptr, err := inst.Place(params)
		if err != nil {
			return err
		}
		res, err := inst.Call(ExportProcess, uint64(ptr), uint64(len(params)), 0, 0)
		if err != nil {
			return err
		}
		d, err := readDescriptor(inst, uint32(res[0]))
		if err != nil {
			return err
		}
		payload, err := inst.Memory().Read(d.Ptr, d.Len)
		if err != nil {
			return err
		}
		msgs, err := wire.DecodeMessages(payload)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

func TestSecrets_EchoRoundTrip(t *testing.T) {
	eng := newEngine(t, Config{})
	art := mustLoad(t, eng, delegateCode(wasmgen.NewDelegate(true).Export(ExportProcess, 4, wasmgen.SecretEcho())))
	store := newMapSecrets()
	ctx := WithSecrets(context.Background(), store)

	msgs, err := process(ctx, eng, art, []byte("hunter2"))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("first call should emit nothing, got %q", msgs)
	}
	if string(store.m["k"]) != "hunter2" {
		t.Errorf("stored secret = %q", store.m["k"])
	}

	msgs, err = process(ctx, eng, art, []byte("ignored"))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || string(msgs[0]) != "hunter2" {
		t.Errorf("second call = %q", msgs)
	}
}

func TestSecrets_Isolation(t *testing.T) {
	eng := newEngine(t, Config{})
	art := mustLoad(t, eng, delegateCode(wasmgen.NewDelegate(true).Export(ExportProcess, 4, wasmgen.SecretEcho())))

	a, b := newMapSecrets(), newMapSecrets()
	if _, err := process(WithSecrets(context.Background(), a), eng, art, []byte("alpha")); err != nil {
		t.Fatal(err)
	}
	msgs, err := process(WithSecrets(context.Background(), b), eng, art, []byte("beta"))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("namespace b saw a secret from a: %q", msgs)
	}
	if string(b.m["k"]) != "beta" || string(a.m["k"]) != "alpha" {
		t.Errorf("a=%q b=%q", a.m["k"], b.m["k"])
	}
}

func TestSecrets_Remove(t *testing.T) {
	eng := newEngine(t, Config{})
	art := mustLoad(t, eng, delegateCode(wasmgen.NewDelegate(true).Export(ExportProcess, 4, wasmgen.SecretForget())))
	store := newMapSecrets()
	store.m["k"] = []byte("v")
	ctx := WithSecrets(context.Background(), store)

	for _, want := range []string{"removed", "missing"} {
		msgs, err := process(ctx, eng, art, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 1 || string(msgs[0]) != want {
			t.Errorf("got %q, want %q", msgs, want)
		}
	}
}

func TestSecrets_NoCapability(t *testing.T) {
	eng := newEngine(t, Config{})
	art := mustLoad(t, eng, delegateCode(wasmgen.NewDelegate(true).Export(ExportProcess, 4, wasmgen.SecretForget())))

	msgs, err := process(context.Background(), eng, art, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || string(msgs[0]) != "missing" {
		t.Errorf("unbound call should see no secrets, got %q", msgs)
	}
}

func TestSecrets_GuestPointerOutOfBounds(t *testing.T) {
	eng := newEngine(t, Config{})
	art := mustLoad(t, eng, delegateCode(wasmgen.NewDelegate(true).Export(ExportProcess, 4, wasmgen.SecretWild())))

	_, err := process(WithSecrets(context.Background(), newMapSecrets()), eng, art, nil)
	expectKind(t, err, errors.KindOutOfBoundsMemory)
}

func TestSecrets_StoreFailure(t *testing.T) {
	eng := newEngine(t, Config{})
	art := mustLoad(t, eng, delegateCode(wasmgen.NewDelegate(true).Export(ExportProcess, 4, wasmgen.SecretEcho())))
	store := newMapSecrets()
	store.fail = stderrors.New("disk on fire")

	_, err := process(WithSecrets(context.Background(), store), eng, art, []byte("x"))
	e := expectKind(t, err, errors.KindStore)
	if e.Detail != `secret "k"` {
		t.Errorf("Detail = %q", e.Detail)
	}
}
