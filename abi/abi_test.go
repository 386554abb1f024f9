package abi

import (
	"bytes"
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	contractruntime "github.com/wippyai/contract-runtime"
	"github.com/wippyai/contract-runtime/engine"
	"github.com/wippyai/contract-runtime/errors"
	"github.com/wippyai/contract-runtime/identity"
	"github.com/wippyai/contract-runtime/internal/wasmgen"
	"github.com/wippyai/contract-runtime/secrets"
	"github.com/wippyai/contract-runtime/wire"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.New(context.Background(), engine.Config{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	return eng
}

func load(t *testing.T, eng *engine.Engine, kind contractruntime.Kind, g *wasmgen.Guest) *engine.Artifact {
	t.Helper()
	art, err := eng.Load(context.Background(), contractruntime.Code{
		Version: engine.HostABIVersion,
		Kind:    kind,
		Bytes:   g.Bytes(),
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(art.Release)
	return art
}

func expectKind(t *testing.T, err error, want errors.Kind) *errors.Error {
	t.Helper()
	var e *errors.Error
	if !stderrors.As(err, &e) {
		t.Fatalf("expected %s, got %v", want, err)
	}
	if e.Kind != want {
		t.Fatalf("kind = %s, want %s (%v)", e.Kind, want, err)
	}
	return e
}

// roundTrip is a contract whose update replaces the state with the delta
// and whose delta is the full state.
func roundTrip() *wasmgen.Guest {
	return wasmgen.NewContract().
		Export(engine.ExportUpdateState, 6, wasmgen.Echo(0, 2)).
		Export(engine.ExportGetStateDelta, 6, wasmgen.Echo(0, 1))
}

func TestValidateState(t *testing.T) {
	eng := newEngine(t)
	c := NewContract(eng, Config{})
	ctx := context.Background()
	id := identity.DefaultHasher.Hash([]byte("dep"))

	tests := []struct {
		name string
		body wasmgen.Body
		want contractruntime.Outcome
	}{
		{"always valid", wasmgen.Status(0), contractruntime.Valid},
		{"always invalid", wasmgen.Status(1), contractruntime.Invalid},
		{"needs related", wasmgen.RequireRelated(wire.EncodeIDSet([]identity.Key{id})), contractruntime.RequiresRelated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			art := load(t, eng, contractruntime.KindContract, wasmgen.NewContract().Export(engine.ExportValidateState, 6, tt.body))
			res, err := c.ValidateState(ctx, art, []byte("any params"), []byte("any state"), nil)
			if err != nil {
				t.Fatal(err)
			}
			if res.Outcome != tt.want {
				t.Errorf("Outcome = %s, want %s", res.Outcome, tt.want)
			}
			if tt.want == contractruntime.RequiresRelated && (len(res.Missing) != 1 || res.Missing[0] != id) {
				t.Errorf("Missing = %v", res.Missing)
			}
		})
	}
}

func TestValidateState_RelatedSupplied(t *testing.T) {
	eng := newEngine(t)
	c := NewContract(eng, Config{})
	id := identity.DefaultHasher.Hash([]byte("dep"))
	art := load(t, eng, contractruntime.KindContract,
		wasmgen.NewContract().Export(engine.ExportValidateState, 6, wasmgen.RequireRelated(wire.EncodeIDSet([]identity.Key{id}))))

	res, err := c.ValidateState(context.Background(), art, nil, []byte("s"), contractruntime.RelatedContracts{id: []byte("dep state")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != contractruntime.Valid {
		t.Errorf("Outcome = %s", res.Outcome)
	}
}

func TestValidateState_BadOutput(t *testing.T) {
	eng := newEngine(t)
	c := NewContract(eng, Config{})

	tests := []struct {
		name string
		body wasmgen.Body
	}{
		{"empty related set", wasmgen.Payload(2, wire.EncodeIDSet(nil))},
		{"garbled related set", wasmgen.Payload(2, []byte{9, 9})},
		{"unknown status", wasmgen.Status(42)},
		{"dangling descriptor", wasmgen.DanglingDescriptor()},
		{"region past memory", wasmgen.Region(0, 60000, 10000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			art := load(t, eng, contractruntime.KindContract, wasmgen.NewContract().Export(engine.ExportValidateState, 6, tt.body))
			_, err := c.ValidateState(context.Background(), art, nil, nil, nil)
			e := expectKind(t, err, errors.KindInvalidOutput)
			if e.Export != engine.ExportValidateState {
				t.Errorf("Export = %q", e.Export)
			}
		})
	}
}

func TestUpdateState_Deterministic(t *testing.T) {
	eng := newEngine(t)
	c := NewContract(eng, Config{})
	art := load(t, eng, contractruntime.KindContract, roundTrip())

	params := []byte("p")
	state := []byte("state")
	delta := []byte("delta bytes")

	first, err := c.UpdateState(context.Background(), art, params, state, delta)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.UpdateState(context.Background(), art, params, state, delta)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first.State, second.State) {
		t.Errorf("non-deterministic update: %q vs %q", first.State, second.State)
	}
	if !first.Changed || string(first.State) != "delta bytes" {
		t.Errorf("result = %+v", first)
	}
}

func TestRoundTrip_EmptySummary(t *testing.T) {
	eng := newEngine(t)
	c := NewContract(eng, Config{})
	art := load(t, eng, contractruntime.KindContract, roundTrip())
	ctx := context.Background()
	params := []byte("p")
	state := bytes.Repeat([]byte("full state "), 200)

	summary, err := c.SummarizeState(ctx, art, params, nil)
	if err != nil {
		t.Fatal(err)
	}
	delta, err := c.GetStateDelta(ctx, art, params, state, summary)
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.UpdateState(ctx, art, params, nil, delta)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(res.State, state) {
		t.Errorf("round trip lost data: got %d bytes, want %d", len(res.State), len(state))
	}
}

func TestUpdateState_Outcomes(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	state := contractruntime.State("old")

	t.Run("no change keeps the state", func(t *testing.T) {
		c := NewContract(eng, Config{})
		art := load(t, eng, contractruntime.KindContract, wasmgen.NewContract())
		res, err := c.UpdateState(ctx, art, nil, state, []byte("d"))
		if err != nil {
			t.Fatal(err)
		}
		if res.Changed || string(res.State) != "old" {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		c := NewContract(eng, Config{})
		art := load(t, eng, contractruntime.KindContract,
			wasmgen.NewContract().Export(engine.ExportUpdateState, 6, wasmgen.Payload(1, []byte("bad signature"))))
		_, err := c.UpdateState(ctx, art, nil, state, []byte("d"))
		e := expectKind(t, err, errors.KindLogicRejected)
		if !strings.Contains(e.Detail, "bad signature") {
			t.Errorf("Detail = %q", e.Detail)
		}
		if !errors.IsRejected(err) {
			t.Error("rejections belong to the rejected family")
		}
	})

	t.Run("oversized new state", func(t *testing.T) {
		c := NewContract(eng, Config{MaxStateSize: 100})
		art := load(t, eng, contractruntime.KindContract,
			wasmgen.NewContract().Export(engine.ExportUpdateState, 6, wasmgen.Region(0, 0, 1000)))
		before := append(contractruntime.State(nil), state...)
		_, err := c.UpdateState(ctx, art, nil, state, []byte("d"))
		expectKind(t, err, errors.KindTooLarge)
		if !bytes.Equal(state, before) {
			t.Error("caller's state was modified")
		}
	})

	t.Run("oversized input", func(t *testing.T) {
		c := NewContract(eng, Config{MaxStateSize: 4})
		art := load(t, eng, contractruntime.KindContract, wasmgen.NewContract())
		_, err := c.UpdateState(ctx, art, nil, state, []byte("too long delta"))
		expectKind(t, err, errors.KindTooLarge)
	})

	t.Run("unknown status", func(t *testing.T) {
		c := NewContract(eng, Config{})
		art := load(t, eng, contractruntime.KindContract,
			wasmgen.NewContract().Export(engine.ExportUpdateState, 6, wasmgen.Status(2)))
		_, err := c.UpdateState(ctx, art, nil, state, nil)
		expectKind(t, err, errors.KindInvalidOutput)
	})

	t.Run("trap", func(t *testing.T) {
		c := NewContract(eng, Config{})
		art := load(t, eng, contractruntime.KindContract,
			wasmgen.NewContract().Export(engine.ExportUpdateState, 6, wasmgen.Trap()))
		_, err := c.UpdateState(ctx, art, nil, state, nil)
		e := expectKind(t, err, errors.KindIllegalOp)
		if e.Export != engine.ExportUpdateState {
			t.Errorf("Export = %q", e.Export)
		}
	})
}

func TestSummarizeState_LargerThanState(t *testing.T) {
	eng := newEngine(t)
	c := NewContract(eng, Config{})
	art := load(t, eng, contractruntime.KindContract,
		wasmgen.NewContract().Export(engine.ExportSummarizeState, 4, wasmgen.Payload(0, []byte("0123456789"))))

	_, err := c.SummarizeState(context.Background(), art, nil, []byte("abc"))
	expectKind(t, err, errors.KindInvalidOutput)

	sum, err := c.SummarizeState(context.Background(), art, nil, bytes.Repeat([]byte("x"), 64))
	if err != nil {
		t.Fatal(err)
	}
	if string(sum) != "0123456789" {
		t.Errorf("summary = %q", sum)
	}
}

func TestValidateDelta(t *testing.T) {
	eng := newEngine(t)
	c := NewContract(eng, Config{})
	ctx := context.Background()

	without := load(t, eng, contractruntime.KindContract, wasmgen.NewContract())
	_, err := c.ValidateDelta(ctx, without, nil, []byte("d"))
	expectKind(t, err, errors.KindMissingExport)

	with := load(t, eng, contractruntime.KindContract,
		wasmgen.NewContract().Export(engine.ExportValidateDelta, 4, wasmgen.Status(1)))
	ok, err := c.ValidateDelta(ctx, with, nil, []byte("d"))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("delta should be invalid")
	}
}

func TestUpdateStateFromSummary(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	state := contractruntime.State("old")
	merge := func(body wasmgen.Body) *engine.Artifact {
		return load(t, eng, contractruntime.KindContract,
			wasmgen.NewContract().Export(engine.ExportUpdateFromSummary, 6, body))
	}

	t.Run("missing export", func(t *testing.T) {
		art := load(t, eng, contractruntime.KindContract, wasmgen.NewContract())
		_, err := NewContract(eng, Config{}).UpdateStateFromSummary(ctx, art, nil, state, []byte("s"))
		expectKind(t, err, errors.KindMissingExport)
	})

	t.Run("merged", func(t *testing.T) {
		res, err := NewContract(eng, Config{}).UpdateStateFromSummary(ctx, merge(wasmgen.Echo(0, 2)), nil, state, []byte("merged"))
		if err != nil {
			t.Fatal(err)
		}
		if !res.Changed || string(res.State) != "merged" {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("no change keeps the state", func(t *testing.T) {
		res, err := NewContract(eng, Config{}).UpdateStateFromSummary(ctx, merge(wasmgen.Status(3)), nil, state, []byte("s"))
		if err != nil {
			t.Fatal(err)
		}
		if res.Changed || string(res.State) != "old" {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		_, err := NewContract(eng, Config{}).UpdateStateFromSummary(ctx, merge(wasmgen.Payload(1, []byte("stale"))), nil, state, []byte("s"))
		expectKind(t, err, errors.KindLogicRejected)
	})

	t.Run("oversized new state", func(t *testing.T) {
		_, err := NewContract(eng, Config{MaxStateSize: 100}).UpdateStateFromSummary(ctx, merge(wasmgen.Region(0, 0, 1000)), nil, state, []byte("s"))
		expectKind(t, err, errors.KindTooLarge)
	})

	t.Run("oversized summary", func(t *testing.T) {
		_, err := NewContract(eng, Config{MaxStateSize: 4}).UpdateStateFromSummary(ctx, merge(wasmgen.Status(3)), nil, state, []byte("too long summary"))
		expectKind(t, err, errors.KindTooLarge)
	})
}

func TestContract_Timeout(t *testing.T) {
	eng := newEngine(t)
	c := NewContract(eng, Config{Limits: engine.Limits{Timeout: 50 * time.Millisecond}})
	art := load(t, eng, contractruntime.KindContract,
		wasmgen.NewContract().Export(engine.ExportValidateState, 6, wasmgen.Spin()))

	_, err := c.ValidateState(context.Background(), art, nil, nil, nil)
	expectKind(t, err, errors.KindTimeout)
}

func TestKindMismatch(t *testing.T) {
	eng := newEngine(t)
	del := load(t, eng, contractruntime.KindDelegate, wasmgen.NewDelegate(false))
	con := load(t, eng, contractruntime.KindContract, wasmgen.NewContract())

	_, err := NewContract(eng, Config{}).SummarizeState(context.Background(), del, nil, nil)
	expectKind(t, err, errors.KindInvalidInput)

	_, err = NewDelegate(eng, Config{}).Process(context.Background(), con, nil, nil, nil)
	expectKind(t, err, errors.KindInvalidInput)
}

func TestProcess(t *testing.T) {
	eng := newEngine(t)
	d := NewDelegate(eng, Config{})
	ctx := context.Background()

	t.Run("no messages", func(t *testing.T) {
		art := load(t, eng, contractruntime.KindDelegate, wasmgen.NewDelegate(false))
		msgs, err := d.Process(ctx, art, nil, nil, []contractruntime.Message{[]byte("hi")})
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 0 {
			t.Errorf("msgs = %q", msgs)
		}
	})

	t.Run("echo inbound", func(t *testing.T) {
		art := load(t, eng, contractruntime.KindDelegate,
			wasmgen.NewDelegate(false).Export(engine.ExportProcess, 4, wasmgen.Echo(0, 1)))
		in := []contractruntime.Message{[]byte("one"), []byte("two")}
		msgs, err := d.Process(ctx, art, nil, nil, in)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 2 || string(msgs[0]) != "one" || string(msgs[1]) != "two" {
			t.Errorf("msgs = %q", msgs)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		art := load(t, eng, contractruntime.KindDelegate,
			wasmgen.NewDelegate(false).Export(engine.ExportProcess, 4, wasmgen.Payload(1, []byte("nope"))))
		_, err := d.Process(ctx, art, nil, nil, nil)
		expectKind(t, err, errors.KindLogicRejected)
	})

	t.Run("bad message list", func(t *testing.T) {
		art := load(t, eng, contractruntime.KindDelegate,
			wasmgen.NewDelegate(false).Export(engine.ExportProcess, 4, wasmgen.Payload(0, []byte{5, 0, 0, 0})))
		_, err := d.Process(ctx, art, nil, nil, nil)
		expectKind(t, err, errors.KindInvalidOutput)
	})

	t.Run("output too large", func(t *testing.T) {
		small := NewDelegate(eng, Config{MaxOutputSize: 64})
		art := load(t, eng, contractruntime.KindDelegate,
			wasmgen.NewDelegate(false).Export(engine.ExportProcess, 4, wasmgen.Region(0, 0, 1024)))
		_, err := small.Process(ctx, art, nil, nil, nil)
		expectKind(t, err, errors.KindTooLarge)
	})
}

func TestProcess_SecretIsolation(t *testing.T) {
	eng := newEngine(t)
	d := NewDelegate(eng, Config{})
	ctx := context.Background()
	guest := wasmgen.NewDelegate(true).Export(engine.ExportProcess, 4, wasmgen.SecretEcho())
	code := guest.Bytes()
	art := load(t, eng, contractruntime.KindDelegate, guest)

	store := secrets.NewMemory()
	alice := secrets.Bind(store, identity.NewDelegateKey(identity.DefaultHasher, code, []byte("alice")))
	bob := secrets.Bind(store, identity.NewDelegateKey(identity.DefaultHasher, code, []byte("bob")))

	if _, err := d.Process(ctx, art, []byte("alice-secret"), alice, nil); err != nil {
		t.Fatal(err)
	}

	msgs, err := d.Process(ctx, art, []byte("bob-secret"), bob, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("bob observed %q", msgs)
	}

	msgs, err = d.Process(ctx, art, nil, alice, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || string(msgs[0]) != "alice-secret" {
		t.Errorf("alice got %q", msgs)
	}
	msgs, err = d.Process(ctx, art, nil, bob, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || string(msgs[0]) != "bob-secret" {
		t.Errorf("bob got %q", msgs)
	}
}
