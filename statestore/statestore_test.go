package statestore

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	contractruntime "github.com/wippyai/contract-runtime"
	"github.com/wippyai/contract-runtime/errors"
	"github.com/wippyai/contract-runtime/identity"
)

func key(s string) identity.Key {
	return identity.DefaultHasher.Hash([]byte(s))
}

// exercise runs the behaviour every Store shares.
func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	a, b, missing := key("a"), key("b"), key("missing")

	if err := s.PutState(ctx, a, []byte("state a")); err != nil {
		t.Fatal(err)
	}
	if err := s.PutState(ctx, b, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := s.PutState(ctx, b, []byte("second")); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.FetchState(ctx, b)
	if err != nil || !ok || string(got) != "second" {
		t.Fatalf("FetchState(b) = %q, %v, %v", got, ok, err)
	}
	if _, ok, err := s.FetchState(ctx, missing); ok || err != nil {
		t.Fatalf("FetchState(missing) = %v, %v", ok, err)
	}

	rel, err := s.FetchRelated(ctx, []identity.Key{a, missing})
	if err != nil {
		t.Fatal(err)
	}
	if len(rel) != 2 {
		t.Fatalf("FetchRelated returned %d entries", len(rel))
	}
	if string(rel[a]) != "state a" {
		t.Errorf("rel[a] = %q", rel[a])
	}
	if v, present := rel[missing]; !present || v != nil {
		t.Errorf("rel[missing] = %q, present %v", v, present)
	}

	removed, err := s.DeleteState(ctx, a)
	if err != nil || !removed {
		t.Fatalf("DeleteState = %v, %v", removed, err)
	}
	removed, err = s.DeleteState(ctx, a)
	if err != nil || removed {
		t.Fatalf("second DeleteState = %v, %v", removed, err)
	}
}

func TestMemory(t *testing.T) {
	exercise(t, NewMemory())
}

func TestMemory_CopiesState(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	in := []byte("abc")
	m.PutState(ctx, key("k"), in)
	in[0] = 'x'

	got, _, _ := m.FetchState(ctx, key("k"))
	if string(got) != "abc" {
		t.Fatalf("stored state aliased caller buffer: %q", got)
	}
	got[1] = 'y'
	again, _, _ := m.FetchState(ctx, key("k"))
	if string(again) != "abc" {
		t.Fatalf("fetched state aliased store: %q", again)
	}
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("CONTRACT_RUNTIME_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("CONTRACT_RUNTIME_TEST_POSTGRES not set")
	}
	ctx := context.Background()
	p, err := NewPostgres(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if err := p.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"a", "b", "missing"} {
		p.DeleteState(ctx, key(k))
	}
	exercise(t, p)
}

type countingFetcher struct {
	states   map[identity.Key]contractruntime.State
	inFlight atomic.Int32
	peak     atomic.Int32
	fail     identity.Key
}

func (c *countingFetcher) FetchState(ctx context.Context, k identity.Key) (contractruntime.State, bool, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if k == c.fail {
		return nil, false, stderrors.New("backend down")
	}
	s, ok := c.states[k]
	return s, ok, nil
}

func TestFanout(t *testing.T) {
	f := &countingFetcher{states: map[identity.Key]contractruntime.State{}}
	var ids []identity.Key
	for i := 0; i < 20; i++ {
		k := key(string(rune('a' + i)))
		ids = append(ids, k)
		if i%2 == 0 {
			f.states[k] = []byte{byte(i)}
		}
	}

	rel, err := Fanout{StateFetcher: f, Limit: 3}.FetchRelated(context.Background(), ids)
	if err != nil {
		t.Fatal(err)
	}
	if len(rel) != len(ids) {
		t.Fatalf("len = %d", len(rel))
	}
	for i, id := range ids {
		want := f.states[id]
		if !bytes.Equal(rel[id], want) || (want == nil) != (rel[id] == nil) {
			t.Errorf("ids[%d] = %v, want %v", i, rel[id], want)
		}
	}
	if p := f.peak.Load(); p > 3 {
		t.Errorf("peak concurrency %d exceeds limit", p)
	}
}

func TestFanout_Error(t *testing.T) {
	f := &countingFetcher{fail: key("bad")}
	_, err := FetchEach(context.Background(), f, []identity.Key{key("ok"), key("bad")}, 0)
	if !stderrors.Is(err, errors.ErrStore) {
		t.Fatalf("err = %v", err)
	}
}

func TestDir(t *testing.T) {
	dir := t.TempDir()
	k := key("on disk")
	if err := os.WriteFile(filepath.Join(dir, k.String()), []byte("disk state"), 0o600); err != nil {
		t.Fatal(err)
	}

	rel, err := Fanout{StateFetcher: Dir(dir)}.FetchRelated(context.Background(), []identity.Key{k, key("absent")})
	if err != nil {
		t.Fatal(err)
	}
	if string(rel[k]) != "disk state" || rel[key("absent")] != nil {
		t.Errorf("rel = %v", rel)
	}
}
