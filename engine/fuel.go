package engine

import (
	"context"
	stderrors "errors"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// errFuelExhausted is the cancel cause of a call that ran out of fuel.
var errFuelExhausted = stderrors.New("fuel exhausted")

type meterKey struct{}

// meter counts guest function entries against a call's fuel budget.
type meter struct {
	cancel    context.CancelCauseFunc
	remaining atomic.Int64
}

func newMeter(fuel uint64, cancel context.CancelCauseFunc) *meter {
	m := &meter{cancel: cancel}
	if fuel > 1<<62 {
		fuel = 1 << 62
	}
	m.remaining.Store(int64(fuel))
	return m
}

func (m *meter) charge() {
	if m.remaining.Add(-1) < 0 {
		m.cancel(errFuelExhausted)
	}
}

// Used returns how much fuel the call consumed.
func (m *meter) used(budget uint64) uint64 {
	r := m.remaining.Load()
	if r < 0 {
		return budget
	}
	return budget - uint64(r)
}

// fuelListenerFactory attaches the fuel listener to every guest function.
// It is installed at compile time; the meter itself travels with the call
// context so one compiled module serves calls with different budgets.
type fuelListenerFactory struct{}

func (fuelListenerFactory) NewFunctionListener(api.FunctionDefinition) experimental.FunctionListener {
	return fuelListener{}
}

type fuelListener struct{}

func (fuelListener) Before(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64, _ experimental.StackIterator) {
	if m, ok := ctx.Value(meterKey{}).(*meter); ok {
		m.charge()
	}
}

func (fuelListener) After(context.Context, api.Module, api.FunctionDefinition, []uint64) {}

func (fuelListener) Abort(context.Context, api.Module, api.FunctionDefinition, error) {}
