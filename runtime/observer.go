package runtime

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/contract-runtime/errors"
)

// Stage is a step in the life of one call.
type Stage uint8

const (
	StageRequested Stage = iota
	StageResolving
	StageCompiling
	StageCacheHit
	StageInstantiating
	StageInvoking
	StageCompleted
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageRequested:
		return "requested"
	case StageResolving:
		return "resolving"
	case StageCompiling:
		return "compiling"
	case StageCacheHit:
		return "cache_hit"
	case StageInstantiating:
		return "instantiating"
	case StageInvoking:
		return "invoking"
	case StageCompleted:
		return "completed"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

// Event reports a call entering a stage. Err is set for StageFailed.
type Event struct {
	Err      error
	Op       string
	Export   string
	Identity string
	Call     uint64
	Stage    Stage
}

// Observer receives call events. Observe is called synchronously on the
// calling goroutine and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

// call tracks one request through its stages.
type call struct {
	rt       *Runtime
	op       string
	export   string
	identity string
	id       uint64
}

func (r *Runtime) begin(op, export string) *call {
	c := &call{rt: r, op: op, export: export, id: r.calls.Add(1)}
	c.stage(StageRequested)
	return c
}

func (c *call) stage(s Stage) {
	c.emit(s, nil)
}

func (c *call) emit(s Stage, err error) {
	if ce := c.rt.log.Check(zap.DebugLevel, "call "+s.String()); ce != nil {
		fields := []zap.Field{
			zap.Uint64("call", c.id),
			zap.String("op", c.op),
			zap.String("export", c.export),
		}
		if c.identity != "" {
			fields = append(fields, zap.String("identity", c.identity))
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		ce.Write(fields...)
	}
	if obs := c.rt.cfg.Observer; obs != nil {
		obs.Observe(Event{
			Call:     c.id,
			Op:       c.op,
			Export:   c.export,
			Identity: c.identity,
			Stage:    s,
			Err:      err,
		})
	}
}

// fail annotates err with the call's identity and export and reports it.
func (c *call) fail(err error) error {
	err = errors.Annotate(err, c.identity, c.export)
	c.emit(StageFailed, err)
	return err
}

func (c *call) done() {
	c.stage(StageCompleted)
}
