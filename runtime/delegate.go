package runtime

import (
	"context"

	contractruntime "github.com/wippyai/contract-runtime"
	"github.com/wippyai/contract-runtime/engine"
	"github.com/wippyai/contract-runtime/identity"
	"github.com/wippyai/contract-runtime/secrets"
)

// ProcessRequest hands Messages to a delegate.
type ProcessRequest struct {
	Code       *contractruntime.Code
	Parameters contractruntime.Parameters
	Messages   []contractruntime.Message
	Key        identity.DelegateKey
}

// Process runs the delegate's process export. The guest reaches only the
// secrets of its own identity.
func (r *Runtime) Process(ctx context.Context, req ProcessRequest) ([]contractruntime.Message, error) {
	c := r.begin("process", engine.ExportProcess)
	t := &target{
		kind:     contractruntime.KindDelegate,
		id:       req.Key.ID,
		codeHash: req.Key.CodeHash,
		code:     req.Code,
		params:   req.Parameters,
	}
	art, err := r.acquire(ctx, c, t)
	if err != nil {
		return nil, c.fail(err)
	}
	defer art.Release()

	var sec engine.Secrets
	if r.cfg.Secrets != nil {
		sec = secrets.Bind(r.cfg.Secrets, identity.DelegateKey{ID: t.id, CodeHash: t.codeHash})
	}

	out, err := r.delegates.Process(c.invokeContext(ctx), art, req.Parameters, sec, req.Messages)
	if err != nil {
		return nil, c.fail(err)
	}
	c.done()
	return out, nil
}
