package statestore

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"

	contractruntime "github.com/wippyai/contract-runtime"
	"github.com/wippyai/contract-runtime/identity"
)

// Dir is a read-only StateFetcher over a directory holding one file per
// contract, named by the hex form of its key.
type Dir string

func (d Dir) FetchState(ctx context.Context, key identity.Key) (contractruntime.State, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(filepath.Join(string(d), key.String()))
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}
