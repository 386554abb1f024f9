package statestore

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	contractruntime "github.com/wippyai/contract-runtime"
	"github.com/wippyai/contract-runtime/errors"
	"github.com/wippyai/contract-runtime/identity"
)

// Schema creates the table Postgres reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS contract_states (
	key        BYTEA PRIMARY KEY,
	state      BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres is a Store backed by the contract_states table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL and checks the connection.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, storeErr(err, "create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storeErr(err, "ping database")
	}
	return &Postgres{pool: pool}, nil
}

// EnsureSchema creates contract_states if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, Schema); err != nil {
		return storeErr(err, "create schema")
	}
	return nil
}

func (p *Postgres) FetchState(ctx context.Context, key identity.Key) (contractruntime.State, bool, error) {
	var state []byte
	err := p.pool.QueryRow(ctx, `SELECT state FROM contract_states WHERE key = $1`, key.Bytes()).Scan(&state)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeErr(err, "fetch state "+key.Short())
	}
	return state, true, nil
}

// FetchRelated loads every requested state in one query.
func (p *Postgres) FetchRelated(ctx context.Context, ids []identity.Key) (contractruntime.RelatedContracts, error) {
	out := make(contractruntime.RelatedContracts, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([][]byte, len(ids))
	for i, id := range ids {
		keys[i] = id.Bytes()
		out[id] = nil
	}

	rows, err := p.pool.Query(ctx, `SELECT key, state FROM contract_states WHERE key = ANY($1)`, keys)
	if err != nil {
		return nil, storeErr(err, "fetch related states")
	}
	defer rows.Close()

	for rows.Next() {
		var key, state []byte
		if err := rows.Scan(&key, &state); err != nil {
			return nil, storeErr(err, "scan related state")
		}
		id, err := identity.FromBytes(key)
		if err != nil {
			return nil, storeErr(err, "decode related key")
		}
		out[id] = state
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "iterate related states")
	}
	Logger().Debug("fetched related states", zap.Int("requested", len(ids)))
	return out, nil
}

func (p *Postgres) PutState(ctx context.Context, key identity.Key, state contractruntime.State) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO contract_states (key, state) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`,
		key.Bytes(), []byte(state))
	if err != nil {
		return storeErr(err, "put state "+key.Short())
	}
	return nil
}

func (p *Postgres) DeleteState(ctx context.Context, key identity.Key) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM contract_states WHERE key = $1`, key.Bytes())
	if err != nil {
		return false, storeErr(err, "delete state "+key.Short())
	}
	return tag.RowsAffected() > 0, nil
}

// Ping checks the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func storeErr(err error, what string) error {
	return errors.Wrap(errors.PhaseStore, errors.KindStore, fmt.Errorf("%s: %w", what, err), what)
}
