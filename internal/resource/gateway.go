// Package resource is the only path through which accepted actions mutate
// the host program. A Gateway resolves locations and runs mutations inside
// scoped transactions; HostGateway is the single serialization point in
// front of a Program.
package resource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Gateway is the capability set the pipeline needs from the host.
type Gateway interface {
	// ResolveLocation translates a symbol name or hex address into a
	// Location. Unresolvable input yields *LocationNotFoundError.
	ResolveLocation(ctx context.Context, symbolOrAddress string) (Location, error)

	// RunInTransaction opens a transaction, calls fn, and closes the
	// transaction before returning on every path.
	RunInTransaction(ctx context.Context, description string, fn func(tx Tx) error) error
}

// Tx exposes the mutation primitives available inside a transaction.
type Tx interface {
	SetComment(loc Location, comment string) error
	RenameSymbol(loc Location, name string) error
}

// Run is the value-returning form of Gateway.RunInTransaction.
func Run[T any](ctx context.Context, g Gateway, description string, fn func(tx Tx) (T, error)) (T, error) {
	var out T
	err := g.RunInTransaction(ctx, description, func(tx Tx) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// HostGateway adapts a Program to Gateway. The program accepts one open
// transaction at a time, so every transaction goes through mu.
type HostGateway struct {
	mu      sync.Mutex
	program Program
	logger  *slog.Logger
	onClose func(committed bool, open time.Duration)
}

// NewHostGateway wraps program. A nil logger falls back to slog.Default().
func NewHostGateway(program Program, logger *slog.Logger) *HostGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &HostGateway{program: program, logger: logger}
}

// OnTransactionClosed registers fn to be told how every transaction ended
// and how long it was open. Call before serving.
func (g *HostGateway) OnTransactionClosed(fn func(committed bool, open time.Duration)) {
	g.onClose = fn
}

// ResolveLocation delegates to the host's lookup.
func (g *HostGateway) ResolveLocation(ctx context.Context, symbolOrAddress string) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}
	loc, ok := g.program.Lookup(symbolOrAddress)
	if !ok {
		return Location{}, &LocationNotFoundError{Input: symbolOrAddress}
	}
	return loc, nil
}

// RunInTransaction holds the gateway lock for the whole transaction. The
// transaction commits only when fn returns nil; an error or panic ends it
// with commit=false and is then handed back to the caller.
func (g *HostGateway) RunInTransaction(ctx context.Context, description string, fn func(tx Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	txID, err := g.program.StartTransaction(description)
	if err != nil {
		return fmt.Errorf("start transaction %q: %w", description, err)
	}

	opened := time.Now()
	committed := false
	defer func() {
		endErr := g.program.EndTransaction(txID, committed)
		if endErr != nil {
			g.logger.Error("end transaction failed",
				"tx_id", txID, "description", description, "commit", committed, "error", endErr)
			if err == nil {
				err = fmt.Errorf("end transaction %q: %w", description, endErr)
			}
		}
		if g.onClose != nil {
			g.onClose(committed && endErr == nil, time.Since(opened))
		}
	}()

	if err := fn(hostTx{program: g.program}); err != nil {
		return err
	}
	committed = true
	return nil
}

type hostTx struct {
	program Program
}

func (t hostTx) SetComment(loc Location, comment string) error {
	return t.program.SetPlateComment(loc, comment)
}

func (t hostTx) RenameSymbol(loc Location, name string) error {
	return t.program.RenameLabel(loc, name)
}
