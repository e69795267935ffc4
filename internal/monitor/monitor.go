// Package monitor defines the analysis hooks run against observed chain items.
package monitor

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"

	"chain-reactor/internal/multicall"
)

// PendingMonitor inspects a pending transaction. A non-nil bundle asks the
// engine to react with it.
type PendingMonitor interface {
	Name() string
	ProcessTx(ctx context.Context, tx *types.Transaction) (*multicall.Bundle, error)
}

// BlockMonitor inspects a newly observed block header.
type BlockMonitor interface {
	Name() string
	ProcessBlock(ctx context.Context, header *types.Header) error
}

// PendingFunc adapts a function to PendingMonitor.
type PendingFunc struct {
	ID string
	Fn func(ctx context.Context, tx *types.Transaction) (*multicall.Bundle, error)
}

func (f PendingFunc) Name() string { return f.ID }

func (f PendingFunc) ProcessTx(ctx context.Context, tx *types.Transaction) (*multicall.Bundle, error) {
	return f.Fn(ctx, tx)
}

// BlockFunc adapts a function to BlockMonitor.
type BlockFunc struct {
	ID string
	Fn func(ctx context.Context, header *types.Header) error
}

func (f BlockFunc) Name() string { return f.ID }

func (f BlockFunc) ProcessBlock(ctx context.Context, header *types.Header) error {
	return f.Fn(ctx, header)
}
