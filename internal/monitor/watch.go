package monitor

import (
	"bytes"
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"chain-reactor/internal/multicall"
)

// Template describes one call of a reaction bundle.
type Template struct {
	Target common.Address
	Data   []byte
	Mode   multicall.Mode
	// Forward replaces Target and Data with the matched transaction's
	// recipient and calldata.
	Forward bool
}

// Rule matches pending transactions and describes the bundle to build.
type Rule struct {
	Name string
	// To matches the transaction recipient.
	To common.Address
	// Selector, when set, must equal the first four bytes of calldata.
	Selector []byte
	// MinValue, when set, is the smallest transferred value that matches.
	MinValue *big.Int
	Calls    []Template
}

func (r *Rule) matches(tx *types.Transaction) bool {
	to := tx.To()
	if to == nil || *to != r.To {
		return false
	}
	if len(r.Selector) > 0 {
		data := tx.Data()
		if len(data) < len(r.Selector) || !bytes.Equal(data[:len(r.Selector)], r.Selector) {
			return false
		}
	}
	if r.MinValue != nil && tx.Value().Cmp(r.MinValue) < 0 {
		return false
	}
	return true
}

func (r *Rule) bundle(tx *types.Transaction) *multicall.Bundle {
	b := multicall.NewBundle()
	for _, tmpl := range r.Calls {
		target, data := tmpl.Target, tmpl.Data
		if tmpl.Forward {
			target, data = *tx.To(), tx.Data()
		}
		b.Add(tmpl.Mode, multicall.NewRawCall(target, data))
	}
	return b
}

// Watch reacts to transactions matching any of its rules. The first matching
// rule wins.
type Watch struct {
	name  string
	rules []Rule
}

// NewWatch creates a Watch monitor.
func NewWatch(name string, rules ...Rule) *Watch {
	return &Watch{name: name, rules: rules}
}

func (w *Watch) Name() string { return w.name }

func (w *Watch) ProcessTx(ctx context.Context, tx *types.Transaction) (*multicall.Bundle, error) {
	for i := range w.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if w.rules[i].matches(tx) {
			return w.rules[i].bundle(tx), nil
		}
	}
	return nil, nil
}
