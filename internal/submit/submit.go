// Package submit simulates and broadcasts multicall bundles.
package submit

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"chain-reactor/internal/chain"
	"chain-reactor/internal/multicall"
	"chain-reactor/internal/signer"
)

// Default configuration values.
const (
	DefaultGasHeadroomPercent = 20
	DefaultBaseFeeMult        = 2
)

// ErrNoSigner is returned by Submit when no signer is configured.
var ErrNoSigner = errors.New("submit: no signer configured")

// Chain is the subset of the chain client used for submission.
type Chain interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendRawTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error)
}

// Options configures Submitter.
type Options struct {
	// Contract is the deployed multicall contract.
	Contract common.Address
	ChainID  *big.Int
	// Signer signs submitted bundles. Simulation works without one.
	Signer signer.Signer
	// GasHeadroomPercent is added on top of the gas estimate.
	// Default: DefaultGasHeadroomPercent.
	GasHeadroomPercent uint64
	Logger             *zap.Logger
}

// Submitter turns bundles into eth_call simulations and signed transactions.
// It never retries; retry policy belongs to the caller. Concurrent Submit
// calls get consecutive nonces.
type Submitter struct {
	chain  Chain
	opts   Options
	nonces nonces
	logger *zap.Logger
}

// New creates a Submitter.
func New(c Chain, opts Options) (*Submitter, error) {
	if opts.Contract == (common.Address{}) {
		return nil, errors.New("submit: multicall contract address is required")
	}
	if opts.ChainID == nil {
		return nil, errors.New("submit: chain id is required")
	}
	if opts.GasHeadroomPercent == 0 {
		opts.GasHeadroomPercent = DefaultGasHeadroomPercent
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{chain: c, opts: opts, logger: logger.Named("submit")}, nil
}

func (s *Submitter) from() common.Address {
	if s.opts.Signer == nil {
		return common.Address{}
	}
	return s.opts.Signer.Address()
}

func (s *Submitter) callMsg(data []byte) ethereum.CallMsg {
	to := s.opts.Contract
	return ethereum.CallMsg{From: s.from(), To: &to, Data: data}
}

// Simulate executes b against the latest state and decodes the per-call results.
// A reverted execution is decoded with the bundle's revert rules.
func (s *Submitter) Simulate(ctx context.Context, b *multicall.Bundle) ([]multicall.Result, error) {
	data, err := b.Pack()
	if err != nil {
		return nil, err
	}

	out, err := s.chain.CallContract(ctx, s.callMsg(data), nil)
	if err != nil {
		if revert, ok := chain.RevertData(err); ok {
			return nil, b.DecodeRevert(revert)
		}
		return nil, fmt.Errorf("simulate: %w", err)
	}
	return b.DecodeReturn(out)
}

// Submit signs b as a dynamic-fee transaction to the multicall contract and
// broadcasts it. Cancelling ctx after the send does not recall the transaction.
func (s *Submitter) Submit(ctx context.Context, b *multicall.Bundle) (common.Hash, error) {
	if s.opts.Signer == nil {
		return common.Hash{}, ErrNoSigner
	}
	data, err := b.Pack()
	if err != nil {
		return common.Hash{}, err
	}
	from := s.opts.Signer.Address()

	tip, err := s.chain.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas tip: %w", err)
	}
	head, err := s.chain.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("latest header: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(DefaultBaseFeeMult)))
	}

	msg := s.callMsg(data)
	msg.GasTipCap, msg.GasFeeCap = tip, feeCap
	gas, err := s.chain.EstimateGas(ctx, msg)
	if err != nil {
		if revert, ok := chain.RevertData(err); ok {
			return common.Hash{}, b.DecodeRevert(revert)
		}
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas * s.opts.GasHeadroomPercent / 100

	// Taken last so a bundle that fails estimation leaves no gap.
	nonce, err := s.nonces.take(ctx, func(ctx context.Context) (uint64, error) {
		return s.chain.PendingNonceAt(ctx, from)
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce: %w", err)
	}

	to := s.opts.Contract
	tx, err := s.opts.Signer.SignTx(types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.opts.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      data,
	}))
	if err != nil {
		s.nonces.reset()
		return common.Hash{}, err
	}

	hash, err := s.chain.SendRawTransaction(ctx, tx)
	if err != nil {
		s.nonces.reset()
		return common.Hash{}, fmt.Errorf("send: %w", err)
	}
	s.logger.Info("bundle submitted",
		zap.String("tx", hash.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gas),
		zap.Int("calls", b.Len()))
	return hash, nil
}
