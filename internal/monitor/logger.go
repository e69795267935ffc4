package monitor

import (
	"context"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"chain-reactor/internal/multicall"
)

// Logger logs every observed item and never reacts.
type Logger struct {
	log *zap.Logger
}

// NewLogger returns a Logger monitor writing to log at debug level.
func NewLogger(log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{log: log.Named("monitor.logger")}
}

func (l *Logger) Name() string { return "logger" }

func (l *Logger) ProcessTx(_ context.Context, tx *types.Transaction) (*multicall.Bundle, error) {
	fields := []zap.Field{
		zap.String("hash", tx.Hash().Hex()),
		zap.Uint64("nonce", tx.Nonce()),
		zap.Uint64("gas", tx.Gas()),
	}
	if to := tx.To(); to != nil {
		fields = append(fields, zap.String("to", to.Hex()))
	}
	if data := tx.Data(); len(data) >= 4 {
		fields = append(fields, zap.String("selector", hexutil.Encode(data[:4])))
	}
	l.log.Debug("pending tx", fields...)
	return nil, nil
}

func (l *Logger) ProcessBlock(_ context.Context, h *types.Header) error {
	l.log.Debug("block",
		zap.Uint64("number", h.Number.Uint64()),
		zap.String("hash", h.Hash().Hex()),
		zap.Uint64("gas_used", h.GasUsed))
	return nil
}
