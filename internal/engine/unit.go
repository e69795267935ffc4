package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"chain-reactor/internal/cancel"
	"chain-reactor/internal/domain"
	"chain-reactor/internal/multicall"
	"chain-reactor/internal/task"
	"chain-reactor/internal/timed"
)

// unitKey identifies a supervised unit.
type unitKey struct {
	Kind domain.UnitKind
	Hash common.Hash
}

func (k unitKey) String() string {
	return string(k.Kind) + ":" + k.Hash.Hex()
}

type stageSample struct {
	stage   domain.Stage
	monitor string
	elapsed time.Duration
}

// report is the value a unit hands back to the engine loop.
type report struct {
	observedAt time.Time
	outcome    domain.Outcome
	monitor    string
	calls      int
	submitted  *common.Hash
	results    []multicall.Result
	aborted    int
	stages     []stageSample
	// duplicate marks a hash already handled within the seen TTL.
	duplicate bool
}

func (r *report) stage(s domain.Stage, monitor string, elapsed time.Duration) {
	r.stages = append(r.stages, stageSample{stage: s, monitor: monitor, elapsed: elapsed})
}

type stats struct {
	heads, pending, spawned, rejected, aborted, completed, panicked atomic.Int64
}

func (s *stats) snapshot() Stats {
	return Stats{
		Heads:     s.heads.Load(),
		Pending:   s.pending.Load(),
		Spawned:   s.spawned.Load(),
		Rejected:  s.rejected.Load(),
		Aborted:   s.aborted.Load(),
		Completed: s.completed.Load(),
		Panicked:  s.panicked.Load(),
	}
}

// pendingUnit fetches the transaction, runs the pending monitors in order and
// reacts to the first bundle.
func (e *Engine) pendingUnit(hash common.Hash, observedAt time.Time) task.Op[*report] {
	return func(ctx context.Context) (*report, error) {
		rep := &report{observedAt: observedAt, outcome: domain.OutcomeNoAction}

		first, err := e.seen.MarkSeen(ctx, hash.Hex(), e.seenTTL)
		if err != nil {
			e.logger.Warn("seen store", zap.Error(err))
		} else if !first {
			rep.duplicate = true
			return rep, nil
		}

		fetched, err := timed.Run(ctx, func(ctx context.Context) (*types.Transaction, error) {
			tx, err := e.chain.TransactionByHash(ctx, hash)
			if err != nil {
				return nil, err
			}
			if !tx.Pending() {
				return nil, nil
			}
			return tx.Transaction, nil
		})
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				// Dropped from the pool before we got to it.
				return rep, nil
			}
			rep.outcome = domain.OutcomeFailed
			return rep, fmt.Errorf("fetch tx: %w", err)
		}
		rep.stage(domain.StageFetch, "", fetched.Elapsed)
		tx := fetched.Value
		if tx == nil {
			return rep, nil
		}

		var bundle *multicall.Bundle
		for _, m := range e.pending {
			res, err := cancel.Race(ctx, e.token, timed.WrapResult(func(ctx context.Context) (*multicall.Bundle, error) {
				return m.ProcessTx(ctx, tx)
			}))
			if errors.Is(err, cancel.ErrCancelled) {
				rep.outcome = domain.OutcomeCancelled
				return rep, err
			}
			if err != nil {
				e.metrics.MonitorErrors.WithLabelValues(m.Name()).Inc()
				e.logger.Warn("monitor failed",
					zap.String("monitor", m.Name()),
					zap.String("tx", hash.Hex()),
					zap.Error(err))
				continue
			}
			rep.stage(domain.StageMonitor, m.Name(), res.Elapsed)
			e.metrics.MonitorLatency.WithLabelValues(m.Name()).Observe(res.Elapsed.Seconds())
			if res.Value != nil && res.Value.Len() > 0 {
				bundle = res.Value
				rep.monitor = m.Name()
				rep.calls = bundle.Len()
				break
			}
		}
		if bundle == nil {
			return rep, nil
		}

		return e.react(ctx, hash, bundle, rep)
	}
}

// react simulates bundle and, when enabled, submits it.
func (e *Engine) react(ctx context.Context, hash common.Hash, bundle *multicall.Bundle, rep *report) (*report, error) {
	simulated, err := timed.Run(ctx, func(ctx context.Context) ([]multicall.Result, error) {
		return e.reactor.Simulate(ctx, bundle)
	})
	if err != nil {
		rep.outcome = e.classify(err)
		return rep, fmt.Errorf("simulate: %w", err)
	}
	rep.stage(domain.StageSimulate, rep.monitor, simulated.Elapsed)
	rep.results = simulated.Value
	rep.outcome = domain.OutcomeSimulated
	e.metrics.BundlesSimulated.Inc()

	if !e.submit {
		return rep, nil
	}
	if e.token.Fired() {
		rep.outcome = domain.OutcomeCancelled
		return rep, cancel.ErrCancelled
	}

	sent, err := timed.Run(ctx, func(ctx context.Context) (common.Hash, error) {
		return e.reactor.Submit(ctx, bundle)
	})
	if err != nil {
		rep.outcome = e.classify(err)
		return rep, fmt.Errorf("submit: %w", err)
	}
	rep.stage(domain.StageSubmit, rep.monitor, sent.Elapsed)
	rep.submitted = &sent.Value
	rep.outcome = domain.OutcomeSubmitted
	e.metrics.BundlesSubmitted.Inc()
	e.logger.Info("reacted",
		zap.String("tx", hash.Hex()),
		zap.String("monitor", rep.monitor),
		zap.String("bundle_tx", sent.Value.Hex()))
	return rep, nil
}

func (e *Engine) classify(err error) domain.Outcome {
	var revert *multicall.RevertError
	switch {
	case errors.As(err, &revert):
		e.metrics.BundleReverts.Inc()
		return domain.OutcomeReverted
	case errors.Is(err, multicall.ErrDecoding):
		e.metrics.DecodeErrors.Inc()
	case errors.Is(err, context.Canceled):
		if e.token.Fired() {
			return domain.OutcomeCancelled
		}
	}
	return domain.OutcomeFailed
}

// blockUnit aborts pending units made stale by the block, then runs the block monitors.
func (e *Engine) blockUnit(h *types.Header, observedAt time.Time) task.Op[*report] {
	hash := h.Hash()
	return func(ctx context.Context) (*report, error) {
		rep := &report{observedAt: observedAt, outcome: domain.OutcomeBlockHandled}

		fetched, err := timed.Run(ctx, func(ctx context.Context) ([]common.Hash, error) {
			return e.chain.BlockTxHashes(ctx, hash)
		})
		if err != nil {
			e.logger.Warn("block transactions", zap.String("block", hash.Hex()), zap.Error(err))
		} else {
			rep.stage(domain.StageFetch, "", fetched.Elapsed)
			rep.aborted = e.abortIncluded(fetched.Value)
		}

		var errs []error
		for _, m := range e.blocks {
			res, err := cancel.Race(ctx, e.token, timed.WrapResult(func(ctx context.Context) (struct{}, error) {
				return struct{}{}, m.ProcessBlock(ctx, h)
			}))
			if errors.Is(err, cancel.ErrCancelled) {
				rep.outcome = domain.OutcomeCancelled
				return rep, err
			}
			if err != nil {
				e.metrics.MonitorErrors.WithLabelValues(m.Name()).Inc()
				errs = append(errs, fmt.Errorf("%s: %w", m.Name(), err))
				continue
			}
			rep.stage(domain.StageMonitor, m.Name(), res.Elapsed)
			e.metrics.MonitorLatency.WithLabelValues(m.Name()).Observe(res.Elapsed.Seconds())
		}
		return rep, errors.Join(errs...)
	}
}
