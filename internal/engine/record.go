package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"chain-reactor/internal/cancel"
	"chain-reactor/internal/domain"
	"chain-reactor/internal/idhash"
	"chain-reactor/internal/storage"
	"chain-reactor/internal/task"
)

// record turns a completion into metrics, latency samples and a reaction.
// Units that panicked are logged and skipped.
func (e *Engine) record(ctx context.Context, c task.Completion[unitKey, *report]) {
	e.metrics.LiveTasks.Set(float64(e.registry.Len()))

	var je *task.JoinError[unitKey]
	if errors.As(c.Err, &je) {
		e.stats.panicked.Add(1)
		e.metrics.TasksPanicked.WithLabelValues(string(c.Key.Kind)).Inc()
		e.logger.Error("unit panicked",
			zap.Stringer("key", c.Key),
			zap.Any("panic", je.Panic),
			zap.ByteString("stack", je.Stack))
		return
	}

	e.stats.completed.Add(1)
	rep := c.Value
	if rep == nil {
		rep = &report{observedAt: time.Now().Add(-c.Elapsed), outcome: domain.OutcomeFailed}
		if errors.Is(c.Err, cancel.ErrCancelled) {
			rep.outcome = domain.OutcomeCancelled
		}
	}

	if rep.duplicate {
		e.logger.Debug("already handled", zap.Stringer("key", c.Key))
		return
	}

	e.metrics.TasksCompleted.WithLabelValues(string(c.Key.Kind), string(rep.outcome)).Inc()
	e.metrics.UnitLatency.WithLabelValues(string(c.Key.Kind)).Observe(c.Elapsed.Seconds())

	fields := []zap.Field{
		zap.Stringer("key", c.Key),
		zap.String("outcome", string(rep.outcome)),
		zap.Duration("elapsed", c.Elapsed),
	}
	if rep.monitor != "" {
		fields = append(fields, zap.String("monitor", rep.monitor), zap.Int("calls", rep.calls))
	}
	if rep.aborted > 0 {
		fields = append(fields, zap.Int("aborted", rep.aborted))
	}
	switch {
	case c.Err != nil && rep.outcome != domain.OutcomeCancelled:
		e.logger.Warn("unit failed", append(fields, zap.Error(c.Err))...)
	case rep.outcome == domain.OutcomeNoAction:
		e.logger.Debug("unit done", fields...)
	default:
		e.logger.Info("unit done", fields...)
	}

	e.bufferLatencies(ctx, c.Key, rep, c.Elapsed)
	e.storeReaction(ctx, c, rep)
}

func (e *Engine) storeReaction(ctx context.Context, c task.Completion[unitKey, *report], rep *report) {
	if e.reactions == nil {
		return
	}

	key := c.Key.Hash.Hex()
	r := &domain.Reaction{
		ReactionID: idhash.ComputeReactionID(key, rep.monitor, e.runID),
		RunID:      e.runID,
		Kind:       c.Key.Kind,
		Key:        key,
		Monitor:    rep.monitor,
		Outcome:    rep.outcome,
		Calls:      rep.calls,
		ElapsedUs:  c.Elapsed.Microseconds(),
		ObservedAt: rep.observedAt.UnixMilli(),
	}
	if rep.submitted != nil {
		s := rep.submitted.Hex()
		r.SubmittedTx = &s
	}
	if c.Err != nil {
		s := c.Err.Error()
		r.Error = &s
	}

	if err := e.reactions.Insert(ctx, r); err != nil {
		// A key re-announced after its unit finished maps to the same reaction id.
		if !errors.Is(err, storage.ErrDuplicateKey) {
			e.metrics.StoreErrors.WithLabelValues("reactions").Inc()
			e.logger.Warn("store reaction", zap.Error(err))
		}
	}
}

func (e *Engine) bufferLatencies(ctx context.Context, key unitKey, rep *report, elapsed time.Duration) {
	if e.latencies == nil {
		return
	}
	ts := rep.observedAt.UnixMilli()
	k := key.Hash.Hex()
	for _, s := range rep.stages {
		e.latencyBuf = append(e.latencyBuf, &domain.LatencySample{
			RunID:       e.runID,
			Key:         k,
			Stage:       s.stage,
			Monitor:     s.monitor,
			ElapsedUs:   s.elapsed.Microseconds(),
			TimestampMs: ts,
		})
	}
	e.latencyBuf = append(e.latencyBuf, &domain.LatencySample{
		RunID:       e.runID,
		Key:         k,
		Stage:       domain.StageUnit,
		ElapsedUs:   elapsed.Microseconds(),
		TimestampMs: ts,
	})
	if len(e.latencyBuf) >= e.latencyBatch {
		e.flushLatencies(ctx)
	}
}

// flushLatencies writes buffered samples. A failed batch is dropped.
func (e *Engine) flushLatencies(ctx context.Context) {
	if e.latencies == nil || len(e.latencyBuf) == 0 {
		return
	}
	batch := e.latencyBuf
	e.latencyBuf = nil
	if err := e.latencies.InsertBulk(ctx, batch); err != nil {
		e.metrics.StoreErrors.WithLabelValues("latencies").Inc()
		e.logger.Warn("store latencies", zap.Int("samples", len(batch)), zap.Error(err))
	}
}
