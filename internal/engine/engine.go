// Package engine reacts to pending transactions and new blocks.
//
// The engine subscribes to newHeads and newPendingTransactions, runs one
// supervised unit per pending tx hash and per block hash, and records every
// finished unit in the audit trail. Work for a transaction that lands in a
// block is aborted as stale.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"chain-reactor/internal/cancel"
	"chain-reactor/internal/chain"
	"chain-reactor/internal/domain"
	"chain-reactor/internal/monitor"
	"chain-reactor/internal/multicall"
	"chain-reactor/internal/observability"
	"chain-reactor/internal/storage"
	"chain-reactor/internal/storage/memory"
	"chain-reactor/internal/task"
)

// Defaults.
const (
	DefaultSeenTTL       = 10 * time.Minute
	DefaultFlushInterval = 5 * time.Second
	DefaultLatencyBatch  = 512
	shutdownFlushTimeout = 5 * time.Second
)

// Chain is the subset of the chain client the engine reads from.
type Chain interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*chain.Tx, error)
	BlockTxHashes(ctx context.Context, hash common.Hash) ([]common.Hash, error)
	SubscribeNewHeads(ctx context.Context) (*chain.Feed[*types.Header], error)
	SubscribePendingTransactions(ctx context.Context) (*chain.Feed[common.Hash], error)
}

// Reactor simulates and submits bundles.
type Reactor interface {
	Simulate(ctx context.Context, b *multicall.Bundle) ([]multicall.Result, error)
	Submit(ctx context.Context, b *multicall.Bundle) (common.Hash, error)
}

// Options configures an Engine.
type Options struct {
	Chain   Chain
	Reactor Reactor

	PendingMonitors []monitor.PendingMonitor
	BlockMonitors   []monitor.BlockMonitor

	// Submit broadcasts bundles after a successful simulation.
	Submit bool

	// Reactions and Latencies are optional.
	Reactions storage.ReactionStore
	Latencies storage.LatencyStore
	// Seen deduplicates pending hashes across units. Default: in-memory.
	Seen    storage.SeenStore
	SeenTTL time.Duration // Default: DefaultSeenTTL

	FlushInterval time.Duration // Default: DefaultFlushInterval
	LatencyBatch  int           // Default: DefaultLatencyBatch
	Buffer        int           // completion buffer, default task.DefaultBuffer

	// RunID stamps every reaction. Default: a random UUID.
	RunID   string
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// Stats counts what the engine has observed since it started.
type Stats struct {
	Heads     int64
	Pending   int64
	Spawned   int64
	Rejected  int64
	Aborted   int64
	Completed int64
	Panicked  int64
}

// Engine is the only caller of the task registry, cancel signal and multicall codec.
type Engine struct {
	chain   Chain
	reactor Reactor
	pending []monitor.PendingMonitor
	blocks  []monitor.BlockMonitor
	submit  bool

	reactions storage.ReactionStore
	latencies storage.LatencyStore
	seen      storage.SeenStore
	seenTTL   time.Duration

	flushInterval time.Duration
	latencyBatch  int
	latencyBuf    []*domain.LatencySample

	registry *task.Registry[unitKey, *report]
	token    *cancel.Token
	trigger  *cancel.Trigger
	stop     chan struct{}
	stopOnce sync.Once

	runID   string
	metrics *observability.Metrics
	logger  *zap.Logger
	stats   stats
}

// New creates an Engine. Chain and Reactor are required.
func New(opts Options) (*Engine, error) {
	if opts.Chain == nil {
		return nil, errors.New("engine: chain is required")
	}
	if opts.Reactor == nil {
		return nil, errors.New("engine: reactor is required")
	}

	seen := opts.Seen
	if seen == nil {
		seen = memory.NewSeenStore()
	}
	seenTTL := opts.SeenTTL
	if seenTTL == 0 {
		seenTTL = DefaultSeenTTL
	}
	flushInterval := opts.FlushInterval
	if flushInterval == 0 {
		flushInterval = DefaultFlushInterval
	}
	latencyBatch := opts.LatencyBatch
	if latencyBatch <= 0 {
		latencyBatch = DefaultLatencyBatch
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics("", prometheus.NewRegistry())
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	token, trigger := cancel.New()
	return &Engine{
		chain:         opts.Chain,
		reactor:       opts.Reactor,
		pending:       opts.PendingMonitors,
		blocks:        opts.BlockMonitors,
		submit:        opts.Submit,
		reactions:     opts.Reactions,
		latencies:     opts.Latencies,
		seen:          seen,
		seenTTL:       seenTTL,
		flushInterval: flushInterval,
		latencyBatch:  latencyBatch,
		registry:      task.NewRegistry[unitKey, *report](task.Options{Buffer: opts.Buffer}),
		token:         token,
		trigger:       trigger,
		stop:          make(chan struct{}),
		runID:         runID,
		metrics:       metrics,
		logger:        logger.Named("engine").With(zap.String("run_id", runID)),
	}, nil
}

// RunID returns the identifier stamped on this engine's reactions.
func (e *Engine) RunID() string {
	return e.runID
}

// Stop asks Run to shut down. Run returns once live units are torn down.
// Calling Stop more than once is a no-op.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return e.stats.snapshot()
}

// Run subscribes to the chain and reacts until ctx is done, Stop is called or
// a subscription fails. It returns nil after Stop, ctx.Err() after
// cancellation and the subscription error otherwise.
func (e *Engine) Run(ctx context.Context) error {
	heads, err := e.chain.SubscribeNewHeads(ctx)
	if err != nil {
		return err
	}
	defer heads.Unsubscribe()

	var pending *chain.Feed[common.Hash]
	var pendingItems <-chan common.Hash
	var pendingErrs <-chan error
	if len(e.pending) > 0 {
		pending, err = e.chain.SubscribePendingTransactions(ctx)
		if err != nil {
			return err
		}
		defer pending.Unsubscribe()
		pendingItems, pendingErrs = pending.Items(), pending.Err()
	}

	flushTicker := time.NewTicker(e.flushInterval)
	defer flushTicker.Stop()

	e.logger.Info("engine started",
		zap.Int("pending_monitors", len(e.pending)),
		zap.Int("block_monitors", len(e.blocks)),
		zap.Bool("submit", e.submit))

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()

		case <-e.stop:
			e.shutdown()
			return nil

		case h := <-heads.Items():
			e.onHead(h)

		case hash := <-pendingItems:
			e.onPending(hash)

		case err := <-heads.Err():
			e.shutdown()
			return fmt.Errorf("newHeads subscription: %w", err)

		case err := <-pendingErrs:
			e.shutdown()
			return fmt.Errorf("newPendingTransactions subscription: %w", err)

		case c := <-e.registry.Completions():
			e.record(ctx, c)

		case <-flushTicker.C:
			e.flushLatencies(ctx)
		}
	}
}

// onPending spawns a unit for hash unless one is already live.
func (e *Engine) onPending(hash common.Hash) {
	e.stats.pending.Add(1)
	e.metrics.PendingSeen.Inc()

	key := unitKey{Kind: domain.UnitPending, Hash: hash}
	entry, err := e.registry.TryInsert(key)
	if err != nil {
		e.rejected(key, err)
		return
	}
	if err := entry.Spawn(e.pendingUnit(hash, time.Now())); err != nil {
		e.rejected(key, err)
		return
	}
	e.spawned(key)
}

// onHead spawns the block unit for h.
func (e *Engine) onHead(h *types.Header) {
	e.stats.heads.Add(1)
	e.metrics.HeadsSeen.Inc()
	if h.Number != nil {
		e.metrics.HighestBlock.Set(float64(h.Number.Uint64()))
	}

	key := unitKey{Kind: domain.UnitBlock, Hash: h.Hash()}
	if err := e.registry.Spawn(key, e.blockUnit(h, time.Now())); err != nil {
		e.rejected(key, err)
		return
	}
	e.spawned(key)
}

func (e *Engine) spawned(key unitKey) {
	e.stats.spawned.Add(1)
	e.metrics.TasksSpawned.WithLabelValues(string(key.Kind)).Inc()
	e.metrics.LiveTasks.Set(float64(e.registry.Len()))
}

func (e *Engine) rejected(key unitKey, err error) {
	if errors.Is(err, task.ErrClosed) {
		return
	}
	e.stats.rejected.Add(1)
	e.metrics.TasksRejected.WithLabelValues(string(key.Kind)).Inc()
	e.logger.Debug("unit already live", zap.Stringer("key", key))
}

// abortIncluded aborts pending units for transactions included in a block.
func (e *Engine) abortIncluded(txs []common.Hash) int {
	aborted := 0
	for _, h := range txs {
		if _, ok := e.registry.Abort(unitKey{Kind: domain.UnitPending, Hash: h}); ok {
			aborted++
		}
	}
	if aborted > 0 {
		e.stats.aborted.Add(int64(aborted))
		e.metrics.TasksAborted.WithLabelValues("included").Add(float64(aborted))
		e.metrics.LiveTasks.Set(float64(e.registry.Len()))
	}
	return aborted
}

// shutdown aborts live units, fires the token for operations that ignore
// their context, and drains completions buffered before the abort.
func (e *Engine) shutdown() {
	live := e.registry.AbortAll()
	e.trigger.Fire()
	e.registry.Close()
	if live > 0 {
		e.stats.aborted.Add(int64(live))
		e.metrics.TasksAborted.WithLabelValues("shutdown").Add(float64(live))
	}

	ctx, cancelFlush := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancelFlush()
drain:
	for {
		select {
		case c := <-e.registry.Completions():
			e.record(ctx, c)
		default:
			break drain
		}
	}
	e.flushLatencies(ctx)
	e.metrics.LiveTasks.Set(0)

	e.logger.Info("engine stopped",
		zap.Int("aborted_on_shutdown", live),
		zap.Int64("completed", e.stats.completed.Load()))
}
