package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chain-reactor/internal/chain"
	"chain-reactor/internal/config"
	"chain-reactor/internal/engine"
	"chain-reactor/internal/logging"
	"chain-reactor/internal/monitor"
	"chain-reactor/internal/observability"
	"chain-reactor/internal/signer"
	"chain-reactor/internal/submit"
	"chain-reactor/internal/transport"
)

const forceExitAfter = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Subscribe to the node and react until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.Log)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		done := make(chan struct{})
		defer close(done)
		go handleSignals(cancel, done, logger)

		err = run(ctx, cfg, logger)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("reactor stopped", zap.Error(err))
			return err
		}
		logger.Info("shutdown complete")
		return nil
	},
}

func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	return config.Load(configPath)
}

// handleSignals cancels on the first SIGINT/SIGTERM and exits on the second,
// or when graceful shutdown takes too long.
func handleSignals(cancel context.CancelFunc, done <-chan struct{}, logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
		cancel()
	case <-done:
		return
	}

	select {
	case sig := <-sigCh:
		logger.Warn("received second signal, forcing exit", zap.Stringer("signal", sig))
		os.Exit(1)
	case <-time.After(forceExitAfter):
		logger.Warn("graceful shutdown timed out, forcing exit", zap.Duration("after", forceExitAfter))
		os.Exit(1)
	case <-done:
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.DefaultMetrics
	logger.Info("starting reactor",
		zap.String("endpoint", cfg.RPC.Endpoint),
		zap.String("transport", cfg.RPC.Transport),
		zap.String("multicall", cfg.Multicall.Contract),
		zap.Bool("submit", cfg.Multicall.Submit))

	tr, err := dialTransport(ctx, cfg.RPC, logger)
	if err != nil {
		return err
	}
	if c, ok := tr.(io.Closer); ok {
		defer c.Close()
	}
	if cfg.RPC.RateLimit > 0 {
		tr = transport.NewLimited(tr, cfg.RPC.RateLimit, cfg.RPC.Burst)
	}
	client := chain.New(transport.NewBounded(tr, cfg.RPC.Timeout, transport.WithObserver(metrics)))

	chainID := big.NewInt(cfg.Multicall.ChainID)
	nodeChainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}
	if nodeChainID.Cmp(chainID) != 0 {
		return fmt.Errorf("node reports chain id %s, config expects %s", nodeChainID, chainID)
	}

	opts := submit.Options{
		Contract:           common.HexToAddress(cfg.Multicall.Contract),
		ChainID:            chainID,
		GasHeadroomPercent: cfg.Multicall.GasHeadroomPercent,
		Logger:             logger,
	}
	if cfg.Multicall.SignerKey != "" {
		ks, err := signer.NewKeySigner(cfg.Multicall.SignerKey, chainID)
		if err != nil {
			return fmt.Errorf("signer: %w", err)
		}
		opts.Signer = ks
		logger.Info("signer loaded", zap.Stringer("address", ks.Address()))
	}
	submitter, err := submit.New(client, opts)
	if err != nil {
		return err
	}

	pending, blocks, err := buildMonitors(cfg.Monitors, logger)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	eng, err := engine.New(engine.Options{
		Chain:           client,
		Reactor:         submitter,
		PendingMonitors: pending,
		BlockMonitors:   blocks,
		Submit:          cfg.Multicall.Submit,
		Reactions:       st.reactions,
		Latencies:       st.latencies,
		Seen:            st.seen,
		SeenTTL:         cfg.Engine.SeenTTL,
		FlushInterval:   cfg.Engine.FlushInterval,
		LatencyBatch:    cfg.Engine.LatencyBatch,
		Buffer:          cfg.Engine.Buffer,
		Metrics:         metrics,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	if cfg.Server.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           newMux(eng, time.Now()),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("serving metrics", zap.String("addr", cfg.Server.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

func dialTransport(ctx context.Context, rc config.RPCConfig, logger *zap.Logger) (transport.Transport, error) {
	var tr transport.Transport
	switch rc.Transport {
	case config.TransportGeth:
		t, err := transport.DialGeth(ctx, rc.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", rc.Endpoint, err)
		}
		tr = t
	case config.TransportWS:
		wsCfg := transport.DefaultWSConfig()
		wsCfg.Logger = logger
		t, err := transport.NewWSTransport(ctx, rc.Endpoint, &wsCfg)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", rc.Endpoint, err)
		}
		tr = t
	case config.TransportHTTP:
		opts := []transport.HTTPOption{transport.WithHTTPTimeout(rc.Timeout)}
		if rc.MaxRetries > 0 {
			opts = append(opts, transport.WithMaxRetries(rc.MaxRetries))
		}
		tr = transport.NewHTTPTransport(rc.Endpoint, opts...)
	default:
		return nil, fmt.Errorf("unknown transport %q", rc.Transport)
	}
	return tr, nil
}

func buildMonitors(mc config.MonitorsConfig, logger *zap.Logger) ([]monitor.PendingMonitor, []monitor.BlockMonitor, error) {
	var pending []monitor.PendingMonitor
	var blocks []monitor.BlockMonitor
	if mc.Log {
		l := monitor.NewLogger(logger)
		pending = append(pending, l)
		blocks = append(blocks, l)
	}
	for _, w := range mc.Watch {
		rules, err := w.DecodeRules()
		if err != nil {
			return nil, nil, err
		}
		pending = append(pending, monitor.NewWatch(w.Name, rules...))
	}
	return pending, blocks, nil
}

// statusResponse is the JSON body of /status.
type statusResponse struct {
	Status  string       `json:"status"`
	RunID   string       `json:"run_id"`
	Uptime  string       `json:"uptime"`
	Started time.Time    `json:"started"`
	Stats   engine.Stats `json:"stats"`
}

func newMux(eng *engine.Engine, started time.Time) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Status:  "running",
			RunID:   eng.RunID(),
			Uptime:  time.Since(started).Round(time.Second).String(),
			Started: started,
			Stats:   eng.Stats(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
	return mux
}
