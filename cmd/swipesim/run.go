package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/swipedeck/ledger"
	"github.com/IvanBrykalov/swipedeck/metrics/prom"
	"github.com/IvanBrykalov/swipedeck/record"
	"github.com/IvanBrykalov/swipedeck/remote/sqlite"
	"github.com/IvanBrykalov/swipedeck/session"
	"github.com/IvanBrykalov/swipedeck/telemetry"
	"github.com/IvanBrykalov/swipedeck/telemetry/natssink"
)

type runFlags struct {
	duration    time.Duration
	think       time.Duration
	latency     time.Duration
	acceptPct   int
	failPct     int
	hangPct     int
	seed        int64
	metricsAddr string
}

func newRunCmd(cfgPath *string) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive one simulated swipe session until the remote runs dry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, *cfgPath, f)
		},
	}
	fl := cmd.Flags()
	fl.DurationVar(&f.duration, "duration", time.Minute, "stop after this long")
	fl.DurationVar(&f.think, "think", 20*time.Millisecond, "pause between swipes")
	fl.DurationVar(&f.latency, "latency", 5*time.Millisecond, "injected remote latency per call")
	fl.IntVar(&f.acceptPct, "accept", 30, "accept percentage [0..100]")
	fl.IntVar(&f.failPct, "fail", 5, "percentage of decisions the remote rejects [0..100]")
	fl.IntVar(&f.hangPct, "hang", 0, "percentage of decisions the remote never answers [0..100]")
	fl.Int64Var(&f.seed, "seed", time.Now().UnixNano(), "random seed")
	fl.StringVar(&f.metricsAddr, "metrics", "", "serve Prometheus metrics at addr (overrides metrics.addr)")
	return cmd
}

func runSession(cmd *cobra.Command, cfgPath string, f runFlags) error {
	cfg, log, err := setup(cfgPath)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	db, err := sqlite.Open(cfg.Remote.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	remote := newFlaky(db, f.latency, f.failPct, f.hangPct, f.seed)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := prom.New(reg, cfg.Metrics.Namespace, "store", nil)

	addr := cfg.Metrics.Addr
	if f.metricsAddr != "" {
		addr = f.metricsAddr
	}
	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("metrics: serving", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	opt := cfg.SessionOptions()
	opt.Store.Metrics = metrics
	opt.Logger = log

	var failed atomic.Uint64
	opt.OnDecisionFailed = func(rb *ledger.RolledBackError) {
		failed.Add(1)
		log.Debug("decision rolled back",
			zap.String("id", rb.Token.CandidateID()),
			zap.Bool("detached", rb.Detached),
			zap.Error(rb.Reason))
	}

	if cfg.Telemetry.Enabled {
		sinks := telemetry.MultiSink{telemetry.NewZapSink(log)}
		if cfg.Telemetry.NATSURL != "" {
			nc, err := natssink.Connect(cfg.Telemetry.NATSURL)
			if err != nil {
				return fmt.Errorf("nats: %w", err)
			}
			defer nc.Close()
			sinks = append(sinks, natssink.New(nc, cfg.Telemetry.Subject, log))
		}
		opt.Events = sinks
	}

	e := session.New(remote, opt)
	defer e.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, f.duration)
	defer cancel()

	started := time.Now()
	if err := e.Start(ctx); err != nil {
		log.Warn("initial fetch failed", zap.Error(err))
	}

	rnd := rand.New(rand.NewSource(f.seed))
	var swipes, skips, refreshes int
	for ctx.Err() == nil {
		if e.IsExhausted() {
			if snap := e.Snapshot(); snap.Pending > 0 {
				// A rollback may still reopen the deck.
				sleep(ctx, f.think)
				continue
			}
			refreshes++
			if err := e.ManualRefresh(ctx); err != nil {
				log.Warn("refresh failed", zap.Error(err))
				sleep(ctx, f.think)
				continue
			}
			if e.IsExhausted() {
				break
			}
			continue
		}

		d := record.Reject
		if rnd.Intn(100) < f.acceptPct {
			d = record.Accept
		}
		var invalid *session.InvalidRecordError
		switch err := e.Submit(d); {
		case err == nil:
			swipes++
		case errors.As(err, &invalid):
			log.Debug("skipping invalid candidate", zap.String("id", invalid.ID), zap.Error(invalid.Err))
			if err := e.SkipInvalid(); err != nil && !errors.Is(err, session.ErrNothingToSkip) {
				return err
			}
			skips++
		case errors.Is(err, session.ErrExhausted):
		default:
			return err
		}

		if e.RefillError() != nil {
			refreshes++
			_ = e.ManualRefresh(ctx)
		}
		sleep(ctx, f.think)
	}

	e.Wait()
	elapsed := time.Since(started)
	snap := e.Snapshot()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "db=%s dur=%v seed=%d accept=%d%% fail=%d%% hang=%d%%\n",
		cfg.Remote.DBPath, elapsed.Round(time.Millisecond), f.seed, f.acceptPct, f.failPct, f.hangPct)
	fmt.Fprintf(out, "swipes=%d (%.1f/s)  skipped=%d  refreshes=%d  passes=%d\n",
		swipes, float64(swipes)/elapsed.Seconds(), skips, refreshes, snap.Pass)
	fmt.Fprintf(out, "submitted=%d  confirmed=%d  rolled-back=%d  duplicates=%d  failed-callbacks=%d\n",
		snap.Submitted, snap.Confirmed, snap.RolledBack, snap.Duplicates, failed.Load())
	fmt.Fprintf(out, "store: entries=%d  hits=%d  misses=%d  hit-rate=%.2f%%  evictions=%d  compressed=%d (ratio %.2f)\n",
		snap.Cache.Entries, snap.Cache.Hits, snap.Cache.Misses, snap.Cache.HitRate*100,
		snap.Cache.Evictions, snap.Cache.Compressed, snap.Cache.CompressionRatio)
	fmt.Fprintf(out, "events: emitted=%d  debounced=%d  dropped=%d\n",
		snap.Telemetry.Emitted, snap.Telemetry.Debounced, snap.Telemetry.Dropped)
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
