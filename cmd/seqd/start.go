package seqd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/manifest-network/seqd/internal/blocklog"
	"github.com/manifest-network/seqd/internal/config"
	"github.com/manifest-network/seqd/internal/metrics"
	"github.com/manifest-network/seqd/internal/sequencer"
	"github.com/manifest-network/seqd/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the sequencing daemon",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.FromViper(viper.GetViper())
		if err := setupLogging(cfg.Logging.Level); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return runDaemon(cmd.Context(), cfg)
	},
}

func init() {
	startCmd.Flags().String("server.address", ":8547", "HTTP listen address")
	startCmd.Flags().String("storage.postgres-dsn", "", "Postgres DSN for the block log (empty selects the in-memory store)")
	startCmd.Flags().Int("queue.capacity", 4096, "maximum staged entries before backpressure")
	startCmd.Flags().Duration("queue.max-age", 0, "queue residency limit for staged entries (0 disables)")
	startCmd.Flags().Int("block.max-entries", 512, "maximum entries per block")
	startCmd.Flags().Int64("block.max-bytes", 1<<20, "maximum payload bytes per block")
	startCmd.Flags().Duration("block.interval", time.Second, "maximum wait before sequencing pending entries")
	startCmd.Flags().Int("block.failure-threshold", 5, "consecutive append failures before refusing admissions (0 disables)")
	if err := viper.BindPFlags(startCmd.Flags()); err != nil {
		fmt.Fprintln(os.Stderr, "failed to bind flags:", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(startCmd)
}

func runDaemon(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	engine := sequencer.New(sequencer.Config{
		QueueCapacity:    cfg.Queue.Capacity,
		QueueMaxAge:      cfg.Queue.MaxAge,
		MaxBlockEntries:  cfg.Block.MaxEntries,
		MaxBlockBytes:    cfg.Block.MaxBytes,
		BlockInterval:    cfg.Block.Interval,
		FailureThreshold: cfg.Block.FailureThreshold,
	}, store, m, slog.Default())
	defer engine.Close()

	httpServer := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: server.New(engine, slog.Default()).Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Sequencer started", "address", cfg.Server.Address)
		if err := engine.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("assembler stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Release parked long polls before draining connections.
		engine.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("Sequencer stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (blocklog.Store, error) {
	if cfg.PostgresDSN == "" {
		slog.Warn("No Postgres DSN configured, using in-memory block log (not durable)")
		return blocklog.NewMemory(), nil
	}
	store, err := blocklog.OpenPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open block log: %w", err)
	}
	return store, nil
}
