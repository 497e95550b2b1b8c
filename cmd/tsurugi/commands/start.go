package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shizukutanaka/tsurugi/internal/config"
	"github.com/shizukutanaka/tsurugi/internal/cryptonight"
	"github.com/shizukutanaka/tsurugi/internal/hardware"
	"github.com/shizukutanaka/tsurugi/internal/logging"
	"github.com/shizukutanaka/tsurugi/internal/memory"
	"github.com/shizukutanaka/tsurugi/internal/mining"
	"github.com/shizukutanaka/tsurugi/internal/monitoring"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start mining",
	Long: `Start the worker pool. Workers wait on a stall item until work is
published to the pool; this command publishes none itself and logs every
solution found.

Examples:
  # Start with the default config
  tsurugi start

  # Start with a specific config
  tsurugi start --config rig7.yaml`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().Duration("stats-interval", 30*time.Second, "How often to log hashrate")
}

func runStart(cmd *cobra.Command, args []string) error {
	statsInterval, _ := cmd.Flags().GetDuration("stats-interval")

	cfg, log, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	threads, err := resolveThreads(cfg, log)
	if err != nil {
		return err
	}

	alloc := memory.New(cfg.SlowMemoryMode(), log)
	if err := alloc.Init(cryptonight.ScratchpadSize); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := mining.NewPool(log, solutionLogger(log), cryptonight.NewAllocator(alloc))
	if err := pool.Start(mining.StallWork(), threads); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	if cfg.Monitoring.Enabled {
		monitoring.New(log, cfg.Monitoring, pool).Start(ctx)
	}
	if err := config.Watch(ctx, cfgFile, log); err != nil {
		log.Warn("config watcher unavailable", zap.Error(err))
	}

	go logStats(ctx, pool, log, statsInterval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("shutting down", zap.String("signal", sig.String()))

	cancel()
	return pool.Shutdown(5 * time.Second)
}

func loadConfigAndLogger() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = config.Default()
		} else {
			return nil, nil, err
		}
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	log, err := logging.New(level, verbose)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// resolveThreads uses the configured worker list, or derives one from the
// detected hardware when the config leaves it empty.
func resolveThreads(cfg *config.Config, log *zap.Logger) ([]mining.ThreadSpec, error) {
	threadCfgs := cfg.Mining.Threads
	if len(threadCfgs) == 0 {
		info, err := hardware.Detect(log)
		if err != nil {
			return nil, fmt.Errorf("hardware detection: %w", err)
		}
		threadCfgs = hardware.SuggestThreads(info)
		log.Info("auto-configured worker threads", zap.Int("count", len(threadCfgs)))
	}

	threads := make([]mining.ThreadSpec, len(threadCfgs))
	for i, t := range threadCfgs {
		threads[i] = mining.ThreadSpec{Multiway: t.Multiway, Affinity: t.CPUAffinity}
	}
	return threads, nil
}

func solutionLogger(log *zap.Logger) mining.SinkFunc {
	return func(s mining.Solution) {
		log.Info("solution found",
			zap.Binary("job_id", s.JobID[:]),
			zap.Uint32("nonce", s.Nonce),
			zap.Int("pool_id", s.PoolID))
	}
}

func logStats(ctx context.Context, pool *mining.Pool, log *zap.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total, missing := pool.Hashrate(60 * time.Second)
			log.Info("hashrate",
				zap.String("total", humanize.SIWithDigits(total, 2, "H/s")),
				zap.Int("workers", pool.WorkerCount()),
				zap.Int("without_telemetry", missing),
				zap.Uint64("solutions", pool.SolutionsFound()))
		}
	}
}
