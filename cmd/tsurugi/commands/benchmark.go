package commands

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/shizukutanaka/tsurugi/internal/cryptonight"
	"github.com/shizukutanaka/tsurugi/internal/memory"
	"github.com/shizukutanaka/tsurugi/internal/mining"
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Measure hashrate against a synthetic work item",
	RunE:  runBenchmark,
}

func init() {
	rootCmd.AddCommand(benchmarkCmd)
	benchmarkCmd.Flags().Duration("duration", 60*time.Second, "How long to run")
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	duration, _ := cmd.Flags().GetDuration("duration")

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

	// Target zero never matches, so the hot loop runs undisturbed.
	work := mining.WorkItem{Size: 76}
	copy(work.JobID[:], "benchmk1")

	pool := mining.NewPool(log, mining.SinkFunc(func(mining.Solution) {}),
		cryptonight.NewAllocator(alloc))
	if err := pool.Start(work, threads); err != nil {
		return err
	}
	defer pool.Shutdown(5 * time.Second)

	fmt.Printf("benchmarking %d threads for %s...\n", len(threads), duration)
	time.Sleep(duration)

	window := duration
	if window > 60*time.Second {
		window = 60 * time.Second
	}
	for i := 0; i < pool.WorkerCount(); i++ {
		fmt.Printf("  thread %d: %s\n", i,
			humanize.SIWithDigits(pool.WorkerHashrate(i, window), 2, "H/s"))
	}
	total, missing := pool.Hashrate(window)
	fmt.Printf("total: %s (%d thread(s) without telemetry)\n",
		humanize.SIWithDigits(total, 2, "H/s"), missing)
	return nil
}
