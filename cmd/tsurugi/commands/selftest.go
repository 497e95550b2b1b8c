package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shizukutanaka/tsurugi/internal/cryptonight"
	"github.com/shizukutanaka/tsurugi/internal/memory"
	"github.com/shizukutanaka/tsurugi/internal/mining"
)

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Verify the hashing kernels against known-answer vectors",
	RunE:  runSelftest,
}

func init() {
	rootCmd.AddCommand(selftestCmd)
}

func runSelftest(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	alloc := memory.New(cfg.SlowMemoryMode(), log)
	if err := alloc.Init(cryptonight.ScratchpadSize); err != nil {
		return err
	}

	if err := mining.SelfTest(cryptonight.NewAllocator(alloc), cryptonight.Kernel, log); err != nil {
		return err
	}
	fmt.Println("self-test passed: all kernel widths match the known answers")
	return nil
}
