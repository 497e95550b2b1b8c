package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shizukutanaka/tsurugi/internal/config"
	"github.com/shizukutanaka/tsurugi/internal/hardware"
	"github.com/shizukutanaka/tsurugi/internal/logging"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file tuned to the detected hardware",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")

	if _, err := os.Stat(cfgFile); err == nil && !force {
		return fmt.Errorf("%s already exists, use --force to overwrite", cfgFile)
	}

	log, err := logging.New("info", verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	info, err := hardware.Detect(log)
	if err != nil {
		return err
	}

	cfg := config.Default()
	cfg.Mining.Threads = hardware.SuggestThreads(info)
	if err := cfg.Save(cfgFile); err != nil {
		return err
	}

	fmt.Printf("wrote %s with %d worker thread(s)\n", cfgFile, len(cfg.Mining.Threads))
	return nil
}
