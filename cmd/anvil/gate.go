package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/anvil/pkg/config"
	"github.com/cuemby/anvil/pkg/engine"
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Inspect the engine's embedded concurrency gate",
}

var gateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print whether a fresh engine's gate starts Idle",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgFile, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		eng := engine.New(engine.Config{
			DetectCycles:   cfg.DetectCycles,
			NestedPolicy:   cfg.NestedPolicy,
			ParallelPolicy: cfg.ParallelPolicy,
		})
		fmt.Printf("idle: %v\n", eng.Gate().Idle())
		fmt.Printf("nested_policy: %v\n", cfg.NestedPolicy)
		fmt.Printf("parallel_policy: %v\n", cfg.ParallelPolicy)
		return nil
	},
}

func init() {
	gateCmd.AddCommand(gateStatusCmd)
}
