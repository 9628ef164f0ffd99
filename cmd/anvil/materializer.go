package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/anvil/pkg/materializer"
)

var materializerRoot string

var materializerCmd = &cobra.Command{
	Use:   "materializer",
	Short: "Inspect and exercise the content materializer",
}

var materializerInspectCmd = &cobra.Command{
	Use:   "inspect PATH",
	Short: "Declare, materialize, and report metadata for one literal-content path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := materializer.New(materializer.Config{Root: materializerRoot})
		if err != nil {
			return fmt.Errorf("materializer init: %w", err)
		}
		defer m.Close()

		path := args[0]
		if err := m.DeclareWrite(path, []byte("anvil materializer inspect demo content\n"), false); err != nil {
			return fmt.Errorf("declare: %w", err)
		}

		for r := range m.Ensure(context.Background(), []string{path}) {
			if r.Err != nil {
				return fmt.Errorf("ensure: %w", r.Err)
			}
			fmt.Printf("path: %s\n", r.Path)
			fmt.Printf("artifact_type: %s\n", r.Meta.ArtifactType)
			fmt.Printf("digest_size: %d\n", r.Meta.DigestSize)
			fmt.Printf("digest_sha1: %x\n", r.Meta.DigestSHA1)
			fmt.Printf("last_access_time: %s\n", r.Meta.LastAccessTime)
		}
		return nil
	},
}

func init() {
	materializerCmd.PersistentFlags().StringVar(&materializerRoot, "root", ".", "Root directory artifacts are materialized under")
	materializerCmd.AddCommand(materializerInspectCmd)
}
