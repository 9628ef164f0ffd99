package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/anvil/pkg/anvilkey"
	"github.com/cuemby/anvil/pkg/config"
	"github.com/cuemby/anvil/pkg/engine"
	"github.com/cuemby/anvil/pkg/materializer"
	"github.com/cuemby/anvil/pkg/signalbus"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Run a toy rule graph end to end through the Engine, ConcurrencyGate, SignalBus and Materializer",
	RunE:  runBuild,
}

// sourceFile is an injected key: the contents of one "source file" the
// demo graph compiles.
var sourceFile = engine.NewInjected[string]("source_file", "greeting.txt", anvilkey.Storage{Class: anvilkey.ClassNormal}, func(a, b string) bool { return a == b })

// uppercased is a derived key reading sourceFile and upper-casing it,
// standing in for a "compile" action.
var uppercased = engine.NewDerived[string]("uppercase_action", "greeting.txt",
	anvilkey.Storage{Class: anvilkey.ClassNormal},
	func(a, b string) bool { return a == b }, nil,
	func(ctx context.Context, c *engine.Ctx) (string, error) {
		raw, err := c.Compute(ctx, sourceFile)
		if err != nil {
			return "", err
		}
		s := raw.(string)
		out := make([]byte, len(s))
		for i := range s {
			ch := s[i]
			if ch >= 'a' && ch <= 'z' {
				ch -= 'a' - 'A'
			}
			out[i] = ch
		}
		time.Sleep(5 * time.Millisecond) // stand-in for real action latency
		return string(out), nil
	},
)

func runBuild(cmd *cobra.Command, args []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	bus := signalbus.New(cfg.CriticalPathMode)
	eng := engine.New(engine.Config{
		DetectCycles:   cfg.DetectCycles,
		NestedPolicy:   cfg.NestedPolicy,
		ParallelPolicy: cfg.ParallelPolicy,
		Bus:            bus,
	})

	ctx := context.Background()
	tr := eng.Begin(uuid.NewString())
	tr, err = eng.Gate().Admit(ctx, tr)
	if err != nil {
		return fmt.Errorf("admit transaction: %w", err)
	}
	defer eng.Gate().Release()
	defer tr.Close()

	tr2 := eng.Inject([]engine.Change{{Key: sourceFile, Value: "hello anvil"}}, tr)
	defer tr2.Close()

	value, err := eng.Eval(ctx, uppercased, tr2)
	if err != nil {
		return fmt.Errorf("eval: %w", err)
	}
	fmt.Printf("computed value: %q\n", value)

	bus.Signal(signalbus.Signal{Kind: signalbus.KindBuildFinished})
	report := bus.Wait()
	fmt.Printf("critical path total: %s\n", report.Total)
	for _, e := range report.Path {
		fmt.Printf("  %s: %s\n", e.Node, e.Duration)
	}

	m, err := materializer.New(materializer.Config{Root: "."})
	if err != nil {
		return fmt.Errorf("materializer init: %w", err)
	}
	defer m.Close()

	if err := m.DeclareWrite("anvil-out/greeting.txt", []byte(value.(string)), false); err != nil {
		return fmt.Errorf("declare write: %w", err)
	}
	for r := range m.Ensure(ctx, []string{"anvil-out/greeting.txt"}) {
		if r.Err != nil {
			return fmt.Errorf("ensure %s: %w", r.Path, r.Err)
		}
		fmt.Printf("materialized %s (%d bytes)\n", r.Path, r.Meta.DigestSize)
	}

	return nil
}
