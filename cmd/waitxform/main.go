package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	wasmthreads "github.com/wippyai/wasm-threads"
	"github.com/wippyai/wasm-threads/atomics"
	"github.com/wippyai/wasm-threads/config"
	"github.com/wippyai/wasm-threads/engine"
	"github.com/wippyai/wasm-threads/futures"
	"github.com/wippyai/wasm-threads/host"
	"github.com/wippyai/wasm-threads/thread"
	"github.com/wippyai/wasm-threads/waitxform"
)

var rootCmd = &cobra.Command{
	Use:   "waitxform",
	Short: "Rewrite atomic waits in WebAssembly modules",
	Long: `waitxform replaces memory.atomic.wait32 with a dispatcher that spins
while the exported wait_prohibited global is set, so the module can run on
threads that are not allowed to block.`,
	PersistentPreRunE: setup,
	SilenceUsage:      true,
}

func main() {
	rootCmd.Version = wasmthreads.Version

	rootCmd.AddCommand(transformCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(runCmd)

	rootCmd.PersistentFlags().String("config", "", "TOML settings file")
	rootCmd.PersistentFlags().Bool("verbose", false, "log debug output to stderr")
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

// setup applies --config, --verbose and --color before any subcommand.
func setup(cmd *cobra.Command, _ []string) error {
	flags := cmd.Root().PersistentFlags()

	if verbose, _ := flags.GetBool("verbose"); verbose {
		log, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		waitxform.SetLogger(log.Named("waitxform"))
		engine.SetLogger(log.Named("engine"))
		host.SetLogger(log.Named("host"))
		atomics.SetLogger(log.Named("atomics"))
		futures.SetLogger(log.Named("futures"))
		thread.SetLogger(log.Named("thread"))
		config.SetLogger(log.Named("config"))
	}

	if path, _ := flags.GetString("config"); path != "" {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		config.Set(cfg)
	} else if err := config.EnvError(); err != nil {
		return err
	}

	mode, _ := flags.GetString("color")
	switch mode {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	case "auto":
		color.NoColor = !isTerminal(os.Stdout)
	default:
		return fmt.Errorf("invalid --color value %q", mode)
	}
	return nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
