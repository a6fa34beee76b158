package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-threads/engine"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <file.wasm> [args...]",
	Short: "Rewrite a module, instantiate it and call an export",
	Long: `run loads the module with the wait rewrite applied, provides the clock,
spin-timeout and wasi thread-hold/thread-release imports and calls the export
from a host loop. Arguments are integers passed as i32/i64 values.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringP("export", "e", "_start", "export to call")
	runCmd.Flags().Bool("prohibit", false, "set wait_prohibited before the call")
	runCmd.Flags().Duration("max-spin", 0, "override max_spin_ns on the instance")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	export, _ := cmd.Flags().GetString("export")
	prohibit, _ := cmd.Flags().GetBool("prohibit")

	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	e, err := engine.New(ctx, nil)
	if err != nil {
		return err
	}
	defer e.Close(ctx)

	mod, err := e.Load(ctx, data)
	if err != nil {
		return err
	}
	if res := mod.Rewrite(); res != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "rewrote %d waits\n", res.Replaced)
	}
	inst, err := mod.Instantiate(ctx, "")
	if err != nil {
		return err
	}
	defer inst.Close(ctx)

	if prohibit {
		if err := inst.SetWaitProhibited(true); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("max-spin") {
		d, _ := cmd.Flags().GetDuration("max-spin")
		if err := inst.SetMaxSpin(d); err != nil {
			return err
		}
	}

	results, err := inst.Run(ctx, export, params...)
	if err != nil {
		return fmt.Errorf("call %s: %w", export, err)
	}
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = strconv.FormatUint(r, 10)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("result:"), strings.Join(out, " "))
	return nil
}

// parseParams accepts signed or unsigned decimal integers and passes them
// as raw 64-bit stack values.
func parseParams(args []string) ([]uint64, error) {
	params := make([]uint64, len(args))
	for i, a := range args {
		if v, err := strconv.ParseInt(a, 0, 64); err == nil {
			params[i] = uint64(v)
			continue
		}
		v, err := strconv.ParseUint(a, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %q is not an integer", i, a)
		}
		params[i] = v
	}
	return params, nil
}
