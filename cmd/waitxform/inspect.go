package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-threads/waitxform"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [flags] <file.wasm>",
	Short: "List the atomic waits in a module",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().BoolP("interactive", "i", false, "browse sites in a terminal UI")
}

func runInspect(cmd *cobra.Command, args []string) error {
	interactive, err := cmd.Flags().GetBool("interactive")
	if err != nil {
		return err
	}
	if interactive {
		return runInteractive(args[0])
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	sites, err := waitxform.Inspect(data)
	if err != nil {
		return err
	}
	printSites(cmd.OutOrStdout(), args[0], sites)
	return nil
}

func printSites(w io.Writer, file string, sites []waitxform.WaitSite) {
	fmt.Fprintf(w, "%s: %d wait sites\n", file, len(sites))
	bad := color.New(color.FgRed)
	good := color.New(color.FgGreen)
	for _, s := range sites {
		status := good.Sprint("ok")
		if !s.Supported() {
			status = bad.Sprint(s.Reason)
		}
		fmt.Fprintf(w, "  %-28s +%-6d %s %s  %s\n", siteFunc(s), s.Offset, s.Form, siteMem(s), status)
	}
}

func siteFunc(s waitxform.WaitSite) string {
	if s.Name != "" {
		return fmt.Sprintf("func[%d] %s", s.Func, s.Name)
	}
	return fmt.Sprintf("func[%d]", s.Func)
}

func siteMem(s waitxform.WaitSite) string {
	align := fmt.Sprintf("2^%d", s.Mem.Align)
	if s.Mem.Align < 16 {
		align = fmt.Sprint(1 << s.Mem.Align)
	}
	return fmt.Sprintf("mem=%d align=%s offset=%d", s.Mem.MemIdx, align, s.Mem.Offset)
}
