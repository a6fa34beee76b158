package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasm-threads/config"
	"github.com/wippyai/wasm-threads/waitxform"
)

var transformCmd = &cobra.Command{
	Use:   "transform [flags] <file.wasm> [file.wasm...]",
	Short: "Rewrite atomic waits in one or more modules",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTransform,
}

func init() {
	transformCmd.Flags().StringP("out", "o", "", "output file (single input) or directory")
	transformCmd.Flags().String("module", "", "import module name for the clock and spin-timeout imports")
	transformCmd.Flags().Duration("max-spin", 0, "spin ceiling baked into the module; 0 disables it (default from settings)")
	transformCmd.Flags().String("suffix", ".xform", "suffix added before .wasm when writing next to the input")
	transformCmd.Flags().IntP("jobs", "j", 0, "parallel jobs (0 = GOMAXPROCS)")
}

type transformOptions struct {
	cfg    waitxform.Config
	out    string
	suffix string
	jobs   int
}

type transformResult struct {
	in, out  string
	replaced int
	err      error
}

func runTransform(cmd *cobra.Command, args []string) error {
	opts, err := transformOptionsFrom(cmd)
	if err != nil {
		return err
	}
	if opts.out != "" && len(args) > 1 {
		if st, err := os.Stat(opts.out); err != nil || !st.IsDir() {
			return fmt.Errorf("--out must be a directory when transforming %d files", len(args))
		}
	}

	results, err := transformFiles(cmd.Context(), args, opts)
	printResults(cmd.OutOrStdout(), results)
	return err
}

func transformOptionsFrom(cmd *cobra.Command) (transformOptions, error) {
	settings := config.Get()
	opts := transformOptions{
		cfg: waitxform.Config{ImportModule: settings.ImportModule, MaxSpin: settings.MaxSpin},
	}
	if opts.cfg.MaxSpin == 0 {
		opts.cfg.MaxSpin = waitxform.NoSpinLimit
	}

	flags := cmd.Flags()
	var err error
	if opts.out, err = flags.GetString("out"); err != nil {
		return opts, err
	}
	if opts.suffix, err = flags.GetString("suffix"); err != nil {
		return opts, err
	}
	if opts.jobs, err = flags.GetInt("jobs"); err != nil {
		return opts, err
	}
	if module, _ := flags.GetString("module"); module != "" {
		opts.cfg.ImportModule = module
	}
	if flags.Changed("max-spin") {
		d, err := flags.GetDuration("max-spin")
		if err != nil {
			return opts, err
		}
		switch {
		case d < 0:
			return opts, fmt.Errorf("--max-spin must not be negative")
		case d == 0:
			opts.cfg.MaxSpin = waitxform.NoSpinLimit
		default:
			opts.cfg.MaxSpin = d
		}
	}
	return opts, nil
}

// transformFiles rewrites every input concurrently. Every file is attempted;
// the returned error combines all failures.
func transformFiles(ctx context.Context, files []string, opts transformOptions) ([]transformResult, error) {
	jobs := opts.jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	results := make([]transformResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, len(files)))
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = transformResult{in: path, err: err}
				return nil
			}
			results[i] = transformFile(path, outputPath(path, len(files), opts), opts.cfg)
			return nil
		})
	}
	_ = g.Wait()

	var errs error
	for _, r := range results {
		if r.err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", r.in, r.err))
		}
	}
	return results, errs
}

func transformFile(in, out string, cfg waitxform.Config) transformResult {
	res := transformResult{in: in, out: out}
	data, err := os.ReadFile(in)
	if err != nil {
		res.err = err
		return res
	}
	xf, err := waitxform.TransformDetailed(data, cfg)
	if err != nil {
		res.err = err
		return res
	}
	res.replaced = xf.Replaced
	res.err = os.WriteFile(out, xf.Wasm, 0o644)
	return res
}

func outputPath(in string, count int, opts transformOptions) string {
	if opts.out != "" {
		if st, err := os.Stat(opts.out); (err == nil && st.IsDir()) || count > 1 {
			return filepath.Join(opts.out, filepath.Base(in))
		}
		return opts.out
	}
	ext := filepath.Ext(in)
	return strings.TrimSuffix(in, ext) + opts.suffix + ext
}

func printResults(w io.Writer, results []transformResult) {
	ok := color.New(color.FgGreen, color.Bold)
	fail := color.New(color.FgRed, color.Bold)
	dim := color.New(color.Faint)

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(w, "%s %s\n", fail.Sprint("FAIL"), r.in)
			continue
		}
		fmt.Fprintf(w, "%s %s -> %s %s\n", ok.Sprint("  OK"), r.in, r.out,
			dim.Sprintf("(%d waits)", r.replaced))
	}
	if len(results) > 1 {
		fmt.Fprintf(w, "%d transformed, %d failed\n", len(results)-failed, failed)
	}
}
