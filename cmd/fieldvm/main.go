// Command fieldvm drives a fieldvm.Evaluator from the shell: parse a
// scalar field expression, then evaluate, interval-bound, or enumerate
// features at CLI-supplied points and boxes.
//
// Field expressions are a small s-expression language:
//
//	x | y | z       axis leaves
//	1.5             constant
//	$radius         free variable
//	(op a b...)     operator, e.g. (max x y), (sqrt (add (square x) (square y)))
//
// See unaryNames and binaryNames in parse.go for the full operator list.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/solidkernel/fieldvm"
	"github.com/solidkernel/fieldvm/internal/tree"
	"github.com/solidkernel/fieldvm/telemetry"
)

// isTTY reports whether f is an interactive terminal, gating colorized
// output: piped or redirected output (CI logs, `| less`, a file) gets
// plain text instead of ANSI escapes.
func isTTY(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

const (
	ansiBold  = "\x1b[1m"
	ansiGreen = "\x1b[32m"
	ansiReset = "\x1b[0m"
)

func colorize(tty bool, code, s string) string {
	if !tty {
		return s
	}
	return code + s + ansiReset
}

var (
	configPath string
	varFlags   []string

	rootCmd = &cobra.Command{
		Use:   "fieldvm",
		Short: "Evaluate implicit scalar fields with the fieldvm tape machine",
		Long: `fieldvm drives an expression-evaluator Evaluator from the shell:
parse a field expression into a DAG, then evaluate it at points, bound it
over boxes, or enumerate the one-sided gradients at ambiguous zero-crossings.`,
	}

	evalCmd = &cobra.Command{
		Use:   "eval <expr> <x> <y> <z>",
		Short: "Evaluate the field at a point",
		Args:  cobra.ExactArgs(4),
		RunE:  runEval,
	}

	intervalCmd = &cobra.Command{
		Use:   "interval <expr> <x0> <y0> <z0> <x1> <y1> <z1>",
		Short: "Bound the field over an axis-aligned box via interval arithmetic",
		Args:  cobra.ExactArgs(7),
		RunE:  runInterval,
	}

	featuresCmd = &cobra.Command{
		Use:   "features <expr> <x> <y> <z>",
		Short: "Enumerate one-sided gradients at an ambiguous zero-crossing",
		Args:  cobra.ExactArgs(4),
		RunE:  runFeatures,
	}

	insideCmd = &cobra.Command{
		Use:   "inside <expr> <x> <y> <z>",
		Short: "Classify a point as inside or outside the field's zero surface",
		Args:  cobra.ExactArgs(4),
		RunE:  runInside,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringArrayVar(&varFlags, "var", nil, "free variable assignment, name=value (repeatable)")
	rootCmd.AddCommand(evalCmd, intervalCmd, featuresCmd, insideCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildEvaluator parses expr and wires up a ready-to-use Evaluator.
//
// Description:
//
//	Loads config from --config (or defaults), parses expr into a DAG,
//	applies --var assignments, and constructs the Evaluator with the
//	configured epsilon and stack-capacity-hint. If either telemetry
//	exporter is enabled, also initializes telemetry and, when
//	EnableMetrics is set, instruments the Evaluator with a Metrics
//	sink, a tracer, and the default slog logger.
//
// Inputs:
//
//	expr - A field expression in the s-expression language parseField accepts.
//
// Outputs:
//
//	*fieldvm.Evaluator - Ready for Eval/EvalInterval/FeaturesAt/IsInside.
//	error - Non-nil if config loading, parsing, or telemetry init fails.
func buildEvaluator(expr string) (*fieldvm.Evaluator, error) {
	cfg, err := fieldvm.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	cache := tree.NewCache()
	root, err := parseField(cache, expr)
	if err != nil {
		return nil, err
	}

	initial, err := parseVars(varFlags)
	if err != nil {
		return nil, err
	}

	ev, err := fieldvm.New(cache, root, initial, cfg.BatchWidth,
		fieldvm.WithEpsilon(cfg.FeatureEpsilon),
		fieldvm.WithStackCapacityHint(cfg.StackCapacityHint),
	)
	if err != nil {
		return nil, err
	}

	if cfg.MetricExporter != "none" || cfg.TraceExporter != "none" {
		shutdown, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName:    cfg.ServiceName,
			TraceExporter:  cfg.TraceExporter,
			MetricExporter: cfg.MetricExporter,
			PrometheusAddr: cfg.PrometheusAddr,
		})
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		defer shutdown(context.Background())

		if cfg.EnableMetrics {
			m, err := telemetry.NewMetrics(otel.Meter(cfg.ServiceName))
			if err != nil {
				return nil, fmt.Errorf("init metrics: %w", err)
			}
			ev.Instrument(m, otel.Tracer(cfg.ServiceName), slog.Default())
		}
	}

	return ev, nil
}

func parseVars(flags []string) (map[string]float64, error) {
	out := make(map[string]float64, len(flags))
	for _, f := range flags {
		name, val, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("--var %q: expected name=value", f)
		}
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("--var %q: %w", f, err)
		}
		out[name] = v
	}
	return out, nil
}

func parsePoint(xs, ys, zs string) ([3]float64, error) {
	x, err := strconv.ParseFloat(xs, 64)
	if err != nil {
		return [3]float64{}, err
	}
	y, err := strconv.ParseFloat(ys, 64)
	if err != nil {
		return [3]float64{}, err
	}
	z, err := strconv.ParseFloat(zs, 64)
	if err != nil {
		return [3]float64{}, err
	}
	return [3]float64{x, y, z}, nil
}

func runEval(cmd *cobra.Command, args []string) error {
	ev, err := buildEvaluator(args[0])
	if err != nil {
		return err
	}
	p, err := parsePoint(args[1], args[2], args[3])
	if err != nil {
		return err
	}
	v, err := ev.Eval(p)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), v)
	return nil
}

func runInterval(cmd *cobra.Command, args []string) error {
	ev, err := buildEvaluator(args[0])
	if err != nil {
		return err
	}
	lo, err := parsePoint(args[1], args[2], args[3])
	if err != nil {
		return err
	}
	hi, err := parsePoint(args[4], args[5], args[6])
	if err != nil {
		return err
	}
	iv, err := ev.EvalInterval(lo, hi)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "[%g, %g]\n", iv.Lo, iv.Hi)
	return nil
}

func runFeatures(cmd *cobra.Command, args []string) error {
	ev, err := buildEvaluator(args[0])
	if err != nil {
		return err
	}
	p, err := parsePoint(args[1], args[2], args[3])
	if err != nil {
		return err
	}
	feats, err := ev.FeaturesAt(p)
	if err != nil {
		return err
	}
	tty := isTTY(os.Stdout)
	for i, f := range feats {
		g := f.Gradient()
		label := colorize(tty, ansiBold, fmt.Sprintf("feature %d", i))
		grad := colorize(tty, ansiGreen, fmt.Sprintf("(%g, %g, %g)", g[0], g[1], g[2]))
		fmt.Fprintf(cmd.OutOrStdout(), "%s: gradient=%s\n", label, grad)
	}
	return nil
}

func runInside(cmd *cobra.Command, args []string) error {
	ev, err := buildEvaluator(args[0])
	if err != nil {
		return err
	}
	p, err := parsePoint(args[1], args[2], args[3])
	if err != nil {
		return err
	}
	inside, err := ev.IsInside(p)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), inside)
	return nil
}
