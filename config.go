package fieldvm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/solidkernel/fieldvm/internal/feature"
)

// Config controls the non-functional knobs around an Evaluator: batch
// width, tape-stack sizing, telemetry exporters, and server defaults for
// cmd/fieldvm. Fields can be loaded from a YAML file and overridden by
// FIELDVM_ env vars; env always wins over the file.
type Config struct {
	// BatchWidth is the arena's configured column count (N in spec §3).
	BatchWidth int `json:"batch_width" yaml:"batch_width"`

	// StackCapacityHint preallocates room in a new Evaluator's tape stack
	// for this many nested pushes before its backing slice must grow.
	StackCapacityHint int `json:"stack_capacity_hint" yaml:"stack_capacity_hint"`

	// FeatureEpsilon is the half-space tolerance FeaturesAt uses to decide
	// whether a candidate branch direction is compatible with the
	// constraints already accumulated (spec §4.7.e).
	FeatureEpsilon float64 `json:"feature_epsilon" yaml:"feature_epsilon"`

	// EnableMetrics controls whether a constructed Evaluator is wired to
	// the telemetry Metrics sink. Independent of MetricExporter, which
	// controls whether that sink has a live Prometheus exporter behind it.
	EnableMetrics bool `json:"enable_metrics" yaml:"enable_metrics"`

	// TraceExporter selects the telemetry trace exporter: "stdout" or "none".
	TraceExporter string `json:"trace_exporter" yaml:"trace_exporter"`

	// MetricExporter selects the telemetry metric exporter: "prometheus"
	// or "none".
	MetricExporter string `json:"metric_exporter" yaml:"metric_exporter"`

	// PrometheusAddr is the listen address for the /metrics endpoint.
	PrometheusAddr string `json:"prometheus_addr" yaml:"prometheus_addr"`

	// ServiceName identifies this process in traces and metrics.
	ServiceName string `json:"service_name" yaml:"service_name"`
}

// DefaultConfig returns opinionated defaults for local development.
func DefaultConfig() Config {
	return Config{
		BatchWidth:        256,
		StackCapacityHint: 8,
		FeatureEpsilon:    feature.DefaultEpsilon,
		EnableMetrics:     true,
		TraceExporter:     "stdout",
		MetricExporter:    "prometheus",
		PrometheusAddr:    ":9464",
		ServiceName:       "fieldvm",
	}
}

// LoadConfig reads path as YAML into DefaultConfig()'s baseline, then
// applies FIELDVM_ environment overrides.
//
// Description:
//
//	A missing path is not an error; callers pass "" to skip the file
//	entirely and take DefaultConfig() plus any env overrides. Env
//	variables always win over both the file and the defaults.
//
// Inputs:
//
//	path - Path to a YAML config file, or "" to skip reading a file.
//
// Outputs:
//
//	Config - The merged configuration.
//	error - Non-nil if path exists but cannot be read or parsed.
//
// Example:
//
//	cfg, err := fieldvm.LoadConfig(configPath)
//	if err != nil {
//	    return err
//	}
//	ev, err := fieldvm.New(cache, root, nil, cfg.BatchWidth)
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// WatchConfig watches path for writes and calls onChange with the reloaded
// Config after each one.
//
// Description:
//
//	Watches path's parent directory (fsnotify watches directories, not
//	individual files, across editors that replace-on-save) and, on any
//	write or create event naming path, debounces for 100ms and then
//	calls LoadConfig again, passing the result to onChange. A
//	debounced-directory-watch, narrowed to a single config file with
//	no recursive walk.
//
// Inputs:
//
//	ctx - Canceled to stop watching; the background goroutine exits.
//	path - The config file to watch; "" is rejected.
//	onChange - Called with the reloaded Config, or a non-nil error if
//	           the reload failed. Called from the watcher goroutine.
//
// Outputs:
//
//	stop - Closes the underlying watcher and waits for the goroutine to exit.
//	error - Non-nil if the watcher could not be created or path has no parent.
//
// Example:
//
//	stop, err := fieldvm.WatchConfig(ctx, configPath, func(cfg Config, err error) {
//	    if err != nil {
//	        log.Printf("config reload failed: %v", err)
//	        return
//	    }
//	    applyConfig(cfg)
//	})
//	defer stop()
//
// Thread Safety: onChange is called serially from one goroutine; callers
// mutating shared state from onChange still need their own synchronization
// against concurrent readers.
func WatchConfig(ctx context.Context, path string, onChange func(Config, error)) (stop func() error, err error) {
	if path == "" {
		return nil, fmt.Errorf("config: watch: empty path")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	done := make(chan struct{})
	go func() {
		defer close(done)
		var debounce *time.Timer
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(100*time.Millisecond, func() {
					cfg, err := LoadConfig(path)
					onChange(cfg, err)
				})
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onChange(Config{}, werr)
			}
		}
	}()

	stop = func() error {
		err := watcher.Close()
		<-done
		return err
	}
	return stop, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FIELDVM_BATCH_WIDTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchWidth = n
		}
	}
	if v := os.Getenv("FIELDVM_STACK_CAPACITY_HINT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StackCapacityHint = n
		}
	}
	if v := os.Getenv("FIELDVM_FEATURE_EPSILON"); v != "" {
		if eps, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.FeatureEpsilon = eps
		}
	}
	if v := os.Getenv("FIELDVM_ENABLE_METRICS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.EnableMetrics = b
		}
	}
	if v := os.Getenv("FIELDVM_TRACE_EXPORTER"); v != "" {
		cfg.TraceExporter = v
	}
	if v := os.Getenv("FIELDVM_METRIC_EXPORTER"); v != "" {
		cfg.MetricExporter = v
	}
	if v := os.Getenv("FIELDVM_PROMETHEUS_ADDR"); v != "" {
		cfg.PrometheusAddr = v
	}
	if v := os.Getenv("FIELDVM_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
}
