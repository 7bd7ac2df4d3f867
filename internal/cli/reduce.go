package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/eunmann/disteclat/internal/logctx"
	"github.com/eunmann/disteclat/pkg/input"
	"github.com/eunmann/disteclat/pkg/logging"
	"github.com/eunmann/disteclat/pkg/metrics"
	"github.com/eunmann/disteclat/pkg/output"
	"github.com/eunmann/disteclat/pkg/recfile"
	"github.com/eunmann/disteclat/pkg/s3store"
	"github.com/eunmann/disteclat/pkg/stage"
)

func parseReduceFlags(args []string) (Config, error) {
	fs := flag.NewFlagSet("reduce", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file")
	var inputs stringList
	fs.Var(&inputs, "in", "input file or s3:// URI (repeatable)")
	out := fs.String("out", "", "output directory or s3://bucket/prefix")
	minSup := fs.Int64("min-sup", 1, "minimum item support")
	buckets := fs.Int("buckets", 1, "initial bucket count")
	capacity := fs.Int64("capacity", 0, "per-bucket TID bound (0 = default)")
	compress := fs.Bool("compress", false, "snappy-compress bucket files")
	tmpDir := fs.String("tmp", "", "directory for downloaded inputs and staged S3 output")
	attempt := fs.String("attempt", "", "attempt id for the staging directory")
	metricsFile := fs.String("metrics-textfile", "", "write Prometheus metrics to this file")
	debug := fs.Bool("debug", false, "enable debug logging")
	human := fs.Bool("human", false, "human-friendly console logs")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	inputs = append(inputs, fs.Args()...)

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfig(*configPath)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "out":
			cfg.Output = *out
		case "min-sup":
			cfg.MinSupport = *minSup
		case "buckets":
			cfg.InitialBuckets = *buckets
		case "capacity":
			cfg.Capacity = *capacity
		case "compress":
			cfg.Compress = *compress
		case "tmp":
			cfg.TempDir = *tmpDir
		case "attempt":
			cfg.Attempt = *attempt
		case "metrics-textfile":
			cfg.MetricsTextfile = *metricsFile
		case "debug":
			if *debug {
				cfg.Log.Level = "debug"
			}
		case "human":
			cfg.Log.Human = *human
		}
	})
	if len(inputs) > 0 {
		cfg.Inputs = inputs
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func runReduce(ctx context.Context, args []string) error {
	cfg, err := parseReduceFlags(args)
	if err != nil {
		return err
	}

	if err := logging.Init(logging.Options{Level: cfg.Log.Level, Human: cfg.Log.Human}); err != nil {
		return err
	}
	logctx.SetDefaultLogger(*logging.L())
	ctx = logctx.WithLogger(ctx, logging.WithPhase("reduce"))

	return Reduce(ctx, cfg)
}

func needsS3(cfg Config) bool {
	if s3store.IsS3URI(cfg.Output) {
		return true
	}
	for _, in := range cfg.Inputs {
		if s3store.IsS3URI(in) {
			return true
		}
	}
	return false
}

// Reduce runs one reducer instance over cfg.Inputs and commits the result to
// cfg.Output. Nothing is committed if any step fails.
func Reduce(ctx context.Context, cfg Config) error {
	var client *s3store.Client
	if needsS3(cfg) {
		c, err := s3store.NewClient(ctx)
		if err != nil {
			return err
		}
		client = c
	}

	outOpts := output.Options{
		Root:    cfg.Output,
		Attempt: cfg.Attempt,
		Records: recfile.WriterOptions{Snappy: cfg.Compress},
	}
	if s3store.IsS3URI(cfg.Output) {
		bucket, prefix, err := s3store.ParseS3URI(cfg.Output)
		if err != nil {
			return err
		}
		local, err := os.MkdirTemp(cfg.TempDir, "disteclat-out-*")
		if err != nil {
			return fmt.Errorf("create local output dir: %w", err)
		}
		defer os.RemoveAll(local)
		outOpts.Root = local
		outOpts.Upload = &output.Upload{Client: client, Bucket: bucket, Prefix: prefix}
	}

	out, err := output.Create(outOpts)
	if err != nil {
		return err
	}
	ctx = logctx.WithInstance(ctx, out.Attempt())
	log := logctx.FromContext(ctx)

	var collector metrics.Collector = metrics.NewNop()
	var prom *metrics.Prometheus
	if cfg.MetricsTextfile != "" {
		prom = metrics.NewPrometheus("")
		prom.SetBuckets(cfg.InitialBuckets)
		collector = prom
	}

	st, err := stage.New(stage.Config{
		MinSupport:     cfg.MinSupport,
		InitialBuckets: cfg.InitialBuckets,
		Capacity:       cfg.Capacity,
	}, out, out.ShortReporter(), stage.WithMetrics(collector))
	if err != nil {
		out.Abort()
		return err
	}

	log.Info().
		Strs("inputs", cfg.Inputs).
		Str("output", cfg.Output).
		Int64("min_support", cfg.MinSupport).
		Int("initial_buckets", cfg.InitialBuckets).
		Int64("capacity", st.Config().Capacity).
		Msg("reduce starting")

	if err := runInputs(ctx, st, cfg, client); err != nil {
		if abortErr := st.Abort(); abortErr != nil {
			log.Warn().Err(abortErr).Msg("abort failed")
		}
		return err
	}
	if err := st.Close(ctx); err != nil {
		return err
	}

	if prom != nil {
		if err := prom.WriteTextfile(cfg.MetricsTextfile); err != nil {
			return err
		}
	}
	return nil
}

func runInputs(ctx context.Context, st *stage.Stage, cfg Config, client *s3store.Client) error {
	opts := input.Options{TempDir: cfg.TempDir, S3: client}

	readers := make([]input.Reader, 0, len(cfg.Inputs))
	for i, name := range cfg.Inputs {
		r, err := input.Open(logctx.WithInt(ctx, "input", i), name, opts)
		if err != nil {
			for _, opened := range readers {
				opened.Close()
			}
			return fmt.Errorf("open input %s: %w", name, err)
		}
		readers = append(readers, r)
	}

	r := input.Concat(readers...)
	runErr := st.Run(ctx, r)
	closeErr := r.Close()
	return errors.Join(runErr, closeErr)
}
