package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/netmetrics/internal/config"
	"github.com/breeze-rmm/netmetrics/internal/logging"
	"github.com/breeze-rmm/netmetrics/internal/netmetrics"
	"github.com/breeze-rmm/netmetrics/internal/publish"
	"github.com/breeze-rmm/netmetrics/internal/report"
	"github.com/breeze-rmm/netmetrics/internal/sampler"
)

var (
	version = "0.1.0"
	cfgFile string
	format  string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:           "netmetrics-agent",
	Short:         "Network metrics collector",
	Long:          `netmetrics-agent samples listening ports, established connections and traffic counters and reports them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Collect one report and print it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return snapshot(cmd.OutOrStdout())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sample periodically and publish reports until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.OutOrStdout())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "netmetrics-agent v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.Path()+")")
	snapshotCmd.Flags().StringVarP(&format, "output", "o", "", "output format: json or yaml (overrides output_format)")

	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads and validates the config and points logging at its
// destination. The rotating writer is nil unless log_file is set.
func setup() (*config.Config, *logging.RotatingWriter, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if res := cfg.ValidateTiered(); res.HasFatals() {
		return nil, nil, fmt.Errorf("invalid config: %w", errors.Join(res.Fatals...))
	}
	if format != "" {
		cfg.OutputFormat = format
	}

	var out io.Writer = os.Stderr
	var rw *logging.RotatingWriter
	if cfg.LogFile != "" {
		rw, err = logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = logging.Tee(os.Stderr, rw)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, out)
	return cfg, rw, nil
}

func closeLog(rw *logging.RotatingWriter) {
	if rw != nil {
		rw.Close()
	}
}

// rotateOnHangup rotates the log file on SIGHUP until ctx is done.
func rotateOnHangup(ctx context.Context, rw *logging.RotatingWriter) {
	if rw == nil {
		return
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-hup:
				if err := rw.Rotate(); err != nil {
					log.Warn("log rotation failed", logging.KeyError, err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func limitsFrom(cfg *config.Config) report.Limits {
	return report.Limits{
		MaxConnections: cfg.MaxConnections,
		MaxPorts:       cfg.MaxPorts,
		IncludeUDP:     cfg.IncludeUDP,
	}
}

func snapshot(stdout io.Writer) error {
	cfg, rw, err := setup()
	if err != nil {
		return err
	}
	defer closeLog(rw)

	outFormat, err := report.ParseFormat(cfg.OutputFormat)
	if err != nil {
		return err
	}
	backend, capture, err := newBackend(cfg)
	if err != nil {
		return err
	}
	if capture != nil {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		err := capture.collect(ctx)
		stop()
		if err != nil {
			return fmt.Errorf("capture: %w", err)
		}
	}

	r, err := report.Build(netmetrics.New(backend), limitsFrom(cfg))
	if err != nil {
		return err
	}
	return report.Encode(stdout, r, outFormat)
}

func run(stdout io.Writer) error {
	cfg, rw, err := setup()
	if err != nil {
		return err
	}
	defer closeLog(rw)

	backend, capture, err := newBackend(cfg)
	if err != nil {
		return err
	}
	sinks, err := newSinks(cfg, stdout)
	if err != nil {
		if capture != nil {
			capture.src.Close()
		}
		return err
	}

	opts := sampler.Options{
		Interval:      time.Duration(cfg.IntervalSeconds) * time.Second,
		InitialJitter: true,
		Limits:        limitsFrom(cfg),
		Workers:       cfg.PublishWorkers,
		QueueSize:     cfg.PublishQueueSize,
	}
	if cfg.TrackConnections {
		opts.Tracker = netmetrics.NewTracker(backend)
	}
	s := sampler.New(netmetrics.New(backend), sinks, opts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	rotateOnHangup(ctx, rw)
	if capture != nil {
		capture.start(ctx)
	}

	log.Info("starting netmetrics agent",
		"version", version,
		logging.KeyBackend, backend.Name(),
		"interval", opts.Interval,
		"sinks", len(sinks),
	)
	s.Run(ctx, 15*time.Second)
	return nil
}

func newSinks(cfg *config.Config, stdout io.Writer) ([]publish.Sink, error) {
	var sinks []publish.Sink
	if cfg.HTTPURL != "" {
		sinks = append(sinks, publish.NewHTTPSink(cfg.HTTPURL, cfg.HTTPToken))
	}
	if cfg.WebSocketURL != "" {
		sinks = append(sinks, publish.NewWebSocketSink(cfg.WebSocketURL, cfg.HTTPToken))
	}
	if cfg.S3Bucket != "" {
		s3, err := publish.NewS3Sink(context.Background(), publish.S3Config{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s3)
	}
	if len(sinks) == 0 {
		f, err := report.ParseFormat(cfg.OutputFormat)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, publish.NewWriterSink(stdout, f))
	}
	return sinks, nil
}
