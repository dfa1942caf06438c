// Package sampler drives periodic collection: each tick builds one report
// and hands it to every sink on a worker pool.
package sampler

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/netmetrics/internal/health"
	"github.com/breeze-rmm/netmetrics/internal/logging"
	"github.com/breeze-rmm/netmetrics/internal/netmetrics"
	"github.com/breeze-rmm/netmetrics/internal/publish"
	"github.com/breeze-rmm/netmetrics/internal/report"
	"github.com/breeze-rmm/netmetrics/internal/workerpool"
)

var log = logging.L("sampler")

const componentBackend = "backend"

type Options struct {
	Interval time.Duration
	// InitialJitter delays the first sample by a random fraction of
	// Interval so a fleet restarted together does not report in lockstep.
	InitialJitter bool
	Limits        report.Limits
	Workers       int
	QueueSize     int
	// Tracker, when set, is refreshed on every tick and its summary is
	// logged at debug level.
	Tracker *netmetrics.Tracker
}

type Sampler struct {
	collector *netmetrics.Collector
	sinks     []publish.Sink
	opts      Options
	pool      *workerpool.Pool
	health    *health.Monitor
	ticks     atomic.Uint64
}

func New(c *netmetrics.Collector, sinks []publish.Sink, opts Options) *Sampler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	// One tick queues a task per sink before any worker picks one up.
	opts.QueueSize = max(opts.QueueSize, len(sinks))
	return &Sampler{
		collector: c,
		sinks:     sinks,
		opts:      opts,
		pool:      workerpool.New(opts.Workers, opts.QueueSize),
		health:    health.NewMonitor(),
	}
}

// Health exposes the per-component status of the backend and every sink.
func (s *Sampler) Health() *health.Monitor {
	return s.health
}

// Ticks returns how many samples have been taken.
func (s *Sampler) Ticks() uint64 {
	return s.ticks.Load()
}

// Run samples until ctx is cancelled, then waits up to drainTimeout for
// in-flight publishes.
func (s *Sampler) Run(ctx context.Context, drainTimeout time.Duration) {
	defer s.shutdown(drainTimeout)

	if s.opts.InitialJitter {
		jitter := time.Duration(rand.Int64N(int64(s.opts.Interval)))
		log.Info("initial sample jitter", "delay", jitter)
		t := time.NewTimer(jitter)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.Sample(ctx)
	for {
		select {
		case <-ticker.C:
			s.Sample(ctx)
		case <-ctx.Done():
			log.Info("sampler stopping")
			return
		}
	}
}

// Sample takes one report and queues it for every sink. It returns the
// report, or nil when the backend could not be read.
func (s *Sampler) Sample(ctx context.Context) *report.Report {
	s.ticks.Add(1)

	if t := s.opts.Tracker; t != nil {
		if err := t.Update(); err != nil {
			log.Warn("tracker update failed", logging.KeyError, err)
		} else {
			t.LogSummary(log)
		}
	}

	backendLog := logging.WithBackend(log, s.collector.Backend().Name())
	ctx = logging.NewContext(ctx, backendLog)

	start := time.Now()
	r, err := report.Build(s.collector, s.opts.Limits)
	s.health.Record(componentBackend, err)
	if err != nil {
		backendLog.Error("sample failed", logging.KeyError, err)
		return nil
	}
	backendLog.Info("sample taken",
		logging.KeyReportID, r.Header.ReportID,
		logging.KeyDurationMs, time.Since(start).Milliseconds(),
		"established", r.Metrics.TCPConnections.Established.Total,
	)

	for _, sink := range s.sinks {
		name := "sink:" + sink.Name()
		ok := s.pool.Submit(func(poolCtx context.Context) {
			pubCtx, cancel := publishContext(ctx, poolCtx)
			defer cancel()
			err := sink.Publish(pubCtx, r)
			s.health.Record(name, err)
			if err != nil {
				logging.FromContext(pubCtx).Warn("publish failed", logging.KeySink, sink.Name(), logging.KeyReportID, r.Header.ReportID, logging.KeyError, err)
			}
		})
		if !ok {
			s.health.Update(name, health.Degraded, "publish queue full")
		}
	}
	return r
}

func (s *Sampler) shutdown(drainTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	s.pool.Shutdown(ctx)
	for _, sink := range s.sinks {
		if c, ok := sink.(publish.Closer); ok {
			if err := c.Close(); err != nil {
				log.Warn("sink close failed", logging.KeySink, sink.Name(), logging.KeyError, err)
			}
		}
	}
	log.Info("sampler stopped",
		"ticks", s.ticks.Load(),
		"rejected", s.pool.Rejected(),
		"health", string(s.health.Overall()),
	)
}

// publishContext keeps the values of parent but not its cancellation, so a
// report queued before shutdown is still delivered while the pool drains.
// It is cancelled when the pool gives up.
func publishContext(parent, pool context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(pool, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
