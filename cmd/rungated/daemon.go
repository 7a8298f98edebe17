package main

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/guido-cesarano/rungate/pkg/config"
	"github.com/guido-cesarano/rungate/pkg/gate"
	"github.com/guido-cesarano/rungate/pkg/logger"
	"github.com/guido-cesarano/rungate/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
)

// Prometheus metrics for gate decisions and the commands they let through.
var (
	// gateDecisions counts every tick by outcome.
	// Labels:
	//   - job: job id
	//   - result: "run", "skipped", "busy" or "error"
	gateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rungate_decisions_total",
		Help: "The total number of gate evaluations",
	}, []string{"job", "result"})

	// runsTotal counts finished commands.
	// Labels:
	//   - job: job id
	//   - status: "success" or "failed"
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rungate_runs_total",
		Help: "The total number of finished runs",
	}, []string{"job", "status"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rungate_run_duration_seconds",
		Help:    "Duration of gated command runs",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})

	// nextEligible is refreshed by collectGateMetrics; 0 means the period and retry
	// constraints currently hold.
	nextEligible = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rungate_next_eligible_seconds",
		Help: "Time until the period and retry constraints next hold",
	}, []string{"job"})
)

// runFunc executes a job's command; a nil error is a success.
type runFunc func(ctx context.Context, job config.Job) error

type job struct {
	cfg    config.Job
	engine *gate.Engine

	// inflight counts started commands that have not reported yet.
	inflight atomic.Int32
}

// daemon asks each job's gate on the job's cron schedule and runs the command when allowed.
type daemon struct {
	ctx   context.Context
	store store.Store
	jobs  map[string]*job
	ids   []string
	cron  *cron.Cron
	run   runFunc

	wg sync.WaitGroup
}

func newDaemon(ctx context.Context, cfg config.Config, st store.Store, network gate.ConnectivityState) (*daemon, error) {
	d := &daemon{
		ctx:   ctx,
		store: st,
		jobs:  make(map[string]*job, len(cfg.Jobs)),
		cron:  cron.New(cron.WithParser(config.CronParser), cron.WithLogger(cronLogger{})),
		run:   runCommand,
	}

	for _, jc := range cfg.Jobs {
		opts, err := jc.EngineOptions()
		if err != nil {
			return nil, err
		}
		opts = append(opts, gate.WithConnectivityState(network))

		engine, err := gate.NewEngine(jc.ID, st, opts...)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", jc.ID, err)
		}
		d.jobs[jc.ID] = &job{cfg: jc, engine: engine}
		d.ids = append(d.ids, jc.ID)
	}
	sort.Strings(d.ids)
	return d, nil
}

// start registers one cron entry per job and starts the scheduler.
func (d *daemon) start() error {
	for _, id := range d.ids {
		j := d.jobs[id]
		_, err := d.cron.AddFunc(j.cfg.Schedule, func() {
			if _, err := d.tick(j, false); err != nil {
				logger.Log.Error().Err(err).Str("job", j.cfg.ID).Msg("Gate evaluation failed")
			}
		})
		if err != nil {
			return fmt.Errorf("schedule job %s: %w", id, err)
		}
	}
	d.cron.Start()
	return nil
}

// stop halts the scheduler and waits up to timeout for in-flight commands.
func (d *daemon) stop(timeout time.Duration) {
	<-d.cron.Stop().Done()

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(timeout):
		logger.Log.Warn().Dur("timeout", timeout).Msg("Runs still in flight at shutdown")
	}
}

// tick asks the gate and, when it opens (or force is set), starts the command in the background.
// It returns whether the command was started. Scheduled ticks are skipped while an earlier run of
// the same job is still going, since its outcome is not recorded yet; forced runs are not.
func (d *daemon) tick(j *job, force bool) (bool, error) {
	id := j.cfg.ID
	runID := uuid.NewString()

	if force {
		j.inflight.Add(1)
	} else if !j.inflight.CompareAndSwap(0, 1) {
		gateDecisions.WithLabelValues(id, "busy").Inc()
		logger.Log.Debug().Str("job", id).Msg("Previous run still in flight, skipping")
		return false, nil
	}

	started, err := j.engine.RunIfNeededAsync(d.ctx, force, func(ctx context.Context, done gate.Completion) {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer j.inflight.Add(-1)

			if j.cfg.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, j.cfg.Timeout)
				defer cancel()
			}

			logger.Log.Info().Str("job", id).Str("run_id", runID).Bool("forced", force).Msg("Starting run")
			start := time.Now()
			err := d.run(ctx, j.cfg)
			runDuration.WithLabelValues(id).Observe(time.Since(start).Seconds())

			if err != nil {
				logger.Log.Error().Err(err).Str("job", id).Str("run_id", runID).Msg("Run failed")
				runsTotal.WithLabelValues(id, "failed").Inc()
			} else {
				logger.Log.Info().Str("job", id).Str("run_id", runID).Dur("took", time.Since(start)).Msg("Run succeeded")
				runsTotal.WithLabelValues(id, "success").Inc()
			}
			done(err == nil)
		}()
	})

	if !started {
		j.inflight.Add(-1)
	}

	switch {
	case err != nil:
		gateDecisions.WithLabelValues(id, "error").Inc()
	case started:
		gateDecisions.WithLabelValues(id, "run").Inc()
	default:
		gateDecisions.WithLabelValues(id, "skipped").Inc()
		logger.Log.Debug().Str("job", id).Msg("Gate closed, skipping")
	}
	return started, err
}

// statuses returns every job's gate status, ordered by id.
func (d *daemon) statuses(ctx context.Context) ([]gate.Status, error) {
	out := make([]gate.Status, 0, len(d.ids))
	for _, id := range d.ids {
		st, err := d.jobs[id].engine.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", id, err)
		}
		out = append(out, st)
	}
	return out, nil
}

// runCommand executes the job's command and logs its combined output.
func runCommand(ctx context.Context, j config.Job) error {
	cmd := exec.CommandContext(ctx, j.Command[0], j.Command[1:]...)
	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		logger.Log.Debug().Str("job", j.ID).Bytes("output", out).Msg("Command output")
	}
	if err != nil {
		return fmt.Errorf("command %s: %w", j.Command[0], err)
	}
	return nil
}

// collectGateMetrics periodically refreshes the next-eligible gauge for every job.
func collectGateMetrics(ctx context.Context, d *daemon, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range d.ids {
				wait, err := d.jobs[id].engine.TimeBeforeNextExecution(ctx)
				if err != nil {
					logger.Log.Warn().Err(err).Str("job", id).Msg("Failed to read gate state")
					continue
				}
				nextEligible.WithLabelValues(id).Set(wait.Seconds())
			}
		}
	}
}

// cronLogger routes robfig/cron's logging through zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Log.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
