package background

import (
	"context"
	"sync"
	"time"

	"stockwatch/internal/caching"
	"stockwatch/internal/common"
	"stockwatch/internal/metrics"
	"stockwatch/internal/models"
	"stockwatch/internal/services"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// DefaultIntervalBuffer lets a trigger that fires slightly early still run.
const DefaultIntervalBuffer = 5 * time.Second

// Trigger identifies what started a sync cycle.
type Trigger string

const (
	TriggerTimer      Trigger = "timer"
	TriggerForeground Trigger = "foreground"
	TriggerManual     Trigger = "manual"
)

// Backend is one decrement target managed by the scheduler.
type Backend struct {
	Engine *services.DecrementEngine
	// CheckInterval is how often the backend's timer fires.
	CheckInterval time.Duration
	// MinInterval is the least time between two passes on this backend,
	// whatever triggered them.
	MinInterval time.Duration
	// Mirror, when set, copies a successful pass's changes to another backend.
	Mirror *services.ItemMirror
}

func (b *Backend) name() string {
	return b.Engine.Backend()
}

// CycleReport describes one scheduler cycle.
type CycleReport struct {
	Trigger   Trigger
	Dropped   bool
	Passes    []*services.PassResult
	Mirrors   []*services.MirrorResult
	Throttled []string
	Errors    map[string]error
}

// SyncScheduler runs decrement passes for each backend on a timer and on the
// host application's foreground signal. At most one cycle runs at a time; a
// trigger arriving while a cycle is running is dropped. The last-run times
// live only in memory and start empty on every process start, which at worst
// causes one early pass.
type SyncScheduler struct {
	scheduler   gocron.Scheduler
	backends    []*Backend
	clock       common.Clock
	invalidator caching.Invalidator
	metrics     *metrics.Metrics
	buffer      time.Duration

	inFlight *semaphore.Weighted

	mu      sync.Mutex
	lastRun map[string]time.Time
	jobs    map[string]gocron.Job
}

// NewSyncScheduler creates the scheduler and registers one timer job per
// backend. Jobs start running after Start.
func NewSyncScheduler(clock common.Clock, invalidator caching.Invalidator, m *metrics.Metrics,
	buffer time.Duration, backends ...*Backend) (*SyncScheduler, error) {

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, errors.Wrap(err, "create scheduler")
	}
	if buffer < 0 {
		buffer = DefaultIntervalBuffer
	}

	s := &SyncScheduler{
		scheduler:   scheduler,
		backends:    backends,
		clock:       clock,
		invalidator: invalidator,
		metrics:     m,
		buffer:      buffer,
		inFlight:    semaphore.NewWeighted(1),
		lastRun:     make(map[string]time.Time),
		jobs:        make(map[string]gocron.Job),
	}

	if err := s.registerJobs(); err != nil {
		_ = scheduler.Shutdown()
		return nil, err
	}
	return s, nil
}

// Start starts the timers.
func (s *SyncScheduler) Start() {
	log.Info("Starting sync scheduler")
	s.scheduler.Start()
}

// Stop stops the timers and waits for a running job to return.
func (s *SyncScheduler) Stop() error {
	log.Info("Stopping sync scheduler")
	return s.scheduler.Shutdown()
}

func (s *SyncScheduler) registerJobs() error {
	for _, b := range s.backends {
		if b.CheckInterval <= 0 {
			continue
		}
		name := b.name()
		job, err := s.scheduler.NewJob(
			gocron.DurationJob(b.CheckInterval),
			gocron.NewTask(s.runTimer, name),
			gocron.WithName("decrement-"+name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return errors.Wrapf(err, "register %s timer", name)
		}
		s.jobs[name] = job
	}
	log.Infof("Registered %d decrement timers", len(s.jobs))
	return nil
}

func (s *SyncScheduler) runTimer(backend string) {
	s.RunCycle(context.Background(), TriggerTimer, backend)
}

// OnForeground is called when the host application returns to the
// foreground. Every backend whose minimum interval has passed is evaluated.
func (s *SyncScheduler) OnForeground(ctx context.Context) *CycleReport {
	return s.RunCycle(ctx, TriggerForeground)
}

// RunCycle runs the named backends, or all of them when none are named,
// one after another. A failing backend does not stop the ones after it.
func (s *SyncScheduler) RunCycle(ctx context.Context, trigger Trigger, only ...string) *CycleReport {
	report := &CycleReport{Trigger: trigger, Errors: make(map[string]error)}

	if !s.inFlight.TryAcquire(1) {
		report.Dropped = true
		s.metrics.TriggerDropped(string(trigger))
		log.WithField("trigger", trigger).Debug("Sync cycle already running, trigger dropped")
		return report
	}
	defer s.inFlight.Release(1)

	for _, b := range s.selectBackends(only) {
		name := b.name()
		now := s.clock.Now()
		logger := log.WithFields(log.Fields{"backend": name, "trigger": trigger})

		if !s.due(b, now) {
			report.Throttled = append(report.Throttled, name)
			logger.Debug("Backend ran recently, skipping")
			continue
		}

		result, err := b.Engine.RunDecrementPass(ctx, now)
		if err != nil {
			report.Errors[name] = err
			if errors.Is(err, models.ErrStoreUnavailable) {
				logger.WithError(err).Info("Backend unavailable, pass skipped")
			} else {
				logger.WithError(err).Warn("Decrement pass failed")
			}
			continue
		}
		s.markRun(name, now)
		report.Passes = append(report.Passes, result)
		if perr := result.Err(); perr != nil {
			logger.WithError(perr).Warn("Decrement pass completed with failed writes")
		}

		s.invalidate(ctx, name, result.Written > 0, result.AlertsChanged)

		if b.Mirror != nil && len(result.AffectedItems) > 0 {
			mirrored, err := b.Mirror.Mirror(ctx, result)
			if err != nil {
				logger.WithError(err).Warn("Mirror write failed")
				continue
			}
			report.Mirrors = append(report.Mirrors, mirrored)
			s.invalidate(ctx, mirrored.Target, mirrored.Mirrored > 0, mirrored.AlertsChanged)
		}
	}
	return report
}

// LastRun returns when the backend last completed a pass in this process.
func (s *SyncScheduler) LastRun(backend string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastRun[backend]
	return t, ok
}

// Status summarizes registered timers and last runs.
func (s *SyncScheduler) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	backends := make(map[string]interface{}, len(s.backends))
	for _, b := range s.backends {
		name := b.name()
		entry := map[string]interface{}{
			"check_interval": b.CheckInterval.String(),
			"min_interval":   b.MinInterval.String(),
			"mirror":         b.Mirror != nil,
		}
		if t, ok := s.lastRun[name]; ok {
			entry["last_run"] = t.Format(time.RFC3339)
		}
		if job, ok := s.jobs[name]; ok {
			if next, err := job.NextRun(); err == nil {
				entry["next_run"] = next.Format(time.RFC3339)
			}
		}
		backends[name] = entry
	}
	return map[string]interface{}{
		"total_jobs": len(s.jobs),
		"backends":   backends,
	}
}

func (s *SyncScheduler) selectBackends(only []string) []*Backend {
	if len(only) == 0 {
		return s.backends
	}
	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		wanted[name] = true
	}
	var selected []*Backend
	for _, b := range s.backends {
		if wanted[b.name()] {
			selected = append(selected, b)
		}
	}
	return selected
}

func (s *SyncScheduler) due(b *Backend, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[b.name()]
	if !ok {
		return true
	}
	return now.Sub(last) >= b.MinInterval-s.buffer
}

func (s *SyncScheduler) markRun(backend string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[backend] = at
}

func (s *SyncScheduler) invalidate(ctx context.Context, backend string, items, alerts bool) {
	if s.invalidator == nil {
		return
	}
	var collections []caching.Collection
	if items {
		collections = append(collections, caching.CollectionItems)
	}
	if alerts {
		collections = append(collections, caching.CollectionAlerts)
	}
	if len(collections) == 0 {
		return
	}
	if err := s.invalidator.Invalidate(ctx, backend, collections...); err != nil {
		log.WithError(err).WithField("backend", backend).Warn("Cache invalidation failed")
	}
}
