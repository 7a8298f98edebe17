// Package gate decides whether a recurring task may run right now.
//
// An Engine guards one task identity with three independent constraints:
//   - Period: minimum time since the last successful run
//   - Retry interval: minimum time since the last failed run
//   - Connectivity: the network classification the task needs
//
// The engine is synchronous and starts no goroutines. Its only state lives in a store.Store as
// two timestamps per identity, so decisions survive process restarts and engines built with the
// same identity share them.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/guido-cesarano/rungate/pkg/logger"
	"github.com/guido-cesarano/rungate/pkg/store"
	"github.com/rs/zerolog"
)

// KeyPrefix is the namespace every persisted key starts with. The success key is
// KeyPrefix + "." + identity and the failure key appends ".retry"; existing data depends on it.
const KeyPrefix = "ConstraintRunner"

const retrySuffix = ".retry"

var (
	ErrEmptyIdentity        = errors.New("gate: empty identity")
	ErrNilStore             = errors.New("gate: nil store")
	ErrInvalidPeriod        = errors.New("gate: invalid period")
	ErrInvalidConnectivity  = errors.New("gate: invalid connectivity")
	ErrInvalidRetryInterval = errors.New("gate: invalid retry interval")
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Completion reports the outcome of an asynchronous body. Only the first call counts.
type Completion func(succeeded bool)

// Engine is the run-gate for one task identity.
type Engine struct {
	identity   string
	successKey string
	failureKey string
	store      store.Store
	log        zerolog.Logger

	mu               sync.RWMutex
	period           Period
	connectivity     Connectivity
	maxRetryInterval time.Duration
	clock            Clock
	network          ConnectivityState
	onRecordError    func(error)
}

// Option configures an Engine at construction.
type Option func(*Engine) error

func WithPeriod(p Period) Option {
	return func(e *Engine) error { return e.SetPeriod(p) }
}

func WithConnectivity(c Connectivity) Option {
	return func(e *Engine) error { return e.SetConnectivity(c) }
}

func WithMaxRetryInterval(d time.Duration) Option {
	return func(e *Engine) error { return e.SetMaxRetryInterval(d) }
}

func WithClock(c Clock) Option {
	return func(e *Engine) error { e.SetClock(c); return nil }
}

// WithConnectivityState sets the network source. Without one the connectivity constraint
// always passes.
func WithConnectivityState(s ConnectivityState) Option {
	return func(e *Engine) error { e.SetConnectivityState(s); return nil }
}

// WithRecordErrorHandler receives store errors raised while recording the outcome of an
// asynchronous run, which has no caller left to return them to.
func WithRecordErrorHandler(fn func(error)) Option {
	return func(e *Engine) error {
		e.mu.Lock()
		e.onRecordError = fn
		e.mu.Unlock()
		return nil
	}
}

// NewEngine creates the gate for identity on top of st. Unset constraints default to
// unconstrained period, any connectivity and no retry backoff.
func NewEngine(identity string, st store.Store, opts ...Option) (*Engine, error) {
	if identity == "" {
		return nil, ErrEmptyIdentity
	}
	if st == nil {
		return nil, ErrNilStore
	}

	key := KeyPrefix + "." + identity
	e := &Engine{
		identity:   identity,
		successKey: key,
		failureKey: key + retrySuffix,
		store:      st,
		clock:      SystemClock{},
		log:        logger.For("gate").With().Str("identity", identity).Logger(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) Identity() string { return e.identity }

func (e *Engine) SetPeriod(p Period) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.period = p
	e.mu.Unlock()
	return nil
}

func (e *Engine) SetConnectivity(c Connectivity) error {
	if err := c.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.connectivity = c
	e.mu.Unlock()
	return nil
}

func (e *Engine) SetMaxRetryInterval(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRetryInterval, d)
	}
	e.mu.Lock()
	e.maxRetryInterval = d
	e.mu.Unlock()
	return nil
}

// SetClock replaces the time source; nil restores the system clock.
func (e *Engine) SetClock(c Clock) {
	if c == nil {
		c = SystemClock{}
	}
	e.mu.Lock()
	e.clock = c
	e.mu.Unlock()
}

// SetConnectivityState replaces the network source; nil removes it.
func (e *Engine) SetConnectivityState(s ConnectivityState) {
	e.mu.Lock()
	e.network = s
	e.mu.Unlock()
}

func (e *Engine) Period() Period {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.period
}

func (e *Engine) Connectivity() Connectivity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connectivity
}

func (e *Engine) MaxRetryInterval() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.maxRetryInterval
}

// settings is a consistent copy of the mutable configuration.
type settings struct {
	period           Period
	connectivity     Connectivity
	maxRetryInterval time.Duration
	clock            Clock
	network          ConnectivityState
	onRecordError    func(error)
}

func (e *Engine) settings() settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return settings{
		period:           e.period,
		connectivity:     e.connectivity,
		maxRetryInterval: e.maxRetryInterval,
		clock:            e.clock,
		network:          e.network,
		onRecordError:    e.onRecordError,
	}
}

// snapshot is the persisted state read at one instant.
type snapshot struct {
	settings
	now         time.Time
	lastSuccess time.Time
	hasSuccess  bool
	lastFailure time.Time
	hasFailure  bool
}

func (e *Engine) snapshot(ctx context.Context) (snapshot, error) {
	s := snapshot{settings: e.settings()}
	s.now = s.clock.Now()

	var err error
	s.lastSuccess, s.hasSuccess, err = e.store.Get(ctx, e.successKey)
	if err != nil {
		return snapshot{}, fmt.Errorf("read last success: %w", err)
	}
	s.lastFailure, s.hasFailure, err = e.store.Get(ctx, e.failureKey)
	if err != nil {
		return snapshot{}, fmt.Errorf("read last failure: %w", err)
	}
	return s, nil
}

// periodWait is how long until the period constraint holds; zero once it does.
func (s snapshot) periodWait() time.Duration {
	if !s.hasSuccess {
		return 0
	}
	return remaining(s.period.Duration(), s.now.Sub(s.lastSuccess))
}

// retryWait is how long until the retry backoff has elapsed; zero once it has.
func (s snapshot) retryWait() time.Duration {
	if !s.hasFailure {
		return 0
	}
	return remaining(s.maxRetryInterval, s.now.Sub(s.lastFailure))
}

func remaining(required, elapsed time.Duration) time.Duration {
	if left := required - elapsed; left > 0 {
		return left
	}
	return 0
}

// connectivityOK is true when no network source is configured.
func (s snapshot) connectivityOK() bool {
	if s.network == nil {
		return true
	}
	return s.connectivity.Satisfied(s.network.Network())
}

// ShouldRun reports whether every constraint currently holds.
func (e *Engine) ShouldRun(ctx context.Context) (bool, error) {
	s, err := e.snapshot(ctx)
	if err != nil {
		return false, err
	}

	periodOK := s.periodWait() == 0
	retryOK := s.retryWait() == 0
	networkOK := s.connectivityOK()

	e.log.Debug().
		Bool("period_ok", periodOK).
		Bool("retry_ok", retryOK).
		Bool("connectivity_ok", networkOK).
		Msg("Gate evaluated")

	return periodOK && retryOK && networkOK, nil
}

// TimeBeforeNextExecution returns how long the caller should wait before the period and retry
// constraints both hold. A pending period wait is reported even when the retry wait is longer.
// Connectivity is not considered; poll ShouldRun for it.
func (e *Engine) TimeBeforeNextExecution(ctx context.Context) (time.Duration, error) {
	s, err := e.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return s.nextExecution(), nil
}

func (s snapshot) nextExecution() time.Duration {
	if w := s.periodWait(); w > 0 {
		return w
	}
	return s.retryWait()
}

// RunIfNeeded calls body when the gate is open and records its result.
// It returns true if body was called. A store error while recording is returned alongside true.
// The outcome is recorded even if ctx is cancelled while body runs.
func (e *Engine) RunIfNeeded(ctx context.Context, body func(ctx context.Context) bool) (bool, error) {
	ok, err := e.ShouldRun(ctx)
	if err != nil || !ok {
		return false, err
	}

	succeeded := body(ctx)
	recordCtx := context.WithoutCancel(ctx)
	if succeeded {
		err = e.RecordSuccess(recordCtx)
	} else {
		err = e.RecordFailure(recordCtx)
	}
	return true, err
}

// RunIfNeededAsync starts body when the gate is open, or unconditionally when force is set.
// It returns as soon as body returns; the outcome is recorded when body calls its Completion,
// from any goroutine. Later calls to the same Completion are ignored.
//
// Recording runs on a context detached from ctx's cancellation, and the Completion keeps the
// engine reachable, so a report that arrives is never dropped. Store errors at that point go to
// the WithRecordErrorHandler hook and the log. If body never calls its Completion, nothing is
// recorded.
//
// Concurrent calls are not serialized: two overlapping runs of one engine are both allowed.
func (e *Engine) RunIfNeededAsync(ctx context.Context, force bool, body func(ctx context.Context, done Completion)) (bool, error) {
	if !force {
		ok, err := e.ShouldRun(ctx)
		if err != nil || !ok {
			return false, err
		}
	}

	recordCtx := context.WithoutCancel(ctx)
	var once sync.Once
	done := func(succeeded bool) {
		once.Do(func() {
			var err error
			if succeeded {
				err = e.RecordSuccess(recordCtx)
			} else {
				err = e.RecordFailure(recordCtx)
			}
			if err != nil {
				e.log.Error().Err(err).Bool("succeeded", succeeded).Msg("Failed to record run outcome")
				if fn := e.settings().onRecordError; fn != nil {
					fn(err)
				}
			}
		})
	}

	body(ctx, done)
	return true, nil
}

// RecordSuccess stamps the success key with the current time and clears any retry backoff.
func (e *Engine) RecordSuccess(ctx context.Context) error {
	now := e.settings().clock.Now()
	if err := e.store.Set(ctx, e.successKey, now); err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	if err := e.store.Delete(ctx, e.failureKey); err != nil {
		return fmt.Errorf("clear failure: %w", err)
	}
	e.log.Info().Time("at", now).Msg("Run succeeded")
	return nil
}

// RecordFailure stamps the failure key with the current time. The last success is kept.
func (e *Engine) RecordFailure(ctx context.Context) error {
	now := e.settings().clock.Now()
	if err := e.store.Set(ctx, e.failureKey, now); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	e.log.Info().Time("at", now).Msg("Run failed")
	return nil
}

// DidLastExecutionFail is true while a failure is recorded that no success has cleared.
func (e *Engine) DidLastExecutionFail(ctx context.Context) (bool, error) {
	_, ok, err := e.store.Get(ctx, e.failureKey)
	if err != nil {
		return false, fmt.Errorf("read last failure: %w", err)
	}
	return ok, nil
}

// LastSuccess returns the time of the last successful run, if any.
func (e *Engine) LastSuccess(ctx context.Context) (time.Time, bool, error) {
	return e.store.Get(ctx, e.successKey)
}

// LastFailure returns the time of the last uncleared failure, if any.
func (e *Engine) LastFailure(ctx context.Context) (time.Time, bool, error) {
	return e.store.Get(ctx, e.failureKey)
}

// RemoveAllPersisted deletes every key in the gate namespace, for all identities.
func RemoveAllPersisted(ctx context.Context, st store.Store) error {
	n, err := store.DeletePrefix(ctx, st, KeyPrefix)
	if err != nil {
		return fmt.Errorf("remove persisted state: %w", err)
	}
	log := logger.For("gate")
	log.Info().Int("keys", n).Msg("Removed all persisted gate state")
	return nil
}
