// Package connectivity owns the single source of truth for "are we online"
// and drives replay of pending mutations when connectivity returns.
package connectivity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bookacut/queuesync/internal/cache"
	"github.com/bookacut/queuesync/internal/events"
	"github.com/bookacut/queuesync/internal/lifecycle"
	"github.com/bookacut/queuesync/internal/models"
	"github.com/bookacut/queuesync/internal/monitoring"
	"github.com/bookacut/queuesync/internal/pending"
	"github.com/bookacut/queuesync/internal/store"
	"github.com/bookacut/queuesync/pkg/logger"
)

type State string

const (
	StateUnknown State = "unknown"
	StateOnline  State = "online"
	StateOffline State = "offline"
)

var ErrOffline = errors.New("device is offline")

// Signal carries one network-reachability observation.
type Signal struct {
	Connected         bool
	InternetReachable bool
}

func (s Signal) Online() bool {
	return s.Connected && s.InternetReachable
}

// Transport delivers a single mutation to the remote store.
type Transport interface {
	Send(ctx context.Context, endpoint, method string, body []byte, headers map[string]string) error
}

// Pinger probes upstream reachability. Optional; without one, reachability
// comes only from external SetReachability calls.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Outcome string

const (
	// OutcomeApplied means the write reached the store.
	OutcomeApplied Outcome = "applied"
	// OutcomeEnqueued means the write is stored locally and will sync later.
	// Callers should present this as success with an offline notice.
	OutcomeEnqueued Outcome = "enqueued"
	OutcomeFailed   Outcome = "failed"
)

type Result struct {
	Outcome    Outcome
	MutationID string
	Err        error
}

// Operation is a write issued through Do. Queueable marks it safe to defer
// while offline.
type Operation struct {
	Endpoint  string
	Method    string
	Body      []byte
	Headers   map[string]string
	Queueable bool
}

// Failure surfaces a mutation that was dropped during drain.
type Failure struct {
	Mutation models.PendingMutation
	Reason   string // permanent_failure, retry_cap_exceeded
	Err      error
}

type FailureHandler func(Failure)

type DrainStats struct {
	Replayed int
	Retried  int
	Dropped  int
}

type Config struct {
	MaxRetries      int
	DrainInterval   time.Duration
	ProbeInterval   time.Duration
	DrainBackoffTTL time.Duration
}

const (
	defaultMaxRetries    = 3
	defaultDrainInterval = 60 * time.Second
	defaultProbeInterval = 15 * time.Second
	// Longer than the drain interval, so a dead-link abort actually suppresses
	// the next safety-net pass.
	defaultDrainBackoffTTL = 90 * time.Second

	drainBackoffKey = "connectivity:drain_backoff"
)

type Coordinator struct {
	pendingStore pending.Store
	transport    Transport
	pinger       Pinger
	cache        *cache.Cache
	life         *lifecycle.Coordinator
	prod         events.Producer
	l            logger.Logger
	cfg          Config

	mu        sync.Mutex
	state     State
	listeners map[int]func(old, new State)
	nextID    int
	onFailure FailureHandler

	draining atomic.Bool
}

func New(
	pendingStore pending.Store,
	transport Transport,
	pinger Pinger,
	c *cache.Cache,
	life *lifecycle.Coordinator,
	prod events.Producer,
	l logger.Logger,
	cfg Config,
) *Coordinator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = defaultDrainInterval
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	if cfg.DrainBackoffTTL <= 0 {
		cfg.DrainBackoffTTL = defaultDrainBackoffTTL
	}

	return &Coordinator{
		pendingStore: pendingStore,
		transport:    transport,
		pinger:       pinger,
		cache:        c,
		life:         life,
		prod:         prod,
		l:            l,
		cfg:          cfg,
		state:        StateUnknown,
		listeners:    make(map[int]func(old, new State)),
	}
}

// SetFailureHandler registers the callback invoked when a drained mutation is
// dropped for good.
func (c *Coordinator) SetFailureHandler(fn FailureHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFailure = fn
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PendingCount reports the size of the deferred-write backlog.
func (c *Coordinator) PendingCount(ctx context.Context) (int, error) {
	return c.pendingStore.Count(ctx)
}

// Online reports whether writes should be attempted directly. Unknown counts
// as online: the first failed attempt flips the state.
func (c *Coordinator) Online() bool {
	return c.State() != StateOffline
}

// Subscribe registers a state-transition listener and returns its remover.
func (c *Coordinator) Subscribe(fn func(old, new State)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// SetReachability feeds a reachability observation in. The transition to
// Online triggers a drain.
func (c *Coordinator) SetReachability(ctx context.Context, sig Signal) {
	next := StateOffline
	if sig.Online() {
		next = StateOnline
	}
	c.transition(ctx, next)
}

func (c *Coordinator) transition(ctx context.Context, next State) {
	c.mu.Lock()
	old := c.state
	if old == next {
		c.mu.Unlock()
		return
	}
	c.state = next
	listeners := make([]func(old, new State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	monitoring.SetOnline(next == StateOnline)
	c.l.Info(ctx, "Connectivity state changed",
		"from", old,
		"to", next,
	)

	for _, fn := range listeners {
		fn(old, next)
	}

	if next == StateOnline {
		// Coming back online invalidates any drain backoff.
		if err := c.cache.Remove(ctx, drainBackoffKey); err != nil {
			c.l.Warnf(ctx, "connectivity.Coordinator.transition: %v", err)
		}
		go func() {
			if _, err := c.Drain(context.WithoutCancel(ctx)); err != nil {
				c.l.Errorf(ctx, "connectivity.Coordinator.transition: drain: %v", err)
			}
		}()
	}
}

// Start runs the periodic safety-net drain and, when a pinger is configured,
// the reachability probe. It also hooks app foregrounding to a drain. Returns
// after ctx is done.
func (c *Coordinator) Start(ctx context.Context) {
	var removeLifecycle func()
	if c.life != nil {
		removeLifecycle = c.life.Subscribe(func(old, new lifecycle.State) {
			if new != lifecycle.StateActive {
				return
			}
			go func() {
				if _, err := c.Drain(context.WithoutCancel(ctx)); err != nil {
					c.l.Errorf(ctx, "connectivity.Coordinator.Start: foreground drain: %v", err)
				}
			}()
		})
		defer removeLifecycle()
	}

	drainTicker := time.NewTicker(c.cfg.DrainInterval)
	defer drainTicker.Stop()

	probeTicker := time.NewTicker(c.cfg.ProbeInterval)
	defer probeTicker.Stop()

	if c.pinger != nil {
		c.probe(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-drainTicker.C:
			if c.drainBackoffActive(ctx) {
				c.l.Debug(ctx, "Skipping interval drain, backoff active")
				continue
			}
			if _, err := c.Drain(ctx); err != nil {
				c.l.Errorf(ctx, "connectivity.Coordinator.Start: interval drain: %v", err)
			}
		case <-probeTicker.C:
			if c.pinger != nil {
				c.probe(ctx)
			}
		}
	}
}

func (c *Coordinator) probe(ctx context.Context) {
	err := c.pinger.Ping(ctx)
	c.SetReachability(ctx, Signal{
		Connected:         err == nil,
		InternetReachable: err == nil,
	})
}

func (c *Coordinator) drainBackoffActive(ctx context.Context) bool {
	var marker bool
	hit, err := c.cache.Get(ctx, drainBackoffKey, &marker)
	if err != nil {
		return false
	}
	return hit
}

// Drain replays every pending mutation oldest-first. A second trigger while a
// drain is in flight is a no-op, as is a trigger while known offline:
// replaying against a dead link would only burn retry budget, and the Online
// transition drains as soon as the link is back. A failure that looks like a
// dead link aborts the pass; a mutation-specific failure moves on to the next
// one.
func (c *Coordinator) Drain(ctx context.Context) (DrainStats, error) {
	var stats DrainStats

	if c.State() == StateOffline {
		c.l.Debug(ctx, "Skipping drain, known offline")
		return stats, nil
	}

	if !c.draining.CompareAndSwap(false, true) {
		c.l.Debug(ctx, "Drain already in flight, skipping")
		return stats, nil
	}
	defer c.draining.Store(false)

	muts, err := c.pendingStore.List(ctx)
	if err != nil {
		return stats, err
	}
	if len(muts) == 0 {
		return stats, nil
	}

	c.l.Info(ctx, "Draining pending mutations", "count", len(muts))

	for _, m := range muts {
		sendErr := c.transport.Send(ctx, m.Endpoint, m.Method, m.Body, m.Headers)
		if sendErr == nil {
			if err := c.pendingStore.Remove(ctx, m.ID); err != nil {
				c.l.Errorf(ctx, "connectivity.Coordinator.Drain: remove %s: %v", m.ID, err)
			}
			stats.Replayed++
			monitoring.IncDrainResult("replayed")
			c.publishReplaySucceeded(ctx, m)
			continue
		}

		if store.IsPermanent(sendErr) {
			c.drop(ctx, m, "permanent_failure", sendErr)
			stats.Dropped++
			continue
		}

		// Retryable: cap reached means the mutation is out of chances.
		if m.RetryCount >= c.cfg.MaxRetries {
			c.drop(ctx, m, "retry_cap_exceeded", sendErr)
			stats.Dropped++
			continue
		}

		if _, err := c.pendingStore.BumpRetry(ctx, m.ID); err != nil {
			c.l.Errorf(ctx, "connectivity.Coordinator.Drain: bump %s: %v", m.ID, err)
		}
		stats.Retried++
		monitoring.IncDrainResult("retried")
		c.l.Warn(ctx, "Mutation replay failed, will retry",
			"mutation_id", m.ID,
			"endpoint", m.Endpoint,
			"retry_count", m.RetryCount+1,
			"error", sendErr,
		)

		if linkDead(sendErr) {
			// The link itself is gone; hammering the remaining mutations
			// would only cascade failures.
			c.l.Warn(ctx, "Aborting drain pass, link appears dead")
			if err := c.cache.Set(ctx, drainBackoffKey, true, c.cfg.DrainBackoffTTL); err != nil {
				c.l.Warnf(ctx, "connectivity.Coordinator.Drain: backoff: %v", err)
			}
			c.transition(ctx, StateOffline)
			break
		}
	}

	if n, err := c.pendingStore.Count(ctx); err == nil {
		monitoring.SetPendingMutations(n)
	}

	c.l.Info(ctx, "Drain pass finished",
		"replayed", stats.Replayed,
		"retried", stats.Retried,
		"dropped", stats.Dropped,
	)

	return stats, nil
}

// Do issues a single write. Known-offline queueable operations are enqueued
// immediately; a direct attempt that fails retryably is enqueued as well when
// allowed, so the caller sees "will sync later" instead of an error.
func (c *Coordinator) Do(ctx context.Context, op Operation) (Result, error) {
	if !c.Online() {
		return c.enqueueOrFail(ctx, op, ErrOffline)
	}

	err := c.transport.Send(ctx, op.Endpoint, op.Method, op.Body, op.Headers)
	if err == nil {
		return Result{Outcome: OutcomeApplied}, nil
	}

	if store.IsPermanent(err) {
		return Result{Outcome: OutcomeFailed, Err: err}, err
	}

	if linkDead(err) {
		c.transition(ctx, StateOffline)
	}

	return c.enqueueOrFail(ctx, op, err)
}

func (c *Coordinator) enqueueOrFail(ctx context.Context, op Operation, cause error) (Result, error) {
	if !op.Queueable {
		return Result{Outcome: OutcomeFailed, Err: cause}, cause
	}

	id, err := c.pendingStore.Enqueue(ctx, op.Endpoint, op.Method, op.Body, op.Headers)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}, err
	}

	if n, cntErr := c.pendingStore.Count(ctx); cntErr == nil {
		monitoring.SetPendingMutations(n)
	}

	return Result{Outcome: OutcomeEnqueued, MutationID: id}, nil
}

func (c *Coordinator) drop(ctx context.Context, m models.PendingMutation, reason string, cause error) {
	if err := c.pendingStore.Remove(ctx, m.ID); err != nil {
		c.l.Errorf(ctx, "connectivity.Coordinator.drop: remove %s: %v", m.ID, err)
	}
	monitoring.IncDrainResult("dropped")

	c.l.Error(ctx, "Mutation dropped",
		"mutation_id", m.ID,
		"endpoint", m.Endpoint,
		"reason", reason,
		"error", cause,
	)

	c.mu.Lock()
	handler := c.onFailure
	c.mu.Unlock()
	if handler != nil {
		handler(Failure{Mutation: m, Reason: reason, Err: cause})
	}

	if c.prod != nil {
		if err := c.prod.PublishReplayDropped(ctx, events.ReplayDroppedEvent{
			MutationID: m.ID,
			Endpoint:   m.Endpoint,
			Method:     m.Method,
			RetryCount: m.RetryCount,
			Reason:     reason,
			Timestamp:  time.Now(),
		}); err != nil {
			c.l.Errorf(ctx, "connectivity.Coordinator.drop: publish: %v", err)
		}
	}
}

func (c *Coordinator) publishReplaySucceeded(ctx context.Context, m models.PendingMutation) {
	if c.prod == nil {
		return
	}
	if err := c.prod.PublishReplaySucceeded(ctx, events.ReplaySucceededEvent{
		MutationID: m.ID,
		Endpoint:   m.Endpoint,
		Method:     m.Method,
		EnqueuedAt: m.EnqueuedAt,
		Timestamp:  time.Now(),
	}); err != nil {
		c.l.Errorf(ctx, "connectivity.Coordinator.publishReplaySucceeded: %v", err)
	}
}

// linkDead reports whether an error means the link itself is down rather than
// something specific to one mutation. A response, even a 5xx, proves the link.
func linkDead(err error) bool {
	var se *store.StatusError
	return !errors.As(err, &se)
}
