package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bookacut/queuesync/internal/cache"
	"github.com/bookacut/queuesync/internal/connectivity"
	"github.com/bookacut/queuesync/internal/lifecycle"
	"github.com/bookacut/queuesync/internal/models"
	"github.com/bookacut/queuesync/internal/monitoring"
	"github.com/bookacut/queuesync/internal/queue"
	"github.com/bookacut/queuesync/pkg/logger"
)

// SnapshotHandler receives a complete, ordered snapshot of the active queue
// after every re-read. It is never called with a partial diff.
type SnapshotHandler func(entries []models.QueueEntry)

// EventHandler receives raw change signals for scopes whose re-read is owned
// by the caller (notifications, bookings).
type EventHandler func(ev models.ChangeEvent)

// Reader fetches queue snapshots from the remote store.
type Reader interface {
	FetchShopQueue(ctx context.Context, shopID string) ([]models.QueueEntry, error)
	FetchCustomerQueue(ctx context.Context, customerID string) ([]models.QueueEntry, error)
}

type Config struct {
	// SnapshotCacheTTL bounds how often concurrent subscribers for the same
	// scope hit the remote store on their initial read. Change signals always
	// invalidate the cached snapshot before reading.
	SnapshotCacheTTL time.Duration
	ReadTimeout      time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.SnapshotCacheTTL <= 0 {
		out.SnapshotCacheTTL = 2 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 12 * time.Second
	}
	return out
}

type subKey struct {
	scope Scope
	id    string
}

type subscription struct {
	key   subKey
	token string

	handler    SnapshotHandler
	rawHandler EventHandler

	events    chan models.ChangeEvent
	refreshCh chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc

	mu sync.Mutex
	ch Channel
}

// attach swaps the physical channel and starts pumping it into the
// subscription's own event stream. The old channel is closed.
func (s *subscription) attach(ch Channel) {
	s.mu.Lock()
	old := s.ch
	s.ch = ch
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	go func() {
		for {
			select {
			case <-s.ctx.Done():
				return
			case ev, ok := <-ch.Events():
				if !ok {
					return
				}
				select {
				case s.events <- ev:
				default:
				}
			}
		}
	}()
}

func (s *subscription) teardown() {
	s.cancel()
	s.mu.Lock()
	ch := s.ch
	s.ch = nil
	s.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
}

// Manager owns the subscription registry. At most one live subscription
// exists per (scope, scopeID); subscribing again replaces the previous one.
type Manager struct {
	factory   ChannelFactory
	reader    Reader
	snapshots *cache.Cache
	conn      *connectivity.Coordinator
	life      *lifecycle.Coordinator
	l         logger.Logger
	cfg       Config

	mu       sync.Mutex
	subs     map[subKey]*subscription
	removers []func()
}

func NewManager(
	factory ChannelFactory,
	reader Reader,
	snapshots *cache.Cache,
	conn *connectivity.Coordinator,
	life *lifecycle.Coordinator,
	l logger.Logger,
	cfg Config,
) *Manager {
	return &Manager{
		factory:   factory,
		reader:    reader,
		snapshots: snapshots,
		conn:      conn,
		life:      life,
		l:         l,
		cfg:       cfg.withDefaults(),
		subs:      make(map[subKey]*subscription),
	}
}

// Start hooks the manager to connectivity and lifecycle transitions so every
// registered subscription is reopened after a reconnect or a return to the
// foreground.
func (m *Manager) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)

	if m.conn != nil {
		remove := m.conn.Subscribe(func(old, new connectivity.State) {
			if old == connectivity.StateOffline && new == connectivity.StateOnline {
				go m.ResubscribeAll(base)
			}
		})
		m.removers = append(m.removers, remove)
	}
	if m.life != nil {
		remove := m.life.Subscribe(func(old, new lifecycle.State) {
			if new == lifecycle.StateActive {
				go m.ResubscribeAll(base)
			}
		})
		m.removers = append(m.removers, remove)
	}
}

func (m *Manager) Close() {
	for _, remove := range m.removers {
		remove()
	}
	m.removers = nil
	m.UnsubscribeAll()
}

// SubscribeToShopQueue delivers complete display-ordered snapshots of the
// shop's active queue: one immediately, then one per change signal.
func (m *Manager) SubscribeToShopQueue(ctx context.Context, shopID string, handler SnapshotHandler) (func(), error) {
	return m.subscribe(ctx, ScopeShopQueue, shopID, handler, nil)
}

// SubscribeToCustomerQueue delivers snapshots of the customer's active
// entries across shops, most recently joined first.
func (m *Manager) SubscribeToCustomerQueue(ctx context.Context, customerID string, handler SnapshotHandler) (func(), error) {
	return m.subscribe(ctx, ScopeCustomerQueue, customerID, handler, nil)
}

// SubscribeToEvents forwards raw change signals for scopes the manager does
// not re-read itself.
func (m *Manager) SubscribeToEvents(ctx context.Context, scope Scope, scopeID string, handler EventHandler) (func(), error) {
	return m.subscribe(ctx, scope, scopeID, nil, handler)
}

func (m *Manager) subscribe(
	ctx context.Context,
	scope Scope,
	scopeID string,
	handler SnapshotHandler,
	rawHandler EventHandler,
) (func(), error) {
	if scopeID == "" {
		return nil, fmt.Errorf("scope id is required")
	}

	ch, err := m.factory.Open(ctx, scope, scopeID)
	if err != nil {
		m.l.Errorf(ctx, "realtime.Manager.subscribe: %v", err)
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{
		key:        subKey{scope: scope, id: scopeID},
		token:      uuid.NewString(),
		handler:    handler,
		rawHandler: rawHandler,
		events:     make(chan models.ChangeEvent, 16),
		refreshCh:  make(chan struct{}, 1),
		ctx:        subCtx,
		cancel:     cancel,
	}

	m.mu.Lock()
	old := m.subs[sub.key]
	m.subs[sub.key] = sub
	count := m.countLocked(scope)
	m.mu.Unlock()

	if old != nil {
		old.teardown()
	}
	monitoring.SetActiveSubscriptions(string(scope), count)

	sub.attach(ch)
	go m.run(subCtx, sub)

	m.l.Info(ctx, "Subscribed", "scope", string(scope), "scope_id", scopeID)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			m.mu.Lock()
			cur := m.subs[sub.key]
			if cur == sub {
				delete(m.subs, sub.key)
			}
			count := m.countLocked(scope)
			m.mu.Unlock()

			sub.teardown()
			monitoring.SetActiveSubscriptions(string(scope), count)
		})
	}
	return unsubscribe, nil
}

// UnsubscribeAll tears down every live subscription. Used on sign-out.
func (m *Manager) UnsubscribeAll() {
	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.subs = make(map[subKey]*subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.teardown()
	}
	for _, scope := range []Scope{ScopeShopQueue, ScopeCustomerQueue, ScopeNotifications, ScopeBookings} {
		monitoring.SetActiveSubscriptions(string(scope), 0)
	}
}

// ResubscribeAll reopens the physical channel of every registered
// subscription, keeping the registry (and every caller's unsubscribe closure)
// intact, then forces a re-read to cover signals missed while disconnected.
func (m *Manager) ResubscribeAll(ctx context.Context) {
	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		ch, err := m.factory.Open(ctx, sub.key.scope, sub.key.id)
		if err != nil {
			m.l.Errorf(ctx, "realtime.Manager.ResubscribeAll: %v", err)
			continue
		}
		sub.attach(ch)
		select {
		case sub.refreshCh <- struct{}{}:
		default:
		}
	}

	m.l.Info(ctx, "Resubscribed all channels", "count", len(subs))
}

func (m *Manager) run(ctx context.Context, sub *subscription) {
	if sub.handler != nil {
		m.refresh(ctx, sub, false)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.events:
			if sub.rawHandler != nil {
				if m.isLive(sub) {
					sub.rawHandler(ev)
				}
				continue
			}
			m.refresh(ctx, sub, true)
		case <-sub.refreshCh:
			if sub.handler != nil {
				m.refresh(ctx, sub, true)
			}
		}
	}
}

// refresh re-reads the full snapshot for the subscription's scope and, if the
// subscription is still registered, delivers it. On a failed read the
// previous snapshot stands; the handler is not called with partial data.
// invalidate drops the cached snapshot first: a change signal means the cache
// is stale by definition, and serving it would leave the subscriber on the
// pre-change state with no further signal coming.
func (m *Manager) refresh(ctx context.Context, sub *subscription, invalidate bool) {
	readCtx, cancel := context.WithTimeout(ctx, m.cfg.ReadTimeout)
	defer cancel()

	start := time.Now()
	entries, err := m.readSnapshot(readCtx, sub.key, invalidate)
	monitoring.ObserveSnapshotRead(string(sub.key.scope), time.Since(start), err)
	if err != nil {
		m.l.Errorf(ctx, "realtime.Manager.refresh: %v", err)
		return
	}

	if !m.isLive(sub) {
		return
	}
	sub.handler(entries)
}

func (m *Manager) readSnapshot(ctx context.Context, key subKey, invalidate bool) ([]models.QueueEntry, error) {
	cacheKey := fmt.Sprintf("queue:%s:%s", key.scope, key.id)

	if invalidate {
		if err := m.snapshots.Remove(ctx, cacheKey); err != nil {
			m.l.Warnf(ctx, "realtime.Manager.readSnapshot: failed to invalidate %s: %v", cacheKey, err)
		}
	}

	var entries []models.QueueEntry
	err := m.snapshots.GetOrFetch(ctx, cacheKey, m.cfg.SnapshotCacheTTL, &entries, func(ctx context.Context) (any, error) {
		switch key.scope {
		case ScopeCustomerQueue:
			return m.reader.FetchCustomerQueue(ctx, key.id)
		default:
			return m.reader.FetchShopQueue(ctx, key.id)
		}
	})
	if err != nil {
		return nil, err
	}

	active := entries[:0:0]
	for _, e := range entries {
		if e.IsActive() {
			active = append(active, e)
		}
	}

	if key.scope == ScopeCustomerQueue {
		// Estimates here come from the read itself; positions are per-shop
		// and cannot be recomputed from a cross-shop snapshot.
		return queue.SortByRecentJoin(active), nil
	}

	sorted := queue.SortForDisplay(active)
	queue.ApplyEstimates(sorted)
	return sorted, nil
}

func (m *Manager) isLive(sub *subscription) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.subs[sub.key]
	return ok && cur.token == sub.token
}

func (m *Manager) countLocked(scope Scope) int {
	n := 0
	for key := range m.subs {
		if key.scope == scope {
			n++
		}
	}
	return n
}
