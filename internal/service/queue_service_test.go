package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookacut/queuesync/internal/cache"
	"github.com/bookacut/queuesync/internal/connectivity"
	"github.com/bookacut/queuesync/internal/events"
	"github.com/bookacut/queuesync/internal/kvstore"
	"github.com/bookacut/queuesync/internal/models"
	"github.com/bookacut/queuesync/internal/realtime"
	"github.com/bookacut/queuesync/internal/store"
	"github.com/bookacut/queuesync/pkg/logger"
)

type fakeStoreClient struct {
	mu        sync.Mutex
	entries   []models.QueueEntry
	fetchErr  error
	insertErr error
	inserted  []store.InsertQueueEntryInput
}

func (f *fakeStoreClient) FetchShopQueue(ctx context.Context, shopID string) ([]models.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]models.QueueEntry, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

func (f *fakeStoreClient) FetchCustomerQueue(ctx context.Context, customerID string) ([]models.QueueEntry, error) {
	return f.FetchShopQueue(ctx, customerID)
}

func (f *fakeStoreClient) InsertQueueEntry(ctx context.Context, in store.InsertQueueEntryInput) (*models.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.inserted = append(f.inserted, in)
	return &models.QueueEntry{
		ID:         "entry-new",
		ShopID:     in.ShopID,
		CustomerID: in.CustomerID,
		BookingID:  in.BookingID,
		Position:   in.Position,
		Status:     models.EntryStatusWaiting,
		JoinedAt:   time.Now(),
	}, nil
}

type fakeSyncer struct {
	mu     sync.Mutex
	online bool
	result connectivity.Result
	err    error
	ops    []connectivity.Operation
}

func (f *fakeSyncer) Online() bool { return f.online }

func (f *fakeSyncer) Do(ctx context.Context, op connectivity.Operation) (connectivity.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	return f.result, f.err
}

type fakeNotifier struct {
	mu        sync.Mutex
	published []string
}

func (f *fakeNotifier) Publish(ctx context.Context, scope realtime.Scope, scopeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, string(scope)+":"+scopeID)
	return nil
}

type recordingProducer struct {
	mu            sync.Mutex
	joined        []events.QueueJoinedEvent
	left          []events.QueueLeftEvent
	statusChanged []events.StatusChangedEvent
}

func (p *recordingProducer) PublishQueueJoined(ctx context.Context, e events.QueueJoinedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joined = append(p.joined, e)
	return nil
}

func (p *recordingProducer) PublishQueueLeft(ctx context.Context, e events.QueueLeftEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.left = append(p.left, e)
	return nil
}

func (p *recordingProducer) PublishStatusChanged(ctx context.Context, e events.StatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusChanged = append(p.statusChanged, e)
	return nil
}

func (p *recordingProducer) PublishReplaySucceeded(ctx context.Context, e events.ReplaySucceededEvent) error {
	return nil
}

func (p *recordingProducer) PublishReplayDropped(ctx context.Context, e events.ReplayDroppedEvent) error {
	return nil
}

func (p *recordingProducer) Close() error { return nil }

type serviceFixture struct {
	svc      QueueService
	storeCli *fakeStoreClient
	syncer   *fakeSyncer
	notifier *fakeNotifier
	prod     *recordingProducer
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()
	kv, err := kvstore.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	l := logger.InitializeTestZapLogger()
	f := &serviceFixture{
		storeCli: &fakeStoreClient{},
		syncer:   &fakeSyncer{online: true},
		notifier: &fakeNotifier{},
		prod:     &recordingProducer{},
	}
	f.svc = NewQueueService(f.storeCli, f.syncer, f.notifier, cache.New(kv, l), f.prod, l)
	return f
}

func waiting(id string, position int, minutes int) models.QueueEntry {
	e := models.QueueEntry{
		ID:       id,
		ShopID:   "shop-1",
		Status:   models.EntryStatusWaiting,
		Position: position,
		JoinedAt: time.Now(),
	}
	if minutes > 0 {
		e.Services = []models.ServiceSummary{{ID: "svc", DurationMinutes: minutes}}
	}
	return e
}

func TestJoinQueue_OnlineAssignsNextPositionFromFreshRead(t *testing.T) {
	f := newFixture(t)
	f.storeCli.entries = []models.QueueEntry{
		waiting("e1", 1, 20),
		waiting("e2", 2, 30),
	}

	out, err := f.svc.JoinQueue(context.Background(), JoinQueueInput{
		ShopID:     "shop-1",
		CustomerID: "cust-1",
	})
	require.NoError(t, err)

	assert.Equal(t, connectivity.OutcomeApplied, out.Outcome)
	assert.Equal(t, 3, out.Position)
	// 20+5 ahead of position 1, 30+5 ahead of position 2.
	assert.Equal(t, 60, out.EstimatedWaitMinutes)
	require.NotNil(t, out.Entry)

	require.Len(t, f.storeCli.inserted, 1)
	assert.Equal(t, 3, f.storeCli.inserted[0].Position)

	require.Len(t, f.prod.joined, 1)
	assert.Equal(t, 3, f.prod.joined[0].Position)
	assert.Contains(t, f.notifier.published, "shop-queue:shop-1")
	assert.Contains(t, f.notifier.published, "customer-queue:cust-1")
}

func TestJoinQueue_PositionGapsSkipNonWaitingEntries(t *testing.T) {
	f := newFixture(t)
	inService := waiting("e3", 7, 30)
	inService.Status = models.EntryStatusInService
	f.storeCli.entries = []models.QueueEntry{
		waiting("e1", 2, 15),
		inService,
	}

	out, err := f.svc.JoinQueue(context.Background(), JoinQueueInput{
		ShopID:     "shop-1",
		CustomerID: "cust-1",
	})
	require.NoError(t, err)

	// Highest waiting position is 2; the in-service entry at 7 is ignored.
	assert.Equal(t, 3, out.Position)
	// The in-service entry contributes nothing to the estimate.
	assert.Equal(t, 20, out.EstimatedWaitMinutes)
}

func TestJoinQueue_OfflineDefersWithoutPosition(t *testing.T) {
	f := newFixture(t)
	f.syncer.online = false
	f.syncer.result = connectivity.Result{Outcome: connectivity.OutcomeEnqueued, MutationID: "m-1"}

	out, err := f.svc.JoinQueue(context.Background(), JoinQueueInput{
		ShopID:     "shop-1",
		CustomerID: "cust-1",
	})
	require.NoError(t, err)

	assert.Equal(t, connectivity.OutcomeEnqueued, out.Outcome)
	assert.Equal(t, "m-1", out.MutationID)
	assert.Nil(t, out.Entry)
	assert.Zero(t, out.Position)

	require.Len(t, f.syncer.ops, 1)
	op := f.syncer.ops[0]
	assert.Equal(t, store.QueueEntriesPath, op.Endpoint)
	assert.Equal(t, http.MethodPost, op.Method)
	assert.True(t, op.Queueable)
	assert.NotContains(t, string(op.Body), "position")

	assert.Empty(t, f.storeCli.inserted)
	assert.Empty(t, f.prod.joined)
}

func TestJoinQueue_DeadLinkDuringReadFallsBackToDeferral(t *testing.T) {
	f := newFixture(t)
	f.storeCli.fetchErr = errors.New("dial tcp: connection refused")
	f.syncer.result = connectivity.Result{Outcome: connectivity.OutcomeEnqueued, MutationID: "m-2"}

	out, err := f.svc.JoinQueue(context.Background(), JoinQueueInput{
		ShopID:     "shop-1",
		CustomerID: "cust-1",
	})
	require.NoError(t, err)

	assert.Equal(t, connectivity.OutcomeEnqueued, out.Outcome)
	require.Len(t, f.syncer.ops, 1)
}

func TestJoinQueue_StoreRejectionSurfaces(t *testing.T) {
	f := newFixture(t)
	f.storeCli.insertErr = &store.StatusError{StatusCode: 422, Body: "already queued"}

	_, err := f.svc.JoinQueue(context.Background(), JoinQueueInput{
		ShopID:     "shop-1",
		CustomerID: "cust-1",
	})
	require.Error(t, err)

	var se *store.StatusError
	assert.ErrorAs(t, err, &se)
	assert.Empty(t, f.syncer.ops)
}

func TestJoinQueue_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.JoinQueue(context.Background(), JoinQueueInput{CustomerID: "cust-1"})
	assert.ErrorIs(t, err, ErrMissingShopID)

	_, err = f.svc.JoinQueue(context.Background(), JoinQueueInput{ShopID: "shop-1"})
	assert.ErrorIs(t, err, ErrMissingCustomerID)
}

func TestStartService_AppliedPublishesAndNotifies(t *testing.T) {
	f := newFixture(t)
	f.syncer.result = connectivity.Result{Outcome: connectivity.OutcomeApplied}

	ref := EntryRef{EntryID: "e1", ShopID: "shop-1", CustomerID: "cust-1"}
	out, err := f.svc.StartService(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, connectivity.OutcomeApplied, out.Outcome)

	require.Len(t, f.syncer.ops, 1)
	op := f.syncer.ops[0]
	assert.Equal(t, store.QueueEntryPath("e1"), op.Endpoint)
	assert.Equal(t, http.MethodPatch, op.Method)
	assert.Contains(t, string(op.Body), string(models.EntryStatusInService))
	assert.Contains(t, string(op.Body), "started_at")

	require.Len(t, f.prod.statusChanged, 1)
	assert.Equal(t, string(models.EntryStatusInService), f.prod.statusChanged[0].NewStatus)
	assert.Contains(t, f.notifier.published, "shop-queue:shop-1")
}

func TestCompleteService_DeferredSkipsEventsAndNotifications(t *testing.T) {
	f := newFixture(t)
	f.syncer.result = connectivity.Result{Outcome: connectivity.OutcomeEnqueued, MutationID: "m-3"}

	out, err := f.svc.CompleteService(context.Background(), EntryRef{EntryID: "e1", ShopID: "shop-1"})
	require.NoError(t, err)

	assert.Equal(t, connectivity.OutcomeEnqueued, out.Outcome)
	assert.Equal(t, "m-3", out.MutationID)
	assert.Empty(t, f.prod.statusChanged)
	assert.Empty(t, f.notifier.published)

	// The deferred body carries the completion time stamped now, so the
	// replay lands with the real completion moment.
	assert.Contains(t, string(f.syncer.ops[0].Body), "completed_at")
}

func TestCancelEntry_AppliedPublishesQueueLeft(t *testing.T) {
	f := newFixture(t)
	f.syncer.result = connectivity.Result{Outcome: connectivity.OutcomeApplied}

	_, err := f.svc.CancelEntry(context.Background(), EntryRef{
		EntryID:    "e1",
		ShopID:     "shop-1",
		CustomerID: "cust-1",
	})
	require.NoError(t, err)

	require.Len(t, f.prod.left, 1)
	assert.Equal(t, "cancelled_by_customer", f.prod.left[0].Reason)
	assert.Contains(t, string(f.syncer.ops[0].Body), string(models.EntryStatusCancelled))
}

func TestUpdateStatus_RequiresEntryID(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.StartService(context.Background(), EntryRef{ShopID: "shop-1"})
	assert.ErrorIs(t, err, ErrMissingEntryID)
	assert.Empty(t, f.syncer.ops)
}

func TestGetShopQueue_SortsAndEstimates(t *testing.T) {
	f := newFixture(t)
	completed := waiting("e0", 1, 30)
	completed.Status = models.EntryStatusCompleted
	f.storeCli.entries = []models.QueueEntry{
		waiting("e2", 3, 30),
		completed,
		waiting("e1", 2, 20),
	}

	got, err := f.svc.GetShopQueue(context.Background(), "shop-1")
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, "e2", got[1].ID)
	assert.Equal(t, 0, got[0].EstimatedWaitMinutes)
	assert.Equal(t, 25, got[1].EstimatedWaitMinutes)
}

func TestGetCustomerQueue_MostRecentFirst(t *testing.T) {
	f := newFixture(t)
	older := waiting("e1", 1, 20)
	older.JoinedAt = time.Now().Add(-time.Hour)
	newer := waiting("e2", 5, 20)
	f.storeCli.entries = []models.QueueEntry{older, newer}

	got, err := f.svc.GetCustomerQueue(context.Background(), "cust-1")
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "e2", got[0].ID)
	assert.Equal(t, "e1", got[1].ID)
}
