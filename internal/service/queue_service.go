package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bookacut/queuesync/internal/cache"
	"github.com/bookacut/queuesync/internal/connectivity"
	"github.com/bookacut/queuesync/internal/events"
	"github.com/bookacut/queuesync/internal/models"
	"github.com/bookacut/queuesync/internal/queue"
	"github.com/bookacut/queuesync/internal/realtime"
	"github.com/bookacut/queuesync/internal/store"
	"github.com/bookacut/queuesync/pkg/logger"
)

type QueueService interface {
	JoinQueue(ctx context.Context, in JoinQueueInput) (JoinQueueOutput, error)
	StartService(ctx context.Context, ref EntryRef) (MutationOutput, error)
	CompleteService(ctx context.Context, ref EntryRef) (MutationOutput, error)
	CancelEntry(ctx context.Context, ref EntryRef) (MutationOutput, error)
	GetShopQueue(ctx context.Context, shopID string) ([]models.QueueEntry, error)
	GetCustomerQueue(ctx context.Context, customerID string) ([]models.QueueEntry, error)
}

// StoreClient is the slice of the remote store API the service reads and
// writes through when the link is up.
type StoreClient interface {
	FetchShopQueue(ctx context.Context, shopID string) ([]models.QueueEntry, error)
	FetchCustomerQueue(ctx context.Context, customerID string) ([]models.QueueEntry, error)
	InsertQueueEntry(ctx context.Context, in store.InsertQueueEntryInput) (*models.QueueEntry, error)
}

// Syncer routes writes through the connectivity layer: direct when online,
// deferred when not.
type Syncer interface {
	Do(ctx context.Context, op connectivity.Operation) (connectivity.Result, error)
	Online() bool
}

// ChangeNotifier publishes "something changed" signals after a successful
// write so every subscribed client re-reads.
type ChangeNotifier interface {
	Publish(ctx context.Context, scope realtime.Scope, scopeID string) error
}

type queueService struct {
	storeCli  StoreClient
	sync      Syncer
	notifier  ChangeNotifier
	snapshots *cache.Cache
	prod      events.Producer
	l         logger.Logger
}

func NewQueueService(
	storeCli StoreClient,
	sync Syncer,
	notifier ChangeNotifier,
	snapshots *cache.Cache,
	prod events.Producer,
	l logger.Logger,
) QueueService {
	return &queueService{
		storeCli:  storeCli,
		sync:      sync,
		notifier:  notifier,
		snapshots: snapshots,
		prod:      prod,
		l:         l,
	}
}

// JoinQueue assigns a position from a fresh read of the shop's queue and
// inserts the entry. With the store unreachable the join is deferred with no
// position; the store assigns one when the mutation replays.
func (s *queueService) JoinQueue(ctx context.Context, in JoinQueueInput) (JoinQueueOutput, error) {
	if in.ShopID == "" {
		return JoinQueueOutput{}, ErrMissingShopID
	}
	if in.CustomerID == "" {
		return JoinQueueOutput{}, ErrMissingCustomerID
	}

	if !s.sync.Online() {
		return s.enqueueJoin(ctx, in)
	}

	fresh, err := s.storeCli.FetchShopQueue(ctx, in.ShopID)
	if err != nil {
		if linkDead(err) {
			return s.enqueueJoin(ctx, in)
		}
		return JoinQueueOutput{}, fmt.Errorf("failed to read queue before join: %w", err)
	}

	pos := queue.NextPosition(fresh)
	entry, err := s.storeCli.InsertQueueEntry(ctx, store.InsertQueueEntryInput{
		ShopID:     in.ShopID,
		CustomerID: in.CustomerID,
		BookingID:  in.BookingID,
		Position:   pos,
	})
	if err != nil {
		if linkDead(err) {
			return s.enqueueJoin(ctx, in)
		}
		return JoinQueueOutput{}, fmt.Errorf("failed to insert queue entry: %w", err)
	}

	est := queue.ComputeWaitMinutes(pos, fresh)

	if s.prod != nil {
		if err := s.prod.PublishQueueJoined(ctx, events.QueueJoinedEvent{
			EntryID:    entry.ID,
			ShopID:     in.ShopID,
			CustomerID: in.CustomerID,
			BookingID:  in.BookingID,
			Position:   pos,
			JoinedAt:   entry.JoinedAt,
			Timestamp:  time.Now(),
		}); err != nil {
			// Log error but don't fail the request
			s.l.Error(ctx, "Failed to publish queue joined event",
				"entry_id", entry.ID,
				"error", err,
			)
		}
	}

	s.afterChange(ctx, EntryRef{EntryID: entry.ID, ShopID: in.ShopID, CustomerID: in.CustomerID})

	s.l.Info(ctx, "Joined queue",
		"entry_id", entry.ID,
		"shop_id", in.ShopID,
		"position", pos,
		"estimated_wait_minutes", est,
	)

	return JoinQueueOutput{
		Outcome:              connectivity.OutcomeApplied,
		Entry:                entry,
		Position:             pos,
		EstimatedWaitMinutes: est,
	}, nil
}

func (s *queueService) enqueueJoin(ctx context.Context, in JoinQueueInput) (JoinQueueOutput, error) {
	// Position stays unset; a position computed now would be stale by the
	// time the mutation replays.
	body, err := json.Marshal(store.InsertQueueEntryInput{
		ShopID:     in.ShopID,
		CustomerID: in.CustomerID,
		BookingID:  in.BookingID,
	})
	if err != nil {
		return JoinQueueOutput{}, fmt.Errorf("failed to marshal join body: %w", err)
	}

	res, err := s.sync.Do(ctx, connectivity.Operation{
		Endpoint:  store.QueueEntriesPath,
		Method:    http.MethodPost,
		Body:      body,
		Queueable: true,
	})
	out := JoinQueueOutput{Outcome: res.Outcome, MutationID: res.MutationID}
	if err != nil {
		return out, err
	}

	if res.Outcome == connectivity.OutcomeApplied {
		// The deferred path raced a reconnect and the write went through
		// directly; signal subscribers as usual.
		s.afterChange(ctx, EntryRef{ShopID: in.ShopID, CustomerID: in.CustomerID})
	} else {
		s.l.Info(ctx, "Join deferred until reconnect",
			"shop_id", in.ShopID,
			"customer_id", in.CustomerID,
			"mutation_id", res.MutationID,
		)
	}
	return out, nil
}

func (s *queueService) StartService(ctx context.Context, ref EntryRef) (MutationOutput, error) {
	out, err := s.updateStatus(ctx, ref, models.EntryStatusInService)
	if err == nil && out.Outcome == connectivity.OutcomeApplied {
		s.publishStatusChanged(ctx, ref, models.EntryStatusInService)
	}
	return out, err
}

func (s *queueService) CompleteService(ctx context.Context, ref EntryRef) (MutationOutput, error) {
	out, err := s.updateStatus(ctx, ref, models.EntryStatusCompleted)
	if err == nil && out.Outcome == connectivity.OutcomeApplied {
		s.publishStatusChanged(ctx, ref, models.EntryStatusCompleted)
	}
	return out, err
}

func (s *queueService) CancelEntry(ctx context.Context, ref EntryRef) (MutationOutput, error) {
	out, err := s.updateStatus(ctx, ref, models.EntryStatusCancelled)
	if err != nil || out.Outcome != connectivity.OutcomeApplied {
		return out, err
	}

	if s.prod != nil {
		if err := s.prod.PublishQueueLeft(ctx, events.QueueLeftEvent{
			EntryID:    ref.EntryID,
			ShopID:     ref.ShopID,
			CustomerID: ref.CustomerID,
			Reason:     "cancelled_by_customer",
			Timestamp:  time.Now(),
		}); err != nil {
			s.l.Error(ctx, "Failed to publish queue left event",
				"entry_id", ref.EntryID,
				"error", err,
			)
		}
	}
	return out, nil
}

// updateStatus routes a status transition through the connectivity layer.
// The status timestamp is stamped at decision time so a deferred mutation
// replays with the moment the action was taken, not the moment it synced.
func (s *queueService) updateStatus(ctx context.Context, ref EntryRef, status models.EntryStatus) (MutationOutput, error) {
	if ref.EntryID == "" {
		return MutationOutput{}, ErrMissingEntryID
	}

	body, err := store.StatusUpdateBody(status, time.Now())
	if err != nil {
		return MutationOutput{}, fmt.Errorf("failed to build status update: %w", err)
	}

	res, err := s.sync.Do(ctx, connectivity.Operation{
		Endpoint:  store.QueueEntryPath(ref.EntryID),
		Method:    http.MethodPatch,
		Body:      body,
		Queueable: true,
	})
	out := MutationOutput{Outcome: res.Outcome, MutationID: res.MutationID}
	if err != nil {
		s.l.Errorf(ctx, "service.queueService.updateStatus: %v", err)
		return out, err
	}

	switch res.Outcome {
	case connectivity.OutcomeApplied:
		s.afterChange(ctx, ref)
		s.l.Info(ctx, "Entry status updated",
			"entry_id", ref.EntryID,
			"status", string(status),
		)
	case connectivity.OutcomeEnqueued:
		s.l.Info(ctx, "Status update deferred until reconnect",
			"entry_id", ref.EntryID,
			"status", string(status),
			"mutation_id", res.MutationID,
		)
	}
	return out, nil
}

// GetShopQueue returns the shop's active entries in display order with
// recomputed wait estimates. Reads go straight to the store; the realtime
// manager owns cached snapshot reads.
func (s *queueService) GetShopQueue(ctx context.Context, shopID string) ([]models.QueueEntry, error) {
	if shopID == "" {
		return nil, ErrMissingShopID
	}
	entries, err := s.storeCli.FetchShopQueue(ctx, shopID)
	if err != nil {
		return nil, err
	}
	sorted := queue.SortForDisplay(activeOnly(entries))
	queue.ApplyEstimates(sorted)
	return sorted, nil
}

func (s *queueService) GetCustomerQueue(ctx context.Context, customerID string) ([]models.QueueEntry, error) {
	if customerID == "" {
		return nil, ErrMissingCustomerID
	}
	entries, err := s.storeCli.FetchCustomerQueue(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return queue.SortByRecentJoin(activeOnly(entries)), nil
}

// afterChange invalidates cached snapshots and fans the change signal out to
// the shop and customer scopes. Failures are logged only; the write itself
// already succeeded.
func (s *queueService) afterChange(ctx context.Context, ref EntryRef) {
	if err := s.snapshots.ClearPrefix(ctx, "queue:"); err != nil {
		s.l.Errorf(ctx, "service.queueService.afterChange: %v", err)
	}

	if s.notifier == nil {
		return
	}
	if ref.ShopID != "" {
		if err := s.notifier.Publish(ctx, realtime.ScopeShopQueue, ref.ShopID); err != nil {
			s.l.Errorf(ctx, "service.queueService.afterChange: %v", err)
		}
	}
	if ref.CustomerID != "" {
		if err := s.notifier.Publish(ctx, realtime.ScopeCustomerQueue, ref.CustomerID); err != nil {
			s.l.Errorf(ctx, "service.queueService.afterChange: %v", err)
		}
	}
}

func (s *queueService) publishStatusChanged(ctx context.Context, ref EntryRef, status models.EntryStatus) {
	if s.prod == nil {
		return
	}
	if err := s.prod.PublishStatusChanged(ctx, events.StatusChangedEvent{
		EntryID:   ref.EntryID,
		ShopID:    ref.ShopID,
		NewStatus: string(status),
		Timestamp: time.Now(),
	}); err != nil {
		s.l.Error(ctx, "Failed to publish status changed event",
			"entry_id", ref.EntryID,
			"error", err,
		)
	}
}

func activeOnly(entries []models.QueueEntry) []models.QueueEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.IsActive() {
			out = append(out, e)
		}
	}
	return out
}

// linkDead reports whether an error means the store gave no response at all,
// as opposed to answering with a failure status.
func linkDead(err error) bool {
	var se *store.StatusError
	return err != nil && !errors.As(err, &se)
}
