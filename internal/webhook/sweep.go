// internal/webhook/sweep.go
package webhook

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"loanflow/internal/common/logger"
	"loanflow/internal/models"
)

// EventLister is the query side the sweep reads stuck events from.
type EventLister interface {
	ListUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]*models.WebhookEvent, error)
}

// Sweeper periodically retries webhook events that were persisted but never
// successfully processed, covering crashes between the acknowledge and the
// side effect.
type Sweeper struct {
	events   EventLister
	handler  *Handler
	interval time.Duration
	minAge   time.Duration
	logger   logger.Logger

	wg   sync.WaitGroup
	stop context.CancelFunc
}

func NewSweeper(events EventLister, handler *Handler, interval time.Duration, log logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		events:   events,
		handler:  handler,
		interval: interval,
		minAge:   30 * time.Second,
		logger:   log.WithFields(map[string]interface{}{"component": "webhook-sweeper"}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.stop = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	if s.stop != nil {
		s.stop()
	}
	s.wg.Wait()
}

// Sweep reprocesses one batch of stuck events. Events younger than minAge are
// skipped so the sweep never races the in-flight first attempt.
func (s *Sweeper) Sweep(ctx context.Context) {
	events, err := s.events.ListUnprocessed(ctx, time.Now().UTC().Add(-s.minAge), 100)
	if err != nil {
		s.logger.WithError(err).Error("webhook sweep query failed", nil)
		return
	}
	if len(events) == 0 {
		return
	}

	s.logger.Info("reprocessing stuck webhook events", map[string]interface{}{
		"count": len(events),
	})
	for _, event := range events {
		var p payload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			s.logger.WithError(err).Error("stored webhook payload unreadable", map[string]interface{}{
				"providerEventId": event.ProviderEventID,
			})
			continue
		}
		s.handler.process(ctx, &p)
	}
}
