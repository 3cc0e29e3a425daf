package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"pi_guard/internal/domain"
	"sync"
	"time"
)

type EventType string

const (
	EventViolation  EventType = "violation"
	EventFreeze     EventType = "freeze"
	EventFundReturn EventType = "fund_return"
	EventUnfreeze   EventType = "unfreeze"
)

var ErrQueueFull = errors.New("notification queue is full")

// ComplianceEvent is published after a state change has been committed.
type ComplianceEvent struct {
	Type          EventType            `json:"type"`
	Account       string               `json:"account"`
	TransactionID string               `json:"transaction_id,omitempty"`
	Reason        domain.RejectReason  `json:"reason,omitempty"`
	Status        domain.AccountStatus `json:"status"`
	Returns       []*domain.FundReturn `json:"returns,omitempty"`
	Operator      string               `json:"operator,omitempty"`
	At            time.Time            `json:"at"`
}

// Sink delivers events to one destination. Publish is called from worker goroutines.
type Sink interface {
	Name() string
	Publish(ctx context.Context, event ComplianceEvent) error
}

type NotificationService struct {
	sinks        []Sink
	messageQueue chan ComplianceEvent
	workers      int
	timeout      time.Duration
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
	logger       *slog.Logger
}

func NewNotificationService(sinks []Sink, workers int, logger *slog.Logger) *NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}

	service := &NotificationService{
		sinks:        sinks,
		messageQueue: make(chan ComplianceEvent, 1000),
		workers:      workers,
		timeout:      5 * time.Second,
		shutdownChan: make(chan struct{}),
		logger:       logger,
	}

	service.startWorkers()

	return service
}

// Notify enqueues without blocking; the caller usually holds the contract lock.
func (s *NotificationService) Notify(ctx context.Context, event ComplianceEvent) error {
	select {
	case <-s.shutdownChan:
		return fmt.Errorf("notification service stopped")
	default:
	}

	select {
	case s.messageQueue <- event:
		s.logger.DebugContext(ctx, "Compliance event queued",
			slog.String("type", string(event.Type)),
			slog.String("account", event.Account))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		s.logger.WarnContext(ctx, "Compliance event dropped",
			slog.String("type", string(event.Type)),
			slog.String("account", event.Account))
		return ErrQueueFull
	}
}

func (s *NotificationService) startWorkers() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *NotificationService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("Notification worker started", slog.Int("worker_id", id))

	for {
		select {
		case event := <-s.messageQueue:
			s.processEvent(event, id)
		case <-s.shutdownChan:
			s.drain(id)
			s.logger.Debug("Notification worker stopping", slog.Int("worker_id", id))
			return
		}
	}
}

func (s *NotificationService) drain(workerID int) {
	for {
		select {
		case event := <-s.messageQueue:
			s.processEvent(event, workerID)
		default:
			return
		}
	}
}

func (s *NotificationService) processEvent(event ComplianceEvent, workerID int) {
	for _, sink := range s.sinks {
		startTime := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := sink.Publish(ctx, event)
		cancel()

		if err != nil {
			s.logger.Error("Failed to publish compliance event",
				slog.String("sink", sink.Name()),
				slog.String("type", string(event.Type)),
				slog.String("account", event.Account),
				slog.String("error", err.Error()),
				slog.Int("worker_id", workerID),
				slog.Duration("duration", time.Since(startTime)))
		}
	}
}

func (s *NotificationService) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() { close(s.shutdownChan) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Notification service shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
