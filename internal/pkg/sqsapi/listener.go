package sqsapi

import (
	"context"
	"sync"
	"time"

	"github.com/hubwatch/ajax-bridge/internal/pkg/logging"
	"github.com/korovkin/limiter"
	"github.com/pkg/errors"
)

const (
	defaultMaxConsecutiveErrors = 5
	defaultBackoffCap           = 60 * time.Second
	defaultDispatchConcurrency  = 4
)

// Listener runs the long-poll loop against the notification queue and
// hands decoded events to a consumer channel. It deletes a message only
// after local processing completes, so delivery is at least once.
type Listener struct {
	queue  Queue
	hubID  string
	events chan<- Event

	maxConsecutiveErrors int
	backoffCap           time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewListener(queue Queue, hubID string, events chan<- Event) *Listener {
	return &Listener{
		queue:                queue,
		hubID:                hubID,
		events:               events,
		maxConsecutiveErrors: defaultMaxConsecutiveErrors,
		backoffCap:           defaultBackoffCap,
	}
}

// Start launches the receive loop. Starting a running listener is a
// no-op.
func (l *Listener) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.running = true
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.receiveLoop(ctx)
	logging.Logger(nil).Info("event listener started")
}

// Stop cancels the in-flight long-poll wait and blocks until the loop
// exits or ctx runs out.
func (l *Listener) Stop(ctx context.Context) {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		logging.Logger(nil).Warn("event listener did not stop within the grace period")
	}
}

// IsRunning reports whether the receive loop is live. It goes false
// after Stop and after the listener disables itself on repeated
// failures.
func (l *Listener) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Listener) setStopped() {
	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
}

func (l *Listener) receiveLoop(ctx context.Context) {
	defer close(l.done)
	defer l.setStopped()

	consecutiveErrors := 0

	for {
		select {
		case <-ctx.Done():
			logging.Logger(nil).Info("event listener shutting down")
			return
		default:
		}

		messages, err := l.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logging.Logger(nil).Info("event listener shutting down")
				return
			}

			consecutiveErrors++
			logging.Logger(nil).WithError(err).Errorf("polling event queue (%d consecutive)", consecutiveErrors)

			if consecutiveErrors >= l.maxConsecutiveErrors {
				// give up; the poll coordinator still covers state
				// changes until the listener is restarted
				logging.Logger(nil).Error("too many consecutive errors, disabling event listener")
				return
			}

			l.backoff(ctx, consecutiveErrors)
			continue
		}

		consecutiveErrors = 0

		if len(messages) == 0 {
			continue
		}

		// each message carries its own receipt handle, so deletes can
		// run concurrently; wait for the batch before the next receive
		limit := limiter.NewConcurrencyLimiter(defaultDispatchConcurrency)
		for _, msg := range messages {
			msg := msg
			if _, err := limit.Execute(func() {
				l.processMessage(ctx, msg)
			}); err != nil {
				logging.Logger(nil).WithError(err).Error("dispatching queue message")
			}
		}
		if err := limit.WaitAndClose(); err != nil {
			logging.Logger(nil).WithError(err).Error("waiting for message dispatch")
		}
	}
}

func (l *Listener) backoff(ctx context.Context, consecutiveErrors int) {
	delay := time.Second * (1 << uint(consecutiveErrors))
	if delay > l.backoffCap {
		delay = l.backoffCap
	}

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func (l *Listener) processMessage(ctx context.Context, msg Message) {
	event, err := ParseEvent(msg)
	if err != nil {
		// a message that cannot be decoded never will be; drop it
		logging.Logger(nil).WithError(err).Error("parsing queue message, dropping")
		l.deleteMessage(ctx, msg.Receipt)
		return
	}

	if l.hubID != "" && event.HubID != l.hubID {
		logging.Logger(nil).Debugf("ignoring event for hub %s (listening for %s)", event.HubID, l.hubID)
		l.deleteMessage(ctx, msg.Receipt)
		return
	}

	logging.Logger(nil).Debugf("received event: type=%s hub=%s device=%s", event.EventType, event.HubID, event.DeviceID)

	// hand off before deleting: a crash here redelivers the message and
	// the repeated patch is idempotent
	select {
	case <-ctx.Done():
		return
	case l.events <- event:
	}

	l.deleteMessage(ctx, msg.Receipt)
}

func (l *Listener) deleteMessage(ctx context.Context, receipt string) {
	if receipt == "" {
		return
	}

	if err := l.queue.Delete(ctx, receipt); err != nil {
		logging.Logger(nil).WithError(err).Warn("acknowledging queue message")
	}
}
