package mail

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"finora/internal/auth"
	"finora/internal/observability"
)

var (
	ErrQueueFull        = errors.New("mail queue is full")
	ErrDispatcherClosed = errors.New("mail dispatcher is closed")
)

const defaultSendTimeout = 30 * time.Second

// Dispatcher renders account emails and hands them to a fixed pool of workers,
// so a slow relay never holds up the request that triggered the email.
type Dispatcher struct {
	sender      Sender
	composer    Composer
	logger      *observability.Logger
	sendTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	jobs   chan Message
	wg     sync.WaitGroup
}

var _ auth.Notifier = (*Dispatcher)(nil)

func NewDispatcher(sender Sender, composer Composer, logger *observability.Logger, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	d := &Dispatcher{
		sender:      sender,
		composer:    composer,
		logger:      logger,
		sendTimeout: defaultSendTimeout,
		jobs:        make(chan Message, queueSize),
	}
	d.wg.Add(workers)
	for range workers {
		go d.work()
	}
	return d
}

func (d *Dispatcher) SendVerificationEmail(_ context.Context, email, name, token string) error {
	msg, err := d.composer.Verification(email, name, token)
	if err != nil {
		return err
	}
	return d.enqueue(msg)
}

func (d *Dispatcher) SendPasswordResetEmail(_ context.Context, email, name, token string) error {
	msg, err := d.composer.PasswordReset(email, name, token)
	if err != nil {
		return err
	}
	return d.enqueue(msg)
}

func (d *Dispatcher) SendWelcomeEmail(_ context.Context, email, name string) error {
	msg, err := d.composer.Welcome(email, name)
	if err != nil {
		return err
	}
	return d.enqueue(msg)
}

// Close stops accepting messages and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) enqueue(msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.jobs <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()

	for msg := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		err := d.sender.Send(ctx, msg)
		cancel()

		if err != nil {
			d.logger.Error("email_delivery_failed", map[string]any{
				"to":      msg.To,
				"subject": msg.Subject,
				"error":   err.Error(),
			})
			sentry.CaptureException(err)
			continue
		}
		d.logger.Info("email_delivered", map[string]any{"to": msg.To, "subject": msg.Subject})
	}
}
