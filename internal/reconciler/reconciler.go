// Package reconciler drives a single mobile-money payment attempt from
// initiation to exactly one terminal outcome, racing realtime callbacks,
// status polling and a hard deadline.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/josh-kwaku/samaki-checkout/internal/domain"
	"github.com/josh-kwaku/samaki-checkout/internal/logging"
)

const (
	DefaultTimeout       = 2 * time.Minute
	DefaultPollInterval  = 5 * time.Second
	DefaultCallbackEvent = "mobile_money.callback"
)

type Gateway interface {
	Initiate(ctx context.Context, amount int64, phone string) (string, error)
	CheckStatus(ctx context.Context, referenceID string) (domain.StatusReport, error)
}

// Channel is the process-wide realtime connection. Reconcilers only add and
// remove their own listeners; they never close it.
type Channel interface {
	Subscribe(event string, handler func(payload []byte)) (func(), error)
	IsConnected() bool
	Connect(ctx context.Context) error
}

// Callbacks run on the reconciler's loop goroutine. They must not call Cancel.
type Callbacks struct {
	OnComplete func(attempt domain.PaymentAttempt)
	OnFailed   func(attempt domain.PaymentAttempt, err error)
}

// Options tune one attempt. CheckTimeout bounds every status check, including
// the final one after the deadline; it defaults to PollInterval.
type Options struct {
	SessionID     uuid.UUID
	CustomerID    uuid.UUID
	Timeout       time.Duration
	PollInterval  time.Duration
	CheckTimeout  time.Duration
	CallbackEvent string
	Phones        domain.PhoneFormat
	Clock         clock.Clock
	Logger        *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.CheckTimeout <= 0 {
		o.CheckTimeout = o.PollInterval
	}
	if o.CallbackEvent == "" {
		o.CallbackEvent = DefaultCallbackEvent
	}
	if o.Phones.CountryCode == "" {
		o.Phones = domain.NewPhoneFormat(domain.DefaultCountryCode)
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type Reconciler struct {
	gateway   Gateway
	channel   Channel
	callbacks Callbacks
	opts      Options
	clock     clock.Clock
	logger    *slog.Logger

	mu       sync.RWMutex
	attempt  domain.PaymentAttempt
	failure  error
	stopLoop context.CancelFunc

	signals  chan signal
	done     chan struct{}
	doneOnce sync.Once
}

// signalHandled, when non-nil, runs on the loop after each signal is handled.
var signalHandled func(r *Reconciler, source signalSource)

func New(gateway Gateway, channel Channel, callbacks Callbacks, opts Options) *Reconciler {
	opts = opts.withDefaults()
	return &Reconciler{
		gateway:   gateway,
		channel:   channel,
		callbacks: callbacks,
		opts:      opts,
		clock:     opts.Clock,
		logger:    logging.WithAttempt(opts.Logger, sessionLabel(opts.SessionID), ""),
		attempt: domain.PaymentAttempt{
			ID:         uuid.New(),
			SessionID:  opts.SessionID,
			CustomerID: opts.CustomerID,
			Status:     domain.AttemptStatusIdle,
			CreatedAt:  opts.Clock.Now().UTC(),
		},
		signals: make(chan signal, 8),
		done:    make(chan struct{}),
	}
}

func (r *Reconciler) Submit(ctx context.Context, amount int64, rawPhone string) (domain.PaymentAttempt, error) {
	if amount <= 0 {
		return r.Attempt(), fmt.Errorf("Submit: %w", domain.ErrInvalidAmount)
	}
	phone, err := r.opts.Phones.Normalize(rawPhone)
	if err != nil {
		return r.Attempt(), fmt.Errorf("Submit: %w", err)
	}

	r.mu.Lock()
	switch status := r.attempt.Status; {
	case status.IsLive():
		r.mu.Unlock()
		return r.Attempt(), fmt.Errorf("Submit: %w", domain.ErrAttemptInProgress)
	case status.IsTerminal():
		r.mu.Unlock()
		return r.Attempt(), fmt.Errorf("Submit: %w", domain.ErrAttemptFinished)
	}
	r.attempt.Amount = amount
	r.attempt.Phone = phone
	r.attempt.Status = domain.AttemptStatusInitiating
	r.mu.Unlock()

	// The push may reach the handset even if the caller goes away, so
	// initiation ignores cancellation and keeps only the caller's deadline.
	initCtx := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithDeadline(initCtx, deadline)
		defer cancel()
	}

	referenceID, err := r.gateway.Initiate(initCtx, amount, phone)
	if err == nil && referenceID == "" {
		err = errors.New("gateway returned no reference id")
	}
	if err != nil {
		if !errors.Is(err, domain.ErrInitiationRejected) {
			err = fmt.Errorf("%w: %w", domain.ErrInitiationRejected, err)
		}
		r.logger.Warn("payment initiation rejected", "amount", amount, "error", err)
		attempt, _ := r.finish(domain.AttemptStatusFailed, "", err)
		r.notify(attempt, err)
		r.closeDone()
		return attempt, fmt.Errorf("Submit: %w", err)
	}

	loopCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	ticker := r.clock.Ticker(r.opts.PollInterval)
	timer := r.clock.Timer(r.opts.Timeout)
	startedAt := r.clock.Now().UTC()

	r.mu.Lock()
	r.attempt.ReferenceID = referenceID
	r.attempt.StartedAt = &startedAt
	r.attempt.Status = domain.AttemptStatusPending
	r.stopLoop = stop
	r.logger = logging.WithAttempt(r.opts.Logger, sessionLabel(r.opts.SessionID), referenceID)
	snapshot := r.attempt
	r.mu.Unlock()

	r.logger.Info("payment pending",
		"amount", amount,
		"timeout", r.opts.Timeout,
		"poll_interval", r.opts.PollInterval,
		"check_timeout", r.opts.CheckTimeout,
	)

	unsubscribe := r.subscribe(loopCtx)
	go r.run(loopCtx, ticker, timer, unsubscribe)

	return snapshot, nil
}

// Cancel aborts a pending attempt locally. The push already sent to the
// subscriber's handset cannot be revoked.
func (r *Reconciler) Cancel() error {
	if r.Status() != domain.AttemptStatusPending {
		return fmt.Errorf("Cancel: %w", domain.ErrNotPending)
	}
	r.deliver(signal{source: sourceCancel})
	<-r.done

	if !errors.Is(r.Failure(), domain.ErrUserCancelled) {
		return fmt.Errorf("Cancel: %w", domain.ErrAttemptFinished)
	}
	return nil
}

// CheckStatusNow runs one ad-hoc status check. While pending the result is
// applied like a poll tick; after a timeout it is only reported back.
func (r *Reconciler) CheckStatusNow(ctx context.Context) (domain.StatusReport, error) {
	a := r.Attempt()
	if a.ReferenceID == "" {
		return domain.StatusReport{}, fmt.Errorf("CheckStatusNow: %w", domain.ErrNotPending)
	}

	report, err := r.gateway.CheckStatus(ctx, a.ReferenceID)

	if a.Status == domain.AttemptStatusPending {
		ack := make(chan struct{})
		r.deliver(signal{source: sourceManual, report: report, err: err, ack: ack})
		select {
		case <-ack:
		case <-r.done:
		case <-ctx.Done():
		}
	} else {
		r.logger.Info("manual status check on finished attempt",
			"attempt_status", a.Status,
			"gateway_status", report.Status,
		)
	}

	if err != nil {
		return report, fmt.Errorf("CheckStatusNow: %w", err)
	}
	return report, nil
}

// Stop ends the loop without a terminal transition. Used on shutdown.
func (r *Reconciler) Stop() {
	r.mu.RLock()
	stop := r.stopLoop
	r.mu.RUnlock()
	if stop != nil {
		stop()
	}
}

func (r *Reconciler) Attempt() domain.PaymentAttempt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.attempt
}

func (r *Reconciler) Status() domain.AttemptStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.attempt.Status
}

// Failure is the error handed to OnFailed, or nil.
func (r *Reconciler) Failure() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failure
}

func (r *Reconciler) SecondsRemaining() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.attempt.Status != domain.AttemptStatusPending {
		return 0
	}
	deadline, ok := r.attempt.Deadline(r.opts.Timeout)
	if !ok {
		return 0
	}
	remaining := deadline.Sub(r.clock.Now())
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Seconds()))
}

// Done is closed once the attempt is terminal and its callback has returned,
// or once the loop was stopped.
func (r *Reconciler) Done() <-chan struct{} {
	return r.done
}

func (r *Reconciler) finish(status domain.AttemptStatus, transactionID string, cause error) (domain.PaymentAttempt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !domain.CanTransition(r.attempt.Status, status) {
		return r.attempt, false
	}

	now := r.clock.Now().UTC()
	r.attempt.Status = status
	r.attempt.FinishedAt = &now
	if transactionID != "" && r.attempt.TransactionID == nil {
		r.attempt.TransactionID = &transactionID
	}
	if cause != nil {
		kind := domain.KindOf(cause)
		msg := cause.Error()
		r.attempt.FailureKind = &kind
		r.attempt.FailureMessage = &msg
		r.failure = cause
	}
	return r.attempt, true
}

func (r *Reconciler) notify(attempt domain.PaymentAttempt, cause error) {
	if attempt.Status == domain.AttemptStatusSuccess {
		if r.callbacks.OnComplete != nil {
			r.callbacks.OnComplete(attempt)
		}
		return
	}
	if r.callbacks.OnFailed != nil {
		r.callbacks.OnFailed(attempt, cause)
	}
}

func (r *Reconciler) closeDone() {
	r.doneOnce.Do(func() { close(r.done) })
}

func sessionLabel(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
