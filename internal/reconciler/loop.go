package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/josh-kwaku/samaki-checkout/internal/domain"
)

type signalSource string

const (
	sourceRealtime   signalSource = "realtime"
	sourcePoll       signalSource = "poll"
	sourceFinalCheck signalSource = "final_check"
	sourceManual     signalSource = "manual_check"
	sourceCancel     signalSource = "cancel"
)

type signal struct {
	source signalSource
	report domain.StatusReport
	err    error
	ack    chan struct{}
}

type outcome struct {
	status        domain.AttemptStatus
	transactionID string
	cause         error
}

func (r *Reconciler) run(ctx context.Context, ticker *clock.Ticker, timer *clock.Timer, unsubscribe func()) {
	defer r.closeDone()

	tick := ticker.C
	deadline := timer.C
	polling := false

	cleanup := func() {
		ticker.Stop()
		timer.Stop()
		r.Stop()
		unsubscribe()
	}

	for {
		select {
		case <-ctx.Done():
			cleanup()
			r.logger.Info("reconciler stopped before a terminal outcome")
			return

		case <-tick:
			if polling {
				r.logger.Debug("previous status check still in flight, skipping tick")
				continue
			}
			polling = true
			go r.checkStatus(ctx, sourcePoll)

		case <-deadline:
			tick, deadline = nil, nil
			ticker.Stop()
			r.logger.Info("payment timeout elapsed, running final status check")
			go r.checkStatus(ctx, sourceFinalCheck)

		case s := <-r.signals:
			if s.source == sourcePoll {
				polling = false
			}

			out, terminal := r.resolve(s)
			if !terminal {
				r.ack(s)
				continue
			}

			attempt, ok := r.finish(out.status, out.transactionID, out.cause)
			if !ok {
				r.ack(s)
				continue
			}
			cleanup()
			r.logger.Info("payment attempt finished",
				"status", attempt.Status,
				"source", s.source,
				"transaction_id", out.transactionID,
			)
			r.notify(attempt, out.cause)
			r.ack(s)
			return
		}
	}
}

func (r *Reconciler) ack(s signal) {
	if s.ack != nil {
		close(s.ack)
	}
	if signalHandled != nil {
		signalHandled(r, s.source)
	}
}

// resolve interprets one signal. The loop only calls it while the attempt is
// pending, so every terminal outcome it returns is the first one.
func (r *Reconciler) resolve(s signal) (outcome, bool) {
	final := s.source == sourceFinalCheck
	timedOut := outcome{status: domain.AttemptStatusTimedOut, cause: domain.ErrTimedOut}

	if s.source == sourceCancel {
		return outcome{status: domain.AttemptStatusFailed, cause: domain.ErrUserCancelled}, true
	}

	if s.err != nil {
		r.logger.Warn("status check failed", "source", s.source, "error", s.err)
		return timedOut, final
	}

	switch s.report.Status {
	case domain.GatewayStatusSuccess:
		if s.report.TransactionID == "" {
			r.logger.Warn("success reported without transaction id, ignoring", "source", s.source)
			return timedOut, final
		}
		return outcome{status: domain.AttemptStatusSuccess, transactionID: s.report.TransactionID}, true

	case domain.GatewayStatusFailed:
		cause := domain.ErrPaymentFailed
		if s.report.Message != "" {
			cause = fmt.Errorf("%w: %s", domain.ErrPaymentFailed, s.report.Message)
		}
		return outcome{status: domain.AttemptStatusFailed, cause: cause}, true

	case domain.GatewayStatusPending:
		return timedOut, final

	default:
		r.logger.Warn("unknown payment status", "source", s.source, "status", s.report.Status)
		return timedOut, final
	}
}

// checkStatus runs one gateway check bounded by CheckTimeout. A check that
// runs out of time is inconclusive, like any other transport error.
func (r *Reconciler) checkStatus(ctx context.Context, source signalSource) {
	referenceID := r.Attempt().ReferenceID

	checkCtx, cancel := r.clock.WithTimeout(ctx, r.opts.CheckTimeout)
	defer cancel()

	report, err := r.gateway.CheckStatus(checkCtx, referenceID)
	if ctx.Err() != nil {
		return
	}
	if err != nil && errors.Is(checkCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("status check exceeded %s: %w", r.opts.CheckTimeout, err)
	}
	r.deliver(signal{source: source, report: report, err: err})
}

func (r *Reconciler) deliver(s signal) {
	select {
	case r.signals <- s:
	case <-r.done:
	}
}

func (r *Reconciler) subscribe(ctx context.Context) func() {
	noop := func() {}
	if r.channel == nil {
		r.logger.Warn("no realtime channel configured, relying on polling")
		return noop
	}

	if !r.channel.IsConnected() {
		if err := r.channel.Connect(ctx); err != nil {
			r.logger.Warn("realtime channel unavailable, relying on polling", "error", err)
			return noop
		}
	}

	unsubscribe, err := r.channel.Subscribe(r.opts.CallbackEvent, r.handleRealtime)
	if err != nil {
		r.logger.Warn("realtime subscription failed, relying on polling", "event", r.opts.CallbackEvent, "error", err)
		return noop
	}
	return unsubscribe
}

func (r *Reconciler) handleRealtime(payload []byte) {
	var event domain.CallbackEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		r.logger.Warn("malformed realtime callback", "error", err)
		return
	}

	if event.ReferenceID == "" || event.ReferenceID != r.Attempt().ReferenceID {
		return
	}

	r.deliver(signal{source: sourceRealtime, report: event.Report()})
}
