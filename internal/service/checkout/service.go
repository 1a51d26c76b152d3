// Package checkout keeps one payment reconciler per checkout session and
// persists each attempt and the order a successful attempt produces.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/josh-kwaku/samaki-checkout/internal/domain"
	"github.com/josh-kwaku/samaki-checkout/internal/logging"
	"github.com/josh-kwaku/samaki-checkout/internal/reconciler"
)

const persistTimeout = 5 * time.Second

type attemptRepo interface {
	Create(ctx context.Context, a *domain.PaymentAttempt) error
	Update(ctx context.Context, a *domain.PaymentAttempt) error
	GetLatestBySession(ctx context.Context, sessionID uuid.UUID) (*domain.PaymentAttempt, error)
	MarkAbandoned(ctx context.Context) (int64, error)
}

type orderRepo interface {
	Create(ctx context.Context, o *domain.Order) error
}

type Config struct {
	Timeout       time.Duration
	PollInterval  time.Duration
	CheckTimeout  time.Duration
	CallbackEvent string
	Phones        domain.PhoneFormat
	Clock         clock.Clock
}

// Snapshot is the state of a session's current attempt as shown to the buyer.
type Snapshot struct {
	Attempt          domain.PaymentAttempt
	SecondsRemaining int
}

// session is the in-memory side of a checkout session. It is dropped once its
// attempt is terminal and stored; reads then go to the store.
type session struct {
	customerID uuid.UUID
	attemptID  uuid.UUID
	rec        *reconciler.Reconciler
	starting   bool
}

func (s *session) live() bool {
	return s.starting || s.rec.Status().IsLive()
}

type Service struct {
	gateway  reconciler.Gateway
	channel  reconciler.Channel
	attempts attemptRepo
	orders   orderRepo
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
}

func NewService(
	gateway reconciler.Gateway,
	channel reconciler.Channel,
	attempts attemptRepo,
	orders orderRepo,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Phones.CountryCode == "" {
		cfg.Phones = domain.NewPhoneFormat(domain.DefaultCountryCode)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gateway:  gateway,
		channel:  channel,
		attempts: attempts,
		orders:   orders,
		cfg:      cfg,
		logger:   logger.With("component", "checkout"),
		sessions: make(map[uuid.UUID]*session),
	}
}

// StartPayment begins a new attempt for sessionID. At most one attempt per
// session is live at a time; a finished attempt is replaced.
func (s *Service) StartPayment(ctx context.Context, customerID, sessionID uuid.UUID, amount int64, rawPhone string) (domain.PaymentAttempt, error) {
	log := logging.FromContext(ctx)

	if amount <= 0 {
		return domain.PaymentAttempt{}, fmt.Errorf("StartPayment: %w", domain.ErrInvalidAmount)
	}
	phone, err := s.cfg.Phones.Normalize(rawPhone)
	if err != nil {
		return domain.PaymentAttempt{}, fmt.Errorf("StartPayment: %w", err)
	}

	sess, err := s.reserve(customerID, sessionID)
	if err != nil {
		return domain.PaymentAttempt{}, fmt.Errorf("StartPayment: %w", err)
	}
	defer s.release(sess)

	draft := sess.rec.Attempt()
	draft.Amount = amount
	draft.Phone = phone
	draft.Status = domain.AttemptStatusInitiating
	if err := s.attempts.Create(ctx, &draft); err != nil {
		s.forget(sessionID, sess)
		return domain.PaymentAttempt{}, fmt.Errorf("StartPayment: persist attempt: %w", err)
	}

	attempt, err := sess.rec.Submit(ctx, amount, phone)
	if err != nil {
		log.Warn("payment attempt not started", "session_id", sessionID, "error", err)
		return attempt, fmt.Errorf("StartPayment: %w", err)
	}

	s.persist(attempt)
	log.Info("payment attempt started",
		"session_id", sessionID,
		"attempt_id", attempt.ID,
		"reference_id", attempt.ReferenceID,
		"amount", amount,
	)
	return attempt, nil
}

func (s *Service) GetStatus(ctx context.Context, customerID, sessionID uuid.UUID) (Snapshot, error) {
	sess, err := s.lookup(customerID, sessionID)
	if err == nil {
		return Snapshot{Attempt: sess.rec.Attempt(), SecondsRemaining: sess.rec.SecondsRemaining()}, nil
	}
	if !errors.Is(err, errSessionUnknown) {
		return Snapshot{}, fmt.Errorf("GetStatus: %w", err)
	}

	stored, err := s.stored(ctx, customerID, sessionID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("GetStatus: %w", err)
	}
	return Snapshot{Attempt: stored}, nil
}

func (s *Service) CancelPayment(ctx context.Context, customerID, sessionID uuid.UUID) (domain.PaymentAttempt, error) {
	sess, err := s.lookup(customerID, sessionID)
	if errors.Is(err, errSessionUnknown) {
		stored, err := s.stored(ctx, customerID, sessionID)
		if err != nil {
			return domain.PaymentAttempt{}, fmt.Errorf("CancelPayment: %w", err)
		}
		return stored, fmt.Errorf("CancelPayment: %w", domain.ErrNotPending)
	}
	if err != nil {
		return domain.PaymentAttempt{}, fmt.Errorf("CancelPayment: %w", err)
	}

	if err := sess.rec.Cancel(); err != nil {
		return sess.rec.Attempt(), fmt.Errorf("CancelPayment: %w", err)
	}

	logging.FromContext(ctx).Info("payment attempt cancelled", "session_id", sessionID)
	return sess.rec.Attempt(), nil
}

// CheckStatusNow asks the gateway about the session's attempt. For a settled
// attempt the report is returned without changing what was stored.
func (s *Service) CheckStatusNow(ctx context.Context, customerID, sessionID uuid.UUID) (domain.StatusReport, domain.PaymentAttempt, error) {
	sess, err := s.lookup(customerID, sessionID)
	if errors.Is(err, errSessionUnknown) {
		return s.checkSettled(ctx, customerID, sessionID)
	}
	if err != nil {
		return domain.StatusReport{}, domain.PaymentAttempt{}, fmt.Errorf("CheckStatusNow: %w", err)
	}

	report, err := sess.rec.CheckStatusNow(ctx)
	if err != nil {
		return report, sess.rec.Attempt(), fmt.Errorf("CheckStatusNow: %w", err)
	}
	return report, sess.rec.Attempt(), nil
}

func (s *Service) checkSettled(ctx context.Context, customerID, sessionID uuid.UUID) (domain.StatusReport, domain.PaymentAttempt, error) {
	stored, err := s.stored(ctx, customerID, sessionID)
	if err != nil {
		return domain.StatusReport{}, domain.PaymentAttempt{}, fmt.Errorf("CheckStatusNow: %w", err)
	}
	if stored.ReferenceID == "" {
		return domain.StatusReport{}, stored, fmt.Errorf("CheckStatusNow: %w", domain.ErrNotPending)
	}

	report, err := s.gateway.CheckStatus(ctx, stored.ReferenceID)
	if err != nil {
		return report, stored, fmt.Errorf("CheckStatusNow: %w", err)
	}
	logging.FromContext(ctx).Info("manual status check on settled attempt",
		"session_id", sessionID,
		"attempt_status", stored.Status,
		"gateway_status", report.Status,
	)
	return report, stored, nil
}

// Recover times out attempts a previous process left live.
func (s *Service) Recover(ctx context.Context) error {
	n, err := s.attempts.MarkAbandoned(ctx)
	if err != nil {
		return fmt.Errorf("Recover: %w", err)
	}
	if n > 0 {
		s.logger.Warn("timed out attempts abandoned by previous run", "count", n)
	}
	return nil
}

// Shutdown stops every running loop. Their attempts stay live in the store
// and are settled by Recover on the next start.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	stopped := 0
	for _, sess := range s.sessions {
		if sess.rec.Status().IsLive() {
			sess.rec.Stop()
			stopped++
		}
	}
	s.logger.Info("checkout service stopped", "live_attempts", stopped)
}

func (s *Service) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, sess := range s.sessions {
		if sess.live() {
			n++
		}
	}
	return n
}

var errSessionUnknown = errors.New("session has no attempt in memory")

func (s *Service) reserve(customerID, sessionID uuid.UUID) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[sessionID]; ok {
		if existing.customerID != customerID {
			return nil, domain.ErrNotFound
		}
		if existing.live() {
			return nil, domain.ErrAttemptInProgress
		}
	}

	sess := &session{customerID: customerID, starting: true}
	sess.rec = reconciler.New(s.gateway, s.channel, reconciler.Callbacks{
		OnComplete: s.onComplete,
		OnFailed:   s.onFailed,
	}, reconciler.Options{
		SessionID:     sessionID,
		CustomerID:    customerID,
		Timeout:       s.cfg.Timeout,
		PollInterval:  s.cfg.PollInterval,
		CheckTimeout:  s.cfg.CheckTimeout,
		CallbackEvent: s.cfg.CallbackEvent,
		Phones:        s.cfg.Phones,
		Clock:         s.cfg.Clock,
		Logger:        s.logger,
	})
	sess.attemptID = sess.rec.Attempt().ID
	s.sessions[sessionID] = sess
	return sess, nil
}

func (s *Service) release(sess *session) {
	s.mu.Lock()
	sess.starting = false
	s.mu.Unlock()
}

func (s *Service) forget(sessionID uuid.UUID, sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[sessionID] == sess {
		delete(s.sessions, sessionID)
	}
}

// retire drops the session holding attempt, unless a newer attempt has
// already taken its place.
func (s *Service) retire(attempt domain.PaymentAttempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[attempt.SessionID]; ok && sess.attemptID == attempt.ID {
		delete(s.sessions, attempt.SessionID)
	}
}

func (s *Service) lookup(customerID, sessionID uuid.UUID) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, errSessionUnknown
	}
	if sess.customerID != customerID {
		return nil, domain.ErrNotFound
	}
	return sess, nil
}

func (s *Service) stored(ctx context.Context, customerID, sessionID uuid.UUID) (domain.PaymentAttempt, error) {
	stored, err := s.attempts.GetLatestBySession(ctx, sessionID)
	if err != nil {
		return domain.PaymentAttempt{}, err
	}
	if stored.CustomerID != customerID {
		return domain.PaymentAttempt{}, domain.ErrNotFound
	}
	return *stored, nil
}

func (s *Service) onComplete(attempt domain.PaymentAttempt) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	log := logging.WithAttempt(s.logger, attempt.SessionID.String(), attempt.ReferenceID)

	if attempt.TransactionID == nil {
		log.Error("successful attempt has no transaction id", "attempt_id", attempt.ID)
	} else {
		order := &domain.Order{
			ID:            uuid.New(),
			SessionID:     attempt.SessionID,
			AttemptID:     attempt.ID,
			CustomerID:    attempt.CustomerID,
			TransactionID: *attempt.TransactionID,
			ReferenceID:   attempt.ReferenceID,
			Amount:        attempt.Amount,
			Phone:         attempt.Phone,
			CreatedAt:     s.cfg.Clock.Now().UTC(),
		}
		switch err := s.orders.Create(ctx, order); {
		case errors.Is(err, domain.ErrDuplicateOrder):
			log.Info("order already exists for transaction", "transaction_id", order.TransactionID)
		case err != nil:
			log.Error("failed to create order", "transaction_id", order.TransactionID, "error", err)
		default:
			log.Info("order created", "order_id", order.ID, "transaction_id", order.TransactionID)
		}
	}

	if s.persistWith(ctx, attempt) {
		s.retire(attempt)
	}
}

func (s *Service) onFailed(attempt domain.PaymentAttempt, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	logging.WithAttempt(s.logger, attempt.SessionID.String(), attempt.ReferenceID).
		Info("payment attempt failed", "status", attempt.Status, "kind", domain.KindOf(cause), "error", cause)

	if s.persistWith(ctx, attempt) {
		s.retire(attempt)
	}
}

func (s *Service) persist(attempt domain.PaymentAttempt) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	s.persistWith(ctx, attempt)
}

// persistWith writes attempt and reports whether the store is current. A
// not-found result means a terminal state was already stored and is kept.
func (s *Service) persistWith(ctx context.Context, attempt domain.PaymentAttempt) bool {
	err := s.attempts.Update(ctx, &attempt)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.logger.Debug("attempt already settled in store", "attempt_id", attempt.ID, "status", attempt.Status)
	case err != nil:
		s.logger.Error("failed to persist attempt", "attempt_id", attempt.ID, "status", attempt.Status, "error", err)
		return false
	}
	return true
}
