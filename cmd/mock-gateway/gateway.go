package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/samaki-checkout/internal/domain"
	"github.com/josh-kwaku/samaki-checkout/internal/gateway"
)

// Phone suffixes that force an outcome, for demos and manual testing.
const (
	suffixRejected  = "000"
	suffixDeclined  = "111"
	suffixNoAnswer  = "999"
	callbackRetries = 3
)

type push struct {
	referenceID   string
	phone         string
	callbackURL   string
	status        domain.GatewayStatus
	transactionID string
	message       string
}

type mockGateway struct {
	cfg    mockConfig
	logger *slog.Logger
	client *http.Client

	// settleAfter picks the delay before a push is answered on the handset.
	settleAfter func() time.Duration
	// approve decides whether an answered push is accepted.
	approve func() bool

	mu     sync.Mutex
	pushes map[string]*push
	timers []*time.Timer
}

func newMockGateway(cfg mockConfig, logger *slog.Logger) *mockGateway {
	g := &mockGateway{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: 5 * time.Second},
		pushes: make(map[string]*push),
	}
	g.settleAfter = func() time.Duration {
		spread := cfg.SettleMax - cfg.SettleMin
		if spread <= 0 {
			return cfg.SettleMin
		}
		return cfg.SettleMin + rand.N(spread)
	}
	g.approve = func() bool { return rand.Float64() < cfg.SuccessRate }
	return g
}

func (g *mockGateway) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /v1/push-payments", g.requireKey(g.initiate))
	mux.HandleFunc("GET /v1/push-payments/{reference}", g.requireKey(g.status))
	return mux
}

func (g *mockGateway) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.cfg.APIKey != "" && r.Header.Get("X-Api-Key") != g.cfg.APIKey {
			writeJSON(w, http.StatusUnauthorized, gateway.ErrorResponse{Error: "invalid api key"})
			return
		}
		next(w, r)
	}
}

func (g *mockGateway) initiate(w http.ResponseWriter, r *http.Request) {
	var req gateway.InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, gateway.ErrorResponse{Error: "malformed request"})
		return
	}

	if !req.Amount.IsPositive() || !req.Amount.IsInteger() {
		writeJSON(w, http.StatusBadRequest, gateway.ErrorResponse{Error: "amount must be a positive whole number"})
		return
	}
	if len(req.Phone) != 12 {
		writeJSON(w, http.StatusBadRequest, gateway.ErrorResponse{Error: "phone must be in international format"})
		return
	}
	if strings.HasSuffix(req.Phone, suffixRejected) {
		writeJSON(w, http.StatusUnprocessableEntity, gateway.ErrorResponse{Error: "subscriber not registered for mobile money"})
		return
	}

	p := &push{
		referenceID: "MM" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:14]),
		phone:       req.Phone,
		callbackURL: req.CallbackURL,
		status:      domain.GatewayStatusPending,
	}

	g.mu.Lock()
	g.pushes[p.referenceID] = p
	if !strings.HasSuffix(req.Phone, suffixNoAnswer) {
		g.timers = append(g.timers, time.AfterFunc(g.settleAfter(), func() { g.settle(p.referenceID) }))
	}
	g.mu.Unlock()

	g.logger.Info("push payment initiated",
		"reference_id", p.referenceID,
		"amount", req.Amount.String(),
		"phone", req.Phone,
	)
	writeJSON(w, http.StatusCreated, gateway.InitiateResponse{ReferenceID: p.referenceID})
}

func (g *mockGateway) status(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("reference")

	g.mu.Lock()
	p, ok := g.pushes[ref]
	var resp gateway.StatusResponse
	if ok {
		resp = gateway.StatusResponse{
			ReferenceID:   p.referenceID,
			Status:        string(p.status),
			TransactionID: p.transactionID,
			Message:       p.message,
		}
	}
	g.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, gateway.ErrorResponse{Error: "unknown reference"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *mockGateway) settle(ref string) {
	g.mu.Lock()
	p, ok := g.pushes[ref]
	if !ok || p.status != domain.GatewayStatusPending {
		g.mu.Unlock()
		return
	}
	if !strings.HasSuffix(p.phone, suffixDeclined) && g.approve() {
		p.status = domain.GatewayStatusSuccess
		p.transactionID = "TX" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	} else {
		p.status = domain.GatewayStatusFailed
		p.message = "customer declined or insufficient balance"
	}
	cb := callbackBody{
		EventID:       uuid.NewString(),
		ReferenceID:   p.referenceID,
		Status:        string(p.status),
		TransactionID: p.transactionID,
		Message:       p.message,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	callbackURL := p.callbackURL
	g.mu.Unlock()

	g.logger.Info("push payment settled", "reference_id", ref, "status", cb.Status)
	if callbackURL != "" {
		g.sendCallback(callbackURL, cb)
	}
}

type callbackBody struct {
	EventID       string `json:"event_id"`
	ReferenceID   string `json:"reference_id"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	Message       string `json:"message,omitempty"`
	Timestamp     string `json:"timestamp"`
}

func (g *mockGateway) sendCallback(url string, cb callbackBody) {
	body, err := json.Marshal(cb)
	if err != nil {
		g.logger.Error("failed to marshal callback", "error", err)
		return
	}
	sig := sign(body, g.cfg.WebhookSecret)

	for attempt := 1; attempt <= callbackRetries; attempt++ {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			g.logger.Error("failed to build callback request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Signature", sig)

		resp, err := g.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 300 {
				g.logger.Info("callback delivered", "reference_id", cb.ReferenceID, "event_id", cb.EventID)
				return
			}
			g.logger.Warn("callback rejected", "reference_id", cb.ReferenceID, "status", resp.StatusCode, "attempt", attempt)
		} else {
			g.logger.Warn("callback delivery failed", "reference_id", cb.ReferenceID, "error", err, "attempt", attempt)
		}
		time.Sleep(time.Duration(attempt) * time.Second)
	}
}

func (g *mockGateway) stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range g.timers {
		t.Stop()
	}
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
