package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/samaki-checkout/internal/domain"
)

type statusResult struct {
	report domain.StatusReport
	err    error
}

type fakeGateway struct {
	mu sync.Mutex

	referenceID string
	initiateErr error
	initiated   []string
	// initiateGate, when set, holds Initiate until it is closed.
	initiateGate    chan struct{}
	initiateStarted chan struct{}

	// results are handed out in order; the last one repeats.
	results     []statusResult
	statusCalls int
	// gate, when set, blocks CheckStatus until a value is received.
	gate    chan statusResult
	started chan struct{}
}

func newFakeGateway(referenceID string) *fakeGateway {
	return &fakeGateway{
		referenceID: referenceID,
		results:     []statusResult{{report: domain.StatusReport{Status: domain.GatewayStatusPending}}},
	}
}

func (g *fakeGateway) Initiate(ctx context.Context, amount int64, phone string) (string, error) {
	g.mu.Lock()
	g.initiated = append(g.initiated, phone)
	gate, started := g.initiateGate, g.initiateStarted
	referenceID, initErr := g.referenceID, g.initiateErr
	g.mu.Unlock()

	if gate != nil {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if initErr != nil {
		return "", initErr
	}
	return referenceID, nil
}

func (g *fakeGateway) CheckStatus(ctx context.Context, referenceID string) (domain.StatusReport, error) {
	g.mu.Lock()
	g.statusCalls++
	gate, started := g.gate, g.started
	var res statusResult
	if len(g.results) > 0 {
		res = g.results[0]
		if len(g.results) > 1 {
			g.results = g.results[1:]
		}
	}
	g.mu.Unlock()

	if gate != nil {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case res = <-gate:
		case <-ctx.Done():
			return domain.StatusReport{}, ctx.Err()
		}
	}
	return res.report, res.err
}

func (g *fakeGateway) setResults(results ...statusResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results = results
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusCalls
}

func (g *fakeGateway) initiateCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.initiated)
}

type fakeChannel struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	subscribeErr error
	connects     int
	handlers     map[int]func([]byte)
	events       map[int]string
	nextID       int
	unsubscribes int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		connected: true,
		handlers:  make(map[int]func([]byte)),
		events:    make(map[int]string),
	}
}

func (c *fakeChannel) Subscribe(event string, handler func([]byte)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}
	id := c.nextID
	c.nextID++
	c.handlers[id] = handler
	c.events[id] = event

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.handlers, id)
			delete(c.events, id)
			c.unsubscribes++
		})
	}, nil
}

func (c *fakeChannel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeChannel) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}

func (c *fakeChannel) emit(event string, payload []byte) {
	c.mu.Lock()
	var targets []func([]byte)
	for id, h := range c.handlers {
		if c.events[id] == event {
			targets = append(targets, h)
		}
	}
	c.mu.Unlock()

	for _, h := range targets {
		h(payload)
	}
}

func (c *fakeChannel) listenerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

type recorder struct {
	mu        sync.Mutex
	completed []domain.PaymentAttempt
	failed    []domain.PaymentAttempt
	errs      []error
}

func (rec *recorder) callbacks() Callbacks {
	return Callbacks{
		OnComplete: func(a domain.PaymentAttempt) {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.completed = append(rec.completed, a)
		},
		OnFailed: func(a domain.PaymentAttempt, err error) {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.failed = append(rec.failed, a)
			rec.errs = append(rec.errs, err)
		},
	}
}

func (rec *recorder) counts() (completed, failed int) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.completed), len(rec.failed)
}

func (rec *recorder) lastErr() error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.errs) == 0 {
		return nil
	}
	return rec.errs[len(rec.errs)-1]
}

type harness struct {
	t         *testing.T
	clock     *clock.Mock
	gateway   *fakeGateway
	channel   *fakeChannel
	recorder  *recorder
	r         *Reconciler
	processed chan signalSource
}

const testEvent = "mobile_money.callback"

func newHarness(t *testing.T, referenceID string) *harness {
	t.Helper()

	h := &harness{
		t:         t,
		clock:     clock.NewMock(),
		gateway:   newFakeGateway(referenceID),
		channel:   newFakeChannel(),
		recorder:  &recorder{},
		processed: make(chan signalSource, 64),
	}
	h.r = h.build(h.channel)
	return h
}

func (h *harness) build(ch Channel, tweaks ...func(*Options)) *Reconciler {
	opts := Options{
		SessionID:     uuid.New(),
		Timeout:       DefaultTimeout,
		PollInterval:  DefaultPollInterval,
		CallbackEvent: testEvent,
		Clock:         h.clock,
	}
	for _, tweak := range tweaks {
		tweak(&opts)
	}
	r := New(h.gateway, ch, h.recorder.callbacks(), opts)
	watchSignals(h.t, r, h.processed)
	return r
}

func (h *harness) submit(amount int64, phone string) domain.PaymentAttempt {
	h.t.Helper()
	a, err := h.r.Submit(context.Background(), amount, phone)
	require.NoError(h.t, err)
	return a
}

// tick advances one poll interval and waits for that poll's result to be handled.
func (h *harness) tick() {
	h.t.Helper()
	h.clock.Add(DefaultPollInterval)
	h.waitFor(sourcePoll)
}

func (h *harness) waitFor(source signalSource) {
	h.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-h.processed:
			if got == source {
				return
			}
		case <-deadline:
			h.t.Fatalf("timed out waiting for %s signal", source)
		}
	}
}

func (h *harness) waitDone() {
	h.t.Helper()
	select {
	case <-h.r.Done():
	case <-time.After(2 * time.Second):
		h.t.Fatal("reconciler did not finish")
	}
}

func (h *harness) emit(event domain.CallbackEvent) {
	h.t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(h.t, err)
	h.channel.emit(testEvent, payload)
}

var errNetwork = errors.New("connection reset by peer")
