package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmaretti/storefront/core/address"
	"github.com/dmaretti/storefront/core/cart"
	"github.com/dmaretti/storefront/core/order"
	"github.com/dmaretti/storefront/core/product"
	"github.com/dmaretti/storefront/events"
	"github.com/dmaretti/storefront/provider"
	"github.com/dmaretti/storefront/storage"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockGateway struct {
	mu          sync.Mutex
	createCalls int
	verifyCalls int

	session   provider.Session
	createErr error
	verifyErr error
	blockOn   string // "create" or "verify" blocks until ctx expiry

	callback *provider.Callback
	parseErr error
}

func (g *mockGateway) Name() string { return "mock" }

func (g *mockGateway) created() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls
}

func (g *mockGateway) CreateSession(ctx context.Context, req provider.SessionRequest) (*provider.Session, error) {
	g.mu.Lock()
	g.createCalls++
	g.mu.Unlock()

	if g.blockOn == "create" {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if g.createErr != nil {
		return nil, g.createErr
	}

	s := g.session
	return &s, nil
}

func (g *mockGateway) ParseCallback(body []byte, signature string) (*provider.Callback, error) {
	if g.parseErr != nil {
		return nil, g.parseErr
	}
	cb := *g.callback
	return &cb, nil
}

func (g *mockGateway) Verify(ctx context.Context, sessionID, paymentID string) error {
	g.mu.Lock()
	g.verifyCalls++
	g.mu.Unlock()

	if g.blockOn == "verify" {
		<-ctx.Done()
		return ctx.Err()
	}
	return g.verifyErr
}

type fakeAddresses struct {
	known map[string]address.Address
}

func (f fakeAddresses) Fetch(ctx context.Context, userID, id string) (address.Address, error) {
	a, ok := f.known[id]
	if !ok {
		return address.Address{}, address.ErrNotFound
	}
	return a, nil
}

type fakeOrders struct {
	mu       sync.Mutex
	recorded []order.Order
	items    []order.Item
	err      error
}

func (f *fakeOrders) Record(ctx context.Context, ord order.Order, items []order.Item) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, ord)
	f.items = append(f.items, items...)
	return nil
}

type fakeHandoff struct {
	saved  []HandoffState
	state  HandoffState
	has    bool
	clears int
}

func (f *fakeHandoff) Save(ctx context.Context, h HandoffState) {
	f.saved = append(f.saved, h)
	f.state, f.has = h, true
}

func (f *fakeHandoff) Load(ctx context.Context) (HandoffState, bool) { return f.state, f.has }

func (f *fakeHandoff) Clear(ctx context.Context) {
	f.clears++
	f.state, f.has = HandoffState{}, false
}

type recordingEvents struct {
	mu    sync.Mutex
	types []events.Type
}

func (r *recordingEvents) Publish(ctx context.Context, typ events.Type, userID string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, typ)
	return nil
}

func (r *recordingEvents) published() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Type(nil), r.types...)
}

type env struct {
	orch    *Orchestrator
	gateway *mockGateway
	cart    *cart.Store
	orders  *fakeOrders
	handoff *fakeHandoff
	events  *recordingEvents
}

func newEnv(t *testing.T, gw *mockGateway) *env {
	t.Helper()

	log := logrus.New()
	store := cart.NewStore(storage.NewMemory(), nil)
	orders := &fakeOrders{}
	handoff := &fakeHandoff{}
	evs := &recordingEvents{}

	orch := New(Config{
		Log:  log,
		Cart: store,
		Addresses: fakeAddresses{known: map[string]address.Address{
			"addr-1": {ID: "addr-1", UserID: "u1"},
		}},
		Orders:             orders,
		Gateways:           map[string]provider.Gateway{"mock": gw},
		Handoff:            handoff,
		Events:             evs,
		BackendTimeout:     time.Second,
		ProviderSessionTTL: 30 * time.Minute,
	})

	return &env{orch: orch, gateway: gw, cart: store, orders: orders, handoff: handoff, events: evs}
}

func (e *env) fillCart(t *testing.T, userID string) {
	t.Helper()

	p := product.Product{ID: "P1", Name: "tee", Price: decimal.NewFromInt(500), OriginalPrice: decimal.NewFromInt(500), Stock: 5}
	_, err := e.cart.Add(context.Background(), userID, p, "M", "Red", 2)
	require.NoError(t, err)
}

func paidSession() provider.Session {
	return provider.Session{
		ID:          "ps_1",
		Amount:      decimal.NewFromInt(1000),
		Currency:    "USD",
		RedirectURL: "https://pay.example/ps_1",
	}
}

func TestStartHappyPath(t *testing.T) {
	gw := &mockGateway{session: paidSession()}
	e := newEnv(t, gw)
	e.fillCart(t, "u1")

	s, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")
	require.NoError(t, err)

	assert.Equal(t, AwaitingProvider, s.Status)
	assert.Equal(t, "ps_1", s.ProviderSessionID)
	assert.True(t, s.Amount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, "https://pay.example/ps_1", s.RedirectURL)
	assert.Equal(t, 1, gw.createCalls)

	require.Len(t, e.handoff.saved, 1)
	assert.Equal(t, s.ID, e.handoff.saved[0].SessionID)
}

func TestStartEmptyCart(t *testing.T) {
	gw := &mockGateway{session: paidSession()}
	e := newEnv(t, gw)

	_, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, 0, gw.createCalls)
}

func TestStartUnknownAddress(t *testing.T) {
	gw := &mockGateway{session: paidSession()}
	e := newEnv(t, gw)
	e.fillCart(t, "u1")

	_, err := e.orch.Start(context.Background(), "u1", "addr-9", "mock")
	assert.ErrorIs(t, err, address.ErrNotFound)
}

func TestStartSessionCreationFailure(t *testing.T) {
	gw := &mockGateway{createErr: errors.New("gateway down")}
	e := newEnv(t, gw)
	e.fillCart(t, "u1")

	s, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")

	var scerr *SessionCreationError
	require.True(t, errors.As(err, &scerr))
	assert.Equal(t, Failed, s.Status)
}

func TestStartRejectsMissingAmount(t *testing.T) {
	// A session the gateway confirmed no amount for must be rejected,
	// never backfilled from the local subtotal.
	gw := &mockGateway{session: provider.Session{ID: "ps_1"}}
	e := newEnv(t, gw)
	e.fillCart(t, "u1")

	s, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")

	var scerr *SessionCreationError
	require.True(t, errors.As(err, &scerr))
	assert.Equal(t, Failed, s.Status)
}

func TestStartSessionCreationTimeout(t *testing.T) {
	gw := &mockGateway{blockOn: "create"}
	e := newEnv(t, gw)
	e.orch.backendTimeout = 20 * time.Millisecond
	e.fillCart(t, "u1")

	s, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")

	var terr *TimeoutError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, Failed, s.Status)
}

func TestStartWhileFlowInProgress(t *testing.T) {
	gw := &mockGateway{session: paidSession()}
	e := newEnv(t, gw)
	e.fillCart(t, "u1")

	_, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")
	require.NoError(t, err)

	_, err = e.orch.Start(context.Background(), "u1", "addr-1", "mock")
	assert.ErrorIs(t, err, ErrFlowInProgress)
	assert.Equal(t, 1, gw.createCalls)
}

func successCallback() *provider.Callback {
	return &provider.Callback{
		SessionID: "ps_1",
		PaymentID: "pay_1",
		Kind:      provider.CallbackSucceeded,
	}
}

func TestCallbackSuccessFinalizesOrder(t *testing.T) {
	gw := &mockGateway{session: paidSession(), callback: successCallback()}
	e := newEnv(t, gw)
	e.fillCart(t, "u1")

	_, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")
	require.NoError(t, err)

	s, err := e.orch.HandleCallback(context.Background(), "mock", nil, "")
	require.NoError(t, err)

	assert.Equal(t, Succeeded, s.Status)
	assert.Equal(t, 1, gw.verifyCalls)
	assert.NotEmpty(t, s.OrderID)

	require.Len(t, e.orders.recorded, 1)
	ord := e.orders.recorded[0]
	assert.Equal(t, "u1", ord.UserID)
	assert.Equal(t, "pay_1", ord.ProviderPaymentID)
	assert.True(t, ord.Amount.Equal(decimal.NewFromInt(1000)))
	require.Len(t, e.orders.items, 1)
	assert.Equal(t, 2, e.orders.items[0].Quantity)

	// The cart is flushed. The handoff survives the callback: it is
	// dropped when the shopper observes the result, not in the
	// gateway's request.
	sum, err := e.cart.Summary(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, sum.ItemCount)
	assert.Equal(t, 0, e.handoff.clears)
}

func TestCallbackDuplicateVerifiesOnce(t *testing.T) {
	gw := &mockGateway{session: paidSession(), callback: successCallback()}
	e := newEnv(t, gw)
	e.fillCart(t, "u1")

	_, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")
	require.NoError(t, err)

	_, err = e.orch.HandleCallback(context.Background(), "mock", nil, "")
	require.NoError(t, err)

	// Gateway retry with the same payment id: no second verification
	// and no second order.
	s, err := e.orch.HandleCallback(context.Background(), "mock", nil, "")
	require.NoError(t, err)

	assert.Equal(t, Succeeded, s.Status)
	assert.Equal(t, 1, gw.verifyCalls)
	assert.Len(t, e.orders.recorded, 1)
}

func TestCallbackProviderFailure(t *testing.T) {
	gw := &mockGateway{session: paidSession(), callback: &provider.Callback{
		SessionID: "ps_1",
		PaymentID: "pay_1",
		Kind:      provider.CallbackFailed,
		Reason:    "card declined",
	}}
	e := newEnv(t, gw)
	e.fillCart(t, "u1")

	_, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")
	require.NoError(t, err)

	s, err := e.orch.HandleCallback(context.Background(), "mock", nil, "")

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, perr.Reason, "card declined")
	assert.Equal(t, Failed, s.Status)
	assert.Equal(t, 0, gw.verifyCalls)
	assert.Empty(t, e.orders.recorded)
}

func TestCallbackVerificationFailure(t *testing.T) {
	gw := &mockGateway{
		session:   paidSession(),
		callback:  successCallback(),
		verifyErr: errors.New("signature mismatch"),
	}
	e := newEnv(t, gw)
	e.fillCart(t, "u1")

	_, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")
	require.NoError(t, err)

	s, err := e.orch.HandleCallback(context.Background(), "mock", nil, "")

	// Provider said paid but we could not confirm: a distinct error
	// from a provider failure, and no order may be written.
	var verr *VerificationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, Failed, s.Status)
	assert.Empty(t, e.orders.recorded)

	// The cart survives: nothing was fulfilled.
	sum, err := e.cart.Summary(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.ItemCount)
}

func TestCallbackRecordFailureIsVerificationError(t *testing.T) {
	gw := &mockGateway{session: paidSession(), callback: successCallback()}
	e := newEnv(t, gw)
	e.orders.err = errors.New("db down")
	e.fillCart(t, "u1")

	_, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")
	require.NoError(t, err)

	_, err = e.orch.HandleCallback(context.Background(), "mock", nil, "")

	var verr *VerificationError
	assert.True(t, errors.As(err, &verr))
}

func TestCallbackDismissalCancels(t *testing.T) {
	gw := &mockGateway{session: paidSession(), callback: &provider.Callback{
		SessionID: "ps_1",
		PaymentID: "pay_1",
		Kind:      provider.CallbackDismissed,
	}}
	e := newEnv(t, gw)
	e.fillCart(t, "u1")

	_, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")
	require.NoError(t, err)

	s, err := e.orch.HandleCallback(context.Background(), "mock", nil, "")
	assert.ErrorIs(t, err, ErrUserCancelled)
	assert.Equal(t, Cancelled, s.Status)
}

func TestCancelOnlyWhileAwaitingProvider(t *testing.T) {
	gw := &mockGateway{session: paidSession(), callback: successCallback()}
	e := newEnv(t, gw)
	e.fillCart(t, "u1")

	_, err := e.orch.Cancel(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = e.orch.Start(context.Background(), "u1", "addr-1", "mock")
	require.NoError(t, err)

	s, err := e.orch.Cancel(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, Cancelled, s.Status)

	// A finished flow cannot be cancelled again.
	_, err = e.orch.Cancel(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestRetryAfterCancelReusesSession(t *testing.T) {
	gw := &mockGateway{session: paidSession()}
	e := newEnv(t, gw)
	e.fillCart(t, "u1")

	_, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")
	require.NoError(t, err)
	_, err = e.orch.Cancel(context.Background(), "u1")
	require.NoError(t, err)

	s, err := e.orch.Retry(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, AwaitingProvider, s.Status)
	assert.Equal(t, "ps_1", s.ProviderSessionID)
	assert.Equal(t, 1, gw.createCalls, "unexpired session must be reused")
}

func TestRetryAfterCancelExpiredRequestsNewSession(t *testing.T) {
	gw := &mockGateway{session: paidSession()}
	e := newEnv(t, gw)
	e.fillCart(t, "u1")

	_, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")
	require.NoError(t, err)
	_, err = e.orch.Cancel(context.Background(), "u1")
	require.NoError(t, err)

	// Jump past the provider session TTL.
	e.orch.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }

	gw.session.ID = "ps_2"
	s, err := e.orch.Retry(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, AwaitingProvider, s.Status)
	assert.Equal(t, "ps_2", s.ProviderSessionID)
	assert.Equal(t, 2, gw.createCalls)
}

func TestRetryAfterFailure(t *testing.T) {
	gw := &mockGateway{createErr: errors.New("gateway down")}
	e := newEnv(t, gw)
	e.fillCart(t, "u1")

	_, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")
	require.Error(t, err)

	gw.createErr = nil
	gw.session = paidSession()

	s, err := e.orch.Retry(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, AwaitingProvider, s.Status)
	assert.Equal(t, 2, gw.createCalls)
	assert.Empty(t, s.Reason)
}

func TestRetrySucceededIsRejected(t *testing.T) {
	gw := &mockGateway{session: paidSession(), callback: successCallback()}
	e := newEnv(t, gw)
	e.fillCart(t, "u1")

	_, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")
	require.NoError(t, err)
	_, err = e.orch.HandleCallback(context.Background(), "mock", nil, "")
	require.NoError(t, err)

	_, err = e.orch.Retry(context.Background(), "u1")
	assert.Error(t, err)
}

func TestCallbackUnknownSession(t *testing.T) {
	gw := &mockGateway{session: paidSession(), callback: &provider.Callback{
		SessionID: "ps_other",
		PaymentID: "pay_9",
		Kind:      provider.CallbackSucceeded,
	}}
	e := newEnv(t, gw)

	_, err := e.orch.HandleCallback(context.Background(), "mock", nil, "")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestCallbackIgnoredEvent(t *testing.T) {
	gw := &mockGateway{session: paidSession(), callback: &provider.Callback{
		Kind: provider.CallbackIgnored,
	}}
	e := newEnv(t, gw)

	s, err := e.orch.HandleCallback(context.Background(), "mock", nil, "")
	require.NoError(t, err)
	assert.Empty(t, s.ID)
}

func TestVerificationTimeout(t *testing.T) {
	gw := &mockGateway{session: paidSession(), callback: successCallback(), blockOn: "verify"}
	e := newEnv(t, gw)
	e.orch.backendTimeout = 20 * time.Millisecond
	e.fillCart(t, "u1")

	_, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")
	require.NoError(t, err)

	s, err := e.orch.HandleCallback(context.Background(), "mock", nil, "")

	var terr *TimeoutError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, Failed, s.Status)
}

func TestStartConcurrentDuplicate(t *testing.T) {
	gw := &mockGateway{session: paidSession(), blockOn: "create"}
	e := newEnv(t, gw)
	e.orch.backendTimeout = 200 * time.Millisecond
	e.fillCart(t, "u1")

	first := make(chan error, 1)
	go func() {
		_, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")
		first <- err
	}()

	// Wait until the first flow is inside the gateway call.
	require.Eventually(t, func() bool { return gw.created() == 1 },
		time.Second, 5*time.Millisecond)

	_, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")
	assert.ErrorIs(t, err, ErrFlowInProgress)

	require.Error(t, <-first)
	assert.Equal(t, 1, gw.created(), "only one flow may reach the gateway")
}

func TestCurrentSafeDuringRetry(t *testing.T) {
	gw := &mockGateway{session: paidSession()}
	e := newEnv(t, gw)
	e.fillCart(t, "u1")

	_, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")
	require.NoError(t, err)
	_, err = e.orch.Cancel(context.Background(), "u1")
	require.NoError(t, err)

	e.orch.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	gw.session.ID = "ps_2"

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			e.orch.Current(context.Background(), "u1")
		}
	}()

	s, err := e.orch.Retry(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, AwaitingProvider, s.Status)
	<-done

	cur, err := e.orch.Current(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "ps_2", cur.ProviderSessionID)
}

func TestHandoffClearedOnFirstObservation(t *testing.T) {
	gw := &mockGateway{session: paidSession(), callback: successCallback()}
	e := newEnv(t, gw)
	e.fillCart(t, "u1")

	_, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")
	require.NoError(t, err)
	_, err = e.orch.HandleCallback(context.Background(), "mock", nil, "")
	require.NoError(t, err)
	require.Equal(t, 0, e.handoff.clears)

	s, err := e.orch.Current(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, Succeeded, s.Status)
	assert.Equal(t, 1, e.handoff.clears)

	// Later observations must not clear again.
	_, err = e.orch.Current(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, e.handoff.clears)
}

func TestCurrentRecoversFromHandoff(t *testing.T) {
	gw := &mockGateway{session: paidSession()}
	e := newEnv(t, gw)
	e.handoff.state = HandoffState{SessionID: "cs_1", AddressID: "addr-1", Provider: "mock"}
	e.handoff.has = true

	// No live session in memory, but the shopper returned from the
	// redirect with saved handoff state.
	s, err := e.orch.Current(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "cs_1", s.ID)
	assert.Equal(t, "addr-1", s.AddressID)
	assert.Equal(t, AwaitingProvider, s.Status)
}

func TestCancelPublishesLifecycleEvent(t *testing.T) {
	gw := &mockGateway{session: paidSession()}
	e := newEnv(t, gw)
	e.fillCart(t, "u1")

	_, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")
	require.NoError(t, err)
	_, err = e.orch.Cancel(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, []events.Type{events.TypeCancelled}, e.events.published())
}

func TestDismissalPublishesLifecycleEvent(t *testing.T) {
	gw := &mockGateway{session: paidSession(), callback: &provider.Callback{
		SessionID: "ps_1",
		PaymentID: "pay_1",
		Kind:      provider.CallbackDismissed,
	}}
	e := newEnv(t, gw)
	e.fillCart(t, "u1")

	_, err := e.orch.Start(context.Background(), "u1", "addr-1", "mock")
	require.NoError(t, err)
	_, err = e.orch.HandleCallback(context.Background(), "mock", nil, "")
	assert.ErrorIs(t, err, ErrUserCancelled)

	assert.Equal(t, []events.Type{events.TypeCancelled}, e.events.published())
}
