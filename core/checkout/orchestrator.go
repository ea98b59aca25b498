package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmaretti/storefront/api/background"
	"github.com/dmaretti/storefront/core/address"
	"github.com/dmaretti/storefront/core/cart"
	"github.com/dmaretti/storefront/core/order"
	"github.com/dmaretti/storefront/events"
	"github.com/dmaretti/storefront/provider"
	"github.com/dmaretti/storefront/validate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "storefront",
	Subsystem: "checkout",
	Name:      "outcomes_total",
	Help:      "Terminal checkout states by status.",
}, []string{"status", "provider"})

// Basket is the slice of the cart store the flow needs: the order basis
// and the post-order clear.
type Basket interface {
	Summary(ctx context.Context, userID string) (cart.Summary, error)
	Clear(ctx context.Context, userID string) (cart.Summary, error)
}

type AddressBook interface {
	Fetch(ctx context.Context, userID, id string) (address.Address, error)
}

type OrderRecorder interface {
	Record(ctx context.Context, ord order.Order, items []order.Item) error
}

type Config struct {
	Log        logrus.FieldLogger
	Cart       Basket
	Addresses  AddressBook
	Orders     OrderRecorder
	Gateways   map[string]provider.Gateway
	Handoff    Handoff
	Events     events.Publisher
	Background *background.Background

	// BackendTimeout bounds session creation and verification calls.
	// ProviderSessionTTL decides whether a cancelled checkout may retry
	// with the same provider session or must request a fresh one.
	BackendTimeout     time.Duration
	ProviderSessionTTL time.Duration
	Currency           string
}

// Orchestrator drives a cart through to a paid order. It owns one live
// session per user and coordinates the external gateway, whose callbacks
// arrive outside the starting call stack.
//
// Everything runs under one mutex: flow steps are short and the gateway
// calls that aren't (session creation, verification) are done outside
// the critical section.
type Orchestrator struct {
	log       logrus.FieldLogger
	cart      Basket
	addresses AddressBook
	orders    OrderRecorder
	gateways  map[string]provider.Gateway
	handoff   Handoff
	events    events.Publisher
	bg        *background.Background

	backendTimeout time.Duration
	sessionTTL     time.Duration
	currency       string
	now            func() time.Time

	mu        sync.Mutex
	sessions  map[string]*Session // by user id
	byGateway map[string]string   // provider session id -> user id
	verdicts  map[string]Status   // provider payment id -> outcome
}

func New(cfg Config) *Orchestrator {
	if cfg.BackendTimeout == 0 {
		cfg.BackendTimeout = 30 * time.Second
	}
	if cfg.ProviderSessionTTL == 0 {
		cfg.ProviderSessionTTL = 30 * time.Minute
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}

	return &Orchestrator{
		log:            cfg.Log,
		cart:           cfg.Cart,
		addresses:      cfg.Addresses,
		orders:         cfg.Orders,
		gateways:       cfg.Gateways,
		handoff:        cfg.Handoff,
		events:         cfg.Events,
		bg:             cfg.Background,
		backendTimeout: cfg.BackendTimeout,
		sessionTTL:     cfg.ProviderSessionTTL,
		currency:       cfg.Currency,
		now:            func() time.Time { return time.Now().UTC() },
		sessions:       make(map[string]*Session),
		byGateway:      make(map[string]string),
		verdicts:       make(map[string]Status),
	}
}

// Start begins a checkout: resolves the address, snapshots the cart as
// the order basis and requests a payment session from the gateway. On
// success the flow is left awaiting the provider and the caller gets
// the redirect target.
func (o *Orchestrator) Start(ctx context.Context, userID, addressID, gatewayName string) (Session, error) {
	gw, ok := o.gateways[gatewayName]
	if !ok {
		return Session{}, fmt.Errorf("unknown payment provider[%s]", gatewayName)
	}

	s := &Session{
		ID:        validate.GenerateID(),
		UserID:    userID,
		Provider:  gatewayName,
		Currency:  o.currency,
		Status:    Idle,
		CreatedAt: o.now(),
		UpdatedAt: o.now(),
	}

	// Reserve the user's slot under the same lock acquisition that
	// checks for a live flow: two concurrent starts must never both
	// reach the gateway.
	o.mu.Lock()
	if cur, ok := o.sessions[userID]; ok && !cur.Status.Terminal() {
		c := *cur
		o.mu.Unlock()
		return c, ErrFlowInProgress
	}
	o.sessions[userID] = s
	o.mu.Unlock()

	// The reserved session stays untouched while the flow works on a
	// private copy; concurrent readers never see a partial write.
	w := *s

	if err := w.transition(ResolvingAddress, o.now()); err != nil {
		o.release(userID)
		return Session{}, err
	}

	addr, err := o.addresses.Fetch(ctx, userID, addressID)
	if err != nil {
		o.release(userID)
		return Session{}, fmt.Errorf("resolving address[%s]: %w", addressID, err)
	}
	w.AddressID = addr.ID

	if err := w.transition(RequestingSession, o.now()); err != nil {
		o.release(userID)
		return Session{}, err
	}

	sum, err := o.cart.Summary(ctx, userID)
	if err != nil {
		o.release(userID)
		return Session{}, fmt.Errorf("reading cart: %w", err)
	}
	if sum.ItemCount == 0 {
		o.release(userID)
		return Session{}, ErrEmptyCart
	}
	w.Lines = sum.Lines

	if err := o.requestSession(ctx, gw, &w, sum); err != nil {
		o.store(&w)
		return w, err
	}

	o.store(&w)
	if o.handoff != nil {
		o.handoff.Save(ctx, HandoffState{
			SessionID: w.ID,
			AddressID: w.AddressID,
			Provider:  w.Provider,
		})
	}

	return w, nil
}

// release drops a reserved slot when a flow dies before it has a
// session worth keeping.
func (o *Orchestrator) release(userID string) {
	o.mu.Lock()
	delete(o.sessions, userID)
	o.mu.Unlock()
}

// requestSession calls the gateway and moves the session to
// awaiting_provider, or to failed with a typed reason. The session must
// be in requesting_session when called.
func (o *Orchestrator) requestSession(ctx context.Context, gw provider.Gateway, s *Session, sum cart.Summary) error {
	req := provider.SessionRequest{
		Reference: s.ID,
		Currency:  s.Currency,
	}
	for _, l := range s.Lines {
		req.Lines = append(req.Lines, provider.LineItem{
			Name:       l.ProductID,
			Quantity:   l.Quantity,
			UnitAmount: l.UnitPrice,
		})
	}

	cctx, cancel := context.WithTimeout(ctx, o.backendTimeout)
	defer cancel()

	ps, err := gw.CreateSession(cctx, req)
	if err != nil {
		err = o.timeoutOr(err, "payment session creation", &SessionCreationError{Err: err})
		o.fail(s, err)
		return err
	}

	// The charged amount is authoritative from the gateway. A session
	// without one is rejected outright, never backfilled from the
	// locally computed subtotal.
	if ps.Amount.IsZero() {
		err := &SessionCreationError{Err: errors.New("gateway confirmed no amount for the session")}
		o.fail(s, err)
		return err
	}

	if !ps.Amount.Equal(sum.Subtotal) {
		o.log.WithFields(logrus.Fields{
			"session":  s.ID,
			"local":    sum.Subtotal.String(),
			"gateway":  ps.Amount.String(),
			"provider": s.Provider,
		}).Info("gateway amount differs from local subtotal; charging gateway amount")
	}

	s.ProviderSessionID = ps.ID
	s.ProviderPaymentID = ""
	s.Amount = ps.Amount
	if ps.Currency != "" {
		s.Currency = ps.Currency
	}
	s.RedirectURL = ps.RedirectURL
	s.ProviderExpiresAt = o.now().Add(o.sessionTTL)

	return s.transition(AwaitingProvider, o.now())
}

// HandleCallback processes one asynchronous gateway signal. Signals can
// be retried by the gateway: verification runs at most once per payment
// id and duplicates are answered with the recorded outcome.
func (o *Orchestrator) HandleCallback(ctx context.Context, gatewayName string, body []byte, signature string) (Session, error) {
	gw, ok := o.gateways[gatewayName]
	if !ok {
		return Session{}, fmt.Errorf("unknown payment provider[%s]", gatewayName)
	}

	cb, err := gw.ParseCallback(body, signature)
	if err != nil {
		return Session{}, fmt.Errorf("parsing %s callback: %w", gatewayName, err)
	}
	if cb.Kind == provider.CallbackIgnored {
		return Session{}, nil
	}

	o.mu.Lock()
	userID, ok := o.byGateway[cb.SessionID]
	if !ok {
		o.mu.Unlock()
		return Session{}, fmt.Errorf("callback for unknown session[%s]: %w", cb.SessionID, ErrNoSession)
	}
	s := o.sessions[userID]

	if verdict, seen := o.verdicts[cb.PaymentID]; seen {
		c := *s
		o.mu.Unlock()
		o.log.WithFields(logrus.Fields{
			"payment": cb.PaymentID,
			"verdict": verdict,
		}).Info("duplicate provider callback ignored")
		return c, nil
	}
	o.mu.Unlock()

	switch cb.Kind {
	case provider.CallbackSucceeded:
		return o.verify(ctx, gw, s, cb)

	case provider.CallbackFailed:
		err := &ProviderError{Reason: cb.Reason}
		o.mu.Lock()
		o.fail(s, err)
		c := *s
		o.mu.Unlock()
		o.publish(events.TypePaymentFailed, &c)
		return c, err

	case provider.CallbackDismissed:
		o.mu.Lock()
		terr := s.transition(Cancelled, o.now())
		if terr == nil {
			s.Reason = ErrUserCancelled.Error()
			outcomes.WithLabelValues(string(Cancelled), s.Provider).Inc()
		}
		c := *s
		o.mu.Unlock()
		if terr != nil {
			return c, terr
		}
		o.publish(events.TypeCancelled, &c)
		return c, ErrUserCancelled
	}

	return Session{}, fmt.Errorf("unhandled callback kind[%s]", cb.Kind)
}

// verify confirms the reported payment with the gateway and finalizes
// the order. Provider-reported success that our side cannot confirm is a
// VerificationError and is never retryable from the UI: the charge
// likely went through.
func (o *Orchestrator) verify(ctx context.Context, gw provider.Gateway, s *Session, cb *provider.Callback) (Session, error) {
	o.mu.Lock()
	if err := s.transition(Verifying, o.now()); err != nil {
		c := *s
		o.mu.Unlock()
		return c, err
	}
	s.ProviderPaymentID = cb.PaymentID
	o.mu.Unlock()

	vctx, cancel := context.WithTimeout(ctx, o.backendTimeout)
	defer cancel()

	if err := gw.Verify(vctx, cb.SessionID, cb.PaymentID); err != nil {
		err = o.timeoutOr(err, "payment verification", &VerificationError{Err: err})
		o.mu.Lock()
		o.fail(s, err)
		o.verdicts[cb.PaymentID] = Failed
		c := *s
		o.mu.Unlock()
		o.publish(events.TypePaymentFailed, &c)
		return c, err
	}

	if err := o.finalize(ctx, s); err != nil {
		o.mu.Lock()
		o.fail(s, err)
		o.verdicts[cb.PaymentID] = Failed
		c := *s
		o.mu.Unlock()
		return c, err
	}

	o.mu.Lock()
	err := s.transition(Succeeded, o.now())
	if err == nil {
		o.verdicts[cb.PaymentID] = Succeeded
		outcomes.WithLabelValues(string(Succeeded), s.Provider).Inc()
	}
	c := *s
	o.mu.Unlock()
	if err != nil {
		return c, err
	}

	o.publish(events.TypeOrderCompleted, &c)
	return c, nil
}

// finalize records the paid order and flushes the cart. The redirect
// handoff is not touched here: a gateway callback runs in the gateway's
// session context, so the handoff is dropped when the shopper next
// observes the result.
func (o *Orchestrator) finalize(ctx context.Context, s *Session) error {
	now := o.now()
	ord := order.Order{
		ID:                validate.GenerateID(),
		UserID:            s.UserID,
		AddressID:         s.AddressID,
		Provider:          s.Provider,
		ProviderSessionID: s.ProviderSessionID,
		ProviderPaymentID: s.ProviderPaymentID,
		Amount:            s.Amount,
		Currency:          s.Currency,
		Status:            order.Paid,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	items := make([]order.Item, 0, len(s.Lines))
	for _, l := range s.Lines {
		items = append(items, order.Item{
			ProductID: l.ProductID,
			Size:      l.Size,
			Color:     l.Color,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			CreatedAt: now,
		})
	}

	if err := o.orders.Record(ctx, ord, items); err != nil {
		// The provider confirmed the charge but we could not record
		// the order: same support-path semantics as a verification
		// failure.
		return &VerificationError{Err: err}
	}

	o.mu.Lock()
	s.OrderID = ord.ID
	o.mu.Unlock()

	if _, err := o.cart.Clear(ctx, s.UserID); err != nil {
		o.log.WithFields(logrus.Fields{
			"user_id": s.UserID,
			"order":   ord.ID,
			"message": err,
		}).Error("order recorded but cart flush failed")
	}

	return nil
}

// Cancel is the explicit user dismissal. Only meaningful while awaiting
// the provider; session creation and verification always run to
// completion so the gateway is never left with an undecided session.
func (o *Orchestrator) Cancel(ctx context.Context, userID string) (Session, error) {
	o.mu.Lock()

	s, ok := o.sessions[userID]
	if !ok {
		o.mu.Unlock()
		return Session{}, ErrNoSession
	}

	if s.Status != AwaitingProvider {
		c := *s
		o.mu.Unlock()
		return c, ErrNotCancellable
	}

	if err := s.transition(Cancelled, o.now()); err != nil {
		c := *s
		o.mu.Unlock()
		return c, err
	}
	s.Reason = ErrUserCancelled.Error()
	outcomes.WithLabelValues(string(Cancelled), s.Provider).Inc()
	c := *s
	o.mu.Unlock()

	o.publish(events.TypeCancelled, &c)
	return c, nil
}

// Retry re-arms a terminal checkout. A cancelled flow whose provider
// session is still valid goes straight back to awaiting_provider with
// the same session; anything else requests a fresh session against the
// unchanged cart and address.
func (o *Orchestrator) Retry(ctx context.Context, userID string) (Session, error) {
	o.mu.Lock()
	s, ok := o.sessions[userID]
	if !ok {
		o.mu.Unlock()
		return Session{}, ErrNoSession
	}

	if !s.Status.Terminal() || s.Status == Succeeded {
		c := *s
		o.mu.Unlock()
		return c, fmt.Errorf("checkout in state[%s] cannot be retried", c.Status)
	}

	if s.Status == Cancelled && o.now().Before(s.ProviderExpiresAt) {
		err := s.transition(AwaitingProvider, o.now())
		s.Reason = ""
		c := *s
		o.mu.Unlock()
		return c, err
	}

	// Expired or failed: walk back through requesting_session. A
	// cancelled session first steps to idle so the transition table
	// stays the single source of legality.
	if s.Status == Cancelled {
		if err := s.transition(Idle, o.now()); err != nil {
			c := *s
			o.mu.Unlock()
			return c, err
		}
		if err := s.transition(ResolvingAddress, o.now()); err != nil {
			c := *s
			o.mu.Unlock()
			return c, err
		}
	}
	if err := s.transition(RequestingSession, o.now()); err != nil {
		c := *s
		o.mu.Unlock()
		return c, err
	}
	s.Reason = ""
	delete(o.byGateway, s.ProviderSessionID)

	// The live session is left in requesting_session; the gateway call
	// and its field writes happen on a private copy that is swapped in
	// under the lock, so concurrent readers never see a torn session.
	w := *s
	o.mu.Unlock()

	gw := o.gateways[w.Provider]

	sum, err := o.cart.Summary(ctx, userID)
	if err != nil {
		return w, fmt.Errorf("reading cart: %w", err)
	}
	if sum.ItemCount == 0 {
		return w, ErrEmptyCart
	}
	w.Lines = sum.Lines

	if err := o.requestSession(ctx, gw, &w, sum); err != nil {
		o.store(&w)
		return w, err
	}

	o.store(&w)
	return w, nil
}

// Current returns the live session for the user. Current runs in the
// shopper's own requests, so this is where the redirect handoff is
// resolved: the first observation of a succeeded checkout drops the
// handoff state, keeping back-navigation from replaying a finished
// flow, and a saved handoff with no live session still identifies the
// flow the shopper was redirected away from.
func (o *Orchestrator) Current(ctx context.Context, userID string) (Session, error) {
	o.mu.Lock()
	s, ok := o.sessions[userID]
	if !ok {
		o.mu.Unlock()
		if o.handoff != nil {
			if h, found := o.handoff.Load(ctx); found {
				return Session{
					ID:        h.SessionID,
					UserID:    userID,
					AddressID: h.AddressID,
					Provider:  h.Provider,
					Status:    AwaitingProvider,
				}, nil
			}
		}
		return Session{}, ErrNoSession
	}

	c := *s
	drop := s.Status == Succeeded && !s.handoffCleared
	if drop {
		s.handoffCleared = true
	}
	o.mu.Unlock()

	if drop && o.handoff != nil {
		o.handoff.Clear(ctx)
	}

	return c, nil
}

func (o *Orchestrator) store(s *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.sessions[s.UserID] = s
	if s.ProviderSessionID != "" {
		o.byGateway[s.ProviderSessionID] = s.UserID
	}
}

// fail moves the session to failed with a typed reason. Callers hold the
// lock where needed.
func (o *Orchestrator) fail(s *Session, reason error) {
	if err := s.transition(Failed, o.now()); err != nil {
		o.log.WithFields(logrus.Fields{
			"session": s.ID,
			"message": err,
		}).Error("could not fail checkout session")
		return
	}
	s.Reason = reason.Error()
	outcomes.WithLabelValues(string(Failed), s.Provider).Inc()
}

// timeoutOr maps a deadline expiry to the Timeout reason, otherwise
// returns the provided typed error.
func (o *Orchestrator) timeoutOr(err error, op string, typed error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op}
	}
	return typed
}

func (o *Orchestrator) publish(typ events.Type, s *Session) {
	if o.events == nil {
		return
	}

	snapshot := *s
	send := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := o.events.Publish(ctx, typ, snapshot.UserID, snapshot); err != nil {
			o.log.WithFields(logrus.Fields{
				"type":    typ,
				"session": snapshot.ID,
				"message": err,
			}).Error("publishing checkout event failed")
		}
	}

	if o.bg != nil {
		o.bg.Go(send)
		return
	}
	send()
}
