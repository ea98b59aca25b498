package api

import (
	"context"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/dmaretti/storefront/api/middleware"
	"github.com/dmaretti/storefront/api/web"
	"github.com/dmaretti/storefront/bus"
	"github.com/dmaretti/storefront/core/address"
	"github.com/dmaretti/storefront/core/cart"
	"github.com/dmaretti/storefront/core/checkout"
	"github.com/dmaretti/storefront/core/claims"
	"github.com/dmaretti/storefront/core/order"
	"github.com/dmaretti/storefront/core/product"
	"github.com/dmaretti/storefront/rate"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type APIConfig struct {
	CorsOrigin   string
	Log          logrus.FieldLogger
	DB           *sqlx.DB
	Session      *scs.SessionManager
	Cart         *cart.Store
	Bus          *bus.Bus
	Checkout     *checkout.Orchestrator
	CheckoutRate *rate.Limiter
}

type api struct {
	*mux.Router
	mw  []web.Middleware
	log logrus.FieldLogger
}

func APIMux(cfg APIConfig) http.Handler {
	a := &api{
		Router: mux.NewRouter(),
		log:    cfg.Log,
	}

	a.mw = append(a.mw, middleware.RequestID())
	a.mw = append(a.mw, middleware.Logger(cfg.Log))
	a.mw = append(a.mw, middleware.Metrics())
	a.mw = append(a.mw, middleware.Errors(cfg.Log))
	a.mw = append(a.mw, middleware.Panics())

	if cfg.CorsOrigin != "" {
		a.mw = append(a.mw, middleware.Cors(cfg.CorsOrigin))

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}

		a.Handle(http.MethodOptions, "/{path:.*}", h)
	}

	ident := claims.Identify(cfg.Session)

	a.Handle(http.MethodGet, "/products/{id}", product.HandleShow(cfg.DB))
	a.Handle(http.MethodGet, "/products", product.HandleList(cfg.DB))
	a.Handle(http.MethodPost, "/products", product.HandleCreate(cfg.DB))
	a.Handle(http.MethodPut, "/products/{id}/price", product.HandleUpdatePrice(cfg.DB))

	a.Handle(http.MethodGet, "/cart/updates", cart.HandleUpdates(cfg.Bus), ident)
	a.Handle(http.MethodGet, "/cart", cart.HandleShow(cfg.Cart), ident)
	a.Handle(http.MethodDelete, "/cart", cart.HandleDelete(cfg.Cart), ident)
	a.Handle(http.MethodPut, "/cart/items", cart.HandleCreateItem(cfg.DB, cfg.Cart), ident)
	a.Handle(http.MethodPut, "/cart/items/quantity", cart.HandleUpdateQuantity(cfg.Cart), ident)
	a.Handle(http.MethodDelete, "/cart/items/{product_id}", cart.HandleDeleteItem(cfg.Cart), ident)

	a.Handle(http.MethodGet, "/addresses", address.HandleList(cfg.DB), ident)
	a.Handle(http.MethodPost, "/addresses", address.HandleCreate(cfg.DB), ident)

	a.Handle(http.MethodPost, "/checkout", checkout.HandleStart(cfg.Checkout), ident, middleware.RateLimit(cfg.CheckoutRate))
	a.Handle(http.MethodGet, "/checkout", checkout.HandleStatus(cfg.Checkout), ident)
	a.Handle(http.MethodPost, "/checkout/cancel", checkout.HandleCancel(cfg.Checkout), ident)
	a.Handle(http.MethodPost, "/checkout/retry", checkout.HandleRetry(cfg.Checkout), ident)

	// Gateway callbacks carry their own authentication (signatures or
	// server-side capture), so no shopper identity here.
	a.Handle(http.MethodPost, "/checkout/callback/{provider}", checkout.HandleCallback(cfg.Checkout))

	a.Handle(http.MethodGet, "/orders", order.HandleList(cfg.DB), ident)

	a.Router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return cfg.Session.LoadAndSave(a.Router)
}

func (a *api) Handle(method string, path string, handler web.Handler, mw ...web.Middleware) {

	handler = web.WrapMiddleware(mw, handler)

	handler = web.WrapMiddleware(a.mw, handler)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {

			a.log.WithFields(logrus.Fields{
				"req_id":  middleware.ContextRequestID(ctx),
				"message": err,
			}).Error("ERROR")
		}
	})

	a.Router.Handle(path, h).Methods(method)
}
