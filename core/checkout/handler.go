package checkout

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/dmaretti/storefront/api/web"
	"github.com/dmaretti/storefront/api/weberr"
	"github.com/dmaretti/storefront/core/address"
	"github.com/dmaretti/storefront/core/claims"
	"github.com/dmaretti/storefront/validate"
)

type StartRequest struct {
	AddressID string `json:"addressId" validate:"required"`
	Provider  string `json:"provider" validate:"required,oneof=stripe paypal"`
}

// respondErr translates flow errors into state-specific responses. A
// verification failure must send the user to support, not to a retry:
// the charge likely went through.
func respondErr(err error) error {
	var (
		scerr *SessionCreationError
		perr  *ProviderError
		verr  *VerificationError
		terr  *TimeoutError
	)

	switch {
	case errors.As(err, &verr):
		return weberr.NewError(err,
			"we could not confirm your payment; please do not retry, contact support with your order reference",
			http.StatusBadGateway)

	case errors.As(err, &terr):
		return weberr.NewError(err, "the payment service did not respond in time", http.StatusGatewayTimeout)

	case errors.As(err, &scerr):
		return weberr.NewError(err, "the payment session could not be created", http.StatusBadGateway)

	case errors.As(err, &perr):
		return weberr.NewError(err, perr.Error(), http.StatusBadGateway)

	case errors.Is(err, ErrEmptyCart):
		return weberr.Unprocessable(err)

	case errors.Is(err, ErrFlowInProgress):
		return weberr.Conflict(err)

	case errors.Is(err, ErrNotCancellable):
		return weberr.Conflict(err)

	case errors.Is(err, ErrNoSession):
		return weberr.NotFound(err)

	case errors.Is(err, address.ErrNotFound):
		return weberr.NotFound(err)
	}

	return err
}

func HandleStart(o *Orchestrator) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		var in StartRequest
		if err := web.Decode(w, r, &in); err != nil {
			return weberr.BadRequest(err)
		}

		if err := validate.Check(in); err != nil {
			return weberr.BadRequest(err)
		}

		s, err := o.Start(ctx, clm.UserID, in.AddressID, in.Provider)
		if err != nil {
			return respondErr(err)
		}

		return web.Respond(ctx, w, s, http.StatusCreated)
	}
}

func HandleStatus(o *Orchestrator) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		s, err := o.Current(ctx, clm.UserID)
		if err != nil {
			return respondErr(err)
		}

		return web.Respond(ctx, w, s, http.StatusOK)
	}
}

func HandleCancel(o *Orchestrator) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		s, err := o.Cancel(ctx, clm.UserID)
		if err != nil {
			return respondErr(err)
		}

		return web.Respond(ctx, w, s, http.StatusOK)
	}
}

func HandleRetry(o *Orchestrator) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		s, err := o.Retry(ctx, clm.UserID)
		if err != nil {
			return respondErr(err)
		}

		return web.Respond(ctx, w, s, http.StatusOK)
	}
}

// HandleCallback receives asynchronous gateway signals. The route is
// unauthenticated: the payload itself is authenticated by the gateway
// adapter (signature check or server-side capture), which fails closed.
func HandleCallback(o *Orchestrator) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		name := web.Param(r, "provider")

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			return weberr.BadRequest(err)
		}

		signature := r.Header.Get("Stripe-Signature")
		if signature == "" {
			signature = r.Header.Get("X-Signature")
		}

		s, err := o.HandleCallback(ctx, name, body, signature)
		switch {
		case err == nil:
			if s.ID == "" {
				// Unrelated gateway event, acknowledged and dropped.
				return web.Respond(ctx, w, nil, http.StatusNoContent)
			}
			return web.Respond(ctx, w, s, http.StatusOK)

		case errors.Is(err, ErrUserCancelled):
			return web.Respond(ctx, w, s, http.StatusOK)

		default:
			return respondErr(err)
		}
	}
}
