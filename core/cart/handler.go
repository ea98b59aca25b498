package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dmaretti/storefront/api/web"
	"github.com/dmaretti/storefront/api/weberr"
	"github.com/dmaretti/storefront/core/claims"
	"github.com/dmaretti/storefront/core/product"
	"github.com/dmaretti/storefront/storage"
	"github.com/dmaretti/storefront/validate"
	"github.com/jmoiron/sqlx"
)

type ItemNew struct {
	ProductID string `json:"productId" validate:"required"`
	Size      string `json:"size" validate:"required"`
	Color     string `json:"color" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gte=1"`
}

type QuantityUp struct {
	ProductID string `json:"productId" validate:"required"`
	Size      string `json:"size" validate:"required"`
	Color     string `json:"color" validate:"required"`
	Quantity  int    `json:"quantity"`
}

// respondErr maps store failures to web responses. A storage failure is
// surfaced as 503, never masked as an empty cart.
func respondErr(err error) error {
	var serr *storage.Error
	if errors.As(err, &serr) {
		return weberr.NewError(err, "the cart is temporarily unavailable", http.StatusServiceUnavailable)
	}
	if errors.Is(err, ErrInvalidQuantity) {
		return weberr.BadRequest(err)
	}
	return err
}

func HandleShow(store *Store) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		sum, err := store.Summary(ctx, clm.UserID)
		if err != nil {
			return respondErr(err)
		}

		return web.Respond(ctx, w, sum, http.StatusOK)
	}
}

func HandleCreateItem(db *sqlx.DB, store *Store) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		var in ItemNew
		if err := web.Decode(w, r, &in); err != nil {
			return weberr.BadRequest(err)
		}

		if err := validate.Check(in); err != nil {
			return weberr.BadRequest(err)
		}

		p, err := product.Fetch(ctx, db, in.ProductID)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				return weberr.NotFound(err)
			}
			return err
		}

		sum, err := store.Add(ctx, clm.UserID, p, in.Size, in.Color, in.Quantity)
		if err != nil {
			return respondErr(err)
		}

		return web.Respond(ctx, w, sum, http.StatusOK)
	}
}

func HandleUpdateQuantity(store *Store) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		var in QuantityUp
		if err := web.Decode(w, r, &in); err != nil {
			return weberr.BadRequest(err)
		}

		if err := validate.Check(in); err != nil {
			return weberr.BadRequest(err)
		}

		sum, err := store.SetQuantity(ctx, clm.UserID, in.ProductID, in.Size, in.Color, in.Quantity)
		if err != nil {
			return respondErr(err)
		}

		return web.Respond(ctx, w, sum, http.StatusOK)
	}
}

func HandleDeleteItem(store *Store) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		sum, err := store.Remove(ctx, clm.UserID,
			web.Param(r, "product_id"),
			web.Query(r, "size"),
			web.Query(r, "color"),
		)
		if err != nil {
			return respondErr(err)
		}

		return web.Respond(ctx, w, sum, http.StatusOK)
	}
}

// Subscriptions is the read side of the change-notification bus.
type Subscriptions interface {
	Subscribe(userID string) (<-chan Summary, func())
}

// HandleUpdates streams cart summaries over server-sent events so the
// navbar badge and mini-cart track mutations made anywhere else.
func HandleUpdates(subs Subscriptions) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		fl, ok := w.(http.Flusher)
		if !ok {
			return errors.New("streaming unsupported by response writer")
		}

		ch, cancel := subs.Subscribe(clm.UserID)
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		fl.Flush()

		for {
			select {
			case <-ctx.Done():
				return nil

			case sum, open := <-ch:
				if !open {
					return nil
				}

				data, err := json.Marshal(sum)
				if err != nil {
					return fmt.Errorf("encoding cart summary: %w", err)
				}
				fmt.Fprintf(w, "data: %s\n\n", data)
				fl.Flush()
			}
		}
	}
}

func HandleDelete(store *Store) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		if _, err := store.Clear(ctx, clm.UserID); err != nil {
			return respondErr(err)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}
