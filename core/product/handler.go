package product

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmaretti/storefront/api/web"
	"github.com/dmaretti/storefront/api/weberr"
	"github.com/dmaretti/storefront/validate"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

func HandleList(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		ps, err := FetchAll(ctx, db)
		if err != nil {
			return err
		}

		return web.Respond(ctx, w, ps, http.StatusOK)
	}
}

func HandleShow(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(err)
		}

		p, err := Fetch(ctx, db, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return err
		}

		return web.Respond(ctx, w, p, http.StatusOK)
	}
}

type PriceUp struct {
	Price         decimal.Decimal `json:"price" validate:"required,gt=0"`
	OriginalPrice decimal.Decimal `json:"originalPrice"`
}

func HandleUpdatePrice(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(err)
		}

		var pu PriceUp
		if err := web.Decode(w, r, &pu); err != nil {
			return weberr.BadRequest(err)
		}

		if err := validate.Check(pu); err != nil {
			return weberr.BadRequest(err)
		}

		p, err := Fetch(ctx, db, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return err
		}

		p.Price = pu.Price
		p.OriginalPrice = pu.OriginalPrice
		if p.OriginalPrice.IsZero() {
			p.OriginalPrice = pu.Price
		}

		if err := UpdatePrice(ctx, db, id, p); err != nil {
			return err
		}

		return web.Respond(ctx, w, p, http.StatusOK)
	}
}

func HandleCreate(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var pn ProductNew
		if err := web.Decode(w, r, &pn); err != nil {
			return weberr.BadRequest(err)
		}

		if err := validate.Check(pn); err != nil {
			return weberr.BadRequest(err)
		}

		orig := pn.OriginalPrice
		if orig.IsZero() {
			orig = pn.Price
		}

		now := time.Now().UTC()
		p := Product{
			ID:            validate.GenerateID(),
			Name:          pn.Name,
			Description:   pn.Description,
			ImageURL:      pn.ImageURL,
			Price:         pn.Price,
			OriginalPrice: orig,
			Stock:         pn.Stock,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		if err := Create(ctx, db, p); err != nil {
			return err
		}

		return web.Respond(ctx, w, p, http.StatusCreated)
	}
}
