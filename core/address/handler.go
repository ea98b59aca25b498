package address

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmaretti/storefront/api/web"
	"github.com/dmaretti/storefront/api/weberr"
	"github.com/dmaretti/storefront/core/claims"
	"github.com/dmaretti/storefront/database"
	"github.com/dmaretti/storefront/validate"
	"github.com/jmoiron/sqlx"
)

func HandleList(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		as, err := FetchByUser(ctx, db, clm.UserID)
		if err != nil {
			return err
		}

		return web.Respond(ctx, w, as, http.StatusOK)
	}
}

func HandleCreate(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		var an AddressNew
		if err := web.Decode(w, r, &an); err != nil {
			return weberr.BadRequest(err)
		}

		if err := validate.Check(an); err != nil {
			return weberr.BadRequest(err)
		}

		now := time.Now().UTC()
		a := Address{
			ID:         validate.GenerateID(),
			UserID:     clm.UserID,
			FullName:   an.FullName,
			Line1:      an.Line1,
			Line2:      an.Line2,
			City:       an.City,
			State:      an.State,
			PostalCode: an.PostalCode,
			Country:    an.Country,
			Phone:      an.Phone,
			IsDefault:  an.IsDefault,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		err = database.Transaction(db, func(tx sqlx.ExtContext) error {
			if a.IsDefault {
				if err := ClearDefault(ctx, tx, clm.UserID); err != nil {
					return err
				}
			}
			return Create(ctx, tx, a)
		})
		if err != nil {
			return err
		}

		return web.Respond(ctx, w, a, http.StatusCreated)
	}
}
