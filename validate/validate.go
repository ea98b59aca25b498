// Package validate holds the request-payload validator shared by the
// HTTP handlers, plus the uuid helpers used for entity ids.
package validate

import (
	"errors"
	"reflect"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validate *validator.Validate

var translator ut.Translator

func init() {

	validate = validator.New()

	// Prices are decimal.Decimal, which the validator cannot compare
	// natively. Presenting them as float64 lets payloads carry the
	// numeric tags (gt, gte) on monetary fields.
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	translator, _ = ut.New(en.New(), en.New()).GetTranslator("en")
	en_translations.RegisterDefaultTranslations(validate, translator)
}

// Check validates val against its struct tags. Only the first violation
// is returned, translated into a message fit for a response body.
func Check(val any) error {
	if err := validate.Struct(val); err != nil {

		verrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}

		if len(verrors) < 1 {
			return nil
		}

		return errors.New(verrors[0].Translate(translator))
	}

	return nil
}

// GenerateID mints a uuid for a new entity. Carts, checkout sessions,
// orders and addresses all share this id form.
func GenerateID() string {
	return uuid.NewString()
}

// CheckID rejects path parameters that are not well-formed uuids before
// they reach a query.
func CheckID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("ID is not in its proper form")
	}
	return nil
}
