package config

import "time"

type Config struct {
	Web      Web
	DB       DB
	Redis    Redis
	Kafka    Kafka
	Cors     Cors
	Stripe   Stripe
	Paypal   Paypal
	Checkout Checkout
	Rate     Rate
}

type Web struct {
	Address         string        `conf:"default:0.0.0.0:8000"`
	ReadTimeout     time.Duration `conf:"default:5s"`
	// Must cover the checkout backend timeout: session creation and
	// verification run inside a single request.
	WriteTimeout    time.Duration `conf:"default:45s"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`
}

type DB struct {
	User       string `conf:"default:postgres"`
	Password   string `conf:"default:postgres,mask"`
	Host       string `conf:"default:localhost"`
	Name       string `conf:"default:storefront"`
	DisableTLS bool   `conf:"default:true"`
}

type Redis struct {
	Address  string        `conf:"default:localhost:6379"`
	Password string        `conf:"default:,mask"`
	DB       int           `conf:"default:0"`
	CartTTL  time.Duration `conf:"default:720h"`
}

type Kafka struct {
	Brokers       []string `conf:"default:localhost:9092"`
	CheckoutTopic string   `conf:"default:storefront.checkout"`
}

type Cors struct {
	Origin string
}

type Stripe struct {
	APISecret     string `conf:"mask"`
	WebhookSecret string `conf:"mask"`
	SuccessURL    string `conf:"default:http://localhost:3000/checkout/success"`
	CancelURL     string `conf:"default:http://localhost:3000/checkout/cancel"`
}

type Paypal struct {
	ClientID string
	Secret   string `conf:"mask"`
	URL      string `conf:"default:https://api.sandbox.paypal.com"`
}

type Checkout struct {
	// Bound on session-creation and verification calls; on expiry the
	// flow fails with a timeout reason instead of hanging.
	BackendTimeout time.Duration `conf:"default:30s"`

	// How long a provider session stays reusable after a cancelled
	// checkout before a retry must request a fresh one.
	SessionTTL time.Duration `conf:"default:30m"`
}

type Rate struct {
	Burst    int           `conf:"default:5"`
	Expiry   time.Duration `conf:"default:1h"`
	LimitRPS float64       `conf:"default:1"`
}
