package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

var (
	// ErrUnavailable covers network faults, timeouts, throttling and processor 5xx.
	// The caller may retry the whole purchase.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrRejected means the processor refused the request as sent.
	ErrRejected = errors.New("payment gateway rejected the order")
)

// RemoteOrder is the processor-side order the client-side payment UI completes.
type RemoteOrder struct {
	Ref          string
	Amount       int64
	Currency     string
	ClientSecret string
}

type Conf struct {
	Key       string
	PublicKey string
	URL       string
	Timeout   time.Duration
}

type Client struct {
	sc        *client.API
	publicKey string
}

func NewClient(c Conf) (*Client, error) {
	if c.Key == "" {
		return nil, errors.New("gateway api key is empty")
	}
	if c.Timeout <= 0 {
		return nil, errors.New("gateway timeout must be positive")
	}
	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: c.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if c.URL != "" {
		cfg.URL = stripe.String(c.URL)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	}
	return &Client{sc: client.New(c.Key, backends), publicKey: c.PublicKey}, nil
}

func (c *Client) PublicKey() string {
	return c.publicKey
}

// OpenRemoteOrder creates a payment intent for amount minor units. The seed doubles as the
// processor idempotency key so a retried open never creates a second remote order.
func (c *Client) OpenRemoteOrder(ctx context.Context, amount int64, currency, idempotencySeed string) (RemoteOrder, error) {
	if amount <= 0 {
		return RemoteOrder{}, fmt.Errorf("%w: amount must be positive, got %d", ErrRejected, amount)
	}
	if currency == "" || idempotencySeed == "" {
		return RemoteOrder{}, fmt.Errorf("%w: currency and idempotency seed are required", ErrRejected)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencySeed)
	params.AddMetadata("order_id", idempotencySeed)

	pi, err := c.sc.PaymentIntents.New(params)
	if err != nil {
		return RemoteOrder{}, classify(err)
	}
	if pi.ID == "" {
		return RemoteOrder{}, fmt.Errorf("%w: empty payment intent id", ErrUnavailable)
	}
	return RemoteOrder{
		Ref:          pi.ID,
		Amount:       pi.Amount,
		Currency:     strings.ToUpper(string(pi.Currency)),
		ClientSecret: pi.ClientSecret,
	}, nil
}

func classify(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError || se.HTTPStatusCode == 0 {
		return fmt.Errorf("%w: %s", ErrUnavailable, se.Msg)
	}
	return fmt.Errorf("%w: %s", ErrRejected, se.Msg)
}
