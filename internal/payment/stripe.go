package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var stripeTracer = otel.Tracer("locum/payment/stripe")

var ErrProcessorNotConfigured = errors.New("payment processor is not configured")

// PaymentMethod is the display subset of a stored card.
type PaymentMethod struct {
	ID        string `json:"id"`
	Brand     string `json:"brand"`
	Last4     string `json:"last4"`
	ExpMonth  int    `json:"exp_month"`
	ExpYear   int    `json:"exp_year"`
	IsDefault bool   `json:"is_default"`
	Customer  string `json:"-"`
}

type SetupIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Customer     string `json:"customer"`
}

// Processor is the part of the payment processor the marketplace uses.
// Card details never pass through it; they are collected by the hosted
// widget against a setup intent.
type Processor interface {
	CreateCustomer(ctx context.Context, actorID uuid.UUID) (string, error)
	ListPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, id string) (*PaymentMethod, error)
	CreateSetupIntent(ctx context.Context, customerID string) (*SetupIntent, error)
	DetachPaymentMethod(ctx context.Context, id string) error
}

// StripeClient talks to the Stripe REST API with form encoded requests.
type StripeClient struct {
	secretKey  string
	baseURL    string
	apiVersion string
	httpClient *http.Client
}

func NewStripeClient(secretKey, baseURL string) *StripeClient {
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &StripeClient{
		secretKey:  secretKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiVersion: "2024-12-18.acacia",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type stripeCustomer struct {
	ID              string `json:"id"`
	InvoiceSettings struct {
		DefaultPaymentMethod string `json:"default_payment_method"`
	} `json:"invoice_settings"`
}

type stripePaymentMethod struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Card     struct {
		Brand    string `json:"brand"`
		Last4    string `json:"last4"`
		ExpMonth int    `json:"exp_month"`
		ExpYear  int    `json:"exp_year"`
	} `json:"card"`
}

func (pm stripePaymentMethod) toPaymentMethod(defaultID string) PaymentMethod {
	return PaymentMethod{
		ID:        pm.ID,
		Brand:     pm.Card.Brand,
		Last4:     pm.Card.Last4,
		ExpMonth:  pm.Card.ExpMonth,
		ExpYear:   pm.Card.ExpYear,
		IsDefault: defaultID != "" && pm.ID == defaultID,
		Customer:  pm.Customer,
	}
}

type stripeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (c *StripeClient) CreateCustomer(ctx context.Context, actorID uuid.UUID) (string, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_customer")
	defer span.End()
	span.SetAttributes(attribute.String("actor_id", actorID.String()))

	form := url.Values{}
	form.Set("metadata[actor_id]", actorID.String())

	var out stripeCustomer
	if err := c.do(ctx, http.MethodPost, "/v1/customers", form, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("payment: stripe response missing customer id")
	}
	return out.ID, nil
}

// ListPaymentMethods returns the customer's cards, flagging the invoice
// default.
func (c *StripeClient) ListPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.list_payment_methods")
	defer span.End()

	var customer stripeCustomer
	if err := c.do(ctx, http.MethodGet, "/v1/customers/"+url.PathEscape(customerID), nil, &customer); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("type", "card")
	var list struct {
		Data []stripePaymentMethod `json:"data"`
	}
	path := "/v1/customers/" + url.PathEscape(customerID) + "/payment_methods?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}

	out := make([]PaymentMethod, 0, len(list.Data))
	for _, pm := range list.Data {
		out = append(out, pm.toPaymentMethod(customer.InvoiceSettings.DefaultPaymentMethod))
	}
	span.SetAttributes(attribute.Int("payment_methods", len(out)))
	return out, nil
}

func (c *StripeClient) GetPaymentMethod(ctx context.Context, id string) (*PaymentMethod, error) {
	var pm stripePaymentMethod
	if err := c.do(ctx, http.MethodGet, "/v1/payment_methods/"+url.PathEscape(id), nil, &pm); err != nil {
		return nil, err
	}
	out := pm.toPaymentMethod("")
	return &out, nil
}

func (c *StripeClient) CreateSetupIntent(ctx context.Context, customerID string) (*SetupIntent, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_setup_intent")
	defer span.End()

	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("usage", "off_session")
	form.Set("payment_method_types[]", "card")

	var out SetupIntent
	if err := c.do(ctx, http.MethodPost, "/v1/setup_intents", form, &out); err != nil {
		return nil, err
	}
	if out.ClientSecret == "" {
		return nil, errors.New("payment: stripe response missing client secret")
	}
	return &out, nil
}

func (c *StripeClient) DetachPaymentMethod(ctx context.Context, id string) error {
	ctx, span := stripeTracer.Start(ctx, "stripe.detach_payment_method")
	defer span.End()

	return c.do(ctx, http.MethodPost, "/v1/payment_methods/"+url.PathEscape(id)+"/detach", url.Values{}, nil)
}

func (c *StripeClient) do(ctx context.Context, method, path string, form url.Values, out any) error {
	if c.secretKey == "" {
		return ErrProcessorNotConfigured
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("payment: stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Stripe-Version", c.apiVersion)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payment: stripe http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		data, _ := io.ReadAll(resp.Body)
		var apiErr stripeErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("payment: stripe api status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("payment: stripe api status %d: %s", resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("payment: stripe decode: %w", err)
	}
	return nil
}
