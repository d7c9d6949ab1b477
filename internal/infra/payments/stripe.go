// Package payments issues payment links for completed quotes.
package payments

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/port"
)

var _ port.PaymentLinkIssuer = (*Stripe)(nil)

var tracer = otel.Tracer("payments")

// stripeAPI is the slice of the Stripe client this package uses.
type stripeAPI interface {
	CreatePrice(ctx context.Context, params *stripe.PriceCreateParams) (*stripe.Price, error)
	CreatePaymentLink(ctx context.Context, params *stripe.PaymentLinkCreateParams) (*stripe.PaymentLink, error)
}

type stripeClient struct {
	sc *stripe.Client
}

func (c stripeClient) CreatePrice(ctx context.Context, params *stripe.PriceCreateParams) (*stripe.Price, error) {
	return c.sc.V1Prices.Create(ctx, params)
}

func (c stripeClient) CreatePaymentLink(ctx context.Context, params *stripe.PaymentLinkCreateParams) (*stripe.PaymentLink, error) {
	return c.sc.V1PaymentLinks.Create(ctx, params)
}

// Stripe creates a one-off price for the quote total and a payment link
// for it.
type Stripe struct {
	api      stripeAPI
	currency string
}

// NewStripe creates an issuer using the given secret key.
func NewStripe(secretKey, defaultCurrency string) *Stripe {
	return newStripe(stripeClient{sc: stripe.NewClient(secretKey)}, defaultCurrency)
}

func newStripe(api stripeAPI, defaultCurrency string) *Stripe {
	if defaultCurrency == "" {
		defaultCurrency = "aud"
	}
	return &Stripe{api: api, currency: strings.ToLower(defaultCurrency)}
}

// CreateForSession issues a link for the session's quote. Retries for the
// same call and total reuse one idempotency key.
func (s *Stripe) CreateForSession(ctx context.Context, sess *domain.Session) (*port.PaymentLink, error) {
	ctx, span := tracer.Start(ctx, "Stripe.CreateForSession")
	defer span.End()
	span.SetAttributes(attribute.String("call_id", sess.ID))

	if sess.QuoteSession == nil || sess.QuoteSession.Quote == nil {
		return nil, &domain.ErrValidation{Field: "quote", Message: "no completed quote on this call"}
	}
	quote := sess.QuoteSession.Quote
	cents := int64(math.Round(quote.Total * 100))
	if cents <= 0 {
		return nil, &domain.ErrValidation{Field: "quote", Message: "quote total must be positive"}
	}

	currency := s.currency
	if quote.Currency != "" {
		currency = strings.ToLower(quote.Currency)
	}
	idem := uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s/%d/%s", sess.ID, cents, currency))).String()

	businessName := "Quote"
	if sess.BusinessContext != nil && sess.BusinessContext.Name != "" {
		businessName = sess.BusinessContext.Name + " quote"
	}

	priceParams := &stripe.PriceCreateParams{
		Currency:   stripe.String(currency),
		UnitAmount: stripe.Int64(cents),
		ProductData: &stripe.PriceCreateProductDataParams{
			Name: stripe.String(businessName),
		},
	}
	priceParams.SetIdempotencyKey("price-" + idem)
	priceParams.AddMetadata("call_id", sess.ID)
	priceParams.AddMetadata("business_id", sess.BusinessID)

	price, err := s.api.CreatePrice(ctx, priceParams)
	if err != nil {
		return nil, &domain.ErrUpstream{Service: "stripe", Err: fmt.Errorf("create price: %w", err)}
	}

	linkParams := &stripe.PaymentLinkCreateParams{
		LineItems: []*stripe.PaymentLinkCreateLineItemParams{
			{Price: stripe.String(price.ID), Quantity: stripe.Int64(1)},
		},
	}
	linkParams.SetIdempotencyKey("link-" + idem)
	linkParams.AddMetadata("call_id", sess.ID)
	linkParams.AddMetadata("business_id", sess.BusinessID)

	link, err := s.api.CreatePaymentLink(ctx, linkParams)
	if err != nil {
		return nil, &domain.ErrUpstream{Service: "stripe", Err: fmt.Errorf("create payment link: %w", err)}
	}
	return &port.PaymentLink{URL: link.URL}, nil
}
