package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/infra/resilience"
	"github.com/boddenberg/receptionist-core/internal/port"
)

var _ port.BusinessContextProvider = (*HTTPClient)(nil)

var tracer = otel.Tracer("catalog")

// HTTPClient fetches business profiles from the business profile API.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewHTTPClient creates a new HTTPClient.
func NewHTTPClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *HTTPClient {
	return &HTTPClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		cfg:        cfg,
	}
}

// Resolve fetches a business profile with retry, circuit breaker, and tracing.
func (c *HTTPClient) Resolve(ctx context.Context, identifier string) (*domain.BusinessContext, error) {
	ctx, span := tracer.Start(ctx, "HTTPClient.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("business.identifier", identifier))

	endpoint := fmt.Sprintf("%s/v1/businesses/resolve?identifier=%s", c.baseURL, url.QueryEscape(identifier))
	if id, ok := domain.ParseBusinessRef(identifier); ok {
		endpoint = fmt.Sprintf("%s/v1/businesses/%s", c.baseURL, url.PathEscape(id))
	}

	result, err := c.cb.Execute(func() (any, error) {
		var bc domain.BusinessContext
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return resilience.Permanent(err)
			}
			req.Header.Set("Accept", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusNotFound {
				return resilience.Permanent(&domain.ErrNotFound{Resource: "business", ID: identifier})
			}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return resilience.Permanent(fmt.Errorf("business API returned status %d", resp.StatusCode))
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("business API returned status %d", resp.StatusCode)
			}

			bc = domain.BusinessContext{}
			if err := json.NewDecoder(resp.Body).Decode(&bc); err != nil {
				return resilience.Permanent(fmt.Errorf("decode business profile: %w", err))
			}
			return nil
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return &bc, nil
	})

	if err != nil {
		if resilience.IsBreakerOpen(err) {
			return nil, &domain.ErrCircuitOpen{Service: "business"}
		}
		var nf *domain.ErrNotFound
		if errors.As(err, &nf) {
			return nil, nf
		}
		return nil, &domain.ErrUpstream{Service: "business", Err: err}
	}

	return result.(*domain.BusinessContext), nil
}
