package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/port"
	"github.com/golang-jwt/jwt/v5"
)

const demoTokenIssuer = "receptionist-demo"

// DemoClaims are carried by a demo token: a caller dialing the shared demo
// line presents one to reach a specific business.
type DemoClaims struct {
	BusinessID string `json:"business_id"`
	jwt.RegisteredClaims
}

// DemoTokens issues and verifies HS256 demo tokens.
type DemoTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewDemoTokens creates the token service.
func NewDemoTokens(secret string, ttl time.Duration) *DemoTokens {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DemoTokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for businessID.
func (d *DemoTokens) Issue(businessID string) (string, time.Time, error) {
	if strings.TrimSpace(businessID) == "" {
		return "", time.Time{}, errors.New("business id is required")
	}
	now := d.now()
	exp := now.Add(d.ttl)
	claims := DemoClaims{
		BusinessID: businessID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    demoTokenIssuer,
			Subject:   businessID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(d.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign demo token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies a token and returns its business id.
func (d *DemoTokens) Parse(token string) (string, error) {
	claims := &DemoClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return d.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(demoTokenIssuer),
		jwt.WithTimeFunc(d.now),
	)
	if err != nil {
		return "", fmt.Errorf("parse demo token: %w", err)
	}
	if !parsed.Valid || claims.BusinessID == "" {
		return "", errors.New("demo token carries no business")
	}
	return claims.BusinessID, nil
}

// LooksLikeToken reports whether identifier has JWT shape.
func LooksLikeToken(identifier string) bool {
	return strings.Count(identifier, ".") == 2 && !strings.ContainsAny(identifier, " @+")
}

// TokenResolver lets demo tokens stand in for a dialed number. Anything
// that is not token-shaped passes through to the wrapped provider.
type TokenResolver struct {
	next   port.BusinessContextProvider
	tokens *DemoTokens
}

// NewTokenResolver wraps next. A nil tokens disables demo tokens.
func NewTokenResolver(next port.BusinessContextProvider, tokens *DemoTokens) *TokenResolver {
	return &TokenResolver{next: next, tokens: tokens}
}

// Resolve implements port.BusinessContextProvider.
func (r *TokenResolver) Resolve(ctx context.Context, identifier string) (*domain.BusinessContext, error) {
	if r.tokens == nil || !LooksLikeToken(identifier) {
		return r.next.Resolve(ctx, identifier)
	}
	businessID, err := r.tokens.Parse(identifier)
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: err.Error()}
	}
	return r.next.Resolve(ctx, domain.BusinessRef(businessID))
}
