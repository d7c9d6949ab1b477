package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/service"
)

func TestDemoTokens_IssueAndParse(t *testing.T) {
	tokens := service.NewDemoTokens("demo-secret", time.Hour)

	token, exp, err := tokens.Issue("biz-1")
	require.NoError(t, err)
	assert.True(t, service.LooksLikeToken(token))
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	id, err := tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "biz-1", id)

	_, err = service.NewDemoTokens("other-secret", time.Hour).Parse(token)
	assert.Error(t, err)

	_, _, err = tokens.Issue(" ")
	assert.Error(t, err)
}

func TestLooksLikeToken(t *testing.T) {
	assert.True(t, service.LooksLikeToken("aaa.bbb.ccc"))
	assert.False(t, service.LooksLikeToken("+61390000000"))
	assert.False(t, service.LooksLikeToken("sip.user@example.com"))
	assert.False(t, service.LooksLikeToken("1.2"))
}

func TestTokenResolver(t *testing.T) {
	provider := &fakeProvider{bc: receptionBusiness()}
	tokens := service.NewDemoTokens("demo-secret", time.Hour)
	resolver := service.NewTokenResolver(provider, tokens)
	ctx := context.Background()

	token, _, err := tokens.Issue("biz-1")
	require.NoError(t, err)
	bc, err := resolver.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "biz-1", bc.BusinessID)

	bc, err = resolver.Resolve(ctx, "+61390000000")
	require.NoError(t, err)
	assert.Equal(t, "biz-1", bc.BusinessID)

	_, err = resolver.Resolve(ctx, "aaa.bbb.ccc")
	var unauthorized *domain.ErrUnauthorized
	assert.True(t, errors.As(err, &unauthorized))
}

func TestTokenResolver_DisabledPassesThrough(t *testing.T) {
	provider := &fakeProvider{bc: receptionBusiness()}
	resolver := service.NewTokenResolver(provider, nil)

	_, err := resolver.Resolve(context.Background(), "aaa.bbb.ccc")
	var nf *domain.ErrNotFound
	assert.True(t, errors.As(err, &nf))
	assert.Equal(t, int32(1), provider.calls.Load())
}
