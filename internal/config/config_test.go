package config_test

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boddenberg/receptionist-core/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEYS", "")
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.WebhookTolerance)
	assert.Equal(t, 10*time.Minute, cfg.SessionGrace)
	assert.Equal(t, 5, cfg.StoreMaxRetries)
	assert.Equal(t, "aud", cfg.PaymentCurrency)
	assert.Empty(t, cfg.OpenAIAPIKeys)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("OPENAI_API_KEYS", "sk-a, sk-b ,,sk-c")
	t.Setenv("SESSION_GRACE", "30s")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"sk-a", "sk-b", "sk-c"}, cfg.OpenAIAPIKeys)
	assert.Equal(t, 30*time.Second, cfg.SessionGrace)
}

func TestValidate(t *testing.T) {
	v := viper.New()
	v.Set("STORE_MAX_RETRIES", 3)
	v.Set("WEBHOOK_TOLERANCE", "5m")

	cfg := config.FromViper(v)
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEYS")
	assert.Contains(t, err.Error(), "WEBHOOK_SECRET")

	cfg.OpenAIAPIKeys = []string{"sk-a"}
	cfg.WebhookSecret = "whsec_c2VjcmV0"
	assert.NoError(t, cfg.Validate())
}

func TestTwilioEnabled(t *testing.T) {
	cfg := &config.Config{TwilioAccountSID: "AC1", TwilioAuthToken: "tok"}
	assert.False(t, cfg.TwilioEnabled())
	cfg.TwilioFromNumber = "+61400000000"
	assert.True(t, cfg.TwilioEnabled())
}
