package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Chains: map[string]ChainConfig{
			"base": {
				ChainID:       8453,
				RPC:           "https://mainnet.base.org",
				Confirmations: 2,
				DetectionMode: "transactions",
				StableToken:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
				SlippageBps:   50,
			},
		},
		Settlement: SettlementConfig{
			QueueConcurrency: 2,
			FeeBps:           1000,
			MasterAddress:    "0x1111111111111111111111111111111111111111",
			FeeAddress:       "0x2222222222222222222222222222222222222222",
		},
		Secrets: SecretsConfig{Provider: "env"},
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	require.NoError(t, validate(validConfig()))
}

func TestValidateRejectsMissingChains(t *testing.T) {
	cfg := validConfig()
	cfg.Chains = nil
	assert.Error(t, validate(cfg))
}

func TestValidateRejectsChainFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ChainConfig)
	}{
		{"missing rpc", func(c *ChainConfig) { c.RPC = "" }},
		{"missing chain id", func(c *ChainConfig) { c.ChainID = 0 }},
		{"missing stable token", func(c *ChainConfig) { c.StableToken = "" }},
		{"bad detection mode", func(c *ChainConfig) { c.DetectionMode = "headers" }},
		{"negative slippage", func(c *ChainConfig) { c.SlippageBps = -1 }},
		{"slippage eats everything", func(c *ChainConfig) { c.SlippageBps = 10000 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			chain := cfg.Chains["base"]
			tc.mutate(&chain)
			cfg.Chains["base"] = chain
			assert.Error(t, validate(cfg))
		})
	}
}

func TestValidateSettlementRules(t *testing.T) {
	cfg := validConfig()
	cfg.Settlement.FeeBps = 10001
	assert.Error(t, validate(cfg))

	cfg = validConfig()
	cfg.Settlement.MasterAddress = ""
	assert.Error(t, validate(cfg))

	cfg = validConfig()
	cfg.Settlement.FeeAddress = ""
	assert.Error(t, validate(cfg), "fee address required while fee_bps > 0")

	// With no fee cut there is nothing to pay out, so no fee address
	// is needed.
	cfg = validConfig()
	cfg.Settlement.FeeBps = 0
	cfg.Settlement.FeeAddress = ""
	assert.NoError(t, validate(cfg))

	cfg = validConfig()
	cfg.Settlement.QueueConcurrency = 0
	assert.Error(t, validate(cfg))
}

func TestValidateSecretsProvider(t *testing.T) {
	cfg := validConfig()
	cfg.Secrets.Provider = "vault"
	assert.Error(t, validate(cfg))

	cfg.Secrets.Provider = "aws"
	assert.NoError(t, validate(cfg))
}
