package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *VerifierConfig {
	return &VerifierConfig{
		GuardianSetFile: "guardians.json",
		ReplayBackend:   ReplayBackendMemory,
		ReplayStrategy:  ReplayStrategySequence,
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateMissingGuardianSetFile(t *testing.T) {
	cfg := validConfig()
	cfg.GuardianSetFile = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "guardianSetFile")
}

func TestValidateReplayBackend(t *testing.T) {
	tests := []struct {
		label     string
		mutate    func(*VerifierConfig)
		errSubstr string
	}{
		{label: "memory needs nothing",
			mutate: func(c *VerifierConfig) { c.ReplayBackend = ReplayBackendMemory }},
		{label: "badger needs a data path",
			mutate: func(c *VerifierConfig) { c.ReplayBackend = ReplayBackendBadger },
			errSubstr: "replayDataPath"},
		{label: "badger with data path",
			mutate: func(c *VerifierConfig) {
				c.ReplayBackend = ReplayBackendBadger
				c.ReplayDataPath = "/var/lib/vaa"
			}},
		{label: "redis needs an address",
			mutate: func(c *VerifierConfig) { c.ReplayBackend = ReplayBackendRedis },
			errSubstr: "redisAddress"},
		{label: "redis with address",
			mutate: func(c *VerifierConfig) {
				c.ReplayBackend = ReplayBackendRedis
				c.RedisAddress = "localhost:6379"
			}},
		{label: "redis db out of range",
			mutate: func(c *VerifierConfig) {
				c.ReplayBackend = ReplayBackendRedis
				c.RedisAddress = "localhost:6379"
				c.RedisDB = 16
			},
			errSubstr: "redisDB"},
		{label: "unknown backend",
			mutate:    func(c *VerifierConfig) { c.ReplayBackend = "etcd" },
			errSubstr: "replayBackend"},
	}

	for _, tc := range tests {
		t.Run(tc.label, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			if tc.errSubstr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errSubstr)
			}
		})
	}
}

func TestValidateReplayStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.ReplayStrategy = ReplayStrategyHash
	assert.NoError(t, cfg.Validate())

	cfg.ReplayStrategy = "bloom"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replayStrategy")
}

func TestSupportedReplayBackendsString(t *testing.T) {
	assert.Equal(t, "memory, badger, redis", SupportedReplayBackendsString())
}
