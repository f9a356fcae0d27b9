package config

import (
	"fmt"

	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for verifier configuration
const (
	EnvVAAGuardianSetFile = "VAA_GUARDIAN_SET_FILE"
	EnvVAAReplayBackend   = "VAA_REPLAY_BACKEND"
	EnvVAAReplayDataPath  = "VAA_REPLAY_DATA_PATH"
	EnvVAARedisAddress    = "VAA_REDIS_ADDRESS"
	EnvVAARedisPassword   = "VAA_REDIS_PASSWORD"
	EnvVAARedisDB         = "VAA_REDIS_DB"
	EnvVAAVerbose         = "VAA_VERBOSE"
)

// ReplayBackend selects the replay guard storage.
type ReplayBackend string

const (
	ReplayBackendMemory ReplayBackend = "memory"
	ReplayBackendBadger ReplayBackend = "badger"
	ReplayBackendRedis  ReplayBackend = "redis"
)

// ReplayStrategy selects which replay-protection keying a deployment uses.
// The choice follows the consistency level of the message class: the
// sequence bitmap is only sound for finalized messages.
type ReplayStrategy string

const (
	ReplayStrategySequence ReplayStrategy = "sequence"
	ReplayStrategyHash     ReplayStrategy = "hash"
)

// VerifierConfig is the complete configuration for the verification tool.
type VerifierConfig struct {
	// GuardianSetFile is a JSON file describing the known guardian sets.
	GuardianSetFile string `json:"guardian_set_file"`

	// ReplayBackend selects the replay guard storage.
	ReplayBackend ReplayBackend `json:"replay_backend"`

	// ReplayStrategy selects bitmap vs hash-keyed replay protection.
	ReplayStrategy ReplayStrategy `json:"replay_strategy"`

	// ReplayDataPath is the on-disk location for the badger backend.
	ReplayDataPath string `json:"replay_data_path"`

	// Redis connection settings, used when ReplayBackend is "redis".
	RedisAddress  string `json:"redis_address"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`

	// Operational settings
	Verbose bool `json:"verbose"`
}

// Validate validates the verifier configuration.
func (c *VerifierConfig) Validate() error {
	var allErrors field.ErrorList

	if c.GuardianSetFile == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("guardianSetFile"), "guardian set file is required"))
	}

	switch c.ReplayBackend {
	case ReplayBackendMemory:
	case ReplayBackendBadger:
		if c.ReplayDataPath == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("replayDataPath"), "data path is required for the badger backend"))
		}
	case ReplayBackendRedis:
		if c.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("redisAddress"), "redis address is required for the redis backend"))
		}
		if c.RedisDB < 0 || c.RedisDB > 15 {
			allErrors = append(allErrors, field.Invalid(field.NewPath("redisDB"), c.RedisDB, "must be between 0 and 15"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("replayBackend"), string(c.ReplayBackend),
			[]string{string(ReplayBackendMemory), string(ReplayBackendBadger), string(ReplayBackendRedis)}))
	}

	switch c.ReplayStrategy {
	case ReplayStrategySequence, ReplayStrategyHash:
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("replayStrategy"), string(c.ReplayStrategy),
			[]string{string(ReplayStrategySequence), string(ReplayStrategyHash)}))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// SupportedReplayBackendsString returns the supported backends for CLI help.
func SupportedReplayBackendsString() string {
	return fmt.Sprintf("%s, %s, %s", ReplayBackendMemory, ReplayBackendBadger, ReplayBackendRedis)
}
