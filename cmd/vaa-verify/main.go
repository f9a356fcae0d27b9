package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/crosslane/vaa-go/pkg/config"
	"github.com/crosslane/vaa-go/pkg/guardian"
	"github.com/crosslane/vaa-go/pkg/logger"
	"github.com/crosslane/vaa-go/pkg/replay"
	badgerguard "github.com/crosslane/vaa-go/pkg/replay/badger"
	memoryguard "github.com/crosslane/vaa-go/pkg/replay/memory"
	redisguard "github.com/crosslane/vaa-go/pkg/replay/redis"
	"github.com/crosslane/vaa-go/pkg/verify"
)

func main() {
	app := &cli.App{
		Name:  "vaa-verify",
		Usage: "Verify a signed cross-chain attestation (VAA) offline",
		Description: `Decodes a VAA, verifies its guardian signature quorum against a known
set of guardian sets, and records consumption in a replay guard.

The guardian set file is a JSON array of objects with "index", "keys"
(guardian addresses) and "expirationTime" (unix seconds, 0 = never).`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "vaa",
				Usage:    "hex-encoded VAA bytes (0x-prefixed), or @path to a file containing them",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "guardian-set-file",
				Aliases:  []string{"g"},
				Usage:    "JSON file with the known guardian sets",
				EnvVars:  []string{config.EnvVAAGuardianSetFile},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "replay-backend",
				Usage:   fmt.Sprintf("replay guard backend: %s", config.SupportedReplayBackendsString()),
				Value:   string(config.ReplayBackendMemory),
				EnvVars: []string{config.EnvVAAReplayBackend},
			},
			&cli.StringFlag{
				Name:    "replay-strategy",
				Usage:   "replay protection keying: sequence (finalized messages only) or hash",
				Value:   string(config.ReplayStrategySequence),
			},
			&cli.StringFlag{
				Name:    "replay-data-path",
				Usage:   "on-disk path for the badger replay guard",
				EnvVars: []string{config.EnvVAAReplayDataPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "redis address (host:port) for the redis replay guard",
				EnvVars: []string{config.EnvVAARedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "redis password",
				EnvVars: []string{config.EnvVAARedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "redis database number (0-15)",
				EnvVars: []string{config.EnvVAARedisDB},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvVAAVerbose},
			},
		},
		Action: runVerify,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runVerify(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	cfg := &config.VerifierConfig{
		GuardianSetFile: c.String("guardian-set-file"),
		ReplayBackend:   config.ReplayBackend(c.String("replay-backend")),
		ReplayStrategy:  config.ReplayStrategy(c.String("replay-strategy")),
		ReplayDataPath:  c.String("replay-data-path"),
		RedisAddress:    c.String("redis-address"),
		RedisPassword:   c.String("redis-password"),
		RedisDB:         c.Int("redis-db"),
		Verbose:         c.Bool("verbose"),
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	data, err := readVAABytes(c.String("vaa"))
	if err != nil {
		return fmt.Errorf("failed to read VAA bytes: %w", err)
	}

	registry, err := loadRegistry(cfg.GuardianSetFile)
	if err != nil {
		return fmt.Errorf("failed to load guardian sets: %w", err)
	}

	guard, err := newReplayGuard(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to create replay guard: %w", err)
	}
	defer func() { _ = guard.Close() }()

	verifier := verify.NewVerifier(registry, l)

	result, err := verifier.DecodeAndVerify(data)
	if err != nil {
		return fmt.Errorf("verification rejected: %w", err)
	}

	v := result.VAA
	l.Info("VAA verified",
		zap.String("messageID", v.MessageID()),
		zap.Uint32("guardianSetIndex", result.GuardianSetIndex),
		zap.Bool("usedFallback", result.UsedFallback),
		zap.Int("signatures", len(v.Signatures)),
		zap.Uint8("consistencyLevel", v.ConsistencyLevel),
		zap.Int("payloadLength", len(v.Payload)),
	)

	ctx := context.Background()
	switch cfg.ReplayStrategy {
	case config.ReplayStrategySequence:
		err = guard.ReplayProtect(ctx, v.EmitterChain, v.EmitterAddress, v.Sequence)
	case config.ReplayStrategyHash:
		err = guard.ReplayProtectHash(ctx, v.BodyDigest())
	}
	if err != nil {
		if err == replay.ErrAlreadyProcessed {
			return fmt.Errorf("VAA %s: %w", v.MessageID(), err)
		}
		return fmt.Errorf("failed to record consumption: %w", err)
	}

	l.Info("VAA consumed", zap.String("messageID", v.MessageID()))
	return nil
}

// readVAABytes accepts either a hex string or @path to a file holding one.
func readVAABytes(arg string) ([]byte, error) {
	if strings.HasPrefix(arg, "@") {
		raw, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, err
		}
		arg = strings.TrimSpace(string(raw))
	}

	if !strings.HasPrefix(arg, "0x") {
		arg = "0x" + arg
	}
	return hexutil.Decode(arg)
}

// loadRegistry reads the guardian set file into a static registry.
func loadRegistry(path string) (*guardian.StaticRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var sets []*guardian.Set
	if err := json.Unmarshal(raw, &sets); err != nil {
		return nil, fmt.Errorf("failed to parse guardian set file %s: %w", path, err)
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("guardian set file %s contains no sets", path)
	}

	return guardian.NewStaticRegistry(sets...), nil
}

// newReplayGuard constructs the configured replay guard backend.
func newReplayGuard(cfg *config.VerifierConfig, l *zap.Logger) (replay.Guard, error) {
	switch cfg.ReplayBackend {
	case config.ReplayBackendMemory:
		return memoryguard.NewMemoryGuard(), nil
	case config.ReplayBackendBadger:
		return badgerguard.NewBadgerGuard(cfg.ReplayDataPath, l)
	case config.ReplayBackendRedis:
		return redisguard.NewRedisGuard(&redisguard.RedisConfig{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, l)
	default:
		return nil, fmt.Errorf("unsupported replay backend: %s", cfg.ReplayBackend)
	}
}
