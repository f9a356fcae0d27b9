package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/crosslane/vaa-go/pkg/replay"
	"github.com/crosslane/vaa-go/pkg/vaa"
)

// Key prefixes for namespacing
const (
	keyPrefixBitmap  = "bitmap:"
	keyPrefixHash    = "consumed:"
	keySchemaVersion = "metadata:schema_version"

	currentSchemaVersion = "v1"
)

// maxConflictRetries bounds retries of the read-modify-write transaction
// when concurrent consumers collide on the same bitmap slot.
const maxConflictRetries = 16

// BadgerGuard is a durable replay guard backed by Badger. Transactions
// give the serializable read-modify-write both strategies require: of two
// racing consumers, one commits and the other either sees the bit set or
// retries on conflict and then sees it.
type BadgerGuard struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

var _ replay.Guard = (*BadgerGuard)(nil)

// NewBadgerGuard opens a Badger-backed replay guard at dataPath.
// SyncWrites is enabled: a lost marker would allow a double spend, so
// every write is fsynced. A background goroutine runs value log GC.
func NewBadgerGuard(dataPath string, logger *zap.Logger) (*BadgerGuard, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bg := &BadgerGuard{
		db:     db,
		logger: logger,
	}

	if err := bg.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bg.gcCancel = cancel
	bg.gcWg.Add(1)
	go bg.runGC(ctx)

	logger.Sugar().Infow("Badger replay guard initialized", "path", absPath)

	return bg, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerGuard) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}

		return nil
	})
}

// runGC runs periodic value log garbage collection in the background
func (b *BadgerGuard) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && err != badgerdb.ErrNoRewrite {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func bitmapKey(emitterKey common.Hash, slot uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%d", keyPrefixBitmap, emitterKey.Hex(), slot))
}

func hashKey(hash common.Hash) []byte {
	return []byte(keyPrefixHash + hash.Hex())
}

// ReplayProtect marks (chain, emitter, sequence) as consumed in the
// emitter's bitmap, failing with replay.ErrAlreadyProcessed if the bit is
// already set.
func (b *BadgerGuard) ReplayProtect(ctx context.Context, chain uint16, emitter vaa.Address, sequence uint64) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("replay guard is closed")
	}

	slot, bit := replay.BitmapPosition(sequence)
	key := bitmapKey(replay.EmitterKey(chain, emitter), slot)

	update := func(txn *badgerdb.Txn) error {
		var bits [replay.SlotLen]byte

		item, err := txn.Get(key)
		if err != nil && err != badgerdb.ErrKeyNotFound {
			return err
		}
		if err == nil {
			err = item.Value(func(val []byte) error {
				if len(val) != replay.SlotLen {
					return fmt.Errorf("invalid bitmap slot length: %d", len(val))
				}
				copy(bits[:], val)
				return nil
			})
			if err != nil {
				return err
			}
		}

		if replay.SetBit(bits[:], bit) {
			return replay.ErrAlreadyProcessed
		}

		return txn.Set(key, bits[:])
	}

	return b.runUpdate(ctx, update)
}

// ReplayProtectHash marks the canonical single hash as consumed, failing
// with replay.ErrAlreadyProcessed if it already was.
func (b *BadgerGuard) ReplayProtectHash(ctx context.Context, hash common.Hash) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("replay guard is closed")
	}

	key := hashKey(hash)

	update := func(txn *badgerdb.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return replay.ErrAlreadyProcessed
		}
		if err != badgerdb.ErrKeyNotFound {
			return err
		}

		return txn.Set(key, []byte{1})
	}

	return b.runUpdate(ctx, update)
}

// runUpdate runs a read-modify-write transaction, retrying on Badger's
// optimistic-concurrency conflicts so that a race between two consumers
// resolves to exactly one success and one ErrAlreadyProcessed.
func (b *BadgerGuard) runUpdate(ctx context.Context, fn func(txn *badgerdb.Txn) error) error {
	for i := 0; i < maxConflictRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := b.db.Update(fn)
		if err != badgerdb.ErrConflict {
			return err
		}
	}

	return fmt.Errorf("replay marker transaction kept conflicting after %d attempts", maxConflictRetries)
}

// Close shuts down the replay guard. Idempotent.
func (b *BadgerGuard) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger replay guard closed")
	return nil
}

// HealthCheck verifies the underlying database is operational.
func (b *BadgerGuard) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("replay guard is closed")
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
