package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/crosslane/vaa-go/pkg/replay"
	"github.com/crosslane/vaa-go/pkg/vaa"
)

// MemoryGuard is an in-memory replay guard. All markers are lost when the
// process exits; intended for testing. Thread-safe.
type MemoryGuard struct {
	mu sync.Mutex

	// bitmap slots: emitter key -> slot -> slot bits
	slots map[common.Hash]map[uint64]*[replay.SlotLen]byte

	// hash-keyed flags
	hashes map[common.Hash]struct{}

	closed bool
}

var _ replay.Guard = (*MemoryGuard)(nil)

// NewMemoryGuard creates an empty in-memory replay guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		slots:  make(map[common.Hash]map[uint64]*[replay.SlotLen]byte),
		hashes: make(map[common.Hash]struct{}),
	}
}

// ReplayProtect marks (chain, emitter, sequence) as consumed.
func (m *MemoryGuard) ReplayProtect(_ context.Context, chain uint16, emitter vaa.Address, sequence uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("replay guard is closed")
	}

	key := replay.EmitterKey(chain, emitter)
	slot, bit := replay.BitmapPosition(sequence)

	emitterSlots, ok := m.slots[key]
	if !ok {
		emitterSlots = make(map[uint64]*[replay.SlotLen]byte)
		m.slots[key] = emitterSlots
	}

	bits, ok := emitterSlots[slot]
	if !ok {
		bits = new([replay.SlotLen]byte)
		emitterSlots[slot] = bits
	}

	if replay.SetBit(bits[:], bit) {
		return replay.ErrAlreadyProcessed
	}
	return nil
}

// ReplayProtectHash marks the canonical single hash as consumed.
func (m *MemoryGuard) ReplayProtectHash(_ context.Context, hash common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("replay guard is closed")
	}

	if _, ok := m.hashes[hash]; ok {
		return replay.ErrAlreadyProcessed
	}
	m.hashes[hash] = struct{}{}
	return nil
}

// Close shuts down the guard. Idempotent.
func (m *MemoryGuard) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}
